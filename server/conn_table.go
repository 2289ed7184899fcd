package server

import (
	"errors"
	"sync"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/huoshan017/mcnet/common"
)

var (
	ErrConnTableFull = errors.New("mcnet: connection table is full")
)

const (
	slotBits = 32
	slotMask = 1<<slotBits - 1
)

// ConnTable fixed capacity connection slots. A connection id packs the
// slot index with the slot generation, an id never matches the connection
// that reuses its slot later.
type ConnTable struct {
	mu    sync.Mutex
	slots []*common.Conn
	gens  []uint32
	free  []int // 空闲槽位，栈
	count int
	names cmap.ConcurrentMap // 玩家名 -> *common.Conn
}

func NewConnTable(capacity int) *ConnTable {
	t := &ConnTable{
		slots: make([]*common.Conn, capacity),
		gens:  make([]uint32, capacity),
		free:  make([]int, capacity),
		names: cmap.New(),
	}
	for i := 0; i < capacity; i++ {
		t.free[i] = capacity - 1 - i
	}
	return t
}

func makeConnID(index int, gen uint32) uint64 {
	return uint64(gen)<<slotBits | uint64(index)
}

func splitConnID(id uint64) (int, uint32) {
	return int(id & slotMask), uint32(id >> slotBits)
}

// ConnTable.Add take a free slot and store the connection newConn builds for its id
func (t *ConnTable) Add(newConn func(id uint64) *common.Conn) (*common.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return nil, ErrConnTableFull
	}
	index := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.gens[index]++
	if t.gens[index] == 0 {
		t.gens[index] = 1
	}
	c := newConn(makeConnID(index, t.gens[index]))
	t.slots[index] = c
	t.count++
	return c, nil
}

func (t *ConnTable) Get(id uint64) *common.Conn {
	index, gen := splitConnID(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= len(t.slots) || t.gens[index] != gen {
		return nil
	}
	return t.slots[index]
}

// ConnTable.Remove free the slot of id, false when id is stale
func (t *ConnTable) Remove(id uint64) bool {
	index, gen := splitConnID(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= len(t.slots) || t.gens[index] != gen || t.slots[index] == nil {
		return false
	}
	t.slots[index] = nil
	t.free = append(t.free, index)
	t.count--
	return true
}

// ConnTable.Range visit live connections in slot order until fn returns
// false, fn must not change the table
func (t *ConnTable) Range(fn func(c *common.Conn) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.slots {
		if c != nil && !fn(c) {
			return
		}
	}
}

func (t *ConnTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *ConnTable) Cap() int {
	return len(t.slots)
}

// ConnTable.BindName index c by player name, false when the name is taken
func (t *ConnTable) BindName(name string, c *common.Conn) bool {
	return t.names.SetIfAbsent(name, c)
}

// ConnTable.UnbindName drop the index entry only if it still points to c
func (t *ConnTable) UnbindName(name string, c *common.Conn) {
	t.names.RemoveCb(name, func(key string, v interface{}, exists bool) bool {
		return exists && v.(*common.Conn) == c
	})
}

// ConnTable.Lookup connection of a logged in player, safe on any goroutine
func (t *ConnTable) Lookup(name string) *common.Conn {
	v, o := t.names.Get(name)
	if !o {
		return nil
	}
	return v.(*common.Conn)
}

func (t *ConnTable) NameCount() int {
	return t.names.Count()
}
