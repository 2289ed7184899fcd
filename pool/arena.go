package pool

import (
	"errors"
	"fmt"
)

const (
	DefaultArenaChunkSize = 4 * 1024
)

var (
	ErrArenaExhausted = errors.New("mcnet: arena exhausted")
)

// Mark arena checkpoint returned by Save
type Mark struct {
	chunk  int
	offset int
	used   int
}

type arenaChunk struct {
	buf    *[]byte
	offset int
}

// Arena bump allocator with save/restore checkpoints. Memory comes in
// chunks from the BufferPool; allocations are only given back by Free of
// the latest bytes or by restoring a mark. Not safe for concurrent use.
type Arena struct {
	chunkSize int
	max       int          // 最大可分配字节数，0为不限制
	chunks    []arenaChunk // 已分配的块
	current   int          // 当前块
	used      int          // 已分配字节数
}

// NewArena create arena, max <= 0 means unbounded
func NewArena(chunkSize, max int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultArenaChunkSize
	}
	return &Arena{
		chunkSize: chunkSize,
		max:       max,
	}
}

// Arena.Alloc returns n zeroed bytes valid until restored past or released
func (a *Arena) Alloc(n int) []byte {
	if n < 0 {
		panic(fmt.Sprintf("mcnet: arena alloc negative size %v", n))
	}
	if a.max > 0 && a.used+n > a.max {
		panic(fmt.Errorf("%w: used %v, request %v, max %v", ErrArenaExhausted, a.used, n, a.max))
	}
	if n == 0 {
		return nil
	}
	for a.current < len(a.chunks) {
		c := &a.chunks[a.current]
		if len(*c.buf)-c.offset >= n {
			b := (*c.buf)[c.offset : c.offset+n : c.offset+n]
			c.offset += n
			a.used += n
			clear(b)
			return b
		}
		// 当前块剩余空间不够，后面的块在Restore后是空的
		if a.current+1 < len(a.chunks) && len(*a.chunks[a.current+1].buf) >= n {
			a.current++
			continue
		}
		break
	}
	size := a.chunkSize
	if n > size {
		size = n
	}
	buf := GetBuffPool().Alloc(int32(size))
	// chunks after current are empty and smaller than n, keep order simple by inserting after current
	chunk := arenaChunk{buf: buf, offset: n}
	if len(a.chunks) == 0 {
		a.chunks = append(a.chunks, chunk)
		a.current = 0
	} else {
		idx := a.current + 1
		a.chunks = append(a.chunks, arenaChunk{})
		copy(a.chunks[idx+1:], a.chunks[idx:])
		a.chunks[idx] = chunk
		a.current = idx
	}
	a.used += n
	b := (*buf)[:n:n]
	clear(b)
	return b
}

// Arena.Free gives back the last n bytes of the current chunk
func (a *Arena) Free(n int) {
	if len(a.chunks) == 0 || n <= 0 {
		return
	}
	c := &a.chunks[a.current]
	if n > c.offset {
		n = c.offset
	}
	c.offset -= n
	a.used -= n
}

// Arena.Save checkpoint
func (a *Arena) Save() Mark {
	if len(a.chunks) == 0 {
		return Mark{}
	}
	return Mark{chunk: a.current, offset: a.chunks[a.current].offset, used: a.used}
}

// Arena.Restore rolls every allocation after the mark back
func (a *Arena) Restore(m Mark) {
	if len(a.chunks) == 0 {
		return
	}
	for i := m.chunk + 1; i < len(a.chunks); i++ {
		a.chunks[i].offset = 0
	}
	if m.chunk < len(a.chunks) {
		a.chunks[m.chunk].offset = m.offset
	}
	a.current = m.chunk
	a.used = m.used
}

// Arena.Used allocated bytes
func (a *Arena) Used() int {
	return a.used
}

// Arena.Release return all chunks to the pool
func (a *Arena) Release() {
	for i := range a.chunks {
		GetBuffPool().Free(a.chunks[i].buf)
		a.chunks[i].buf = nil
	}
	a.chunks = nil
	a.current = 0
	a.used = 0
}
