package common

import (
	"fmt"

	"github.com/huoshan017/mcnet/packet"
	"github.com/huoshan017/mcnet/protocol"
)

type DecodeFunc func(r *packet.Reader) (any, error)
type HandleFunc func(c *Conn, msg any) error

type dispatchEntry struct {
	decode DecodeFunc
	handle HandleFunc
}

// Dispatcher (state, packet id) table, ids are reused with different
// meanings in every state so each state owns its own row
type Dispatcher struct {
	table [protocol.StateClosed][protocol.MaxPacketID]*dispatchEntry
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func checkSlot(state protocol.State, id int32) bool {
	return state.IsValid() && id >= 0 && id < protocol.MaxPacketID
}

// Dispatcher.RegisterHandle install decoder and handler, a later call replaces the entry
func (d *Dispatcher) RegisterHandle(state protocol.State, id int32, decode DecodeFunc, handle HandleFunc) {
	if !checkSlot(state, id) {
		panic(fmt.Sprintf("mcnet: dispatch slot (%v, 0x%02x) out of range", state, id))
	}
	if decode == nil || handle == nil {
		panic("mcnet: dispatch decode and handle must not be nil")
	}
	d.table[state][id] = &dispatchEntry{decode: decode, handle: handle}
}

// Dispatcher.Unregister remove entry
func (d *Dispatcher) Unregister(state protocol.State, id int32) {
	if checkSlot(state, id) {
		d.table[state][id] = nil
	}
}

// Dispatcher.Has entry exists
func (d *Dispatcher) Has(state protocol.State, id int32) bool {
	return d.lookup(state, id) != nil
}

func (d *Dispatcher) Lookup(state protocol.State, id int32) (DecodeFunc, HandleFunc, bool) {
	e := d.lookup(state, id)
	if e == nil {
		return nil, nil, false
	}
	return e.decode, e.handle, true
}

func (d *Dispatcher) lookup(state protocol.State, id int32) *dispatchEntry {
	if !checkSlot(state, id) {
		return nil
	}
	return d.table[state][id]
}

// Dispatcher.Dispatch decode r and run the handler of (state, id). A missing
// entry returns handled false and no error, the packet is skipped.
func (d *Dispatcher) Dispatch(c *Conn, state protocol.State, id int32, r *packet.Reader) (bool, error) {
	e := d.lookup(state, id)
	if e == nil {
		return false, nil
	}
	msg, err := e.decode(r)
	if err != nil {
		return true, err
	}
	return true, e.handle(c, msg)
}

// Register typed registration, T is the payload struct decoded through *T
func Register[T any, PT interface {
	*T
	protocol.Inbound
}](d *Dispatcher, state protocol.State, id int32, handle func(c *Conn, p PT) error) {
	d.RegisterHandle(state, id,
		func(r *packet.Reader) (any, error) {
			p := PT(new(T))
			if err := p.Decode(r); err != nil {
				return nil, err
			}
			return p, nil
		},
		func(c *Conn, msg any) error {
			return handle(c, msg.(PT))
		})
}
