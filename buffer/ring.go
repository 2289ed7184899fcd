package buffer

import (
	"errors"
	"fmt"
)

var (
	ErrRingOverflow  = errors.New("mcnet: ring buffer overflow")
	ErrRingUnderflow = errors.New("mcnet: ring buffer underflow")
)

// Ring fixed capacity FIFO byte ring, both cursors wrap modulo capacity.
// The storage is owned by the caller (normally a connection arena) so a
// ring can not be destroyed on its own. Not safe for concurrent use.
type Ring struct {
	buf   []byte
	read  int // 读游标
	write int // 写游标
	size  int // 可读字节数
}

// NewRing create ring over storage, capacity is len(storage)
func NewRing(storage []byte) *Ring {
	if len(storage) == 0 {
		panic("mcnet: ring storage is empty")
	}
	return &Ring{buf: storage}
}

// Ring.Len readable bytes
func (r *Ring) Len() int {
	return r.size
}

// Ring.Cap capacity
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Ring.Free writable bytes
func (r *Ring) Free() int {
	return len(r.buf) - r.size
}

// Ring.Reset drop all bytes
func (r *Ring) Reset() {
	r.read = 0
	r.write = 0
	r.size = 0
}

func (r *Ring) wrap(pos int) int {
	if pos >= len(r.buf) {
		return pos - len(r.buf)
	}
	return pos
}

// Ring.Write append p, a write past the free space is a sizing error and panics
func (r *Ring) Write(p []byte) (int, error) {
	if len(p) > r.Free() {
		panic(fmt.Errorf("%w: write %v bytes, free %v, capacity %v", ErrRingOverflow, len(p), r.Free(), len(r.buf)))
	}
	n := copy(r.buf[r.write:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}
	r.write = r.wrap(r.write + len(p))
	r.size += len(p)
	return len(p), nil
}

// Ring.WriteByte append one byte
func (r *Ring) WriteByte(b byte) error {
	if r.Free() < 1 {
		panic(fmt.Errorf("%w: write 1 byte, capacity %v", ErrRingOverflow, len(r.buf)))
	}
	r.buf[r.write] = b
	r.write = r.wrap(r.write + 1)
	r.size++
	return nil
}

// Ring.Reserve writable regions of min(n, Free()) bytes at the write cursor,
// nothing becomes readable until Commit
func (r *Ring) Reserve(n int) Regions {
	if n > r.Free() {
		n = r.Free()
	}
	return r.span(r.write, n)
}

// Ring.Commit make n reserved bytes readable
func (r *Ring) Commit(n int) {
	if n > r.Free() {
		panic(fmt.Errorf("%w: commit %v bytes, free %v", ErrRingOverflow, n, r.Free()))
	}
	r.write = r.wrap(r.write + n)
	r.size += n
}

// Ring.Unwrite drop the last n written bytes
func (r *Ring) Unwrite(n int) {
	if n > r.size {
		panic(fmt.Errorf("%w: unwrite %v bytes, size %v", ErrRingUnderflow, n, r.size))
	}
	r.write -= n
	if r.write < 0 {
		r.write += len(r.buf)
	}
	r.size -= n
}

// Ring.Unread move the read cursor back n bytes, the bytes must not have been overwritten
func (r *Ring) Unread(n int) {
	if n > r.Free() {
		panic(fmt.Errorf("%w: unread %v bytes, free %v", ErrRingOverflow, n, r.Free()))
	}
	r.read -= n
	if r.read < 0 {
		r.read += len(r.buf)
	}
	r.size += n
}

// Ring.Skip discard n readable bytes
func (r *Ring) Skip(n int) {
	if n > r.size {
		panic(fmt.Errorf("%w: skip %v bytes, size %v", ErrRingUnderflow, n, r.size))
	}
	r.read = r.wrap(r.read + n)
	r.size -= n
}

// Ring.PeekByte byte at off from the read cursor
func (r *Ring) PeekByte(off int) (byte, bool) {
	if off < 0 || off >= r.size {
		return 0, false
	}
	return r.buf[r.wrap(r.read+off)], true
}

// Ring.PeekTo copy readable bytes into dst without consuming them
func (r *Ring) PeekTo(dst []byte) int {
	n := len(dst)
	if n > r.size {
		n = r.size
	}
	return r.span(r.read, n).CopyTo(dst)
}

// Ring.Peek copy of the first n readable bytes
func (r *Ring) Peek(n int) []byte {
	if n > r.size {
		n = r.size
	}
	b := make([]byte, n)
	r.PeekTo(b)
	return b
}

// Ring.ReadTo consume into dst
func (r *Ring) ReadTo(dst []byte) int {
	n := r.PeekTo(dst)
	r.Skip(n)
	return n
}

// Ring.Read consume n bytes
func (r *Ring) Read(n int) []byte {
	b := r.Peek(n)
	r.Skip(len(b))
	return b
}

// Ring.ReadByte consume one byte
func (r *Ring) ReadByte() (byte, error) {
	if r.size == 0 {
		return 0, ErrRingUnderflow
	}
	b := r.buf[r.read]
	r.Skip(1)
	return b, nil
}

// Ring.Regions readable bytes [start, start+n) relative to the read cursor
func (r *Ring) Regions(start, n int) Regions {
	if start < 0 || n < 0 || start+n > r.size {
		panic(fmt.Errorf("%w: regions [%v, %v) of %v bytes", ErrRingUnderflow, start, start+n, r.size))
	}
	return r.span(r.wrap(r.read+start), n)
}

func (r *Ring) span(pos, n int) Regions {
	if n == 0 {
		return Regions{}
	}
	end := pos + n
	if end <= len(r.buf) {
		return Regions{First: r.buf[pos:end:end]}
	}
	return Regions{First: r.buf[pos:], Second: r.buf[:end-len(r.buf)]}
}
