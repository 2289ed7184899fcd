package buffer

import (
	"github.com/huoshan017/mcnet/pool"
)

const (
	DefaultBufferSize = 256
)

// Buffer dynamic byte buffer, grows by 1.5x and never wraps. Used as codec
// scratch, can be released explicitly to give its storage back to the pool.
type Buffer struct {
	pbuf *[]byte
	buf  []byte
	n    int
}

// NewBuffer create buffer with initial capacity
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	b := &Buffer{}
	b.pbuf = pool.GetBuffPool().Alloc(int32(capacity))
	b.buf = *b.pbuf
	return b
}

// Buffer.Len written bytes
func (b *Buffer) Len() int {
	return b.n
}

// Buffer.Cap capacity
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Buffer.Bytes written bytes, valid until the next write
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Buffer.Reset drop written bytes and keep storage
func (b *Buffer) Reset() {
	b.n = 0
}

// Buffer.Truncate keep the first n bytes
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > b.n {
		panic("mcnet: buffer truncate out of range")
	}
	b.n = n
}

// Buffer.Unwrite drop the last n bytes
func (b *Buffer) Unwrite(n int) {
	b.Truncate(b.n - n)
}

func (b *Buffer) grow(need int) {
	if b.n+need <= len(b.buf) {
		return
	}
	newCap := len(b.buf)
	if newCap == 0 {
		newCap = DefaultBufferSize
	}
	for newCap < b.n+need {
		newCap += newCap / 2
	}
	pbuf := pool.GetBuffPool().Alloc(int32(newCap))
	copy(*pbuf, b.buf[:b.n])
	if b.pbuf != nil {
		pool.GetBuffPool().Free(b.pbuf)
	}
	b.pbuf = pbuf
	b.buf = *pbuf
}

// Buffer.Write append p
func (b *Buffer) Write(p []byte) (int, error) {
	b.grow(len(p))
	copy(b.buf[b.n:], p)
	b.n += len(p)
	return len(p), nil
}

// Buffer.WriteByte append one byte
func (b *Buffer) WriteByte(c byte) error {
	b.grow(1)
	b.buf[b.n] = c
	b.n++
	return nil
}

// Buffer.WriteString append s
func (b *Buffer) WriteString(s string) (int, error) {
	b.grow(len(s))
	copy(b.buf[b.n:], s)
	b.n += len(s)
	return len(s), nil
}

// Buffer.Reserve writable region of n bytes after the written bytes, made part of the buffer by Commit
func (b *Buffer) Reserve(n int) Regions {
	b.grow(n)
	return Regions{First: b.buf[b.n : b.n+n : b.n+n]}
}

// Buffer.Commit append n reserved bytes
func (b *Buffer) Commit(n int) {
	if b.n+n > len(b.buf) {
		panic("mcnet: buffer commit past reserved region")
	}
	b.n += n
}

// Buffer.Regions written bytes [start, start+n), always one span
func (b *Buffer) Regions(start, n int) Regions {
	if start < 0 || n < 0 || start+n > b.n {
		panic("mcnet: buffer regions out of range")
	}
	return Regions{First: b.buf[start : start+n : start+n]}
}

// Buffer.Release give storage back to the pool, the buffer is empty afterwards
func (b *Buffer) Release() {
	if b.pbuf != nil {
		pool.GetBuffPool().Free(b.pbuf)
	}
	b.pbuf = nil
	b.buf = nil
	b.n = 0
}
