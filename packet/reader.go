package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrShortPayload   = errors.New("mcnet: payload too short")
	ErrStringTooLong  = errors.New("mcnet: string too long")
	ErrInvalidString  = errors.New("mcnet: string is not valid utf-8")
	ErrNegativeLength = errors.New("mcnet: negative length")
)

// Reader payload reader over a byte slice, the first error sticks and
// every later read returns zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Reader.Reset reuse reader for b
func (r *Reader) Reset(b []byte) {
	r.buf = b
	r.off = 0
	r.err = nil
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Reader.Rest the unread bytes, consumed
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.fail(ErrNegativeLength)
		return nil
	}
	if r.Remaining() < n {
		r.fail(fmt.Errorf("%w: need %v bytes, left %v", ErrShortPayload, n, r.Remaining()))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) VarInt() int32 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeVarInt(r.buf[r.off:])
	if err != nil {
		if err == ErrVarIntShort {
			err = ErrShortPayload
		}
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) VarLong() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeVarLong(r.buf[r.off:])
	if err != nil {
		if err == ErrVarIntShort {
			err = ErrShortPayload
		}
		r.fail(err)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) Byte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

func (r *Reader) Uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Int32() int32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) Int64() int64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// Reader.Bytes n raw bytes, aliasing the source
func (r *Reader) Bytes(n int) []byte {
	return r.next(n)
}

// Reader.ByteArray varint length prefixed bytes of at most max bytes
func (r *Reader) ByteArray(max int) []byte {
	n := int(r.VarInt())
	if r.err != nil {
		return nil
	}
	if max > 0 && n > max {
		r.fail(fmt.Errorf("%w: byte array length %v, max %v", ErrStringTooLong, n, max))
		return nil
	}
	return r.next(n)
}

// Reader.String varint length prefixed utf-8 string of at most max characters
func (r *Reader) String(max int) string {
	n := int(r.VarInt())
	if r.err != nil {
		return ""
	}
	// 每个字符最多4个字节
	if max > 0 && n > max*4 {
		r.fail(fmt.Errorf("%w: %v bytes, max %v characters", ErrStringTooLong, n, max))
		return ""
	}
	b := r.next(n)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail(ErrInvalidString)
		return ""
	}
	if max > 0 && utf8.RuneCount(b) > max {
		r.fail(fmt.Errorf("%w: max %v characters", ErrStringTooLong, max))
		return ""
	}
	return string(b)
}

func (r *Reader) UUID() (u [16]byte) {
	b := r.next(16)
	if b != nil {
		copy(u[:], b)
	}
	return
}
