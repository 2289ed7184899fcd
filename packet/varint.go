package packet

import (
	"errors"
	"io"
)

const (
	MaxVarIntLen  = 5
	MaxVarLongLen = 10
)

var (
	ErrVarIntTooBig  = errors.New("mcnet: varint is too big")
	ErrVarLongTooBig = errors.New("mcnet: varlong is too big")
	ErrVarIntShort   = errors.New("mcnet: varint is incomplete")
)

// VarIntSize encoded length of v
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// PutVarInt encode v into dst which must hold VarIntSize(v) bytes
func PutVarInt(dst []byte, v int32) int {
	u := uint32(v)
	i := 0
	for u >= 0x80 {
		dst[i] = byte(u) | 0x80
		u >>= 7
		i++
	}
	dst[i] = byte(u)
	return i + 1
}

// AppendVarInt append encoded v to dst
func AppendVarInt(dst []byte, v int32) []byte {
	var b [MaxVarIntLen]byte
	n := PutVarInt(b[:], v)
	return append(dst, b[:n]...)
}

// DecodeVarInt decode from the head of b, returns value and consumed bytes
func DecodeVarInt(b []byte) (int32, int, error) {
	var u uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrVarIntShort
		}
		c := b[i]
		u |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return int32(u), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooBig
}

// ByteAtReader random access source, implemented by the ring buffer
type ByteAtReader interface {
	PeekByte(off int) (byte, bool)
}

// PeekVarInt decode a varint at off of r without consuming it
func PeekVarInt(r ByteAtReader, off int) (int32, int, error) {
	var u uint32
	for i := 0; i < MaxVarIntLen; i++ {
		c, ok := r.PeekByte(off + i)
		if !ok {
			return 0, 0, ErrVarIntShort
		}
		u |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return int32(u), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooBig
}

// ReadVarInt read varint from a byte reader
func ReadVarInt(r io.ByteReader) (int32, error) {
	var u uint32
	for i := 0; i < MaxVarIntLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, ErrVarIntShort
			}
			return 0, err
		}
		u |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return int32(u), nil
		}
	}
	return 0, ErrVarIntTooBig
}

// WriteVarInt write varint to a byte writer
func WriteVarInt(w io.ByteWriter, v int32) error {
	u := uint32(v)
	for u >= 0x80 {
		if err := w.WriteByte(byte(u) | 0x80); err != nil {
			return err
		}
		u >>= 7
	}
	return w.WriteByte(byte(u))
}

// VarLongSize encoded length of v
func VarLongSize(v int64) int {
	u := uint64(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// AppendVarLong append encoded v to dst
func AppendVarLong(dst []byte, v int64) []byte {
	u := uint64(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// DecodeVarLong decode from the head of b
func DecodeVarLong(b []byte) (int64, int, error) {
	var u uint64
	for i := 0; i < MaxVarLongLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrVarIntShort
		}
		c := b[i]
		u |= uint64(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return int64(u), i + 1, nil
		}
	}
	return 0, 0, ErrVarLongTooBig
}
