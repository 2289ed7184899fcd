package packet

import (
	"encoding/binary"

	"github.com/huoshan017/mcnet/buffer"
)

// Writer payload writer appending to a dynamic buffer
type Writer struct {
	buf *buffer.Buffer
}

func NewWriter(buf *buffer.Buffer) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) Buffer() *buffer.Buffer {
	return w.buf
}

func (w *Writer) VarInt(v int32) {
	var b [MaxVarIntLen]byte
	n := PutVarInt(b[:], v)
	w.buf.Write(b[:n])
}

func (w *Writer) VarLong(v int64) {
	var b [MaxVarLongLen]byte
	w.buf.Write(AppendVarLong(b[:0], v))
}

func (w *Writer) Byte(v byte) {
	w.buf.WriteByte(v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) Int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *Writer) Int64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *Writer) Bytes(b []byte) {
	w.buf.Write(b)
}

func (w *Writer) ByteArray(b []byte) {
	w.VarInt(int32(len(b)))
	w.buf.Write(b)
}

func (w *Writer) String(s string) {
	w.VarInt(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) UUID(u [16]byte) {
	w.buf.Write(u[:])
}
