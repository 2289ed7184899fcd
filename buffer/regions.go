package buffer

import "net"

// Regions a byte range of a buffer as at most two contiguous spans, the
// second one only exists when the range crosses the wrap point of a ring.
type Regions struct {
	First  []byte
	Second []byte
}

// Regions.Len total bytes of both spans
func (r Regions) Len() int {
	return len(r.First) + len(r.Second)
}

// Regions.Count number of non-empty spans
func (r Regions) Count() int {
	n := 0
	if len(r.First) > 0 {
		n++
	}
	if len(r.Second) > 0 {
		n++
	}
	return n
}

// Regions.Spans non-empty spans in order
func (r Regions) Spans() [][]byte {
	spans := make([][]byte, 0, 2)
	if len(r.First) > 0 {
		spans = append(spans, r.First)
	}
	if len(r.Second) > 0 {
		spans = append(spans, r.Second)
	}
	return spans
}

// Regions.Buffers spans as net.Buffers for vectored writes
func (r Regions) Buffers() net.Buffers {
	return net.Buffers(r.Spans())
}

// Regions.CopyTo copy span bytes to dst, returns copied length
func (r Regions) CopyTo(dst []byte) int {
	n := copy(dst, r.First)
	n += copy(dst[n:], r.Second)
	return n
}

// Regions.CopyFrom fill spans from src, returns copied length
func (r Regions) CopyFrom(src []byte) int {
	n := copy(r.First, src)
	n += copy(r.Second, src[n:])
	return n
}

// Regions.Slice sub range [off, off+n) of the regions
func (r Regions) Slice(off, n int) Regions {
	var s Regions
	if off < len(r.First) {
		end := off + n
		if end <= len(r.First) {
			s.First = r.First[off:end]
			return s
		}
		s.First = r.First[off:]
		s.Second = r.Second[:end-len(r.First)]
		return s
	}
	off -= len(r.First)
	s.First = r.Second[off : off+n]
	return s
}

// Regions.Bytes linear copy of the spans, no copy when there is one span
func (r Regions) Bytes() []byte {
	if len(r.Second) == 0 {
		return r.First
	}
	b := make([]byte, r.Len())
	r.CopyTo(b)
	return b
}
