package buffer

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"
)

var letters = []byte("abcdefghijklmnopqrstuvwxyz01234567890~!@#$%^&*()_+-={}[]|:;'<>?/.,")

func randBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return b
}

func TestRingFIFO(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ring := NewRing(make([]byte, 97))

	var written, read bytes.Buffer
	for i := 0; i < 10000; i++ {
		if n := r.Intn(ring.Free() + 1); n > 0 {
			b := randBytes(r, n)
			ring.Write(b)
			written.Write(b)
		}
		if n := r.Intn(ring.Len() + 1); n > 0 {
			read.Write(ring.Read(n))
		}
	}
	read.Write(ring.Read(ring.Len()))

	if written.Len() <= ring.Cap() {
		t.Fatalf("written %v bytes, no wraparound happened", written.Len())
	}
	if !bytes.Equal(written.Bytes(), read.Bytes()) {
		t.Errorf("ring read bytes not equal to written bytes")
	}
	if ring.Len() != 0 || ring.Free() != ring.Cap() {
		t.Errorf("ring not empty after reading everything: len %v free %v", ring.Len(), ring.Free())
	}
}

func TestRingRegions(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	ring := NewRing(make([]byte, 64))

	// move the cursors so the readable bytes cross the end of storage
	ring.Write(make([]byte, 50))
	ring.Skip(50)
	data := randBytes(r, 40)
	ring.Write(data)

	whole := ring.Regions(0, ring.Len())
	if whole.Count() != 2 {
		t.Fatalf("expect 2 spans for wrapped ring, got %v", whole.Count())
	}

	for start := 0; start <= len(data); start++ {
		for n := 0; start+n <= len(data); n++ {
			rs := ring.Regions(start, n)
			if rs.Len() != n {
				t.Fatalf("regions(%v, %v) length %v", start, n, rs.Len())
			}
			got := make([]byte, n)
			rs.CopyTo(got)
			if !bytes.Equal(got, data[start:start+n]) {
				t.Fatalf("regions(%v, %v) bytes %q, expect %q", start, n, got, data[start:start+n])
			}
			if len(rs.First) > 0 && len(rs.Second) > 0 {
				if &rs.First[len(rs.First)-1] != &ring.buf[len(ring.buf)-1] || &rs.Second[0] != &ring.buf[0] {
					t.Fatalf("regions(%v, %v) spans are not split at the wrap point", start, n)
				}
			}
		}
	}
}

func TestRingReserveCommit(t *testing.T) {
	ring := NewRing(make([]byte, 16))
	ring.Write([]byte("0123456789"))
	ring.Skip(8)

	rs := ring.Reserve(100)
	if rs.Len() != ring.Free() {
		t.Fatalf("reserve length %v, free %v", rs.Len(), ring.Free())
	}
	if ring.Len() != 2 {
		t.Fatalf("reserve must not change readable length, got %v", ring.Len())
	}
	rs.CopyFrom([]byte("abcdefghij"))
	ring.Commit(10)
	ring.Unwrite(3)

	if got := string(ring.Read(ring.Len())); got != "89abcdefg" {
		t.Errorf("read %q after commit and unwrite", got)
	}
}

func TestRingUnread(t *testing.T) {
	ring := NewRing(make([]byte, 8))
	ring.Write([]byte("abcdef"))
	ring.Skip(4)
	ring.Write([]byte("ghij"))

	first := ring.Read(3)
	ring.Unread(3)
	if again := ring.Read(3); !bytes.Equal(first, again) {
		t.Errorf("unread then read got %q, expect %q", again, first)
	}
	if b, ok := ring.PeekByte(0); !ok || b != 'h' {
		t.Errorf("peek byte %q %v", b, ok)
	}
}

func TestRingOverflowPanics(t *testing.T) {
	ring := NewRing(make([]byte, 8))
	ring.Write([]byte("1234"))
	defer func() {
		err, _ := recover().(error)
		if !errors.Is(err, ErrRingOverflow) {
			t.Errorf("expect overflow panic, got %v", err)
		}
	}()
	ring.Write([]byte("12345"))
}

func TestBufferGrow(t *testing.T) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := NewBuffer(8)
	defer b.Release()

	var expect []byte
	for i := 0; i < 100; i++ {
		d := randBytes(r, r.Intn(300))
		b.Write(d)
		expect = append(expect, d...)
	}
	if !bytes.Equal(b.Bytes(), expect) {
		t.Fatalf("buffer bytes not equal after growing")
	}
	if b.Regions(0, b.Len()).Count() > 1 {
		t.Errorf("dynamic buffer regions must be one span")
	}
	b.Unwrite(10)
	if b.Len() != len(expect)-10 {
		t.Errorf("unwrite length %v", b.Len())
	}
}
