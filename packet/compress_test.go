package packet

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/huoshan017/mcnet/buffer"
)

var letters = []byte("abcdefghijklmnopqrstuvwxyz01234567890~!@#$%^&*()_+-={}[]|:;'<>?/.,")

func randBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return b
}

func testCompressionContext(ctx *CompressionContext, t *testing.T) {
	out := buffer.NewBuffer(0)
	defer out.Release()
	for i := 0; i < 50; i++ {
		bs := randBytes(rand.Intn(4096) + 1)

		out.Reset()
		if err := ctx.Compress(out, bs); err != nil {
			t.Fatalf("%v compress err: %v", ctx.Type(), err)
		}

		od := make([]byte, len(bs))
		if err := ctx.Decompress(od, out.Bytes()); err != nil {
			t.Fatalf("%v decompress err: %v", ctx.Type(), err)
		}
		if !bytes.Equal(od, bs) {
			t.Fatalf("%v compare failed", ctx.Type())
		}
	}
}

func TestZlibCompressionContext(t *testing.T) {
	ctx, err := NewCompressionContext(CompressZlib, DefaultCompressThreshold)
	if err != nil {
		t.Fatalf("create zlib context err %v", err)
	}
	defer ctx.Close()
	testCompressionContext(ctx, t)
}

func TestSnappyCompressionContext(t *testing.T) {
	ctx, err := NewCompressionContext(CompressSnappy, DefaultCompressThreshold)
	if err != nil {
		t.Fatalf("create snappy context err %v", err)
	}
	defer ctx.Close()
	testCompressionContext(ctx, t)
}

func TestDecompressSizeMismatch(t *testing.T) {
	for _, typ := range []CompressType{CompressZlib, CompressSnappy} {
		ctx, err := NewCompressionContext(typ, DefaultCompressThreshold)
		if err != nil {
			t.Fatalf("create %v context err %v", typ, err)
		}
		bs := randBytes(1000)
		out := buffer.NewBuffer(0)
		if err = ctx.Compress(out, bs); err != nil {
			t.Fatalf("%v compress err %v", typ, err)
		}

		small := make([]byte, len(bs)-1)
		if err = ctx.Decompress(small, out.Bytes()); !errors.Is(err, ErrDecompressSize) {
			t.Errorf("%v decompress into smaller buffer err %v", typ, err)
		}
		large := make([]byte, len(bs)+1)
		if err = ctx.Decompress(large, out.Bytes()); !errors.Is(err, ErrDecompressSize) {
			t.Errorf("%v decompress into larger buffer err %v", typ, err)
		}
		// the stream is still usable after a failed packet
		exact := make([]byte, len(bs))
		if err = ctx.Decompress(exact, out.Bytes()); err != nil || !bytes.Equal(exact, bs) {
			t.Errorf("%v decompress after mismatch err %v", typ, err)
		}
		out.Release()
		ctx.Close()
	}
}

func TestCompressThreshold(t *testing.T) {
	ctx, _ := NewCompressionContext(CompressZlib, 256)
	defer ctx.Close()
	if ctx.ShouldCompress(255) {
		t.Errorf("255 bytes is below threshold")
	}
	if !ctx.ShouldCompress(256) {
		t.Errorf("256 bytes is at threshold")
	}
	if _, err := NewCompressionContext(CompressNone, 0); !errors.Is(err, ErrCompressTypeInvalid) {
		t.Errorf("none compress type err %v", err)
	}
}
