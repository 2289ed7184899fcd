package packet

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	pkgerrors "github.com/pkg/errors"

	"github.com/huoshan017/mcnet/buffer"
)

type CompressType int8

const (
	CompressNone   CompressType = iota
	CompressZlib   CompressType = 1
	CompressSnappy CompressType = 2
	CompressMax    CompressType = 3
)

const (
	DefaultCompressThreshold = 256
	MaxUncompressedLength    = 8 * 1024 * 1024
)

var (
	ErrDecompressSize      = errors.New("mcnet: decompressed size mismatch")
	ErrCompressTypeInvalid = errors.New("mcnet: compress type invalid")
)

func IsValidCompressType(typ CompressType) bool {
	if typ <= CompressNone || typ >= CompressMax {
		return false
	}
	return true
}

func (typ CompressType) String() string {
	switch typ {
	case CompressNone:
		return "none"
	case CompressZlib:
		return "zlib"
	case CompressSnappy:
		return "snappy"
	}
	return fmt.Sprintf("CompressType(%d)", int8(typ))
}

// ICompressor deflate side, output is appended to dst
type ICompressor interface {
	Compress(dst *buffer.Buffer, src []byte) error
	Close() error
}

// IDecompressor inflate side, dst is sized to the declared output length
// and must be filled exactly
type IDecompressor interface {
	Decompress(dst []byte, src []byte) error
	Close() error
}

type ZlibCompressor struct {
	writer *zlib.Writer
	closed bool
}

func NewZlibCompressor() *ZlibCompressor {
	return &ZlibCompressor{
		writer: zlib.NewWriter(io.Discard),
	}
}

func (c *ZlibCompressor) Compress(dst *buffer.Buffer, src []byte) error {
	if c.closed {
		return pkgerrors.New("mcnet: zlib compressor closed")
	}
	start := dst.Len()
	c.writer.Reset(dst)
	if _, err := c.writer.Write(src); err != nil {
		dst.Truncate(start)
		return pkgerrors.Wrap(err, "mcnet: zlib deflate")
	}
	if err := c.writer.Close(); err != nil {
		dst.Truncate(start)
		return pkgerrors.Wrap(err, "mcnet: zlib deflate finish")
	}
	return nil
}

func (c *ZlibCompressor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.writer.Reset(io.Discard)
	return nil
}

type ZlibDecompressor struct {
	reader io.ReadCloser
	src    bytes.Reader
}

func NewZlibDecompressor() *ZlibDecompressor {
	return &ZlibDecompressor{}
}

func (c *ZlibDecompressor) Decompress(dst []byte, src []byte) error {
	c.src.Reset(src)
	if c.reader == nil {
		r, err := zlib.NewReader(&c.src)
		if err != nil {
			return pkgerrors.Wrap(err, "mcnet: zlib inflate header")
		}
		c.reader = r
	} else if err := c.reader.(zlib.Resetter).Reset(&c.src, nil); err != nil {
		return pkgerrors.Wrap(err, "mcnet: zlib inflate header")
	}

	n, err := io.ReadFull(c.reader, dst)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return fmt.Errorf("%w: got %v bytes, declared %v", ErrDecompressSize, n, len(dst))
		}
		return pkgerrors.Wrap(err, "mcnet: zlib inflate")
	}
	// 输出必须恰好填满dst
	var one [1]byte
	for {
		m, err := c.reader.Read(one[:])
		if m > 0 {
			return fmt.Errorf("%w: output longer than declared %v", ErrDecompressSize, len(dst))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(err, "mcnet: zlib inflate")
		}
	}
}

func (c *ZlibDecompressor) Close() error {
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	return err
}

type SnappyCompressor struct {
}

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(dst *buffer.Buffer, src []byte) error {
	max := snappy.MaxEncodedLen(len(src))
	if max < 0 {
		return pkgerrors.New("mcnet: snappy source too large")
	}
	rs := dst.Reserve(max)
	out := snappy.Encode(rs.First, src)
	dst.Commit(len(out))
	return nil
}

func (c *SnappyCompressor) Close() error {
	return nil
}

type SnappyDecompressor struct {
}

func NewSnappyDecompressor() *SnappyDecompressor {
	return &SnappyDecompressor{}
}

func (c *SnappyDecompressor) Decompress(dst []byte, src []byte) error {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return pkgerrors.Wrap(err, "mcnet: snappy header")
	}
	if n != len(dst) {
		return fmt.Errorf("%w: snappy length %v, declared %v", ErrDecompressSize, n, len(dst))
	}
	if _, err = snappy.Decode(dst, src); err != nil {
		return pkgerrors.Wrap(err, "mcnet: snappy decode")
	}
	return nil
}

func (c *SnappyDecompressor) Close() error {
	return nil
}

// CompressionContext one deflate and one inflate stream of a connection,
// both reset between packets instead of being recreated
type CompressionContext struct {
	typ          CompressType
	threshold    int
	compressor   ICompressor
	decompressor IDecompressor
}

func NewCompressionContext(typ CompressType, threshold int) (*CompressionContext, error) {
	ctx := &CompressionContext{typ: typ, threshold: threshold}
	switch typ {
	case CompressZlib:
		ctx.compressor = NewZlibCompressor()
		ctx.decompressor = NewZlibDecompressor()
	case CompressSnappy:
		ctx.compressor = NewSnappyCompressor()
		ctx.decompressor = NewSnappyDecompressor()
	default:
		return nil, fmt.Errorf("%w: %v", ErrCompressTypeInvalid, typ)
	}
	return ctx, nil
}

func (ctx *CompressionContext) Type() CompressType {
	return ctx.typ
}

func (ctx *CompressionContext) Threshold() int {
	return ctx.threshold
}

// CompressionContext.ShouldCompress payload of n bytes goes out compressed
func (ctx *CompressionContext) ShouldCompress(n int) bool {
	return n >= ctx.threshold
}

func (ctx *CompressionContext) Compress(dst *buffer.Buffer, src []byte) error {
	return ctx.compressor.Compress(dst, src)
}

func (ctx *CompressionContext) Decompress(dst []byte, src []byte) error {
	return ctx.decompressor.Decompress(dst, src)
}

func (ctx *CompressionContext) Close() error {
	err := ctx.compressor.Close()
	if e := ctx.decompressor.Close(); err == nil {
		err = e
	}
	return err
}
