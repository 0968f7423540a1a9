package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/qri-io/dataset/compression"
)

// format name understood by qri-io/dataset/compression
const gzipFormat = "gzip"

func lz4Compress(src []byte, _ int) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// lz4hcCompress maps levels 1-9 onto the lz4 search depths Level1-Level9.
func lz4hcCompress(src []byte, level int) ([]byte, error) {
	depth := lz4.Level1 << uint(clampLevel(level)-1)
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlockHC(src, dst, depth, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4hc compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func lz4Decompress(src, dst []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != len(dst) {
		return fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, len(dst))
	}
	return nil
}

func snappyCompress(src []byte, _ int) ([]byte, error) {
	out := snappy.Encode(nil, src)
	if len(out) >= len(src) {
		return nil, errIncompressible
	}
	return out, nil
}

func snappyDecompress(src, dst []byte) error {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return fmt.Errorf("snappy decompress: %w", err)
	}
	if n != len(dst) {
		return fmt.Errorf("snappy decompress: got %d bytes, expected %d", n, len(dst))
	}
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return fmt.Errorf("snappy decompress: %w", err)
	}
	copy(dst, out)
	return nil
}

func zlibCompress(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, clampLevel(level))
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	if buf.Len() >= len(src) {
		return nil, errIncompressible
	}
	return buf.Bytes(), nil
}

func zlibDecompress(src, dst []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("zlib reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	return readExactly(r, dst, "zlib")
}

// zstd encoders are safe for concurrent EncodeAll calls; one is kept per
// encoder level.
var (
	zstdEncoders sync.Map // zstd.EncoderLevel -> *zstd.Encoder

	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

func zstdEncoder(level int) (*zstd.Encoder, error) {
	l := zstd.EncoderLevelFromZstd(clampLevel(level) * 2)
	if e, ok := zstdEncoders.Load(l); ok {
		return e.(*zstd.Encoder), nil
	}
	e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(l), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	actual, loaded := zstdEncoders.LoadOrStore(l, e)
	if loaded {
		_ = e.Close()
	}
	return actual.(*zstd.Encoder), nil
}

func zstdCompress(src []byte, level int) ([]byte, error) {
	e, err := zstdEncoder(level)
	if err != nil {
		return nil, err
	}
	out := e.EncodeAll(src, nil)
	if len(out) >= len(src) {
		return nil, errIncompressible
	}
	return out, nil
}

func zstdDecompress(src, dst []byte) error {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	if zstdDecoderErr != nil {
		return fmt.Errorf("zstd decoder: %w", zstdDecoderErr)
	}
	out, err := zstdDecoder.DecodeAll(src, make([]byte, 0, len(dst)))
	if err != nil {
		return fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), len(dst))
	}
	copy(dst, out)
	return nil
}

// bufferCloser lets a bytes.Buffer stand in wherever a closable writer is
// expected.
type bufferCloser struct {
	*bytes.Buffer
}

func (bufferCloser) Close() error { return nil }

// gzip has no level knob through qri-io/dataset/compression; level is ignored.
func gzipCompress(src []byte, _ int) ([]byte, error) {
	buf := bufferCloser{Buffer: &bytes.Buffer{}}
	w, err := compression.Compressor(gzipFormat, buf)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	if buf.Len() >= len(src) {
		return nil, errIncompressible
	}
	return buf.Bytes(), nil
}

func gzipDecompress(src, dst []byte) error {
	r, err := compression.Decompressor(gzipFormat, io.NopCloser(bytes.NewReader(src)))
	if err != nil {
		return fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	return readExactly(r, dst, "gzip")
}

// readExactly fills dst from r and checks that the stream ends there.
func readExactly(r io.Reader, dst []byte, name string) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("%s decompress: %w", name, err)
	}
	var probe [1]byte
	if n, _ := r.Read(probe[:]); n != 0 {
		return fmt.Errorf("%s decompress: stream longer than %d bytes", name, len(dst))
	}
	return nil
}

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 9 {
		return 9
	}
	return level
}
