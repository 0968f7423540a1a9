// Package codec compresses and decompresses single chunks.
//
// A compressed chunk is self describing: a fixed header records the codec,
// filter pipeline, item size and lengths, followed by a table of block
// offsets and the blocks themselves. Blocks are independent, so a chunk can be
// compressed or decompressed on several goroutines.
//
//	compressed, err := codec.Compress(raw, codec.Params{Codec: codec.LZ4, Level: 5, TypeSize: 8})
//	n, err := codec.Decompress(compressed, dst)
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ID identifies a compression codec. Values are stored in chunk headers and
// must not change.
type ID uint8

const (
	LZ4    ID = 1
	LZ4HC  ID = 2
	Snappy ID = 3
	Zlib   ID = 4
	Zstd   ID = 5
	Gzip   ID = 6
)

var (
	// ErrCorrupt reports a malformed or truncated compressed chunk.
	ErrCorrupt = errors.New("codec: corrupt chunk")
	// ErrUnsupportedCodec reports an unknown codec id or name.
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")
	// ErrUnsupportedFilter reports an unknown filter id or a filter that
	// cannot run on the configured item size.
	ErrUnsupportedFilter = errors.New("codec: unsupported filter")
	// ErrInvalidParams reports parameters outside their valid range.
	ErrInvalidParams = errors.New("codec: invalid parameters")
	// ErrShortBuffer reports a destination smaller than the chunk.
	ErrShortBuffer = errors.New("codec: destination buffer too small")

	errIncompressible = errors.New("codec: incompressible block")
)

var codecNames = map[ID]string{
	LZ4:    "lz4",
	LZ4HC:  "lz4hc",
	Snappy: "snappy",
	Zlib:   "zlib",
	Zstd:   "zstd",
	Gzip:   "gzip",
}

func (id ID) String() string {
	if s, ok := codecNames[id]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(id))
}

// ParseID maps a codec name to its id.
func ParseID(s string) (ID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id, name := range codecNames {
		if name == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
}

func (id ID) MarshalText() ([]byte, error) {
	if _, ok := codecNames[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, uint8(id))
	}
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	v, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// backend is a block compressor. compress returns errIncompressible when the
// output would not be smaller than the input; decompress must fill dst
// exactly.
type backend struct {
	compress   func(src []byte, level int) ([]byte, error)
	decompress func(src, dst []byte) error
}

var backends = map[ID]backend{
	LZ4:    {compress: lz4Compress, decompress: lz4Decompress},
	LZ4HC:  {compress: lz4hcCompress, decompress: lz4Decompress},
	Snappy: {compress: snappyCompress, decompress: snappyDecompress},
	Zlib:   {compress: zlibCompress, decompress: zlibDecompress},
	Zstd:   {compress: zstdCompress, decompress: zstdDecompress},
	Gzip:   {compress: gzipCompress, decompress: gzipDecompress},
}

// Supported reports whether id has a backend.
func Supported(id ID) bool {
	_, ok := backends[id]
	return ok
}
