package caterva

import (
	"errors"
	"fmt"

	"github.com/qri-io/caterva-go/internal/codec"
)

// Codec identifies a compression codec.
type Codec = codec.ID

const (
	CodecLZ4    = codec.LZ4
	CodecLZ4HC  = codec.LZ4HC
	CodecSnappy = codec.Snappy
	CodecZlib   = codec.Zlib
	CodecZstd   = codec.Zstd
	CodecGzip   = codec.Gzip
)

// FilterID identifies a byte transform applied before compression.
type FilterID = codec.FilterID

const (
	FilterShuffle    = codec.Shuffle
	FilterBitShuffle = codec.BitShuffle
	FilterDelta      = codec.Delta
	// FilterTruncPrec is lossy: Meta is the number of mantissa bits kept.
	FilterTruncPrec = codec.TruncPrec
)

// MaxFilters bounds the length of a filter pipeline.
const MaxFilters = codec.MaxFilters

// ParseCodec maps a codec name such as "zstd" to its id.
func ParseCodec(name string) (Codec, error) { return codec.ParseID(name) }

// ParseFilter maps a filter name such as "shuffle" to its id.
func ParseFilter(name string) (FilterID, error) { return codec.ParseFilterID(name) }

// Filter is one stage of the filter pipeline.
type Filter struct {
	ID   FilterID `json:"id"`
	Meta uint8    `json:"meta,omitempty"`
}

// CompressionParams defines how chunks are compressed
type CompressionParams struct {
	Codec Codec `json:"codec"`
	// Level 0 stores chunks uncompressed.
	Level    int  `json:"level"`
	UseDict  bool `json:"use_dict,omitempty"`
	TypeSize int  `json:"typesize"`
	// NThreads bounds the workers of a single call.
	NThreads  int      `json:"nthreads"`
	BlockSize int      `json:"blocksize,omitempty"`
	Filters   []Filter `json:"filters,omitempty"`
}

// DefaultCompressionParams returns lz4 at level 5 with byte shuffle over
// 8 byte items on one thread.
func DefaultCompressionParams() CompressionParams {
	return CompressionParams{
		Codec:    CodecLZ4,
		Level:    5,
		TypeSize: 8,
		NThreads: 1,
		Filters:  []Filter{{ID: FilterShuffle}},
	}
}

// Validate reports every problem with p.
func (p CompressionParams) Validate() error {
	var errs []error
	if p.NThreads < 0 {
		errs = append(errs, fmt.Errorf("%w: negative nthreads %d", ErrInvalidParams, p.NThreads))
	}
	if len(p.Filters) > MaxFilters {
		errs = append(errs, fmt.Errorf("%w: %d filters, at most %d", ErrInvalidParams, len(p.Filters), MaxFilters))
	} else if err := p.codecParams(1).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidParams, err))
	}
	return errors.Join(errs...)
}

// codecParams converts p for a codec call running on threads goroutines.
func (p CompressionParams) codecParams(threads int) codec.Params {
	cp := codec.Params{
		Codec:     p.Codec,
		Level:     p.Level,
		UseDict:   p.UseDict,
		TypeSize:  p.TypeSize,
		NThreads:  threads,
		BlockSize: p.BlockSize,
	}
	for i, f := range p.Filters {
		if i == MaxFilters {
			break
		}
		cp.Filters[i] = f.ID
		cp.FiltersMeta[i] = f.Meta
	}
	return cp
}

func (p CompressionParams) threads() int {
	if p.NThreads < 1 {
		return 1
	}
	return p.NThreads
}

func (p CompressionParams) clone() CompressionParams {
	p.Filters = append([]Filter(nil), p.Filters...)
	return p
}

// DecompressionParams configures chunk decompression.
type DecompressionParams struct {
	NThreads int `json:"nthreads"`
}

func DefaultDecompressionParams() DecompressionParams {
	return DecompressionParams{NThreads: 1}
}

func (p DecompressionParams) threads() int {
	if p.NThreads < 1 {
		return 1
	}
	return p.NThreads
}
