package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/qri-io/caterva-go/internal/workpool"
)

const (
	// HeaderSize is the fixed prefix of every compressed chunk.
	HeaderSize = 32
	// DefaultBlockSize is the block length used when Params.BlockSize is 0.
	DefaultBlockSize = 256 << 10

	formatVersion = 1

	flagMemcpy  = 0x1
	flagUseDict = 0x2
)

// Params configures Compress.
type Params struct {
	Codec ID
	// Level 0 stores the chunk uncompressed; 1-9 trade speed for ratio.
	Level    int
	UseDict  bool
	TypeSize int
	// NThreads bounds the goroutines compressing blocks of one chunk.
	NThreads  int
	BlockSize int

	Filters     [MaxFilters]FilterID
	FiltersMeta [MaxFilters]uint8
}

// Validate checks p without compressing anything.
func (p Params) Validate() error {
	if !Supported(p.Codec) {
		return fmt.Errorf("%w: id %d", ErrUnsupportedCodec, uint8(p.Codec))
	}
	if p.Level < 0 || p.Level > 9 {
		return fmt.Errorf("%w: level %d not in [0, 9]", ErrInvalidParams, p.Level)
	}
	if p.TypeSize < 1 || p.TypeSize > math.MaxUint8 {
		return fmt.Errorf("%w: typesize %d not in [1, 255]", ErrInvalidParams, p.TypeSize)
	}
	if p.BlockSize < 0 {
		return fmt.Errorf("%w: negative blocksize %d", ErrInvalidParams, p.BlockSize)
	}
	reordered := false
	for i, f := range p.Filters {
		if err := checkFilter(f, p.FiltersMeta[i], p.TypeSize); err != nil {
			return err
		}
		switch f {
		case Shuffle, BitShuffle, Delta:
			reordered = true
		case TruncPrec:
			if reordered {
				return fmt.Errorf("%w: truncprec must run before byte reordering filters", ErrUnsupportedFilter)
			}
		}
	}
	return nil
}

// Header is the decoded fixed prefix of a compressed chunk.
type Header struct {
	Version     uint8
	Codec       ID
	Memcpy      bool
	UseDict     bool
	TypeSize    int
	NBytes      int
	BlockSize   int
	CBytes      int
	NBlocks     int
	Level       int
	Filters     [MaxFilters]FilterID
	FiltersMeta [MaxFilters]uint8
}

func (h Header) encode(dst []byte) {
	dst[0] = formatVersion
	dst[1] = byte(h.Codec)
	var flags byte
	if h.Memcpy {
		flags |= flagMemcpy
	}
	if h.UseDict {
		flags |= flagUseDict
	}
	dst[2] = flags
	dst[3] = byte(h.TypeSize)
	binary.LittleEndian.PutUint32(dst[4:], uint32(h.NBytes))
	binary.LittleEndian.PutUint32(dst[8:], uint32(h.BlockSize))
	binary.LittleEndian.PutUint32(dst[12:], uint32(h.CBytes))
	binary.LittleEndian.PutUint32(dst[16:], uint32(h.NBlocks))
	for i := 0; i < MaxFilters; i++ {
		dst[20+i] = byte(h.Filters[i])
		dst[25+i] = h.FiltersMeta[i]
	}
	dst[30] = byte(h.Level)
	dst[31] = 0
}

// ParseHeader decodes and sanity checks the header of a compressed chunk.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(src))
	}
	h := Header{
		Version:   src[0],
		Codec:     ID(src[1]),
		Memcpy:    src[2]&flagMemcpy != 0,
		UseDict:   src[2]&flagUseDict != 0,
		TypeSize:  int(src[3]),
		NBytes:    int(binary.LittleEndian.Uint32(src[4:])),
		BlockSize: int(binary.LittleEndian.Uint32(src[8:])),
		CBytes:    int(binary.LittleEndian.Uint32(src[12:])),
		NBlocks:   int(binary.LittleEndian.Uint32(src[16:])),
		Level:     int(src[30]),
	}
	for i := 0; i < MaxFilters; i++ {
		h.Filters[i] = FilterID(src[20+i])
		h.FiltersMeta[i] = src[25+i]
	}

	switch {
	case h.Version != formatVersion:
		return h, fmt.Errorf("%w: version %d", ErrCorrupt, h.Version)
	case !Supported(h.Codec):
		return h, fmt.Errorf("%w: id %d", ErrUnsupportedCodec, uint8(h.Codec))
	case h.TypeSize == 0:
		return h, fmt.Errorf("%w: zero typesize", ErrCorrupt)
	case h.CBytes != len(src):
		return h, fmt.Errorf("%w: header says %d bytes, have %d", ErrCorrupt, h.CBytes, len(src))
	}
	for i, f := range h.Filters {
		if err := checkFilter(f, h.FiltersMeta[i], h.TypeSize); err != nil {
			return h, err
		}
	}
	if h.Memcpy {
		if h.CBytes != HeaderSize+h.NBytes {
			return h, fmt.Errorf("%w: raw chunk length %d for %d bytes", ErrCorrupt, h.CBytes, h.NBytes)
		}
		return h, nil
	}
	if h.BlockSize == 0 || h.NBlocks != ceilDiv(h.NBytes, h.BlockSize) {
		return h, fmt.Errorf("%w: %d blocks of %d for %d bytes", ErrCorrupt, h.NBlocks, h.BlockSize, h.NBytes)
	}
	if HeaderSize+4*h.NBlocks > h.CBytes {
		return h, fmt.Errorf("%w: block table truncated", ErrCorrupt)
	}
	return h, nil
}

// Compress encodes src as a self describing chunk.
func Compress(src []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(src) > math.MaxUint32-HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the chunk limit", ErrInvalidParams, len(src))
	}

	h := Header{
		Codec:       p.Codec,
		UseDict:     p.UseDict,
		TypeSize:    p.TypeSize,
		NBytes:      len(src),
		Level:       p.Level,
		Filters:     p.Filters,
		FiltersMeta: p.FiltersMeta,
	}
	if p.Level == 0 || len(src) == 0 {
		return storeRaw(h, src), nil
	}

	h.BlockSize = blockSize(p.BlockSize, p.TypeSize, len(src))
	h.NBlocks = ceilDiv(len(src), h.BlockSize)

	blocks, err := workpool.Map(context.Background(), h.NBlocks, p.NThreads, func(_ context.Context, i int) ([]byte, error) {
		start := i * h.BlockSize
		end := min(start+h.BlockSize, len(src))
		return compressBlock(src[start:end], p)
	})
	if err != nil {
		return nil, err
	}

	total := HeaderSize + 4*h.NBlocks
	for _, b := range blocks {
		total += 4 + len(b)
	}
	if total >= HeaderSize+len(src) {
		return storeRaw(h, src), nil
	}

	h.CBytes = total
	out := make([]byte, total)
	h.encode(out)
	off := HeaderSize + 4*h.NBlocks
	for i, b := range blocks {
		binary.LittleEndian.PutUint32(out[HeaderSize+4*i:], uint32(off))
		binary.LittleEndian.PutUint32(out[off:], uint32(len(b)))
		off += 4
		off += copy(out[off:], b)
	}
	return out, nil
}

func storeRaw(h Header, src []byte) []byte {
	h.Memcpy = true
	h.BlockSize = len(src)
	h.NBlocks = 0
	h.CBytes = HeaderSize + len(src)
	out := make([]byte, h.CBytes)
	h.encode(out)
	copy(out[HeaderSize:], src)
	return out
}

// compressBlock filters then compresses one block. A block that does not
// shrink is returned unfiltered and at its raw length, which is how the
// decoder recognizes it.
func compressBlock(block []byte, p Params) ([]byte, error) {
	filtered := block
	var scratch []byte
	for i, f := range p.Filters {
		if f == NoFilter {
			continue
		}
		out := getBuffer(len(block))
		forward(f, p.FiltersMeta[i], p.TypeSize, out, filtered)
		if scratch != nil {
			releaseBuffer(scratch)
		}
		scratch, filtered = out, out
	}
	if scratch != nil {
		defer releaseBuffer(scratch)
	}

	out, err := backends[p.Codec].compress(filtered, p.Level)
	if errors.Is(err, errIncompressible) || (err == nil && len(out) >= len(block)) {
		raw := make([]byte, len(block))
		copy(raw, block)
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Decompress decodes src into dst and returns the number of bytes written.
func Decompress(src, dst []byte) (int, error) {
	return DecompressParallel(src, dst, 1)
}

// DecompressParallel is Decompress with blocks decoded on up to nthreads
// goroutines.
func DecompressParallel(src, dst []byte, nthreads int) (int, error) {
	h, err := ParseHeader(src)
	if err != nil {
		return 0, err
	}
	if len(dst) < h.NBytes {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, h.NBytes, len(dst))
	}
	if h.Memcpy {
		return copy(dst, src[HeaderSize:]), nil
	}

	err = workpool.Each(context.Background(), h.NBlocks, nthreads, func(_ context.Context, i int) error {
		start := i * h.BlockSize
		end := min(start+h.BlockSize, h.NBytes)
		block, err := blockPayload(src, h, i)
		if err != nil {
			return err
		}
		return decompressBlock(block, dst[start:end], h)
	})
	if err != nil {
		return 0, err
	}
	return h.NBytes, nil
}

func blockPayload(src []byte, h Header, i int) ([]byte, error) {
	off := int(binary.LittleEndian.Uint32(src[HeaderSize+4*i:]))
	if off < HeaderSize+4*h.NBlocks || off+4 > len(src) {
		return nil, fmt.Errorf("%w: block %d offset %d out of range", ErrCorrupt, i, off)
	}
	n := int(binary.LittleEndian.Uint32(src[off:]))
	off += 4
	if n > len(src)-off {
		return nil, fmt.Errorf("%w: block %d length %d out of range", ErrCorrupt, i, n)
	}
	return src[off : off+n], nil
}

func decompressBlock(block, dst []byte, h Header) error {
	if len(block) == len(dst) {
		copy(dst, block)
		return nil
	}

	filtered := dst
	last := -1
	for i := MaxFilters - 1; i >= 0; i-- {
		if h.Filters[i] != NoFilter && h.Filters[i] != TruncPrec {
			last = i
			break
		}
	}
	if last >= 0 {
		filtered = getBuffer(len(dst))
		defer releaseBuffer(filtered)
	}
	if err := backends[h.Codec].decompress(block, filtered); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if last < 0 {
		return nil
	}

	tmp := getBuffer(len(dst))
	defer releaseBuffer(tmp)
	cur := filtered
	for i := last; i >= 0; i-- {
		f := h.Filters[i]
		if f == NoFilter || f == TruncPrec {
			continue
		}
		backward(f, h.TypeSize, tmp, cur)
		cur, tmp = tmp, cur
	}
	copy(dst, cur)
	return nil
}

func blockSize(requested, typeSize, n int) int {
	bs := requested
	if bs == 0 {
		bs = DefaultBlockSize
	}
	if bs > n {
		bs = n
	}
	if bs >= typeSize {
		bs -= bs % typeSize
	}
	if bs < 1 {
		bs = 1
	}
	return bs
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
