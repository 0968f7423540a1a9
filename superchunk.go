package caterva

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qri-io/caterva-go/internal/codec"
	"github.com/qri-io/caterva-go/internal/logging"
)

const (
	// MaxMetalayers bounds the metalayers of one SuperChunk.
	MaxMetalayers = 16
	// MaxMetalayerName is the longest metalayer name in bytes.
	MaxMetalayerName = 255
)

// ChunkInfo describes one stored chunk.
type ChunkInfo struct {
	CBytes  int
	NBytes  int
	Codec   Codec
	Memcpy  bool
	Filters []Filter
}

type metalayer struct {
	name    string
	content []byte
}

// SuperChunk is an ordered, append-only sequence of compressed chunks that
// all decompress to the same length. Reads may run concurrently; writes need
// a single writer.
type SuperChunk struct {
	mu      sync.RWMutex
	cparams CompressionParams
	dparams DecompressionParams

	chunks [][]byte
	// uncompressed length of every chunk, 0 until known
	chunkNBytes int
	nbytes      int64
	cbytes      int64
	metalayers  []metalayer
	freed       bool

	log *slog.Logger
}

// NewSuperChunk creates an empty SuperChunk.
func NewSuperChunk(cp CompressionParams, dp DecompressionParams) (*SuperChunk, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if dp.NThreads < 0 {
		return nil, fmt.Errorf("%w: negative nthreads %d", ErrInvalidParams, dp.NThreads)
	}
	return &SuperChunk{
		cparams: cp.clone(),
		dparams: dp,
		log:     logging.Component("superchunk"),
	}, nil
}

func (sc *SuperChunk) TypeSize() int { return sc.cparams.TypeSize }

func (sc *SuperChunk) CompressionParams() CompressionParams { return sc.cparams.clone() }

func (sc *SuperChunk) DecompressionParams() DecompressionParams { return sc.dparams }

func (sc *SuperChunk) NChunks() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.chunks)
}

// NBytes is the total uncompressed length of all chunks.
func (sc *SuperChunk) NBytes() int64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.nbytes
}

// CBytes is the total compressed length of all chunks.
func (sc *SuperChunk) CBytes() int64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cbytes
}

// ChunkInfo decodes the header of chunk i.
func (sc *SuperChunk) ChunkInfo(i int) (ChunkInfo, error) {
	c, err := sc.chunk(i)
	if err != nil {
		return ChunkInfo{}, err
	}
	h, err := codec.ParseHeader(c)
	if err != nil {
		return ChunkInfo{}, chunkErr("info", i, fmt.Errorf("%w: %w", ErrCodec, err))
	}
	info := ChunkInfo{CBytes: h.CBytes, NBytes: h.NBytes, Codec: h.Codec, Memcpy: h.Memcpy}
	for j, f := range h.Filters {
		if f != codec.NoFilter {
			info.Filters = append(info.Filters, Filter{ID: f, Meta: h.FiltersMeta[j]})
		}
	}
	return info, nil
}

// AppendBuffer compresses raw and appends it, returning the chunk index.
func (sc *SuperChunk) AppendBuffer(raw []byte) (int, error) {
	if err := sc.usable(); err != nil {
		return 0, err
	}
	c, err := sc.compress(raw, sc.cparams.threads())
	if err != nil {
		return 0, chunkErr("compress", sc.NChunks(), err)
	}
	return sc.commit(c)
}

// AppendChunk appends an already compressed chunk, returning its index.
func (sc *SuperChunk) AppendChunk(compressed []byte) (int, error) {
	if err := sc.usable(); err != nil {
		return 0, err
	}
	return sc.commit(bytes.Clone(compressed))
}

// DecompressChunk decodes chunk i into dst and returns the bytes written.
func (sc *SuperChunk) DecompressChunk(i int, dst []byte) (int, error) {
	return sc.decompress(i, dst, sc.dparams.threads())
}

// Free releases every chunk. Later calls fail with ErrUseAfterFree.
func (sc *SuperChunk) Free() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.freed {
		return ErrUseAfterFree
	}
	sc.freed = true
	sc.chunks = nil
	sc.metalayers = nil
	sc.nbytes, sc.cbytes = 0, 0
	return nil
}

func (sc *SuperChunk) usable() error {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.freed {
		return ErrUseAfterFree
	}
	return nil
}

func (sc *SuperChunk) compress(raw []byte, threads int) ([]byte, error) {
	c, err := codec.Compress(raw, sc.cparams.codecParams(threads))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	return c, nil
}

func (sc *SuperChunk) chunk(i int) ([]byte, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.freed {
		return nil, ErrUseAfterFree
	}
	if i < 0 || i >= len(sc.chunks) {
		return nil, fmt.Errorf("%w: chunk %d of %d", ErrInvalidRange, i, len(sc.chunks))
	}
	return sc.chunks[i], nil
}

func (sc *SuperChunk) decompress(i int, dst []byte, threads int) (int, error) {
	c, err := sc.chunk(i)
	if err != nil {
		return 0, err
	}
	n, err := codec.DecompressParallel(c, dst, threads)
	if err != nil {
		return 0, chunkErr("decompress", i, fmt.Errorf("%w: %w", ErrCodec, err))
	}
	return n, nil
}

// commit appends chunks in order. Either all of them become visible or none.
func (sc *SuperChunk) commit(chunks ...[]byte) (int, error) {
	headers := make([]codec.Header, len(chunks))
	for i, c := range chunks {
		h, err := codec.ParseHeader(c)
		if err != nil {
			return 0, chunkErr("commit", i, fmt.Errorf("%w: %w", ErrCodec, err))
		}
		if h.TypeSize != sc.cparams.TypeSize {
			return 0, chunkErr("commit", i, fmt.Errorf("%w: chunk typesize %d, want %d", ErrSizeMismatch, h.TypeSize, sc.cparams.TypeSize))
		}
		headers[i] = h
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.freed {
		return 0, ErrUseAfterFree
	}
	want := sc.chunkNBytes
	for i, h := range headers {
		if want == 0 && len(sc.chunks) == 0 {
			want = h.NBytes
		}
		if h.NBytes != want {
			return 0, chunkErr("commit", len(sc.chunks)+i, fmt.Errorf("%w: chunk holds %d bytes, want %d", ErrSizeMismatch, h.NBytes, want))
		}
	}
	first := len(sc.chunks)
	sc.chunkNBytes = want
	for i, c := range chunks {
		sc.chunks = append(sc.chunks, c)
		sc.nbytes += int64(headers[i].NBytes)
		sc.cbytes += int64(len(c))
	}
	sc.log.Debug("chunks committed", "first", first, "count", len(chunks), "cbytes", sc.cbytes)
	return first, nil
}

// replace swaps every chunk for a new set with a new chunk length.
func (sc *SuperChunk) replace(chunks [][]byte, chunkNBytes int) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.freed {
		return ErrUseAfterFree
	}
	sc.chunks = chunks
	sc.chunkNBytes = chunkNBytes
	sc.nbytes, sc.cbytes = 0, 0
	for _, c := range chunks {
		sc.nbytes += int64(chunkNBytes)
		sc.cbytes += int64(len(c))
	}
	return nil
}

// AddMetalayer attaches a named byte blob.
func (sc *SuperChunk) AddMetalayer(name string, content []byte) error {
	if err := checkMetalayerName(name); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.freed {
		return ErrUseAfterFree
	}
	if sc.metalayerIndex(name) >= 0 {
		return fmt.Errorf("%w: %q", ErrMetalayerExists, name)
	}
	if len(sc.metalayers) >= MaxMetalayers {
		return fmt.Errorf("%w: at most %d metalayers", ErrInvalidParams, MaxMetalayers)
	}
	sc.metalayers = append(sc.metalayers, metalayer{name: name, content: bytes.Clone(content)})
	return nil
}

// UpdateMetalayer replaces the content of an existing metalayer.
func (sc *SuperChunk) UpdateMetalayer(name string, content []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.freed {
		return ErrUseAfterFree
	}
	i := sc.metalayerIndex(name)
	if i < 0 {
		return fmt.Errorf("%w: metalayer %q", ErrNotfound, name)
	}
	sc.metalayers[i].content = bytes.Clone(content)
	return nil
}

// Metalayer returns a copy of the named metalayer's content.
func (sc *SuperChunk) Metalayer(name string) ([]byte, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.freed {
		return nil, ErrUseAfterFree
	}
	i := sc.metalayerIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: metalayer %q", ErrNotfound, name)
	}
	return bytes.Clone(sc.metalayers[i].content), nil
}

// Metalayers lists metalayer names in insertion order.
func (sc *SuperChunk) Metalayers() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	names := make([]string, len(sc.metalayers))
	for i, m := range sc.metalayers {
		names[i] = m.name
	}
	return names
}

func (sc *SuperChunk) metalayerIndex(name string) int {
	for i, m := range sc.metalayers {
		if m.name == name {
			return i
		}
	}
	return -1
}

func checkMetalayerName(name string) error {
	if name == "" || len(name) > MaxMetalayerName {
		return fmt.Errorf("%w: metalayer name must be 1 to %d bytes", ErrInvalidParams, MaxMetalayerName)
	}
	return nil
}
