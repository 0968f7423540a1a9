// Package caterva stores N-dimensional arrays as a grid of equally shaped,
// individually compressed chunks.
//
// An Array is created empty, filled from a dense buffer or chunk by chunk,
// and read back whole or as strided hyper-rectangular slices without
// decompressing the chunks a slice does not touch. Chunk-aligned arrays can
// be combined element by element.
//
//	a, err := caterva.Create(caterva.Params{Shape: []int{4, 4}, ChunkShape: []int{2, 2}},
//		caterva.DefaultCompressionParams(), caterva.DefaultDecompressionParams())
//	err = a.FromBuffer(data)
//	s, err := a.GetSlice([]int{1, 1}, []int{3, 3}, nil)
//
// Items are opaque byte strings of ItemSize bytes stored in row-major order,
// last axis fastest; chunks are numbered the same way over the chunk grid.
// Edge chunks are padded with zero bytes.
package caterva

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/qri-io/caterva-go/internal/codec"
	"github.com/qri-io/caterva-go/internal/logging"
)

// Params describes the geometry of a new array.
type Params struct {
	Shape      []int
	ChunkShape []int
	// Dtype is optional. When set its ByteSize must equal the compression
	// type size.
	Dtype *Dtype
}

// Array is a chunked, compressed N-dimensional array. It owns exactly one
// SuperChunk.
type Array struct {
	ndim     int
	shape    dims
	chunk    dims
	padded   dims
	itemSize int
	dtype    *Dtype

	sc    *SuperChunk
	mode  PersistenceMode
	freed bool

	log *slog.Logger
}

// Create makes an empty array. Nothing is compressed until the array is
// filled.
func Create(p Params, cp CompressionParams, dp DecompressionParams) (*Array, error) {
	n := len(p.Shape)
	if n == 0 || n > MaxDim {
		return nil, fmt.Errorf("%w: %d axes, want 1 to %d", ErrInvalidDimension, n, MaxDim)
	}
	if len(p.ChunkShape) != n {
		return nil, fmt.Errorf("%w: %d chunk axes for %d shape axes", ErrInvalidShape, len(p.ChunkShape), n)
	}
	for i := 0; i < n; i++ {
		if p.Shape[i] < 0 {
			return nil, fmt.Errorf("%w: shape[%d] = %d", ErrInvalidShape, i, p.Shape[i])
		}
		if p.ChunkShape[i] <= 0 {
			return nil, fmt.Errorf("%w: chunk shape[%d] = %d", ErrInvalidShape, i, p.ChunkShape[i])
		}
	}
	if p.Dtype != nil && p.Dtype.ByteSize != cp.TypeSize {
		return nil, fmt.Errorf("%w: dtype %s does not match typesize %d", ErrInvalidShape, p.Dtype, cp.TypeSize)
	}
	return newArray(n, newDims(p.Shape), newDims(p.ChunkShape), cp, dp, p.Dtype)
}

func newArray(n int, shape, chunk dims, cp CompressionParams, dp DecompressionParams, dtype *Dtype) (*Array, error) {
	sc, err := NewSuperChunk(cp, dp)
	if err != nil {
		return nil, err
	}
	a := &Array{
		ndim:     n,
		shape:    shape,
		chunk:    chunk,
		itemSize: cp.TypeSize,
		sc:       sc,
		mode:     ModeReadWrite,
		log:      logging.Component("array"),
	}
	if dtype != nil {
		dt := *dtype
		a.dtype = &dt
	}
	for i := 0; i < n; i++ {
		a.padded[i] = ceilDiv(shape[i], chunk[i]) * chunk[i]
	}
	if _, err := checkedProd(a.padded, n, a.itemSize); err != nil {
		return nil, err
	}
	chunkBytes, err := checkedProd(chunk, n, a.itemSize)
	if err != nil {
		return nil, err
	}
	if chunkBytes > math.MaxUint32-codec.HeaderSize {
		return nil, fmt.Errorf("%w: chunk of %d bytes is too large", ErrInvalidShape, chunkBytes)
	}
	sc.chunkNBytes = chunkBytes
	return a, nil
}

func (a *Array) Dim() int { return a.ndim }

func (a *Array) Shape() []int { return a.shape.slice(a.ndim) }

func (a *Array) ChunkShape() []int { return a.chunk.slice(a.ndim) }

// PaddedShape is the shape rounded up to whole chunks.
func (a *Array) PaddedShape() []int { return a.padded.slice(a.ndim) }

// ChunkGrid is the number of chunks along each axis.
func (a *Array) ChunkGrid() []int { return a.grid().slice(a.ndim) }

// Size is the number of items in the array.
func (a *Array) Size() int { return a.shape.prod(a.ndim) }

// ChunkSize is the number of items in one chunk.
func (a *Array) ChunkSize() int { return a.chunk.prod(a.ndim) }

func (a *Array) PaddedSize() int { return a.padded.prod(a.ndim) }

func (a *Array) ChunkCount() int {
	if a.PaddedSize() == 0 {
		return 0
	}
	return a.PaddedSize() / a.ChunkSize()
}

func (a *Array) ItemSize() int { return a.itemSize }

// Dtype returns the array's item type, or nil for untyped arrays.
func (a *Array) Dtype() *Dtype {
	if a.dtype == nil {
		return nil
	}
	dt := *a.dtype
	return &dt
}

// SuperChunk exposes the compressed chunk store.
func (a *Array) SuperChunk() *SuperChunk { return a.sc }

// Filled reports whether every chunk has been written.
func (a *Array) Filled() bool {
	return !a.freed && a.sc.NChunks() == a.ChunkCount()
}

func (a *Array) Info() string {
	if a.freed {
		return "<caterva.Array freed>"
	}
	ratio := 0.0
	if cb := a.sc.CBytes(); cb > 0 {
		ratio = float64(a.sc.NBytes()) / float64(cb)
	}
	s := fmt.Sprintf("<caterva.Array shape=%v chunks=%v itemsize=%d", a.Shape(), a.ChunkShape(), a.itemSize)
	if a.dtype != nil {
		s += " dtype=" + a.dtype.String()
	}
	return s + fmt.Sprintf(" nchunks=%d/%d codec=%s ratio=%.2f>", a.sc.NChunks(), a.ChunkCount(), a.sc.cparams.Codec, ratio)
}

// Free releases the array's chunks. Every later call that reads, writes or
// persists items fails with ErrUseAfterFree, as does every call on the
// array's SuperChunk. The geometry accessors (Dim, Shape, ChunkShape,
// ChunkCount and the like) keep answering, since they touch no chunk data.
func (a *Array) Free() error {
	if a.freed {
		return ErrUseAfterFree
	}
	a.freed = true
	return a.sc.Free()
}

func (a *Array) grid() dims {
	var g dims
	for i := 0; i < a.ndim; i++ {
		g[i] = a.padded[i] / a.chunk[i]
	}
	return g
}

func (a *Array) chunkBytes() int {
	return a.ChunkSize() * a.itemSize
}

// chunkExtent returns the origin and the in-bounds extent of chunk ci.
func (a *Array) chunkExtent(ci int) (origin, extent dims) {
	coord := unravel(ci, a.grid(), a.ndim)
	for i := 0; i < a.ndim; i++ {
		origin[i] = coord[i] * a.chunk[i]
		extent[i] = min(a.chunk[i], a.shape[i]-origin[i])
	}
	return origin, extent
}

// NextChunkShape is the in-bounds extent of the chunk Append writes next,
// or nil when the array is full.
func (a *Array) NextChunkShape() []int {
	if a.freed {
		return nil
	}
	next := a.sc.NChunks()
	if next >= a.ChunkCount() {
		return nil
	}
	_, extent := a.chunkExtent(next)
	return extent.slice(a.ndim)
}

func (a *Array) usable() error {
	if a.freed {
		return ErrUseAfterFree
	}
	return nil
}

func (a *Array) writable() error {
	if err := a.usable(); err != nil {
		return err
	}
	if a.mode == ModeRead {
		return ErrReadOnly
	}
	return nil
}

// readable checks that a can serve reads: not freed and fully written.
func (a *Array) readable() error {
	if err := a.usable(); err != nil {
		return err
	}
	if n := a.sc.NChunks(); n != a.ChunkCount() {
		return fmt.Errorf("%w: %d of %d chunks written", ErrNotFilled, n, a.ChunkCount())
	}
	return nil
}
