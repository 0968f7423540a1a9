package caterva

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/qri-io/caterva-go/internal/workpool"
	"golang.org/x/sync/singleflight"
)

// selection is a validated start:stop:step slice with its result shape.
type selection struct {
	start dims
	step  dims
	shape dims
}

func (a *Array) selection(start, stop, step []int) (selection, error) {
	var sel selection
	n := a.ndim
	if len(start) != n || len(stop) != n || (step != nil && len(step) != n) {
		return sel, fmt.Errorf("%w: start, stop and step need %d entries", ErrInvalidRange, n)
	}
	for i := 0; i < n; i++ {
		st := 1
		if step != nil {
			st = step[i]
		}
		if st < 1 {
			return sel, fmt.Errorf("%w: step[%d] = %d", ErrInvalidRange, i, st)
		}
		if start[i] < 0 || start[i] >= stop[i] || stop[i] > a.shape[i] {
			return sel, fmt.Errorf("%w: axis %d selects [%d, %d) of %d", ErrInvalidRange, i, start[i], stop[i], a.shape[i])
		}
		sel.start[i] = start[i]
		sel.step[i] = st
		sel.shape[i] = ceilDiv(stop[i]-start[i], st)
	}
	return sel, nil
}

// GetSlice extracts the items start[i], start[i]+step[i], ... below stop[i]
// on every axis into a new array with the same compression parameters. A
// nil step selects every item. The result is chunked like the source,
// clamped to its own shape.
func (a *Array) GetSlice(start, stop, step []int) (*Array, error) {
	if err := a.readable(); err != nil {
		return nil, err
	}
	sel, err := a.selection(start, stop, step)
	if err != nil {
		return nil, err
	}

	n := a.ndim
	var chunk dims
	for i := 0; i < n; i++ {
		chunk[i] = min(a.chunk[i], sel.shape[i])
	}
	out, err := newArray(n, sel.shape, chunk, a.sc.cparams, a.sc.dparams, a.dtype)
	if err != nil {
		return nil, err
	}

	// plan every output chunk up front so the cache knows how many
	// consumers each source chunk has
	cache := newChunkCache(a.sc, a.chunkBytes())
	outGrid, srcGrid := out.grid(), a.grid()
	plans := make([][]chunkProjection, out.ChunkCount())
	per := make([][]chunkDimProjection, n)
	for oc := range plans {
		coord := unravel(oc, outGrid, n)
		for i := 0; i < n; i++ {
			outStart := coord[i] * chunk[i]
			ix := sliceDimIndexer{start: sel.start[i], step: sel.step[i], chunkLen: a.chunk[i]}
			per[i] = ix.project(outStart, min(chunk[i], sel.shape[i]-outStart))
		}
		plans[oc] = projections(per, srcGrid, n)
		for _, p := range plans[oc] {
			cache.refs[p.ChunkIX]++
		}
	}

	dstStrides := chunk.strides(n)
	chunkStrides := a.chunk.strides(n)
	var srcStrides dims
	for i := 0; i < n; i++ {
		srcStrides[i] = chunkStrides[i] * sel.step[i]
	}

	chunks, err := workpool.Map(context.Background(), len(plans), a.sc.cparams.threads(), func(_ context.Context, oc int) ([]byte, error) {
		raw := make([]byte, out.chunkBytes())
		for _, p := range plans[oc] {
			src, err := cache.get(p.ChunkIX)
			if err != nil {
				return nil, chunkErr("slice", oc, err)
			}
			dstOff, srcOff := 0, 0
			for i := 0; i < n; i++ {
				dstOff += p.OutSelection[i] * dstStrides[i]
				srcOff += p.ChunkSelection[i] * chunkStrides[i]
			}
			copyBox(raw, dstOff, dstStrides, src, srcOff, srcStrides, p.Count, n, a.itemSize)
			cache.release(p.ChunkIX)
		}
		c, err := out.sc.compress(raw, 1)
		if err != nil {
			return nil, chunkErr("compress", oc, err)
		}
		return c, nil
	})
	if err != nil {
		_ = out.Free()
		return nil, err
	}
	if _, err := out.sc.commit(chunks...); err != nil {
		_ = out.Free()
		return nil, err
	}
	a.log.Debug("slice extracted", "shape", out.Shape(), "chunks", len(chunks), "decompressed", cache.loads)
	return out, nil
}

// GetSliceBuffer writes the same items GetSlice selects densely, in
// row-major order, into out.
func (a *Array) GetSliceBuffer(start, stop, step []int, out []byte) error {
	if err := a.readable(); err != nil {
		return err
	}
	sel, err := a.selection(start, stop, step)
	if err != nil {
		return err
	}
	if want := sel.shape.prod(a.ndim) * a.itemSize; len(out) < want {
		return fmt.Errorf("%w: buffer holds %d bytes, slice needs %d", ErrCapacity, len(out), want)
	}
	return a.readRegion(sel.start, sel.step, sel.shape, out)
}

// readRegion decompresses every source chunk the selection touches once and
// scatters its items into the dense buffer out of shape extent.
func (a *Array) readRegion(start, step, extent dims, out []byte) error {
	n := a.ndim
	per := make([][]chunkDimProjection, n)
	for i := 0; i < n; i++ {
		ix := sliceDimIndexer{start: start[i], step: step[i], chunkLen: a.chunk[i]}
		per[i] = ix.project(0, extent[i])
	}
	projs := projections(per, a.grid(), n)

	outStrides := extent.strides(n)
	chunkStrides := a.chunk.strides(n)
	var srcStrides dims
	for i := 0; i < n; i++ {
		srcStrides[i] = chunkStrides[i] * step[i]
	}
	return workpool.Each(context.Background(), len(projs), a.sc.dparams.threads(), func(_ context.Context, k int) error {
		p := projs[k]
		raw := make([]byte, a.chunkBytes())
		if _, err := a.sc.decompress(p.ChunkIX, raw, 1); err != nil {
			return err
		}
		dstOff, srcOff := 0, 0
		for i := 0; i < n; i++ {
			dstOff += p.OutSelection[i] * outStrides[i]
			srcOff += p.ChunkSelection[i] * chunkStrides[i]
		}
		copyBox(out, dstOff, outStrides, raw, srcOff, srcStrides, p.Count, n, a.itemSize)
		return nil
	})
}

// Copy returns an independent array with the same geometry, parameters and
// contents. Compressed chunks are copied as they are.
func (a *Array) Copy() (*Array, error) {
	if err := a.readable(); err != nil {
		return nil, err
	}
	out, err := newArray(a.ndim, a.shape, a.chunk, a.sc.cparams, a.sc.dparams, a.dtype)
	if err != nil {
		return nil, err
	}
	chunks := make([][]byte, a.ChunkCount())
	for i := range chunks {
		c, err := a.sc.chunk(i)
		if err != nil {
			return nil, err
		}
		chunks[i] = append([]byte(nil), c...)
	}
	if len(chunks) > 0 {
		if _, err := out.sc.commit(chunks...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// chunkCache holds decompressed source chunks for the duration of one
// slice call. Each chunk is decompressed once even when several workers ask
// for it at the same time, and dropped when its last consumer releases it.
type chunkCache struct {
	sc         *SuperChunk
	chunkBytes int
	group      singleflight.Group

	mu     sync.Mutex
	chunks map[int][]byte
	refs   map[int]int
	loads  int

	log *slog.Logger
}

func newChunkCache(sc *SuperChunk, chunkBytes int) *chunkCache {
	return &chunkCache{
		sc:         sc,
		chunkBytes: chunkBytes,
		chunks:     map[int][]byte{},
		refs:       map[int]int{},
		log:        sc.log,
	}
}

func (c *chunkCache) lookup(i int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.chunks[i]
	return b, ok
}

func (c *chunkCache) get(i int) ([]byte, error) {
	if b, ok := c.lookup(i); ok {
		return b, nil
	}
	v, err, _ := c.group.Do(strconv.Itoa(i), func() (interface{}, error) {
		if b, ok := c.lookup(i); ok {
			return b, nil
		}
		b := make([]byte, c.chunkBytes)
		if _, err := c.sc.decompress(i, b, 1); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.chunks[i] = b
		c.loads++
		c.mu.Unlock()
		c.log.Debug("source chunk decompressed", "chunk", i)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// release drops one consumer of chunk i.
func (c *chunkCache) release(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[i]--
	if c.refs[i] <= 0 {
		delete(c.chunks, i)
		delete(c.refs, i)
	}
}
