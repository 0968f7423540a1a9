package caterva

import (
	"context"
	"fmt"

	"github.com/qri-io/caterva-go/internal/workpool"
)

// FromBuffer fills an empty array from a dense row-major buffer of
// Size()*ItemSize() bytes. Chunks are compressed on up to NThreads workers
// and become visible together once all of them succeed.
func (a *Array) FromBuffer(buf []byte) error {
	if err := a.writable(); err != nil {
		return err
	}
	if want := a.Size() * a.itemSize; len(buf) != want {
		return fmt.Errorf("%w: buffer holds %d bytes, array needs %d", ErrSizeMismatch, len(buf), want)
	}
	if n := a.sc.NChunks(); n != 0 {
		return fmt.Errorf("%w: %d chunks already written", ErrNotEmpty, n)
	}

	shapeStrides := a.shape.strides(a.ndim)
	chunkStrides := a.chunk.strides(a.ndim)
	chunks, err := workpool.Map(context.Background(), a.ChunkCount(), a.sc.cparams.threads(), func(_ context.Context, ci int) ([]byte, error) {
		origin, extent := a.chunkExtent(ci)
		raw := make([]byte, a.chunkBytes())
		off := 0
		for i := 0; i < a.ndim; i++ {
			off += origin[i] * shapeStrides[i]
		}
		copyBox(raw, 0, chunkStrides, buf, off, shapeStrides, extent, a.ndim, a.itemSize)
		c, err := a.sc.compress(raw, 1)
		if err != nil {
			return nil, chunkErr("compress", ci, err)
		}
		return c, nil
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	_, err = a.sc.commit(chunks...)
	return err
}

// ToBuffer decompresses the whole array into out, densely in row-major
// order. out must hold at least Size()*ItemSize() bytes.
func (a *Array) ToBuffer(out []byte) error {
	if err := a.readable(); err != nil {
		return err
	}
	if want := a.Size() * a.itemSize; len(out) < want {
		return fmt.Errorf("%w: buffer holds %d bytes, array needs %d", ErrCapacity, len(out), want)
	}
	var start, step dims
	for i := 0; i < a.ndim; i++ {
		step[i] = 1
	}
	return a.readRegion(start, step, a.shape, out)
}

// Append compresses the next chunk in row-major chunk order. chunk is
// either a full chunk of ChunkSize()*ItemSize() bytes or a compact edge
// chunk shaped like NextChunkShape(), which is zero padded.
func (a *Array) Append(chunk []byte) error {
	if err := a.writable(); err != nil {
		return err
	}
	next := a.sc.NChunks()
	if next >= a.ChunkCount() {
		return fmt.Errorf("%w: %d chunks written", ErrArrayFull, next)
	}

	raw := chunk
	_, extent := a.chunkExtent(next)
	if len(chunk) != a.chunkBytes() {
		if len(chunk) != extent.prod(a.ndim)*a.itemSize {
			return fmt.Errorf("%w: chunk %d holds %d bytes, want %d or %d", ErrSizeMismatch,
				next, len(chunk), a.chunkBytes(), extent.prod(a.ndim)*a.itemSize)
		}
		raw = make([]byte, a.chunkBytes())
		copyBox(raw, 0, a.chunk.strides(a.ndim), chunk, 0, extent.strides(a.ndim), extent, a.ndim, a.itemSize)
	}
	_, err := a.sc.AppendBuffer(raw)
	return err
}
