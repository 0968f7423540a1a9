package caterva

import (
	"context"
	"slices"

	"github.com/qri-io/caterva-go/internal/workpool"
)

// Squeeze removes every axis of extent 1 in place. If all axes have extent 1
// the last one is kept. Chunk order does not change; chunks that are longer
// than 1 along a removed axis are cut down to their first hyperplane and
// recompressed.
func (a *Array) Squeeze() error {
	if err := a.writable(); err != nil {
		return err
	}

	var keep []int
	for i := 0; i < a.ndim; i++ {
		if a.shape[i] != 1 {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		keep = []int{a.ndim - 1}
	}
	if len(keep) == a.ndim {
		return nil
	}

	var shape, chunk dims
	recut := false
	for j, i := range keep {
		shape[j] = a.shape[i]
		chunk[j] = a.chunk[i]
	}
	for i := 0; i < a.ndim; i++ {
		if a.shape[i] == 1 && a.chunk[i] > 1 && !slices.Contains(keep, i) {
			recut = true
		}
	}

	n := len(keep)
	if recut {
		// copy the index-0 hyperplane of every chunk: the kept axes in full,
		// the removed axes at offset 0
		oldStrides := a.chunk.strides(a.ndim)
		newStrides := chunk.strides(n)
		var srcStrides dims
		for j, i := range keep {
			srcStrides[j] = oldStrides[i]
		}
		newBytes := chunk.prod(n) * a.itemSize
		oldBytes := a.chunkBytes()
		chunks, err := workpool.Map(context.Background(), a.sc.NChunks(), a.sc.cparams.threads(), func(_ context.Context, ci int) ([]byte, error) {
			raw := make([]byte, oldBytes)
			if _, err := a.sc.decompress(ci, raw, 1); err != nil {
				return nil, err
			}
			cut := make([]byte, newBytes)
			copyBox(cut, 0, newStrides, raw, 0, srcStrides, chunk, n, a.itemSize)
			c, err := a.sc.compress(cut, 1)
			if err != nil {
				return nil, chunkErr("compress", ci, err)
			}
			return c, nil
		})
		if err != nil {
			return err
		}
		if err := a.sc.replace(chunks, newBytes); err != nil {
			return err
		}
	}

	a.log.Debug("squeezed", "from", a.Shape(), "to", shape.slice(n), "recut", recut)
	a.ndim = n
	a.shape = shape
	a.chunk = chunk
	var padded dims
	for i := 0; i < n; i++ {
		padded[i] = ceilDiv(shape[i], chunk[i]) * chunk[i]
	}
	a.padded = padded
	return nil
}
