package caterva

// chunkDimProjection maps a run of consecutive selected items along one axis
// onto a single source chunk.
type chunkDimProjection struct {
	// Index of chunk along the axis.
	DimChunkIX int
	// Offset of the first selected item inside the chunk.
	DimChunkSel int
	// Offset of the first item inside the output block.
	DimOutSel int
	// Number of items in the run.
	Count int
}

// sliceDimIndexer selects start, start+step, ... on one axis of an array
// chunked by chunkLen.
type sliceDimIndexer struct {
	start    int
	step     int
	chunkLen int
}

// project splits the selected items with output positions
// [outStart, outStart+outLen) into per-chunk runs.
func (ix sliceDimIndexer) project(outStart, outLen int) []chunkDimProjection {
	var ps []chunkDimProjection
	end := outStart + outLen
	for k := outStart; k < end; {
		c := ix.start + k*ix.step
		ci := c / ix.chunkLen
		// first output position past this chunk
		next := ceilDiv((ci+1)*ix.chunkLen-ix.start, ix.step)
		if next > end {
			next = end
		}
		ps = append(ps, chunkDimProjection{
			DimChunkIX:  ci,
			DimChunkSel: c - ci*ix.chunkLen,
			DimOutSel:   k - outStart,
			Count:       next - k,
		})
		k = next
	}
	return ps
}

// A mapping of items from one source chunk to an output block. The selected
// items are ChunkSelection + i*step inside the chunk and OutSelection + i
// inside the output, for i within Count on every axis.
type chunkProjection struct {
	// Row-major index of the source chunk.
	ChunkIX int
	// Coordinates of the source chunk in the chunk grid.
	ChunkCoords dims
	// Selection of items from chunk array.
	ChunkSelection dims
	// Selection of items in target (output) array.
	OutSelection dims
	Count        dims
}

// projections returns the Cartesian product of per-axis runs, ordered
// row-major by source chunk.
func projections(per [][]chunkDimProjection, grid dims, n int) []chunkProjection {
	total := 1
	for _, p := range per {
		total *= len(p)
	}
	if total == 0 {
		return nil
	}
	out := make([]chunkProjection, 0, total)
	var pick dims
	for {
		var cp chunkProjection
		for i := 0; i < n; i++ {
			dp := per[i][pick[i]]
			cp.ChunkCoords[i] = dp.DimChunkIX
			cp.ChunkSelection[i] = dp.DimChunkSel
			cp.OutSelection[i] = dp.DimOutSel
			cp.Count[i] = dp.Count
		}
		cp.ChunkIX = ravel(cp.ChunkCoords, grid, n)
		out = append(out, cp)

		i := n - 1
		for ; i >= 0; i-- {
			pick[i]++
			if pick[i] < len(per[i]) {
				break
			}
			pick[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
