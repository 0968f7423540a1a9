package caterva

import (
	"fmt"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stats summarizes how well a SuperChunk compresses.
type Stats struct {
	NChunks int
	NBytes  int64
	CBytes  int64
	// Ratio is NBytes / CBytes over the whole SuperChunk.
	Ratio float64

	// Per-chunk compression ratio quantiles, accurate to 1%.
	RatioMin float64
	RatioP50 float64
	RatioP90 float64
	RatioP99 float64
	RatioMax float64
}

// Stats computes compression statistics from the chunk headers.
func (sc *SuperChunk) Stats() (Stats, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.freed {
		return Stats{}, ErrUseAfterFree
	}

	st := Stats{NChunks: len(sc.chunks), NBytes: sc.nbytes, CBytes: sc.cbytes}
	if st.NChunks == 0 {
		return st, nil
	}
	st.Ratio = float64(st.NBytes) / float64(st.CBytes)

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return st, fmt.Errorf("ratio sketch: %w", err)
	}
	for _, c := range sc.chunks {
		if err := sketch.Add(float64(sc.chunkNBytes) / float64(len(c))); err != nil {
			return st, fmt.Errorf("ratio sketch: %w", err)
		}
	}
	st.RatioMin, _ = sketch.GetMinValue()
	st.RatioMax, _ = sketch.GetMaxValue()
	st.RatioP50, _ = sketch.GetValueAtQuantile(0.50)
	st.RatioP90, _ = sketch.GetValueAtQuantile(0.90)
	st.RatioP99, _ = sketch.GetValueAtQuantile(0.99)
	return st, nil
}

func (st Stats) String() string {
	return fmt.Sprintf("chunks=%d nbytes=%d cbytes=%d ratio=%.2f p50=%.2f p90=%.2f p99=%.2f",
		st.NChunks, st.NBytes, st.CBytes, st.Ratio, st.RatioP50, st.RatioP90, st.RatioP99)
}
