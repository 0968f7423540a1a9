package caterva

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetSliceScenario(t *testing.T) {
	a, _ := mustFill(t, []int{4, 4}, []int{2, 2})
	require.Equal(t, []int{4, 4}, a.PaddedShape())
	require.Equal(t, 4, a.ChunkCount())

	s, err := a.GetSlice([]int{1, 1}, []int{3, 3}, []int{1, 1})
	require.NoError(t, err)
	defer s.Free()
	require.Equal(t, []int{2, 2}, s.Shape())
	require.Equal(t, []int{2, 2}, s.ChunkShape())
	require.Equal(t, []int32{5, 6, 9, 10}, int32s(toBuffer(t, s)))
}

func TestGetSliceIdentity(t *testing.T) {
	a, data := mustFill(t, []int{5, 7}, []int{2, 3})
	s, err := a.GetSlice([]int{0, 0}, a.Shape(), []int{1, 1})
	require.NoError(t, err)
	defer s.Free()
	require.Equal(t, a.Shape(), s.Shape())
	require.Equal(t, data, toBuffer(t, s))
}

// denseSlice is a plain reference for strided slicing of a row-major
// buffer.
func denseSlice(data []byte, shape, start, stop, step []int, itemSize int) ([]byte, []int) {
	n := len(shape)
	out := make([]int, n)
	total := 1
	for i := range out {
		out[i] = (stop[i] - start[i] + step[i] - 1) / step[i]
		total *= out[i]
	}
	res := make([]byte, 0, total*itemSize)
	coord := make([]int, n)
	for k := 0; k < total; k++ {
		rem := k
		for i := n - 1; i >= 0; i-- {
			coord[i] = rem % out[i]
			rem /= out[i]
		}
		src := 0
		for i := 0; i < n; i++ {
			src = src*shape[i] + start[i] + coord[i]*step[i]
		}
		res = append(res, data[src*itemSize:(src+1)*itemSize]...)
	}
	return res, out
}

func TestGetSliceStrided(t *testing.T) {
	shape := []int{7, 6, 5}
	chunk := []int{3, 2, 4}
	cases := []struct {
		start, stop, step []int
	}{
		{[]int{0, 0, 0}, []int{7, 6, 5}, []int{1, 1, 1}},
		{[]int{1, 1, 1}, []int{6, 5, 4}, []int{2, 1, 3}},
		{[]int{0, 0, 0}, []int{7, 6, 5}, []int{4, 5, 2}},
		{[]int{2, 3, 4}, []int{3, 4, 5}, []int{1, 1, 1}},
		{[]int{6, 0, 1}, []int{7, 6, 5}, []int{1, 6, 1}},
		{[]int{0, 1, 0}, []int{5, 6, 5}, []int{3, 2, 5}},
	}
	for _, threads := range []int{1, 3} {
		a, data := mustFill(t, shape, chunk, withThreads(threads))
		for _, c := range cases {
			t.Run(fmt.Sprintf("threads%d/%v:%v:%v", threads, c.start, c.stop, c.step), func(t *testing.T) {
				want, wantShape := denseSlice(data, shape, c.start, c.stop, c.step, 4)

				s, err := a.GetSlice(c.start, c.stop, c.step)
				require.NoError(t, err)
				defer s.Free()
				require.Equal(t, wantShape, s.Shape())
				for i, cs := range s.ChunkShape() {
					require.Equal(t, min(chunk[i], wantShape[i]), cs)
				}
				require.True(t, s.Filled())
				require.Equal(t, int32s(want), int32s(toBuffer(t, s)))

				buf := make([]byte, len(want))
				require.NoError(t, a.GetSliceBuffer(c.start, c.stop, c.step, buf))
				require.Equal(t, want, buf)
			})
		}
	}
}

func TestGetSliceOfSlice(t *testing.T) {
	a, data := mustFill(t, []int{9, 8}, []int{4, 3})
	s, err := a.GetSlice([]int{1, 0}, []int{9, 8}, []int{2, 3})
	require.NoError(t, err)
	defer s.Free()
	ss, err := s.GetSlice([]int{1, 1}, []int{4, 3}, nil)
	require.NoError(t, err)
	defer ss.Free()

	// rows 3, 5, 7 and columns 3, 6 of the source
	want, _ := denseSlice(data, []int{9, 8}, []int{3, 3}, []int{8, 7}, []int{2, 3}, 4)
	require.Equal(t, int32s(want), int32s(toBuffer(t, ss)))
}

func TestGetSliceKeepsParams(t *testing.T) {
	a, _ := mustFill(t, []int{6, 6}, []int{4, 4},
		withDtype(DtypeInt32),
		withCodec(CodecZstd, 3, Filter{ID: FilterBitShuffle}))
	s, err := a.GetSlice([]int{0, 2}, []int{6, 5}, nil)
	require.NoError(t, err)
	defer s.Free()
	require.Equal(t, []int{4, 3}, s.ChunkShape())
	require.Equal(t, DtypeInt32, *s.Dtype())
	require.Equal(t, a.SuperChunk().CompressionParams(), s.SuperChunk().CompressionParams())

	info, err := s.SuperChunk().ChunkInfo(0)
	require.NoError(t, err)
	require.Equal(t, CodecZstd, info.Codec)
	require.Equal(t, 4*3*4, info.NBytes)
}

func TestGetSliceErrors(t *testing.T) {
	a, _ := mustFill(t, []int{4, 4}, []int{2, 2})
	cases := []struct {
		name              string
		start, stop, step []int
	}{
		{"zero step", []int{0, 0}, []int{4, 4}, []int{1, 0}},
		{"negative step", []int{0, 0}, []int{4, 4}, []int{-1, 1}},
		{"empty range", []int{2, 0}, []int{2, 4}, nil},
		{"reversed range", []int{3, 0}, []int{1, 4}, nil},
		{"past the end", []int{0, 0}, []int{4, 5}, nil},
		{"negative start", []int{-1, 0}, []int{4, 4}, nil},
		{"short start", []int{0}, []int{4, 4}, nil},
		{"short step", []int{0, 0}, []int{4, 4}, []int{1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := a.GetSlice(c.start, c.stop, c.step)
			require.ErrorIs(t, err, ErrInvalidRange)
			require.ErrorIs(t, a.GetSliceBuffer(c.start, c.stop, c.step, make([]byte, 64)), ErrInvalidRange)
		})
	}

	require.ErrorIs(t, a.GetSliceBuffer([]int{0, 0}, []int{2, 2}, nil, make([]byte, 15)), ErrCapacity)

	empty := mustCreate(t, []int{4, 4}, []int{2, 2})
	_, err := empty.GetSlice([]int{0, 0}, []int{2, 2}, nil)
	require.ErrorIs(t, err, ErrNotFilled)
}

func TestGetSliceConcurrent(t *testing.T) {
	a, data := mustFill(t, []int{12, 10}, []int{5, 4}, withThreads(2))
	want, _ := denseSlice(data, []int{12, 10}, []int{1, 2}, []int{11, 9}, []int{2, 1}, 4)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	bufs := make([][]byte, 8)
	for g := range errs {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			s, err := a.GetSlice([]int{1, 2}, []int{11, 9}, []int{2, 1})
			if err != nil {
				errs[g] = err
				return
			}
			defer s.Free()
			bufs[g] = make([]byte, s.Size()*s.ItemSize())
			errs[g] = s.ToBuffer(bufs[g])
		}(g)
	}
	wg.Wait()
	for g := range errs {
		require.NoError(t, errs[g])
		require.Equal(t, want, bufs[g])
	}
}

func TestCopy(t *testing.T) {
	a, data := mustFill(t, []int{5, 3}, []int{4, 4}, withDtype(DtypeInt32))
	c, err := a.Copy()
	require.NoError(t, err)
	defer c.Free()

	require.Equal(t, a.Shape(), c.Shape())
	require.Equal(t, a.ChunkShape(), c.ChunkShape())
	require.Equal(t, a.Dtype(), c.Dtype())
	require.Equal(t, a.SuperChunk().CBytes(), c.SuperChunk().CBytes())

	require.NoError(t, a.Free())
	require.Equal(t, data, toBuffer(t, c))
}

func TestChunkCacheEvicts(t *testing.T) {
	a, data := mustFill(t, []int{4}, []int{2})
	cache := newChunkCache(a.sc, a.chunkBytes())
	cache.refs[1] = 2

	b, err := cache.get(1)
	require.NoError(t, err)
	require.Equal(t, data[8:16], b)
	_, err = cache.get(1)
	require.NoError(t, err)
	require.Equal(t, 1, cache.loads)

	cache.release(1)
	_, ok := cache.lookup(1)
	require.True(t, ok)
	cache.release(1)
	_, ok = cache.lookup(1)
	require.False(t, ok)

	_, err = cache.get(5)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestCorruptChunkFailsWholeOperation(t *testing.T) {
	for _, threads := range []int{1, 4} {
		t.Run(fmt.Sprint(threads), func(t *testing.T) {
			a, _ := mustFill(t, []int{4, 4}, []int{2, 2}, withThreads(threads))
			good, _ := mustFill(t, []int{4, 4}, []int{2, 2}, withThreads(threads))
			// an unknown codec id in the header of chunk 2
			a.sc.chunks[2][1] = 0xee

			requireChunk2 := func(err error) {
				t.Helper()
				require.ErrorIs(t, err, ErrCodec)
				var ce *ChunkError
				require.ErrorAs(t, err, &ce)
				require.Equal(t, 2, ce.Index)
			}

			s, err := a.GetSlice([]int{1, 1}, []int{3, 3}, nil)
			requireChunk2(err)
			require.Nil(t, s)

			requireChunk2(a.ToBuffer(make([]byte, a.Size()*a.ItemSize())))

			add, err := Add(DtypeInt32)
			require.NoError(t, err)
			c, err := Combine(good, a, add)
			requireChunk2(err)
			require.Nil(t, c)

			// chunk 2 is not read
			s, err = a.GetSlice([]int{0, 0}, []int{2, 4}, nil)
			require.NoError(t, err)
			defer s.Free()
			require.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7}, int32s(toBuffer(t, s)))
		})
	}
}
