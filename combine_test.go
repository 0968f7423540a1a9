package caterva

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCombineMultiply(t *testing.T) {
	var results [][]byte
	for _, threads := range []int{1, 2, 5} {
		a, data := mustFill(t, []int{7, 5}, []int{3, 2}, withDtype(DtypeInt32), withThreads(threads))
		b, _ := mustFill(t, []int{7, 5}, []int{3, 2}, withDtype(DtypeInt32), withThreads(threads))
		mul, err := Multiply(DtypeInt32)
		require.NoError(t, err)

		c, err := Combine(a, b, mul)
		require.NoError(t, err)
		defer c.Free()
		require.Equal(t, a.Shape(), c.Shape())
		require.Equal(t, a.ChunkShape(), c.ChunkShape())

		got := int32s(toBuffer(t, c))
		for i, v := range int32s(data) {
			require.Equal(t, v*v, got[i])
		}

		// chunk k of the result is chunk k of a times chunk k of b
		size := a.ChunkSize() * a.ItemSize()
		x, y, z := make([]byte, size), make([]byte, size), make([]byte, size)
		var chunks []byte
		for k := 0; k < a.ChunkCount(); k++ {
			_, err := a.SuperChunk().DecompressChunk(k, x)
			require.NoError(t, err)
			_, err = b.SuperChunk().DecompressChunk(k, y)
			require.NoError(t, err)
			_, err = c.SuperChunk().DecompressChunk(k, z)
			require.NoError(t, err)
			want := make([]byte, size)
			require.NoError(t, mul(want, x, y))
			require.Equal(t, want, z)
			chunks = append(chunks, z...)
		}
		results = append(results, chunks)
	}
	require.Equal(t, results[0], results[1])
	require.Equal(t, results[0], results[2])
}

func TestKernels(t *testing.T) {
	i8 := MustParseDtype("|i1")
	u16 := DtypeUint16
	f4 := DtypeFloat32
	f8be := MustParseDtype(">f8")

	cases := []struct {
		name   string
		kernel func(Dtype) (Op, error)
		dt     Dtype
		x, y   []byte
		want   []byte
	}{
		{"int8 add wraps", Add, i8, []byte{100, 0xfe}, []byte{100, 3}, []byte{200, 1}},
		{"int8 multiply sign", Multiply, i8, []byte{0xfd, 4}, []byte{3, 0xfc}, []byte{0xf7, 0xf0}},
		{"uint16 subtract wraps", Subtract, u16, u16s(1, 10), u16s(2, 3), u16s(65535, 7)},
		{"float32 multiply", Multiply, f4, f32s(1.5, -2), f32s(2, 0.25), f32s(3, -0.5)},
		{"float64 big endian divide", Divide, f8be, f64be(1, 9), f64be(4, 3), f64be(0.25, 3)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			op, err := c.kernel(c.dt)
			require.NoError(t, err)
			out := make([]byte, len(c.want))
			require.NoError(t, op(out, c.x, c.y))
			require.Equal(t, c.want, out)

			require.ErrorIs(t, op(out[:c.dt.ByteSize], c.x, c.y), ErrSizeMismatch)
		})
	}
}

func TestKernelErrors(t *testing.T) {
	_, err := Divide(DtypeInt32)
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = Add(MustParseDtype("|b1"))
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = Multiply(MustParseDtype("<f2"))
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = Subtract(MustParseDtype("<i3"))
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestCombineErrors(t *testing.T) {
	a, _ := mustFill(t, []int{4, 4}, []int{2, 2})
	add, err := Add(DtypeInt32)
	require.NoError(t, err)

	other, _ := mustFill(t, []int{4, 4}, []int{4, 2})
	_, err = Combine(a, other, add)
	require.ErrorIs(t, err, ErrIncompatiblePartition)

	other, _ = mustFill(t, []int{4, 3}, []int{2, 2})
	_, err = Combine(a, other, add)
	require.ErrorIs(t, err, ErrIncompatiblePartition)

	wide := mustCreate(t, []int{4, 4}, []int{2, 2}, withDtype(DtypeFloat64))
	require.NoError(t, wide.FromBuffer(make([]byte, 16*8)))
	_, err = Combine(a, wide, add)
	require.ErrorIs(t, err, ErrIncompatiblePartition)

	empty := mustCreate(t, []int{4, 4}, []int{2, 2})
	_, err = Combine(a, empty, add)
	require.ErrorIs(t, err, ErrNotFilled)

	_, err = Combine(a, a, nil)
	require.ErrorIs(t, err, ErrInvalidParams)

	errBoom := errors.New("boom")
	_, err = Combine(a, a, func(out, x, y []byte) error {
		if binary.LittleEndian.Uint32(x) == 10 {
			return errBoom
		}
		return nil
	})
	require.ErrorIs(t, err, errBoom)
	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "combine", ce.Op)
	// item 10 sits at row 2, column 2: the first item of chunk 3
	require.Equal(t, 3, ce.Index)
}

func TestMatMul(t *testing.T) {
	const m, k, n = 5, 3, 4
	av := make([]float64, m*k)
	for i := range av {
		av[i] = float64(i%7) - 2.5
	}
	bv := make([]float64, k*n)
	for i := range bv {
		bv[i] = float64(i)*0.5 + 1
	}
	want := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			for l := 0; l < k; l++ {
				want[i*n+j] += av[i*k+l] * bv[l*n+j]
			}
		}
	}

	for _, threads := range []int{1, 3} {
		a := mustCreate(t, []int{m, k}, []int{2, 2}, withDtype(DtypeFloat64), withThreads(threads))
		require.NoError(t, a.FromBuffer(float64Bytes(av)))
		b := mustCreate(t, []int{k, n}, []int{2, 2}, withDtype(DtypeFloat64), withThreads(threads))
		require.NoError(t, b.FromBuffer(float64Bytes(bv)))

		c, err := MatMul(a, b)
		require.NoError(t, err)
		defer c.Free()
		require.Equal(t, []int{m, n}, c.Shape())
		require.Equal(t, []int{2, 2}, c.ChunkShape())
		require.InDeltaSlice(t, want, float64s(toBuffer(t, c)), 1e-9)
	}
}

func TestMatMulNonFinite(t *testing.T) {
	a := mustCreate(t, []int{2, 2}, []int{2, 2}, withDtype(DtypeFloat64))
	require.NoError(t, a.FromBuffer(float64Bytes([]float64{0, 0, 0, 0})))
	b := mustCreate(t, []int{2, 2}, []int{2, 2}, withDtype(DtypeFloat64))
	require.NoError(t, b.FromBuffer(float64Bytes([]float64{math.Inf(1), 0, math.NaN(), 0})))

	c, err := MatMul(a, b)
	require.NoError(t, err)
	defer c.Free()
	got := float64s(toBuffer(t, c))
	require.True(t, math.IsNaN(got[0]), "0*Inf + 0*NaN = %v", got[0])
	require.True(t, math.IsNaN(got[2]), "0*Inf + 0*NaN = %v", got[2])
	require.Equal(t, 0.0, got[1])
	require.Equal(t, 0.0, got[3])
}

func TestMatMulErrors(t *testing.T) {
	f8 := withDtype(DtypeFloat64)
	fill := func(shape, chunk []int, opts ...option) *Array {
		a := mustCreate(t, shape, chunk, opts...)
		require.NoError(t, a.FromBuffer(make([]byte, a.Size()*a.ItemSize())))
		return a
	}
	sq := fill([]int{4, 4}, []int{2, 2}, f8)

	_, err := MatMul(sq, fill([]int{4, 4}, []int{2, 4}, f8))
	require.ErrorIs(t, err, ErrIncompatiblePartition)
	_, err = MatMul(sq, fill([]int{3, 4}, []int{2, 2}, f8))
	require.ErrorIs(t, err, ErrIncompatiblePartition)
	_, err = MatMul(sq, fill([]int{4, 4, 1}, []int{2, 2, 1}, f8))
	require.ErrorIs(t, err, ErrIncompatiblePartition)
	_, err = MatMul(sq, fill([]int{4, 4}, []int{2, 2}, withDtype(DtypeInt64)))
	require.ErrorIs(t, err, ErrIncompatiblePartition)
	_, err = MatMul(sq, fill([]int{4, 4}, []int{2, 2}))
	require.ErrorIs(t, err, ErrIncompatiblePartition)
}

func u16s(vals ...uint16) []byte {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

func f32s(vals ...float32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func f64be(vals ...float64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}
