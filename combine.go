package caterva

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qri-io/caterva-go/internal/workpool"
)

// Op combines two decompressed chunks item by item into out. All three
// slices have the same length, a whole number of items. Padding items are
// combined like any other.
type Op func(out, x, y []byte) error

// Combine applies op to every pair of corresponding chunks of a and b and
// returns the results as a new array shaped like a. Both arrays must have
// the same dimension, shape, chunk shape and item size.
func Combine(a, b *Array, op Op) (*Array, error) {
	if err := a.readable(); err != nil {
		return nil, err
	}
	if err := b.readable(); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("%w: nil op", ErrInvalidParams)
	}
	if a.ndim != b.ndim || a.shape != b.shape || a.chunk != b.chunk || a.itemSize != b.itemSize {
		return nil, fmt.Errorf("%w: %s vs %s", ErrIncompatiblePartition, a.Info(), b.Info())
	}

	out, err := newArray(a.ndim, a.shape, a.chunk, a.sc.cparams, a.sc.dparams, a.dtype)
	if err != nil {
		return nil, err
	}
	size := a.chunkBytes()
	chunks, err := workpool.Map(context.Background(), a.ChunkCount(), a.sc.cparams.threads(), func(_ context.Context, i int) ([]byte, error) {
		x := make([]byte, size)
		y := make([]byte, size)
		if _, err := a.sc.decompress(i, x, 1); err != nil {
			return nil, err
		}
		if _, err := b.sc.decompress(i, y, 1); err != nil {
			return nil, err
		}
		res := make([]byte, size)
		if err := op(res, x, y); err != nil {
			return nil, chunkErr("combine", i, err)
		}
		c, err := out.sc.compress(res, 1)
		if err != nil {
			return nil, chunkErr("compress", i, err)
		}
		return c, nil
	})
	if err != nil {
		_ = out.Free()
		return nil, err
	}
	if len(chunks) > 0 {
		if _, err := out.sc.commit(chunks...); err != nil {
			_ = out.Free()
			return nil, err
		}
	}
	return out, nil
}

// Multiply returns an Op computing x*y for numeric dtypes.
func Multiply(dt Dtype) (Op, error) {
	return elementwise(dt, "multiply",
		func(x, y int64) int64 { return x * y },
		func(x, y uint64) uint64 { return x * y },
		func(x, y float64) float64 { return x * y })
}

// Add returns an Op computing x+y for numeric dtypes.
func Add(dt Dtype) (Op, error) {
	return elementwise(dt, "add",
		func(x, y int64) int64 { return x + y },
		func(x, y uint64) uint64 { return x + y },
		func(x, y float64) float64 { return x + y })
}

// Subtract returns an Op computing x-y for numeric dtypes.
func Subtract(dt Dtype) (Op, error) {
	return elementwise(dt, "subtract",
		func(x, y int64) int64 { return x - y },
		func(x, y uint64) uint64 { return x - y },
		func(x, y float64) float64 { return x - y })
}

// Divide returns an Op computing x/y for floating point dtypes.
func Divide(dt Dtype) (Op, error) {
	return elementwise(dt, "divide", nil, nil,
		func(x, y float64) float64 { return x / y })
}

// elementwise builds an Op from per-kind kernels. Integer results wrap at
// the item width; float32 results are rounded from float64.
func elementwise(dt Dtype, name string, fi func(x, y int64) int64, fu func(x, y uint64) uint64, ff func(x, y float64) float64) (Op, error) {
	acc, err := newAccessor(dt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	switch {
	case acc.kind == BTInteger && fi == nil,
		acc.kind == BTUnsigned && fu == nil:
		return nil, fmt.Errorf("%s: %w: dtype %s", name, ErrInvalidParams, dt)
	}

	size := dt.ByteSize
	return func(out, x, y []byte) error {
		if len(x) != len(out) || len(y) != len(out) || len(out)%size != 0 {
			return fmt.Errorf("%w: %s over %d, %d and %d bytes", ErrSizeMismatch, name, len(out), len(x), len(y))
		}
		for off := 0; off < len(out); off += size {
			o, xs, ys := out[off:off+size], x[off:off+size], y[off:off+size]
			switch acc.kind {
			case BTInteger:
				acc.storeUint(o, uint64(fi(acc.loadInt(xs), acc.loadInt(ys))))
			case BTUnsigned:
				acc.storeUint(o, fu(acc.loadUint(xs), acc.loadUint(ys)))
			case BTFloatingPoint:
				acc.storeFloat(o, ff(acc.loadFloat(xs), acc.loadFloat(ys)))
			}
		}
		return nil
	}, nil
}

// accessor reads and writes numeric items of one dtype.
type accessor struct {
	kind  BasicType
	size  int
	order binary.ByteOrder
}

func newAccessor(dt Dtype) (accessor, error) {
	acc := accessor{kind: dt.BasicType, size: dt.ByteSize, order: dt.order()}
	switch dt.BasicType {
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return acc, nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4, 8:
			return acc, nil
		}
	}
	return acc, fmt.Errorf("%w: unsupported dtype %s", ErrInvalidParams, dt)
}

func (acc accessor) loadUint(b []byte) uint64 {
	switch acc.size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(acc.order.Uint16(b))
	case 4:
		return uint64(acc.order.Uint32(b))
	default:
		return acc.order.Uint64(b)
	}
}

// loadInt sign extends the item to 64 bits.
func (acc accessor) loadInt(b []byte) int64 {
	switch acc.size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(acc.order.Uint16(b)))
	case 4:
		return int64(int32(acc.order.Uint32(b)))
	default:
		return int64(acc.order.Uint64(b))
	}
}

// storeUint stores the low size bytes of v.
func (acc accessor) storeUint(b []byte, v uint64) {
	switch acc.size {
	case 1:
		b[0] = byte(v)
	case 2:
		acc.order.PutUint16(b, uint16(v))
	case 4:
		acc.order.PutUint32(b, uint32(v))
	default:
		acc.order.PutUint64(b, v)
	}
}

func (acc accessor) loadFloat(b []byte) float64 {
	if acc.size == 4 {
		return float64(math.Float32frombits(acc.order.Uint32(b)))
	}
	return math.Float64frombits(acc.order.Uint64(b))
}

func (acc accessor) storeFloat(b []byte, v float64) {
	if acc.size == 4 {
		acc.order.PutUint32(b, math.Float32bits(float32(v)))
		return
	}
	acc.order.PutUint64(b, math.Float64bits(v))
}

// MatMul multiplies two 2-D float64 arrays chunk block by chunk block.
// Every chunk of both arrays must be the same P x P square and
// a.Shape()[1] must equal b.Shape()[0]. The product is chunked P x P.
func MatMul(a, b *Array) (*Array, error) {
	if err := a.readable(); err != nil {
		return nil, err
	}
	if err := b.readable(); err != nil {
		return nil, err
	}
	if a.ndim != 2 || b.ndim != 2 {
		return nil, fmt.Errorf("%w: matmul needs 2-D arrays", ErrIncompatiblePartition)
	}
	p := a.chunk[0]
	if a.chunk[1] != p || b.chunk[0] != p || b.chunk[1] != p {
		return nil, fmt.Errorf("%w: matmul needs equal square chunks, got %v and %v",
			ErrIncompatiblePartition, a.ChunkShape(), b.ChunkShape())
	}
	if a.shape[1] != b.shape[0] {
		return nil, fmt.Errorf("%w: inner dimensions %d and %d differ", ErrIncompatiblePartition, a.shape[1], b.shape[0])
	}
	for _, x := range []*Array{a, b} {
		if x.itemSize != 8 || (x.dtype != nil && (x.dtype.BasicType != BTFloatingPoint || x.dtype.ByteSize != 8)) {
			return nil, fmt.Errorf("%w: matmul needs float64 items", ErrIncompatiblePartition)
		}
	}

	ao, bo := floatOrder(a), floatOrder(b)
	var shape, chunk dims
	shape[0], shape[1] = a.shape[0], b.shape[1]
	chunk[0], chunk[1] = p, p
	out, err := newArray(2, shape, chunk, a.sc.cparams, a.sc.dparams, a.dtype)
	if err != nil {
		return nil, err
	}

	ag, bg := a.grid(), b.grid()
	kb, nb := ag[1], bg[1]
	bytesPerChunk := p * p * 8
	chunks, err := workpool.Map(context.Background(), out.ChunkCount(), a.sc.cparams.threads(), func(_ context.Context, ci int) ([]byte, error) {
		m, n := ci/nb, ci%nb
		acc := make([]float64, p*p)
		x := make([]byte, bytesPerChunk)
		y := make([]byte, bytesPerChunk)
		for k := 0; k < kb; k++ {
			if _, err := a.sc.decompress(m*kb+k, x, 1); err != nil {
				return nil, err
			}
			if _, err := b.sc.decompress(k*nb+n, y, 1); err != nil {
				return nil, err
			}
			gemm(acc, x, y, p, ao, bo)
		}
		raw := make([]byte, bytesPerChunk)
		for i, v := range acc {
			ao.PutUint64(raw[i*8:], math.Float64bits(v))
		}
		c, err := out.sc.compress(raw, 1)
		if err != nil {
			return nil, chunkErr("compress", ci, err)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) > 0 {
		if _, err := out.sc.commit(chunks...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func floatOrder(a *Array) binary.ByteOrder {
	if a.dtype != nil {
		return a.dtype.order()
	}
	return binary.LittleEndian
}

// gemm adds the product of the p x p row-major float64 blocks x and y to c.
func gemm(c []float64, x, y []byte, p int, xo, yo binary.ByteOrder) {
	for i := 0; i < p; i++ {
		for k := 0; k < p; k++ {
			xik := math.Float64frombits(xo.Uint64(x[(i*p+k)*8:]))
			row := c[i*p : (i+1)*p]
			for j := range row {
				row[j] += xik * math.Float64frombits(yo.Uint64(y[(k*p+j)*8:]))
			}
		}
	}
}
