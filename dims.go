package caterva

import (
	"fmt"
	"math"
)

// MaxDim is the largest number of dimensions an array may have.
const MaxDim = 8

// dims is a dimension vector. Only the first n entries are meaningful for an
// array of dimension n; the rest stay zero so vectors compare with ==.
type dims [MaxDim]int

func newDims(v []int) dims {
	var d dims
	copy(d[:], v)
	return d
}

// slice returns a copy of the first n entries.
func (d dims) slice(n int) []int {
	out := make([]int, n)
	copy(out, d[:n])
	return out
}

func (d dims) prod(n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= d[i]
	}
	return p
}

// strides returns row-major item strides for a box of extent d.
func (d dims) strides(n int) dims {
	var s dims
	acc := 1
	for i := n - 1; i >= 0; i-- {
		s[i] = acc
		acc *= d[i]
	}
	return s
}

// unravel converts a row-major linear index over grid to coordinates.
func unravel(idx int, grid dims, n int) dims {
	var c dims
	for i := n - 1; i >= 0; i-- {
		c[i] = idx % grid[i]
		idx /= grid[i]
	}
	return c
}

// ravel is the inverse of unravel.
func ravel(coord, grid dims, n int) int {
	idx := 0
	for i := 0; i < n; i++ {
		idx = idx*grid[i] + coord[i]
	}
	return idx
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// checkedProd multiplies the first n entries and the extra factors, failing
// instead of overflowing.
func checkedProd(d dims, n int, extra ...int) (int, error) {
	p := 1
	mul := func(v int) error {
		if v != 0 && p > math.MaxInt/v {
			return fmt.Errorf("%w: size overflows", ErrInvalidShape)
		}
		p *= v
		return nil
	}
	for i := 0; i < n; i++ {
		if err := mul(d[i]); err != nil {
			return 0, err
		}
	}
	for _, v := range extra {
		if err := mul(v); err != nil {
			return 0, err
		}
	}
	return p, nil
}
