package caterva

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyBox(t *testing.T) {
	// 4x4 grid of one byte items 0..15
	src := make([]byte, 16)
	for i := range src {
		src[i] = byte(i)
	}
	s44 := newDims([]int{4, 4}).strides(2)
	box := newDims([]int{2, 2})

	cases := []struct {
		name       string
		srcOff     int
		srcStrides dims
		dstStrides dims
		want       []byte
	}{
		{"inner block", 5, s44, box.strides(2), []byte{5, 6, 9, 10}},
		{"every other item", 0, dims{8, 2}, box.strides(2), []byte{0, 2, 8, 10}},
		{"transposed", 0, s44, dims{1, 2}, []byte{0, 4, 1, 5}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dst := make([]byte, 4)
			copyBox(dst, 0, c.dstStrides, src, c.srcOff, c.srcStrides, box, 2, 1)
			require.Equal(t, c.want, dst)
		})
	}
}

func TestCopyBoxItemSize(t *testing.T) {
	src := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	dst := make([]byte, 8)
	// rows 0 and 2 of a 3x2 grid of two byte items
	copyBox(dst, 0, newDims([]int{2, 2}).strides(2), src, 0, dims{4, 1}, newDims([]int{2, 2}), 2, 2)
	require.Equal(t, []byte{0, 1, 2, 3, 8, 9, 10, 11}, dst)
}

func TestCopyBoxEmpty(t *testing.T) {
	dst := []byte{7, 7}
	copyBox(dst, 0, dims{1}, []byte{1, 2}, 0, dims{1}, dims{0}, 1, 1)
	require.Equal(t, []byte{7, 7}, dst)
}
