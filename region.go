package caterva

// copyBox copies a box of extent items between two row-major item buffers.
// Offsets count items, strides count items per axis step. Runs along the
// last axis are copied with one copy call when both sides are contiguous.
func copyBox(dst []byte, dstOff int, dstStrides dims, src []byte, srcOff int, srcStrides dims, extent dims, n, itemSize int) {
	for i := 0; i < n; i++ {
		if extent[i] <= 0 {
			return
		}
	}
	last := n - 1
	run := extent[last]
	contiguous := dstStrides[last] == 1 && srcStrides[last] == 1

	var idx dims
	for {
		d, s := dstOff, srcOff
		for i := 0; i < last; i++ {
			d += idx[i] * dstStrides[i]
			s += idx[i] * srcStrides[i]
		}
		if contiguous {
			copy(dst[d*itemSize:(d+run)*itemSize], src[s*itemSize:(s+run)*itemSize])
		} else {
			for k := 0; k < run; k++ {
				dd := (d + k*dstStrides[last]) * itemSize
				ss := (s + k*srcStrides[last]) * itemSize
				copy(dst[dd:dd+itemSize], src[ss:ss+itemSize])
			}
		}

		i := last - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < extent[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
