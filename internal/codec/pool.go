package codec

import "sync"

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 64<<10)
	},
}

// getBuffer returns a scratch slice of length size. Its contents are
// undefined.
func getBuffer(size int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func releaseBuffer(buf []byte) {
	//nolint:staticcheck // SA6002: slice header copy is fine for sync.Pool
	bufferPool.Put(buf[:0])
}
