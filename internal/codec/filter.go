package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FilterID identifies a reversible byte transform applied to a block before
// the codec runs. Values are stored in chunk headers and must not change.
type FilterID uint8

const (
	NoFilter   FilterID = 0
	Shuffle    FilterID = 1
	BitShuffle FilterID = 2
	Delta      FilterID = 3
	// TruncPrec zeroes low mantissa bits of float32 or float64 items. The
	// filter meta byte is the number of mantissa bits kept. It is lossy, so
	// decoding leaves the data as is.
	TruncPrec FilterID = 4
)

// MaxFilters is the length of a filter pipeline.
const MaxFilters = 5

var filterNames = map[FilterID]string{
	NoFilter:   "none",
	Shuffle:    "shuffle",
	BitShuffle: "bitshuffle",
	Delta:      "delta",
	TruncPrec:  "truncprec",
}

func (f FilterID) String() string {
	if s, ok := filterNames[f]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(f))
}

// ParseFilterID maps a filter name to its id.
func ParseFilterID(s string) (FilterID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id, name := range filterNames {
		if name == s {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFilter, s)
}

func (f FilterID) MarshalText() ([]byte, error) {
	if _, ok := filterNames[f]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFilter, uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *FilterID) UnmarshalText(text []byte) error {
	v, err := ParseFilterID(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func checkFilter(id FilterID, meta uint8, typeSize int) error {
	switch id {
	case NoFilter, Shuffle, BitShuffle, Delta:
		return nil
	case TruncPrec:
		if typeSize != 4 && typeSize != 8 {
			return fmt.Errorf("%w: truncprec needs 4 or 8 byte items, got %d", ErrUnsupportedFilter, typeSize)
		}
		return nil
	}
	return fmt.Errorf("%w: id %d", ErrUnsupportedFilter, uint8(id))
}

// forward runs filter id from src into dst. Both have the same length.
func forward(id FilterID, meta uint8, typeSize int, dst, src []byte) {
	switch id {
	case Shuffle:
		shuffle(dst, src, typeSize)
	case BitShuffle:
		bitShuffle(dst, src, typeSize)
	case Delta:
		deltaEncode(dst, src, typeSize)
	case TruncPrec:
		truncPrec(dst, src, typeSize, int(meta))
	default:
		copy(dst, src)
	}
}

// backward undoes forward.
func backward(id FilterID, typeSize int, dst, src []byte) {
	switch id {
	case Shuffle:
		unshuffle(dst, src, typeSize)
	case BitShuffle:
		bitUnshuffle(dst, src, typeSize)
	case Delta:
		deltaDecode(dst, src, typeSize)
	default:
		copy(dst, src)
	}
}

// shuffle groups byte k of every item together. Trailing bytes that do not
// form a whole item are copied through.
//
//	in:  [a1 a2 a3 a4][b1 b2 b3 b4]
//	out: [a1 b1][a2 b2][a3 b3][a4 b4]
func shuffle(dst, src []byte, typeSize int) {
	n := len(src) / typeSize
	if typeSize == 1 || n < 2 {
		copy(dst, src)
		return
	}
	for b := 0; b < typeSize; b++ {
		for e := 0; e < n; e++ {
			dst[b*n+e] = src[e*typeSize+b]
		}
	}
	copy(dst[n*typeSize:], src[n*typeSize:])
}

func unshuffle(dst, src []byte, typeSize int) {
	n := len(src) / typeSize
	if typeSize == 1 || n < 2 {
		copy(dst, src)
		return
	}
	for b := 0; b < typeSize; b++ {
		for e := 0; e < n; e++ {
			dst[e*typeSize+b] = src[b*n+e]
		}
	}
	copy(dst[n*typeSize:], src[n*typeSize:])
}

// bitShuffle transposes the bit matrix of the first multiple of eight items:
// bit plane p holds bit p%8 of byte p/8 of every item. The remainder is
// copied through.
func bitShuffle(dst, src []byte, typeSize int) {
	n := len(src) / typeSize
	n8 := n - n%8
	planeLen := n8 / 8
	clear(dst[:n8*typeSize])
	for e := 0; e < n8; e++ {
		for b := 0; b < typeSize; b++ {
			v := src[e*typeSize+b]
			if v == 0 {
				continue
			}
			for k := 0; k < 8; k++ {
				if v&(1<<k) != 0 {
					dst[(b*8+k)*planeLen+e/8] |= 1 << (e % 8)
				}
			}
		}
	}
	copy(dst[n8*typeSize:], src[n8*typeSize:])
}

func bitUnshuffle(dst, src []byte, typeSize int) {
	n := len(src) / typeSize
	n8 := n - n%8
	planeLen := n8 / 8
	clear(dst[:n8*typeSize])
	for p := 0; p < typeSize*8; p++ {
		b, k := p/8, p%8
		plane := src[p*planeLen : (p+1)*planeLen]
		for i, v := range plane {
			if v == 0 {
				continue
			}
			for j := 0; j < 8; j++ {
				if v&(1<<j) != 0 {
					dst[(i*8+j)*typeSize+b] |= 1 << k
				}
			}
		}
	}
	copy(dst[n8*typeSize:], src[n8*typeSize:])
}

// deltaEncode XORs every byte with the same byte of the previous item.
func deltaEncode(dst, src []byte, typeSize int) {
	copy(dst[:min(typeSize, len(src))], src)
	for i := typeSize; i < len(src); i++ {
		dst[i] = src[i] ^ src[i-typeSize]
	}
}

func deltaDecode(dst, src []byte, typeSize int) {
	copy(dst[:min(typeSize, len(src))], src)
	for i := typeSize; i < len(src); i++ {
		dst[i] = src[i] ^ dst[i-typeSize]
	}
}

// truncPrec keeps the top keep mantissa bits of little endian IEEE 754
// items.
func truncPrec(dst, src []byte, typeSize, keep int) {
	copy(dst, src)
	switch typeSize {
	case 4:
		const mantissa = 23
		if keep >= mantissa {
			return
		}
		mask := ^uint32(0) << uint(mantissa-keep)
		for i := 0; i+4 <= len(dst); i += 4 {
			v := binary.LittleEndian.Uint32(dst[i:])
			binary.LittleEndian.PutUint32(dst[i:], v&mask)
		}
	case 8:
		const mantissa = 52
		if keep >= mantissa {
			return
		}
		mask := ^uint64(0) << uint(mantissa-keep)
		for i := 0; i+8 <= len(dst); i += 8 {
			v := binary.LittleEndian.Uint64(dst[i:])
			binary.LittleEndian.PutUint64(dst[i:], v&mask)
		}
	}
}
