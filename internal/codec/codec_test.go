package codec

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// smooth returns n float64 values that compress well.
func smooth(n int) []byte {
	buf := make([]byte, n*8)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(float64(i/7)*0.25))
	}
	return buf
}

func noise(n int) []byte {
	r := rand.New(rand.NewSource(42))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestRoundTripCodecs(t *testing.T) {
	filters := [][MaxFilters]FilterID{
		{},
		{Shuffle},
		{BitShuffle},
		{Delta},
		{Delta, Shuffle},
		{Shuffle, BitShuffle, Delta},
	}
	src := smooth(10000)
	for id := range codecNames {
		for _, fs := range filters {
			t.Run(id.String(), func(t *testing.T) {
				p := Params{Codec: id, Level: 5, TypeSize: 8, NThreads: 2, BlockSize: 16 << 10, Filters: fs}
				c, err := Compress(src, p)
				require.NoError(t, err)
				require.Less(t, len(c), len(src))

				h, err := ParseHeader(c)
				require.NoError(t, err)
				require.Equal(t, id, h.Codec)
				require.Equal(t, len(src), h.NBytes)
				require.Equal(t, len(c), h.CBytes)
				require.Equal(t, fs, h.Filters)

				dst := make([]byte, len(src))
				n, err := DecompressParallel(c, dst, 3)
				require.NoError(t, err)
				require.Equal(t, len(src), n)
				require.Equal(t, src, dst)
			})
		}
	}
}

func TestLevelZeroStoresRaw(t *testing.T) {
	src := smooth(100)
	c, err := Compress(src, Params{Codec: Zstd, Level: 0, TypeSize: 8})
	require.NoError(t, err)
	require.Equal(t, HeaderSize+len(src), len(c))

	h, err := ParseHeader(c)
	require.NoError(t, err)
	require.True(t, h.Memcpy)

	dst := make([]byte, len(src))
	_, err = Decompress(c, dst)
	require.NoError(t, err)
	require.Equal(t, src, dst)
}

func TestIncompressibleFallsBackToRaw(t *testing.T) {
	src := noise(4096)
	c, err := Compress(src, Params{Codec: LZ4, Level: 9, TypeSize: 1})
	require.NoError(t, err)
	require.LessOrEqual(t, len(c), HeaderSize+len(src))

	dst := make([]byte, len(src))
	_, err = Decompress(c, dst)
	require.NoError(t, err)
	require.Equal(t, src, dst)
}

func TestMixedBlocks(t *testing.T) {
	// one compressible block followed by one that is not
	src := append(make([]byte, 4096), noise(4096)...)
	c, err := Compress(src, Params{Codec: Snappy, Level: 5, TypeSize: 4, BlockSize: 4096, Filters: [MaxFilters]FilterID{Shuffle}})
	require.NoError(t, err)
	h, err := ParseHeader(c)
	require.NoError(t, err)
	require.False(t, h.Memcpy)
	require.Equal(t, 2, h.NBlocks)

	dst := make([]byte, len(src))
	_, err = Decompress(c, dst)
	require.NoError(t, err)
	require.Equal(t, src, dst)
}

func TestEmptyChunk(t *testing.T) {
	c, err := Compress(nil, Params{Codec: LZ4, Level: 5, TypeSize: 8})
	require.NoError(t, err)
	n, err := Decompress(c, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTruncPrec(t *testing.T) {
	src := make([]byte, 8*512)
	for i := 0; i < 512; i++ {
		binary.LittleEndian.PutUint64(src[i*8:], math.Float64bits(math.Pi*float64(i)))
	}
	p := Params{Codec: Zstd, Level: 5, TypeSize: 8, Filters: [MaxFilters]FilterID{TruncPrec, Shuffle}, FiltersMeta: [MaxFilters]uint8{10}}
	c, err := Compress(src, p)
	require.NoError(t, err)

	dst := make([]byte, len(src))
	_, err = Decompress(c, dst)
	require.NoError(t, err)
	for i := 0; i < 512; i++ {
		want := math.Pi * float64(i)
		got := math.Float64frombits(binary.LittleEndian.Uint64(dst[i*8:]))
		require.InEpsilon(t, want+1, got+1, 1e-3)
		require.Zero(t, binary.LittleEndian.Uint64(dst[i*8:])&(1<<42-1))
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Params
		err  error
	}{
		{"unknown codec", Params{Codec: 99, Level: 1, TypeSize: 1}, ErrUnsupportedCodec},
		{"zero codec", Params{Level: 1, TypeSize: 1}, ErrUnsupportedCodec},
		{"level", Params{Codec: LZ4, Level: 10, TypeSize: 1}, ErrInvalidParams},
		{"typesize", Params{Codec: LZ4, Level: 1, TypeSize: 0}, ErrInvalidParams},
		{"typesize too big", Params{Codec: LZ4, Level: 1, TypeSize: 256}, ErrInvalidParams},
		{"filter", Params{Codec: LZ4, Level: 1, TypeSize: 1, Filters: [MaxFilters]FilterID{77}}, ErrUnsupportedFilter},
		{"truncprec typesize", Params{Codec: LZ4, Level: 1, TypeSize: 2, Filters: [MaxFilters]FilterID{TruncPrec}}, ErrUnsupportedFilter},
		{"truncprec order", Params{Codec: LZ4, Level: 1, TypeSize: 8, Filters: [MaxFilters]FilterID{Shuffle, TruncPrec}}, ErrUnsupportedFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.p.Validate(), tt.err)
			_, err := Compress([]byte{1, 2, 3, 4}, tt.p)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecompressCorrupt(t *testing.T) {
	src := smooth(4096)
	c, err := Compress(src, Params{Codec: LZ4, Level: 5, TypeSize: 8, Filters: [MaxFilters]FilterID{Shuffle}})
	require.NoError(t, err)
	dst := make([]byte, len(src))

	_, err = Decompress(c[:10], dst)
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = Decompress(c[:len(c)-1], dst)
	require.ErrorIs(t, err, ErrCorrupt)

	bad := append([]byte(nil), c...)
	bad[1] = 200
	_, err = Decompress(bad, dst)
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	bad = append([]byte(nil), c...)
	bad[0] = 9
	_, err = Decompress(bad, dst)
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = Decompress(c, dst[:100])
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestParseNames(t *testing.T) {
	for id, name := range codecNames {
		got, err := ParseID(name)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
	_, err := ParseID("blosclz")
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	var f FilterID
	require.NoError(t, f.UnmarshalText([]byte("BitShuffle")))
	require.Equal(t, BitShuffle, f)
	text, err := Delta.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "delta", string(text))
}
