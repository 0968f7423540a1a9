package caterva

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/qri-io/caterva-go/internal/codec"
	"github.com/qri-io/caterva-go/internal/logging"
)

// Serialized SuperChunk layout, little endian:
//
//	magic "CATF" | version u8 | flags u8 | codec u8 | level u8
//	typesize u32 | blocksize u32 | nchunks u64 | nbytes u64 | cbytes u64
//	filters [5]u8 | filters meta [5]u8
//	nmeta u16 | { namelen u8 | name | len u32 | content } * nmeta
//	{ cbytes u32 | nbytes u32 | xxhash64 u64 } * nchunks
//	header xxhash64 u64
//	chunk payloads
const (
	frameMagic   = "CATF"
	frameVersion = 1

	frameFlagUseDict = 0x1
)

// MarshalBinary serializes the SuperChunk and its metalayers.
func (sc *SuperChunk) MarshalBinary() ([]byte, error) {
	return sc.encodeFrame()
}

// encodeFrame serializes sc, with extra metalayers replacing stored ones of
// the same name.
func (sc *SuperChunk) encodeFrame(extra ...metalayer) ([]byte, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.freed {
		return nil, ErrUseAfterFree
	}

	metas := append([]metalayer(nil), sc.metalayers...)
	for _, m := range extra {
		found := false
		for i := range metas {
			if metas[i].name == m.name {
				metas[i] = m
				found = true
			}
		}
		if !found {
			metas = append(metas, m)
		}
	}
	if len(metas) > MaxMetalayers {
		return nil, fmt.Errorf("%w: at most %d metalayers", ErrInvalidParams, MaxMetalayers)
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString(frameMagic)
	var flags byte
	if sc.cparams.UseDict {
		flags |= frameFlagUseDict
	}
	buf.Write([]byte{frameVersion, flags, byte(sc.cparams.Codec), byte(sc.cparams.Level)})
	buf.Write(le.AppendUint32(nil, uint32(sc.cparams.TypeSize)))
	buf.Write(le.AppendUint32(nil, uint32(sc.cparams.BlockSize)))
	buf.Write(le.AppendUint64(nil, uint64(len(sc.chunks))))
	buf.Write(le.AppendUint64(nil, uint64(sc.nbytes)))
	buf.Write(le.AppendUint64(nil, uint64(sc.cbytes)))
	cp := sc.cparams.codecParams(1)
	for _, f := range cp.Filters {
		buf.WriteByte(byte(f))
	}
	buf.Write(cp.FiltersMeta[:])

	buf.Write(le.AppendUint16(nil, uint16(len(metas))))
	for _, m := range metas {
		if len(m.content) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: metalayer %q too large", ErrInvalidParams, m.name)
		}
		buf.WriteByte(byte(len(m.name)))
		buf.WriteString(m.name)
		buf.Write(le.AppendUint32(nil, uint32(len(m.content))))
		buf.Write(m.content)
	}

	for _, c := range sc.chunks {
		buf.Write(le.AppendUint32(nil, uint32(len(c))))
		buf.Write(le.AppendUint32(nil, uint32(sc.chunkNBytes)))
		buf.Write(le.AppendUint64(nil, xxhash.Sum64(c)))
	}
	buf.Write(le.AppendUint64(nil, xxhash.Sum64(buf.Bytes())))

	for _, c := range sc.chunks {
		buf.Write(c)
	}
	return buf.Bytes(), nil
}

// frameReader walks a serialized frame, failing with ErrCodec on
// truncation.
type frameReader struct {
	data []byte
	off  int
	err  error
}

func (r *frameReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data)-r.off {
		r.err = fmt.Errorf("%w: frame truncated at byte %d", ErrCodec, r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *frameReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *frameReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *frameReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *frameReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// ReadFrame parses a serialized SuperChunk. Chunks are checked against their
// recorded checksums and headers.
func ReadFrame(data []byte, dp DecompressionParams) (*SuperChunk, error) {
	r := &frameReader{data: data}
	if magic := r.take(len(frameMagic)); r.err == nil && string(magic) != frameMagic {
		return nil, fmt.Errorf("%w: bad frame magic %q", ErrCodec, magic)
	}
	if v := r.u8(); r.err == nil && v != frameVersion {
		return nil, fmt.Errorf("%w: unsupported frame version %d", ErrCodec, v)
	}

	flags := r.u8()
	cp := CompressionParams{
		Codec:    Codec(r.u8()),
		Level:    int(r.u8()),
		UseDict:  flags&frameFlagUseDict != 0,
		TypeSize: int(r.u32()),
		NThreads: 1,
	}
	cp.BlockSize = int(r.u32())
	nchunks := r.u64()
	nbytes := r.u64()
	cbytes := r.u64()
	filterIDs := r.take(MaxFilters)
	filterMeta := r.take(MaxFilters)
	for i := 0; r.err == nil && i < MaxFilters; i++ {
		if filterIDs[i] != byte(codec.NoFilter) {
			cp.Filters = append(cp.Filters, Filter{ID: FilterID(filterIDs[i]), Meta: filterMeta[i]})
		}
	}

	nmeta := int(r.u16())
	var metas []metalayer
	for i := 0; r.err == nil && i < nmeta; i++ {
		name := string(r.take(int(r.u8())))
		content := bytes.Clone(r.take(int(r.u32())))
		metas = append(metas, metalayer{name: name, content: content})
	}
	if r.err != nil {
		return nil, r.err
	}
	if nmeta > MaxMetalayers {
		return nil, fmt.Errorf("%w: %d metalayers", ErrCodec, nmeta)
	}
	if nchunks > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d chunks in a %d byte frame", ErrCodec, nchunks, len(data))
	}

	type entry struct {
		cbytes, nbytes int
		sum            uint64
	}
	entries := make([]entry, nchunks)
	for i := range entries {
		entries[i] = entry{cbytes: int(r.u32()), nbytes: int(r.u32()), sum: r.u64()}
	}
	headerEnd := r.off
	sum := r.u64()
	if r.err != nil {
		return nil, r.err
	}
	if xxhash.Sum64(data[:headerEnd]) != sum {
		return nil, fmt.Errorf("%w: frame header checksum mismatch", ErrCodec)
	}

	sc, err := NewSuperChunk(cp, dp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodec, err)
	}
	sc.metalayers = metas

	chunks := make([][]byte, nchunks)
	for i, e := range entries {
		c := r.take(e.cbytes)
		if r.err != nil {
			return nil, r.err
		}
		if xxhash.Sum64(c) != e.sum {
			return nil, chunkErr("read", i, fmt.Errorf("%w: checksum mismatch", ErrCodec))
		}
		chunks[i] = bytes.Clone(c)
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCodec, len(data)-r.off)
	}
	if len(chunks) > 0 {
		if _, err := sc.commit(chunks...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		for i, e := range entries {
			if e.nbytes != sc.chunkNBytes {
				return nil, chunkErr("read", i, fmt.Errorf("%w: table says %d bytes", ErrCodec, e.nbytes))
			}
		}
	}
	if uint64(sc.nbytes) != nbytes || uint64(sc.cbytes) != cbytes {
		return nil, fmt.Errorf("%w: frame totals do not match its chunks", ErrCodec)
	}

	logging.Component("frame").Debug("frame loaded", "chunks", nchunks, "cbytes", cbytes, "metalayers", nmeta)
	return sc, nil
}
