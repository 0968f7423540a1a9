package caterva

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/qri-io/caterva-go/internal/logging"
)

// FrameKey is the key, below an array's path, of its serialized SuperChunk.
const FrameKey = "chunks.frame"

type PersistenceMode string

const (
	// ModeRead opens an array read only; mutations fail with ErrReadOnly.
	ModeRead PersistenceMode = "r"
	// ModeReadWrite opens an array for reading and further appends.
	ModeReadWrite PersistenceMode = "r+"
)

// Save writes the array to s under path. The geometry is recorded as JSON in
// the "caterva" metalayer of the written frame.
func (a *Array) Save(s Store, path string) error {
	if err := a.usable(); err != nil {
		return err
	}
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	meta, err := a.metaJSON()
	if err != nil {
		return err
	}
	frame, err := a.sc.encodeFrame(metalayer{name: MetalayerName, content: meta})
	if err != nil {
		return err
	}
	key := p.Join(FrameKey).String()
	if err := s.Put(key, bytes.NewReader(frame)); err != nil {
		return fmt.Errorf("saving %q: %w", key, err)
	}
	a.log.Debug("array saved", "store", s.Type(), "key", key, "bytes", len(frame))
	return nil
}

// Open reads the array saved under path.
func Open(s Store, path string, mode PersistenceMode, dp DecompressionParams) (*Array, error) {
	if mode != ModeRead && mode != ModeReadWrite {
		return nil, fmt.Errorf("%w: persistence mode %q", ErrInvalidParams, mode)
	}
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	key := p.Join(FrameKey).String()
	f, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}

	sc, err := ReadFrame(data, dp)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	raw, err := sc.Metalayer(MetalayerName)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", key, err)
	}
	m, err := parseArrayMeta(raw)
	if err != nil {
		return nil, err
	}
	if m.ItemSize != sc.TypeSize() {
		return nil, fmt.Errorf("%w: itemsize %d, frame typesize %d", ErrInvalidShape, m.ItemSize, sc.TypeSize())
	}

	a, err := Create(Params{Shape: m.Shape, ChunkShape: m.Chunks, Dtype: m.Dtype}, sc.cparams, dp)
	if err != nil {
		return nil, err
	}
	if sc.NChunks() > a.ChunkCount() {
		return nil, fmt.Errorf("%w: %d chunks for a grid of %d", ErrInvalidShape, sc.NChunks(), a.ChunkCount())
	}
	if sc.NChunks() > 0 && sc.chunkNBytes != a.chunkBytes() {
		return nil, fmt.Errorf("%w: chunks hold %d bytes, geometry needs %d", ErrSizeMismatch, sc.chunkNBytes, a.chunkBytes())
	}
	sc.chunkNBytes = a.chunkBytes()
	a.sc = sc
	a.mode = mode
	return a, nil
}

// List returns the paths of every array saved in s, sorted. The store must
// implement Lister.
func List(s Store) ([]string, error) {
	l, ok := s.(Lister)
	if !ok {
		return nil, fmt.Errorf("%s cannot list keys", s.Type())
	}
	keys, err := l.Keys("")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, k := range keys {
		if k == FrameKey {
			paths = append(paths, "")
		} else if strings.HasSuffix(k, "/"+FrameKey) {
			paths = append(paths, strings.TrimSuffix(k, "/"+FrameKey))
		}
	}
	logging.Component("store").Debug("arrays listed", "store", s.Type(), "count", len(paths))
	return paths, nil
}

// Path is a normalized logical path inside a Store.
type Path []string

// NewPath normalizes a logical path: backslashes become slashes, leading,
// trailing and repeated slashes are dropped. "." and ".." segments are
// rejected.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, "\\", "/")
	var p Path
	for _, seg := range strings.Split(posix, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path %q: relative segment %q", posix, seg)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join returns a new path; p is not modified.
func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}
