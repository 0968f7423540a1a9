package caterva

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MetalayerName is the reserved metalayer holding an array's ArrayMeta.
	MetalayerName = "caterva"
	// FormatVersion is the ArrayMeta format this package writes.
	FormatVersion = 1
	// OrderC is the only supported layout: row-major chunks, row-major items
	// inside a chunk.
	OrderC = "C"
)

// Each saved array stores the configuration needed to interpret its chunks.
// This metadata is encoded using JSON and stored in the "caterva" metalayer
// of the array's SuperChunk.
type ArrayMeta struct {
	// An integer defining the version of the metadata format.
	Format int `json:"caterva_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of
	// the array. All chunks of an array have the same shape, edge chunks are
	// zero padded.
	Chunks []int `json:"chunks"`
	// The number of bytes in one item. Equals the SuperChunk type size.
	ItemSize int `json:"itemsize"`
	// An optional type string such as "<f8". Arrays without one are opaque
	// items of ItemSize bytes.
	Dtype *Dtype `json:"dtype,omitempty"`
	// Always "C": row-major order, the last dimension varies fastest.
	Order string `json:"order"`
}

// Validate reports every problem with m.
func (m ArrayMeta) Validate() error {
	var errs []error
	if m.Format != FormatVersion {
		errs = append(errs, fmt.Errorf("unsupported caterva_format %d", m.Format))
	}
	if len(m.Shape) == 0 || len(m.Shape) > MaxDim {
		errs = append(errs, fmt.Errorf("%w: %d axes", ErrInvalidDimension, len(m.Shape)))
	}
	if len(m.Chunks) != len(m.Shape) {
		errs = append(errs, fmt.Errorf("%w: %d chunk axes for %d shape axes", ErrInvalidShape, len(m.Chunks), len(m.Shape)))
	}
	if m.ItemSize < 1 {
		errs = append(errs, fmt.Errorf("%w: itemsize %d", ErrInvalidShape, m.ItemSize))
	}
	if m.Dtype != nil && m.Dtype.ByteSize != m.ItemSize {
		errs = append(errs, fmt.Errorf("%w: dtype %s for itemsize %d", ErrInvalidShape, m.Dtype, m.ItemSize))
	}
	if m.Order != OrderC {
		errs = append(errs, fmt.Errorf("unsupported order %q", m.Order))
	}
	return errors.Join(errs...)
}

func (a *Array) meta() ArrayMeta {
	m := ArrayMeta{
		Format:   FormatVersion,
		Shape:    a.Shape(),
		Chunks:   a.ChunkShape(),
		ItemSize: a.itemSize,
		Order:    OrderC,
	}
	if a.dtype != nil {
		dt := *a.dtype
		m.Dtype = &dt
	}
	return m
}

func (a *Array) metaJSON() ([]byte, error) {
	return json.Marshal(a.meta())
}

func parseArrayMeta(data []byte) (ArrayMeta, error) {
	m := ArrayMeta{}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("reading %q metalayer: %w", MetalayerName, err)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("reading %q metalayer: %w", MetalayerName, err)
	}
	return m, nil
}
