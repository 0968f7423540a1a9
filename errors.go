package caterva

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDimension is returned for arrays with no axes or more than
	// MaxDim axes.
	ErrInvalidDimension = errors.New("invalid dimension")
	// ErrInvalidShape is returned for malformed shape or chunk shape vectors.
	ErrInvalidShape = errors.New("invalid shape")
	// ErrSizeMismatch is returned when a buffer length does not match the
	// array it is copied into.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrCapacity is returned when an output buffer is too small.
	ErrCapacity = errors.New("insufficient capacity")
	ErrInvalidRange = errors.New("invalid range")
	// ErrIncompatiblePartition is returned when two arrays are not chunked
	// the same way.
	ErrIncompatiblePartition = errors.New("incompatible partition")
	// ErrCodec wraps every compression or decompression failure.
	ErrCodec        = errors.New("codec error")
	ErrUseAfterFree = errors.New("use after free")
	// ErrNotEmpty is returned when filling an array that already has chunks.
	ErrNotEmpty = errors.New("array not empty")
	// ErrArrayFull is returned when appending past the last chunk.
	ErrArrayFull = errors.New("array full")
	// ErrNotFilled is returned when reading from an array whose chunks have
	// not all been written.
	ErrNotFilled = errors.New("array not filled")
	ErrReadOnly  = errors.New("array is read only")
	// ErrMetalayerExists is returned by AddMetalayer for a taken name.
	ErrMetalayerExists = errors.New("metalayer exists")
	// ErrInvalidParams is returned for out of range compression settings.
	ErrInvalidParams = errors.New("invalid parameters")
)

// ChunkError records which chunk of a parallel operation failed.
type ChunkError struct {
	Op    string
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s chunk %d: %v", e.Op, e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

func chunkErr(op string, index int, err error) error {
	var ce *ChunkError
	if errors.As(err, &ce) {
		return err
	}
	return &ChunkError{Op: op, Index: index, Err: err}
}
