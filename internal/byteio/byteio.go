// Package byteio provides the big-endian, fixed-width integer primitives
// the container codec needs: everything in a PSARC archive outside of the
// compressed block payloads is packed big-endian at exact byte offsets, and
// several fields (the 40-bit offset/size pair, the variable-width block-size
// table item) have no stdlib encoding/binary helper.
package byteio

import (
	"encoding/binary"
	"fmt"
)

// ErrShort is returned by the Read* helpers when the source slice is
// shorter than the field being decoded.
type ErrShort struct {
	Field string
	Want  int
	Got   int
}

func (e *ErrShort) Error() string {
	return fmt.Sprintf("byteio: short read of %s: want %d bytes, got %d", e.Field, e.Want, e.Got)
}

// Uint16 reads a big-endian uint16 at the start of b.
func Uint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, &ErrShort{"uint16", 2, len(b)}
	}
	return binary.BigEndian.Uint16(b), nil
}

// PutUint16 writes v big-endian into the start of b.
func PutUint16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// Uint32 reads a big-endian uint32 at the start of b.
func Uint32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, &ErrShort{"uint32", 4, len(b)}
	}
	return binary.BigEndian.Uint32(b), nil
}

// PutUint32 writes v big-endian into the start of b.
func PutUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

// Uint40 reads a 40-bit big-endian unsigned integer from the first 5 bytes
// of b, zero-extended into a uint64. Used for Entry.UncompressedSize and
// Entry.FileOffset.
func Uint40(b []byte) (uint64, error) {
	if len(b) < 5 {
		return 0, &ErrShort{"uint40", 5, len(b)}
	}
	var v uint64
	for i := 0; i < 5; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// PutUint40 writes the low 40 bits of v, big-endian, into the first 5 bytes
// of b. It is the caller's responsibility to ensure v < 2^40.
func PutUint40(b []byte, v uint64) {
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// ItemWidth is the byte width of a single block-size table slot for the
// given archive block size: the smallest W in {1,2,3,4} such that
// blockSize <= 2^(8W).
func ItemWidth(blockSize uint32) (int, error) {
	switch {
	case blockSize == 0:
		return 0, fmt.Errorf("byteio: block size must be nonzero")
	case uint64(blockSize) <= 1<<8:
		return 1, nil
	case uint64(blockSize) <= 1<<16:
		return 2, nil
	case uint64(blockSize) <= 1<<24:
		return 3, nil
	case uint64(blockSize) <= 1<<32:
		return 4, nil
	default:
		return 0, fmt.Errorf("byteio: block size %d exceeds 2^32", blockSize)
	}
}

// ReadBlockItem reads a single block-size table slot of the given width,
// big-endian, from the start of b.
func ReadBlockItem(b []byte, width int) (uint32, error) {
	if len(b) < width {
		return 0, &ErrShort{"block item", width, len(b)}
	}
	var v uint32
	for i := 0; i < width; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v, nil
}

// PutBlockItem writes a single block-size table slot of the given width,
// big-endian, into the start of b.
func PutBlockItem(b []byte, width int, v uint32) {
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
