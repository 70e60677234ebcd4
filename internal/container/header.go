// Package container implements the PSARC binary container codec: the
// 32-byte header, the 30-byte-per-entry table of contents, and the dense
// block-size table, all packed big-endian at exact offsets. This mirrors
// the parsing shape of quay-claircore's pkg/tarfs (sniff a fixed-size
// footer/header region, branch on signature bytes, decode fixed fields with
// encoding/binary) adapted to PSARC's header-first, fixed-width layout.
package container

import (
	"fmt"
	"io"

	"github.com/SplinterGU/PSARc/internal/byteio"
)

// HeaderSize is the fixed size of the archive header.
const HeaderSize = 32

// TocEntrySize is the fixed size of one table-of-contents entry.
const TocEntrySize = 30

// Magic is the 4-byte archive signature.
var Magic = [4]byte{'P', 'S', 'A', 'R'}

// Header is the decoded form of the 32-byte archive header.
type Header struct {
	VersionMajor, VersionMinor uint16
	CodecTag                   [4]byte
	TocLength                  uint32
	TocEntrySize               uint32
	EntryCount                 uint32
	BlockSize                  uint32
	Flags                      uint32
}

// Encode writes h into the 32-byte buffer b, which must have length
// HeaderSize.
func (h Header) Encode(b []byte) {
	if len(b) < HeaderSize {
		panic("container: header buffer too small")
	}
	copy(b[0:4], Magic[:])
	byteio.PutUint16(b[4:6], h.VersionMajor)
	byteio.PutUint16(b[6:8], h.VersionMinor)
	copy(b[8:12], h.CodecTag[:])
	byteio.PutUint32(b[12:16], h.TocLength)
	byteio.PutUint32(b[16:20], h.TocEntrySize)
	byteio.PutUint32(b[20:24], h.EntryCount)
	byteio.PutUint32(b[24:28], h.BlockSize)
	byteio.PutUint32(b[28:32], h.Flags)
}

// DecodeHeader parses the 32-byte archive header from b.
//
// Fails with a structural error (wrapped by the caller into a
// psarc.Error) when the magic is wrong, the region is short, or the codec
// tag names neither "zlib" nor "lzma".
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("container: truncated header: got %d bytes, want %d", len(b), HeaderSize)
	}
	if [4]byte(b[0:4]) != Magic {
		return h, fmt.Errorf("container: invalid magic %q", b[0:4])
	}
	h.VersionMajor, _ = byteio.Uint16(b[4:6])
	h.VersionMinor, _ = byteio.Uint16(b[6:8])
	copy(h.CodecTag[:], b[8:12])
	h.TocLength, _ = byteio.Uint32(b[12:16])
	h.TocEntrySize, _ = byteio.Uint32(b[16:20])
	h.EntryCount, _ = byteio.Uint32(b[20:24])
	h.BlockSize, _ = byteio.Uint32(b[24:28])
	h.Flags, _ = byteio.Uint32(b[28:32])
	switch h.CodecTag {
	case [4]byte{'z', 'l', 'i', 'b'}, [4]byte{'l', 'z', 'm', 'a'}:
	default:
		return h, fmt.Errorf("container: unsupported codec tag %q", h.CodecTag)
	}
	return h, nil
}

// ReadHeader reads and decodes the header from the start of r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("container: reading header: %w", err)
	}
	return DecodeHeader(buf[:])
}
