package container

import (
	"fmt"
	"io"

	"github.com/SplinterGU/PSARc/internal/byteio"
)

// TocEntry is the decoded, on-wire form of one table-of-contents entry.
// Derived quantities (block count, compressed size) live on
// [github.com/SplinterGU/PSARc.Entry], not here: this type is the 30-byte
// wire record only.
type TocEntry struct {
	NameDigest       [16]byte
	FirstBlockIndex  uint32
	UncompressedSize uint64 // 40-bit on the wire
	FileOffset       uint64 // 40-bit on the wire
}

// Encode writes e into the 30-byte buffer b.
func (e TocEntry) Encode(b []byte) {
	if len(b) < TocEntrySize {
		panic("container: toc entry buffer too small")
	}
	copy(b[0:16], e.NameDigest[:])
	byteio.PutUint32(b[16:20], e.FirstBlockIndex)
	byteio.PutUint40(b[20:25], e.UncompressedSize)
	byteio.PutUint40(b[25:30], e.FileOffset)
}

// DecodeTocEntry parses one 30-byte TOC entry from b.
func DecodeTocEntry(b []byte) (TocEntry, error) {
	var e TocEntry
	if len(b) < TocEntrySize {
		return e, fmt.Errorf("container: truncated toc entry: got %d bytes, want %d", len(b), TocEntrySize)
	}
	copy(e.NameDigest[:], b[0:16])
	e.FirstBlockIndex, _ = byteio.Uint32(b[16:20])
	e.UncompressedSize, _ = byteio.Uint40(b[20:25])
	e.FileOffset, _ = byteio.Uint40(b[25:30])
	return e, nil
}

// ReadToc reads count TOC entries from r.
func ReadToc(r io.Reader, count uint32) ([]TocEntry, error) {
	entries := make([]TocEntry, count)
	buf := make([]byte, TocEntrySize)
	for i := range entries {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("container: reading toc entry %d: %w", i, err)
		}
		e, err := DecodeTocEntry(buf)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// WriteToc encodes and writes entries to w, in order.
func WriteToc(w io.Writer, entries []TocEntry) error {
	buf := make([]byte, TocEntrySize)
	for i, e := range entries {
		e.Encode(buf)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("container: writing toc entry %d: %w", i, err)
		}
	}
	return nil
}

// ValidateLayout checks invariants 3 and 4 against a fully-populated set of
// entries, their resolved compressed sizes, and the declared toc length.
//
//   - Entries are laid out contiguously starting at tocLength, with no gaps.
//   - tocLength == 32 + entryCount*30 + totalBlocks*itemWidth.
func ValidateLayout(entries []TocEntry, compressedSizes []uint64, tocLength uint32, totalBlocks uint64, itemWidth int) error {
	if len(entries) == 0 {
		return fmt.Errorf("container: no entries")
	}
	want := TocLength(uint32(len(entries)), totalBlocks, itemWidth)
	if want != tocLength {
		return fmt.Errorf("container: toc length mismatch: header says %d, computed %d", tocLength, want)
	}
	if entries[0].FileOffset != uint64(tocLength) {
		return fmt.Errorf("container: entry 0 offset %d does not start at toc_length %d", entries[0].FileOffset, tocLength)
	}
	for i := 0; i < len(entries)-1; i++ {
		want := entries[i].FileOffset + compressedSizes[i]
		if entries[i+1].FileOffset != want {
			return fmt.Errorf("container: entry %d offset %d, want %d (entry %d offset %d + compressed size %d)",
				i+1, entries[i+1].FileOffset, want, i, entries[i].FileOffset, compressedSizes[i])
		}
	}
	return nil
}

// TocLength computes 32 + entryCount*30 + totalBlocks*itemWidth.
func TocLength(entryCount uint32, totalBlocks uint64, itemWidth int) uint32 {
	return HeaderSize + entryCount*TocEntrySize + uint32(totalBlocks)*uint32(itemWidth)
}
