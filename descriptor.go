package psarc

import "github.com/SplinterGU/PSARc/internal/byteio"

// Codec identifies the per-block compression scheme an archive was created
// with. The header names a single archive-wide codec even though individual
// blocks may still be stored verbatim when compression does not shrink
// them; see [Entry] and the block pipeline for the per-block fallback rule.
type Codec int

// Defined codecs. Store is never named in the header: the writer always
// picks Zlib or Lzma2 for the header's codec tag, even if every block ends
// up stored.
const (
	Store Codec = iota
	Zlib
	Lzma2
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case Store:
		return "store"
	case Zlib:
		return "zlib"
	case Lzma2:
		return "lzma"
	default:
		return "unknown"
	}
}

// HeaderTag returns the 4-byte codec tag written into the archive header.
// Store has no header representation: a caller building a header for a
// Store-codec archive should pick Zlib or Lzma2 to describe how any
// compressed blocks were produced, per the container format's "the writer
// must pick zlib or lzma even when individual blocks are stored verbatim"
// rule.
func (c Codec) HeaderTag() [4]byte {
	switch c {
	case Lzma2:
		return [4]byte{'l', 'z', 'm', 'a'}
	default:
		return [4]byte{'z', 'l', 'i', 'b'}
	}
}

// CodecFromTag maps a header codec tag back to a Codec. Per the container
// format, any tag other than "lzma" is treated as Zlib.
func CodecFromTag(tag [4]byte) Codec {
	if tag == [4]byte{'l', 'z', 'm', 'a'} {
		return Lzma2
	}
	return Zlib
}

// Flags holds the archive-wide bit flags stored in the header.
type Flags uint32

const (
	// FlagCaseInsensitive marks an archive whose paths should be matched
	// case-insensitively on extraction.
	FlagCaseInsensitive Flags = 1 << 0
	// FlagAbsolutePaths marks an archive whose manifest stores paths with a
	// leading '/'.
	FlagAbsolutePaths Flags = 1 << 1
)

// CaseInsensitive reports whether the case-insensitive-paths bit is set.
func (f Flags) CaseInsensitive() bool { return f&FlagCaseInsensitive != 0 }

// AbsolutePaths reports whether the absolute-paths bit is set.
func (f Flags) AbsolutePaths() bool { return f&FlagAbsolutePaths != 0 }

// Version is the archive format's major.minor version pair.
type Version struct {
	Major, Minor uint16
}

// DefaultVersion is the version written by this package when none is
// specified.
var DefaultVersion = Version{Major: 1, Minor: 4}

// DefaultBlockSize is the block size used when none is specified.
const DefaultBlockSize = 65536

// Descriptor is the immutable, in-memory description of an archive: the
// header fields plus derived totals. It is built once — by the writer
// before any worker starts, or by the reader while parsing the header and
// TOC — and never mutated afterward, per the design note that replaces the
// original implementation's mutable global archive-info with a value
// threaded through calls.
type Descriptor struct {
	Version     Version
	Codec       Codec
	BlockSize   uint32
	TocLength   uint32
	EntryCount  uint32
	Flags       Flags
	TotalBlocks uint64
}

// ItemWidth returns the byte width W of each block-size table slot for this
// descriptor's BlockSize, per the rule: the smallest W in {1,2,3,4} such
// that BlockSize <= 2^(8W).
func (d Descriptor) ItemWidth() (int, error) {
	return ItemWidth(d.BlockSize)
}

// ItemWidth returns the block-size table item width for a given block size.
// Block sizes above 2^32 are invalid.
func ItemWidth(blockSize uint32) (int, error) {
	w, err := byteio.ItemWidth(blockSize)
	if err != nil {
		return 0, Wrap("ItemWidth", ErrBadToc, err.Error(), nil)
	}
	return w, nil
}

// TocLength computes the container's table-of-contents length: the header
// plus TOC entries plus the block-size table, per invariant 4.
func TocLength(entryCount uint32, totalBlocks uint64, itemWidth int) uint32 {
	const headerSize = 32
	const tocEntrySize = 30
	return headerSize + entryCount*tocEntrySize + uint32(totalBlocks)*uint32(itemWidth)
}
