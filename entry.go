package psarc

// NameDigestSize is the width of an entry's name digest: an MD5 sum.
const NameDigestSize = 16

// NameDigest is the MD5 of an entry's stored filename bytes (no NUL
// terminator). The manifest entry (index 0) always has the zero digest.
type NameDigest [NameDigestSize]byte

// IsZero reports whether d is the all-zero digest used by the manifest
// entry.
func (d NameDigest) IsZero() bool {
	return d == NameDigest{}
}

// Entry describes one archive member: the manifest at index 0, or a packed
// file at indices 1..N. Only the fields actually stored in the TOC are
// struct fields; BlockCount and CompressedSize are derived views rather
// than redundant state: BlockCount is computed from UncompressedSize and
// the block size, CompressedSize from the block-size table.
type Entry struct {
	// Name is populated for files from the manifest (read path) or from the
	// enumerator (write path). It is never stored in the TOC itself.
	Name string

	NameDigest      NameDigest
	FirstBlockIndex uint32
	UncompressedSize uint64 // 40-bit value on the wire
	FileOffset       uint64 // 40-bit value on the wire

	// blockSizes holds this entry's resolved (sentinel-free) per-block
	// compressed sizes, populated once the block pipeline has committed
	// them. It is the source of truth for BlockCount/CompressedSize.
	blockSizes []uint32
}

// IsManifest reports whether e is the synthetic manifest entry.
func (e *Entry) IsManifest() bool {
	return e.NameDigest.IsZero()
}

// BlockCount returns ceil(UncompressedSize / blockSize).
func (e *Entry) BlockCount(blockSize uint32) uint32 {
	if e.UncompressedSize == 0 {
		return 0
	}
	bs := uint64(blockSize)
	return uint32((e.UncompressedSize + bs - 1) / bs)
}

// SetBlockSizes installs the entry's resolved per-block compressed sizes,
// called exactly once by the block pipeline after all of the entry's blocks
// have committed.
func (e *Entry) SetBlockSizes(sizes []uint32) {
	e.blockSizes = sizes
}

// BlockSizes returns the entry's resolved per-block compressed sizes, or
// nil if they have not been committed yet.
func (e *Entry) BlockSizes() []uint32 {
	return e.blockSizes
}

// CompressedSize returns the sum of the entry's block sizes (invariant 2).
func (e *Entry) CompressedSize() uint64 {
	var total uint64
	for _, s := range e.blockSizes {
		total += uint64(s)
	}
	return total
}
