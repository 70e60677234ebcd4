package container

import (
	"fmt"
	"io"

	"github.com/SplinterGU/PSARc/internal/byteio"
)

// BlockTable is the dense sequence of per-block compressed sizes. A slot
// value of 0 is the sentinel meaning "this block's compressed size equals
// blockSize" — used both when a full-size block happens to compress to
// exactly blockSize, and when a full-size block is stored uncompressed.
type BlockTable struct {
	ItemWidth int
	BlockSize uint32
	Raw       []uint32 // unresolved: 0 means "blockSize"
}

// NewBlockTable allocates a block table for totalBlocks slots.
func NewBlockTable(blockSize uint32, totalBlocks uint64, itemWidth int) *BlockTable {
	return &BlockTable{
		ItemWidth: itemWidth,
		BlockSize: blockSize,
		Raw:       make([]uint32, totalBlocks),
	}
}

// Set records the raw (possibly-sentinel) slot value for block index i.
// emitted == blockSize is written as the sentinel 0, matching the write
// direction's rule in the block pipeline.
func (t *BlockTable) Set(i int, emitted uint32) {
	if emitted == t.BlockSize {
		t.Raw[i] = 0
	} else {
		t.Raw[i] = emitted
	}
}

// Resolve returns the actual compressed size of block i: blockSize if the
// slot is the sentinel 0, otherwise the slot's raw value.
func (t *BlockTable) Resolve(i int) uint32 {
	v := t.Raw[i]
	if v == 0 {
		return t.BlockSize
	}
	return v
}

// ReadBlockTable reads totalBlocks items of width itemWidth from r.
func ReadBlockTable(r io.Reader, blockSize uint32, totalBlocks uint64, itemWidth int) (*BlockTable, error) {
	t := NewBlockTable(blockSize, totalBlocks, itemWidth)
	buf := make([]byte, itemWidth)
	for i := range t.Raw {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("container: reading block table item %d: %w", i, err)
		}
		v, err := byteio.ReadBlockItem(buf, itemWidth)
		if err != nil {
			return nil, err
		}
		t.Raw[i] = v
	}
	return t, nil
}

// WriteBlockTable writes t to w in ascending index order.
func WriteBlockTable(w io.Writer, t *BlockTable) error {
	buf := make([]byte, t.ItemWidth)
	for i, v := range t.Raw {
		byteio.PutBlockItem(buf, t.ItemWidth, v)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("container: writing block table item %d: %w", i, err)
		}
	}
	return nil
}

// SliceFor returns the resolved compressed sizes for blocks
// [firstBlockIndex, firstBlockIndex+blockCount).
func (t *BlockTable) SliceFor(firstBlockIndex uint32, blockCount uint32) []uint64 {
	out := make([]uint64, blockCount)
	for i := range out {
		out[i] = uint64(t.Resolve(int(firstBlockIndex) + i))
	}
	return out
}

// SumFor returns the sum of the resolved compressed sizes for an entry's
// blocks, i.e. its compressed size (invariant 2).
func (t *BlockTable) SumFor(firstBlockIndex uint32, blockCount uint32) uint64 {
	var total uint64
	for i := uint32(0); i < blockCount; i++ {
		total += uint64(t.Resolve(int(firstBlockIndex + i)))
	}
	return total
}
