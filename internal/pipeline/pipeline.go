// Package pipeline drives one archive entry through its fixed-size blocks:
// compress-or-store on write, signature auto-detect and decompress on read.
// The write/read shapes are grounded on quay-claircore's pkg/tarfs
// randomaccess.go, which also chunks a logical file into pieces, swaps the
// compressed source feeding a shared decoder, and copies through a pooled
// buffer (getCopyBuf/putCopyBuf in pkg/tarfs/pool.go).
package pipeline

import (
	"fmt"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/internal/blockcodec"
)

// Plan describes one entry's block layout: block k covers bytes
// [k*BlockSize, min((k+1)*BlockSize, UncompressedSize)).
type Plan struct {
	UncompressedSize uint64
	BlockSize        uint32
}

// BlockCount returns ceil(UncompressedSize / BlockSize).
func (p Plan) BlockCount() int {
	if p.UncompressedSize == 0 {
		return 0
	}
	bs := uint64(p.BlockSize)
	return int((p.UncompressedSize + bs - 1) / bs)
}

// NaturalLength returns the natural (uncompressed) length of block k: equal
// to BlockSize except for the final block, which covers the remainder.
func (p Plan) NaturalLength(k int) int {
	n := p.BlockCount()
	if k == n-1 {
		full := uint64(k) * uint64(p.BlockSize)
		return int(p.UncompressedSize - full)
	}
	return int(p.BlockSize)
}

// EncodedBlock is the result of compressing one block: the bytes to emit
// into the archive stream and whether they are the raw, uncompressed
// fallback.
type EncodedBlock struct {
	Emitted []byte
	Stored  bool // true if emitted is the raw input, not codec output
}

// EncodeBlock compresses src (one block's worth of input, length L_k)
// through codec c and applies the fallback rule: if the encoded length is
// not strictly smaller than the input, the raw input is emitted instead. A
// codec that refuses the input is treated the same as a codec that failed
// to shrink it — the block is still emitted, stored verbatim, per the
// worker pool's failure-handling rule that an encode failure must not
// abort the archive.
func EncodeBlock(c psarc.Codec, level int, extreme bool, src []byte) (EncodedBlock, error) {
	if c == psarc.Store {
		return EncodedBlock{Emitted: src, Stored: true}, nil
	}
	encoded, err := blockcodec.Encode(c, level, extreme, src)
	if err != nil || len(encoded) >= len(src) {
		return EncodedBlock{Emitted: src, Stored: true}, nil
	}
	return EncodedBlock{Emitted: encoded, Stored: false}, nil
}

// DecodeBlock decompresses one block's compressed payload, auto-detecting
// the codec used to produce it (which may differ from the archive-wide
// codec if this particular block was stored verbatim), and validates the
// result against the natural (expected uncompressed) length.
func DecodeBlock(payload []byte, natural int) ([]byte, error) {
	kind := blockcodec.Detect(payload)
	out, err := blockcodec.Decode(kind, payload, natural)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode block: %w", err)
	}
	if len(out) != natural {
		return nil, fmt.Errorf("pipeline: decoded block length %d, want %d", len(out), natural)
	}
	return out, nil
}
