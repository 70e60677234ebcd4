package blockcodec

import (
	"bytes"

	"github.com/SplinterGU/PSARc"
)

// xzMagic is the XZ stream magic; every LZMA2 block is framed as a
// complete XZ stream, so this is the on-disk signature for psarc.Lzma2.
var xzMagic = [6]byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}

// zlibHeaderSecondBytes are the valid second header bytes for a zlib
// stream whose first byte is 0x78 (a 32KiB window, CMF=0x78).
var zlibHeaderSecondBytes = [4]byte{0x01, 0x5E, 0x9C, 0xDA}

// Detect identifies the codec used to produce a block's compressed payload
// by sniffing its leading bytes, mirroring the "read a few bytes, branch on
// signature" shape of quay-claircore's pkg/tarfs.New: zlib streams are
// recognized by their 2-byte header, LZMA2 blocks by the 6-byte XZ stream
// magic, and anything else is treated as stored verbatim. The header's
// declared codec is never trusted directly for this decision — a per-block
// fallback to Store must always be detectable regardless of what the
// archive-wide codec is.
func Detect(payload []byte) psarc.Codec {
	switch {
	case len(payload) >= 6 && bytes.Equal(payload[:6], xzMagic[:]):
		return psarc.Lzma2
	case len(payload) >= 2 && payload[0] == 0x78 && isValidZlibSecondByte(payload[1]):
		return psarc.Zlib
	default:
		return psarc.Store
	}
}

func isValidZlibSecondByte(b byte) bool {
	for _, v := range zlibHeaderSecondBytes {
		if b == v {
			return true
		}
	}
	return false
}
