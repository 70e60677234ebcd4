// Package blockcodec implements the three per-block compression schemes a
// PSARC archive can use — store, zlib, and LZMA2 (framed as a complete XZ
// stream per block) — plus signature-based auto-detection on read. The
// pooling shape (a package-level sync.Pool of reusable zlib decoders) is
// grounded on quay-claircore's pkg/tarfs/pool.go and pkg/ovalutil/pool.go,
// which pool klauspost/compress readers the same way; the codecs
// themselves come from the same module's zlib package and from
// github.com/ulikunitz/xz, both already required by the teacher.
package blockcodec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz"

	"github.com/SplinterGU/PSARc"
)

// Writers are not pooled because compression level/config varies per
// archive; only zlib decoders, which are stateless to configure, are
// pooled here — mirroring pkg/tarfs/pool.go's choice to pool only the
// reader side.
var (
	zlibReaderPool sync.Pool
)

// Encode compresses src for codec c, returning the encoded bytes. level
// applies to Zlib only (0 selects zlib's default level); Lzma2 ignores
// level and uses extreme to choose between a 1 MiB and a 64 MiB
// dictionary; Store ignores both. The caller applies the fallback-to-store
// rule; Encode never itself decides to store verbatim.
func Encode(c psarc.Codec, level int, extreme bool, src []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch c {
	case psarc.Store:
		buf.Write(src)
		return buf.Bytes(), nil
	case psarc.Zlib:
		lvl := level
		if lvl == 0 {
			lvl = zlib.DefaultCompression
		}
		w, err := zlib.NewWriterLevel(&buf, lvl)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: zlib writer: %w", err)
		}
		if _, err := w.Write(src); err != nil {
			return nil, fmt.Errorf("blockcodec: zlib encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blockcodec: zlib flush: %w", err)
		}
		return buf.Bytes(), nil
	case psarc.Lzma2:
		cfg := xz.WriterConfig{}
		dictCap := 1 << 20 // ~1MiB default dictionary
		if extreme {
			dictCap = 1 << 26 // larger dictionary stands in for "-9e"
		}
		cfg.DictCap = dictCap
		w, err := cfg.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: lzma2 writer: %w", err)
		}
		if _, err := w.Write(src); err != nil {
			return nil, fmt.Errorf("blockcodec: lzma2 encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blockcodec: lzma2 flush: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("blockcodec: unknown codec %v", c)
	}
}

// Decode decompresses a single block payload already identified as kind by
// [Detect]. natural is the expected decompressed length, used by the zlib
// and lzma2 paths to size the output; Decode does not compare it with the
// decoder's actual output length (pipeline.DecodeBlock does).
func Decode(kind psarc.Codec, payload []byte, natural int) ([]byte, error) {
	switch kind {
	case psarc.Store:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case psarc.Zlib:
		return decodeZlib(payload, natural)
	case psarc.Lzma2:
		return decodeLzma2(payload, natural)
	default:
		return nil, fmt.Errorf("blockcodec: unknown codec %v", kind)
	}
}

func decodeZlib(payload []byte, natural int) ([]byte, error) {
	var r io.ReadCloser
	if pooled, ok := zlibReaderPool.Get().(zlib.Resetter); ok {
		if err := pooled.Reset(bytes.NewReader(payload), nil); err != nil {
			return nil, fmt.Errorf("blockcodec: zlib decode: %w", err)
		}
		r = pooled.(io.ReadCloser)
	} else {
		var err error
		r, err = zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("blockcodec: zlib decode: %w", err)
		}
	}
	buf := bytes.NewBuffer(make([]byte, 0, natural))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("blockcodec: zlib decode: %w", err)
	}
	zlibReaderPool.Put(r)
	return buf.Bytes(), nil
}

func decodeLzma2(payload []byte, natural int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("blockcodec: lzma2 decode: %w", err)
	}
	out := make([]byte, 0, natural)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("blockcodec: lzma2 decode: %w", err)
	}
	return buf.Bytes(), nil
}
