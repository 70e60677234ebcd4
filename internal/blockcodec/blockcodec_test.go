package blockcodec

import (
	"bytes"
	"testing"

	"github.com/SplinterGU/PSARc"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("hello world, compress me please "), 200)
	for _, codec := range []psarc.Codec{psarc.Store, psarc.Zlib, psarc.Lzma2} {
		t.Run(codec.String(), func(t *testing.T) {
			encoded, err := Encode(codec, 0, false, src)
			if err != nil {
				t.Fatal(err)
			}
			kind := Detect(encoded)
			if codec == psarc.Store {
				if kind != psarc.Store {
					t.Errorf("Detect(store payload) = %v, want Store", kind)
				}
			} else if kind != codec {
				t.Errorf("Detect(%v payload) = %v, want %v", codec, kind, codec)
			}
			decoded, err := Decode(kind, encoded, len(src))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(decoded, src) {
				t.Errorf("decoded mismatch for codec %v", codec)
			}
		})
	}
}

func TestDetectStoredVerbatim(t *testing.T) {
	payload := []byte("not a compressed stream at all")
	if kind := Detect(payload); kind != psarc.Store {
		t.Errorf("Detect(plain bytes) = %v, want Store", kind)
	}
}
