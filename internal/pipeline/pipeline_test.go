package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/SplinterGU/PSARc"
)

func TestPlanBlockCount(t *testing.T) {
	tests := []struct {
		size, blockSize uint64
		want            int
	}{
		{0, 1024, 0},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{2048, 1024, 2},
	}
	for _, tc := range tests {
		p := Plan{UncompressedSize: tc.size, BlockSize: uint32(tc.blockSize)}
		if got := p.BlockCount(); got != tc.want {
			t.Errorf("BlockCount(size=%d, block=%d) = %d, want %d", tc.size, tc.blockSize, got, tc.want)
		}
	}
}

func TestPlanNaturalLength(t *testing.T) {
	p := Plan{UncompressedSize: 2500, BlockSize: 1024}
	if got := p.NaturalLength(0); got != 1024 {
		t.Errorf("block 0 length = %d, want 1024", got)
	}
	if got := p.NaturalLength(1); got != 1024 {
		t.Errorf("block 1 length = %d, want 1024", got)
	}
	if got := p.NaturalLength(2); got != 452 {
		t.Errorf("last block length = %d, want 452", got)
	}
}

func TestEncodeBlockFallsBackWhenNotShrinking(t *testing.T) {
	src := []byte("x") // too small to compress smaller than itself
	eb, err := EncodeBlock(psarc.Zlib, 0, false, src)
	if err != nil {
		t.Fatal(err)
	}
	if !eb.Stored {
		t.Error("expected fallback to stored for an incompressible tiny block")
	}
	if !bytes.Equal(eb.Emitted, src) {
		t.Error("stored fallback must emit the raw input verbatim")
	}
}

func TestEncodeBlockStoreCodec(t *testing.T) {
	src := []byte("anything")
	eb, err := EncodeBlock(psarc.Store, 0, false, src)
	if err != nil {
		t.Fatal(err)
	}
	if !eb.Stored || !bytes.Equal(eb.Emitted, src) {
		t.Error("Store codec must always emit verbatim")
	}
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	src := []byte(strings.Repeat("compress this data please ", 500))
	eb, err := EncodeBlock(psarc.Zlib, 6, false, src)
	if err != nil {
		t.Fatal(err)
	}
	if eb.Stored {
		t.Fatal("expected compression to shrink this repetitive input")
	}
	decoded, err := DecodeBlock(eb.Emitted, len(src))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, src) {
		t.Error("decoded block does not match original")
	}
}

func TestDecodeBlockLengthMismatch(t *testing.T) {
	src := []byte("store me")
	eb, err := EncodeBlock(psarc.Store, 0, false, src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeBlock(eb.Emitted, len(src)+1); err == nil {
		t.Fatal("expected length-mismatch error")
	}
}
