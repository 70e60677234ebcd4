package container

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		VersionMajor: 1,
		VersionMinor: 4,
		CodecTag:     [4]byte{'z', 'l', 'i', 'b'},
		TocLength:    1234,
		TocEntrySize: TocEntrySize,
		EntryCount:   3,
		BlockSize:    65536,
		Flags:        0,
	}
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	got, err := DecodeHeader(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, "XXXX")
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error on bad magic")
	}
}

func TestDecodeHeaderBadCodec(t *testing.T) {
	h := Header{CodecTag: [4]byte{'x', 'x', 'x', 'x'}}
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	if _, err := DecodeHeader(buf[:]); err == nil {
		t.Fatal("expected error on unsupported codec tag")
	}
}

func TestTocEntryRoundTrip(t *testing.T) {
	e := TocEntry{
		NameDigest:       [16]byte{1, 2, 3},
		FirstBlockIndex:  7,
		UncompressedSize: 1 << 35,
		FileOffset:       1 << 30,
	}
	buf := make([]byte, TocEntrySize)
	e.Encode(buf)
	got, err := DecodeTocEntry(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestReadWriteToc(t *testing.T) {
	entries := []TocEntry{
		{FirstBlockIndex: 0, FileOffset: 100},
		{FirstBlockIndex: 1, FileOffset: 200},
	}
	var buf bytes.Buffer
	if err := WriteToc(&buf, entries); err != nil {
		t.Fatal(err)
	}
	got, err := ReadToc(&buf, uint32(len(entries)))
	if err != nil {
		t.Fatal(err)
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestBlockTableSentinel(t *testing.T) {
	bt := NewBlockTable(1024, 2, 2)
	bt.Set(0, 1024) // full block -> sentinel 0
	bt.Set(1, 500)

	if got := bt.Resolve(0); got != 1024 {
		t.Errorf("slot 0: got %d, want 1024 (sentinel resolved)", got)
	}
	if got := bt.Resolve(1); got != 500 {
		t.Errorf("slot 1: got %d, want 500", got)
	}
}

func TestBlockTableRoundTrip(t *testing.T) {
	bt := NewBlockTable(256, 4, 1)
	bt.Set(0, 256)
	bt.Set(1, 10)
	bt.Set(2, 256)
	bt.Set(3, 1)

	var buf bytes.Buffer
	if err := WriteBlockTable(&buf, bt); err != nil {
		t.Fatal(err)
	}
	got, err := ReadBlockTable(&buf, 256, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := range bt.Raw {
		if got.Resolve(i) != bt.Resolve(i) {
			t.Errorf("slot %d: got %d, want %d", i, got.Resolve(i), bt.Resolve(i))
		}
	}
}

func TestSliceForAndSumFor(t *testing.T) {
	bt := NewBlockTable(100, 3, 1)
	bt.Set(0, 100)
	bt.Set(1, 50)
	bt.Set(2, 100)

	sizes := bt.SliceFor(0, 3)
	want := []uint64{100, 50, 100}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("slice[%d] = %d, want %d", i, sizes[i], want[i])
		}
	}
	if sum := bt.SumFor(0, 3); sum != 250 {
		t.Errorf("SumFor = %d, want 250", sum)
	}
}

func TestValidateLayout(t *testing.T) {
	// entryCount=1, totalBlocks=1, itemWidth=1 -> tocLength = 32+30+1 = 63
	entries := []TocEntry{{FileOffset: 63}}
	compressedSizes := []uint64{10}
	if err := ValidateLayout(entries, compressedSizes, 63, 1, 1); err != nil {
		t.Fatalf("expected valid layout: %v", err)
	}

	if err := ValidateLayout(entries, compressedSizes, 64, 1, 1); err == nil {
		t.Fatal("expected toc length mismatch error")
	}
}
