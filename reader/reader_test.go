package reader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/internal/container"
	"github.com/SplinterGU/PSARc/internal/fileset"
	"github.com/SplinterGU/PSARc/reader"
	"github.com/SplinterGU/PSARc/writer"
)

// TestOpenRejectsCorruptToc builds a valid archive with the writer, then
// corrupts the first TOC entry's on-disk FileOffset so it no longer starts
// at toc_length. Open must reject it with ErrBadToc instead of accepting the
// bogus offset at face value.
func TestOpenRejectsCorruptToc(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	set := fileset.New(srcDir)
	if err := set.AddPattern("*", fileset.Flags{Recursive: true}); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(t.TempDir(), "out.psarc")
	opt := psarc.Options{Codec: psarc.Store, OverwriteOK: true}.WithDefaults()
	if err := writer.Create(context.Background(), archivePath, set.Paths(), set.SourcePaths(), opt, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The first TOC entry's 40-bit FileOffset lives at bytes [25:30] of its
	// 30-byte slot, right after the 32-byte header.
	f, err := os.OpenFile(archivePath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	offsetPos := int64(container.HeaderSize + 25)
	if _, err := f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff, 0xff}, offsetPos); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = reader.Open(context.Background(), archivePath)
	if err == nil {
		t.Fatal("expected Open to reject a corrupted toc")
	}
	if !errors.Is(err, psarc.ErrBadToc) {
		t.Fatalf("Open error = %v, want ErrBadToc", err)
	}
}
