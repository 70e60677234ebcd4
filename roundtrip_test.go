package psarc_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/internal/fileset"
	"github.com/SplinterGU/PSARc/reader"
	"github.com/SplinterGU/PSARc/writer"
)

// buildTree writes a handful of source files under a temp directory and
// returns its path.
func buildTree(t *testing.T) (dir string, contents map[string]string) {
	t.Helper()
	dir = t.TempDir()
	contents = map[string]string{
		"a.txt":     "hello world",
		"sub/b.txt": "nested file contents, repeated. nested file contents, repeated.",
		"sub/c.bin": string(bytes.Repeat([]byte{0x01, 0x02, 0x03}, 400)),
		"empty.dat": "",
	}
	for name, data := range contents {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir, contents
}

func createArchive(t *testing.T, opt psarc.Options) (archivePath string, srcDir string, contents map[string]string) {
	t.Helper()
	srcDir, contents = buildTree(t)

	set := fileset.New(srcDir)
	if err := set.AddPattern("*", fileset.Flags{Recursive: true}); err != nil {
		t.Fatal(err)
	}

	archivePath = filepath.Join(t.TempDir(), "out.psarc")
	opt = opt.WithDefaults()
	opt.OverwriteOK = true
	if err := writer.Create(context.Background(), archivePath, set.Paths(), set.SourcePaths(), opt, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return archivePath, srcDir, contents
}

// TestRoundTripStore verifies Create+Open+List+Extract identity when every
// block is stored verbatim.
func TestRoundTripStore(t *testing.T) {
	archivePath, _, contents := createArchive(t, psarc.Options{Codec: psarc.Store, Workers: 0})
	roundTripVerify(t, archivePath, contents)
}

// TestRoundTripZlibPooled exercises the ordered worker pool with zlib
// compression and verifies commit-order correctness end to end: if the
// pool ever committed a block out of order, the decoded file contents
// would not match.
func TestRoundTripZlibPooled(t *testing.T) {
	archivePath, _, contents := createArchive(t, psarc.Options{Codec: psarc.Zlib, Level: 6, Workers: 4, BlockSize: 64})
	roundTripVerify(t, archivePath, contents)
}

// TestRoundTripLzma2Synchronous exercises the lzma2/xz codec path without
// the worker pool.
func TestRoundTripLzma2Synchronous(t *testing.T) {
	archivePath, _, contents := createArchive(t, psarc.Options{Codec: psarc.Lzma2, Level: 6, Workers: 0, BlockSize: 128})
	roundTripVerify(t, archivePath, contents)
}

func roundTripVerify(t *testing.T, archivePath string, contents map[string]string) {
	t.Helper()
	ctx := context.Background()

	a, err := reader.Open(ctx, archivePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	rows, err := a.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != len(contents) {
		t.Fatalf("List returned %d rows, want %d", len(rows), len(contents))
	}
	var gotNames []string
	for _, r := range rows {
		gotNames = append(gotNames, r.Name)
	}
	sort.Strings(gotNames)
	var wantNames []string
	for name := range contents {
		wantNames = append(wantNames, filepath.ToSlash(name))
	}
	sort.Strings(wantNames)
	for i := range wantNames {
		if gotNames[i] != wantNames[i] {
			t.Fatalf("List names = %v, want %v", gotNames, wantNames)
		}
	}

	info := a.Info()
	if info.EntryCount != len(contents) {
		t.Fatalf("Info.EntryCount = %d, want %d", info.EntryCount, len(contents))
	}

	targetDir := t.TempDir()
	results, err := a.Extract(ctx, nil, psarc.ExtractOptions{TargetDir: targetDir}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(results) != len(contents) {
		t.Fatalf("Extract returned %d results, want %d", len(results), len(contents))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("entry %q failed: %v", r.Name, r.Err)
		}
	}

	for name, want := range contents {
		got, err := os.ReadFile(filepath.Join(targetDir, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("read extracted %q: %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("extracted %q contents mismatch: got %d bytes, want %d bytes", name, len(got), len(want))
		}
	}
}

// TestRoundTripOverwriteRejected verifies the writer refuses to clobber an
// existing archive unless OverwriteOK is set.
func TestRoundTripOverwriteRejected(t *testing.T) {
	archivePath, srcDir, _ := createArchive(t, psarc.Options{Codec: psarc.Store})

	set := fileset.New(srcDir)
	if err := set.AddPattern("*", fileset.Flags{Recursive: true}); err != nil {
		t.Fatal(err)
	}
	opt := psarc.Options{Codec: psarc.Store, OverwriteOK: false}
	err := writer.Create(context.Background(), archivePath, set.Paths(), set.SourcePaths(), opt, nil)
	if err == nil {
		t.Fatal("expected Create to refuse to overwrite an existing archive")
	}
}

// TestExtractSkipExisting verifies SkipExisting leaves a pre-existing file
// untouched and reports it as skipped rather than failed.
func TestExtractSkipExisting(t *testing.T) {
	archivePath, _, _ := createArchive(t, psarc.Options{Codec: psarc.Store})

	ctx := context.Background()
	a, err := reader.Open(ctx, archivePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	targetDir := t.TempDir()
	sentinel := []byte("do not overwrite me")
	if err := os.MkdirAll(filepath.Join(targetDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(targetDir, "a.txt"), sentinel, 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := a.Extract(ctx, nil, psarc.ExtractOptions{TargetDir: targetDir, SkipExisting: true}, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	var sawSkip bool
	for _, r := range results {
		if r.Name == "a.txt" {
			if !r.Skip {
				t.Fatal("expected a.txt to be reported as skipped")
			}
			sawSkip = true
		}
	}
	if !sawSkip {
		t.Fatal("a.txt not present in extract results")
	}
	got, err := os.ReadFile(filepath.Join(targetDir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(sentinel) {
		t.Fatal("SkipExisting must not overwrite the pre-existing file")
	}
}
