// Package reader implements the read-side archive operations: List, Info,
// and Extract. All three share the same open/parse path — header, TOC,
// block-size table, manifest — grounded on quay-claircore/pkg/tarfs.New's
// "parse fixed structures up front, then serve individual members lazily"
// shape.
package reader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/internal/container"
	"github.com/SplinterGU/PSARc/internal/manifest"
	"github.com/SplinterGU/PSARc/internal/pipeline"
	"github.com/SplinterGU/PSARc/report"
)

// Archive is an opened, parsed PSARC container ready for List/Info/Extract.
type Archive struct {
	f          *os.File
	descriptor psarc.Descriptor
	entries    []*psarc.Entry
	blockTable *container.BlockTable
	itemWidth  int
	tocLength  uint32
}

// Open parses path's header, TOC, block-size table, and manifest.
func Open(ctx context.Context, path string) (_ *Archive, err error) {
	ctx = zlog.ContextWithValues(ctx, "component", "reader.Open")
	ctx, span := tracer.Start(ctx, "Open")
	ok := false
	defer func() {
		attrs := []attribute.KeyValue{attribute.Bool("success", ok)}
		if ok {
			span.SetStatus(codes.Ok, "archive opened")
		} else {
			span.SetStatus(codes.Error, "archive open failed")
		}
		opensCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.End()
	}()

	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, psarc.Wrap("reader.Open", psarc.ErrIo, "open "+path, openErr)
	}
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	hdr, hdrErr := container.ReadHeader(f)
	if hdrErr != nil {
		return nil, classifyHeaderErr(hdrErr)
	}

	tocEntries, tocErr := container.ReadToc(f, hdr.EntryCount)
	if tocErr != nil {
		return nil, psarc.Wrap("reader.Open", psarc.ErrTruncated, "read toc", tocErr)
	}

	codec := psarc.CodecFromTag(hdr.CodecTag)
	itemWidth, widthErr := psarc.ItemWidth(hdr.BlockSize)
	if widthErr != nil {
		return nil, widthErr
	}

	var totalBlocks uint64
	entries := make([]*psarc.Entry, len(tocEntries))
	for i, te := range tocEntries {
		e := &psarc.Entry{
			NameDigest:       te.NameDigest,
			FirstBlockIndex:  te.FirstBlockIndex,
			UncompressedSize: te.UncompressedSize,
			FileOffset:       te.FileOffset,
		}
		entries[i] = e
		totalBlocks += uint64(e.BlockCount(hdr.BlockSize))
	}

	blockTable, btErr := container.ReadBlockTable(f, hdr.BlockSize, totalBlocks, itemWidth)
	if btErr != nil {
		return nil, psarc.Wrap("reader.Open", psarc.ErrTruncated, "read block table", btErr)
	}
	for _, e := range entries {
		e.SetBlockSizes(blockTable.SliceFor(e.FirstBlockIndex, e.BlockCount(hdr.BlockSize)))
	}

	if len(entries) == 0 {
		return nil, psarc.Wrap("reader.Open", psarc.ErrBadToc, "archive has no entries", nil)
	}

	compressedSizes := make([]uint64, len(entries))
	for i, e := range entries {
		compressedSizes[i] = e.CompressedSize()
	}
	if lErr := container.ValidateLayout(tocEntries, compressedSizes, hdr.TocLength, totalBlocks, itemWidth); lErr != nil {
		return nil, psarc.Wrap("reader.Open", psarc.ErrBadToc, "validate layout", lErr)
	}

	manifestEntry := entries[0]
	manifestBytes, mErr := readEntryBytes(f, hdr.BlockSize, manifestEntry)
	if mErr != nil {
		return nil, mErr
	}
	names, pErr := manifest.Parse(manifestBytes, len(entries)-1)
	if pErr != nil {
		return nil, psarc.Wrap("reader.Open", psarc.ErrTruncated, "parse manifest", pErr)
	}
	for i, name := range names {
		entries[i+1].Name = name
	}

	desc := psarc.Descriptor{
		Version:     psarc.Version{Major: hdr.VersionMajor, Minor: hdr.VersionMinor},
		Codec:       codec,
		BlockSize:   hdr.BlockSize,
		TocLength:   hdr.TocLength,
		EntryCount:  hdr.EntryCount,
		Flags:       psarc.Flags(hdr.Flags),
		TotalBlocks: totalBlocks,
	}

	ok = true
	zlog.Info(ctx).Str("archive", path).Int("entries", int(hdr.EntryCount)).Msg("archive opened")
	return &Archive{
		f:          f,
		descriptor: desc,
		entries:    entries,
		blockTable: blockTable,
		itemWidth:  itemWidth,
		tocLength:  hdr.TocLength,
	}, nil
}

// Close releases the archive's underlying file handle.
func (a *Archive) Close() error {
	return a.f.Close()
}

// Descriptor returns the archive's parsed header fields and derived
// totals.
func (a *Archive) Descriptor() psarc.Descriptor {
	return a.descriptor
}

func classifyHeaderErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid magic"):
		return psarc.Wrap("reader.Open", psarc.ErrInvalidMagic, msg, err)
	case strings.Contains(msg, "unsupported codec"):
		return psarc.Wrap("reader.Open", psarc.ErrUnsupportedCodec, msg, err)
	default:
		return psarc.Wrap("reader.Open", psarc.ErrTruncated, msg, err)
	}
}

// readEntryBytes decompresses every block of e in order and concatenates
// the result.
func readEntryBytes(f *os.File, blockSize uint32, e *psarc.Entry) ([]byte, error) {
	plan := pipeline.Plan{UncompressedSize: e.UncompressedSize, BlockSize: blockSize}
	out := make([]byte, 0, e.UncompressedSize)
	sizes := e.BlockSizes()
	offset := int64(e.FileOffset)
	for k := 0; k < plan.BlockCount(); k++ {
		compressed := int64(sizes[k])
		payload := make([]byte, compressed)
		if _, err := f.ReadAt(payload, offset); err != nil {
			return nil, psarc.Wrap("reader", psarc.ErrTruncated, "read block", err)
		}
		offset += compressed
		natural := plan.NaturalLength(k)
		decoded, err := pipeline.DecodeBlock(payload, natural)
		if err != nil {
			return nil, psarc.Wrap("reader", psarc.ErrDecodeError, "decode block", err)
		}
		out = append(out, decoded...)
	}
	return out, nil
}

// Row is one entry's List/Info report line.
type Row struct {
	Name             string
	UncompressedSize uint64
	CompressedSize   uint64
	BlockCount       uint32
}

// List returns one Row per file entry (the manifest entry is never listed
// itself), reporting it through sink as it goes.
func (a *Archive) List(sink report.Sink) ([]Row, error) {
	runID := uuid.NewString()
	rows := make([]Row, 0, len(a.entries)-1)
	for _, e := range a.entries[1:] {
		row := Row{
			Name:             e.Name,
			UncompressedSize: e.UncompressedSize,
			CompressedSize:   e.CompressedSize(),
			BlockCount:       e.BlockCount(a.descriptor.BlockSize),
		}
		rows = append(rows, row)
		if sink != nil {
			sink.Report(report.Event{RunID: runID, Kind: report.BeginEntry, Name: e.Name, Size: e.UncompressedSize})
		}
	}
	return rows, nil
}

// Info is List's superset: per-group (manifest vs. files) totals, the
// archive's physical size on disk, and an inferred per-group codec label.
type Info struct {
	EntryCount       int
	ManifestSize     uint64
	FilesUncompSize  uint64
	FilesCompSize    uint64
	PhysicalSize     uint64
	DeclaredCodec    string
	FilesCodecGuess  string
	ManifestCodec    string
}

// Info computes the summary described in [Info].
func (a *Archive) Info() Info {
	info := Info{
		EntryCount:    len(a.entries) - 1,
		ManifestSize:  a.entries[0].UncompressedSize,
		DeclaredCodec: a.descriptor.Codec.String(),
	}
	last := a.entries[len(a.entries)-1]
	info.PhysicalSize = last.FileOffset + last.CompressedSize()

	anyShrankFiles := false
	for _, e := range a.entries[1:] {
		info.FilesUncompSize += e.UncompressedSize
		info.FilesCompSize += e.CompressedSize()
		if entryShrank(e, a.descriptor.BlockSize) {
			anyShrankFiles = true
		}
	}
	if anyShrankFiles {
		info.FilesCodecGuess = a.descriptor.Codec.String()
	} else {
		info.FilesCodecGuess = psarc.Store.String()
	}
	if entryShrank(a.entries[0], a.descriptor.BlockSize) {
		info.ManifestCodec = a.descriptor.Codec.String()
	} else {
		info.ManifestCodec = psarc.Store.String()
	}
	return info
}

// entryShrank reports whether at least one of e's blocks compressed to
// less than its natural (uncompressed) length — the only signal available
// for inferring store-vs-compressed after the fact, since the header names
// a single archive-wide codec even when individual blocks fell back to
// verbatim storage.
func entryShrank(e *psarc.Entry, blockSize uint32) bool {
	plan := pipeline.Plan{UncompressedSize: e.UncompressedSize, BlockSize: blockSize}
	sizes := e.BlockSizes()
	for k := range sizes {
		if uint64(sizes[k]) < uint64(plan.NaturalLength(k)) {
			return true
		}
	}
	return false
}

// ExtractResult is one entry's extraction outcome.
type ExtractResult struct {
	Name string
	Err  error
	Skip bool
}

// Extract writes the entries matching patterns (or all entries, if
// patterns is empty) to opt.TargetDir, applying the overwrite/skip policy
// and reporting each outcome through sink.
func (a *Archive) Extract(ctx context.Context, patterns []string, opt psarc.ExtractOptions, sink report.Sink) ([]ExtractResult, error) {
	runID := uuid.NewString()
	caseInsensitive := opt.CaseInsensitive || a.descriptor.Flags.CaseInsensitive()
	matchAll := len(patterns) == 0
	matchSet := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		matchSet[normalizeMatch(p, caseInsensitive)] = struct{}{}
	}

	var results []ExtractResult
	for _, e := range a.entries[1:] {
		if !matchAll {
			if _, ok := matchSet[normalizeMatch(e.Name, caseInsensitive)]; !ok {
				continue
			}
		}
		res := a.extractOne(runID, e, opt, sink)
		results = append(results, res)
	}
	return results, nil
}

func normalizeMatch(name string, caseInsensitive bool) string {
	if caseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

func (a *Archive) extractOne(runID string, e *psarc.Entry, opt psarc.ExtractOptions, sink report.Sink) ExtractResult {
	outName := e.Name
	if opt.TrimPaths {
		outName = filepath.Base(outName)
	}
	outPath := filepath.Join(opt.TargetDir, filepath.FromSlash(outName))

	if _, statErr := os.Stat(outPath); statErr == nil {
		switch {
		case opt.OverwriteExisting:
			// fall through to write
		case opt.SkipExisting:
			if sink != nil {
				sink.Report(report.Event{RunID: runID, Kind: report.EndEntry, Name: e.Name})
			}
			return ExtractResult{Name: e.Name, Skip: true}
		default:
			err := psarc.Wrap("reader.Extract", psarc.ErrConflict, outPath+" already exists", nil)
			if sink != nil {
				sink.Report(report.Event{RunID: runID, Kind: report.EntryError, Name: e.Name, Err: err})
			}
			return ExtractResult{Name: e.Name, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		wrapped := psarc.Wrap("reader.Extract", psarc.ErrIo, "mkdir", err)
		if sink != nil {
			sink.Report(report.Event{RunID: runID, Kind: report.EntryError, Name: e.Name, Err: wrapped})
		}
		return ExtractResult{Name: e.Name, Err: wrapped}
	}

	data, err := readEntryBytes(a.f, a.descriptor.BlockSize, e)
	if err != nil {
		if sink != nil {
			sink.Report(report.Event{RunID: runID, Kind: report.EntryError, Name: e.Name, Err: err})
		}
		return ExtractResult{Name: e.Name, Err: err}
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		wrapped := psarc.Wrap("reader.Extract", psarc.ErrIo, "write "+outPath, err)
		if sink != nil {
			sink.Report(report.Event{RunID: runID, Kind: report.EntryError, Name: e.Name, Err: wrapped})
		}
		return ExtractResult{Name: e.Name, Err: wrapped}
	}

	if sink != nil {
		sink.Report(report.Event{RunID: runID, Kind: report.EndEntry, Name: e.Name})
	}
	return ExtractResult{Name: e.Name}
}
