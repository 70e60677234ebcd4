// Package writer implements the archive-creation flow: build an in-memory
// table of contents, stream the manifest synchronously, then stream each
// file's blocks through the ordered worker pool (or synchronously when no
// workers are requested), and finally backfill the header, TOC, and
// block-size table once every entry's layout is known.
//
// The overall shape — reserve a header region, stream payload, backfill
// metadata once sizes are known — has no single teacher analogue (tarfs
// only reads), but the synchronous vs. pooled dual path and the
// defer-based cleanup-on-error idiom are grounded on
// quay-claircore/pkg/tarfs/fs.go's New, which also defers a cleanup that
// only fires if construction did not reach success.
package writer

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/internal/container"
	"github.com/SplinterGU/PSARc/internal/manifest"
	"github.com/SplinterGU/PSARc/internal/pipeline"
	"github.com/SplinterGU/PSARc/internal/workerpool"
	"github.com/SplinterGU/PSARc/report"
)

// Create builds a new archive at archivePath from the named source files,
// in the order given, per the 11-step flow. names holds the form recorded
// in the manifest (relative or absolute per opt.Flags); srcPaths holds the
// actual filesystem path to read for each corresponding name, which may
// differ from names when patterns were resolved against a base directory
// other than the process's current one. If srcPaths is nil, names is used
// directly for file I/O.
func Create(ctx context.Context, archivePath string, names []string, srcPaths []string, opt psarc.Options, sink report.Sink) (err error) {
	opt = opt.WithDefaults()
	if srcPaths == nil {
		srcPaths = names
	}
	if len(srcPaths) != len(names) {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "names/srcPaths length mismatch", nil)
	}
	runID := uuid.NewString()
	ctx = zlog.ContextWithValues(ctx, "component", "writer.Create")
	ctx, span := tracer.Start(ctx, "Create")
	ok := false
	defer func() {
		attrs := []attribute.KeyValue{
			attribute.Int("entries", len(names)),
			attribute.Bool("success", ok),
		}
		if ok {
			span.SetStatus(codes.Ok, "archive created")
		} else {
			span.SetStatus(codes.Error, "archive creation failed")
		}
		archivesCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.End()
	}()

	if len(names) == 0 {
		return psarc.Wrap("writer.Create", psarc.ErrNoInputs, "no input files", nil)
	}

	// Step 1: validate overwrite.
	if _, statErr := os.Stat(archivePath); statErr == nil && !opt.OverwriteOK {
		return psarc.Wrap("writer.Create", psarc.ErrConflict, archivePath+" already exists", nil)
	} else if statErr != nil && !os.IsNotExist(statErr) {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "stat output", statErr)
	}

	// Step 2/3: build in-memory TOC, stat each file.
	manifestOpt := manifest.Options{AbsolutePaths: opt.Flags.AbsolutePaths()}
	manifestBytes := manifest.Build(names, manifestOpt)
	normalized := splitManifest(manifestBytes, len(names))

	entries := make([]*psarc.Entry, 0, len(names)+1)
	manifestEntry := &psarc.Entry{Name: "", UncompressedSize: uint64(len(manifestBytes))}
	entries = append(entries, manifestEntry)

	var totalBlocks uint64
	sizes := make([]int64, len(names))
	for i, srcPath := range srcPaths {
		info, statErr := os.Stat(srcPath)
		if statErr != nil {
			return psarc.Wrap("writer.Create", psarc.ErrIo, "stat "+srcPath, statErr)
		}
		if info.IsDir() {
			return psarc.Wrap("writer.Create", psarc.ErrIo, srcPath+" is a directory", nil)
		}
		sizes[i] = info.Size()
		e := &psarc.Entry{
			Name:             normalized[i],
			NameDigest:       psarc.DigestName(normalized[i]),
			UncompressedSize: uint64(info.Size()),
		}
		entries = append(entries, e)
	}

	// Step 5: assign FirstBlockIndex and compute total_blocks/W/toc_length.
	var nextBlock uint32
	for _, e := range entries {
		e.FirstBlockIndex = nextBlock
		nextBlock += e.BlockCount(opt.BlockSize)
	}
	totalBlocks = uint64(nextBlock)

	itemWidth, err := psarc.ItemWidth(opt.BlockSize)
	if err != nil {
		return err
	}
	tocLength := psarc.TocLength(uint32(len(entries)), totalBlocks, itemWidth)

	// Step 6: open output, write header placeholder, seek to toc_length.
	f, err := os.Create(archivePath)
	if err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "create output", err)
	}
	defer func() {
		cerr := f.Close()
		if !ok {
			os.Remove(archivePath)
		} else if cerr != nil {
			err = psarc.Wrap("writer.Create", psarc.ErrIo, "close output", cerr)
		}
	}()

	placeholder := make([]byte, tocLength)
	if _, err := f.Write(placeholder); err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "write placeholder", err)
	}

	if sink != nil {
		sink.Report(report.Event{RunID: runID, Kind: report.OpenArchive, Archive: archivePath})
	}

	blockTable := container.NewBlockTable(opt.BlockSize, totalBlocks, itemWidth)

	commitBlock := func(_ uint64, globalBlockIndex uint32, eb pipeline.EncodedBlock) error {
		n, werr := f.Write(eb.Emitted)
		if werr != nil {
			return psarc.Wrap("writer.Create", psarc.ErrIo, "write block", werr)
		}
		blockTable.Set(int(globalBlockIndex), uint32(n))
		return nil
	}

	// Step 7: stream the manifest synchronously, single-threaded, before any
	// pool starts.
	plan := pipeline.Plan{UncompressedSize: manifestEntry.UncompressedSize, BlockSize: opt.BlockSize}
	for k := 0; k < plan.BlockCount(); k++ {
		lo := k * int(opt.BlockSize)
		hi := lo + plan.NaturalLength(k)
		eb, encErr := pipeline.EncodeBlock(opt.Codec, opt.Level, opt.Extreme, manifestBytes[lo:hi])
		if encErr != nil {
			return psarc.Wrap("writer.Create", psarc.ErrDecodeError, "encode manifest block", encErr)
		}
		if cerr := commitBlock(0, uint32(k), eb); cerr != nil {
			return cerr
		}
	}

	// Step 8: stream entries 1..N, pooled or synchronous.
	if opt.Workers > 0 {
		err = streamPooled(ctx, f, entries[1:], srcPaths, opt, commitBlock)
	} else {
		err = streamSynchronous(entries[1:], srcPaths, opt, commitBlock)
	}
	if err != nil {
		return err
	}

	// Step 9: aggregate per-entry compressed sizes from the block table.
	for _, e := range entries {
		e.SetBlockSizes(blockTable.SliceFor(e.FirstBlockIndex, e.BlockCount(opt.BlockSize)))
	}
	entries[0].FileOffset = uint64(tocLength)
	for i := 1; i < len(entries); i++ {
		entries[i].FileOffset = entries[i-1].FileOffset + entries[i-1].CompressedSize()
	}

	// Step 10: seek to start, write header, TOC, block table.
	if _, err := f.Seek(0, 0); err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "seek to header", err)
	}
	hdr := container.Header{
		VersionMajor: psarc.DefaultVersion.Major,
		VersionMinor: psarc.DefaultVersion.Minor,
		CodecTag:     opt.Codec.HeaderTag(),
		TocLength:    tocLength,
		TocEntrySize: container.TocEntrySize,
		EntryCount:   uint32(len(entries)),
		BlockSize:    opt.BlockSize,
		Flags:        uint32(opt.Flags),
	}
	var hdrBuf [container.HeaderSize]byte
	hdr.Encode(hdrBuf[:])
	if _, err := f.Write(hdrBuf[:]); err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "write header", err)
	}

	tocEntries := make([]container.TocEntry, len(entries))
	for i, e := range entries {
		tocEntries[i] = container.TocEntry{
			NameDigest:       e.NameDigest,
			FirstBlockIndex:  e.FirstBlockIndex,
			UncompressedSize: e.UncompressedSize,
			FileOffset:       e.FileOffset,
		}
	}
	if err := container.WriteToc(f, tocEntries); err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "write toc", err)
	}
	if err := container.WriteBlockTable(f, blockTable); err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "write block table", err)
	}

	if sink != nil {
		sink.Report(report.Event{RunID: runID, Kind: report.Close, Archive: archivePath, Totals: &report.Totals{
			Entries: len(entries) - 1,
		}})
	}

	ok = true
	zlog.Info(ctx).Str("archive", archivePath).Int("entries", len(entries)-1).Msg("archive created")
	return nil
}

// splitManifest recovers the per-name normalized strings actually written
// into the manifest, so the TOC's name digests are computed over the same
// bytes the manifest stores.
func splitManifest(manifestBytes []byte, want int) []string {
	if want == 0 {
		return nil
	}
	out := make([]string, 0, want)
	start := 0
	for i := 0; i <= len(manifestBytes); i++ {
		if i == len(manifestBytes) || manifestBytes[i] == '\n' {
			out = append(out, string(manifestBytes[start:i]))
			start = i + 1
		}
	}
	if len(out) != want {
		panic(fmt.Sprintf("writer: manifest split produced %d names, want %d", len(out), want))
	}
	return out
}

// streamSynchronous encodes and commits every entry's blocks in order,
// without a pool, for opt.Workers == 0.
func streamSynchronous(entries []*psarc.Entry, srcPaths []string, opt psarc.Options, commit func(ticket uint64, globalBlockIndex uint32, eb pipeline.EncodedBlock) error) error {
	var ticket uint64
	for i, e := range entries {
		data, err := os.ReadFile(srcPaths[i])
		if err != nil {
			return psarc.Wrap("writer.Create", psarc.ErrIo, "read "+srcPaths[i], err)
		}
		plan := pipeline.Plan{UncompressedSize: e.UncompressedSize, BlockSize: opt.BlockSize}
		for k := 0; k < plan.BlockCount(); k++ {
			lo := k * int(opt.BlockSize)
			hi := lo + plan.NaturalLength(k)
			eb, encErr := pipeline.EncodeBlock(opt.Codec, opt.Level, opt.Extreme, data[lo:hi])
			if encErr != nil {
				return psarc.Wrap("writer.Create", psarc.ErrDecodeError, "encode block", encErr)
			}
			ticket++
			if err := commit(ticket, e.FirstBlockIndex+uint32(k), eb); err != nil {
				return err
			}
		}
	}
	return nil
}

// streamPooled dispatches every entry's blocks through an ordered worker
// pool, so compression across blocks (and entries) happens concurrently
// while commits stay in strict submission order.
func streamPooled(ctx context.Context, f *os.File, entries []*psarc.Entry, srcPaths []string, opt psarc.Options, commit func(ticket uint64, globalBlockIndex uint32, eb pipeline.EncodedBlock) error) error {
	pool := workerpool.New(opt.Workers, int(opt.BlockSize))

	for i, e := range entries {
		data, err := os.ReadFile(srcPaths[i])
		if err != nil {
			return psarc.Wrap("writer.Create", psarc.ErrIo, "read "+srcPaths[i], err)
		}
		plan := pipeline.Plan{UncompressedSize: e.UncompressedSize, BlockSize: opt.BlockSize}
		for k := 0; k < plan.BlockCount(); k++ {
			lo := k * int(opt.BlockSize)
			hi := lo + plan.NaturalLength(k)
			block := data[lo:hi]
			globalIndex := e.FirstBlockIndex + uint32(k)

			encodeFn := func(raw []byte) (pipeline.EncodedBlock, error) {
				return pipeline.EncodeBlock(opt.Codec, opt.Level, opt.Extreme, raw)
			}
			commitFn := func(ticket uint64, eb pipeline.EncodedBlock) error {
				return commit(ticket, globalIndex, eb)
			}
			if err := pool.Submit(ctx, block, encodeFn, commitFn); err != nil {
				pool.Wait()
				return psarc.Wrap("writer.Create", psarc.ErrIo, "submit block", err)
			}
		}
	}

	if err := pool.Wait(); err != nil {
		return psarc.Wrap("writer.Create", psarc.ErrIo, "worker pool", err)
	}
	return nil
}
