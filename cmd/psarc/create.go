package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/internal/fileset"
	"github.com/SplinterGU/PSARc/report"
	"github.com/SplinterGU/PSARc/writer"
)

func runCreate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("psarc create", flag.ExitOnError)
	blockSize := fs.Uint("block_size", psarc.DefaultBlockSize, "block size in bytes")
	codecName := fs.String("codec", "store", "compression codec: store, zlib, lzma")
	level := fs.Int("level", 0, "compression level 0..9 (lzma only may use 0)")
	extreme := fs.Bool("extreme", false, "enable lzma extreme mode")
	ignoreCase := fs.Bool("ignore_case", false, "store archive with case-insensitive match flag set")
	absolutePaths := fs.Bool("absolute_paths", false, "store absolute paths in the manifest")
	sourceDir := fs.String("source_dir", "", "base directory patterns are resolved against")
	recursive := fs.Bool("recursive", false, "recurse into matched directories")
	numThreads := fs.Int("num_threads", defaultWorkers(), "worker count; 0 disables the pool")
	outputFormat := fs.String("output_format", "standard", "report format: standard, json, csv, xml")
	overwrite := fs.Bool("overwrite", false, "overwrite an existing archive")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: psarc create [flags] archive_path pattern [pattern...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		return 1
	}
	archivePath := rest[0]
	patterns := rest[1:]

	codec, err := parseCodec(*codecName)
	if err != nil {
		return fatal(err)
	}
	if codec == psarc.Zlib && *level == 0 {
		return fatal(fmt.Errorf("psarc: level 0 is only valid for codec lzma"))
	}

	sink, err := report.NewSink(*outputFormat, os.Stdout)
	if err != nil {
		return fatal(err)
	}
	defer sink.Close()

	set := fileset.New(*sourceDir)
	for _, p := range patterns {
		if err := set.AddPattern(p, fileset.Flags{Recursive: *recursive, CaseInsensitive: *ignoreCase}); err != nil {
			return fatal(err)
		}
	}
	names := set.Paths()
	srcPaths := set.SourcePaths()
	if len(names) == 0 {
		return fatal(fmt.Errorf("psarc: no inputs matched"))
	}

	var flags psarc.Flags
	if *ignoreCase {
		flags |= psarc.FlagCaseInsensitive
	}
	if *absolutePaths {
		flags |= psarc.FlagAbsolutePaths
	}

	opt := psarc.Options{
		Codec:       codec,
		Level:       *level,
		Extreme:     *extreme,
		BlockSize:   uint32(*blockSize),
		Workers:     *numThreads,
		Flags:       flags,
		OverwriteOK: *overwrite,
	}

	if err := writer.Create(ctx, archivePath, names, srcPaths, opt, sink); err != nil {
		return fatal(err)
	}
	return 0
}

func parseCodec(name string) (psarc.Codec, error) {
	switch name {
	case "store":
		return psarc.Store, nil
	case "zlib":
		return psarc.Zlib, nil
	case "lzma":
		return psarc.Lzma2, nil
	default:
		return 0, fmt.Errorf("psarc: unknown codec %q", name)
	}
}
