package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/SplinterGU/PSARc"
	"github.com/SplinterGU/PSARc/reader"
	"github.com/SplinterGU/PSARc/report"
)

func runExtract(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("psarc extract", flag.ExitOnError)
	targetDir := fs.String("target_dir", ".", "directory to extract into")
	trimPaths := fs.Bool("trim_paths", false, "extract using basenames only")
	overwrite := fs.Bool("overwrite", false, "overwrite existing output files")
	skipExisting := fs.Bool("skip_existing_files", false, "skip entries whose output file already exists")
	outputFormat := fs.String("output_format", "standard", "report format: standard, json, csv, xml")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: psarc extract [flags] archive_path [pattern...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) < 1 {
		fs.Usage()
		return 1
	}
	archivePath := rest[0]
	patterns := rest[1:]

	sink, err := report.NewSink(*outputFormat, os.Stdout)
	if err != nil {
		return fatal(err)
	}
	defer sink.Close()

	a, err := reader.Open(ctx, archivePath)
	if err != nil {
		return fatal(err)
	}
	defer a.Close()

	opt := psarc.ExtractOptions{
		TargetDir:         *targetDir,
		TrimPaths:         *trimPaths,
		SkipExisting:      *skipExisting,
		OverwriteExisting: *overwrite,
	}
	results, err := a.Extract(ctx, patterns, opt, sink)
	if err != nil {
		return fatal(err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return 2
	}
	return 0
}
