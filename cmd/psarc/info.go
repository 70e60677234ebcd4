package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/SplinterGU/PSARc/reader"
)

func runInfo(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("psarc info", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: psarc info archive_path\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) != 1 {
		fs.Usage()
		return 1
	}

	a, err := reader.Open(ctx, rest[0])
	if err != nil {
		return fatal(err)
	}
	defer a.Close()

	info := a.Info()
	fmt.Printf("entries:           %d\n", info.EntryCount)
	fmt.Printf("manifest size:     %d bytes (%s)\n", info.ManifestSize, info.ManifestCodec)
	fmt.Printf("files uncompressed: %d bytes\n", info.FilesUncompSize)
	fmt.Printf("files compressed:  %d bytes (%s)\n", info.FilesCompSize, info.FilesCodecGuess)
	fmt.Printf("declared codec:    %s\n", info.DeclaredCodec)
	fmt.Printf("physical size:     %d bytes\n", info.PhysicalSize)
	return 0
}
