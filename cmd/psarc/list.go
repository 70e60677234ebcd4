package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/SplinterGU/PSARc/reader"
	"github.com/SplinterGU/PSARc/report"
)

func runList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("psarc list", flag.ExitOnError)
	outputFormat := fs.String("output_format", "standard", "report format: standard, json, csv, xml")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: psarc list [flags] archive_path\n")
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

	sink, err := report.NewSink(*outputFormat, os.Stdout)
	if err != nil {
		return fatal(err)
	}
	defer sink.Close()

	a, err := reader.Open(ctx, rest[0])
	if err != nil {
		return fatal(err)
	}
	defer a.Close()

	if _, err := a.List(sink); err != nil {
		return fatal(err)
	}
	return 0
}
