// Command psarc is the command-line driver for the archive engine: create,
// extract, list, and info subcommands over a single PSARC container.
//
// The subcommand-dispatch shape — one flag.FlagSet per subcommand,
// selected by the first argument, signal-driven cancellation, explicit
// exit codes — is grounded on quay-claircore/cmd/cctool/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

type subcmd func(context.Context, []string) int

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		cancel()
	}()

	if len(os.Args) < 2 {
		usage()
		return 1
	}

	var cmd subcmd
	switch os.Args[1] {
	case "create":
		cmd = runCreate
	case "extract":
		cmd = runExtract
	case "list":
		cmd = runList
	case "info":
		cmd = runInfo
	default:
		usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", os.Args[1])
		return 1
	}

	return cmd(ctx, os.Args[2:])
}

func usage() {
	out := os.Stderr
	fmt.Fprintf(out, "Usage: %s {create|extract|list|info} [flags] archive_path\n", os.Args[0])
}

func defaultWorkers() int {
	return runtime.NumCPU()
}

func fatal(err error) int {
	log.Print(err)
	return 1
}
