/*
Package psarc implements a reader and writer for the PlayStation Archive
(PSARC) container format: an ordered set of regular files packed into a
single archive with optional per-block compression.

Information sources:

- The archive is a fixed 32-byte header, a table of contents of fixed-size
entries, and a dense block-size table, followed by the per-entry compressed
block streams.

- Entry 0 of every archive is a manifest: the newline-separated list of
filenames for entries 1..N, itself stored and compressed like any other
entry.

This package exposes the data model and error taxonomy shared by the
[github.com/SplinterGU/PSARc/writer] and [github.com/SplinterGU/PSARc/reader]
packages. Most callers will use one of those two packages directly; this
package is the common ground between them.
*/
package psarc
