// Package manifest encodes and decodes the newline-separated filename list
// stored as archive entry 0.
package manifest

import (
	"bytes"
	"fmt"
	"path"
	"strings"
)

// Options controls path normalization when building manifest bytes, per the
// archive-wide flags that govern path storage.
type Options struct {
	AbsolutePaths bool
	// TrimPaths, when set, stores only the basename of each path.
	TrimPaths bool
}

// normalize applies the manifest's path normalization rules to one name:
// backslashes become forward slashes, then either a leading '/' is forced
// (absolute mode, after stripping any drive-letter prefix) or stripped
// (relative mode), and optionally only the basename is kept.
func normalize(name string, opt Options) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if opt.AbsolutePaths {
		if i := strings.IndexByte(name, ':'); i == 1 {
			// Strip a leading drive-letter prefix such as "C:".
			name = name[i+1:]
		}
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
	} else {
		name = strings.TrimLeft(name, "/")
	}
	if opt.TrimPaths {
		name = path.Base(name)
	}
	return name
}

// Build encodes names into manifest bytes: normalized names joined by '\n',
// no trailing separator.
func Build(names []string, opt Options) []byte {
	norm := make([]string, len(names))
	for i, n := range names {
		norm[i] = normalize(n, opt)
	}
	return []byte(strings.Join(norm, "\n"))
}

// Parse splits decompressed manifest bytes into the filenames of entries
// 1..N, verifying the result has exactly wantCount names.
//
// The original implementation does not perform this check; this
// reimplementation treats a mismatch as a MUST-verify condition and reports
// it to the caller as an error, per the archive engine's resolved open
// question on manifest validation.
func Parse(uncompressed []byte, wantCount int) ([]string, error) {
	// A terminating NUL is appended before splitting, matching the
	// decode-direction buffer shape of uncompressedSize+1 bytes.
	buf := make([]byte, len(uncompressed)+1)
	copy(buf, uncompressed)
	trimmed := bytes.TrimRight(buf, "\x00")
	var names []string
	if len(trimmed) > 0 {
		names = strings.Split(string(trimmed), "\n")
	}
	if len(names) != wantCount {
		return nil, fmt.Errorf("manifest: decoded %d names, want %d", len(names), wantCount)
	}
	return names, nil
}
