package psarc

// Options is the immutable configuration for one archive-creation run,
// built once before any worker starts and threaded through the writer,
// never mutated afterward — the Design Note in SPEC_FULL.md §9 that
// replaces the mutable global archive-info/config pair kept by the
// original implementation.
type Options struct {
	Codec       Codec
	Level       int
	Extreme     bool
	BlockSize   uint32
	Workers     int // 0 means synchronous, single-threaded compression
	Flags       Flags
	OverwriteOK bool
}

// WithDefaults returns a copy of o with zero-valued fields filled in from
// the package defaults.
func (o Options) WithDefaults() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	return o
}

// ExtractOptions is the immutable configuration for one extraction run.
type ExtractOptions struct {
	TargetDir         string
	TrimPaths         bool
	SkipExisting      bool
	OverwriteExisting bool
	CaseInsensitive   bool
}
