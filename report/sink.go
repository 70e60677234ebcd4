package report

import (
	"fmt"
	"io"

	"github.com/SplinterGU/PSARc"
)

// NewSink builds the Sink named by format, writing to w. "standard" (the
// CLI default) and "json" are implemented; "csv" and "xml" are accepted so
// the CLI's output-format flag keeps its full set of documented values, but
// return an unimplemented-sink error rather than inventing formatting
// logic for formats outside this engine's scope.
func NewSink(format string, w io.Writer) (Sink, error) {
	switch format {
	case "", "standard", "text":
		return NewTextSink(w), nil
	case "json":
		return NewJSONSink(w), nil
	case "csv", "xml":
		return nil, psarc.Wrap("report.NewSink", psarc.ErrUnsupportedCodec,
			fmt.Sprintf("output format %q is not an implemented sink", format), nil)
	default:
		return nil, psarc.Wrap("report.NewSink", psarc.ErrUnsupportedCodec,
			fmt.Sprintf("unknown output format %q", format), nil)
	}
}
