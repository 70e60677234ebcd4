package report

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// TextSink renders events as tab-aligned human-readable lines, grounded on
// cmd/cctool's use of text/tabwriter for its summary output.
type TextSink struct {
	w   *tabwriter.Writer
	out io.Writer
}

// NewTextSink wraps w in a tabwriter that pads columns with two spaces
// (tab width 4).
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{
		w:   tabwriter.NewWriter(w, 0, 4, 2, ' ', 0),
		out: w,
	}
}

func (s *TextSink) Report(e Event) error {
	switch e.Kind {
	case OpenArchive:
		fmt.Fprintf(s.w, "%s\topen\n", e.Archive)
	case BeginEntry:
		fmt.Fprintf(s.w, "%s\t%d bytes\t%s\n", e.Name, e.Size, e.Codec)
	case EndEntry:
		fmt.Fprintf(s.w, "%s\tok\n", e.Name)
	case EntryError:
		fmt.Fprintf(s.w, "%s\terror\t%s\n", e.Name, e.Err)
	case Close:
		if e.Totals != nil {
			fmt.Fprintf(s.w, "total\t%d entries\t%d skipped\t%d failed\n",
				e.Totals.Entries, e.Totals.Skipped, e.Totals.Failed)
		}
	}
	return nil
}

func (s *TextSink) Close() error {
	return s.w.Flush()
}
