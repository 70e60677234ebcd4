package report

import (
	"encoding/json"
	"io"
)

// JSONSink renders each event as a single newline-delimited JSON object,
// matching cctool's dump-to-file JSON convention for index/manifest/report
// artifacts.
type JSONSink struct {
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Report(e Event) error {
	if e.Err != nil {
		e.ErrText = e.Err.Error()
	}
	return s.enc.Encode(e)
}

func (s *JSONSink) Close() error {
	return nil
}
