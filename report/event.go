// Package report defines the event stream archive operations emit —
// opening an archive, beginning and ending entries, and errors — plus
// sinks that render that stream for a human or a machine.
//
// EventKind's String/FromString/Marshal/UnmarshalJSON shape is transcribed
// from quay-claircore's internal/indexer/controller.State, which is the
// pack's own pattern for a small closed string-backed enum that needs both
// a human label and JSON round-tripping.
package report

import "encoding/json"

// EventKind is the kind of a single reported event.
type EventKind int

const (
	OpenArchive EventKind = iota
	BeginEntry
	EndEntry
	EntryError
	Close
)

func (k EventKind) String() string {
	names := [...]string{
		"OpenArchive",
		"BeginEntry",
		"EndEntry",
		"EntryError",
		"Close",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

func (k *EventKind) FromString(s string) {
	switch s {
	case "OpenArchive":
		*k = OpenArchive
	case "BeginEntry":
		*k = BeginEntry
	case "EndEntry":
		*k = EndEntry
	case "EntryError":
		*k = EntryError
	case "Close":
		*k = Close
	}
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	k.FromString(s)
	return nil
}

// Totals summarizes a completed archive operation.
type Totals struct {
	Entries    int
	Skipped    int
	Failed     int
	Bytes      uint64
	Compressed uint64
}

// Event is one step of an archive operation, reported to a Sink.
type Event struct {
	RunID   string // opaque id shared by every event of one archive operation
	Kind    EventKind
	Archive string // archive path
	Name    string // entry name, when applicable
	Codec   string // per-entry codec label, when applicable (Info/List)
	Size    uint64 // entry uncompressed size, when applicable
	Err     error  `json:"-"`
	ErrText string // Err.Error(), populated for JSON sinks
	Totals  *Totals
}

// Sink consumes a stream of Events. Implementations must not retain the
// Event value past the call, since callers may reuse it.
type Sink interface {
	Report(Event) error
	Close() error
}
