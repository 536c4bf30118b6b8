// Package playback replays captured terminal sessions with their
// original timing.
//
// A recording is newline-delimited JSON, one event per line:
//
//	[0.0, "o", "$ "]
//	[0.5, "o", "ls\r\n"]
//
// The first element is seconds since the start of the session, the
// second the event kind and the third its payload.  Only output ("o")
// events are drawn; other kinds are kept but not rendered.
package playback

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	herr "hostterm/internal/errors"
)

// Event kinds.
const (
	KindOutput = "o"
	KindInput  = "i"
)

// Event is one entry of a recording.
type Event struct {
	Time    float64 // seconds since start
	Kind    string
	Payload string
}

// Recording is a parsed event log.  Events keep file order, which is
// the replay order.
type Recording struct {
	Events  []Event
	Skipped []*herr.PlaybackParseError
}

// Duration returns the timestamp of the last event.
func (r *Recording) Duration() float64 {
	if r == nil || len(r.Events) == 0 {
		return 0
	}
	return r.Events[len(r.Events)-1].Time
}

// Parse reads an event log.  Blank lines are ignored and malformed
// lines are recorded in Skipped; only a read error fails the parse.
func Parse(r io.Reader) (*Recording, error) {
	rec := &Recording{}
	br := bufio.NewReader(r)

	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				ev, perr := parseLine(line)
				if perr != nil {
					rec.Skipped = append(rec.Skipped, &herr.PlaybackParseError{Line: lineNo, Err: perr})
				} else {
					rec.Events = append(rec.Events, ev)
				}
			}
		}
		if err == io.EOF {
			return rec, nil
		}
		if err != nil {
			return rec, fmt.Errorf("reading recording: %w", err)
		}
	}
}

// parseLine decodes one [time, kind, payload, ...] tuple.  Extra
// trailing elements are ignored.
func parseLine(line []byte) (Event, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(line, &tuple); err != nil {
		return Event{}, err
	}
	if len(tuple) < 3 {
		return Event{}, fmt.Errorf("want at least 3 elements, got %d", len(tuple))
	}

	var ev Event
	if err := json.Unmarshal(tuple[0], &ev.Time); err != nil {
		return Event{}, fmt.Errorf("time: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &ev.Kind); err != nil {
		return Event{}, fmt.Errorf("kind: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &ev.Payload); err != nil {
		return Event{}, fmt.Errorf("payload: %w", err)
	}
	return ev, nil
}
