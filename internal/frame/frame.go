// Package frame encodes and decodes the JSON messages exchanged over a
// live terminal stream.
//
// Every message is one JSON object {"type": ..., "data": ...}.  Decoding
// never fails hard: anything that is not a recognised frame comes back
// as a KindRaw frame carrying the original bytes so the receiver can
// still show it.
package frame

import (
	"encoding/json"
	"fmt"

	herr "hostterm/internal/errors"
)

// Kind tags a frame.
type Kind string

const (
	KindInput     Kind = "input"     // client → server keystrokes; also echoed by some servers
	KindResize    Kind = "resize"    // client → server geometry
	KindConnected Kind = "connected" // server → client, session established
	KindOutput    Kind = "output"    // server → client program output
	KindError     Kind = "error"     // server → client failure notice

	// KindRaw is never on the wire.  Decode returns it for payloads that
	// are not a known frame.
	KindRaw Kind = "raw"
)

// Frame is a decoded message.  Only the fields of its Kind are set:
// Data for input/connected/output/error, Cols and Rows for resize, Raw
// for raw.
type Frame struct {
	Kind Kind
	Data string
	Cols uint16
	Rows uint16
	Raw  []byte
}

// Input builds a keystroke frame.
func Input(data string) Frame { return Frame{Kind: KindInput, Data: data} }

// Resize builds a geometry frame.
func Resize(cols, rows uint16) Frame { return Frame{Kind: KindResize, Cols: cols, Rows: rows} }

// Renderable reports whether the frame's payload goes to the display
// verbatim (program output, echoed input, or an unrecognised payload).
func (f Frame) Renderable() bool {
	switch f.Kind {
	case KindOutput, KindInput, KindRaw:
		return true
	}
	return false
}

// Payload returns the bytes a renderable frame writes to the display.
func (f Frame) Payload() []byte {
	if f.Kind == KindRaw {
		return f.Raw
	}
	return []byte(f.Data)
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type geometry struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Encode serialises f as a UTF-8 JSON object.
func Encode(f Frame) ([]byte, error) {
	var data interface{}
	switch f.Kind {
	case KindInput, KindConnected, KindOutput, KindError:
		data = f.Data
	case KindResize:
		data = geometry{Cols: f.Cols, Rows: f.Rows}
	default:
		return nil, fmt.Errorf("frame: cannot encode kind %q", f.Kind)
	}
	return json.Marshal(struct {
		Type Kind        `json:"type"`
		Data interface{} `json:"data"`
	}{f.Kind, data})
}

// Decode parses one message.  On failure it returns a KindRaw frame
// holding p together with a *errors.ProtocolError; the frame is still
// meant to be rendered.
func Decode(p []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return raw(p, err)
	}

	switch k := Kind(env.Type); k {
	case KindInput, KindConnected, KindOutput, KindError:
		var s string
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return raw(p, fmt.Errorf("%s data: %w", k, err))
		}
		return Frame{Kind: k, Data: s}, nil
	case KindResize:
		var g geometry
		if err := json.Unmarshal(env.Data, &g); err != nil {
			return raw(p, fmt.Errorf("resize data: %w", err))
		}
		return Frame{Kind: k, Cols: g.Cols, Rows: g.Rows}, nil
	default:
		return raw(p, fmt.Errorf("unknown frame type %q", env.Type))
	}
}

func raw(p []byte, err error) (Frame, error) {
	cp := append([]byte(nil), p...)
	return Frame{Kind: KindRaw, Raw: cp}, &herr.ProtocolError{Payload: cp, Err: err}
}
