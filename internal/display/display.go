// Package display defines the terminal surface that live sessions and
// recording playback render into.
package display

import (
	"fmt"
	"io"
)

// Geometry is a terminal size in character cells.
type Geometry struct {
	Cols uint16
	Rows uint16
}

func (g Geometry) String() string { return fmt.Sprintf("%dx%d", g.Cols, g.Rows) }

// IsZero reports whether the geometry is unknown.
func (g Geometry) IsZero() bool { return g.Cols == 0 || g.Rows == 0 }

// Sink is a terminal rendering surface.  Write receives opaque bytes
// (control sequences included) and must not escape them.
type Sink interface {
	io.Writer

	// Reset clears the surface back to a blank state.
	Reset() error

	// Fit re-measures the surface and returns the new geometry.
	Fit() Geometry

	// Size returns the geometry measured by the last Fit.
	Size() Geometry

	// Dispose releases the surface.  It is safe to call more than once.
	Dispose() error
}

// Focuser is implemented by sinks that can take keyboard focus.
type Focuser interface {
	Focus()
}

const (
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// WriteInfo writes a green informational line framed by blank lines.
func WriteInfo(s Sink, msg string) error {
	_, err := io.WriteString(s, "\r\n"+ansiGreen+msg+ansiReset+"\r\n")
	return err
}

// WriteError writes a red "Error: ..." line framed by blank lines.
func WriteError(s Sink, msg string) error {
	_, err := io.WriteString(s, "\r\n"+ansiRed+"Error: "+msg+ansiReset+"\r\n")
	return err
}

// WriteFailure writes a red line without the "Error:" prefix, for
// failures detected locally rather than reported by the server.
func WriteFailure(s Sink, msg string) error {
	_, err := io.WriteString(s, "\r\n"+ansiRed+msg+ansiReset+"\r\n")
	return err
}
