package display

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// DefaultGeometry is used when the output is not a terminal.
var DefaultGeometry = Geometry{Cols: 80, Rows: 24}

// Terminal is a [Sink] over the process's own TTY.  Output goes to out
// untouched; the input side can be switched to raw mode so keystrokes
// reach the remote shell unprocessed.
type Terminal struct {
	in  *os.File
	out io.Writer
	fd  int // descriptor queried for size, -1 if none

	mu       sync.Mutex
	size     Geometry
	restore  *term.State
	disposed bool
}

// NewTerminal binds a Terminal to the given input and output files.
func NewTerminal(in, out *os.File) *Terminal {
	t := &Terminal{in: in, out: out, fd: -1}
	if out != nil {
		t.fd = int(out.Fd())
	}
	t.Fit()
	return t
}

// IsInteractive reports whether both ends are attached to a terminal.
func (t *Terminal) IsInteractive() bool {
	return t.in != nil && term.IsTerminal(int(t.in.Fd())) &&
		t.fd >= 0 && term.IsTerminal(t.fd)
}

// MakeRaw puts the input side into raw mode.  Dispose restores it.
// It is a no-op when the input is not a terminal.
func (t *Terminal) MakeRaw() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.restore != nil || t.in == nil || !term.IsTerminal(int(t.in.Fd())) {
		return nil
	}
	st, err := term.MakeRaw(int(t.in.Fd()))
	if err != nil {
		return err
	}
	t.restore = st
	return nil
}

// Write implements io.Writer.  Writes after Dispose are discarded.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return len(p), nil
	}
	return t.out.Write(p)
}

// Reset issues a full terminal reset (RIS).
func (t *Terminal) Reset() error {
	_, err := t.Write([]byte("\x1bc"))
	return err
}

// Fit re-reads the window size.
func (t *Terminal) Fit() Geometry {
	g := DefaultGeometry
	if t.fd >= 0 {
		if w, h, err := term.GetSize(t.fd); err == nil && w > 0 && h > 0 {
			g = Geometry{Cols: uint16(w), Rows: uint16(h)}
		}
	}
	t.mu.Lock()
	t.size = g
	t.mu.Unlock()
	return g
}

// Size returns the geometry from the last Fit.
func (t *Terminal) Size() Geometry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Dispose restores the input mode and stops further output.
func (t *Terminal) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil
	}
	t.disposed = true
	if t.restore != nil {
		err := term.Restore(int(t.in.Fd()), t.restore)
		t.restore = nil
		return err
	}
	return nil
}
