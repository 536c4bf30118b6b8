package live

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"hostterm/internal/display"
	"hostterm/internal/transport"
)

// fakeSink records everything written to it.
type fakeSink struct {
	mu       sync.Mutex
	buf      strings.Builder
	geometry display.Geometry
	focused  int
	disposed int
}

func newFakeSink(cols, rows uint16) *fakeSink {
	return &fakeSink{geometry: display.Geometry{Cols: cols, Rows: rows}}
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *fakeSink) Reset() error {
	s.mu.Lock()
	s.buf.Reset()
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Fit() display.Geometry  { return s.Size() }
func (s *fakeSink) Size() display.Geometry { s.mu.Lock(); defer s.mu.Unlock(); return s.geometry }

func (s *fakeSink) Dispose() error {
	s.mu.Lock()
	s.disposed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Focus() {
	s.mu.Lock()
	s.focused++
	s.mu.Unlock()
}

func (s *fakeSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// fakeTickets hands out a fixed ticket.  With gate set it blocks until
// the gate is closed, ignoring ctx, to model a late response.
type fakeTickets struct {
	ticket string
	err    error
	gate   chan struct{}
	called chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeTickets) FetchTicket(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.called != nil {
		close(f.called)
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.ticket, f.err
}

func (f *fakeTickets) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSocket is an in-memory transport.Socket.
type fakeSocket struct {
	in   chan []byte
	fail chan error

	// stubborn sockets keep delivering inbound messages after Close.
	stubborn bool

	mu        sync.Mutex
	sent      [][]byte
	closes    int
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	if s.stubborn {
		select {
		case p := <-s.in:
			return p, nil
		case err := <-s.fail:
			return nil, err
		}
	}
	select {
	case p := <-s.in:
		return p, nil
	case err := <-s.fail:
		return nil, err
	case <-s.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(ctx context.Context, p []byte) error {
	select {
	case <-s.closed:
		return net.ErrClosed
	default:
	}
	s.mu.Lock()
	s.sent = append(s.sent, append([]byte(nil), p...))
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) Sent() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentFrame, 0, len(s.sent))
	for _, p := range s.sent {
		var f sentFrame
		if err := json.Unmarshal(p, &f); err != nil {
			panic(err)
		}
		out = append(out, f)
	}
	return out
}

func (s *fakeSocket) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// sentFrame is the decoded form of an outbound frame.
type sentFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (f sentFrame) geometry() (cols, rows int) {
	var g struct{ Cols, Rows int }
	json.Unmarshal(f.Data, &g) //nolint:errcheck
	return g.Cols, g.Rows
}

func (f sentFrame) text() string {
	var s string
	json.Unmarshal(f.Data, &s) //nolint:errcheck
	return s
}

// fakeDialer returns prepared sockets in order.
type fakeDialer struct {
	sockets []*fakeSocket
	err     error
	gate    chan struct{}
	called  chan struct{}

	mu   sync.Mutex
	urls []string
}

func (d *fakeDialer) DialSocket(ctx context.Context, url string) (transport.Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	n := len(d.urls)
	d.mu.Unlock()
	if d.called != nil {
		close(d.called)
	}
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	if n > len(d.sockets) {
		return nil, errors.New("no socket prepared")
	}
	return d.sockets[n-1], nil
}

func (d *fakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
