package core

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"

	"hostterm/internal/display"
	"hostterm/internal/playback"
)

// fakeSink is an in-memory display whose geometry tests can change.
type fakeSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	geom     display.Geometry
	size     display.Geometry
	disposed int
}

func newFakeSink() *fakeSink {
	return &fakeSink{geom: display.DefaultGeometry, size: display.DefaultGeometry}
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

func (s *fakeSink) Fit() display.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = s.geom
	return s.size
}

func (s *fakeSink) Size() display.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *fakeSink) Dispose() error {
	s.mu.Lock()
	s.disposed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) setGeometry(g display.Geometry) {
	s.mu.Lock()
	s.geom = g
	s.mu.Unlock()
}

func (s *fakeSink) disposals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// fakeEngine records what ConnectMode asks of a live session.
type fakeEngine struct {
	connectErr error

	mu      sync.Mutex
	host    string
	inputs  []string
	resizes []display.Geometry
	closed  int
	err     error
	done    chan struct{}
	once    sync.Once
}

func newFakeEngine() *fakeEngine { return &fakeEngine{done: make(chan struct{})} }

func (e *fakeEngine) Connect(ctx context.Context, hostID string) error {
	e.mu.Lock()
	e.host = hostID
	e.mu.Unlock()
	return e.connectErr
}

func (e *fakeEngine) SendInput(text string) {
	e.mu.Lock()
	e.inputs = append(e.inputs, text)
	e.mu.Unlock()
}

func (e *fakeEngine) Resize(cols, rows uint16) error {
	e.mu.Lock()
	e.resizes = append(e.resizes, display.Geometry{Cols: cols, Rows: rows})
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Done() <-chan struct{} { return e.done }

func (e *fakeEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed++
	e.mu.Unlock()
	e.end(nil)
	return nil
}

// end closes the session as the server would.
func (e *fakeEngine) end(err error) {
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *fakeEngine) snapshot() (inputs []string, resizes []display.Geometry, closed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.inputs...), append([]display.Geometry(nil), e.resizes...), e.closed
}

// fakeReplayer records PlayMode's calls.
type fakeReplayer struct {
	loadErr error

	mu       sync.Mutex
	id       string
	toggles  int
	restarts int
	stops    int
	done     chan struct{}
}

func newFakeReplayer() *fakeReplayer { return &fakeReplayer{done: make(chan struct{})} }

func (r *fakeReplayer) LoadFrom(ctx context.Context, src playback.Source, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	return r.loadErr
}

func (r *fakeReplayer) TogglePause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles++
	return r.toggles%2 == 1
}

func (r *fakeReplayer) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
	r.done = make(chan struct{})
	return nil
}

func (r *fakeReplayer) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *fakeReplayer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// finish ends the current replay.
func (r *fakeReplayer) finish() {
	r.mu.Lock()
	close(r.done)
	r.mu.Unlock()
}

func (r *fakeReplayer) counts() (toggles, restarts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toggles, r.restarts, r.stops
}

// countingRoute is a transport.Dialer that only counts Close calls.
type countingRoute struct{ closed int }

func (r *countingRoute) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, errors.New("not dialable")
}

func (r *countingRoute) Close() error {
	r.closed++
	return nil
}
