package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	herr "hostterm/internal/errors"
	"hostterm/internal/metrics"
	"hostterm/internal/session"
	"hostterm/internal/transport"
)

const established = "\r\n\x1b[32mSSH Connection Established\x1b[0m\r\n"

type harness struct {
	engine  *Engine
	sink    *fakeSink
	tickets *fakeTickets
	dialer  *fakeDialer
	socket  *fakeSocket
	metrics *metrics.Collector

	mu     sync.Mutex
	states []session.State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sink:    newFakeSink(100, 30),
		tickets: &fakeTickets{ticket: "T1"},
		socket:  newFakeSocket(),
		metrics: metrics.New(),
	}
	h.dialer = &fakeDialer{sockets: []*fakeSocket{h.socket}}
	h.engine = New(Options{
		Tickets: h.tickets,
		Dialer:  h.dialer,
		Sink:    h.sink,
		Metrics: h.metrics,
		OnStateChange: func(s session.State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.engine.Disconnect)
	return h
}

func (h *harness) States() []session.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.State(nil), h.states...)
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.engine.Connect(context.Background(), "5"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestConnect_OpensAndSendsGeometry(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	if got := h.engine.State(); got != session.Open {
		t.Fatalf("state = %s, want open", got)
	}
	if !h.engine.Connected() {
		t.Error("Connected() = false")
	}
	if got := h.sink.String(); got != established {
		t.Errorf("sink = %q, want %q", got, established)
	}

	sent := h.socket.Sent()
	if len(sent) != 1 || sent[0].Type != "resize" {
		t.Fatalf("sent = %+v, want exactly one resize frame", sent)
	}
	if c, r := sent[0].geometry(); c != 100 || r != 30 {
		t.Errorf("resize = %dx%d, want 100x30", c, r)
	}

	urls := h.dialer.URLs()
	if len(urls) != 1 || urls[0] != "ws://localhost:8080/api/ws/ssh/5?ticket=T1" {
		t.Errorf("dialed %v", urls)
	}

	want := []session.State{session.Authorizing, session.Connecting, session.Open}
	if got := h.States(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if h.sink.focused != 1 {
		t.Errorf("focused %d times, want 1", h.sink.focused)
	}
	if g := h.engine.Session().Geometry(); g.Cols != 100 || g.Rows != 30 {
		t.Errorf("session geometry = %v", g)
	}
	if h.metrics.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions = %d, want 1", h.metrics.ActiveSessions())
	}
}

func TestConnect_SecureOrigin(t *testing.T) {
	h := newHarness(t)
	h.engine.opts.Origin = "https://ops.example.com"
	h.connect(t)

	if got := h.dialer.URLs()[0]; got != "wss://ops.example.com/api/ws/ssh/5?ticket=T1" {
		t.Errorf("dialed %q", got)
	}
}

func TestSendInput_DroppedUnlessOpen(t *testing.T) {
	h := newHarness(t)

	h.engine.SendInput("ls\r")
	if err := h.engine.Resize(80, 24); !errors.Is(err, herr.ErrNotOpen) {
		t.Errorf("Resize before connect = %v, want ErrNotOpen", err)
	}
	if len(h.dialer.URLs()) != 0 {
		t.Fatal("nothing should be dialed")
	}

	h.connect(t)
	h.engine.Disconnect()
	h.engine.SendInput("after")
	if err := h.engine.Resize(1, 1); !errors.Is(err, herr.ErrNotOpen) {
		t.Errorf("Resize after disconnect = %v, want ErrNotOpen", err)
	}

	sent := h.socket.Sent()
	if len(sent) != 1 || sent[0].Type != "resize" {
		t.Errorf("sent = %+v, want only the initial resize", sent)
	}
}

func TestSendInput_NothingBeforeOpen(t *testing.T) {
	h := newHarness(t)
	h.dialer.gate = make(chan struct{})
	h.dialer.called = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.engine.Connect(context.Background(), "5") }()

	<-h.dialer.called
	if s := h.engine.State(); s != session.Connecting {
		t.Fatalf("state = %s, want connecting", s)
	}
	h.engine.SendInput("early")
	close(h.dialer.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	sent := h.socket.Sent()
	if len(sent) == 0 || sent[0].Type != "resize" {
		t.Fatalf("first frame = %+v, want resize", sent)
	}
	for _, f := range sent {
		if f.Type == "input" {
			t.Errorf("input sent before open: %q", f.text())
		}
	}
}

func TestResize_LastWins(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	sizes := [][2]uint16{{80, 24}, {120, 40}, {132, 43}}
	for _, s := range sizes {
		if err := h.engine.Resize(s[0], s[1]); err != nil {
			t.Fatal(err)
		}
	}

	sent := h.socket.Sent()
	last := sent[len(sent)-1]
	if c, r := last.geometry(); last.Type != "resize" || c != 132 || r != 43 {
		t.Errorf("last frame = %s %dx%d, want resize 132x43", last.Type, c, r)
	}
	if g := h.engine.Session().Geometry(); g.Cols != 132 || g.Rows != 43 {
		t.Errorf("session geometry = %v", g)
	}
}

func TestSendInput_Order(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	for _, s := range []string{"l", "s", "\r"} {
		h.engine.SendInput(s)
	}
	h.engine.Resize(90, 20) //nolint:errcheck

	sent := h.socket.Sent()
	var got []string
	for _, f := range sent[1:] {
		if f.Type == "input" {
			got = append(got, f.text())
		} else {
			got = append(got, f.Type)
		}
	}
	want := []string{"l", "s", "\r", "resize"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("frames = %q, want %q", got, want)
	}
	if h.metrics.FramesOut() != 5 {
		t.Errorf("FramesOut = %d, want 5", h.metrics.FramesOut())
	}
}

func TestInboundFrames_Dispatch(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	inbound := []string{
		`{"type":"connected","data":"Connected to web-1"}`,
		`{"type":"output","data":"$ "}`,
		`{"type":"input","data":"ls"}`,
		`{"type":"output","data":"\u001b[1mfile.txt\u001b[0m\r\n"}`,
		`{"type":"error","data":"permission denied"}`,
		`{"type":"bogus"}`,
		`not json`,
		`{"type":"resize","data":{"cols":1,"rows":1}}`,
	}
	for _, m := range inbound {
		h.socket.in <- []byte(m)
	}

	want := established +
		"\r\n\x1b[32mConnected to web-1\x1b[0m\r\n" +
		"$ " +
		"ls" +
		"\x1b[1mfile.txt\x1b[0m\r\n" +
		"\r\n\x1b[31mError: permission denied\x1b[0m\r\n" +
		`{"type":"bogus"}` +
		`not json`

	waitFor(t, "all frames read", func() bool {
		return h.metrics.FramesIn() == int64(len(inbound))
	})
	waitFor(t, "all frames rendered", func() bool { return h.sink.String() == want })
	if h.metrics.DecodeFallbacks() != 2 {
		t.Errorf("DecodeFallbacks = %d, want 2", h.metrics.DecodeFallbacks())
	}
	if h.engine.State() != session.Open {
		t.Error("an error frame must not close the session")
	}
}

func TestConnect_TicketFailure(t *testing.T) {
	h := newHarness(t)
	h.tickets.err = errors.New("401 unauthorized")

	err := h.engine.Connect(context.Background(), "5")
	if !herr.IsAuth(err) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
	if len(h.dialer.URLs()) != 0 {
		t.Error("no socket may be opened without a ticket")
	}
	want := "\r\n\x1b[31mFailed to authenticate SSH WebSocket\x1b[0m\r\n"
	if got := h.sink.String(); got != want {
		t.Errorf("sink = %q, want %q", got, want)
	}
	select {
	case <-h.engine.Done():
	default:
		t.Error("Done must be closed after a failed connect")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("connection refused")

	err := h.engine.Connect(context.Background(), "5")
	if !herr.IsTransport(err) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if strings.Contains(err.Error(), "T1") {
		t.Errorf("error leaks the ticket: %v", err)
	}
	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
	want := "\r\n\x1b[31mWebSocket Error\x1b[0m\r\n"
	if got := h.sink.String(); got != want {
		t.Errorf("sink = %q, want %q", got, want)
	}
	if h.metrics.ErrorCount() != 1 {
		t.Errorf("ErrorCount = %d, want 1", h.metrics.ErrorCount())
	}
}

func TestDisconnect_DuringTicket(t *testing.T) {
	h := newHarness(t)
	h.tickets.gate = make(chan struct{})
	h.tickets.called = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.engine.Connect(context.Background(), "5") }()

	<-h.tickets.called
	h.engine.Disconnect()
	close(h.tickets.gate)

	if err := <-done; !errors.Is(err, herr.ErrSuperseded) {
		t.Fatalf("Connect = %v, want ErrSuperseded", err)
	}
	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
	if len(h.dialer.URLs()) != 0 {
		t.Error("a superseded ticket must not be used")
	}
	if got := h.sink.String(); got != "" {
		t.Errorf("sink = %q, want nothing", got)
	}
}

func TestDisconnect_DuringDial(t *testing.T) {
	h := newHarness(t)
	h.dialer.gate = make(chan struct{})
	h.dialer.called = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.engine.Connect(context.Background(), "5") }()

	<-h.dialer.called
	h.engine.Disconnect()
	close(h.dialer.gate) // the socket opens late

	if err := <-done; !errors.Is(err, herr.ErrSuperseded) {
		t.Fatalf("Connect = %v, want ErrSuperseded", err)
	}
	if got := h.sink.String(); got != "" {
		t.Errorf("sink = %q, want no connected notification", got)
	}
	if !h.socket.IsClosed() {
		t.Error("a late socket must be closed")
	}
	if len(h.socket.Sent()) != 0 {
		t.Error("nothing may be sent on a superseded socket")
	}
	for _, s := range h.States() {
		if s == session.Open {
			t.Error("state must never reach open")
		}
	}
}

func TestConnect_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	h.dialer.called = make(chan struct{})
	blocking := &blockingDialer{called: h.dialer.called}
	h.engine.opts.Dialer = blocking

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Connect(ctx, "5") }()

	<-h.dialer.called
	cancel()

	err := <-done
	if !herr.IsTransport(err) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
}

func TestDisconnect_NoWriteAfterReturn(t *testing.T) {
	h := newHarness(t)
	h.socket.stubborn = true
	h.connect(t)

	h.socket.in <- []byte(`{"type":"output","data":"before"}`)
	waitFor(t, "first frame", func() bool { return h.metrics.FramesIn() == 1 })

	h.engine.Disconnect()
	snapshot := h.sink.String()

	h.socket.in <- []byte(`{"type":"connected","data":"late"}`)
	h.socket.in <- []byte(`{"type":"output","data":"late"}`)
	time.Sleep(50 * time.Millisecond)

	if got := h.sink.String(); got != snapshot {
		t.Errorf("sink changed after Disconnect: %q", strings.TrimPrefix(got, snapshot))
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.engine.Disconnect()
	if h.engine.State() != session.Idle {
		t.Errorf("state = %s, want idle", h.engine.State())
	}

	h.connect(t)
	h.engine.Disconnect()
	h.engine.Disconnect()

	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
	if !h.socket.IsClosed() {
		t.Error("socket not closed")
	}
	closed := 0
	for _, s := range h.States() {
		if s == session.Closed {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("closed notified %d times, want 1", closed)
	}
	if h.metrics.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0", h.metrics.ActiveSessions())
	}
	if got := h.sink.String(); got != established {
		t.Errorf("a user disconnect must be silent, sink = %q", got)
	}
}

func TestServerDrop(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	sess := h.engine.Session()

	h.socket.fail <- errors.New("connection reset by peer")
	<-h.engine.Done()

	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
	if !herr.IsTransport(sess.Err()) {
		t.Errorf("session err = %v, want *TransportError", sess.Err())
	}
	waitFor(t, "error line", func() bool {
		return strings.HasSuffix(h.sink.String(), "\r\n\x1b[31mWebSocket Error\x1b[0m\r\n")
	})
	h.engine.SendInput("x")
	if n := len(h.socket.Sent()); n != 1 {
		t.Errorf("sent %d frames, want 1", n)
	}
}

func TestServerNormalClose(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.socket.fail <- websocket.CloseError{Code: websocket.StatusNormalClosure, Reason: "logout"}
	<-h.engine.Done()

	if h.engine.Session().Err() != nil {
		t.Errorf("session err = %v, want nil", h.engine.Session().Err())
	}
	if got := h.sink.String(); got != established {
		t.Errorf("a normal close must be silent, sink = %q", got)
	}
}

func TestReconnect(t *testing.T) {
	h := newHarness(t)
	second := newFakeSocket()
	h.dialer.sockets = append(h.dialer.sockets, second)

	h.connect(t)
	first := h.engine.Session()
	h.connect(t) // implicit disconnect

	if h.engine.Session().ID == first.ID {
		t.Error("reconnect must create a new session")
	}
	if first.State() != session.Closed {
		t.Errorf("old session = %s, want closed", first.State())
	}
	if !h.socket.IsClosed() {
		t.Error("old socket not closed")
	}
	if sent := second.Sent(); len(sent) != 1 || sent[0].Type != "resize" {
		t.Errorf("second socket sent %+v, want one resize", sent)
	}
	if h.metrics.TotalSessions() != 2 || h.metrics.ActiveSessions() != 1 {
		t.Errorf("sessions total=%d active=%d, want 2/1",
			h.metrics.TotalSessions(), h.metrics.ActiveSessions())
	}
}

func TestClose_DisposesSink(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	if err := h.engine.Close(); err != nil {
		t.Fatal(err)
	}
	if h.sink.disposed != 1 {
		t.Errorf("disposed %d times, want 1", h.sink.disposed)
	}
	if h.engine.State() != session.Closed {
		t.Errorf("state = %s, want closed", h.engine.State())
	}
}

func TestDone_NoSession(t *testing.T) {
	e := New(Options{})
	select {
	case <-e.Done():
	default:
		t.Error("Done without a session must be closed")
	}
}

// blockingDialer waits for ctx like a real dial would.
type blockingDialer struct {
	called chan struct{}
}

func (d *blockingDialer) DialSocket(ctx context.Context, url string) (transport.Socket, error) {
	close(d.called)
	<-ctx.Done()
	return nil, ctx.Err()
}

func equalStates(a, b []session.State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
