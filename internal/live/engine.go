// Package live drives an interactive remote shell over a ticket
// authenticated WebSocket.
//
// An Engine owns at most one session at a time.  Connect obtains a
// ticket, opens the stream and announces the terminal geometry; from
// then on keystrokes go out as input frames and output frames are
// written to the display sink in arrival order.  A dropped connection
// is reported, never retried: reconnecting is a fresh Connect.
//
// Every asynchronous result (ticket, dial, inbound frame) is tagged with
// the generation it belongs to.  Disconnect advances the generation, so
// anything still in flight from an older attempt is discarded.
package live

import (
	"context"
	"sync"
	"time"

	"hostterm/internal/apiclient"
	"hostterm/internal/display"
	herr "hostterm/internal/errors"
	"hostterm/internal/frame"
	"hostterm/internal/metrics"
	"hostterm/internal/session"
	"hostterm/internal/transport"
	"hostterm/util"
)

// DefaultWriteTimeout bounds a single outbound frame.
const DefaultWriteTimeout = 10 * time.Second

// Sink-visible messages.
const (
	msgEstablished = "SSH Connection Established"
	msgAuthFailed  = "Failed to authenticate SSH WebSocket"
	msgSocketError = "WebSocket Error"
)

// TicketSource issues single-use streaming tickets.
type TicketSource interface {
	FetchTicket(ctx context.Context) (string, error)
}

// Options configures an [Engine].
type Options struct {
	// Origin is the server origin the stream URL is derived from.
	// Empty means apiclient.DefaultOrigin.
	Origin  string
	Tickets TicketSource
	Dialer  transport.SocketDialer
	Sink    display.Sink

	// WriteTimeout bounds each outbound frame (default 10s).
	WriteTimeout time.Duration

	// OnStateChange is called after every state change, in order.  It
	// must not call back into the Engine.
	OnStateChange func(session.State)

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Engine is a live terminal session engine.  All methods are safe for
// concurrent use.
type Engine struct {
	opts   Options
	logger *util.Logger

	mu     sync.Mutex // guards gen, sess, sock, cancel
	gen    uint64
	sess   *session.Session
	sock   transport.Socket
	cancel context.CancelFunc

	stateMu sync.Mutex // orders state changes with their callbacks
	sendMu  sync.Mutex // keeps outbound frames in call order
	outMu   sync.Mutex // held around every sink write
}

// New creates an idle engine.
func New(opts Options) *Engine {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Engine{opts: opts, logger: logger}
}

// ── Public operations ────────────────────────────────────────────────

// Connect opens a session to hostID, tearing down any previous one.
// It returns once the stream is open and the initial resize frame has
// been sent, or with the reason it failed.  A failure is also written
// to the sink, and leaves the engine Closed.
//
// ctx bounds the connect attempt only; an open session lives until
// Disconnect or until the server closes it.
func (e *Engine) Connect(ctx context.Context, hostID string) error {
	e.Disconnect()

	sess := session.New(hostID)
	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.sess = sess
	e.cancel = cancel
	e.mu.Unlock()

	log := e.logger.With("session", sess.ID).With("host", hostID)

	attemptCtx, stopAttempt := context.WithCancel(runCtx)
	defer stopAttempt()
	defer context.AfterFunc(ctx, stopAttempt)()

	// (a) ticket
	if !e.setState(gen, sess, session.Authorizing) {
		return herr.ErrSuperseded
	}
	ticket, err := e.opts.Tickets.FetchTicket(attemptCtx)
	if !e.current(gen) {
		return herr.ErrSuperseded
	}
	if err != nil {
		if !herr.IsAuth(err) {
			err = &herr.AuthError{Op: "ticket", Err: err}
		}
		log.Error("%v", err)
		e.fail(gen, sess, msgAuthFailed, err)
		return err
	}

	// (b) endpoint
	url, err := apiclient.StreamURL(e.opts.Origin, hostID, ticket)
	if err != nil {
		err = &herr.TransportError{Op: "dial", Err: err}
		log.Error("%v", err)
		e.fail(gen, sess, msgSocketError, err)
		return err
	}
	redacted := transport.Redact(url)

	// (c) socket
	if !e.setState(gen, sess, session.Connecting) {
		return herr.ErrSuperseded
	}
	log.Verbose("connecting to %s", redacted)
	sock, err := e.opts.Dialer.DialSocket(attemptCtx, url)
	if err != nil {
		if !e.current(gen) {
			return herr.ErrSuperseded
		}
		err = &herr.TransportError{Op: "dial", URL: redacted, Err: err}
		log.Error("%v", err)
		e.fail(gen, sess, msgSocketError, err)
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		sock.Close()
		return herr.ErrSuperseded
	}
	e.sock = sock
	e.mu.Unlock()

	// (d) open
	if !e.open(gen, sess) {
		return herr.ErrSuperseded
	}
	e.opts.Metrics.SessionOpened()
	log.Info("connected")

	g := e.opts.Sink.Fit()
	if err := e.Resize(g.Cols, g.Rows); err != nil {
		log.Warn("initial resize: %v", err)
	}
	if f, ok := e.opts.Sink.(display.Focuser); ok {
		f.Focus()
	}

	go e.readLoop(runCtx, gen, sess, sock, log)
	return nil
}

// SendInput sends keystrokes.  It is dropped silently unless the
// session is Open; a write failure is logged, not returned, because the
// read side reports the connection loss.
func (e *Engine) SendInput(text string) {
	if err := e.send(frame.Input(text)); err != nil && !herr.Is(err, herr.ErrNotOpen) {
		e.logger.Debug("send input: %v", err)
	}
}

// Resize announces a new terminal geometry.  It returns ErrNotOpen,
// without sending anything, unless the session is Open.
func (e *Engine) Resize(cols, rows uint16) error {
	if err := e.send(frame.Resize(cols, rows)); err != nil {
		return err
	}
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess != nil {
		sess.SetGeometry(display.Geometry{Cols: cols, Rows: rows})
	}
	return nil
}

// Disconnect closes the current session, if any.  It can be called at
// any point, any number of times.  Once it returns nothing from the
// old session reaches the sink.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.gen++
	sess, sock, cancel := e.sess, e.sock, e.cancel
	e.sock, e.cancel = nil, nil
	e.mu.Unlock()

	if sock != nil {
		sock.Close() //nolint:errcheck
	}
	if cancel != nil {
		cancel()
	}
	if sess != nil {
		e.closeSession(sess, nil)
	}

	// Barrier: wait out any sink write that checked the generation
	// before it changed.
	e.outMu.Lock()
	e.outMu.Unlock() //nolint:staticcheck
}

// Close disconnects and disposes the sink.
func (e *Engine) Close() error {
	e.Disconnect()
	return e.opts.Sink.Dispose()
}

// State returns the state of the current session, or Idle if Connect
// was never called.
func (e *Engine) State() session.State {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return session.Idle
	}
	return sess.State()
}

// Connected reports whether the session is Open.
func (e *Engine) Connected() bool { return e.State() == session.Open }

// Session returns the current session record, or nil.
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

// Err returns why the current session closed: nil while it is live,
// after a user disconnect or a normal server close.
func (e *Engine) Err() error {
	if sess := e.Session(); sess != nil {
		return sess.Err()
	}
	return nil
}

// Done returns a channel closed when the current session ends.  With no
// session it returns an already-closed channel.
func (e *Engine) Done() <-chan struct{} {
	if sess := e.Session(); sess != nil {
		return sess.Done()
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ── Internals ────────────────────────────────────────────────────────

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

// setState applies a non-terminal transition if gen is still current.
func (e *Engine) setState(gen uint64, sess *session.Session, to session.State) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !e.current(gen) || sess.Transition(to) != nil {
		return false
	}
	e.notify(to)
	return true
}

// closeSession moves sess to Closed once.
func (e *Engine) closeSession(sess *session.Session, cause error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	wasOpen := sess.State() == session.Open
	if !sess.Close(cause) {
		return
	}
	if wasOpen {
		e.opts.Metrics.SessionClosed()
	}
	e.notify(session.Closed)
}

func (e *Engine) notify(s session.State) {
	if e.opts.OnStateChange != nil {
		e.opts.OnStateChange(s)
	}
}

// open transitions to Open and announces it on the sink, atomically
// with respect to Disconnect's barrier.
func (e *Engine) open(gen uint64, sess *session.Session) bool {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if !e.setState(gen, sess, session.Open) {
		return false
	}
	display.WriteInfo(e.opts.Sink, msgEstablished) //nolint:errcheck
	return true
}

// fail reports a connect failure on the sink and closes sess.
func (e *Engine) fail(gen uint64, sess *session.Session, msg string, cause error) {
	e.opts.Metrics.RecordError(cause.Error())
	e.write(gen, func(s display.Sink) { display.WriteFailure(s, msg) }) //nolint:errcheck
	e.closeSession(sess, cause)
}

// write runs fn against the sink if gen is still current.
func (e *Engine) write(gen uint64, fn func(display.Sink)) bool {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if !e.current(gen) {
		return false
	}
	fn(e.opts.Sink)
	return true
}

func (e *Engine) send(f frame.Frame) error {
	e.mu.Lock()
	sess, sock := e.sess, e.sock
	e.mu.Unlock()
	if sess == nil || sock == nil || sess.State() != session.Open {
		return herr.ErrNotOpen
	}

	p, err := frame.Encode(f)
	if err != nil {
		return err
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.WriteTimeout)
	defer cancel()
	if err := sock.Write(ctx, p); err != nil {
		return &herr.TransportError{Op: "write", Err: err}
	}
	e.opts.Metrics.FrameSent(len(p))
	return nil
}

func (e *Engine) readLoop(ctx context.Context, gen uint64, sess *session.Session, sock transport.Socket, log *util.Logger) {
	for {
		p, err := sock.Read(ctx)
		if err != nil {
			e.dropped(gen, sess, err, log)
			return
		}
		e.opts.Metrics.FrameReceived(len(p))

		f, derr := frame.Decode(p)
		if derr != nil {
			e.opts.Metrics.DecodeFallback()
			log.Debug("%v", derr)
		}
		if !e.write(gen, func(s display.Sink) { dispatch(s, f) }) {
			return
		}
	}
}

// dispatch renders one inbound frame.
func dispatch(s display.Sink, f frame.Frame) {
	switch f.Kind {
	case frame.KindConnected:
		display.WriteInfo(s, f.Data) //nolint:errcheck
	case frame.KindError:
		display.WriteError(s, f.Data) //nolint:errcheck
	case frame.KindOutput, frame.KindInput, frame.KindRaw:
		s.Write(f.Payload()) //nolint:errcheck
	case frame.KindResize:
		// Server-sent geometry has no meaning for the client.
	}
}

// dropped handles the end of the read side.
func (e *Engine) dropped(gen uint64, sess *session.Session, err error, log *util.Logger) {
	if !e.current(gen) {
		return
	}
	if transport.IsNormalClosure(err) {
		log.Info("connection closed by server")
		e.closeSession(sess, nil)
		return
	}

	terr := &herr.TransportError{Op: "read", Err: err}
	log.Error("%v", terr)
	e.opts.Metrics.RecordError(terr.Error())
	e.write(gen, func(s display.Sink) { display.WriteFailure(s, msgSocketError) })
	e.closeSession(sess, terr)
}
