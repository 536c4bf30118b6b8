// Package session tracks the lifecycle of one live terminal connection:
// which host it targets, where it is in the connect state machine and
// the last geometry sent to the remote side.
//
// A Session is created for every connect attempt and is never reused.
// Once Closed it stays Closed; a reconnect builds a fresh Session.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hostterm/internal/display"
)

// State is a position in the connect state machine.
type State int

const (
	Idle State = iota
	Authorizing
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authorizing:
		return "authorizing"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// next lists the legal successors of each state.  Any state may close.
var next = map[State][]State{
	Idle:        {Authorizing, Closed},
	Authorizing: {Connecting, Closed},
	Connecting:  {Open, Closed},
	Open:        {Closed},
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}

// Session is the record of one connect attempt.  All methods are safe
// for concurrent use.
type Session struct {
	ID        string
	HostID    string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	geometry display.Geometry
	openedAt time.Time
	err      error
	done     chan struct{}
}

// New creates an Idle session for hostID.
func New(hostID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		HostID:    hostID,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to the given state.  Moving to Closed
// is equivalent to Close(nil).
func (s *Session) Transition(to State) error {
	if to == Closed {
		s.Close(nil)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !allowed(s.state, to) {
		return &TransitionError{From: s.state, To: to}
	}
	s.state = to
	if to == Open {
		s.openedAt = time.Now()
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Close moves the session to Closed and records why.  It reports
// whether this call performed the transition; later calls are no-ops.
func (s *Session) Close(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return false
	}
	s.state = Closed
	s.err = cause
	close(s.done)
	return true
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the cause passed to Close, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetGeometry records the geometry most recently sent to the remote side.
func (s *Session) SetGeometry(g display.Geometry) {
	s.mu.Lock()
	s.geometry = g
	s.mu.Unlock()
}

// Geometry returns the last geometry recorded by SetGeometry.
func (s *Session) Geometry() display.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

// Uptime returns how long the session has been open, or zero if it
// never reached Open.
func (s *Session) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openedAt.IsZero() {
		return 0
	}
	return time.Since(s.openedAt)
}
