// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of live sessions and playback.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a hostterm process.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	sessionsActive   atomic.Int64
	sessionsTotal    atomic.Int64
	framesIn         atomic.Int64
	framesOut        atomic.Int64
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	decodeFallbacks  atomic.Int64
	playbackEvents   atomic.Int64
	tunnelReconnects atomic.Int64
	errorsTotal      atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of sessions currently open.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime count of sessions that reached Open.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── Frame metrics ────────────────────────────────────────────────────

// FrameReceived records one inbound frame of n bytes.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// FrameSent records one outbound frame of n bytes.
func (c *Collector) FrameSent(n int) {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// DecodeFallback records a frame that was rendered as raw text.
func (c *Collector) DecodeFallback() {
	if c == nil {
		return
	}
	c.decodeFallbacks.Add(1)
}

// FramesIn returns the number of frames received.
func (c *Collector) FramesIn() int64 {
	if c == nil {
		return 0
	}
	return c.framesIn.Load()
}

// FramesOut returns the number of frames sent.
func (c *Collector) FramesOut() int64 {
	if c == nil {
		return 0
	}
	return c.framesOut.Load()
}

// TotalBytesIn returns total inbound frame bytes.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total outbound frame bytes.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// DecodeFallbacks returns how many frames fell back to raw rendering.
func (c *Collector) DecodeFallbacks() int64 {
	if c == nil {
		return 0
	}
	return c.decodeFallbacks.Load()
}

// ── Playback metrics ─────────────────────────────────────────────────

// PlaybackEventWritten records one recording event written to a sink.
func (c *Collector) PlaybackEventWritten() {
	if c == nil {
		return
	}
	c.playbackEvents.Add(1)
}

// PlaybackEvents returns the number of replayed output events.
func (c *Collector) PlaybackEvents() int64 {
	if c == nil {
		return 0
	}
	return c.playbackEvents.Load()
}

// ── Tunnel metrics ───────────────────────────────────────────────────

// TunnelReconnect records a bastion reconnection attempt.
func (c *Collector) TunnelReconnect() {
	if c == nil {
		return
	}
	c.tunnelReconnects.Add(1)
}

// TunnelReconnects returns the total bastion reconnection count.
func (c *Collector) TunnelReconnects() int64 {
	if c == nil {
		return 0
	}
	return c.tunnelReconnects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	FramesIn         int64  `json:"frames_in"`
	FramesOut        int64  `json:"frames_out"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	DecodeFallbacks  int64  `json:"decode_fallbacks"`
	PlaybackEvents   int64  `json:"playback_events"`
	TunnelReconnects int64  `json:"tunnel_reconnects"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:   c.sessionsActive.Load(),
		SessionsTotal:    c.sessionsTotal.Load(),
		FramesIn:         c.framesIn.Load(),
		FramesOut:        c.framesOut.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		DecodeFallbacks:  c.decodeFallbacks.Load(),
		PlaybackEvents:   c.playbackEvents.Load(),
		TunnelReconnects: c.tunnelReconnects.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
