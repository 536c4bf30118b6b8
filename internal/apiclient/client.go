// Package apiclient talks to the management API: a small JSON-over-HTTP
// client with bearer authentication, plus the two calls the terminal
// engines need (connection tickets and recording streams).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	herr "hostterm/internal/errors"
	"hostterm/internal/metrics"
	"hostterm/internal/retry"
	"hostterm/util"
)

// DefaultTimeout bounds a single API request.
const DefaultTimeout = 10 * time.Second

// loginPath is exempt from session-expiry handling: a 401 there is a
// bad password, not an expired session.
const loginPath = "/auth/login"

// ── Credentials ──────────────────────────────────────────────────────

// CredentialStore holds the bearer token attached to every request.
type CredentialStore interface {
	Token() string
	SetToken(token string)
	Clear()
}

// MemoryStore is a process-local [CredentialStore].
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns a store seeded with token (may be empty).
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (m *MemoryStore) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *MemoryStore) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

func (m *MemoryStore) Clear() { m.SetToken("") }

// ── Client ───────────────────────────────────────────────────────────

// Options configures a [Client].
type Options struct {
	// Origin is the server origin, e.g. "https://ops.example.com".
	Origin string
	// Credentials supplies the bearer token.  Nil means no auth header.
	Credentials CredentialStore
	// HTTPClient performs requests.  Its Timeout should be zero; the
	// client bounds each request with Timeout instead.
	HTTPClient *http.Client
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
	// Breaker, if set, fails calls fast after repeated server or
	// transport failures.
	Breaker *retry.CircuitBreaker
	// OnSessionExpired is called after a 401 clears the credentials.
	OnSessionExpired func()

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Client is a management API client.  It is safe for concurrent use.
type Client struct {
	origin  *url.URL
	base    string
	creds   CredentialStore
	http    *http.Client
	timeout time.Duration
	breaker *retry.CircuitBreaker
	expired func()
	logger  *util.Logger
	metrics *metrics.Collector
}

// New builds a client.  The API lives under origin + "/api".
func New(opts Options) (*Client, error) {
	u, err := ParseOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	c := &Client{
		origin:  u,
		base:    strings.TrimRight(u.String(), "/") + "/api",
		creds:   opts.Credentials,
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		breaker: opts.Breaker,
		expired: opts.OnSessionExpired,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = util.NewLogger(0)
	}
	return c, nil
}

// Origin returns the server origin the client was built with.
func (c *Client) Origin() string { return c.origin.String() }

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.base }

// Get issues a GET and decodes the (unwrapped) response into out.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

// GetText issues a GET and returns the raw body as a string.
func (c *Client) GetText(ctx context.Context, path string) (string, error) {
	rc, err := c.open(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("GET %s: read body: %w", path, err)
	}
	return string(b), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	rc, err := c.open(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// envelope is the server's success wrapper {"success":true,"data":...}.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// unwrap strips the success envelope if present.
func unwrap(raw []byte) []byte {
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Success && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

// open performs the request and returns the body of a 2xx response.
// The request's timeout stays armed until the body is closed.
func (c *Client) open(ctx context.Context, method, path string, body interface{}) (io.ReadCloser, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode: %w", method, path, err)
		}
		payload = b
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	var resp *http.Response
	call := func() error {
		r, err := c.roundTrip(ctx, method, path, payload)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return c.statusError(method, path, r)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		cancel()
		c.metrics.RecordError(err.Error())
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		err := c.statusError(method, path, resp)
		if resp.StatusCode == http.StatusUnauthorized && !strings.HasPrefix(path, loginPath) {
			c.sessionExpired()
			err = fmt.Errorf("%w: %v", herr.ErrSessionExpired, err)
		}
		c.metrics.RecordError(err.Error())
		return nil, err
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		if tok := c.creds.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, herr.Wrap(strings.ToLower(method), c.origin.Host, err)
	}
	c.logger.Debug("%s %s -> %d (%v)", method, path, resp.StatusCode,
		time.Since(start).Truncate(time.Millisecond))
	return resp, nil
}

// statusError drains and closes resp.Body and builds an *APIError.
func (c *Client) statusError(method, path string, resp *http.Response) error {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := http.StatusText(resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &herr.APIError{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
}

func (c *Client) sessionExpired() {
	c.logger.Warn("session expired, please login again")
	if c.creds != nil {
		c.creds.Clear()
	}
	if c.expired != nil {
		c.expired()
	}
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
