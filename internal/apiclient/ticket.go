package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	herr "hostterm/internal/errors"
)

// DefaultOrigin is used when no server origin is configured.
const DefaultOrigin = "http://localhost:8080"

// FetchTicket exchanges the stored credential for a single-use
// streaming ticket.  Every failure is an *errors.AuthError.
func (c *Client) FetchTicket(ctx context.Context) (string, error) {
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := c.Post(ctx, "/auth/ws-ticket", nil, &out); err != nil {
		return "", &herr.AuthError{Op: "ticket", Err: err}
	}
	if out.Ticket == "" {
		return "", &herr.AuthError{Op: "ticket", Err: herr.ErrEmptyTicket}
	}
	return out.Ticket, nil
}

// RecordingStream opens the newline-delimited event log of a recording.
// The caller must close the returned reader.
func (c *Client) RecordingStream(ctx context.Context, id string) (io.ReadCloser, error) {
	return c.open(ctx, http.MethodGet, "/recordings/"+url.PathEscape(id)+"/stream", nil)
}

// ParseOrigin validates a server origin.  An empty origin yields
// [DefaultOrigin].  Only http and https are accepted.
func ParseOrigin(origin string) (*url.URL, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("origin %q: scheme must be http or https", origin)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q: missing host", origin)
	}
	return u, nil
}

// StreamURL derives the live terminal endpoint for hostID.  The scheme
// is wss for an https origin and ws otherwise; only the origin's host is
// kept.
func StreamURL(origin, hostID, ticket string) (string, error) {
	u, err := ParseOrigin(origin)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	ws := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     "/api/ws/ssh/" + hostID,
		RawPath:  "/api/ws/ssh/" + url.PathEscape(hostID),
		RawQuery: url.Values{"ticket": {ticket}}.Encode(),
	}
	return ws.String(), nil
}
