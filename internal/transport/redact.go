package transport

import (
	"errors"
	"net/url"
	"strings"
)

const redacted = "REDACTED"

// Redact replaces the ticket in a stream URL so it can be logged.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("ticket") {
		q.Set("ticket", redacted)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactedError is a dial failure with the ticket scrubbed from its
// message.  Unwrap yields the *url.Error with a redacted URL when the
// failure carried one.
type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.cause }

// redactError removes the ticket in rawURL from err.  Wrapped messages
// are formatted when they are created, so the text is scrubbed as well
// as the *url.Error underneath.
func redactError(err error, rawURL string) error {
	if err == nil {
		return nil
	}
	u, perr := url.Parse(rawURL)
	if perr != nil {
		return err
	}
	ticket := u.Query().Get("ticket")
	if ticket == "" {
		return err
	}

	msg := err.Error()
	for _, form := range []string{url.QueryEscape(ticket), ticket} {
		msg = strings.ReplaceAll(msg, form, redacted)
	}

	var cause error
	var ue *url.Error
	if errors.As(err, &ue) {
		cause = &url.Error{Op: ue.Op, URL: Redact(ue.URL), Err: ue.Err}
	} else if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, cause: cause}
}
