package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
)

// DefaultBufSize is the standard buffer size for terminal I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// Pump reads r in chunks and hands each chunk to fn until r reaches
// EOF, fn returns false, or ctx is cancelled.  The slice passed to fn
// is only valid for the duration of the call.
//
// Reads from a terminal cannot be interrupted, so after cancellation
// the reading goroutine lingers until the next keystroke; Pump itself
// returns immediately.
func Pump(ctx context.Context, r io.Reader, fn func(chunk []byte) bool) error {
	type result struct {
		n   int
		err error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	buf := GetBuf()
	results := make(chan result)
	next := make(chan struct{})

	go func() {
		defer PutBuf(buf)
		for {
			n, err := r.Read(*buf)
			select {
			case results <- result{n, err}:
			case <-ctx.Done():
				return
			}
			// buf belongs to the consumer until it asks for more.
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-results:
			if res.n > 0 && !fn((*buf)[:res.n]) {
				return nil
			}
			if res.err != nil {
				if isHarmless(res.err) {
					return nil
				}
				return res.err
			}
			select {
			case next <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
