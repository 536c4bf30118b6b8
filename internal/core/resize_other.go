//go:build !unix

package core

import (
	"context"
	"time"
)

// resizePoll is how often the window size is re-measured where there
// is no change signal.
const resizePoll = 500 * time.Millisecond

// watchResize ticks every resizePoll until ctx is done; the caller
// compares geometries.
func watchResize(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		t := time.NewTicker(resizePoll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
