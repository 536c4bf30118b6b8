// Package core is the orchestration layer.  It composes the API client,
// transports, display and engines into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  apiclient  →  live / playback  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of hostterm (connect or
// play).  Each mode owns its full lifecycle from setup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// rawTerminal is implemented by sinks whose input side can be put in
// raw mode.  Dispose restores it.
type rawTerminal interface {
	MakeRaw() error
}
