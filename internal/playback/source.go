package playback

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Source opens the event log of a recording.
type Source interface {
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// StreamOpener is the part of the API client a [ServerSource] needs.
type StreamOpener interface {
	RecordingStream(ctx context.Context, id string) (io.ReadCloser, error)
}

// ServerSource fetches recordings from the management API by id.
type ServerSource struct {
	API StreamOpener
}

func (s ServerSource) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return s.API.RecordingStream(ctx, id)
}

// FileSource reads recordings from local files.  Relative ids are
// resolved against Dir.
type FileSource struct {
	Dir string
}

func (s FileSource) Open(_ context.Context, id string) (io.ReadCloser, error) {
	path := id
	if s.Dir != "" && !filepath.IsAbs(id) {
		path = filepath.Join(s.Dir, id)
	}
	return os.Open(path)
}

// Load opens and parses the recording id from src.
func Load(ctx context.Context, src Source, id string) (*Recording, error) {
	rc, err := src.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Parse(rc)
}
