package source

import (
	"errors"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// ErrUnknownTrack is returned for a track ID no source is registered under
var ErrUnknownTrack = errors.New("unknown track")

// Source defines the interface for frame producers backing a track
type Source interface {
	// Start initializes the source and any required resources
	Start() error

	// Stop releases resources and stops any background processes
	Stop() error

	// FrameAt returns the frame shown at the given track time.
	// The caller owns the returned buffer and must release it.
	FrameAt(at time.Duration) (*pixel.Buffer, error)

	// Name returns a human-readable name for this source
	Name() string
}
