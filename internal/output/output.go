package output

import (
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// Output defines the interface for frame sinks.
// The playback engine writes every resolved frame to each configured output:
// - MJPEG HTTP stream
// - PNG sequence on disk
// - X11 preview window
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output. The caller keeps its
	// reference; outputs that hold on to the frame must Retain it.
	WriteFrame(frame *pixel.Buffer) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int // JPEG quality, 1-100
}
