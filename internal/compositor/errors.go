package compositor

import "errors"

// Request outcomes other than success. Every error is local to the request
// that produced it; the worker keeps draining after any of them.
var (
	// ErrMissingTrack means the request named no source track
	ErrMissingTrack = errors.New("compositor: request has no source track")

	// ErrMissingSourceFrame means the source had no frame at the requested time
	ErrMissingSourceFrame = errors.New("compositor: no source frame available")

	// ErrMissingSampleBuffer means the source frame could not be wrapped for the renderer
	ErrMissingSampleBuffer = errors.New("compositor: cannot build sample buffer")

	// ErrCancelled is not a failure: the host should drop the frame silently and not retry
	ErrCancelled = errors.New("compositor: request cancelled")

	// ErrOverloaded means the backlog was full when the request was submitted
	ErrOverloaded = errors.New("compositor: too many pending requests")

	// ErrClosed means the compositor was shut down before the request ran
	ErrClosed = errors.New("compositor: closed")
)
