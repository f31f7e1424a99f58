package compositor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// TrackID identifies a source track owned by the host
type TrackID int32

// Result is the single outcome delivered for a Request.
// Exactly one of Buffer or Err is set.
type Result struct {
	Buffer *pixel.Buffer
	Err    error
}

// Cancelled reports whether the request was dropped by a cancellation sweep
func (r Result) Cancelled() bool {
	return errors.Is(r.Err, ErrCancelled)
}

// Request asks for the composited frame at one output timestamp.
// It is created by the host, consumed once by the compositor and resolved
// exactly once; later resolutions are ignored. NewRequest is the usual
// constructor, but a zero Request with its exported fields set works too.
type Request struct {
	TrackIDs        []TrackID
	CompositionTime time.Duration

	id        uint64
	submitted time.Time

	once   sync.Once
	mu     sync.Mutex
	done   chan struct{}
	result Result
}

// NewRequest creates a request for the frame at the given composition time
func NewRequest(at time.Duration, trackIDs ...TrackID) *Request {
	return &Request{
		TrackIDs:        trackIDs,
		CompositionTime: at,
		done:            make(chan struct{}),
	}
}

// ID returns the submission sequence number (zero until submitted)
func (r *Request) ID() uint64 {
	return r.id
}

// Done is closed once the request has been resolved
func (r *Request) Done() <-chan struct{} {
	return r.doneChan()
}

// doneChan returns the completion channel, creating it for requests that
// were not built with NewRequest
func (r *Request) doneChan() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		r.done = make(chan struct{})
	}
	return r.done
}

// Result blocks until the request is resolved and returns the outcome
func (r *Request) Result() Result {
	<-r.doneChan()
	return r.result
}

// Wait blocks until the request resolves or ctx ends
func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.doneChan():
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Request) finish(buf *pixel.Buffer) bool {
	return r.resolve(Result{Buffer: buf})
}

func (r *Request) finishWithError(err error) bool {
	return r.resolve(Result{Err: err})
}

func (r *Request) finishCancelled() bool {
	return r.resolve(Result{Err: ErrCancelled})
}

func (r *Request) resolve(res Result) bool {
	resolved := false
	r.once.Do(func() {
		r.result = res
		close(r.doneChan())
		resolved = true
	})
	return resolved
}
