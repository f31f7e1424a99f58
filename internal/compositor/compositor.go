package compositor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// DefaultMaxPending bounds the backlog when no limit is configured
const DefaultMaxPending = 256

// SourceProvider looks up source frames owned by the host.
// The returned buffer carries one reference that the compositor releases.
type SourceProvider interface {
	SourceFrame(trackID TrackID, at time.Duration) (*pixel.Buffer, error)
}

// Renderer turns one source sample into an output frame. elapsed is the time
// since the first processed request. The returned buffer carries a reference
// owned by the caller; returning the input buffer requires retaining it first.
// A nil result means the renderer produced nothing for this sample.
type Renderer interface {
	Process(sample *pixel.SampleBuffer, elapsed time.Duration) *pixel.Buffer
}

// ContextObserver is implemented by renderers that reconfigure on output size changes.
// It is called on the worker goroutine, once per observed change, before the
// first frame rendered under the new context.
type ContextObserver interface {
	RenderContextChanged(ctx RenderContext)
}

// Stats holds counters describing compositor activity
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Rendered   uint64 `json:"rendered"`
	Fallbacks  uint64 `json:"fallbacks"`
	Cancelled  uint64 `json:"cancelled"`
	Failed     uint64 `json:"failed"`
	Overloaded uint64 `json:"overloaded"`
	Queued     int    `json:"queued"`
}

type stats struct {
	submitted  atomic.Uint64
	rendered   atomic.Uint64
	fallbacks  atomic.Uint64
	cancelled  atomic.Uint64
	failed     atomic.Uint64
	overloaded atomic.Uint64
}

// Option configures a Compositor
type Option func(*Compositor)

// WithMaxPending caps the number of queued requests. Submissions past the cap
// fail with ErrOverloaded.
func WithMaxPending(n int) Option {
	return func(c *Compositor) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

// Compositor produces one output frame per composition request. Requests are
// processed one at a time, in submission order, on a dedicated goroutine.
type Compositor struct {
	sources  SourceProvider
	renderer Renderer

	maxPending int
	queue      chan *Request
	nextID     atomic.Uint64

	// closed guards sends on queue against shutdown
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	renderContext *renderContextState
	cancelAll     *cancelController
	pending       pendingRequests

	// worker-only
	clock frameClock

	// published copy of the clock epoch for diagnostics
	epochSet atomic.Bool
	epoch    atomic.Int64

	stats stats

	listenersMu     sync.RWMutex
	listeners       []chan Event
	listenersClosed bool
}

// New starts a compositor that reads frames from sources and renders them
// with renderer. It runs until ctx ends or Close is called.
func New(ctx context.Context, sources SourceProvider, renderer Renderer, opts ...Option) *Compositor {
	parentCtx, cancel := context.WithCancel(ctx)
	c := &Compositor{
		sources:       sources,
		renderer:      renderer,
		maxPending:    DefaultMaxPending,
		ctx:           parentCtx,
		cancel:        cancel,
		renderContext: newRenderContextState(),
		cancelAll:     newCancelController(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = make(chan *Request, c.maxPending)

	c.wg.Add(1)
	go c.run()

	logger.WithComponent("compositor").Info().
		Int("max_pending", c.maxPending).
		Msg("Compositor started")
	return c
}

// Submit enqueues req and returns without waiting for it to be processed.
// When the request cannot be queued it is resolved with the returned error.
func (c *Compositor) Submit(req *Request) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		req.finishWithError(ErrClosed)
		return ErrClosed
	}

	req.id = c.nextID.Add(1)
	req.submitted = time.Now()

	select {
	case c.queue <- req:
		c.stats.submitted.Add(1)
		return nil
	default:
		c.stats.overloaded.Add(1)
		err := fmt.Errorf("request %d: %w (limit %d)", req.id, ErrOverloaded, c.maxPending)
		req.finishWithError(err)
		c.emit(req, 0, OutcomeFailed, err)
		logger.WithComponent("compositor").Warn().
			Uint64("request_id", req.id).
			Int("limit", c.maxPending).
			Msg("Backlog full, rejecting request")
		return err
	}
}

// CancelAll resolves every queued request as cancelled and makes the request
// in flight abort at its next check-point. It does not wait for the sweep; the
// returned channel is closed once the sweep is over and submissions proceed
// normally again.
func (c *Compositor) CancelAll() <-chan struct{} {
	logger.WithComponent("compositor").Debug().
		Int("queued", len(c.queue)).
		Msg("Cancelling all pending requests")
	return c.cancelAll.requestCancelAll()
}

// UpdateContext replaces the render context. The worker observes the change
// before the next frame it renders.
func (c *Compositor) UpdateContext(rc RenderContext) {
	c.renderContext.update(rc)
	logger.WithComponent("compositor").Info().
		Int("width", rc.Width).
		Int("height", rc.Height).
		Msg("Render context updated")
}

// CurrentContext returns the latest render context
func (c *Compositor) CurrentContext() RenderContext {
	return c.renderContext.get()
}

// Dimensions returns the current output size
func (c *Compositor) Dimensions() (width, height int) {
	rc := c.renderContext.get()
	return rc.Width, rc.Height
}

// StartTime returns the composition time of the first processed request.
// ok is false until a request has been processed.
func (c *Compositor) StartTime() (start time.Duration, ok bool) {
	if !c.epochSet.Load() {
		return 0, false
	}
	return time.Duration(c.epoch.Load()), true
}

// Pending returns the in-flight requests, most recent first
func (c *Compositor) Pending() []PendingInfo {
	return c.pending.snapshot()
}

// Stats returns a snapshot of the compositor counters
func (c *Compositor) Stats() Stats {
	return Stats{
		Submitted:  c.stats.submitted.Load(),
		Rendered:   c.stats.rendered.Load(),
		Fallbacks:  c.stats.fallbacks.Load(),
		Cancelled:  c.stats.cancelled.Load(),
		Failed:     c.stats.failed.Load(),
		Overloaded: c.stats.overloaded.Load(),
		Queued:     len(c.queue),
	}
}

// Close stops the worker. Requests still queued resolve with ErrClosed.
func (c *Compositor) Close() {
	c.cancel()
	c.wg.Wait()
}

// process runs one request through the compositing state machine
func (c *Compositor) process(req *Request) {
	start := time.Now()
	log := logger.WithComponent("compositor")

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("request %d: panic while compositing: %v", req.id, r)
			log.Error().Err(err).Msg("Recovered from panic while compositing")
			c.fail(req, err, start)
		}
	}()

	if c.cancelAll.isCancelled() {
		c.drop(req, start)
		return
	}

	if len(req.TrackIDs) == 0 {
		c.fail(req, fmt.Errorf("request %d: %w", req.id, ErrMissingTrack), start)
		return
	}
	trackID := req.TrackIDs[0]

	src, err := c.sources.SourceFrame(trackID, req.CompositionTime)
	if err != nil || src == nil {
		if src != nil {
			src.Release()
		}
		if err == nil {
			err = fmt.Errorf("source returned no buffer")
		}
		c.fail(req, fmt.Errorf("request %d: track %d at %s: %w: %w",
			req.id, trackID, req.CompositionTime, ErrMissingSourceFrame, err), start)
		return
	}
	defer src.Release()

	sample, err := pixel.NewSampleBuffer(src, req.CompositionTime)
	if err != nil {
		c.fail(req, fmt.Errorf("request %d: track %d: %w: %w",
			req.id, trackID, ErrMissingSampleBuffer, err), start)
		return
	}

	c.pending.pushFront(req)
	defer c.pending.remove(req)

	if rc, changed := c.renderContext.acknowledge(); changed {
		log.Debug().
			Int("width", rc.Width).
			Int("height", rc.Height).
			Msg("Render context change observed")
		if observer, ok := c.renderer.(ContextObserver); ok {
			observer.RenderContextChanged(rc)
		}
	}

	// The clock only starts once a request is resolved with a frame, so a
	// cancelled or failed first request primes again on the next one
	elapsed, first := c.clock.peek(req.CompositionTime)
	if first {
		// Filters that diff against the previous frame need one to exist
		if primed := c.renderer.Process(sample.WithTime(0), 0); primed != nil {
			primed.Release()
		}
	}

	if c.cancelAll.isCancelled() {
		c.drop(req, start)
		return
	}

	out := c.renderer.Process(sample, elapsed)

	if c.cancelAll.isCancelled() {
		if out != nil {
			out.Release()
		}
		c.drop(req, start)
		return
	}

	outcome := OutcomeRendered
	if out == nil {
		out = c.fallbackBuffer(src)
		outcome = OutcomeFallback
		c.stats.fallbacks.Add(1)
		log.Debug().
			Uint64("request_id", req.id).
			Int("width", out.Width).
			Int("height", out.Height).
			Msg("Renderer produced no frame, using transparent fallback")
	}

	if first {
		c.clock.start(req.CompositionTime)
		c.epoch.Store(int64(req.CompositionTime))
		c.epochSet.Store(true)
		log.Debug().
			Dur("epoch", req.CompositionTime).
			Msg("Frame clock started")
	}

	if !req.finish(out) {
		out.Release()
		return
	}
	c.stats.rendered.Add(1)
	c.emitElapsed(req, elapsed, outcome, nil, start)
}

// fallbackBuffer returns a fully transparent frame at the current output size
func (c *Compositor) fallbackBuffer(src *pixel.Buffer) *pixel.Buffer {
	rc := c.renderContext.get()
	if rc.IsZero() {
		return pixel.NewBuffer(src.Width, src.Height)
	}
	return pixel.NewBuffer(rc.Width, rc.Height)
}

func (c *Compositor) drop(req *Request, start time.Time) {
	if !req.finishCancelled() {
		return
	}
	c.stats.cancelled.Add(1)
	c.emitElapsed(req, 0, OutcomeCancelled, nil, start)
	logger.WithComponent("compositor").Debug().
		Uint64("request_id", req.id).
		Dur("composition_time", req.CompositionTime).
		Msg("Request cancelled")
}

func (c *Compositor) fail(req *Request, err error, start time.Time) {
	if !req.finishWithError(err) {
		return
	}
	c.stats.failed.Add(1)
	c.emitElapsed(req, 0, OutcomeFailed, err, start)
	logger.WithComponent("compositor").Warn().
		Err(err).
		Uint64("request_id", req.id).
		Msg("Composition request failed")
}
