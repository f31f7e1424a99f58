package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/output"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// DefaultLookahead is how many requests may be outstanding at once
const DefaultLookahead = 8

// Compositor is the part of the compositor the engine drives
type Compositor interface {
	Submit(req *compositor.Request) error
	CancelAll() <-chan struct{}
	UpdateContext(rc compositor.RenderContext)
	Dimensions() (width, height int)
}

// Options configures an Engine
type Options struct {
	FPS       int
	Tracks    []compositor.TrackID
	Lookahead int
}

// Stats holds counters describing playback
type Stats struct {
	Requested   uint64        `json:"requested"`
	Delivered   uint64        `json:"delivered"`
	Substituted uint64        `json:"substituted"`
	Dropped     uint64        `json:"dropped"`
	Seeks       uint64        `json:"seeks"`
	Position    time.Duration `json:"position"`
	Running     bool          `json:"running"`
}

// Engine plays a timeline through the compositor. It asks for one frame per
// output tick, takes the results back in submission order and writes them to
// every output. Failed frames are replaced by the last good one; cancelled
// frames are dropped.
type Engine struct {
	comp      Compositor
	outputs   []output.Output
	fps       int
	lookahead int

	// mu serializes submissions against seeks
	mu     sync.Mutex
	base   time.Duration
	frame  int64
	tracks []compositor.TrackID

	// outMu guards the frame held for substitution
	outMu sync.Mutex
	last  *pixel.Buffer

	statsMu sync.Mutex
	stats   Stats

	runMu sync.Mutex
}

// New creates an engine writing to outputs
func New(comp Compositor, opts Options, outputs ...output.Output) (*Engine, error) {
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", opts.FPS)
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	return &Engine{
		comp:      comp,
		outputs:   outputs,
		fps:       opts.FPS,
		lookahead: opts.Lookahead,
		tracks:    append([]compositor.TrackID{}, opts.Tracks...),
	}, nil
}

// SetTracks replaces the tracks requested for upcoming frames
func (e *Engine) SetTracks(tracks []compositor.TrackID) {
	e.mu.Lock()
	e.tracks = append([]compositor.TrackID{}, tracks...)
	e.mu.Unlock()
}

// Tracks returns the tracks requested for upcoming frames
func (e *Engine) Tracks() []compositor.TrackID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]compositor.TrackID{}, e.tracks...)
}

// Position returns the composition time of the next frame
func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *Engine) positionLocked() time.Duration {
	return e.base + time.Duration(e.frame)*time.Second/time.Duration(e.fps)
}

// Stats returns a snapshot of the playback counters
func (e *Engine) Stats() Stats {
	pos := e.Position()
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := e.stats
	s.Position = pos
	return s
}

// Resize changes the output size of frames rendered from now on
func (e *Engine) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", width, height)
	}
	e.comp.UpdateContext(compositor.NewRenderContext(width, height))
	return nil
}

// Seek abandons every outstanding frame and continues the timeline at to.
// It returns once the compositor has finished discarding the old frames.
func (e *Engine) Seek(ctx context.Context, to time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.positionLocked()
	e.base = to
	e.frame = 0

	e.statsMu.Lock()
	e.stats.Seeks++
	e.statsMu.Unlock()

	logger.WithComponent("playback").Info().
		Dur("from", from).
		Dur("to", to).
		Msg("Seeking")

	select {
	case <-e.comp.CancelAll():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run plays in real time, one frame per tick, until ctx ends
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.fps))
	defer ticker.Stop()

	err := e.play(ctx, 0, ticker.C)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Render produces frames as fast as the compositor allows and returns once
// all of them have been written
func (e *Engine) Render(ctx context.Context, frames int) error {
	if frames <= 0 {
		return fmt.Errorf("invalid frame count %d", frames)
	}
	return e.play(ctx, frames, nil)
}

// play submits up to limit frames (unbounded when limit is 0), pacing on tick
// when it is non-nil, and collects them on a second goroutine
func (e *Engine) play(ctx context.Context, limit int, tick <-chan time.Time) error {
	if !e.runMu.TryLock() {
		return fmt.Errorf("playback already running")
	}
	defer e.runMu.Unlock()

	log := logger.WithComponent("playback")
	e.setRunning(true)
	defer e.setRunning(false)

	log.Info().
		Int("fps", e.fps).
		Int("frames", limit).
		Dur("position", e.Position()).
		Msg("Playback started")

	inflight := make(chan *compositor.Request, e.lookahead)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for req := range inflight {
			e.collect(req)
		}
	}()

	err := e.submitLoop(ctx, limit, tick, inflight)
	if err != nil {
		// Drop whatever is still queued rather than render it for nobody
		e.comp.CancelAll()
	}
	close(inflight)
	<-collected

	e.outMu.Lock()
	if e.last != nil {
		e.last.Release()
		e.last = nil
	}
	e.outMu.Unlock()

	s := e.Stats()
	log.Info().
		Err(err).
		Uint64("delivered", s.Delivered).
		Uint64("substituted", s.Substituted).
		Uint64("dropped", s.Dropped).
		Msg("Playback stopped")
	return err
}

func (e *Engine) submitLoop(ctx context.Context, limit int, tick <-chan time.Time, inflight chan<- *compositor.Request) error {
	for n := 0; limit == 0 || n < limit; n++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		req, err := e.submitNext()
		if errors.Is(err, compositor.ErrClosed) {
			return err
		}
		// Other submission errors already resolved req; collect substitutes

		select {
		case inflight <- req:
		case <-ctx.Done():
			// Not handed to the collector, so release its frame here
			go releaseResult(req)
			return ctx.Err()
		}
	}
	return nil
}

// submitNext requests the frame at the current position and advances it
func (e *Engine) submitNext() (*compositor.Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req := compositor.NewRequest(e.positionLocked(), e.tracks...)
	e.frame++

	e.statsMu.Lock()
	e.stats.Requested++
	e.statsMu.Unlock()

	return req, e.comp.Submit(req)
}

// collect waits for one request and forwards its frame
func (e *Engine) collect(req *compositor.Request) {
	res := req.Result()
	log := logger.WithComponent("playback")

	switch {
	case res.Cancelled():
		e.count(func(s *Stats) { s.Dropped++ })
		log.Debug().
			Uint64("request_id", req.ID()).
			Dur("composition_time", req.CompositionTime).
			Msg("Frame dropped")

	case res.Err != nil:
		e.count(func(s *Stats) { s.Substituted++ })
		log.Debug().
			Err(res.Err).
			Uint64("request_id", req.ID()).
			Msg("Frame failed, repeating previous frame")
		e.substitute()

	default:
		e.count(func(s *Stats) { s.Delivered++ })
		e.deliver(res.Buffer)
	}
}

// deliver writes a fresh frame and keeps it as the substitution frame
func (e *Engine) deliver(frame *pixel.Buffer) {
	e.outMu.Lock()
	defer e.outMu.Unlock()

	e.write(frame)
	if e.last != nil {
		e.last.Release()
	}
	e.last = frame
}

// substitute repeats the previous frame, or a blank one before the first
func (e *Engine) substitute() {
	e.outMu.Lock()
	defer e.outMu.Unlock()

	if e.last != nil {
		e.write(e.last)
		return
	}

	w, h := e.comp.Dimensions()
	if w <= 0 || h <= 0 {
		return
	}
	blank := pixel.NewBuffer(w, h)
	e.write(blank)
	blank.Release()
}

func (e *Engine) write(frame *pixel.Buffer) {
	for _, out := range e.outputs {
		if !out.IsRunning() {
			continue
		}
		if err := out.WriteFrame(frame); err != nil {
			logger.WithComponent("playback").Warn().
				Err(err).
				Str("output", out.Name()).
				Msg("Failed to write frame")
		}
	}
}

func (e *Engine) count(fn func(s *Stats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

func (e *Engine) setRunning(running bool) {
	e.count(func(s *Stats) { s.Running = running })
}

func releaseResult(req *compositor.Request) {
	if res := req.Result(); res.Buffer != nil {
		res.Buffer.Release()
	}
}
