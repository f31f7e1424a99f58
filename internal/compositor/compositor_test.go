package compositor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Collaborators ---

type fakeSources struct {
	mu        sync.Mutex
	missing   map[TrackID]bool
	malformed map[TrackID]bool
	handedOut []*pixel.Buffer
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		missing:   make(map[TrackID]bool),
		malformed: make(map[TrackID]bool),
	}
}

func (f *fakeSources) SourceFrame(trackID TrackID, at time.Duration) (*pixel.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.missing[trackID] {
		return nil, fmt.Errorf("track %d has nothing at %s", trackID, at)
	}
	buf := pixel.NewBuffer(4, 4)
	if f.malformed[trackID] {
		buf = pixel.NewBuffer(0, 0)
	}
	f.handedOut = append(f.handedOut, buf)
	return buf, nil
}

func (f *fakeSources) outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.handedOut {
		if b.Refs() > 0 {
			n++
		}
	}
	return n
}

type renderCall struct {
	pts     time.Duration
	elapsed time.Duration
}

type fakeRenderer struct {
	mu       sync.Mutex
	calls    []renderCall
	outputs  []*pixel.Buffer
	contexts []RenderContext

	noOutput  bool
	panicAt   time.Duration
	panicNext bool

	// blockAt holds Process for the first sample at that time until release is closed
	blockAt time.Duration
	entered chan struct{}
	release chan struct{}
	held    bool
}

func (r *fakeRenderer) holdAt(at time.Duration) {
	r.blockAt = at
	r.entered = make(chan struct{})
	r.release = make(chan struct{})
	r.held = false
}

func (r *fakeRenderer) Process(sample *pixel.SampleBuffer, elapsed time.Duration) *pixel.Buffer {
	r.mu.Lock()
	r.calls = append(r.calls, renderCall{pts: sample.PresentationTime(), elapsed: elapsed})
	r.mu.Unlock()

	if r.panicNext {
		r.panicNext = false
		panic("shader exploded")
	}
	if r.panicAt != 0 && sample.PresentationTime() == r.panicAt {
		panic("shader exploded")
	}
	if r.release != nil && !r.held && sample.PresentationTime() == r.blockAt {
		r.held = true
		close(r.entered)
		<-r.release
	}
	if r.noOutput {
		return nil
	}

	out := sample.Buffer().Clone()
	r.mu.Lock()
	r.outputs = append(r.outputs, out)
	r.mu.Unlock()
	return out
}

func (r *fakeRenderer) RenderContextChanged(ctx RenderContext) {
	r.mu.Lock()
	r.contexts = append(r.contexts, ctx)
	r.mu.Unlock()
}

func (r *fakeRenderer) snapshot() []renderCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]renderCall(nil), r.calls...)
}

func (r *fakeRenderer) renderedAt(pts time.Duration) bool {
	for _, c := range r.snapshot() {
		if c.pts == pts {
			return true
		}
	}
	return false
}

// --- Helpers ---

func newTestCompositor(t *testing.T, opts ...Option) (*Compositor, *fakeSources, *fakeRenderer) {
	t.Helper()
	sources := newFakeSources()
	renderer := &fakeRenderer{}
	c := New(context.Background(), sources, renderer, opts...)
	t.Cleanup(c.Close)
	return c, sources, renderer
}

func submit(t *testing.T, c *Compositor, at time.Duration, tracks ...TrackID) *Request {
	t.Helper()
	req := NewRequest(at, tracks...)
	require.NoError(t, c.Submit(req))
	return req
}

func await(t *testing.T, req *Request) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := req.Wait(ctx)
	require.NoError(t, err, "request %d never resolved", req.ID())
	return res
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel")
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// --- Test Suite ---

func TestPlaybackScenario(t *testing.T) {
	c, sources, renderer := newTestCompositor(t)

	// A primes the renderer, then renders at elapsed zero
	a := submit(t, c, seconds(5.0), 1)
	resA := await(t, a)
	require.NoError(t, resA.Err)
	require.NotNil(t, resA.Buffer)
	assert.Equal(t, []renderCall{
		{pts: 0, elapsed: 0},
		{pts: seconds(5.0), elapsed: 0},
	}, renderer.snapshot())

	start, ok := c.StartTime()
	require.True(t, ok)
	assert.Equal(t, seconds(5.0), start)

	// The priming output is discarded, the real one handed to the host
	renderer.mu.Lock()
	primed := renderer.outputs[0]
	renderer.mu.Unlock()
	assert.EqualValues(t, 0, primed.Refs())
	assert.EqualValues(t, 1, resA.Buffer.Refs())
	resA.Buffer.Release()

	// B is relative to A, no priming frame
	b := submit(t, c, seconds(5.033), 1)
	resB := await(t, b)
	require.NoError(t, resB.Err)
	resB.Buffer.Release()
	calls := renderer.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, seconds(5.033)-seconds(5.0), calls[2].elapsed)

	// Hold the worker so the cancel lands while C is still queued
	renderer.holdAt(seconds(6.0))
	h := submit(t, c, seconds(6.0), 1)
	waitClosed(t, renderer.entered)

	swept := c.CancelAll()
	cReq := submit(t, c, seconds(5.066), 1)
	close(renderer.release)

	assert.True(t, await(t, h).Cancelled(), "in-flight request should abort at its next check-point")
	resC := await(t, cReq)
	assert.True(t, resC.Cancelled())
	assert.Nil(t, resC.Buffer)
	assert.False(t, renderer.renderedAt(seconds(5.066)))

	// D, after the flag has cleared, renders normally
	waitClosed(t, swept)
	d := submit(t, c, seconds(5.1), 1)
	resD := await(t, d)
	require.NoError(t, resD.Err)
	resD.Buffer.Release()

	calls = renderer.snapshot()
	last := calls[len(calls)-1]
	assert.Equal(t, renderCall{pts: seconds(5.1), elapsed: seconds(5.1) - seconds(5.0)}, last)

	assert.Equal(t, 0, sources.outstanding(), "source frames must be released after each request")
}

func TestRequestsResolveInSubmissionOrder(t *testing.T) {
	c, _, _ := newTestCompositor(t)
	events := c.Subscribe()

	const n = 50
	reqs := make([]*Request, 0, n)
	for i := 0; i < n; i++ {
		// Every fifth request fails, which must not disturb ordering
		if i%5 == 4 {
			reqs = append(reqs, submit(t, c, time.Duration(i)*time.Millisecond))
			continue
		}
		reqs = append(reqs, submit(t, c, time.Duration(i)*time.Millisecond, 1))
	}
	for _, r := range reqs {
		res := await(t, r)
		if res.Buffer != nil {
			res.Buffer.Release()
		}
	}

	var last uint64
	for i := 0; i < n; i++ {
		select {
		case ev := <-events:
			assert.Greater(t, ev.RequestID, last, "event %d out of order", i)
			last = ev.RequestID
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestFrameClockIsRelativeToFirstRequest(t *testing.T) {
	c, _, renderer := newTestCompositor(t)

	times := []time.Duration{seconds(10), seconds(10.5), seconds(12), seconds(11)}
	want := []time.Duration{0, seconds(0.5), seconds(2), seconds(1)}

	for _, at := range times {
		res := await(t, submit(t, c, at, 3))
		require.NoError(t, res.Err)
		res.Buffer.Release()
	}

	calls := renderer.snapshot()
	require.Len(t, calls, len(times)+1)
	got := make([]time.Duration, 0, len(times))
	for _, call := range calls[1:] {
		got = append(got, call.elapsed)
	}
	assert.Equal(t, want, got)
}

func TestFrameClock(t *testing.T) {
	var clock frameClock

	elapsed, first := clock.peek(seconds(3))
	assert.True(t, first)
	assert.Equal(t, time.Duration(0), elapsed)

	// Peeking does not start the clock
	_, first = clock.peek(seconds(4))
	assert.True(t, first)

	clock.start(seconds(3))
	clock.start(seconds(9))

	elapsed, first = clock.peek(seconds(3.25))
	assert.False(t, first)
	assert.Equal(t, seconds(0.25), elapsed)

	// Backwards time passes through unclamped
	elapsed, _ = clock.peek(seconds(2))
	assert.Equal(t, -seconds(1), elapsed)
}

func TestCancelledFirstRequestLeavesClockUnstarted(t *testing.T) {
	c, _, renderer := newTestCompositor(t)
	renderer.holdAt(0)

	a := submit(t, c, seconds(5), 1)
	waitClosed(t, renderer.entered)
	swept := c.CancelAll()
	close(renderer.release)

	assert.True(t, await(t, a).Cancelled())
	waitClosed(t, swept)
	_, ok := c.StartTime()
	assert.False(t, ok)

	b := await(t, submit(t, c, seconds(7), 1))
	require.NoError(t, b.Err)
	b.Buffer.Release()

	assert.Equal(t, []renderCall{
		{pts: 0, elapsed: 0},
		{pts: 0, elapsed: 0},
		{pts: seconds(7), elapsed: 0},
	}, renderer.snapshot())

	start, ok := c.StartTime()
	require.True(t, ok)
	assert.Equal(t, seconds(7), start)
}

func TestPanicWhilePrimingLeavesClockUnstarted(t *testing.T) {
	c, _, renderer := newTestCompositor(t)
	renderer.panicNext = true

	a := await(t, submit(t, c, seconds(5), 1))
	assert.ErrorContains(t, a.Err, "panic while compositing")
	_, ok := c.StartTime()
	assert.False(t, ok)

	b := await(t, submit(t, c, seconds(7), 1))
	require.NoError(t, b.Err)
	b.Buffer.Release()

	calls := renderer.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, renderCall{pts: 0, elapsed: 0}, calls[1], "the next request primes again")
	assert.Equal(t, renderCall{pts: seconds(7), elapsed: 0}, calls[2])
}

func TestRequestErrorsAreLocal(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeSources)
		tracks  []TrackID
		wantErr error
	}{
		{
			name:    "no tracks",
			wantErr: ErrMissingTrack,
		},
		{
			name:    "no source frame",
			setup:   func(s *fakeSources) { s.missing[9] = true },
			tracks:  []TrackID{9},
			wantErr: ErrMissingSourceFrame,
		},
		{
			name:    "unwrappable frame",
			setup:   func(s *fakeSources) { s.malformed[9] = true },
			tracks:  []TrackID{9},
			wantErr: ErrMissingSampleBuffer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sources, renderer := newTestCompositor(t)
			if tt.setup != nil {
				tt.setup(sources)
			}

			res := await(t, submit(t, c, seconds(1), tt.tracks...))
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Nil(t, res.Buffer)
			assert.Empty(t, renderer.snapshot(), "renderer must not run for a failed request")

			// The worker keeps going
			next := await(t, submit(t, c, seconds(2), 1))
			require.NoError(t, next.Err)
			next.Buffer.Release()

			assert.Equal(t, 0, sources.outstanding())
			assert.EqualValues(t, 1, c.Stats().Failed)
		})
	}
}

func TestOnlyFirstTrackIsComposited(t *testing.T) {
	c, sources, _ := newTestCompositor(t)
	sources.missing[2] = true

	res := await(t, submit(t, c, seconds(1), 1, 2))
	require.NoError(t, res.Err)
	res.Buffer.Release()
}

func TestQueuedRequestsAreCancelled(t *testing.T) {
	c, _, renderer := newTestCompositor(t)
	renderer.holdAt(seconds(1))

	held := submit(t, c, seconds(1), 1)
	waitClosed(t, renderer.entered)

	queued := make([]*Request, 0, 5)
	for i := 2; i <= 6; i++ {
		queued = append(queued, submit(t, c, seconds(float64(i)), 1))
	}

	swept := c.CancelAll()
	close(renderer.release)

	assert.True(t, await(t, held).Cancelled())
	for _, r := range queued {
		res := await(t, r)
		assert.True(t, res.Cancelled(), "request %d", r.ID())
		assert.False(t, renderer.renderedAt(r.CompositionTime))
	}
	waitClosed(t, swept)

	stats := c.Stats()
	assert.EqualValues(t, 6, stats.Cancelled)
	assert.EqualValues(t, 0, stats.Rendered)
}

func TestCancellationIsAPulse(t *testing.T) {
	c, _, _ := newTestCompositor(t)

	waitClosed(t, c.CancelAll())
	waitClosed(t, c.CancelAll())

	res := await(t, submit(t, c, seconds(1), 1))
	require.NoError(t, res.Err)
	res.Buffer.Release()
}

func TestContextChangeObservedOnce(t *testing.T) {
	c, _, renderer := newTestCompositor(t)

	c.UpdateContext(NewRenderContext(320, 240))
	c.UpdateContext(NewRenderContext(640, 360))
	w, h := c.Dimensions()
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)

	for i := 1; i <= 3; i++ {
		res := await(t, submit(t, c, seconds(float64(i)), 1))
		require.NoError(t, res.Err)
		res.Buffer.Release()
	}

	renderer.mu.Lock()
	contexts := append([]RenderContext(nil), renderer.contexts...)
	renderer.mu.Unlock()
	assert.Equal(t, []RenderContext{NewRenderContext(640, 360)}, contexts)

	c.UpdateContext(RenderContext{Width: 100, Height: 50})
	res := await(t, submit(t, c, seconds(4), 1))
	res.Buffer.Release()

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	require.Len(t, renderer.contexts, 2)
	assert.Equal(t, pixel.FormatBGRA32, renderer.contexts[1].Format)
}

func TestRenderContextNeverTears(t *testing.T) {
	state := newRenderContextState()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				size := w*1000 + i
				state.update(NewRenderContext(size, size))
			}
		}(w)
	}

	for i := 0; i < 10000; i++ {
		rc := state.get()
		if rc.Width != rc.Height {
			t.Fatalf("torn context %dx%d", rc.Width, rc.Height)
		}
	}
	close(stop)
	wg.Wait()

	_, changed := state.acknowledge()
	assert.True(t, changed)
	_, changed = state.acknowledge()
	assert.False(t, changed)
}

func TestFallbackBufferIsTransparent(t *testing.T) {
	c, _, renderer := newTestCompositor(t)
	renderer.noOutput = true

	res := await(t, submit(t, c, seconds(1), 1))
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Buffer.Width, "falls back to source size before any context")
	res.Buffer.Release()

	c.UpdateContext(NewRenderContext(8, 6))
	res = await(t, submit(t, c, seconds(2), 1))
	require.NoError(t, res.Err)
	assert.Equal(t, 8, res.Buffer.Width)
	assert.Equal(t, 6, res.Buffer.Height)
	for _, v := range res.Buffer.Pix {
		if v != 0 {
			t.Fatal("fallback frame must be fully transparent")
		}
	}
	res.Buffer.Release()
	assert.EqualValues(t, 2, c.Stats().Fallbacks)
}

func TestSubmitFailsWhenBacklogIsFull(t *testing.T) {
	c, _, renderer := newTestCompositor(t, WithMaxPending(2))
	renderer.holdAt(seconds(1))

	held := submit(t, c, seconds(1), 1)
	waitClosed(t, renderer.entered)

	first := submit(t, c, seconds(2), 1)
	second := submit(t, c, seconds(3), 1)

	overflow := NewRequest(seconds(4), 1)
	err := c.Submit(overflow)
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.ErrorIs(t, await(t, overflow).Err, ErrOverloaded)

	close(renderer.release)
	for _, r := range []*Request{held, first, second} {
		res := await(t, r)
		require.NoError(t, res.Err)
		res.Buffer.Release()
	}
	assert.EqualValues(t, 1, c.Stats().Overloaded)
}

func TestPendingListsInFlightRequest(t *testing.T) {
	c, _, renderer := newTestCompositor(t)
	renderer.holdAt(seconds(1))

	held := submit(t, c, seconds(1), 7)
	waitClosed(t, renderer.entered)

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, held.ID(), pending[0].ID)
	assert.Equal(t, []TrackID{7}, pending[0].TrackIDs)

	close(renderer.release)
	res := await(t, held)
	res.Buffer.Release()
}

func TestRendererPanicFailsOnlyThatRequest(t *testing.T) {
	c, _, renderer := newTestCompositor(t)
	renderer.panicAt = seconds(2)

	ok := await(t, submit(t, c, seconds(1), 1))
	require.NoError(t, ok.Err)
	ok.Buffer.Release()

	bad := await(t, submit(t, c, seconds(2), 1))
	assert.Error(t, bad.Err)

	after := await(t, submit(t, c, seconds(3), 1))
	require.NoError(t, after.Err)
	after.Buffer.Release()
}

func TestCloseResolvesEverything(t *testing.T) {
	sources := newFakeSources()
	renderer := &fakeRenderer{}
	c := New(context.Background(), sources, renderer)
	renderer.holdAt(seconds(1))

	reqs := []*Request{submit(t, c, seconds(1), 1)}
	waitClosed(t, renderer.entered)
	for i := 2; i <= 4; i++ {
		reqs = append(reqs, submit(t, c, seconds(float64(i)), 1))
	}

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	close(renderer.release)
	waitClosed(t, closed)

	for _, r := range reqs {
		res := await(t, r)
		if res.Err != nil {
			assert.True(t, errors.Is(res.Err, ErrClosed), "unexpected error %v", res.Err)
			continue
		}
		res.Buffer.Release()
	}

	late := NewRequest(seconds(9), 1)
	assert.ErrorIs(t, c.Submit(late), ErrClosed)
	assert.ErrorIs(t, await(t, late).Err, ErrClosed)

	literal := &Request{TrackIDs: []TrackID{1}, CompositionTime: seconds(10)}
	assert.ErrorIs(t, c.Submit(literal), ErrClosed)
	assert.ErrorIs(t, await(t, literal).Err, ErrClosed)
}

func TestRequestLiteralResolves(t *testing.T) {
	c, _, _ := newTestCompositor(t)

	req := &Request{TrackIDs: []TrackID{1}, CompositionTime: seconds(1)}
	require.NoError(t, c.Submit(req))
	res := await(t, req)
	require.NoError(t, res.Err)
	res.Buffer.Release()

	select {
	case <-req.Done():
	default:
		t.Fatal("Done must be closed after resolution")
	}
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	c := New(context.Background(), newFakeSources(), &fakeRenderer{})
	early := c.Subscribe()
	c.Close()

	_, ok := <-early
	assert.False(t, ok)

	late := c.Subscribe()
	select {
	case _, ok := <-late:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription after close was never closed")
	}
	c.Unsubscribe(late)
}
