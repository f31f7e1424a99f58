package compositor

import (
	"sync"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// RenderContext describes the output the host wants frames in
type RenderContext struct {
	Format pixel.Format `json:"format"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
}

// NewRenderContext returns a BGRA32 context of the given size
func NewRenderContext(width, height int) RenderContext {
	return RenderContext{Format: pixel.FormatBGRA32, Width: width, Height: height}
}

// IsZero reports whether no usable size has been set yet
func (c RenderContext) IsZero() bool {
	return c.Width <= 0 || c.Height <= 0
}

// renderContextState holds the host-supplied context. Its lock is private to
// this type and is never held while a frame renders.
type renderContextState struct {
	mu      sync.RWMutex
	current RenderContext
	changed bool
}

func newRenderContextState() *renderContextState {
	return &renderContextState{current: RenderContext{Format: pixel.FormatBGRA32}}
}

// update replaces the context wholesale and raises the changed flag
func (s *renderContextState) update(ctx RenderContext) {
	ctx.Format = pixel.FormatBGRA32
	s.mu.Lock()
	s.current = ctx
	s.changed = true
	s.mu.Unlock()
}

func (s *renderContextState) get() RenderContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// acknowledge clears the changed flag and returns the context it covered.
// It reports true at most once per update.
func (s *renderContextState) acknowledge() (RenderContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.changed
	s.changed = false
	return s.current, changed
}
