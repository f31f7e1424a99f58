package filter

import (
	"image"
	"sync"
	"time"

	"github.com/anthonynsimon/bild/transform"
	"github.com/bryanchriswhite/framecompositor/internal/compositor"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/overlay"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// Renderer scales each source frame to the render context, runs it through
// an effect chain and draws the overlay widgets on top.
//
// Effects that look back (echo) use the chain output of the previous
// frame, so the renderer keeps that frame between calls. It is dropped on
// context changes and chain edits.
type Renderer struct {
	mu       sync.Mutex
	chain    []effectFunc
	names    []string
	overlays *overlay.Manager

	width, height int
	prev          *image.RGBA

	frames uint64
}

// New creates a renderer. overlays may be nil.
func New(chain []string, overlays *overlay.Manager) (*Renderer, error) {
	r := &Renderer{overlays: overlays}
	if err := r.SetChain(chain); err != nil {
		return nil, err
	}
	return r, nil
}

// SetChain replaces the effect chain
func (r *Renderer) SetChain(chain []string) error {
	if err := ValidateChain(chain); err != nil {
		return err
	}

	fns := make([]effectFunc, 0, len(chain))
	for _, name := range chain {
		fns = append(fns, effects[name])
	}

	r.mu.Lock()
	r.chain = fns
	r.names = append([]string{}, chain...)
	r.prev = nil
	r.mu.Unlock()

	logger.WithComponent("renderer").Info().
		Strs("chain", chain).
		Msg("Effect chain set")
	return nil
}

// Chain returns the effect names in order
func (r *Renderer) Chain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.names...)
}

// Frames returns the number of frames processed, priming frames included
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// RenderContextChanged resizes future output to the new context
func (r *Renderer) RenderContextChanged(ctx compositor.RenderContext) {
	r.mu.Lock()
	r.width, r.height = ctx.Width, ctx.Height
	r.prev = nil
	r.mu.Unlock()

	logger.WithComponent("renderer").Debug().
		Int("width", ctx.Width).
		Int("height", ctx.Height).
		Msg("Output size changed")
}

// Process renders one frame
func (r *Renderer) Process(sample *pixel.SampleBuffer, elapsed time.Duration) *pixel.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames++

	img := sample.Buffer().ToRGBA()
	b := img.Bounds()
	if r.width > 0 && r.height > 0 && (b.Dx() != r.width || b.Dy() != r.height) {
		img = transform.Resize(img, r.width, r.height, transform.Linear)
	}

	for _, fn := range r.chain {
		img = fn(img, r.prev)
	}
	r.prev = img

	if r.overlays != nil {
		// Draw on a copy so prev stays free of burn-ins
		out := image.NewRGBA(img.Bounds())
		copy(out.Pix, img.Pix)
		frame := overlay.FrameInfo{
			Elapsed: elapsed,
			Width:   out.Bounds().Dx(),
			Height:  out.Bounds().Dy(),
		}
		if err := r.overlays.Render(out, frame); err != nil {
			logger.WithComponent("renderer").Warn().Err(err).Msg("Overlay render failed")
		}
		img = out
	}

	return pixel.FromImage(img)
}
