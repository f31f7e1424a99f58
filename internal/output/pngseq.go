package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// PNGSequence writes every frame to its own numbered PNG file
type PNGSequence struct {
	dir     string
	pattern string

	mu      sync.Mutex
	running bool
	next    int
}

// NewPNGSequence creates a writer producing dir/frame_000000.png, dir/frame_000001.png, ...
func NewPNGSequence(dir string) *PNGSequence {
	return &PNGSequence{
		dir:     dir,
		pattern: "frame_%06d.png",
	}
}

// Start creates the output directory
func (p *PNGSequence) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("PNG sequence already running")
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	p.running = true
	p.next = 0
	logger.WithComponent("output").Info().Str("dir", p.dir).Msg("PNG sequence started")
	return nil
}

// Stop finishes the sequence
func (p *PNGSequence) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	logger.WithComponent("output").Info().
		Str("dir", p.dir).
		Int("frames", p.next).
		Msg("PNG sequence stopped")
	return nil
}

// WriteFrame writes the frame as the next file in the sequence
func (p *PNGSequence) WriteFrame(frame *pixel.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("PNG sequence not running")
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", p.next, err)
	}

	path := filepath.Join(p.dir, fmt.Sprintf(p.pattern, p.next))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := imgio.PNGEncoder()(f, frame.ToRGBA()); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	p.next++
	return nil
}

// Frames returns the number of files written since Start
func (p *PNGSequence) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Dir returns the output directory
func (p *PNGSequence) Dir() string {
	return p.dir
}

// Name returns the output type name
func (p *PNGSequence) Name() string {
	return "PNG Sequence"
}

// IsRunning returns true if the output is active
func (p *PNGSequence) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
