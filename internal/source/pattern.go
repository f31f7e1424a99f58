package source

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
	"github.com/gogpu/gg"
)

// barColors are the classic seven colour bars, left to right
var barColors = []gg.RGBA{
	gg.RGB(0.75, 0.75, 0.75),
	gg.RGB(0.75, 0.75, 0),
	gg.RGB(0, 0.75, 0.75),
	gg.RGB(0, 0.75, 0),
	gg.RGB(0.75, 0, 0.75),
	gg.RGB(0.75, 0, 0),
	gg.RGB(0, 0, 0.75),
}

// patternPeriod is how long the marker takes to cross the frame
const patternPeriod = 2 * time.Second

// Pattern draws an animated test pattern: colour bars, a marker that
// sweeps across the frame every two seconds and a progress strip.
type Pattern struct {
	name          string
	width, height int

	mu sync.Mutex
	dc *gg.Context
}

// NewPattern creates a test pattern source
func NewPattern(name string, width, height int) *Pattern {
	if name == "" {
		name = "pattern"
	}
	return &Pattern{name: name, width: width, height: height}
}

// Start allocates the drawing context
func (p *Pattern) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.width <= 0 || p.height <= 0 {
		return fmt.Errorf("invalid pattern size %dx%d", p.width, p.height)
	}
	if p.dc == nil {
		p.dc = gg.NewContext(p.width, p.height)
	}
	return nil
}

// Stop frees the drawing context
func (p *Pattern) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dc == nil {
		return nil
	}
	err := p.dc.Close()
	p.dc = nil
	return err
}

func (p *Pattern) Name() string {
	return p.name
}

// FrameAt draws the pattern for time at
func (p *Pattern) FrameAt(at time.Duration) (*pixel.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dc == nil {
		return nil, fmt.Errorf("pattern %s is not started", p.name)
	}
	dc := p.dc
	w, h := float64(p.width), float64(p.height)

	dc.ClearWithColor(gg.RGB(0.08, 0.08, 0.08))

	barWidth := w / float64(len(barColors))
	barHeight := h * 0.75
	for i, c := range barColors {
		dc.SetRGB(c.R, c.G, c.B)
		dc.DrawRectangle(float64(i)*barWidth, 0, math.Ceil(barWidth), barHeight)
		if err := dc.Fill(); err != nil {
			return nil, fmt.Errorf("failed to draw bar %d: %w", i, err)
		}
	}

	// Position within the current sweep, negative times mirror forward
	phase := math.Mod(math.Abs(at.Seconds()), patternPeriod.Seconds()) / patternPeriod.Seconds()
	radius := math.Max(2, h*0.08)
	dc.SetRGBA(1, 1, 1, 0.9)
	dc.DrawCircle(radius+phase*(w-2*radius), barHeight/2, radius)
	if err := dc.Fill(); err != nil {
		return nil, fmt.Errorf("failed to draw marker: %w", err)
	}

	dc.SetRGB(0.9, 0.9, 0.9)
	dc.DrawRectangle(0, barHeight+(h-barHeight)/3, phase*w, (h-barHeight)/3)
	if err := dc.Fill(); err != nil {
		return nil, fmt.Errorf("failed to draw progress: %w", err)
	}

	return pixel.FromImage(dc.Image()), nil
}
