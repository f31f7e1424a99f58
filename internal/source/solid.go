package source

import (
	"fmt"
	"image/color"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// Solid produces a flat colour frame
type Solid struct {
	color         color.RGBA
	width, height int
}

// NewSolid creates a solid colour source
func NewSolid(c color.RGBA, width, height int) *Solid {
	return &Solid{color: c, width: width, height: height}
}

func (s *Solid) Start() error { return nil }
func (s *Solid) Stop() error  { return nil }

func (s *Solid) Name() string {
	return fmt.Sprintf("solid #%02x%02x%02x%02x", s.color.R, s.color.G, s.color.B, s.color.A)
}

// FrameAt returns the same frame for every time
func (s *Solid) FrameAt(at time.Duration) (*pixel.Buffer, error) {
	buf := pixel.NewBuffer(s.width, s.height)
	buf.Fill(s.color)
	return buf, nil
}
