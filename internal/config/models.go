package config

import (
	"fmt"
	"image/color"
	"strings"
)

// TrackType names the kind of source feeding a track
type TrackType string

const (
	TrackTypePattern TrackType = "pattern" // Animated test pattern
	TrackTypeImages  TrackType = "images"  // Directory of still frames
	TrackTypeSolid   TrackType = "solid"   // Flat colour
	TrackTypeScreen  TrackType = "screen"  // X11 root window capture
)

// Valid reports whether t is a known track type
func (t TrackType) Valid() bool {
	switch t {
	case TrackTypePattern, TrackTypeImages, TrackTypeSolid, TrackTypeScreen:
		return true
	}
	return false
}

// TrackConfig describes one source track
type TrackConfig struct {
	ID    int32     `json:"id" yaml:"id"`
	Name  string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type  TrackType `json:"type" yaml:"type"`
	Path  string    `json:"path,omitempty" yaml:"path,omitempty"`
	FPS   int       `json:"fps,omitempty" yaml:"fps,omitempty"`
	Color string    `json:"color,omitempty" yaml:"color,omitempty"`
}

// Config represents the application configuration
type Config struct {
	Output     OutputConfig     `json:"output" yaml:"output"`
	Compositor CompositorConfig `json:"compositor" yaml:"compositor"`
	Tracks     []TrackConfig    `json:"tracks" yaml:"tracks"`
	Filter     FilterConfig     `json:"filter" yaml:"filter"`
	Overlay    OverlayConfig    `json:"overlay" yaml:"overlay"`
	Preview    PreviewConfig    `json:"preview" yaml:"preview"`
	ServerPort int              `json:"server_port" yaml:"server_port"`
	LogLevel   string           `json:"log_level" yaml:"log_level"`
}

// OutputConfig represents the render target
type OutputConfig struct {
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	FPS       int    `json:"fps" yaml:"fps"`
	Quality   int    `json:"quality" yaml:"quality"`
	Directory string `json:"directory" yaml:"directory"`
}

// CompositorConfig tunes the compositor queue
type CompositorConfig struct {
	MaxPending int `json:"max_pending" yaml:"max_pending"`
}

// FilterConfig lists the effects applied to every frame, in order
type FilterConfig struct {
	Chain []string `json:"chain" yaml:"chain"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// PreviewConfig represents the X11 preview window
type PreviewConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", c.Output.Width, c.Output.Height)
	}
	if c.Output.FPS <= 0 {
		return fmt.Errorf("invalid output fps %d", c.Output.FPS)
	}

	seen := make(map[int32]bool, len(c.Tracks))
	for _, t := range c.Tracks {
		if seen[t.ID] {
			return fmt.Errorf("duplicate track id %d", t.ID)
		}
		seen[t.ID] = true

		if !t.Type.Valid() {
			return fmt.Errorf("track %d: unknown type %q", t.ID, t.Type)
		}
		if t.Type == TrackTypeImages && t.Path == "" {
			return fmt.Errorf("track %d: images track needs a path", t.ID)
		}
		if t.Color != "" {
			if _, err := ParseColor(t.Color); err != nil {
				return fmt.Errorf("track %d: %w", t.ID, err)
			}
		}
	}
	return nil
}

// ParseColor parses "#rrggbb" or "#rrggbbaa"
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	c := color.RGBA{A: 0xff}

	var err error
	switch len(hex) {
	case 6:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		err = fmt.Errorf("wrong length")
	}
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
