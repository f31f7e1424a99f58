package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/config"
)

// FrameInfo describes the frame a widget is drawn on
type FrameInfo struct {
	// Elapsed is the frame time relative to the first composited frame
	Elapsed time.Duration
	Width   int
	Height  int
}

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img for the given frame
	Render(img *image.RGBA, frame FrameInfo) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)

	// Z returns the stacking order, higher draws later
	Z() int
}

// BaseWidget provides common functionality for all widgets. Embedding
// widgets guard their own fields with mu as well.
type BaseWidget struct {
	mu      sync.RWMutex
	id      string
	enabled bool
	x       int
	y       int
	z       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	return &BaseWidget{
		id:      id,
		enabled: true,
		x:       x,
		y:       y,
		opacity: opacity,
	}
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

func (w *BaseWidget) Z() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.z
}

// GetPosition returns the widget's position
func (w *BaseWidget) GetPosition() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.x, w.y
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.mu.Lock()
	w.x, w.y = x, y
	w.mu.Unlock()
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.mu.Lock()
	w.setOpacityLocked(opacity)
	w.mu.Unlock()
}

func (w *BaseWidget) setOpacityLocked(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// applyBaseConfig reads the keys every widget shares. Caller holds w.mu.
func (w *BaseWidget) applyBaseConfig(cfg map[string]interface{}) {
	if x, ok := getNumber(cfg["x"]); ok {
		w.x = int(x)
	}
	if y, ok := getNumber(cfg["y"]); ok {
		w.y = int(y)
	}
	if z, ok := getNumber(cfg["z"]); ok {
		w.z = int(z)
	}
	if opacity, ok := getNumber(cfg["opacity"]); ok {
		w.setOpacityLocked(opacity)
	}
	if enabled, ok := cfg["enabled"].(bool); ok {
		w.enabled = enabled
	}
}

// baseConfigLocked returns the shared keys. Caller holds w.mu.
func (w *BaseWidget) baseConfigLocked(widgetType string) map[string]interface{} {
	return map[string]interface{}{
		"id":      w.id,
		"type":    widgetType,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"z":       w.z,
		"opacity": w.opacity,
	}
}

// BlendImage draws src onto dst with its top-left corner at (x, y), scaled
// by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	sb := src.Bounds()
	blend(dst, image.Rect(x, y, x+sb.Dx(), y+sb.Dy()), src, sb.Min, opacity)
}

// DrawRectangle draws a filled rectangle with the specified color and opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	blend(dst, image.Rect(x, y, x+width, y+height), &image.Uniform{C: c}, image.Point{}, opacity)
}

func blend(dst *image.RGBA, r image.Rectangle, src image.Image, sp image.Point, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity >= 1 {
		draw.Draw(dst, r, src, sp, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sp, mask, image.Point{}, draw.Over)
}

// parseColor accepts "#rrggbb[aa]" or an {r, g, b, a} map
func parseColor(v interface{}) (color.RGBA, bool) {
	switch c := v.(type) {
	case string:
		parsed, err := config.ParseColor(c)
		return parsed, err == nil
	case map[string]interface{}:
		get := func(k string, def float64) uint8 {
			if n, ok := getNumber(c[k]); ok {
				return uint8(n)
			}
			return uint8(def)
		}
		return color.RGBA{R: get("r", 0), G: get("g", 0), B: get("b", 0), A: get("a", 255)}, true
	}
	return color.RGBA{}, false
}

// getNumber extracts a number decoded from YAML or JSON
func getNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
