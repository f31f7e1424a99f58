package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// label is the text box shared by the text and timecode widgets
type label struct {
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

func defaultLabel() label {
	return label{
		textColor: color.RGBA{255, 255, 255, 255},
		padding:   5,
	}
}

func (l *label) apply(cfg map[string]interface{}) {
	if padding, ok := getNumber(cfg["padding"]); ok {
		l.padding = int(padding)
	}
	if c, ok := parseColor(cfg["color"]); ok {
		l.textColor = c
	}
	if bg, ok := parseColor(cfg["background"]); ok {
		l.bgColor = &bg
	}
}

func (l *label) export(cfg map[string]interface{}) {
	cfg["padding"] = l.padding
	cfg["color"] = hexColor(l.textColor)
	if l.bgColor != nil {
		cfg["background"] = hexColor(*l.bgColor)
	}
}

// draw renders text at (x, y) with basicfont
func (l *label) draw(img *image.RGBA, text string, x, y int, opacity float64) {
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()

	textWidthPx := font.MeasureString(face, text).Ceil()
	widgetWidth := textWidthPx + l.padding*2
	widgetHeight := lineHeight + l.padding*2

	if l.bgColor != nil {
		DrawRectangle(img, x, y, widgetWidth, widgetHeight, straight(*l.bgColor), opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, textWidthPx, lineHeight))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(straight(l.textColor)),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: face.Metrics().Ascent},
	}
	d.DrawString(text)

	BlendImage(img, textImg, x+l.padding, y+l.padding, opacity)
}

// TextWidget displays fixed text on the overlay
type TextWidget struct {
	*BaseWidget
	label
	text string
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, cfg map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		label:      defaultLabel(),
		text:       "Text Widget",
	}

	if err := w.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA, frame FrameInfo) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.enabled || w.text == "" {
		return nil
	}
	w.label.draw(img, w.text, w.x, w.y, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cfg := w.baseConfigLocked(w.Type())
	cfg["text"] = w.text
	w.label.export(cfg)
	return cfg
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(cfg map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if text, ok := cfg["text"]; ok {
		s, isString := text.(string)
		if !isString {
			return fmt.Errorf("text must be a string, got %T", text)
		}
		w.text = s
	}
	w.applyBaseConfig(cfg)
	w.label.apply(cfg)
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	w.text = text
	w.mu.Unlock()
}

// GetText returns the current text
func (w *TextWidget) GetText() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// straight reinterprets a configured colour as non-premultiplied
func straight(c color.RGBA) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}
