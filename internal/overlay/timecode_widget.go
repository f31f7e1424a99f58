package overlay

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// TimecodeWidget burns the frame's elapsed time in as HH:MM:SS:FF
type TimecodeWidget struct {
	*BaseWidget
	label
	fps    int
	prefix string
}

// NewTimecodeWidget creates a new timecode widget
func NewTimecodeWidget(id string, cfg map[string]interface{}) (*TimecodeWidget, error) {
	bg := color.RGBA{0, 0, 0, 160}
	w := &TimecodeWidget{
		BaseWidget: NewBaseWidget(id, 16, 16, 1.0),
		label:      defaultLabel(),
		fps:        30,
	}
	w.bgColor = &bg

	if err := w.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *TimecodeWidget) Type() string {
	return "timecode"
}

func (w *TimecodeWidget) Render(img *image.RGBA, frame FrameInfo) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.enabled {
		return nil
	}
	w.label.draw(img, w.prefix+FormatTimecode(frame.Elapsed, w.fps), w.x, w.y, w.opacity)
	return nil
}

func (w *TimecodeWidget) GetConfig() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cfg := w.baseConfigLocked(w.Type())
	cfg["fps"] = w.fps
	cfg["prefix"] = w.prefix
	w.label.export(cfg)
	return cfg
}

func (w *TimecodeWidget) UpdateConfig(cfg map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if fps, ok := getNumber(cfg["fps"]); ok {
		if fps < 1 {
			return fmt.Errorf("timecode fps must be positive, got %v", fps)
		}
		w.fps = int(fps)
	}
	if prefix, ok := cfg["prefix"].(string); ok {
		w.prefix = prefix
	}
	w.applyBaseConfig(cfg)
	w.label.apply(cfg)
	return nil
}

// FormatTimecode renders d as HH:MM:SS:FF at the given frame rate.
// Negative durations get a leading minus.
func FormatTimecode(d time.Duration, fps int) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	if fps < 1 {
		fps = 1
	}

	totalSeconds := int64(d / time.Second)
	frames := int64(d%time.Second) * int64(fps) / int64(time.Second)

	return fmt.Sprintf("%s%02d:%02d:%02d:%02d",
		sign,
		totalSeconds/3600,
		(totalSeconds/60)%60,
		totalSeconds%60,
		frames)
}
