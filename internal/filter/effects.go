package filter

import (
	"fmt"
	"image"
	"sort"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
)

// echoOpacity is how much of the previous frame shows through "echo"
const echoOpacity = 0.35

// effectFunc transforms one frame. prev is the previous chain output, or
// nil for the first frame after a reset.
type effectFunc func(img *image.RGBA, prev *image.RGBA) *image.RGBA

var effects = map[string]effectFunc{
	"grayscale": func(img, _ *image.RGBA) *image.RGBA { return effect.Grayscale(img) },
	"sepia":     func(img, _ *image.RGBA) *image.RGBA { return effect.Sepia(img) },
	"invert":    func(img, _ *image.RGBA) *image.RGBA { return effect.Invert(img) },
	"blur":      func(img, _ *image.RGBA) *image.RGBA { return blur.Gaussian(img, 2) },
	"edge":      func(img, _ *image.RGBA) *image.RGBA { return effect.EdgeDetection(img, 1) },
	"manga":     manga,
	"echo":      echo,
}

// Effects lists the available effect names
func Effects() []string {
	names := make([]string, 0, len(effects))
	for name := range effects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateChain checks that every name in chain is a known effect
func ValidateChain(chain []string) error {
	for _, name := range chain {
		if _, ok := effects[name]; !ok {
			return fmt.Errorf("unknown effect %q (available: %v)", name, Effects())
		}
	}
	return nil
}

// manga renders black ink outlines over a two-tone fill
func manga(img, _ *image.RGBA) *image.RGBA {
	tone := segment.Threshold(effect.Grayscale(img), 96)
	edges := segment.Threshold(effect.EdgeDetection(img, 1), 64)
	lines := effect.Invert(edges)
	return blend.Multiply(clone.AsRGBA(tone), lines)
}

// echo ghosts the previous frame over the current one
func echo(img, prev *image.RGBA) *image.RGBA {
	if prev == nil || prev.Bounds() != img.Bounds() {
		return img
	}
	return blend.Opacity(img, prev, echoOpacity)
}
