package source

import (
	"image"

	"github.com/anthonynsimon/bild/transform"
	"github.com/bryanchriswhite/framecompositor/internal/pixel"
)

// fitImage converts img to a buffer of exactly width x height, scaling when
// the sizes differ. A zero target keeps the image size.
func fitImage(img image.Image, width, height int) *pixel.Buffer {
	b := img.Bounds()
	if width <= 0 || height <= 0 || (b.Dx() == width && b.Dy() == height) {
		return pixel.FromImage(img)
	}
	return pixel.FromImage(transform.Resize(img, width, height, transform.Linear))
}
