package pixel

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
)

// Format identifies the memory layout of a Buffer
type Format int

const (
	FormatUnknown Format = iota
	FormatBGRA32         // Packed BGRA, 4 bytes per pixel
)

func (f Format) String() string {
	switch f {
	case FormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// BytesPerPixel returns the size of one pixel for this format
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatBGRA32:
		return 4
	default:
		return 0
	}
}

// Buffer is a reference-counted image in BGRA32 layout.
// A new Buffer starts with one reference owned by its creator. Whoever holds a
// reference must call Release exactly once when done with it.
type Buffer struct {
	Format Format
	Width  int
	Height int
	Stride int
	Pix    []byte

	refs    atomic.Int32
	Created int64 // monotonically increasing allocation serial, for diagnostics
}

var allocSerial atomic.Int64

// NewBuffer allocates a zeroed (fully transparent) BGRA32 buffer
func NewBuffer(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	b := &Buffer{
		Format:  FormatBGRA32,
		Width:   width,
		Height:  height,
		Stride:  width * 4,
		Pix:     make([]byte, width*height*4),
		Created: allocSerial.Add(1),
	}
	b.refs.Store(1)
	return b
}

// Retain adds a reference and returns the buffer for chaining
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops a reference. Releasing a buffer more times than it was
// retained panics, since that always means two owners believed they held it.
func (b *Buffer) Release() {
	if n := b.refs.Add(-1); n < 0 {
		panic(fmt.Sprintf("pixel: buffer %d released too many times", b.Created))
	}
}

// Refs returns the current reference count
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// Bounds returns the buffer rectangle anchored at the origin
func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

// Validate checks that the geometry and backing slice agree
func (b *Buffer) Validate() error {
	if b.Format != FormatBGRA32 {
		return fmt.Errorf("unsupported pixel format %s", b.Format)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", b.Width, b.Height)
	}
	if b.Stride < b.Width*4 {
		return fmt.Errorf("stride %d too small for width %d", b.Stride, b.Width)
	}
	if need := b.Stride*(b.Height-1) + b.Width*4; len(b.Pix) < need {
		return fmt.Errorf("pixel data too short: have %d bytes, need %d", len(b.Pix), need)
	}
	return nil
}

// Fill paints every pixel with c
func (b *Buffer) Fill(c color.RGBA) {
	for y := 0; y < b.Height; y++ {
		row := b.Pix[y*b.Stride : y*b.Stride+b.Width*4]
		for i := 0; i < len(row); i += 4 {
			row[i] = c.B
			row[i+1] = c.G
			row[i+2] = c.R
			row[i+3] = c.A
		}
	}
}

// At returns the pixel at (x, y) as non-premultiplied RGBA
func (b *Buffer) At(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.RGBA{}
	}
	i := y*b.Stride + x*4
	return color.RGBA{R: b.Pix[i+2], G: b.Pix[i+1], B: b.Pix[i], A: b.Pix[i+3]}
}

// Clone returns a deep copy with a fresh reference count
func (b *Buffer) Clone() *Buffer {
	c := NewBuffer(b.Width, b.Height)
	for y := 0; y < b.Height; y++ {
		copy(c.Pix[y*c.Stride:(y+1)*c.Stride], b.Pix[y*b.Stride:y*b.Stride+b.Width*4])
	}
	return c
}

// ToRGBA converts the buffer into a standard library RGBA image.
// Only the channel order changes; alpha is kept as-is.
func (b *Buffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(b.Bounds())
	for y := 0; y < b.Height; y++ {
		src := b.Pix[y*b.Stride : y*b.Stride+b.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+b.Width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}
	return img
}

// FromImage converts any image into a new BGRA32 buffer
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	b := NewBuffer(bounds.Dx(), bounds.Dy())
	for y := 0; y < b.Height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+b.Width*4]
		dst := b.Pix[y*b.Stride : y*b.Stride+b.Width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}
	return b
}
