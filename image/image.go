// Package image holds the decoded-image handle used across the engine,
// the serializing decoder that produces it, and the response validation
// that gates decoding.
package image

import (
	stdimage "image"
	"image/draw"
	"math"
	"sync"
)

// Image is an immutable decoded raster. Width and height are logical
// pixels; Scale is device pixels per logical pixel, so the in-memory
// footprint is ceil(w*scale) * ceil(h*scale) * 4 bytes.
type Image struct {
	raster stdimage.Image
	scale  float64

	mu       sync.Mutex
	inflated bool
}

// FromRaster wraps a decoded raster. A scale <= 0 is treated as 1.
func FromRaster(raster stdimage.Image, scale float64) *Image {
	if scale <= 0 {
		scale = 1
	}
	return &Image{raster: raster, scale: scale}
}

// Raster returns the underlying pixel data.
func (i *Image) Raster() stdimage.Image {
	return i.raster
}

// Width returns the logical width in pixels. Rounded the same way
// filters round when converting logical sizes to device pixels, so
// the two never disagree about a raster's dimensions.
func (i *Image) Width() int {
	return int(math.Round(float64(i.raster.Bounds().Dx()) / i.scale))
}

// Height returns the logical height in pixels.
func (i *Image) Height() int {
	return int(math.Round(float64(i.raster.Bounds().Dy()) / i.scale))
}

// Scale returns device pixels per logical pixel.
func (i *Image) Scale() float64 {
	return i.scale
}

// TotalBytes is the memory cost of the raster at four bytes per device
// pixel. The cache budgets against this value.
func (i *Image) TotalBytes() uint64 {
	w := math.Ceil(float64(i.Width()) * i.scale)
	h := math.Ceil(float64(i.Height()) * i.scale)
	return uint64(w) * uint64(h) * 4
}

// Inflate forces the pixel data into a contiguous RGBA buffer so the
// first draw doesn't stall on lazy decode. Idempotent.
func (i *Image) Inflate() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.inflated {
		return
	}

	if _, ok := i.raster.(*stdimage.RGBA); !ok {
		b := i.raster.Bounds()
		rgba := stdimage.NewRGBA(b)
		draw.Draw(rgba, b, i.raster, b.Min, draw.Src)
		i.raster = rgba
	}
	i.inflated = true
}

// Inflated reports whether Inflate has run.
func (i *Image) Inflated() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inflated
}
