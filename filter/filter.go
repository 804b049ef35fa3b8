// Package filter provides composable image transforms and the stable
// identifiers the cache keys on.
package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/tobiasma/picfetch/image"
)

// Filter is a pure image transform with a stable identifier. Two
// filters sharing an identifier must produce the same output for equal
// inputs; the cache relies on that.
type Filter interface {
	// ID returns the filter's deterministic identifier.
	ID() string

	// Apply transforms the image. It must not mutate its input.
	Apply(*image.Image) *image.Image
}

// Composite applies its children left to right. Its identifier is the
// children's identifiers joined by "_".
type Composite struct {
	children []Filter
}

// Compose builds a composite filter from the given children.
func Compose(children ...Filter) *Composite {
	return &Composite{children: children}
}

// Children returns the composed filters in application order.
func (c *Composite) Children() []Filter {
	return c.children
}

// ID implements Filter.
func (c *Composite) ID() string {
	ids := make([]string, len(c.children))
	for i, f := range c.children {
		ids[i] = f.ID()
	}
	return strings.Join(ids, "_")
}

// Apply implements Filter.
func (c *Composite) Apply(img *image.Image) *image.Image {
	for _, f := range c.children {
		img = f.Apply(img)
	}
	return img
}

// ScaledToSize resizes to exactly Width x Height logical pixels,
// ignoring aspect ratio.
type ScaledToSize struct {
	Width  float64
	Height float64
}

func (f ScaledToSize) ID() string {
	return fmt.Sprintf("scaled-%dx%d", round(f.Width), round(f.Height))
}

func (f ScaledToSize) Apply(img *image.Image) *image.Image {
	w, h := devicePixels(f.Width, f.Height, img.Scale())
	return image.FromRaster(imaging.Resize(img.Raster(), w, h, imaging.Lanczos), img.Scale())
}

// AspectScaledToFit scales to fit within Width x Height, preserving
// aspect ratio.
type AspectScaledToFit struct {
	Width  float64
	Height float64
}

func (f AspectScaledToFit) ID() string {
	return fmt.Sprintf("aspect-fit-%dx%d", round(f.Width), round(f.Height))
}

func (f AspectScaledToFit) Apply(img *image.Image) *image.Image {
	w, h := devicePixels(f.Width, f.Height, img.Scale())
	return image.FromRaster(imaging.Fit(img.Raster(), w, h, imaging.Lanczos), img.Scale())
}

// AspectScaledToFill scales to fill Width x Height, preserving aspect
// ratio and cropping centered overflow.
type AspectScaledToFill struct {
	Width  float64
	Height float64
}

func (f AspectScaledToFill) ID() string {
	return fmt.Sprintf("aspect-fill-%dx%d", round(f.Width), round(f.Height))
}

func (f AspectScaledToFill) Apply(img *image.Image) *image.Image {
	w, h := devicePixels(f.Width, f.Height, img.Scale())
	return image.FromRaster(imaging.Fill(img.Raster(), w, h, imaging.Center, imaging.Lanczos), img.Scale())
}

// Blur applies a gaussian blur.
type Blur struct {
	Sigma float64
}

func (f Blur) ID() string {
	return fmt.Sprintf("blur-%d", round(f.Sigma))
}

func (f Blur) Apply(img *image.Image) *image.Image {
	return image.FromRaster(imaging.Blur(img.Raster(), f.Sigma), img.Scale())
}

// Grayscale converts to grayscale.
type Grayscale struct{}

func (Grayscale) ID() string {
	return "grayscale"
}

func (Grayscale) Apply(img *image.Image) *image.Image {
	return image.FromRaster(imaging.Grayscale(img.Raster()), img.Scale())
}

// Func wraps an arbitrary transform with an explicit identifier.
// The identifier is required; there is no reflective default.
type Func struct {
	Identifier string
	Transform  func(*image.Image) *image.Image
}

func (f Func) ID() string {
	return f.Identifier
}

func (f Func) Apply(img *image.Image) *image.Image {
	return f.Transform(img)
}

func round(v float64) int {
	return int(math.Round(v))
}

func devicePixels(w, h, scale float64) (int, int) {
	return int(math.Round(w * scale)), int(math.Round(h * scale))
}
