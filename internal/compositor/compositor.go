// Package compositor paints the visible clip of each frame into a single
// preview bitmap.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/nfnt/resize"

	"github.com/kikiluvv/previewdeck/internal/media"
)

// Fit selects how a source is mapped onto the canvas.
type Fit int

const (
	// FitContain scales the source to fit entirely inside the canvas.
	FitContain Fit = iota
	// FitCover scales the source to fill the canvas, cropping overflow.
	FitCover
)

// ParseFit maps a config value to a Fit, defaulting to contain.
func ParseFit(s string) Fit {
	if s == "cover" {
		return FitCover
	}
	return FitContain
}

type scaled struct {
	src  image.Image
	size image.Point
	out  image.Image
}

// Canvas is the preview bitmap. It is not safe for concurrent use; the
// render loop owns it.
type Canvas struct {
	bg     color.RGBA
	img    *image.RGBA
	interp resize.InterpolationFunction
	cache  scaled
}

// New allocates a canvas of w×h pixels cleared to bg.
func New(w, h int, bg color.Color) *Canvas {
	r, g, b, a := bg.RGBA()
	c := &Canvas{
		bg:     color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)},
		interp: resize.Bilinear,
	}
	c.Resize(w, h)
	return c
}

// Resize reallocates the bitmap only when the size actually changed and
// reports whether it did.
func (c *Canvas) Resize(w, h int) bool {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if c.img != nil && c.img.Rect.Dx() == w && c.img.Rect.Dy() == h {
		return false
	}
	c.img = image.NewRGBA(image.Rect(0, 0, w, h))
	c.cache = scaled{}
	c.Clear()
	return true
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() (int, int) {
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

// Clear fills the canvas with the background color.
func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Rect, &image.Uniform{C: c.bg}, image.Point{}, draw.Src)
}

// Image returns the backing bitmap.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// DrawVideo paints the current frame of h. It returns false when the handle
// has not decoded a frame yet, leaving the canvas untouched.
func (c *Canvas) DrawVideo(h media.VideoHandle, fit Fit) bool {
	if h == nil {
		return false
	}
	frame := h.Frame()
	if frame == nil {
		return false
	}
	c.paint(frame, fit, false)
	return true
}

// DrawImage paints a still image. The scaled copy is cached, so drawing
// the same image at the same size again does not rescale it.
func (c *Canvas) DrawImage(img image.Image, fit Fit) bool {
	if img == nil {
		return false
	}
	c.paint(img, fit, true)
	return true
}

func (c *Canvas) paint(src image.Image, fit Fit, cache bool) {
	sb := src.Bounds()
	w, h := c.Size()

	var dst image.Rectangle
	if fit == FitCover {
		dst = CoverRect(sb.Dx(), sb.Dy(), w, h)
	} else {
		dst = ContainRect(sb.Dx(), sb.Dy(), w, h)
	}
	if dst.Empty() {
		return
	}

	out := c.scale(src, dst.Size(), cache)
	draw.Draw(c.img, dst, out, out.Bounds().Min, draw.Over)
}

func (c *Canvas) scale(src image.Image, size image.Point, cache bool) image.Image {
	if src.Bounds().Size() == size {
		return src
	}
	if cache && c.cache.src == src && c.cache.size == size {
		return c.cache.out
	}
	out := resize.Resize(uint(size.X), uint(size.Y), src, c.interp)
	if cache {
		c.cache = scaled{src: src, size: size, out: out}
	}
	return out
}

// ContainRect returns where an sw×sh source lands inside a dw×dh canvas
// when scaled uniformly to fit and centered.
func ContainRect(sw, sh, dw, dh int) image.Rectangle {
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return image.Rectangle{}
	}
	s := math.Min(float64(dw)/float64(sw), float64(dh)/float64(sh))
	return centered(sw, sh, dw, dh, s)
}

// CoverRect is like ContainRect but scales so the source covers the whole
// canvas. The result may extend past the canvas bounds.
func CoverRect(sw, sh, dw, dh int) image.Rectangle {
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return image.Rectangle{}
	}
	s := math.Max(float64(dw)/float64(sw), float64(dh)/float64(sh))
	return centered(sw, sh, dw, dh, s)
}

func centered(sw, sh, dw, dh int, s float64) image.Rectangle {
	w := int(math.Round(float64(sw) * s))
	h := int(math.Round(float64(sh) * s))
	x := (dw - w) / 2
	y := (dh - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
