package imaging

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// FitWithin computes the target dimensions for scaling w×h so the
// longer side does not exceed maxDim, preserving aspect ratio. Images
// already within the bound keep their dimensions; this never upscales.
// A non-positive maxDim disables the bound.
func FitWithin(w, h, maxDim int) (int, int, error) {
	if w <= 0 || h <= 0 {
		return 0, 0, ErrDegenerateImage
	}
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h, nil
	}
	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh, nil
}

// Resize resamples img to w×h with Catmull-Rom interpolation. Gray
// input stays gray so a single-channel image keeps its single-channel
// encoding downstream.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	if _, ok := img.(*image.Gray); ok {
		dst := image.NewGray(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Rect, img, b, draw.Over, nil)
		return dst
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Rect, img, b, draw.Over, nil)
	return dst
}
