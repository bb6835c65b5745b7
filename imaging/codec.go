// Package imaging converts decoded PDF image streams to pixel buffers,
// resamples them, and encodes JPEG replacements.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/omshejul/pdftools/colorspace"
)

var (
	// ErrDegenerateImage marks an image with a non-positive dimension.
	ErrDegenerateImage = errors.New("degenerate image dimensions")
	// ErrUnsupportedLayout marks a sample layout the codec cannot
	// expand into pixels.
	ErrUnsupportedLayout = errors.New("unsupported pixel layout")
)

// Decode expands raw (already unfiltered) samples into an image using
// the resolved layout. Sub-byte samples unpack MSB first with rows
// padded to byte boundaries, per PDF 8.9.5.
func Decode(data []byte, layout colorspace.Layout, bpc, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrDegenerateImage
	}
	if bpc == 0 {
		bpc = 8
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("%w: %d bits per component", ErrUnsupportedLayout, bpc)
	}

	// Indexed samples are palette positions, not intensities; they must
	// not be rescaled during unpacking.
	samples, err := unpackSamples(data, layout.Channels, bpc, width, height, !layout.Indexed())
	if err != nil {
		return nil, err
	}

	if layout.Indexed() {
		return expandIndexed(samples, layout, width, height)
	}

	switch layout.Channels {
	case 1:
		return &image.Gray{Pix: samples, Stride: width, Rect: image.Rect(0, 0, width, height)}, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for i, j := 0, 0; i < len(samples); i, j = i+3, j+4 {
			img.Pix[j+0] = samples[i+0]
			img.Pix[j+1] = samples[i+1]
			img.Pix[j+2] = samples[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewCMYK(image.Rect(0, 0, width, height))
		copy(img.Pix, samples)
		return img, nil
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedLayout, layout.Channels)
	}
}

// unpackSamples normalizes any supported bit depth to one byte per
// sample. With scale set, a sub-byte sample value v maps to v*255/maxVal
// so 1-bit black/white becomes 0/255; without it the raw value passes
// through unchanged.
func unpackSamples(data []byte, channels, bpc, width, height int, scale bool) ([]byte, error) {
	if channels <= 0 {
		return nil, ErrUnsupportedLayout
	}
	rowSamples := width * channels
	rowBytes := (rowSamples*bpc + 7) / 8
	if len(data) < rowBytes*height {
		return nil, fmt.Errorf("image data truncated: have %d bytes, need %d", len(data), rowBytes*height)
	}

	if bpc == 8 {
		return data[:rowSamples*height], nil
	}

	out := make([]byte, rowSamples*height)
	if bpc == 16 {
		for i := 0; i < len(out); i++ {
			out[i] = data[i*2] // high byte
		}
		return out, nil
	}

	maxVal := byte(1<<bpc - 1)
	for y := 0; y < height; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for x := 0; x < rowSamples; x++ {
			bit := x * bpc
			v := row[bit/8] >> (8 - bpc - bit%8) & maxVal
			if scale {
				v = byte(int(v) * 255 / int(maxVal))
			}
			out[y*rowSamples+x] = v
		}
	}
	return out, nil
}

// expandIndexed replaces palette indices by their base-space color.
// Out-of-range indices clamp to HiVal, per PDF 8.6.6.3.
func expandIndexed(samples []byte, layout colorspace.Layout, width, height int) (image.Image, error) {
	base := layout.Base
	if base == nil || len(layout.Palette) == 0 {
		return nil, fmt.Errorf("%w: indexed space without palette", ErrUnsupportedLayout)
	}
	lookup := func(s byte, ch int) []byte {
		idx := int(s)
		if idx > layout.HiVal {
			idx = layout.HiVal
		}
		return layout.Palette[idx*ch : idx*ch+ch]
	}

	switch base.Channels {
	case 1:
		img := image.NewGray(image.Rect(0, 0, width, height))
		for i, s := range samples {
			img.Pix[i] = lookup(s, 1)[0]
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for i, s := range samples {
			c := lookup(s, 3)
			j := i * 4
			img.Pix[j+0] = c[0]
			img.Pix[j+1] = c[1]
			img.Pix[j+2] = c[2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewCMYK(image.Rect(0, 0, width, height))
		for i, s := range samples {
			copy(img.Pix[i*4:i*4+4], lookup(s, 4))
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: indexed base with %d channels", ErrUnsupportedLayout, base.Channels)
	}
}

// DecodeJPEG decodes a DCT-encoded stream. The embedded JPEG's own
// layout is trusted over the image dictionary.
func DecodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// EncodeJPEG produces a baseline JPEG at the given 0..1 quality
// fraction. JPEG has no alpha, so any alpha channel is dropped; CMYK
// input is converted to RGB first since 4-channel JPEG renders
// inconsistently across viewers.
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}

	switch img.(type) {
	case *image.Gray, *image.NRGBA, *image.RGBA, *image.YCbCr:
	default:
		img = toNRGBA(img)
	}
	if hasAlpha(img) {
		img = flattenAlpha(img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsGray reports whether the image will encode as a single-channel
// JPEG, which decides the replacement's ColorSpace entry.
func IsGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, img.At(x, y))
		}
	}
	return out
}

func hasAlpha(img image.Image) bool {
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		return false
	}
	for i := 3; i < len(nrgba.Pix); i += 4 {
		if nrgba.Pix[i] != 0xff {
			return true
		}
	}
	return false
}

// flattenAlpha composites over white, the paper color of a page.
func flattenAlpha(img image.Image) image.Image {
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		return img
	}
	out := image.NewNRGBA(nrgba.Rect)
	for i := 0; i < len(nrgba.Pix); i += 4 {
		a := int(nrgba.Pix[i+3])
		out.Pix[i+0] = byte((int(nrgba.Pix[i+0])*a + 255*(255-a)) / 255)
		out.Pix[i+1] = byte((int(nrgba.Pix[i+1])*a + 255*(255-a)) / 255)
		out.Pix[i+2] = byte((int(nrgba.Pix[i+2])*a + 255*(255-a)) / 255)
		out.Pix[i+3] = 0xff
	}
	return out
}
