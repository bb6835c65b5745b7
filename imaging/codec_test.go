package imaging

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/omshejul/pdftools/colorspace"
)

func grayLayout() colorspace.Layout {
	return colorspace.Layout{Kind: colorspace.KindDeviceGray, Channels: 1}
}

func rgbLayout() colorspace.Layout {
	return colorspace.Layout{Kind: colorspace.KindDeviceRGB, Channels: 3}
}

func TestDecodeOneBitGray(t *testing.T) {
	// 2x2 1-bit image: rows are byte aligned, so each row is one byte
	// with the two sample bits in the high positions.
	data := []byte{0b10000000, 0b01000000}
	img, err := Decode(data, grayLayout(), 1, 2, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray, got %T", img)
	}
	want := []byte{255, 0, 0, 255}
	if !bytes.Equal(gray.Pix, want) {
		t.Errorf("pixels = %v, want %v", gray.Pix, want)
	}
}

func TestDecodeRGB(t *testing.T) {
	data := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 10, 20, 30,
	}
	img, err := Decode(data, rgbLayout(), 8, 2, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("expected *image.NRGBA, got %T", img)
	}
	if got := nrgba.NRGBAAt(1, 1); got.R != 10 || got.G != 20 || got.B != 30 || got.A != 255 {
		t.Errorf("pixel (1,1) = %v", got)
	}
}

func TestDecodeSixteenBitTakesHighByte(t *testing.T) {
	data := []byte{0xAB, 0xCD, 0x12, 0x34}
	img, err := Decode(data, grayLayout(), 16, 2, 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	gray := img.(*image.Gray)
	if gray.Pix[0] != 0xAB || gray.Pix[1] != 0x12 {
		t.Errorf("pixels = %v, want [0xAB 0x12]", gray.Pix)
	}
}

func TestDecodeIndexed(t *testing.T) {
	base := rgbLayout()
	layout := colorspace.Layout{
		Kind:     colorspace.KindIndexed,
		Channels: 1,
		Base:     &base,
		HiVal:    1,
		Palette:  []byte{255, 0, 0, 0, 0, 255}, // index 0 red, index 1 blue
	}
	// 1-bit indexed 2x1: bits 0 then 1.
	img, err := Decode([]byte{0b01000000}, layout, 1, 2, 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	nrgba := img.(*image.NRGBA)
	if got := nrgba.NRGBAAt(0, 0); got.R != 255 || got.B != 0 {
		t.Errorf("index 0 = %v, want red", got)
	}
	if got := nrgba.NRGBAAt(1, 0); got.B != 255 || got.R != 0 {
		t.Errorf("index 1 = %v, want blue", got)
	}
}

func TestDecodeIndexedSmallPalette(t *testing.T) {
	// 8-bit indices into a 5-entry gray palette. Index values are
	// positions, not intensities; they must reach the palette unscaled.
	base := grayLayout()
	layout := colorspace.Layout{
		Kind:     colorspace.KindIndexed,
		Channels: 1,
		Base:     &base,
		HiVal:    4,
		Palette:  []byte{10, 50, 100, 150, 200},
	}
	img, err := Decode([]byte{0, 1, 2, 3, 4}, layout, 8, 5, 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	gray := img.(*image.Gray)
	want := []byte{10, 50, 100, 150, 200}
	if !bytes.Equal(gray.Pix, want) {
		t.Errorf("pixels = %v, want %v", gray.Pix, want)
	}
}

func TestDecodeIndexedSubByteSmallPalette(t *testing.T) {
	// 2-bit indices with only 3 palette entries: index 2 is valid even
	// though HiVal is below the depth's maximum.
	base := grayLayout()
	layout := colorspace.Layout{
		Kind:     colorspace.KindIndexed,
		Channels: 1,
		Base:     &base,
		HiVal:    2,
		Palette:  []byte{30, 90, 180},
	}
	// 4x1 row, samples 0 1 2 3 packed into one byte; 3 clamps to HiVal.
	img, err := Decode([]byte{0b00011011}, layout, 2, 4, 1)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	gray := img.(*image.Gray)
	want := []byte{30, 90, 180, 180}
	if !bytes.Equal(gray.Pix, want) {
		t.Errorf("pixels = %v, want %v", gray.Pix, want)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}, rgbLayout(), 8, 2, 2); err == nil {
		t.Fatal("expected error for truncated data")
	}
}

func TestDecodeDegenerate(t *testing.T) {
	if _, err := Decode(nil, grayLayout(), 8, 0, 5); err != ErrDegenerateImage {
		t.Fatalf("err = %v, want ErrDegenerateImage", err)
	}
}

func TestEncodeJPEGQualityClamp(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for _, q := range []float64{-1, 0, 0.5, 1, 2} {
		data, err := EncodeJPEG(img, q)
		if err != nil {
			t.Fatalf("EncodeJPEG(q=%v) failed: %v", q, err)
		}
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			t.Errorf("EncodeJPEG(q=%v) produced undecodable output: %v", q, err)
		}
	}
}

func TestEncodeJPEGGrayStaysGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	data, err := EncodeJPEG(img, 0.8)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := decoded.(*image.Gray); !ok {
		t.Errorf("decoded as %T, want *image.Gray", decoded)
	}
}

func TestEncodeJPEGFlattensAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	// fully transparent: should come out white, not black
	data, err := EncodeJPEG(img, 0.9)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	r, g, b, _ := decoded.At(0, 0).RGBA()
	if r < 0xf000 || g < 0xf000 || b < 0xf000 {
		t.Errorf("transparent pixel encoded as (%d,%d,%d), want near white", r>>8, g>>8, b>>8)
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{800, 600, 400, 400, 300},
		{600, 800, 400, 300, 400},
		{100, 100, 400, 100, 100}, // never upscale
		{400, 400, 400, 400, 400}, // exactly at bound
		{800, 600, 0, 800, 600},   // bound disabled
		{10000, 1, 100, 100, 1},   // narrow strip clamps to 1, not 0
	}
	for _, tt := range tests {
		w, h, err := FitWithin(tt.w, tt.h, tt.max)
		if err != nil {
			t.Fatalf("FitWithin(%d,%d,%d) failed: %v", tt.w, tt.h, tt.max, err)
		}
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitWithin(%d,%d,%d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
		// Applying the bound twice must not shrink further.
		w2, h2, _ := FitWithin(w, h, tt.max)
		if w2 != w || h2 != h {
			t.Errorf("FitWithin not idempotent: %dx%d -> %dx%d", w, h, w2, h2)
		}
	}
}

func TestFitWithinDegenerate(t *testing.T) {
	if _, _, err := FitWithin(0, 100, 50); err != ErrDegenerateImage {
		t.Fatalf("err = %v, want ErrDegenerateImage", err)
	}
}

func TestResizeGrayStaysGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	dst := Resize(src, 8, 8)
	if _, ok := dst.(*image.Gray); !ok {
		t.Errorf("resized gray image is %T", dst)
	}
	if b := dst.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Errorf("bounds = %v", b)
	}
}

func TestResizeNoop(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	if dst := Resize(src, 4, 4); dst != src {
		t.Error("same-size resize should return the input")
	}
}
