package filters

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/omshejul/pdftools/ir/raw"
)

func inflateZlib(in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return out.Bytes(), nil
}

// applyPredictor undoes the TIFF (2) or PNG (10..15) predictor declared
// in DecodeParms. Predictor 1 or absent params pass through.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := paramInt(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := paramInt(params, "Colors", 1)
	bpc := paramInt(params, "BitsPerComponent", 8)
	columns := paramInt(params, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor parameters: colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}

	bytesPerPixel := (colors*bpc + 7) / 8
	rowSize := (colors*columns*bpc + 7) / 8

	if predictor == 2 {
		return applyTIFFPredictor(data, colors, bpc, columns, rowSize)
	}
	if predictor < 10 || predictor > 15 {
		return nil, fmt.Errorf("unknown predictor %d", predictor)
	}
	return applyPNGPredictor(data, bytesPerPixel, rowSize)
}

func applyTIFFPredictor(data []byte, colors, bpc, columns, rowSize int) ([]byte, error) {
	if bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor with %d bits per component unsupported", bpc)
	}
	out := append([]byte(nil), data...)
	for row := 0; row+rowSize <= len(out); row += rowSize {
		for i := colors; i < rowSize; i++ {
			out[row+i] += out[row+i-colors]
		}
	}
	return out, nil
}

// applyPNGPredictor undoes per-row PNG filtering (RFC 2083). Each row
// carries a leading filter-type byte.
func applyPNGPredictor(data []byte, bytesPerPixel, rowSize int) ([]byte, error) {
	if len(data) < rowSize+1 {
		return nil, errors.New("png predictor: data shorter than one row")
	}
	// A truncated trailing row is dropped rather than failing the stream.
	rows := len(data) / (rowSize + 1)
	out := make([]byte, 0, rows*rowSize)
	prev := make([]byte, rowSize)
	for r := 0; r < rows; r++ {
		in := data[r*(rowSize+1) : (r+1)*(rowSize+1)]
		ft := in[0]
		cur := append([]byte(nil), in[1:]...)
		switch ft {
		case 0: // None
		case 1: // Sub
			for i := bytesPerPixel; i < rowSize; i++ {
				cur[i] += cur[i-bytesPerPixel]
			}
		case 2: // Up
			for i := 0; i < rowSize; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowSize; i++ {
				var left byte
				if i >= bytesPerPixel {
					left = cur[i-bytesPerPixel]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowSize; i++ {
				var left, upLeft byte
				if i >= bytesPerPixel {
					left = cur[i-bytesPerPixel]
					upLeft = prev[i-bytesPerPixel]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("png predictor: unknown filter type %d", ft)
		}
		out = append(out, cur...)
		prev = cur
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
