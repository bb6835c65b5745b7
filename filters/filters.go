package filters

import (
	"bytes"
	"compress/flate"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/hhrutter/lzw"
	"golang.org/x/image/ccitt"

	"github.com/omshejul/pdftools/ir/raw"
)

// ErrUnsupportedFilter marks a stream encoding this package cannot
// decode (JPXDecode, JBIG2Decode, Crypt). Callers skip the affected
// image rather than failing the document.
var ErrUnsupportedFilter = errors.New("unsupported stream filter")

// Decoder reverses one stream encoding.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

// Pipeline applies a filter chain in order.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	m := make(map[string]Decoder, len(decoders))
	for _, d := range decoders {
		m[d.Name()] = d
	}
	return &Pipeline{decoders: m, limits: limits}
}

// NewDefaultPipeline returns a pipeline with every decoder this package
// implements.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
		NewCCITTFaxDecoder(),
	}, limits)
}

// Supports reports whether the pipeline has a decoder for name.
func (p *Pipeline) Supports(name string) bool {
	_, ok := p.decoders[name]
	return ok
}

func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// ImageChain splits an image stream's filter list into the outer
// transport filters and a trailing image codec. DCTDecode at the end of
// a chain is not decoded here; the imaging layer feeds those bytes to
// the JPEG decoder directly.
func ImageChain(names []string) (outer []string, terminal string) {
	if n := len(names); n > 0 {
		switch names[n-1] {
		case "DCTDecode", "JPXDecode", "JBIG2Decode":
			return names[:n-1], names[n-1]
		}
	}
	return names, ""
}

// ExtractFilters reads Filter and DecodeParms entries from a stream
// dictionary, resolving indirect entries through doc when given.
func ExtractFilters(doc *raw.Document, dict raw.Dictionary) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary

	resolve := func(o raw.Object) raw.Object {
		if doc != nil {
			return doc.Resolve(o)
		}
		return o
	}

	filterObj, ok := dict.Get(raw.NameLiteral("Filter"))
	if !ok {
		return names, params
	}
	switch f := resolve(filterObj).(type) {
	case raw.Name:
		names = append(names, f.Value())
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := resolve(item).(raw.Name); ok {
				names = append(names, n.Value())
			}
		}
	}
	if len(names) == 0 {
		return names, params
	}

	for _, key := range []string{"DecodeParms", "DP"} {
		pObj, ok := dict.Get(raw.NameLiteral(key))
		if !ok {
			continue
		}
		switch p := resolve(pObj).(type) {
		case *raw.DictObj:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, item := range p.Items {
				if d, ok := resolve(item).(raw.Dictionary); ok {
					params = append(params, d)
				} else {
					params = append(params, nil)
				}
			}
		}
		break
	}
	return names, params
}

func paramInt(params raw.Dictionary, key string, def int) int {
	if params == nil {
		return def
	}
	v, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	if n, ok := v.(raw.Number); ok {
		return int(n.Int())
	}
	return def
}

func paramBool(params raw.Dictionary, key string, def bool) bool {
	if params == nil {
		return def
	}
	v, ok := params.Get(raw.NameLiteral(key))
	if !ok {
		return def
	}
	if b, ok := v.(raw.Boolean); ok {
		return b.Value()
	}
	return def
}

// FlateDecode

type flateDecoder struct{}

func NewFlateDecoder() Decoder    { return flateDecoder{} }
func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	// Streams are zlib-wrapped in practice but some producers emit raw
	// deflate; try zlib first, then bare flate.
	out, err := inflate(in)
	if err != nil {
		return nil, err
	}
	return applyPredictor(out, params)
}

func inflate(in []byte) ([]byte, error) {
	if len(in) >= 2 && in[0]&0x0f == 8 { // zlib header
		if out, err := inflateZlib(in); err == nil {
			return out, nil
		}
	}
	r := flate.NewReader(bytes.NewReader(in))
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// LZWDecode

type lzwDecoder struct{}

func NewLZWDecoder() Decoder    { return lzwDecoder{} }
func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	earlyChange := paramInt(params, "EarlyChange", 1) == 1
	r := lzw.NewReader(bytes.NewReader(in), earlyChange)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// ASCII85Decode

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder    { return ascii85Decoder{} }
func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)+4)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// ASCIIHexDecode

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder    { return asciiHexDecoder{} }
func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var compact []byte
	for _, c := range in {
		if c == '>' {
			break
		}
		if isHexDigit(c) {
			compact = append(compact, c)
		}
	}
	// odd length pads with a trailing 0
	if len(compact)%2 == 1 {
		compact = append(compact, '0')
	}
	result := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(result, compact)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// RunLengthDecode

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder    { return runLengthDecoder{} }
func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		l := int(in[i])
		i++
		switch {
		case l == 128: // EOD
			return out.Bytes(), nil
		case l < 128:
			n := l + 1
			if i+n > len(in) {
				return nil, errors.New("run length literal overruns input")
			}
			out.Write(in[i : i+n])
			i += n
		default:
			if i >= len(in) {
				return nil, errors.New("run length repeat overruns input")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-l))
			i++
		}
	}
	return out.Bytes(), nil
}

// CCITTFaxDecode

type ccittFaxDecoder struct{}

func NewCCITTFaxDecoder() Decoder    { return ccittFaxDecoder{} }
func (ccittFaxDecoder) Name() string { return "CCITTFaxDecode" }

// Decode produces packed 1-bit rows (MSB first), the layout the image
// dictionary declares for a 1-bpc DeviceGray stream. Rows must be
// present in params; the orchestrator injects the image Height when the
// document omits it.
func (ccittFaxDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	k := paramInt(params, "K", 0)
	if k > 0 {
		return nil, fmt.Errorf("%w: CCITTFaxDecode with K > 0", ErrUnsupportedFilter)
	}
	cols := paramInt(params, "Columns", 1728)
	rows := paramInt(params, "Rows", 0)
	if rows <= 0 {
		return nil, errors.New("ccitt: missing Rows")
	}
	// x/image/ccitt's default output already matches PDF's default
	// 0-means-black convention; BlackIs1 asks for the opposite, so it
	// maps straight onto the reader's Invert option.
	blackIs1 := paramBool(params, "BlackIs1", false)
	align := paramBool(params, "EncodedByteAlign", false)

	mode := ccitt.Group3
	if k < 0 {
		mode = ccitt.Group4
	}
	rd := ccitt.NewReader(bytes.NewReader(in), ccitt.MSB, mode, cols, rows, &ccitt.Options{Invert: blackIs1, Align: align})
	var out bytes.Buffer
	if _, err := io.Copy(&out, rd); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
