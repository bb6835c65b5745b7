// Package colorspace maps PDF color space objects to concrete pixel
// layouts for the imaging layer.
package colorspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/omshejul/pdftools/filters"
	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/observability"
)

// ErrUnresolvable is returned when no channel count can be determined
// for a color space object.
var ErrUnresolvable = errors.New("unresolvable color space")

// Kind is a closed enumeration of the color space families the decoder
// distinguishes. Exhaustive switches over Kind keep support for a new
// family a localized change.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceGray
	KindDeviceRGB
	KindDeviceCMYK
	KindCalGray
	KindCalRGB
	KindLab
	KindICCBased
	KindIndexed
	KindSeparation
	KindDeviceN
)

func (k Kind) String() string {
	switch k {
	case KindDeviceGray:
		return "DeviceGray"
	case KindDeviceRGB:
		return "DeviceRGB"
	case KindDeviceCMYK:
		return "DeviceCMYK"
	case KindCalGray:
		return "CalGray"
	case KindCalRGB:
		return "CalRGB"
	case KindLab:
		return "Lab"
	case KindICCBased:
		return "ICCBased"
	case KindIndexed:
		return "Indexed"
	case KindSeparation:
		return "Separation"
	case KindDeviceN:
		return "DeviceN"
	default:
		return "Unknown"
	}
}

// Layout describes how samples of a decoded stream map to channels.
type Layout struct {
	Kind     Kind
	Channels int

	// Indexed spaces carry an eagerly decoded palette: HiVal+1 entries
	// of Base.Channels bytes each.
	Base    *Layout
	HiVal   int
	Palette []byte
}

// Indexed reports whether samples are palette indices.
func (l Layout) Indexed() bool { return l.Kind == KindIndexed }

// Resolver resolves color space objects against a document.
type Resolver struct {
	doc      *raw.Document
	pipeline *filters.Pipeline
	log      observability.Logger
}

func NewResolver(doc *raw.Document, pipeline *filters.Pipeline, log observability.Logger) *Resolver {
	if log == nil {
		log = observability.NopLogger{}
	}
	if pipeline == nil {
		pipeline = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &Resolver{doc: doc, pipeline: pipeline, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, obj raw.Object) (Layout, error) {
	return r.resolve(ctx, obj, 0)
}

func (r *Resolver) resolve(ctx context.Context, obj raw.Object, depth int) (Layout, error) {
	if depth > 4 {
		return Layout{}, fmt.Errorf("%w: nesting too deep", ErrUnresolvable)
	}
	switch v := r.doc.Resolve(obj).(type) {
	case raw.Name:
		return layoutForName(v.Value())
	case *raw.ArrayObj:
		return r.resolveArray(ctx, v, depth)
	case nil:
		return Layout{}, ErrUnresolvable
	default:
		return Layout{}, fmt.Errorf("%w: unexpected %s object", ErrUnresolvable, v.Type())
	}
}

func layoutForName(name string) (Layout, error) {
	switch name {
	case "DeviceGray", "G":
		return Layout{Kind: KindDeviceGray, Channels: 1}, nil
	case "DeviceRGB", "RGB":
		return Layout{Kind: KindDeviceRGB, Channels: 3}, nil
	case "DeviceCMYK", "CMYK":
		return Layout{Kind: KindDeviceCMYK, Channels: 4}, nil
	case "CalGray":
		return Layout{Kind: KindCalGray, Channels: 1}, nil
	case "CalRGB":
		return Layout{Kind: KindCalRGB, Channels: 3}, nil
	case "Lab":
		return Layout{Kind: KindLab, Channels: 3}, nil
	case "Indexed", "I":
		return Layout{}, fmt.Errorf("%w: bare Indexed name", ErrUnresolvable)
	default:
		return Layout{}, fmt.Errorf("%w: %s", ErrUnresolvable, name)
	}
}

func (r *Resolver) resolveArray(ctx context.Context, arr *raw.ArrayObj, depth int) (Layout, error) {
	if arr.Len() == 0 {
		return Layout{}, ErrUnresolvable
	}
	family, ok := r.doc.Resolve(arr.Items[0]).(raw.Name)
	if !ok {
		return Layout{}, fmt.Errorf("%w: array head is not a name", ErrUnresolvable)
	}
	switch family.Value() {
	case "Indexed", "I":
		return r.resolveIndexed(ctx, arr, depth)

	case "ICCBased":
		return r.resolveICCBased(arr)

	case "CalGray":
		return Layout{Kind: KindCalGray, Channels: 1}, nil
	case "CalRGB":
		return Layout{Kind: KindCalRGB, Channels: 3}, nil
	case "Lab":
		return Layout{Kind: KindLab, Channels: 3}, nil

	case "Separation":
		return Layout{Kind: KindSeparation, Channels: 1}, nil

	case "DeviceN":
		if arr.Len() < 2 {
			return Layout{}, fmt.Errorf("%w: DeviceN without names", ErrUnresolvable)
		}
		names, ok := r.doc.Resolve(arr.Items[1]).(*raw.ArrayObj)
		if !ok || names.Len() == 0 {
			return Layout{}, fmt.Errorf("%w: DeviceN names invalid", ErrUnresolvable)
		}
		return Layout{Kind: KindDeviceN, Channels: names.Len()}, nil

	case "DeviceGray", "DeviceRGB", "DeviceCMYK":
		return layoutForName(family.Value())

	default:
		// Array form we do not recognize: treat as RGB and log, per the
		// conservative-approximation policy.
		r.log.Warn("unrecognized color space family, assuming DeviceRGB",
			observability.String("family", family.Value()))
		return Layout{Kind: KindUnknown, Channels: 3}, nil
	}
}

func (r *Resolver) resolveICCBased(arr *raw.ArrayObj) (Layout, error) {
	// Exact ICC profile handling is out of scope; the N entry gives the
	// channel count, defaulting to RGB when absent.
	channels := 3
	if arr.Len() >= 2 {
		if st, ok := r.doc.ResolveStream(arr.Items[1]); ok {
			if n, ok := st.Dict.GetInt("N"); ok && (n == 1 || n == 3 || n == 4) {
				channels = int(n)
			}
		} else {
			r.log.Warn("ICCBased stream missing, assuming 3 channels")
		}
	}
	return Layout{Kind: KindICCBased, Channels: channels}, nil
}

func (r *Resolver) resolveIndexed(ctx context.Context, arr *raw.ArrayObj, depth int) (Layout, error) {
	if arr.Len() < 4 {
		return Layout{}, fmt.Errorf("%w: Indexed array too short", ErrUnresolvable)
	}
	base, err := r.resolve(ctx, arr.Items[1], depth+1)
	if err != nil {
		return Layout{}, fmt.Errorf("indexed base: %w", err)
	}
	if base.Indexed() {
		return Layout{}, fmt.Errorf("%w: Indexed base is itself Indexed", ErrUnresolvable)
	}
	hival, ok := r.doc.Resolve(arr.Items[2]).(raw.Number)
	if !ok || hival.Int() < 0 || hival.Int() > 255 {
		return Layout{}, fmt.Errorf("%w: Indexed hival invalid", ErrUnresolvable)
	}

	// Later stages need direct color for resampling, so the palette is
	// decoded now rather than lazily.
	palette, err := r.paletteBytes(ctx, arr.Items[3])
	if err != nil {
		return Layout{}, fmt.Errorf("indexed palette: %w", err)
	}
	want := base.Channels * (int(hival.Int()) + 1)
	if len(palette) < want {
		// Pad short palettes with black instead of failing; some
		// producers truncate trailing zero entries.
		palette = append(palette, make([]byte, want-len(palette))...)
	}

	return Layout{
		Kind:     KindIndexed,
		Channels: 1,
		Base:     &base,
		HiVal:    int(hival.Int()),
		Palette:  palette[:want],
	}, nil
}

func (r *Resolver) paletteBytes(ctx context.Context, obj raw.Object) ([]byte, error) {
	switch v := r.doc.Resolve(obj).(type) {
	case raw.String:
		return v.Value(), nil
	case *raw.StreamObj:
		data := v.RawData()
		names, params := filters.ExtractFilters(r.doc, v.Dict)
		if len(names) == 0 {
			return data, nil
		}
		return r.pipeline.Decode(ctx, data, names, params)
	default:
		return nil, errors.New("lookup is neither string nor stream")
	}
}
