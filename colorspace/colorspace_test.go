package colorspace

import (
	"context"
	"errors"
	"testing"

	"github.com/omshejul/pdftools/ir/raw"
)

func resolver(doc *raw.Document) *Resolver {
	if doc == nil {
		doc = raw.NewDocument()
	}
	return NewResolver(doc, nil, nil)
}

func TestResolveDeviceNames(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		channels int
	}{
		{"DeviceGray", KindDeviceGray, 1},
		{"G", KindDeviceGray, 1},
		{"DeviceRGB", KindDeviceRGB, 3},
		{"RGB", KindDeviceRGB, 3},
		{"DeviceCMYK", KindDeviceCMYK, 4},
		{"CMYK", KindDeviceCMYK, 4},
		{"CalGray", KindCalGray, 1},
		{"Lab", KindLab, 3},
	}
	r := resolver(nil)
	for _, tt := range tests {
		layout, err := r.Resolve(context.Background(), raw.NameLiteral(tt.name))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if layout.Kind != tt.kind || layout.Channels != tt.channels {
			t.Errorf("%s: kind=%v channels=%d", tt.name, layout.Kind, layout.Channels)
		}
	}
}

func TestResolveUnknownName(t *testing.T) {
	_, err := resolver(nil).Resolve(context.Background(), raw.NameLiteral("Pattern"))
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("err = %v, want ErrUnresolvable", err)
	}
}

func TestResolveIndirectName(t *testing.T) {
	doc := raw.NewDocument()
	doc.Objects[raw.ObjectRef{Num: 7}] = raw.NameLiteral("DeviceCMYK")
	layout, err := resolver(doc).Resolve(context.Background(), raw.Ref(7, 0))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if layout.Kind != KindDeviceCMYK {
		t.Errorf("kind = %v", layout.Kind)
	}
}

func TestResolveICCBased(t *testing.T) {
	doc := raw.NewDocument()
	iccDict := raw.Dict()
	iccDict.Set(raw.NameLiteral("N"), raw.NumberInt(4))
	doc.Objects[raw.ObjectRef{Num: 9}] = raw.NewStream(iccDict, []byte("profile"))

	layout, err := resolver(doc).Resolve(context.Background(),
		raw.NewArray(raw.NameLiteral("ICCBased"), raw.Ref(9, 0)))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if layout.Kind != KindICCBased || layout.Channels != 4 {
		t.Errorf("layout = %+v", layout)
	}
}

func TestResolveICCBasedMissingStream(t *testing.T) {
	layout, err := resolver(nil).Resolve(context.Background(),
		raw.NewArray(raw.NameLiteral("ICCBased"), raw.Ref(9, 0)))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if layout.Channels != 3 {
		t.Errorf("channels = %d, want 3 fallback", layout.Channels)
	}
}

func TestResolveIndexed(t *testing.T) {
	layout, err := resolver(nil).Resolve(context.Background(), raw.NewArray(
		raw.NameLiteral("Indexed"),
		raw.NameLiteral("DeviceRGB"),
		raw.NumberInt(1),
		raw.Str([]byte{255, 0, 0, 0, 0, 255}),
	))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !layout.Indexed() || layout.Channels != 1 || layout.HiVal != 1 {
		t.Errorf("layout = %+v", layout)
	}
	if layout.Base == nil || layout.Base.Channels != 3 {
		t.Fatalf("base = %+v", layout.Base)
	}
	if len(layout.Palette) != 6 {
		t.Errorf("palette length = %d", len(layout.Palette))
	}
}

func TestResolveIndexedShortPalettePadded(t *testing.T) {
	layout, err := resolver(nil).Resolve(context.Background(), raw.NewArray(
		raw.NameLiteral("I"),
		raw.NameLiteral("RGB"),
		raw.NumberInt(3),
		raw.Str([]byte{255, 255, 255}),
	))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if want := 3 * 4; len(layout.Palette) != want {
		t.Errorf("palette length = %d, want %d", len(layout.Palette), want)
	}
}

func TestResolveDeviceN(t *testing.T) {
	layout, err := resolver(nil).Resolve(context.Background(), raw.NewArray(
		raw.NameLiteral("DeviceN"),
		raw.NewArray(raw.NameLiteral("Cyan"), raw.NameLiteral("Magenta")),
		raw.NameLiteral("DeviceCMYK"),
	))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if layout.Kind != KindDeviceN || layout.Channels != 2 {
		t.Errorf("layout = %+v", layout)
	}
}

func TestResolveSeparation(t *testing.T) {
	layout, err := resolver(nil).Resolve(context.Background(), raw.NewArray(
		raw.NameLiteral("Separation"),
		raw.NameLiteral("Spot1"),
		raw.NameLiteral("DeviceCMYK"),
	))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if layout.Kind != KindSeparation || layout.Channels != 1 {
		t.Errorf("layout = %+v", layout)
	}
}

func TestResolveNestedIndexedRejected(t *testing.T) {
	_, err := resolver(nil).Resolve(context.Background(), raw.NewArray(
		raw.NameLiteral("Indexed"),
		raw.NewArray(
			raw.NameLiteral("Indexed"),
			raw.NameLiteral("DeviceRGB"),
			raw.NumberInt(0),
			raw.Str([]byte{0, 0, 0}),
		),
		raw.NumberInt(0),
		raw.Str([]byte{0}),
	))
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("err = %v, want ErrUnresolvable", err)
	}
}
