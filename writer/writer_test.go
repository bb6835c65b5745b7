package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/parser"
)

func dict(kv map[string]raw.Object) *raw.DictObj {
	d := raw.Dict()
	for k, v := range kv {
		d.Set(raw.NameLiteral(k), v)
	}
	return d
}

func minimalDoc() *raw.Document {
	doc := raw.NewDocument()
	doc.Version = "1.6"
	doc.Objects[raw.ObjectRef{Num: 1}] = dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Catalog"),
		"Pages": raw.Ref(2, 0),
	})
	doc.Objects[raw.ObjectRef{Num: 2}] = dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Pages"),
		"Kids":  raw.NewArray(raw.Ref(3, 0)),
		"Count": raw.NumberInt(1),
	})
	doc.Objects[raw.ObjectRef{Num: 3}] = dict(map[string]raw.Object{
		"Type":   raw.NameLiteral("Page"),
		"Parent": raw.Ref(2, 0),
	})
	doc.Trailer = dict(map[string]raw.Object{"Root": raw.Ref(1, 0)})
	return doc
}

func TestSerializeParsesBack(t *testing.T) {
	doc := minimalDoc()
	var out bytes.Buffer
	if err := Serialize(doc, &out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	p := parser.NewDocumentParser(parser.Config{})
	reparsed, err := p.Parse(context.Background(), bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("output does not parse: %v\n%s", err, out.Bytes())
	}
	if len(reparsed.Objects) != len(doc.Objects) {
		t.Errorf("reparsed %d objects, want %d", len(reparsed.Objects), len(doc.Objects))
	}
	catalog, ok := reparsed.ResolveDict(raw.Ref(1, 0))
	if !ok {
		t.Fatal("catalog missing after round trip")
	}
	if typ, _ := catalog.GetName("Type"); typ != "Catalog" {
		t.Errorf("catalog Type = %q", typ)
	}
}

func TestSerializeKeepsOriginalBytes(t *testing.T) {
	doc := minimalDoc()
	// An intentionally odd but valid serialization the writer would
	// never produce itself; it must survive verbatim.
	span := []byte("3 0 obj\n<<  /Type/Page    /Parent 2 0 R  >>\nendobj\n")
	doc.SetOriginal(raw.ObjectRef{Num: 3}, span)

	var out bytes.Buffer
	if err := Serialize(doc, &out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if !bytes.Contains(out.Bytes(), span) {
		t.Error("untouched object was re-serialized instead of copied")
	}
}

func TestSerializeDirtyObjectRewritten(t *testing.T) {
	doc := minimalDoc()
	span := []byte("3 0 obj\n<< /Type /Page /Parent 2 0 R /Stale true >>\nendobj\n")
	doc.SetOriginal(raw.ObjectRef{Num: 3}, span)
	doc.MarkDirty(raw.ObjectRef{Num: 3})

	var out bytes.Buffer
	if err := Serialize(doc, &out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if bytes.Contains(out.Bytes(), []byte("/Stale")) {
		t.Error("dirty object emitted from stale source bytes")
	}
}

func TestSerializeDropsContainers(t *testing.T) {
	doc := minimalDoc()
	doc.Objects[raw.ObjectRef{Num: 4}] = raw.NewStream(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("ObjStm"),
	}), []byte("members"))
	doc.Objects[raw.ObjectRef{Num: 5}] = raw.NewStream(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("XRef"),
	}), []byte{0})

	var out bytes.Buffer
	if err := Serialize(doc, &out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if bytes.Contains(out.Bytes(), []byte("/ObjStm")) {
		t.Error("object stream container survived rewriting")
	}
	if bytes.Contains(out.Bytes(), []byte("4 0 obj")) || bytes.Contains(out.Bytes(), []byte("5 0 obj")) {
		t.Error("container objects emitted")
	}
}

func TestSerializeKeepsGenerationNumbers(t *testing.T) {
	doc := minimalDoc()
	doc.Objects[raw.ObjectRef{Num: 4, Gen: 2}] = dict(map[string]raw.Object{
		"Kind": raw.NameLiteral("Annot"),
	})

	var out bytes.Buffer
	if err := Serialize(doc, &out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	s := out.String()
	idx := strings.Index(s, "4 2 obj")
	if idx < 0 {
		t.Fatalf("object header lost its generation:\n%s", s)
	}
	// The table row must carry the same generation as the body it
	// points at, and its offset must land on that body.
	want := fmt.Sprintf("%010d 00002 n \n", idx)
	if !strings.Contains(s, want) {
		t.Errorf("xref entry %q missing:\n%s", want, s)
	}

	p := parser.NewDocumentParser(parser.Config{})
	reparsed, err := p.Parse(context.Background(), bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("output does not parse: %v\n%s", err, s)
	}
	d, ok := reparsed.ResolveDict(raw.Ref(4, 2))
	if !ok {
		t.Fatal("generation-2 object unreachable after round trip")
	}
	if kind, _ := d.GetName("Kind"); kind != "Annot" {
		t.Errorf("Kind = %q", kind)
	}
}

func TestSerializeEscapesStringsAndNames(t *testing.T) {
	doc := minimalDoc()
	doc.Objects[raw.ObjectRef{Num: 4}] = dict(map[string]raw.Object{
		"T":       raw.Str([]byte("a(b)c\\d")),
		"Odd Key": raw.NameLiteral("With Space"),
	})
	var out bytes.Buffer
	if err := Serialize(doc, &out); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, `(a\(b\)c\\d)`) {
		t.Errorf("string not escaped:\n%s", s)
	}
	if !strings.Contains(s, "/Odd#20Key") || !strings.Contains(s, "/With#20Space") {
		t.Errorf("names not escaped:\n%s", s)
	}
}

func imageDoc() *raw.Document {
	doc := minimalDoc()
	img := raw.NewStream(dict(map[string]raw.Object{
		"Type":             raw.NameLiteral("XObject"),
		"Subtype":          raw.NameLiteral("Image"),
		"Width":            raw.NumberInt(100),
		"Height":           raw.NumberInt(80),
		"ColorSpace":       raw.NameLiteral("DeviceRGB"),
		"BitsPerComponent": raw.NumberInt(8),
		"Length":           raw.NumberInt(24000),
		"SMask":            raw.Ref(5, 0),
		"DecodeParms":      dict(map[string]raw.Object{"Predictor": raw.NumberInt(12)}),
	}), make([]byte, 24000))
	doc.Objects[raw.ObjectRef{Num: 4}] = img
	page := doc.Objects[raw.ObjectRef{Num: 3}].(*raw.DictObj)
	page.Set(raw.NameLiteral("Resources"), dict(map[string]raw.Object{
		"XObject": dict(map[string]raw.Object{"Im1": raw.Ref(4, 0)}),
	}))
	return doc
}

func TestReplaceImage(t *testing.T) {
	doc := imageDoc()
	jpeg := []byte("\xFF\xD8 not a real jpeg \xFF\xD9")
	err := ReplaceImage(doc, Replacement{
		Ref: raw.ObjectRef{Num: 4}, JPEG: jpeg, Width: 50, Height: 40, Gray: false,
	})
	if err != nil {
		t.Fatalf("ReplaceImage failed: %v", err)
	}

	stm, _ := doc.ResolveStream(raw.Ref(4, 0))
	if !bytes.Equal(stm.Data, jpeg) {
		t.Error("stream data not replaced")
	}
	d := stm.Dict
	if w, _ := d.GetInt("Width"); w != 50 {
		t.Errorf("Width = %d", w)
	}
	if f, _ := d.GetName("Filter"); f != "DCTDecode" {
		t.Errorf("Filter = %q", f)
	}
	if cs, _ := d.GetName("ColorSpace"); cs != "DeviceRGB" {
		t.Errorf("ColorSpace = %q", cs)
	}
	if l, _ := d.GetInt("Length"); l != int64(len(jpeg)) {
		t.Errorf("Length = %d, want %d", l, len(jpeg))
	}
	for _, key := range []string{"SMask", "DecodeParms"} {
		if _, ok := d.KV[key]; ok {
			t.Errorf("%s survived replacement", key)
		}
	}
	if !doc.IsDirty(raw.ObjectRef{Num: 4}) {
		t.Error("replaced object not marked dirty")
	}
}

func TestReplaceImageGray(t *testing.T) {
	doc := imageDoc()
	err := ReplaceImage(doc, Replacement{
		Ref: raw.ObjectRef{Num: 4}, JPEG: []byte{1}, Width: 1, Height: 1, Gray: true,
	})
	if err != nil {
		t.Fatalf("ReplaceImage failed: %v", err)
	}
	stm, _ := doc.ResolveStream(raw.Ref(4, 0))
	if cs, _ := stm.Dict.GetName("ColorSpace"); cs != "DeviceGray" {
		t.Errorf("ColorSpace = %q", cs)
	}
}

func TestReplaceImageRejectsNonImage(t *testing.T) {
	doc := minimalDoc()
	err := ReplaceImage(doc, Replacement{Ref: raw.ObjectRef{Num: 3}})
	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("err = %v, want ErrNotAnImage", err)
	}
	err = ReplaceImage(doc, Replacement{Ref: raw.ObjectRef{Num: 99}})
	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("missing object: err = %v, want ErrNotAnImage", err)
	}
}
