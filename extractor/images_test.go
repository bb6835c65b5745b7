package extractor

import (
	"errors"
	"testing"

	"github.com/omshejul/pdftools/ir/raw"
)

// testDoc wires a document object graph by hand; extraction only needs
// the object table and trailer, not source bytes.
type testDoc struct {
	doc  *raw.Document
	next int
}

func newTestDoc() *testDoc {
	return &testDoc{doc: raw.NewDocument(), next: 1}
}

func (d *testDoc) add(obj raw.Object) raw.RefObj {
	ref := raw.Ref(d.next, 0)
	d.doc.Objects[ref.Ref()] = obj
	d.next++
	return ref
}

func dict(kv map[string]raw.Object) *raw.DictObj {
	d := raw.Dict()
	for k, v := range kv {
		d.Set(raw.NameLiteral(k), v)
	}
	return d
}

func imageStream(width, height int) *raw.StreamObj {
	return raw.NewStream(dict(map[string]raw.Object{
		"Type":             raw.NameLiteral("XObject"),
		"Subtype":          raw.NameLiteral("Image"),
		"Width":            raw.NumberInt(int64(width)),
		"Height":           raw.NumberInt(int64(height)),
		"ColorSpace":       raw.NameLiteral("DeviceRGB"),
		"BitsPerComponent": raw.NumberInt(8),
	}), make([]byte, width*height*3))
}

func (d *testDoc) finish(pageRefs ...raw.RefObj) {
	kids := raw.NewArray()
	for _, r := range pageRefs {
		kids.Append(r)
	}
	pagesRef := d.add(dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Pages"),
		"Kids":  kids,
		"Count": raw.NumberInt(int64(len(pageRefs))),
	}))
	catalogRef := d.add(dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Catalog"),
		"Pages": pagesRef,
	}))
	// Pages point back at their parent in real files; the walker does
	// not need it, so tests skip Parent.
	d.doc.Trailer = dict(map[string]raw.Object{"Root": catalogRef})
}

func TestImagesBasic(t *testing.T) {
	d := newTestDoc()
	imgRef := d.add(imageStream(64, 48))
	page := d.add(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
		"Resources": dict(map[string]raw.Object{
			"XObject": dict(map[string]raw.Object{"Im1": imgRef}),
		}),
	}))
	d.finish(page)

	images, err := Images(d.doc)
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
	img := images[0]
	if img.Name != "Im1" || img.Width != 64 || img.Height != 48 || img.BitsPerComponent != 8 {
		t.Errorf("image = %+v", img)
	}
	if len(img.Pages) != 1 || img.Pages[0] != 1 {
		t.Errorf("pages = %v", img.Pages)
	}
}

func TestImagesSharedAcrossPages(t *testing.T) {
	d := newTestDoc()
	imgRef := d.add(imageStream(10, 10))
	res := dict(map[string]raw.Object{
		"XObject": dict(map[string]raw.Object{"Logo": imgRef}),
	})
	page1 := d.add(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("Page"), "Resources": res,
	}))
	page2 := d.add(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("Page"), "Resources": res,
	}))
	d.finish(page1, page2)

	images, err := Images(d.doc)
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("shared image reported %d times", len(images))
	}
	if got := images[0].Pages; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("pages = %v", got)
	}
}

func TestImagesInheritedResources(t *testing.T) {
	// The page has no Resources of its own; it inherits the XObject
	// dictionary from the Pages ancestor.
	d := newTestDoc()
	imgRef := d.add(imageStream(5, 5))
	page := d.add(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
	}))
	pagesRef := d.add(dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Pages"),
		"Kids":  raw.NewArray(page),
		"Count": raw.NumberInt(1),
		"Resources": dict(map[string]raw.Object{
			"XObject": dict(map[string]raw.Object{"Im1": imgRef}),
		}),
	}))
	catalogRef := d.add(dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Catalog"),
		"Pages": pagesRef,
	}))
	d.doc.Trailer = dict(map[string]raw.Object{"Root": catalogRef})

	images, err := Images(d.doc)
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
}

func TestImagesInsideFormXObject(t *testing.T) {
	d := newTestDoc()
	imgRef := d.add(imageStream(7, 7))
	formRef := d.add(raw.NewStream(dict(map[string]raw.Object{
		"Type":    raw.NameLiteral("XObject"),
		"Subtype": raw.NameLiteral("Form"),
		"Resources": dict(map[string]raw.Object{
			"XObject": dict(map[string]raw.Object{"Im1": imgRef}),
		}),
	}), []byte("/Im1 Do")))
	page := d.add(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("Page"),
		"Resources": dict(map[string]raw.Object{
			"XObject": dict(map[string]raw.Object{"Fm1": formRef}),
		}),
	}))
	d.finish(page)

	images, err := Images(d.doc)
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("got %d images, want 1", len(images))
	}
	if images[0].Width != 7 {
		t.Errorf("image = %+v", images[0])
	}
}

func TestImagesDocumentOrder(t *testing.T) {
	// Page order decides the result order, even when a later page's
	// image has a lower object number.
	d := newTestDoc()
	page1 := d.add(dict(map[string]raw.Object{"Type": raw.NameLiteral("Page")}))
	page2 := d.add(dict(map[string]raw.Object{"Type": raw.NameLiteral("Page")}))
	firstImg := d.add(imageStream(20, 20))
	secondImg := d.add(imageStream(30, 30))
	d.doc.Objects[page2.Ref()].(*raw.DictObj).Set(raw.NameLiteral("Resources"),
		dict(map[string]raw.Object{
			"XObject": dict(map[string]raw.Object{"Im1": firstImg}),
		}))
	d.doc.Objects[page1.Ref()].(*raw.DictObj).Set(raw.NameLiteral("Resources"),
		dict(map[string]raw.Object{
			"XObject": dict(map[string]raw.Object{"Im1": secondImg}),
		}))
	d.finish(page1, page2)

	images, err := Images(d.doc)
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2", len(images))
	}
	if images[0].Ref != secondImg.Ref() || images[0].Pages[0] != 1 {
		t.Errorf("first result = %v on pages %v, want page 1's image", images[0].Ref, images[0].Pages)
	}
	if images[1].Ref != firstImg.Ref() || images[1].Pages[0] != 2 {
		t.Errorf("second result = %v on pages %v, want page 2's image", images[1].Ref, images[1].Pages)
	}
}

func TestImagesEmptyDocument(t *testing.T) {
	d := newTestDoc()
	page := d.add(dict(map[string]raw.Object{"Type": raw.NameLiteral("Page")}))
	d.finish(page)

	images, err := Images(d.doc)
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("got %d images, want none", len(images))
	}
}

func TestImagesCycleInPageTree(t *testing.T) {
	d := newTestDoc()
	// Pages node whose Kids include itself must terminate.
	pagesRef := raw.Ref(d.next, 0)
	d.add(dict(map[string]raw.Object{
		"Type": raw.NameLiteral("Pages"),
		"Kids": raw.NewArray(pagesRef),
	}))
	catalogRef := d.add(dict(map[string]raw.Object{
		"Type":  raw.NameLiteral("Catalog"),
		"Pages": pagesRef,
	}))
	d.doc.Trailer = dict(map[string]raw.Object{"Root": catalogRef})

	if _, err := Images(d.doc); err != nil {
		t.Fatalf("cyclic tree should terminate cleanly, got %v", err)
	}
}

func TestImagesMalformedTree(t *testing.T) {
	doc := raw.NewDocument()
	doc.Trailer = dict(map[string]raw.Object{})
	if _, err := Images(doc); !errors.Is(err, ErrMalformedPageTree) {
		t.Fatalf("err = %v, want ErrMalformedPageTree", err)
	}
}

func TestImagesMalformedResources(t *testing.T) {
	d := newTestDoc()
	page := d.add(dict(map[string]raw.Object{
		"Type":      raw.NameLiteral("Page"),
		"Resources": raw.NumberInt(42),
	}))
	d.finish(page)

	if _, err := Images(d.doc); !errors.Is(err, ErrMalformedResources) {
		t.Fatalf("err = %v, want ErrMalformedResources", err)
	}
}
