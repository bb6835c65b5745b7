// Package extractor locates image XObjects referenced from the page
// tree without touching content streams.
package extractor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/omshejul/pdftools/ir/raw"
)

var (
	// ErrMalformedPageTree marks a page tree that cannot be walked.
	ErrMalformedPageTree = errors.New("malformed page tree")
	// ErrMalformedResources marks a Resources entry of the wrong type.
	ErrMalformedResources = errors.New("malformed resources dictionary")
)

const maxTreeDepth = 64

// ImageRef describes one image XObject and every page it appears on.
// A shared image yields one ImageRef with multiple page numbers.
type ImageRef struct {
	Ref              raw.ObjectRef
	Pages            []int // 1-based
	Name             string
	Width            int
	Height           int
	BitsPerComponent int
	ColorSpace       raw.Object
	Filters          []string
	HasSMask         bool
	IsMask           bool
	Stream           *raw.StreamObj
}

// Images walks the page tree and collects every image XObject reachable
// through page or form XObject resources. Pages without images
// contribute nothing; a document with no images returns an empty slice.
func Images(doc *raw.Document) ([]ImageRef, error) {
	if doc.Trailer == nil {
		return nil, fmt.Errorf("%w: missing trailer", ErrMalformedPageTree)
	}
	rootObj, ok := doc.Trailer.Get(raw.NameLiteral("Root"))
	if !ok {
		return nil, fmt.Errorf("%w: trailer has no Root", ErrMalformedPageTree)
	}
	catalog, ok := doc.ResolveDict(rootObj)
	if !ok {
		return nil, fmt.Errorf("%w: missing catalog", ErrMalformedPageTree)
	}
	pagesRoot, ok := catalog.KV["Pages"]
	if !ok {
		return nil, fmt.Errorf("%w: catalog has no Pages", ErrMalformedPageTree)
	}

	w := &walker{
		doc:   doc,
		found: make(map[raw.ObjectRef]*ImageRef),
		seen:  make(map[raw.ObjectRef]bool),
	}
	if err := w.walkNode(pagesRoot, nil, 0); err != nil {
		return nil, err
	}

	// Results keep discovery order: page by page, resource names sorted
	// within a page. A shared image stays at its first appearance.
	refs := make([]ImageRef, 0, len(w.order))
	for _, key := range w.order {
		refs = append(refs, *w.found[key])
	}
	return refs, nil
}

type walker struct {
	doc   *raw.Document
	page  int
	order []raw.ObjectRef
	found map[raw.ObjectRef]*ImageRef
	seen  map[raw.ObjectRef]bool // cycle guard for tree nodes and forms
}

// walkNode descends a Pages/Page node. inherited carries the nearest
// ancestor Resources; a page without its own Resources uses it.
func (w *walker) walkNode(node raw.Object, inherited *raw.DictObj, depth int) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: nesting exceeds %d", ErrMalformedPageTree, maxTreeDepth)
	}
	if ref, ok := node.(raw.Reference); ok {
		if w.seen[ref.Ref()] {
			return nil
		}
		w.seen[ref.Ref()] = true
	}
	dict, ok := w.doc.ResolveDict(node)
	if !ok {
		return fmt.Errorf("%w: node is not a dictionary", ErrMalformedPageTree)
	}

	if resObj, has := dict.KV["Resources"]; has {
		res, ok := w.doc.ResolveDict(resObj)
		if !ok {
			if _, isNull := w.doc.Resolve(resObj).(raw.Null); !isNull {
				return fmt.Errorf("%w: Resources is not a dictionary", ErrMalformedResources)
			}
		} else {
			inherited = res
		}
	}

	kids, hasKids := w.doc.Resolve(dict.KV["Kids"]).(*raw.ArrayObj)
	typ, _ := dict.GetName("Type")
	// Some writers omit Type on interior nodes. Kids means Pages.
	if typ == "Pages" || (typ == "" && hasKids) {
		if !hasKids {
			return fmt.Errorf("%w: Pages node without Kids array", ErrMalformedPageTree)
		}
		for _, kid := range kids.Items {
			if err := w.walkNode(kid, inherited, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	w.page++
	return w.scanResources(inherited, w.page, 0)
}

// scanResources records image XObjects from one resources dictionary
// and recurses into form XObjects, which carry their own resources.
func (w *walker) scanResources(res *raw.DictObj, page, depth int) error {
	if res == nil {
		return nil
	}
	if depth > maxTreeDepth {
		return fmt.Errorf("%w: form nesting exceeds %d", ErrMalformedResources, maxTreeDepth)
	}
	xobjects, ok := w.doc.ResolveDict(res.KV["XObject"])
	if !ok {
		return nil
	}
	names := make([]string, 0, len(xobjects.KV))
	for name := range xobjects.KV {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		obj := xobjects.KV[name]
		ref, ok := obj.(raw.Reference)
		if !ok {
			// Direct XObject streams cannot be replaced in place;
			// leave them alone.
			continue
		}
		stm, ok := w.doc.ResolveStream(obj)
		if !ok {
			continue
		}
		subtype, _ := stm.Dict.GetName("Subtype")
		switch subtype {
		case "Image":
			w.recordImage(ref.Ref(), name, stm, page)
		case "Form":
			if w.seen[ref.Ref()] {
				continue
			}
			w.seen[ref.Ref()] = true
			if formRes, ok := w.doc.ResolveDict(stm.Dict.KV["Resources"]); ok {
				if err := w.scanResources(formRes, page, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *walker) recordImage(key raw.ObjectRef, name string, stm *raw.StreamObj, page int) {
	if img, ok := w.found[key]; ok {
		if img.Pages[len(img.Pages)-1] != page {
			img.Pages = append(img.Pages, page)
		}
		return
	}
	dict := stm.Dict
	width, _ := dict.GetInt("Width")
	height, _ := dict.GetInt("Height")
	bpc, _ := dict.GetInt("BitsPerComponent")
	isMask := false
	if m, ok := w.doc.Resolve(dict.KV["ImageMask"]).(raw.Boolean); ok {
		isMask = m.Value()
	}
	_, hasSMask := dict.KV["SMask"]
	w.order = append(w.order, key)
	w.found[key] = &ImageRef{
		Ref:              key,
		Pages:            []int{page},
		Name:             name,
		Width:            int(width),
		Height:           int(height),
		BitsPerComponent: int(bpc),
		ColorSpace:       dict.KV["ColorSpace"],
		Filters:          filterNames(w.doc, dict),
		HasSMask:         hasSMask,
		IsMask:           isMask,
		Stream:           stm,
	}
}

func filterNames(doc *raw.Document, dict *raw.DictObj) []string {
	switch f := doc.Resolve(dict.KV["Filter"]).(type) {
	case raw.Name:
		return []string{f.Value()}
	case *raw.ArrayObj:
		names := make([]string, 0, len(f.Items))
		for _, item := range f.Items {
			if n, ok := doc.Resolve(item).(raw.Name); ok {
				names = append(names, n.Value())
			}
		}
		return names
	}
	return nil
}
