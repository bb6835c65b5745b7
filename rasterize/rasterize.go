// Package rasterize regenerates a PDF by rendering each page to a
// bitmap and wrapping the result in a fresh single-image page. It is
// the fallback path for documents whose images cannot be rewritten in
// place.
package rasterize

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gen2brain/go-fitz"

	"github.com/omshejul/pdftools/imaging"
	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/writer"
)

// ErrRenderFailed wraps renderer errors.
var ErrRenderFailed = errors.New("page rendering failed")

// Options controls rendering resolution and JPEG quality.
type Options struct {
	DPI     float64 // render resolution, default 150
	Quality float64 // JPEG quality 0..1, default 0.75
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.DPI <= 0 {
		out.DPI = 150
	}
	if out.Quality <= 0 {
		out.Quality = 0.75
	}
	return out
}

// Rasterize renders every page of src at opts.DPI and writes a new PDF
// where each page is a single full-page JPEG. All structure of the
// source document other than page count and page size is discarded.
func Rasterize(ctx context.Context, src []byte, out io.Writer, opts Options) error {
	o := opts.withDefaults()

	doc, err := fitz.NewFromMemory(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	defer doc.Close()

	type page struct {
		jpeg   []byte
		width  int
		height int
	}
	pages := make([]page, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(i, o.DPI)
		if err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrRenderFailed, i+1, err)
		}
		data, err := imaging.EncodeJPEG(img, o.Quality)
		if err != nil {
			return fmt.Errorf("%w: page %d: %v", ErrRenderFailed, i+1, err)
		}
		b := img.Bounds()
		pages = append(pages, page{jpeg: data, width: b.Dx(), height: b.Dy()})
	}

	// Assemble: catalog, pages node, then per page an image XObject,
	// a content stream and the page dictionary.
	rebuilt := raw.NewDocument()
	rebuilt.Version = "1.7"
	next := 1
	alloc := func(obj raw.Object) raw.ObjectRef {
		ref := raw.ObjectRef{Num: next}
		next++
		rebuilt.Objects[ref] = obj
		return ref
	}

	catalogRef := raw.ObjectRef{Num: next}
	next++
	pagesRef := raw.ObjectRef{Num: next}
	next++

	kids := raw.NewArray()
	for _, p := range pages {
		// Page box in points at the render DPI.
		wPt := float64(p.width) * 72 / o.DPI
		hPt := float64(p.height) * 72 / o.DPI

		imgDict := raw.Dict()
		imgDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("XObject"))
		imgDict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Image"))
		imgDict.Set(raw.NameLiteral("Width"), raw.NumberInt(int64(p.width)))
		imgDict.Set(raw.NameLiteral("Height"), raw.NumberInt(int64(p.height)))
		imgDict.Set(raw.NameLiteral("ColorSpace"), raw.NameLiteral("DeviceRGB"))
		imgDict.Set(raw.NameLiteral("BitsPerComponent"), raw.NumberInt(8))
		imgDict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("DCTDecode"))
		imgDict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(p.jpeg))))
		imgRef := alloc(raw.NewStream(imgDict, p.jpeg))

		content := []byte(fmt.Sprintf("q %s 0 0 %s 0 0 cm /Im0 Do Q", formatPt(wPt), formatPt(hPt)))
		contentDict := raw.Dict()
		contentDict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(content))))
		contentRef := alloc(raw.NewStream(contentDict, content))

		xobjDict := raw.Dict()
		xobjDict.Set(raw.NameLiteral("Im0"), raw.Ref(imgRef.Num, imgRef.Gen))
		resDict := raw.Dict()
		resDict.Set(raw.NameLiteral("XObject"), xobjDict)

		pageDict := raw.Dict()
		pageDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
		pageDict.Set(raw.NameLiteral("Parent"), raw.Ref(pagesRef.Num, pagesRef.Gen))
		pageDict.Set(raw.NameLiteral("MediaBox"), raw.NewArray(
			raw.NumberInt(0), raw.NumberInt(0),
			raw.NumberFloat(wPt), raw.NumberFloat(hPt)))
		pageDict.Set(raw.NameLiteral("Resources"), resDict)
		pageDict.Set(raw.NameLiteral("Contents"), raw.Ref(contentRef.Num, contentRef.Gen))
		pageRef := alloc(pageDict)
		kids.Append(raw.Ref(pageRef.Num, pageRef.Gen))
	}

	pagesDict := raw.Dict()
	pagesDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pagesDict.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(pages))))
	pagesDict.Set(raw.NameLiteral("Kids"), kids)
	rebuilt.Objects[pagesRef] = pagesDict

	catalogDict := raw.Dict()
	catalogDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalogDict.Set(raw.NameLiteral("Pages"), raw.Ref(pagesRef.Num, pagesRef.Gen))
	rebuilt.Objects[catalogRef] = catalogDict

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(catalogRef.Num, catalogRef.Gen))
	rebuilt.Trailer = trailer

	return writer.Serialize(rebuilt, out)
}

// Image instructions keep two decimals; more precision bloats content
// streams for no visible gain.
func formatPt(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// PageCount reports how many pages the renderer sees, used to sanity
// check fallback output against the source.
func PageCount(src []byte) (int, error) {
	doc, err := fitz.NewFromMemory(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}
