package writer

import (
	"errors"
	"fmt"

	"github.com/omshejul/pdftools/ir/raw"
)

// ErrNotAnImage rejects a replacement target that is not an image
// XObject stream.
var ErrNotAnImage = errors.New("object is not an image xobject")

// Replacement carries the recompressed payload for one image object.
type Replacement struct {
	Ref    raw.ObjectRef
	JPEG   []byte
	Width  int
	Height int
	Gray   bool
}

// ReplaceImage swaps an image XObject's stream for DCT-encoded data
// and rewrites the entries the new encoding invalidates. Every other
// dictionary entry stays as parsed. Soft masks are dropped with the
// original samples, so the replacement renders fully opaque.
func ReplaceImage(doc *raw.Document, rep Replacement) error {
	obj, ok := doc.Objects[rep.Ref]
	if !ok {
		return fmt.Errorf("%w: %s not in document", ErrNotAnImage, rep.Ref)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAnImage, rep.Ref)
	}
	if subtype, _ := stm.Dict.GetName("Subtype"); subtype != "Image" {
		return fmt.Errorf("%w: %s has subtype %q", ErrNotAnImage, rep.Ref, subtype)
	}

	dict := stm.Dict
	dict.Set(raw.NameLiteral("Width"), raw.NumberInt(int64(rep.Width)))
	dict.Set(raw.NameLiteral("Height"), raw.NumberInt(int64(rep.Height)))
	dict.Set(raw.NameLiteral("BitsPerComponent"), raw.NumberInt(8))
	dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("DCTDecode"))
	cs := "DeviceRGB"
	if rep.Gray {
		cs = "DeviceGray"
	}
	dict.Set(raw.NameLiteral("ColorSpace"), raw.NameLiteral(cs))
	for _, key := range []string{"DecodeParms", "DP", "Decode", "SMask", "Mask", "ImageMask"} {
		dict.Delete(raw.NameLiteral(key))
	}
	stm.SetData(rep.JPEG)
	doc.MarkDirty(rep.Ref)
	return nil
}
