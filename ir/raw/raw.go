package raw

import (
	"context"
	"fmt"
	"io"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Keys() []Name
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (undecoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a PDF boolean.
type Boolean interface {
	Object
	Value() bool
}

// Null represents the PDF null object.
type Null interface{ Object }

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// DocumentMetadata contains common PDF info fields.
type DocumentMetadata struct {
	Producer string
	Creator  string
	Title    string
	Author   string
	Subject  string
}

// Document is the root container for raw PDF objects.
//
// Beside the live object table it remembers, per object, the exact byte
// span the object occupied in the source file. The writer emits those
// spans verbatim for every object that was not replaced, which is what
// keeps non-image objects byte-identical across a round trip.
type Document struct {
	Objects  map[ObjectRef]Object
	Trailer  Dictionary
	Version  string // e.g., "1.7"
	Metadata DocumentMetadata

	original map[ObjectRef][]byte
	dirty    map[ObjectRef]struct{}
}

// NewDocument returns an empty document with initialized tables.
func NewDocument() *Document {
	return &Document{
		Objects:  make(map[ObjectRef]Object),
		original: make(map[ObjectRef][]byte),
		dirty:    make(map[ObjectRef]struct{}),
	}
}

// SetOriginal records the source serialization of an object
// ("N G obj ... endobj" inclusive).
func (d *Document) SetOriginal(ref ObjectRef, data []byte) {
	if d.original == nil {
		d.original = make(map[ObjectRef][]byte)
	}
	d.original[ref] = data
}

// Original returns the recorded source bytes of an object, if any.
// Objects that came out of an object stream have no standalone source
// serialization and return false.
func (d *Document) Original(ref ObjectRef) ([]byte, bool) {
	b, ok := d.original[ref]
	return b, ok
}

// MarkDirty flags an object as mutated so the writer re-serializes it
// instead of copying its source bytes.
func (d *Document) MarkDirty(ref ObjectRef) {
	if d.dirty == nil {
		d.dirty = make(map[ObjectRef]struct{})
	}
	d.dirty[ref] = struct{}{}
}

// IsDirty reports whether an object was mutated since parsing.
func (d *Document) IsDirty(ref ObjectRef) bool {
	_, ok := d.dirty[ref]
	return ok
}

// maxResolveDepth bounds reference chains so a cyclic document cannot
// hang resolution.
const maxResolveDepth = 32

// Resolve follows indirect references until a direct object is reached.
// A dangling reference resolves to NullObj, matching viewer behavior.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < maxResolveDepth; i++ {
		ref, ok := obj.(Reference)
		if !ok {
			return obj
		}
		next, ok := d.Objects[ref.Ref()]
		if !ok {
			// generation mismatches are common in repaired files
			found := false
			for r, o := range d.Objects {
				if r.Num == ref.Ref().Num {
					next, found = o, true
					break
				}
			}
			if !found {
				return NullObj{}
			}
		}
		obj = next
	}
	return NullObj{}
}

// ResolveDict resolves obj and returns it as a dictionary. Streams also
// answer through their dictionary, since many entries (ColorSpace,
// SMask) may point at either form.
func (d *Document) ResolveDict(obj Object) (*DictObj, bool) {
	switch v := d.Resolve(obj).(type) {
	case *DictObj:
		return v, true
	case *StreamObj:
		return v.Dict, true
	}
	return nil, false
}

// ResolveStream resolves obj and returns it as a stream.
func (d *Document) ResolveStream(obj Object) (*StreamObj, bool) {
	s, ok := d.Resolve(obj).(*StreamObj)
	return s, ok
}

// MaxObjectNum returns the highest object number in the table.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Parser converts bytes into a raw.Document.
type Parser interface {
	Parse(ctx context.Context, r io.ReaderAt) (*Document, error)
}
