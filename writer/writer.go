// Package writer assembles a complete PDF file from a raw.Document.
//
// Objects the caller never touched are copied from their recorded
// source bytes so they survive the round trip byte-identical; only
// replaced objects, and objects that lived inside object streams, are
// re-serialized. The cross-reference table and trailer are always
// rebuilt.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/omshejul/pdftools/ir/raw"
)

// ErrSerializationFailed wraps any failure while producing output.
var ErrSerializationFailed = errors.New("serialization failed")

// Serialize writes doc to out as a classic cross-reference PDF.
// Object stream and xref stream containers are dropped; their former
// members are written as standalone objects.
func Serialize(doc *raw.Document, out io.Writer) error {
	var buf bytes.Buffer
	buf.WriteString("%PDF-" + headerVersion(doc) + "\n")
	// Binary marker comment so transfer tools treat the file as binary.
	buf.WriteString("%\xE2\xE3\xCF\xD3\n")

	ordered := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		if isContainer(doc.Objects[ref]) {
			continue
		}
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Num < ordered[j].Num })

	entries := make(map[int]xrefEntry, len(ordered))
	maxNum := 0
	for _, ref := range ordered {
		entries[ref.Num] = xrefEntry{offset: int64(buf.Len()), gen: ref.Gen}
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
		if src, ok := doc.Original(ref); ok && !doc.IsDirty(ref) && len(src) > 0 {
			buf.Write(src)
			if src[len(src)-1] != '\n' && src[len(src)-1] != '\r' {
				buf.WriteByte('\n')
			}
			continue
		}
		serialized, err := SerializeObject(ref, doc.Objects[ref])
		if err != nil {
			return fmt.Errorf("%w: object %s: %v", ErrSerializationFailed, ref, err)
		}
		buf.Write(serialized)
	}

	xrefOffset := buf.Len()
	writeXref(&buf, entries, maxNum)
	writeTrailer(&buf, doc, maxNum+1, xrefOffset)

	if _, err := out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

func headerVersion(doc *raw.Document) string {
	if doc.Version != "" {
		return doc.Version
	}
	return "1.7"
}

// isContainer reports whether obj is an object stream or xref stream,
// neither of which survives rewriting to a classic layout.
func isContainer(obj raw.Object) bool {
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return false
	}
	typ, _ := stm.Dict.GetName("Type")
	return typ == "ObjStm" || typ == "XRef"
}

// xrefEntry pairs an object's byte offset with its generation so the
// table row matches the "N G obj" header it points at.
type xrefEntry struct {
	offset int64
	gen    int
}

func writeXref(buf *bytes.Buffer, entries map[int]xrefEntry, maxNum int) {
	fmt.Fprintf(buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if e, ok := entries[i]; ok {
			fmt.Fprintf(buf, "%010d %05d n \n", e.offset, e.gen)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
}

// writeTrailer emits a fresh trailer carrying over Root, Info and ID
// from the source trailer. Prev and XRefStm must not survive: the
// output has exactly one xref section.
func writeTrailer(buf *bytes.Buffer, doc *raw.Document, size, xrefOffset int) {
	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(size)))
	if doc.Trailer != nil {
		for _, key := range []string{"Root", "Info", "ID"} {
			if v, ok := doc.Trailer.Get(raw.NameLiteral(key)); ok {
				trailer.Set(raw.NameLiteral(key), v)
			}
		}
	}
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(trailer))
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
}

// SerializeObject renders one indirect object, "N G obj" through
// "endobj".
func SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	if obj == nil {
		return nil, errors.New("nil object")
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return serializeName(v.Value())
	case raw.NumberObj:
		if v.IsInteger() {
			return []byte(fmt.Sprintf("%d", v.Int()))
		}
		return []byte(formatFloat(v.Float()))
	case raw.BoolObj:
		if v.Value() {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		return serializeString(v)
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		keys := make([]string, 0, len(v.KV))
		for k := range v.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.Write(serializeName(k))
			b.WriteByte(' ')
			b.Write(serializePrimitive(v.KV[k]))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *raw.StreamObj:
		var b bytes.Buffer
		b.Write(serializePrimitive(v.Dict))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.Ref().Num, v.Ref().Gen))
	default:
		return []byte("null")
	}
}

// formatFloat trims trailing zeros; PDF readers reject exponents.
func formatFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = trimRight(s, '0')
	return trimRight(s, '.')
}

func trimRight(s string, c byte) string {
	for len(s) > 0 && s[len(s)-1] == c {
		s = s[:len(s)-1]
	}
	return s
}

func serializeName(name string) []byte {
	var b bytes.Buffer
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c > '~' || c == '#' || isDelimiter(c) {
			fmt.Fprintf(&b, "#%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.Bytes()
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func serializeString(s raw.StringObj) []byte {
	if s.IsHex() {
		var b bytes.Buffer
		b.WriteByte('<')
		for _, c := range s.Value() {
			fmt.Fprintf(&b, "%02X", c)
		}
		b.WriteByte('>')
		return b.Bytes()
	}
	var b bytes.Buffer
	b.WriteByte('(')
	for _, c := range s.Value() {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}
