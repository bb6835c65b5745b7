package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/omshejul/pdftools/filters"
	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/recovery"
	"github.com/omshejul/pdftools/scanner"
	"github.com/omshejul/pdftools/xref"
)

// objectLoader reads indirect objects through the xref table. Each
// top-level object load also records the exact source byte span so the
// writer can round-trip untouched objects verbatim.
type objectLoader struct {
	reader   io.ReaderAt
	table    xref.Table
	limits   Limits
	recovery recovery.Strategy
	original map[raw.ObjectRef][]byte
	objstm   map[int]map[int]raw.Object
}

func newObjectLoader(r io.ReaderAt, table xref.Table, limits Limits, rec recovery.Strategy) *objectLoader {
	return &objectLoader{
		reader:   r,
		table:    table,
		limits:   limits,
		recovery: rec,
		original: make(map[raw.ObjectRef][]byte),
	}
}

func (o *objectLoader) originalBytes(ref raw.ObjectRef) ([]byte, bool) {
	b, ok := o.original[ref]
	return b, ok
}

func (o *objectLoader) load(ctx context.Context, objNum int) (raw.ObjectRef, raw.Object, error) {
	if offset, gen, found := o.table.Lookup(objNum); found {
		ref := raw.ObjectRef{Num: objNum, Gen: gen}
		obj, err := o.loadAtOffset(ctx, objNum, offset, gen)
		return ref, obj, err
	}
	if stmNum, _, ok := o.table.ObjStream(objNum); ok {
		ref := raw.ObjectRef{Num: objNum, Gen: 0}
		obj, err := o.loadFromObjectStream(ctx, objNum, stmNum)
		return ref, obj, err
	}
	return raw.ObjectRef{}, nil, errors.New("object not found in xref")
}

func (o *objectLoader) newScanner() scanner.Scanner {
	return scanner.New(o.reader, scanner.Config{
		Recovery:        o.recovery,
		MaxStringLength: o.limits.MaxStringLength,
		MaxStreamLength: o.limits.MaxStreamLength,
		MaxArrayDepth:   o.limits.MaxIndirectDepth,
		MaxDictDepth:    o.limits.MaxIndirectDepth,
	})
}

func (o *objectLoader) loadAtOffset(ctx context.Context, objNum int, offset int64, gen int) (raw.Object, error) {
	// A fresh scanner per load keeps cursor state simple; windowed
	// buffering makes this cheap.
	s := o.newScanner()
	obj, end, err := o.scanObject(ctx, s, objNum, offset, gen)
	if err != nil {
		return nil, err
	}
	ref := raw.ObjectRef{Num: objNum, Gen: gen}
	if span := o.readSpan(offset, end); span != nil {
		o.original[ref] = span
	}
	return obj, nil
}

// scanObject parses "N G obj ... endobj" at offset, returning the
// object and the byte position just past endobj.
func (o *objectLoader) scanObject(ctx context.Context, s scanner.Scanner, objNum int, offset int64, gen int) (raw.Object, int64, error) {
	if err := s.SeekTo(offset); err != nil {
		return nil, 0, err
	}
	tr := newTokenReader(s)

	tokNum, err := tr.next()
	if err != nil {
		return nil, 0, err
	}
	if tokNum.Type != scanner.TokenNumber || !tokNum.IsInt || int(tokNum.Int) != objNum {
		return nil, 0, errors.New("object header number mismatch")
	}
	tokGen, err := tr.next()
	if err != nil {
		return nil, 0, err
	}
	if tokGen.Type != scanner.TokenNumber || !tokGen.IsInt {
		return nil, 0, errors.New("object header generation mismatch")
	}
	tokObj, err := tr.next()
	if err != nil {
		return nil, 0, err
	}
	if tokObj.Type != scanner.TokenKeyword || tokObj.Str != "obj" {
		return nil, 0, errors.New("expected obj keyword")
	}

	obj, err := parseObject(tr, o.recovery, objNum, gen)
	if err != nil {
		return nil, 0, err
	}

	if dict, ok := obj.(*raw.DictObj); ok {
		hint, err := o.resolveStreamLength(ctx, dict)
		if err != nil {
			return nil, 0, err
		}
		if hint > 0 {
			tr.setStreamLengthHint(hint)
		} else {
			tr.clearStreamLengthHint()
		}
		if streamTok, err := tr.next(); err == nil && streamTok.Type == scanner.TokenStream {
			obj = raw.NewStream(dict, streamTok.Bytes)
		} else if err == nil {
			tr.unread(streamTok)
		}
	}

	end := s.Position()
	if tok, err := tr.next(); err == nil {
		if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" {
			end = s.Position()
		} else {
			tr.unread(tok)
		}
	}
	return obj, end, nil
}

func (o *objectLoader) readSpan(start, end int64) []byte {
	if end <= start {
		return nil
	}
	buf := make([]byte, end-start)
	n, err := o.reader.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil
	}
	if int64(n) != end-start {
		return nil
	}
	return buf
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, objNum, objStreamNum int) (raw.Object, error) {
	if o.objstm == nil {
		o.objstm = make(map[int]map[int]raw.Object)
	}
	if objs, ok := o.objstm[objStreamNum]; ok {
		if obj, ok := objs[objNum]; ok {
			return obj, nil
		}
		return nil, fmt.Errorf("object %d not found in object stream %d", objNum, objStreamNum)
	}

	offset, gen, ok := o.table.Lookup(objStreamNum)
	if !ok {
		return nil, errors.New("object stream entry missing from xref")
	}
	s := o.newScanner()
	streamObj, _, err := o.scanObject(ctx, s, objStreamNum, offset, gen)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, errors.New("object stream is not a stream")
	}

	data := st.RawData()
	names, params := filters.ExtractFilters(nil, st.Dict)
	if len(names) > 0 {
		pipeline := filters.NewDefaultPipeline(filters.Limits{MaxDecompressedSize: o.limits.MaxDecompressedSize})
		data, err = pipeline.Decode(ctx, data, names, params)
		if err != nil {
			return nil, fmt.Errorf("decode object stream %d: %w", objStreamNum, err)
		}
	}

	nObj, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	if first < 0 || first > int64(len(data)) {
		return nil, errors.New("object stream First exceeds data length")
	}

	header := data[:first]
	body := data[first:]

	hs := scanner.New(bytes.NewReader(header), scanner.Config{})
	pairs := make([]int, 0, nObj*2)
	for int64(len(pairs)) < nObj*2 {
		tok, err := hs.Next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", objStreamNum, err)
		}
		if tok.Type == scanner.TokenNumber && tok.IsInt {
			pairs = append(pairs, int(tok.Int))
		}
	}

	objs := make(map[int]raw.Object, nObj)
	for i := 0; int64(i) < nObj; i++ {
		num := pairs[2*i]
		off := pairs[2*i+1]
		if off < 0 || off > len(body) {
			return nil, errors.New("object stream member offset out of range")
		}
		bs := scanner.New(bytes.NewReader(body[off:]), scanner.Config{Recovery: o.recovery})
		obj, err := parseObject(newTokenReader(bs), o.recovery, num, 0)
		if err != nil {
			return nil, fmt.Errorf("object stream member %d: %w", num, err)
		}
		objs[num] = obj
	}
	o.objstm[objStreamNum] = objs

	if obj, ok := objs[objNum]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object %d not found in object stream %d", objNum, objStreamNum)
}

func (o *objectLoader) resolveStreamLength(ctx context.Context, dict *raw.DictObj) (int64, error) {
	val, ok := dict.Get(raw.NameLiteral("Length"))
	if !ok {
		return 0, nil
	}
	switch v := val.(type) {
	case raw.NumberObj:
		return v.Int(), nil
	case raw.RefObj:
		offset, gen, ok := o.table.Lookup(v.R.Num)
		if !ok {
			return 0, nil
		}
		// A temporary scanner keeps the caller's cursor intact.
		s := o.newScanner()
		obj, _, err := o.scanObject(ctx, s, v.R.Num, offset, gen)
		if err != nil {
			return 0, err
		}
		if num, ok := obj.(raw.NumberObj); ok {
			return num.Int(), nil
		}
		return 0, fmt.Errorf("length reference %v is not numeric", v.R)
	default:
		return 0, nil
	}
}

// tokenReader wraps a scanner with single-token pushback and stream
// length hinting.
type tokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func newTokenReader(s scanner.Scanner) *tokenReader { return &tokenReader{s: s} }

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

func (r *tokenReader) setStreamLengthHint(n int64) {
	if n > 0 {
		r.s.SetNextStreamLength(n)
	}
}

func (r *tokenReader) clearStreamLengthHint() { r.s.SetNextStreamLength(-1) }

func parseObject(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return raw.NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return raw.NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return raw.BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case scanner.TokenArray:
		return parseArray(tr, rec, objNum, gen)
	case scanner.TokenDict:
		return parseDict(tr, rec, objNum, gen)
	case scanner.TokenKeyword:
		if tok.Str == "endobj" {
			return nil, errors.New("unexpected endobj")
		}
	}
	return nil, fmt.Errorf("unexpected token %q", tok.Str)
}

func parseArray(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		tr.unread(tok)
		item, err := parseObject(tr, rec, objNum, gen)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *tokenReader, rec recovery.Strategy, objNum, gen int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := tr.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			// A missing ">>" before endobj is a common producer bug.
			if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" && rec != nil {
				err := errors.New("unterminated dictionary")
				action := rec.OnError(err, recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "parser"})
				if action == recovery.ActionFix || action == recovery.ActionWarn {
					tr.unread(tok)
					return d, nil
				}
				return nil, err
			}
			return nil, errors.New("expected name key in dictionary")
		}
		key := tok.Str
		val, err := parseObject(tr, rec, objNum, gen)
		if err != nil {
			return nil, err
		}
		d.Set(raw.NameObj{Val: key}, val)
	}
}
