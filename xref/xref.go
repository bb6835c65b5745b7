package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/omshejul/pdftools/filters"
	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/recovery"
	"github.com/omshejul/pdftools/scanner"
)

// ErrMalformedXref marks cross-reference data that could not be
// resolved even after repair.
var ErrMalformedXref = errors.New("malformed cross-reference data")

// Table maps object numbers to their location: either a byte offset in
// the file or a slot inside an object stream.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (streamNum, idx int, ok bool)
	Objects() []int
	Trailer() *raw.DictObj
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
}

type ResolverConfig struct {
	// MaxSections bounds Prev chains so a cyclic trailer cannot loop.
	MaxSections int
	Recovery    recovery.Strategy
}

func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = 64
	}
	return &resolver{cfg: cfg}
}

type entry struct {
	offset    int64
	gen       int
	inStream  bool
	streamNum int
	streamIdx int
}

type table struct {
	entries map[int]entry
	trailer *raw.DictObj
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.inStream {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || !e.inStream {
		return 0, 0, false
	}
	return e.streamNum, e.streamIdx, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }

type resolver struct {
	cfg ResolverConfig
}

func (rs *resolver) Resolve(ctx context.Context, r io.ReaderAt) (Table, error) {
	size := readerSize(r)
	t, err := rs.resolve(ctx, r, size)
	if err == nil {
		return t, nil
	}
	if rs.cfg.Recovery != nil {
		action := rs.cfg.Recovery.OnError(err, recovery.Location{Component: "xref"})
		if action == recovery.ActionFix {
			t, repairErr := repair(ctx, r, size)
			if repairErr != nil {
				return nil, fmt.Errorf("%w: %v (repair: %v)", ErrMalformedXref, err, repairErr)
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedXref, err)
}

func (rs *resolver) resolve(ctx context.Context, r io.ReaderAt, size int64) (Table, error) {
	start, err := findStartXref(r, size)
	if err != nil {
		return nil, err
	}

	t := &table{entries: make(map[int]entry)}
	// Object numbers already decided by a newer section; includes freed
	// objects so an older offset cannot resurrect them.
	seen := make(map[int]bool)

	offset := start
	for n := 0; n < rs.cfg.MaxSections && offset > 0; n++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if offset >= size {
			return nil, fmt.Errorf("xref offset out of range: %d", offset)
		}
		next, err := rs.parseSection(ctx, r, offset, t, seen)
		if err != nil {
			return nil, err
		}
		offset = next
	}
	if t.trailer == nil {
		return nil, errors.New("no trailer found")
	}
	if _, ok := t.trailer.Get(raw.NameLiteral("Root")); !ok {
		return nil, errors.New("trailer has no Root")
	}
	return t, nil
}

// parseSection reads one xref section (classic table or xref stream) at
// offset and returns the Prev offset, or 0 when the chain ends.
func (rs *resolver) parseSection(ctx context.Context, r io.ReaderAt, offset int64, t *table, seen map[int]bool) (int64, error) {
	s := scanner.New(r, scanner.Config{Recovery: rs.cfg.Recovery})
	if err := s.SeekTo(offset); err != nil {
		return 0, err
	}
	tok, err := s.Next()
	if err != nil {
		return 0, fmt.Errorf("read xref section at %d: %w", offset, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return rs.parseClassicSection(ctx, r, s, t, seen)
	}
	if tok.Type == scanner.TokenNumber && tok.IsInt {
		return rs.parseStreamSection(ctx, s, int(tok.Int), t, seen)
	}
	return 0, fmt.Errorf("no xref section at offset %d", offset)
}

func (rs *resolver) parseClassicSection(ctx context.Context, r io.ReaderAt, s scanner.Scanner, t *table, seen map[int]bool) (int64, error) {
	for {
		tok, err := s.Next()
		if err != nil {
			return 0, fmt.Errorf("xref subsection: %w", err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return 0, errors.New("invalid xref subsection header")
		}
		startObj := int(tok.Int)
		tok, err = s.Next()
		if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
			return 0, errors.New("invalid xref subsection count")
		}
		count := int(tok.Int)
		for i := 0; i < count; i++ {
			// "NNNNNNNNNN GGGGG n" scans as two numbers and a keyword
			offTok, err := s.Next()
			if err != nil || offTok.Type != scanner.TokenNumber {
				return 0, errors.New("invalid xref entry offset")
			}
			genTok, err := s.Next()
			if err != nil || genTok.Type != scanner.TokenNumber {
				return 0, errors.New("invalid xref entry generation")
			}
			kindTok, err := s.Next()
			if err != nil || kindTok.Type != scanner.TokenKeyword {
				return 0, errors.New("invalid xref entry kind")
			}
			num := startObj + i
			if seen[num] {
				continue
			}
			seen[num] = true
			if kindTok.Str == "n" {
				t.entries[num] = entry{offset: offTok.Int, gen: int(genTok.Int)}
			}
		}
	}

	trailerObj, err := parseNextObject(s)
	if err != nil {
		return 0, fmt.Errorf("parse trailer: %w", err)
	}
	trailer, ok := trailerObj.(*raw.DictObj)
	if !ok {
		return 0, errors.New("trailer is not a dictionary")
	}
	if t.trailer == nil {
		t.trailer = trailer
	}

	// Hybrid files carry a parallel xref stream with the compressed
	// object entries.
	if v, ok := trailer.GetInt("XRefStm"); ok && v > 0 {
		if _, err := rs.parseSection(ctx, r, v, t, seen); err != nil {
			return 0, err
		}
	}
	prev, _ := trailer.GetInt("Prev")
	return prev, nil
}

// parseStreamSection parses an xref stream object whose first token
// (the object number) was already consumed.
func (rs *resolver) parseStreamSection(ctx context.Context, s scanner.Scanner, objNum int, t *table, seen map[int]bool) (int64, error) {
	genTok, err := s.Next()
	if err != nil || genTok.Type != scanner.TokenNumber {
		return 0, errors.New("xref stream: bad object header")
	}
	objTok, err := s.Next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return 0, errors.New("xref stream: expected obj keyword")
	}
	dictObj, err := parseNextObject(s)
	if err != nil {
		return 0, fmt.Errorf("xref stream dict: %w", err)
	}
	dict, ok := dictObj.(*raw.DictObj)
	if !ok {
		return 0, errors.New("xref stream: object is not a dictionary")
	}
	// Length in an xref stream must be direct.
	length, ok := dict.GetInt("Length")
	if !ok {
		return 0, errors.New("xref stream: missing Length")
	}
	s.SetNextStreamLength(length)
	streamTok, err := s.Next()
	if err != nil || streamTok.Type != scanner.TokenStream {
		return 0, errors.New("xref stream: missing stream data")
	}

	data := streamTok.Bytes
	names, params := filters.ExtractFilters(nil, dict)
	if len(names) > 0 {
		pipeline := filters.NewDefaultPipeline(filters.Limits{})
		data, err = pipeline.Decode(ctx, data, names, params)
		if err != nil {
			return 0, fmt.Errorf("xref stream decode: %w", err)
		}
	}

	widths, err := fieldWidths(dict)
	if err != nil {
		return 0, err
	}
	index, err := sectionIndex(dict)
	if err != nil {
		return 0, err
	}

	rowSize := widths[0] + widths[1] + widths[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowSize > len(data) {
				return 0, errors.New("xref stream: truncated entry data")
			}
			f1 := readField(data[pos:pos+widths[0]], 1) // default type 1
			f2 := readField(data[pos+widths[0]:pos+widths[0]+widths[1]], 0)
			f3 := readField(data[pos+widths[0]+widths[1]:pos+rowSize], 0)
			pos += rowSize

			num := start + j
			if seen[num] {
				continue
			}
			seen[num] = true
			switch f1 {
			case 0: // free
			case 1:
				t.entries[num] = entry{offset: f2, gen: int(f3)}
			case 2:
				t.entries[num] = entry{inStream: true, streamNum: int(f2), streamIdx: int(f3)}
			}
		}
	}

	if t.trailer == nil {
		t.trailer = dict
	}
	prev, _ := dict.GetInt("Prev")
	return prev, nil
}

func fieldWidths(dict *raw.DictObj) ([3]int, error) {
	var widths [3]int
	wObj, ok := dict.Get(raw.NameLiteral("W"))
	if !ok {
		return widths, errors.New("xref stream: missing W")
	}
	arr, ok := wObj.(*raw.ArrayObj)
	if !ok || arr.Len() < 3 {
		return widths, errors.New("xref stream: malformed W")
	}
	for i := 0; i < 3; i++ {
		n, ok := arr.Items[i].(raw.Number)
		if !ok {
			return widths, errors.New("xref stream: non-numeric W entry")
		}
		widths[i] = int(n.Int())
		if widths[i] < 0 || widths[i] > 8 {
			return widths, fmt.Errorf("xref stream: W entry %d out of range", widths[i])
		}
	}
	return widths, nil
}

func sectionIndex(dict *raw.DictObj) ([]int, error) {
	if idxObj, ok := dict.Get(raw.NameLiteral("Index")); ok {
		arr, ok := idxObj.(*raw.ArrayObj)
		if !ok || arr.Len()%2 != 0 {
			return nil, errors.New("xref stream: malformed Index")
		}
		out := make([]int, 0, arr.Len())
		for _, it := range arr.Items {
			n, ok := it.(raw.Number)
			if !ok {
				return nil, errors.New("xref stream: non-numeric Index entry")
			}
			out = append(out, int(n.Int()))
		}
		return out, nil
	}
	size, ok := dict.GetInt("Size")
	if !ok {
		return nil, errors.New("xref stream: missing Size")
	}
	return []int{0, int(size)}, nil
}

// readField decodes a big-endian integer of len(b) bytes. A zero-width
// field takes its default value per the PDF spec.
func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// findStartXref locates the startxref value in the file tail.
func findStartXref(r io.ReaderAt, size int64) (int64, error) {
	const window = 1024
	start := size - window
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	n, err := r.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	buf = buf[:n]

	idx := bytes.LastIndex(buf, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := buf[idx+len("startxref"):]
	var val int64
	found := false
	for _, c := range rest {
		if c >= '0' && c <= '9' {
			val = val*10 + int64(c-'0')
			found = true
			continue
		}
		if found {
			break
		}
	}
	if !found || val <= 0 || val >= size {
		return 0, fmt.Errorf("startxref offset out of range: %d", val)
	}
	return val, nil
}

func readerSize(r io.ReaderAt) int64 {
	if sz, ok := r.(interface{ Size() int64 }); ok {
		return sz.Size()
	}
	// binary search for the end
	low, high := int64(0), int64(1)
	one := make([]byte, 1)
	for {
		if _, err := r.ReadAt(one, high-1); err != nil {
			break
		}
		low = high
		high *= 2
	}
	for low < high {
		mid := (low + high) / 2
		if _, err := r.ReadAt(one, mid); err != nil {
			high = mid
		} else {
			low = mid + 1
		}
	}
	return low
}
