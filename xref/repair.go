package xref

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/scanner"
)

// repair scans the entire file to reconstruct the xref table. It looks
// for "<num> <gen> obj" patterns and the last trailer dictionary. Later
// definitions of the same object number win, matching incremental
// update semantics.
func repair(ctx context.Context, r io.ReaderAt, size int64) (Table, error) {
	s := scanner.New(r, scanner.Config{})
	entries := make(map[int]entry)
	var lastTrailer *raw.DictObj

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tok, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip unreadable bytes during the repair sweep.
			if s.Position() >= size {
				break
			}
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			objNum := int(tok.Int)
			tokGen, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				continue
			}
			if tokGen.Type != scanner.TokenNumber || !tokGen.IsInt {
				continue
			}
			tokObj, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				continue
			}
			if tokObj.Type == scanner.TokenKeyword && tokObj.Str == "obj" {
				entries[objNum] = entry{offset: tok.Pos, gen: int(tokGen.Int)}
				skipObjectBody(s)
				continue
			}
			// tokGen may itself start an object header; rewind to it.
			if err := s.SeekTo(tokGen.Pos); err != nil {
				return nil, err
			}

		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			if obj, err := parseNextObject(s); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	if lastTrailer == nil {
		// Xref-stream files have no trailer keyword; pick the last
		// dictionary carrying a Root entry.
		lastTrailer = findRootDict(r, entries)
	}
	if lastTrailer == nil {
		return nil, errors.New("repair failed: no trailer found")
	}
	return &table{entries: entries, trailer: lastTrailer}, nil
}

// skipObjectBody advances past the current object's tokens so stream
// payloads are not re-scanned for object headers.
func skipObjectBody(s scanner.Scanner) {
	depth := 0
	for {
		tok, err := s.Next()
		if err != nil {
			return
		}
		switch tok.Type {
		case scanner.TokenDict, scanner.TokenArray:
			depth++
		case scanner.TokenStream:
			// payload consumed by the scanner
		case scanner.TokenKeyword:
			switch tok.Str {
			case ">>", "]":
				if depth > 0 {
					depth--
				}
			case "endobj":
				return
			case "startxref", "trailer", "xref":
				// object was not properly terminated; rewind so the
				// main sweep sees this keyword
				_ = s.SeekTo(tok.Pos)
				return
			}
		}
	}
}

// findRootDict re-parses discovered objects until one resolves to a
// dictionary with a Root entry (an xref stream) or a Catalog to wrap.
func findRootDict(r io.ReaderAt, entries map[int]entry) *raw.DictObj {
	nums := make([]int, 0, len(entries))
	for n := range entries {
		nums = append(nums, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(nums)))
	for _, n := range nums {
		s := scanner.New(r, scanner.Config{})
		if err := s.SeekTo(entries[n].offset); err != nil {
			continue
		}
		// skip "N G obj"
		for i := 0; i < 3; i++ {
			if _, err := s.Next(); err != nil {
				break
			}
		}
		obj, err := parseNextObject(s)
		if err != nil {
			continue
		}
		dict, ok := obj.(*raw.DictObj)
		if !ok {
			continue
		}
		if _, ok := dict.Get(raw.NameLiteral("Root")); ok {
			return dict
		}
		if typ, _ := dict.GetName("Type"); typ == "Catalog" {
			trailer := raw.Dict()
			trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(len(entries)+1)))
			trailer.Set(raw.NameLiteral("Root"), raw.Ref(n, entries[n].gen))
			return trailer
		}
	}
	return nil
}
