package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/recovery"
	"github.com/omshejul/pdftools/xref"
)

// ErrEncrypted is returned for documents with an Encrypt dictionary.
// Decryption is out of scope; callers route such documents to the
// rasterizing fallback or surface the error.
var ErrEncrypted = errors.New("document is encrypted")

// Limits bounds resource use while parsing untrusted files.
type Limits struct {
	MaxIndirectDepth    int
	MaxStringLength     int64
	MaxStreamLength     int64
	MaxDecompressedSize int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxIndirectDepth:    32,
		MaxStringLength:     16 << 20,
		MaxStreamLength:     1 << 30,
		MaxDecompressedSize: 1 << 30,
	}
}

// Config controls high-level PDF parsing (xref resolution + object
// loading).
type Config struct {
	Recovery recovery.Strategy
	XRef     xref.ResolverConfig
	Limits   Limits
}

// DocumentParser builds a raw.Document using xref tables/streams and
// the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	trailer := table.Trailer()
	if _, ok := trailer.Get(raw.NameLiteral("Encrypt")); ok {
		return nil, ErrEncrypted
	}

	loader := newObjectLoader(r, table, p.cfg.Limits, p.cfg.Recovery)

	doc := raw.NewDocument()
	doc.Trailer = trailer
	doc.Version = detectHeaderVersion(r)

	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free list head
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ref, obj, err := loader.load(ctx, objNum)
		if err != nil {
			if p.recoverSkip(err, objNum) {
				continue
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		doc.Objects[ref] = obj
		if span, ok := loader.originalBytes(ref); ok {
			doc.SetOriginal(ref, span)
		}
	}

	p.populateMetadata(doc)
	return doc, nil
}

func (p *DocumentParser) recoverSkip(err error, objNum int) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	action := p.cfg.Recovery.OnError(err, recovery.Location{ObjectNum: objNum, Component: "parser"})
	return action == recovery.ActionSkip || action == recovery.ActionFix
}

func (p *DocumentParser) populateMetadata(doc *raw.Document) {
	infoObj, ok := doc.Trailer.Get(raw.NameLiteral("Info"))
	if !ok {
		return
	}
	dict, ok := doc.ResolveDict(infoObj)
	if !ok {
		return
	}
	md := raw.DocumentMetadata{}
	if v, ok := stringValue(dict, "Title"); ok {
		md.Title = v
	}
	if v, ok := stringValue(dict, "Author"); ok {
		md.Author = v
	}
	if v, ok := stringValue(dict, "Creator"); ok {
		md.Creator = v
	}
	if v, ok := stringValue(dict, "Producer"); ok {
		md.Producer = v
	}
	if v, ok := stringValue(dict, "Subject"); ok {
		md.Subject = v
	}
	doc.Metadata = md
}

func stringValue(dict *raw.DictObj, key string) (string, bool) {
	obj, ok := dict.Get(raw.NameLiteral(key))
	if !ok {
		return "", false
	}
	str, ok := obj.(raw.String)
	if !ok {
		return "", false
	}
	return string(str.Value()), true
}

func detectHeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 64)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	line := string(buf[:n])
	for _, sep := range []string{"\r\n", "\n", "\r"} {
		if idx := strings.Index(line, sep); idx >= 0 {
			line = line[:idx]
			break
		}
	}
	if strings.HasPrefix(line, "%PDF-") && len(line) >= 8 {
		return strings.TrimSpace(line[5:8])
	}
	return ""
}
