// Package compress is the public entry point: it shrinks a PDF by
// recompressing its raster images in place, falling back to whole-page
// rasterization for documents the selective pipeline cannot handle.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/omshejul/pdftools/extractor"
	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/observability"
	"github.com/omshejul/pdftools/parser"
	"github.com/omshejul/pdftools/rasterize"
	"github.com/omshejul/pdftools/recovery"
	"github.com/omshejul/pdftools/writer"
	"github.com/omshejul/pdftools/xref"
)

// ErrRequiresFallback means the selective pipeline cannot process the
// document (encrypted or structurally broken) and the caller disallowed
// rasterization.
var ErrRequiresFallback = errors.New("document requires rasterizing fallback")

// Profile holds the user-facing compression knobs.
type Profile struct {
	Quality      float64 // JPEG quality fraction, clamped to [0.05, 1]
	MaxDimension int     // longest image side in pixels, 0 disables
	DPI          float64 // fallback render resolution
}

// DefaultProfile matches a "good enough to read, much smaller" setting.
func DefaultProfile() Profile {
	return Profile{Quality: 0.6, MaxDimension: 1600, DPI: 150}
}

func (p Profile) normalized() Profile {
	if p.Quality < 0.05 {
		p.Quality = 0.05
	}
	if p.Quality > 1 {
		p.Quality = 1
	}
	if p.MaxDimension < 0 {
		p.MaxDimension = 0
	}
	if p.DPI <= 0 {
		p.DPI = 150
	}
	return p
}

// Options controls behavior beyond the compression profile.
type Options struct {
	AllowFallback bool
	Workers       int // 0 means one per CPU
	Logger        observability.Logger
	Recovery      recovery.Strategy
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = observability.NopLogger{}
	}
	if o.Recovery == nil {
		o.Recovery = recovery.Lenient()
	}
	return o
}

// SkippedImage records one image left untouched and why.
type SkippedImage struct {
	Ref    raw.ObjectRef
	Name   string
	Reason string
}

// Stats summarizes one compression run.
type Stats struct {
	OriginalImageCount   int
	CompressedImageCount int
	OriginalBytes        int64
	CompressedBytes      int64
	Skipped              []SkippedImage
	UsedFallback         bool
}

// Compress reads the PDF at inputPath, recompresses its images per
// profile and writes the result to outputPath. The output file is
// written only after the whole document serialized successfully; a
// failed or cancelled run leaves outputPath untouched.
func Compress(ctx context.Context, inputPath, outputPath string, profile Profile, opts Options) (Stats, error) {
	opts = opts.withDefaults()
	profile = profile.normalized()
	log := opts.Logger

	src, err := os.ReadFile(inputPath)
	if err != nil {
		return Stats{}, fmt.Errorf("read input: %w", err)
	}
	stats := Stats{OriginalBytes: int64(len(src))}

	doc, images, err := parseAndWalk(ctx, src, opts)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if !recoverableViaFallback(err) {
			return stats, err
		}
		if !opts.AllowFallback {
			return stats, fmt.Errorf("%w: %v", ErrRequiresFallback, err)
		}
		log.Warn("selective pipeline unavailable, rasterizing",
			observability.Error("cause", err))
		return rasterizeToFile(ctx, src, outputPath, profile, stats)
	}

	stats.OriginalImageCount = len(images)
	log.Info("document parsed",
		observability.Int(observability.MetricObjectCount, len(doc.Objects)),
		observability.Int(observability.MetricImageCount, len(images)))

	results := processImages(ctx, doc, images, profile, opts)
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	for _, res := range results {
		if res.skip != nil {
			stats.Skipped = append(stats.Skipped, *res.skip)
			log.Debug("image skipped",
				observability.String("object", res.skip.Ref.String()),
				observability.String("reason", res.skip.Reason))
			continue
		}
		if err := writer.ReplaceImage(doc, res.rep); err != nil {
			stats.Skipped = append(stats.Skipped, SkippedImage{
				Ref: res.rep.Ref, Reason: err.Error(),
			})
			continue
		}
		stats.CompressedImageCount++
	}
	log.Info("images processed",
		observability.Int(observability.MetricImagesSkipped, len(stats.Skipped)))

	var out bytes.Buffer
	if err := writer.Serialize(doc, &out); err != nil {
		return stats, err
	}
	stats.CompressedBytes = int64(out.Len())
	if err := os.WriteFile(outputPath, out.Bytes(), 0o644); err != nil {
		return stats, fmt.Errorf("write output: %w", err)
	}
	log.Info("document written",
		observability.Int64(observability.MetricEncodedBytes, stats.CompressedBytes))
	return stats, nil
}

func parseAndWalk(ctx context.Context, src []byte, opts Options) (*raw.Document, []extractor.ImageRef, error) {
	p := parser.NewDocumentParser(parser.Config{Recovery: opts.Recovery})
	doc, err := p.Parse(ctx, bytes.NewReader(src))
	if err != nil {
		return nil, nil, err
	}
	images, err := extractor.Images(doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, images, nil
}

// recoverableViaFallback separates document conditions the rasterizer
// can still handle from plain I/O or environment failures.
func recoverableViaFallback(err error) bool {
	return errors.Is(err, parser.ErrEncrypted) ||
		errors.Is(err, extractor.ErrMalformedPageTree) ||
		errors.Is(err, extractor.ErrMalformedResources) ||
		errors.Is(err, xref.ErrMalformedXref)
}

func rasterizeToFile(ctx context.Context, src []byte, outputPath string, profile Profile, stats Stats) (Stats, error) {
	var out bytes.Buffer
	err := rasterize.Rasterize(ctx, src, &out, rasterize.Options{
		DPI:     profile.DPI,
		Quality: profile.Quality,
	})
	if err != nil {
		return stats, err
	}
	stats.UsedFallback = true
	stats.CompressedBytes = int64(out.Len())
	if err := os.WriteFile(outputPath, out.Bytes(), 0o644); err != nil {
		return stats, fmt.Errorf("write output: %w", err)
	}
	return stats, nil
}
