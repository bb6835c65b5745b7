package compress

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/omshejul/pdftools/colorspace"
	"github.com/omshejul/pdftools/extractor"
	"github.com/omshejul/pdftools/filters"
	"github.com/omshejul/pdftools/imaging"
	"github.com/omshejul/pdftools/ir/raw"
	"github.com/omshejul/pdftools/writer"
)

type imageResult struct {
	rep  writer.Replacement
	skip *SkippedImage
}

// processImages runs decode/resize/encode for every image on a worker
// pool. Workers only read the document; replacements are applied by the
// caller after all workers finish, keeping the object table
// single-writer.
func processImages(ctx context.Context, doc *raw.Document, images []extractor.ImageRef, profile Profile, opts Options) []imageResult {
	if len(images) == 0 {
		return nil
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(images) {
		workers = len(images)
	}

	pipeline := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: parserMaxDecompressed,
	})
	resolver := colorspace.NewResolver(doc, pipeline, opts.Logger)

	workChan := make(chan extractor.ImageRef, len(images))
	resultChan := make(chan imageResult, len(images))
	for _, img := range images {
		workChan <- img
	}
	close(workChan)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for img := range workChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				resultChan <- processImage(ctx, doc, pipeline, resolver, img, profile)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]imageResult, 0, len(images))
	for res := range resultChan {
		results = append(results, res)
	}
	return results
}

const parserMaxDecompressed = 1 << 30

// processImage turns one image XObject into a JPEG replacement, or a
// skip record when the image cannot or should not be recompressed.
func processImage(ctx context.Context, doc *raw.Document, pipeline *filters.Pipeline, resolver *colorspace.Resolver, img extractor.ImageRef, profile Profile) imageResult {
	skip := func(format string, args ...interface{}) imageResult {
		return imageResult{skip: &SkippedImage{
			Ref:    img.Ref,
			Name:   img.Name,
			Reason: fmt.Sprintf(format, args...),
		}}
	}

	if img.IsMask {
		return skip("stencil mask")
	}
	if img.Width <= 0 || img.Height <= 0 {
		return skip("degenerate dimensions %dx%d", img.Width, img.Height)
	}

	names, params := filters.ExtractFilters(doc, img.Stream.Dict)
	outer, terminal := filters.ImageChain(names)
	switch terminal {
	case "", "DCTDecode":
	default:
		return skip("unsupported filter %s", terminal)
	}

	data := img.Stream.Data
	if len(outer) > 0 {
		decoded, err := pipeline.Decode(ctx, data, outer, ccittParams(outer, params, img))
		if err != nil {
			return skip("decode: %v", err)
		}
		data = decoded
	}

	var src image.Image
	if terminal == "DCTDecode" {
		decoded, err := imaging.DecodeJPEG(data)
		if err != nil {
			return skip("jpeg decode: %v", err)
		}
		src = decoded
	} else {
		layout, err := resolver.Resolve(ctx, img.ColorSpace)
		if err != nil {
			return skip("color space: %v", err)
		}
		decoded, err := imaging.Decode(data, layout, img.BitsPerComponent, img.Width, img.Height)
		if err != nil {
			return skip("decode samples: %v", err)
		}
		src = decoded
	}

	b := src.Bounds()
	targetW, targetH, err := imaging.FitWithin(b.Dx(), b.Dy(), profile.MaxDimension)
	if err != nil {
		return skip("resize: %v", err)
	}
	resized := imaging.Resize(src, targetW, targetH)

	encoded, err := imaging.EncodeJPEG(resized, profile.Quality)
	if err != nil {
		return skip("jpeg encode: %v", err)
	}

	downscaled := targetW != b.Dx() || targetH != b.Dy()
	if !downscaled && len(encoded) >= len(img.Stream.Data) {
		return skip("recompressed stream not smaller (%d >= %d bytes)", len(encoded), len(img.Stream.Data))
	}

	return imageResult{rep: writer.Replacement{
		Ref:    img.Ref,
		JPEG:   encoded,
		Width:  targetW,
		Height: targetH,
		Gray:   imaging.IsGray(resized),
	}}
}

// ccittParams fills in the image dimensions CCITT decoding needs when
// the parameter dictionary omits them.
func ccittParams(names []string, params []raw.Dictionary, img extractor.ImageRef) []raw.Dictionary {
	out := make([]raw.Dictionary, len(names))
	copy(out, params)
	for i, name := range names {
		if name != "CCITTFaxDecode" {
			continue
		}
		d := raw.Dict()
		if src, ok := out[i].(*raw.DictObj); ok && src != nil {
			for k, v := range src.KV {
				d.KV[k] = v
			}
		}
		if _, ok := d.KV["Columns"]; !ok {
			d.Set(raw.NameLiteral("Columns"), raw.NumberInt(int64(img.Width)))
		}
		if _, ok := d.KV["Rows"]; !ok {
			d.Set(raw.NameLiteral("Rows"), raw.NumberInt(int64(img.Height)))
		}
		out[i] = d
	}
	return out
}
