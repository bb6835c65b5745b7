package filters

import (
	"context"
	"testing"

	"github.com/omshejul/pdftools/ir/raw"
)

func FuzzFilters(f *testing.F) {
	f.Add([]byte("some compressed data"), "FlateDecode")
	f.Add([]byte("<48 65 6C>"), "ASCIIHexDecode")
	f.Add([]byte("9jqo^~>"), "ASCII85Decode")
	f.Add([]byte{1, 'a', 'b', 128}, "RunLengthDecode")

	f.Fuzz(func(t *testing.T, data []byte, filterName string) {
		known := map[string]bool{
			"FlateDecode":     true,
			"LZWDecode":       true,
			"ASCII85Decode":   true,
			"ASCIIHexDecode":  true,
			"RunLengthDecode": true,
		}
		if !known[filterName] {
			return
		}

		p := NewDefaultPipeline(Limits{MaxDecompressedSize: 1 << 20})
		_, _ = p.Decode(context.Background(), data, []string{filterName}, []raw.Dictionary{nil})
	})
}
