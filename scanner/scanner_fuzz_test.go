package scanner

import (
	"bytes"
	"testing"
)

func FuzzScanner(f *testing.F) {
	f.Add([]byte("<< /Type /XObject /Subtype /Image >>"))
	f.Add([]byte("[ 1 2 3 ]"))
	f.Add([]byte("stream\n...data...\nendstream"))
	f.Add([]byte("(Hello \\(World\\))"))
	f.Add([]byte("<AABBCC>"))
	f.Add([]byte("5 0 R"))
	f.Add([]byte("% comment\n-1.5 .25"))

	f.Fuzz(func(t *testing.T, data []byte) {
		s := New(bytes.NewReader(data), Config{
			MaxStringLength: 1024,
			MaxArrayDepth:   10,
			MaxDictDepth:    10,
			MaxStreamLength: 1024,
			MaxStreamScan:   4096,
			WindowSize:      1024,
		})

		for {
			_, err := s.Next()
			if err != nil {
				break
			}
		}
	})
}
