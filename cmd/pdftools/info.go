package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omshejul/pdftools/extractor"
	"github.com/omshejul/pdftools/parser"
	"github.com/omshejul/pdftools/recovery"
)

var infoCmd = &cobra.Command{
	Use:   "info <input.pdf>",
	Short: "List the document's embedded images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, inFile string) error {
	data, err := os.ReadFile(inFile)
	if err != nil {
		return err
	}

	p := parser.NewDocumentParser(parser.Config{Recovery: recovery.Lenient()})
	doc, err := p.Parse(cmd.Context(), bytes.NewReader(data))
	if err != nil {
		return err
	}

	fmt.Printf("%s: PDF %s, %d objects, %s\n", inFile, doc.Version, len(doc.Objects), humanSize(int64(len(data))))
	if doc.Metadata.Title != "" {
		fmt.Printf("title: %s\n", doc.Metadata.Title)
	}
	if doc.Metadata.Producer != "" {
		fmt.Printf("producer: %s\n", doc.Metadata.Producer)
	}

	images, err := extractor.Images(doc)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Println("no images")
		return nil
	}
	fmt.Printf("%d images:\n", len(images))
	for _, img := range images {
		pages := make([]string, len(img.Pages))
		for i, p := range img.Pages {
			pages[i] = fmt.Sprintf("%d", p)
		}
		filters := strings.Join(img.Filters, "+")
		if filters == "" {
			filters = "raw"
		}
		fmt.Printf("  %s %s %dx%d bpc=%d %s %s, pages %s\n",
			img.Ref, img.Name, img.Width, img.Height, img.BitsPerComponent,
			filters, humanSize(img.Stream.Length()), strings.Join(pages, ","))
	}
	return nil
}
