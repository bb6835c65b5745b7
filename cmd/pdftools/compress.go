package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omshejul/pdftools/compress"
)

var (
	compressOutput  string
	compressQuality float64
	compressMaxDim  int
	compressDPI     float64
	compressNoFall  bool
)

var compressCmd = &cobra.Command{
	Use:   "compress <input.pdf>",
	Short: "Recompress embedded images to reduce file size",
	Long: `Re-encodes the raster images inside a PDF as JPEG, optionally
downscaling them, while leaving text and vector content untouched.
Encrypted or badly damaged files are rasterized page by page instead,
unless --no-fallback is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

func init() {
	compressCmd.Flags().StringVarP(&compressOutput, "output", "o", "", "Output file (default: <input>.compressed.pdf)")
	compressCmd.Flags().Float64VarP(&compressQuality, "quality", "q", 0.6, "JPEG quality, 0.05 to 1.0")
	compressCmd.Flags().IntVarP(&compressMaxDim, "max-dimension", "d", 1600, "Longest image side in pixels, 0 keeps original size")
	compressCmd.Flags().Float64Var(&compressDPI, "dpi", 150, "Render resolution for the rasterizing fallback")
	compressCmd.Flags().BoolVar(&compressNoFall, "no-fallback", false, "Fail instead of rasterizing unsupported documents")
	rootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, inFile string) error {
	outFile := compressOutput
	if outFile == "" {
		outFile = strings.TrimSuffix(inFile, ".pdf") + ".compressed.pdf"
	}

	profile := compress.Profile{
		Quality:      compressQuality,
		MaxDimension: compressMaxDim,
		DPI:          compressDPI,
	}
	stats, err := compress.Compress(cmd.Context(), inFile, outFile, profile, compress.Options{
		AllowFallback: !compressNoFall,
	})
	if err != nil {
		return err
	}

	if stats.UsedFallback {
		fmt.Println("note: document rasterized page by page, text is no longer selectable")
	} else {
		fmt.Printf("%d of %d images compressed", stats.CompressedImageCount, stats.OriginalImageCount)
		if n := len(stats.Skipped); n > 0 {
			fmt.Printf(", %d skipped", n)
		}
		fmt.Println()
		for _, s := range stats.Skipped {
			fmt.Fprintf(os.Stderr, "  skipped %s (%s): %s\n", s.Name, s.Ref, s.Reason)
		}
	}

	saved := stats.OriginalBytes - stats.CompressedBytes
	if saved > 0 {
		pct := float64(saved) / float64(stats.OriginalBytes) * 100
		fmt.Printf("%s → %s (saved %s, %.1f%%)\n",
			humanSize(stats.OriginalBytes), humanSize(stats.CompressedBytes), humanSize(saved), pct)
	} else {
		fmt.Printf("%s → %s (no savings)\n",
			humanSize(stats.OriginalBytes), humanSize(stats.CompressedBytes))
	}
	return nil
}
