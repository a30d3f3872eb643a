package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
)

// imageCmd scans still images and PDFs.
var imageCmd = &cobra.Command{
	Use:   "image <file>...",
	Short: "Read fields from still images or PDF pages",
	Long: `Run scan cycles against each file until every required field is confirmed
or --max-cycles cycles have run. PDF files are read from the page given by
--page, using the largest image on that page. With --text-layer, a PDF page
carrying vector text is read directly and OCR only runs when that text does
not hold every required field.

Supported formats: JPEG, PNG, BMP, WEBP, PDF

Examples:
  fieldscan image settings.png
  fieldscan image about-phone.jpg --required imei,imei2 --format json
  fieldscan image scan.pdf --page 2 --report evidence.pdf
  fieldscan image device-report.pdf --text-layer`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		cfg := applyScanFlags(cmd, *GetConfig())
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Output.Report != "" && len(args) > 1 {
			return errors.New("--report requires a single input file")
		}
		maxCycles, _ := cmd.Flags().GetInt("max-cycles")
		page, _ := cmd.Flags().GetInt("page")
		textLayer, _ := cmd.Flags().GetBool("text-layer")

		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		results := make([]*pipeline.Result, 0, len(args))
		for _, path := range args {
			if textLayer && isPDF(path) {
				if res := scanTextLayer(cmd, p, path, page); res != nil {
					results = append(results, res)
					continue
				}
			}
			res, err := p.ScanSource(cmd.Context(), path, fileSource(path, page), maxCycles)
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", path, err)
			}
			slog.Info("Image scanned", "file", path, "complete", res.Complete, "cycles", res.Cycles)
			results = append(results, res)
		}

		if err := writeResult(cmd, cfg, results...); err != nil {
			return err
		}
		return writeReport(cmd, p, cfg.Output.Report)
	},
}

// scanTextLayer returns the text-layer result of a PDF page, or nil when
// OCR is still needed.
func scanTextLayer(cmd *cobra.Command, p *pipeline.Pipeline, path string, page int) *pipeline.Result {
	res, err := p.ScanTextLayer(cmd.Context(), path, page)
	switch {
	case err != nil:
		slog.Debug("Text layer not usable, falling back to OCR", "file", path, "error", err)
		return nil
	case !res.Complete:
		slog.Debug("Text layer incomplete, falling back to OCR", "file", path, "screen", res.Screen)
		return nil
	}
	slog.Info("Image read from text layer", "file", path, "page", page)
	return res
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// fileSource picks the source type from the file extension.
func fileSource(path string, page int) capture.Source {
	if isPDF(path) {
		return capture.NewPDF(path, page)
	}
	return capture.NewStillFile(path)
}

func init() {
	rootCmd.AddCommand(imageCmd)
	addScanFlags(imageCmd)
	imageCmd.Flags().Int("max-cycles", 0, "maximum cycles per file (0 uses scan.max_cycles)")
	imageCmd.Flags().Int("page", 1, "PDF page to read (1-based)")
	imageCmd.Flags().Bool("text-layer", false, "read PDF vector text before falling back to OCR")
}
