package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
)

// engineFactory, when set, replaces the engine selected by ocr.backend.
var engineFactory ocr.Factory

// addScanFlags registers the flags shared by the scanning commands.
func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "phone", "scanning variant: phone or card")
	cmd.Flags().StringSlice("required", nil, "fields that must be confirmed (default depends on mode)")
	cmd.Flags().String("backend", ocr.BackendTesseract, "ocr backend: tesseract or remote")
	cmd.Flags().String("remote-url", "", "remote OCR service URL for the remote backend")
	cmd.Flags().String("language", "eng", "OCR language data")
	cmd.Flags().String("profile", "default", "OCR engine profile")
	cmd.Flags().Int("history-size", 20, "number of readings kept per field")
	cmd.Flags().Int("min-support", 3, "identical readings needed to confirm a field")
	cmd.Flags().Float64("sharpness-threshold", 0, "minimum Laplacian variance for a frame to be read (0 keeps the configured value)")
	cmd.Flags().Bool("preprocess", false, "grayscale and sharpen crops before the fine pass")
	cmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().StringP("output", "o", "", "write the result to this file instead of stdout")
	cmd.Flags().String("evidence-dir", "evidence", "directory for evidence frames (empty disables)")
	cmd.Flags().String("report", "", "write a PDF evidence report to this path")
}

// applyScanFlags overrides cfg with the flags the user set.
func applyScanFlags(cmd *cobra.Command, cfg config.Config) config.Config {
	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.Scan.Mode, _ = f.GetString("mode")
	}
	if f.Changed("required") {
		cfg.Scan.Required, _ = f.GetStringSlice("required")
	}
	if f.Changed("backend") {
		cfg.OCR.Backend, _ = f.GetString("backend")
	}
	if f.Changed("remote-url") {
		cfg.OCR.RemoteURL, _ = f.GetString("remote-url")
	}
	if f.Changed("language") {
		cfg.OCR.Language, _ = f.GetString("language")
	}
	if f.Changed("profile") {
		cfg.OCR.Profile, _ = f.GetString("profile")
	}
	if f.Changed("history-size") {
		cfg.Scan.HistorySize, _ = f.GetInt("history-size")
	}
	if f.Changed("min-support") {
		cfg.Scan.MinSupport, _ = f.GetInt("min-support")
	}
	if f.Changed("sharpness-threshold") {
		cfg.Scan.SharpnessThreshold, _ = f.GetFloat64("sharpness-threshold")
	}
	if f.Changed("preprocess") {
		cfg.Scan.Preprocess, _ = f.GetBool("preprocess")
	}
	if f.Changed("format") {
		cfg.Output.Format, _ = f.GetString("format")
	}
	if f.Changed("output") {
		cfg.Output.File, _ = f.GetString("output")
	}
	if f.Changed("evidence-dir") {
		cfg.Output.EvidenceDir, _ = f.GetString("evidence-dir")
	}
	if f.Changed("report") {
		cfg.Output.Report, _ = f.GetString("report")
	}
	return cfg
}

// buildPipeline builds the scanning stack for cfg.
func buildPipeline(cfg config.Config) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder(cfg)
	if engineFactory != nil {
		b = b.WithFactory(engineFactory)
	}
	p, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	return p, nil
}

// writeResult renders res and writes it to the configured output.
func writeResult(cmd *cobra.Command, cfg config.Config, results ...*pipeline.Result) error {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		s, err := pipeline.Format(res, cfg.Output.Format)
		if err != nil {
			return err
		}
		parts = append(parts, strings.TrimRight(s, "\n"))
	}
	final := strings.Join(parts, "\n") + "\n"

	if cfg.Output.File != "" {
		if err := os.WriteFile(cfg.Output.File, []byte(final), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", cfg.Output.File)
		return nil
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), final)
	return err
}

// writeReport writes the PDF evidence report when one was requested.
func writeReport(cmd *cobra.Command, p *pipeline.Pipeline, path string) error {
	if path == "" {
		return nil
	}
	if err := p.WriteReport(path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Evidence report written to %s\n", path)
	return nil
}
