package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// scanCmd runs the live scan loop.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a live source until the required fields are confirmed",
	Long: `Start the scan loop on a capture source. Frames are read as fast as the
current phase allows; the command returns once every required field is
confirmed, on --timeout, or on Ctrl-C with the progress made so far.

Sources:
  camera  video device (build with -tags gocv)
  screen  a display, e.g. a mirrored phone screen
  image   a still image file, re-read every cycle
  pdf     a page of a PDF file

Examples:
  fieldscan scan --source camera --device 0
  fieldscan scan --source screen --display 1 --progress
  fieldscan scan --source image --path settings.png --timeout 10s`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := applyScanFlags(cmd, *GetConfig())
		f := cmd.Flags()
		if f.Changed("source") {
			cfg.Capture.Source, _ = f.GetString("source")
		}
		if f.Changed("path") {
			cfg.Capture.Path, _ = f.GetString("path")
		}
		if f.Changed("page") {
			cfg.Capture.Page, _ = f.GetInt("page")
		}
		if f.Changed("device") {
			cfg.Capture.Device, _ = f.GetInt("device")
		}
		if f.Changed("display") {
			cfg.Capture.Display, _ = f.GetInt("display")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		timeout, _ := f.GetDuration("timeout")
		progress, _ := f.GetBool("progress")

		src, err := capture.New(cfg.Capture)
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = p.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var onUpdate func(scan.Snapshot)
		if progress {
			onUpdate = func(s scan.Snapshot) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), progressLine(s))
			}
		}

		res, err := p.Watch(ctx, cfg.Capture.Source, src, onUpdate)
		if err != nil {
			return err
		}
		if err := writeResult(cmd, cfg, res); err != nil {
			return err
		}
		return writeReport(cmd, p, cfg.Output.Report)
	},
}

// progressLine summarizes a snapshot on one line.
func progressLine(s scan.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s cycle %d sharpness %.0f", s.UpdatedAt.Format(time.TimeOnly), s.Phase, s.Status, s.Cycles, s.Sharpness)
	for _, f := range s.Fields {
		if f.Display == "" {
			continue
		}
		mark := "?"
		if f.Confirmed {
			mark = "✓"
		}
		fmt.Fprintf(&b, " %s%s=%s", mark, f.Kind, f.Display)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addScanFlags(scanCmd)
	scanCmd.Flags().StringP("source", "s", string(capture.KindCamera), "capture source: camera, screen, image or pdf")
	scanCmd.Flags().String("path", "", "file for the image and pdf sources")
	scanCmd.Flags().Int("page", 1, "PDF page to read (1-based)")
	scanCmd.Flags().Int("device", 0, "camera device index")
	scanCmd.Flags().Int("display", 0, "display index for screen capture")
	scanCmd.Flags().Duration("timeout", 0, "give up after this long (0 waits for completion or Ctrl-C)")
	scanCmd.Flags().Bool("progress", false, "print every snapshot to stderr")
}
