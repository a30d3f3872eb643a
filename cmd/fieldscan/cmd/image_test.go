package cmd

import (
	"encoding/json"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/ocr/mock"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

func slogInfoAndWarn() {
	slog.Info("info line")
	slog.Warn("warn line")
}

// useEngine installs eng for the duration of the test.
func useEngine(t *testing.T, eng *mock.Engine) {
	t.Helper()
	SetEngineFactory(eng.Factory())
	t.Cleanup(func() { SetEngineFactory(nil) })
}

func writeFrame(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "frame.png")
	testutil.SaveImage(t, testutil.Checkerboard(640, 480, 6), path)
	return path
}

func TestImageCommand_NoArgs(t *testing.T) {
	_, err := execute(t, "image")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input files provided")
}

func TestImageCommand_ConfirmsSerial(t *testing.T) {
	useEngine(t, testutil.SerialScreen().Engine())
	dir := t.TempDir()
	frame := writeFrame(t, dir)
	out := filepath.Join(dir, "result.json")
	report := filepath.Join(dir, "report.pdf")

	_, err := execute(t, "image", frame,
		"--required", "serial",
		"--format", "json",
		"--output", out,
		"--evidence-dir", filepath.Join(dir, "evidence"),
		"--report", report)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.True(t, res.Complete)
	assert.Equal(t, 3, res.Cycles)
	serial, ok := res.Field(fields.Serial)
	require.True(t, ok)
	assert.Equal(t, "FTJHR20GPY", serial.Value)
	assert.True(t, testutil.FileExists(serial.Evidence))

	pages, err := api.PageCountFile(report)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestImageCommand_TextOutputAndMaxCycles(t *testing.T) {
	useEngine(t, testutil.IMEIScreen().Engine())
	dir := t.TempDir()

	output, err := execute(t, "image", writeFrame(t, dir), "--max-cycles", "2", "--evidence-dir", "")
	require.NoError(t, err)
	assert.Contains(t, output, "incomplete after 2 cycle(s)")
	assert.Contains(t, output, "imei")
}

func TestImageCommand_Errors(t *testing.T) {
	useEngine(t, mock.New())
	dir := t.TempDir()
	frame := writeFrame(t, dir)

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing file", []string{"image", filepath.Join(dir, "nope.png")}, "failed to scan"},
		{"bad format", []string{"image", frame, "--format", "xml"}, "invalid output format"},
		{"bad mode", []string{"image", frame, "--mode", "passport"}, "invalid scan mode"},
		{"report with many files", []string{"image", frame, frame, "--report", filepath.Join(dir, "r.pdf")}, "single input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestImageCommand_BlurryFrameRunsNoOCR(t *testing.T) {
	eng := mock.New()
	useEngine(t, eng)
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.png")
	testutil.SaveImage(t, testutil.CreateTestImage(320, 240, color.Gray{Y: 100}), path)

	output, err := execute(t, "image", path, "--max-cycles", "3", "--format", "yaml", "--evidence-dir", "")
	require.NoError(t, err)
	assert.Contains(t, output, "blurry: 3")
	assert.Zero(t, eng.CallCount())
}

func TestFileSource(t *testing.T) {
	assert.Equal(t, "pdf", string(fileSource("scan.PDF", 2).Kind()))
	assert.Equal(t, "image", string(fileSource("frame.png", 1).Kind()))
}

func TestImageCommand_TextLayer(t *testing.T) {
	eng := mock.New()
	useEngine(t, eng)
	dir := t.TempDir()
	doc := filepath.Join(dir, "device.pdf")
	testutil.WriteTextPDF(t, doc, "Serial Number FTJHR20GPY", "IMEI 490154203237518", "IMEI2 356938035643809")
	out := filepath.Join(dir, "result.json")

	_, err := execute(t, "image", doc, "--text-layer", "--format", "json", "--output", out,
		"--required", "serial,imei,imei2", "--evidence-dir", filepath.Join(dir, "evidence"))
	require.NoError(t, err)
	assert.Zero(t, eng.CallCount())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.True(t, res.Complete)
	imei2, ok := res.Field(fields.IMEI2)
	require.True(t, ok)
	assert.Equal(t, "35 693803 564380 9", imei2.Value)
}

func TestImageCommand_TextLayerFallsBackToOCR(t *testing.T) {
	useEngine(t, testutil.SerialScreen().Engine())
	dir := t.TempDir()
	doc := filepath.Join(dir, "labels-only.pdf")
	testutil.WriteTextPDF(t, doc, "Serial Number")

	// Without usable text or an image, the OCR path cannot open the page.
	_, err := execute(t, "image", doc, "--text-layer", "--evidence-dir", filepath.Join(dir, "evidence"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan")
}
