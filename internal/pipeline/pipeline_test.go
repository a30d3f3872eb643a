package pipeline

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/evidence"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/ocr/mock"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

var fastDelays = scan.Delays{Blur: time.Millisecond, Scanning: 2 * time.Millisecond, Active: 3 * time.Millisecond}

func build(t *testing.T, eng *mock.Engine, required ...string) *Pipeline {
	t.Helper()
	p, err := NewBuilder(config.DefaultConfig()).
		WithFactory(eng.Factory()).
		WithRequired(required).
		WithEvidenceDir(filepath.Join(t.TempDir(), "evidence")).
		WithDelays(fastDelays).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestBuilder_Validate(t *testing.T) {
	_, err := NewBuilder(config.DefaultConfig()).WithMode("passport").WithFactory(mock.New().Factory()).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pipeline config")

	b := NewBuilder(config.DefaultConfig()).WithMode("card").WithRequired([]string{"idNumber"})
	assert.Equal(t, "card", b.Config().Scan.Mode)
	assert.Equal(t, []string{"idNumber"}, b.Config().Scan.Required)
	// Empty values keep the current settings.
	b.WithMode("").WithRequired(nil)
	assert.Equal(t, "card", b.Config().Scan.Mode)
}

func TestBuilder_RemoteWithoutURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OCR.Backend = ocr.BackendRemote
	_, err := NewBuilder(cfg).Build()
	require.Error(t, err)
}

func TestBuilder_NoEvidenceDir(t *testing.T) {
	p, err := NewBuilder(config.DefaultConfig()).WithFactory(mock.New().Factory()).WithEvidenceDir("").Build()
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	assert.Nil(t, p.Evidence)
	assert.ErrorIs(t, p.WriteReport(filepath.Join(t.TempDir(), "r.pdf")), evidence.ErrEmpty)
}

func TestScanImage_ConfirmsSerial(t *testing.T) {
	fx := testutil.SerialScreen()
	p := build(t, fx.Engine(), "serial")

	res, err := p.ScanImage(context.Background(), testutil.Checkerboard(640, 480, 6), 10)
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, scan.PhaseConfirmed, res.Phase)
	assert.Equal(t, 3, res.Cycles)
	f, ok := res.Field(fields.Serial)
	require.True(t, ok)
	assert.Equal(t, "FTJHR20GPY", f.Value)
	assert.True(t, f.Confirmed)
	assert.NotEmpty(t, f.Evidence)
	assert.True(t, testutil.FileExists(f.Evidence))

	report := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, p.WriteReport(report))
	pages, err := api.PageCountFile(report)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	stats := p.Info()["stats"].(map[string]any)
	assert.Equal(t, int64(3), stats["cycles"])
}

func TestScanImage_StopsAtMaxCycles(t *testing.T) {
	fx := testutil.IMEIScreen()
	p := build(t, fx.Engine())

	res, err := p.ScanImage(context.Background(), testutil.Checkerboard(640, 480, 6), 2)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 2, res.Cycles)
	assert.Equal(t, fields.ScreenIMEI, res.Screen)

	imei, ok := res.Field(fields.IMEI)
	require.True(t, ok)
	assert.False(t, imei.Confirmed)
	assert.Equal(t, fields.Format(fields.IMEI, "490154203237518"), imei.Value)

	// serial is required by default but never seen.
	serial, ok := res.Field(fields.Serial)
	require.True(t, ok)
	assert.Empty(t, serial.Value)
}

func TestScanImage_BlurryFrame(t *testing.T) {
	eng := mock.New()
	p := build(t, eng)

	res, err := p.ScanImage(context.Background(), testutil.CreateTestImage(320, 240, color.Gray{Y: 128}), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Blurry)
	assert.Equal(t, scan.StatusBlurry, res.Status)
	assert.Zero(t, eng.CallCount())
}

func TestScanSource_UnavailableSource(t *testing.T) {
	p := build(t, mock.New())
	_, err := p.ScanSource(context.Background(), "missing", capture.NewStillFile(filepath.Join(t.TempDir(), "nope.png")), 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrUnavailable)
}

func TestWatch_CompletesAndStops(t *testing.T) {
	fx := testutil.SerialScreen()
	p := build(t, fx.Engine(), "serial")

	var updates int
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.Watch(ctx, "image", capture.NewStillImage(testutil.Checkerboard(640, 480, 6)), func(scan.Snapshot) { updates++ })
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Positive(t, updates)
	assert.False(t, p.Runner.State().Active)
}

func TestWatch_CancelReportsProgress(t *testing.T) {
	eng := mock.New()
	eng.OnText(ocr.PSMSparseText, "nothing to see")
	p := build(t, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := p.Watch(ctx, "image", capture.NewStillImage(testutil.Checkerboard(320, 240, 6)), nil)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, fields.ScreenNone, res.Screen)
}

func TestReinit(t *testing.T) {
	eng := mock.New()
	p := build(t, eng)
	require.NoError(t, p.Reinit(ocr.Profile{Name: "accurate"}))
	assert.Equal(t, "accurate", p.OCR.Profile().Name)
	assert.Equal(t, "eng", p.OCR.Profile().Language)
	assert.Equal(t, 2, eng.Builds())
}

func TestFormat(t *testing.T) {
	fx := testutil.SerialScreen()
	p := build(t, fx.Engine(), "serial")
	res, err := p.ScanImage(context.Background(), testutil.Checkerboard(640, 480, 6), 5)
	require.NoError(t, err)

	text, err := Format(res, "text")
	require.NoError(t, err)
	assert.Contains(t, text, "✓ serial")
	assert.Contains(t, text, "FTJHR20GPY")
	assert.True(t, strings.HasPrefix(strings.Split(text, "\n")[1], "complete"))

	js, err := Format(res, "json")
	require.NoError(t, err)
	assert.Contains(t, js, `"value": "FTJHR20GPY"`)

	y, err := Format(res, "yaml")
	require.NoError(t, err)
	assert.Contains(t, y, "value: FTJHR20GPY")

	_, err = Format(res, "csv")
	require.Error(t, err)
	_, err = Format(nil, "json")
	require.Error(t, err)
}

func TestScanTextLayer(t *testing.T) {
	eng := mock.New()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.pdf")
	testutil.WriteTextPDF(t, path, "Serial Number FTJHR20GPY", "IMEI 49 015420 323751 8")

	p := build(t, eng)
	res, err := p.ScanTextLayer(context.Background(), path, 1)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, scan.PhaseConfirmed, res.Phase)
	assert.Equal(t, fields.ScreenSerial, res.Screen)
	imei, ok := res.Field(fields.IMEI)
	require.True(t, ok)
	assert.Equal(t, "49 015420 323751 8", imei.Value)
	assert.True(t, imei.Confirmed)
	assert.Zero(t, eng.CallCount())
}

func TestScanTextLayer_Incomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial.pdf")
	testutil.WriteTextPDF(t, path, "Serial Number FTJHR20GPY")

	p := build(t, mock.New(), "serial", "imei")
	res, err := p.ScanTextLayer(context.Background(), path, 1)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, scan.PhaseLocking, res.Phase)
	imei, ok := res.Field(fields.IMEI)
	require.True(t, ok)
	assert.True(t, imei.Required)
	assert.Empty(t, imei.Value)
}

func TestScanTextLayer_Unusable(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pdf")
	testutil.WriteTextPDF(t, empty)

	p := build(t, mock.New())
	_, err := p.ScanTextLayer(context.Background(), empty, 1)
	assert.ErrorIs(t, err, capture.ErrNoText)

	card, err := NewBuilder(config.DefaultConfig()).WithFactory(mock.New().Factory()).WithMode("card").WithEvidenceDir("").Build()
	require.NoError(t, err)
	defer func() { _ = card.Close() }()
	_, err = card.ScanTextLayer(context.Background(), empty, 1)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}
