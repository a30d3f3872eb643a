package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.NRGBA {
	img := imaging.New(w, h, color.White)
	for x := 0; x < w; x += 4 {
		img.Set(x, h/2, color.Black)
	}
	return img
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"camera", "screen", "image", "pdf"} {
		k, err := ParseKind(s)
		require.NoError(t, err)
		assert.Equal(t, Kind(s), k)
	}
	_, err := ParseKind("scanner")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	src, err := New(Config{Source: "image", Path: "x.png"})
	require.NoError(t, err)
	assert.Equal(t, KindImage, src.Kind())

	src, err = New(Config{Source: "pdf", Path: "x.pdf"})
	require.NoError(t, err)
	assert.Equal(t, KindPDF, src.Kind())

	src, err = New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, KindCamera, src.Kind())

	_, err = New(Config{Source: "image"})
	assert.Error(t, err)
	_, err = New(Config{Source: "pdf"})
	assert.Error(t, err)
	_, err = New(Config{Source: "fax"})
	assert.Error(t, err)
}

func TestStillFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, imaging.Save(testImage(64, 32), path))

	src := NewStillFile(path)
	_, err := src.Capture(context.Background())
	require.Error(t, err, "capture before open")

	require.NoError(t, src.Open(context.Background()))
	a, err := src.Capture(context.Background())
	require.NoError(t, err)
	b, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 32), a.Bounds().Size())
	assert.Same(t, a, b)

	require.NoError(t, src.Close())
	_, err = src.Capture(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, src.Open(context.Background()))
	_, err = src.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStillFile_Missing(t *testing.T) {
	err := NewStillFile(filepath.Join(t.TempDir(), "nope.png")).Open(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "open", se.Operation)
	assert.Equal(t, KindImage, se.Kind)
}

func TestDecodeStill(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(40, 20)))

	src, err := DecodeStill(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, src.Open(context.Background()))
	img, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	// Uploaded images survive Close.
	require.NoError(t, src.Close())
	_, err = src.Capture(context.Background())
	assert.NoError(t, err)

	_, err = DecodeStill([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCameraWithoutBuildTag(t *testing.T) {
	if CameraAvailable {
		t.Skip("camera support compiled in")
	}
	cam := NewCamera(0, 0, 0)
	assert.ErrorIs(t, cam.Open(context.Background()), ErrUnavailable)
	_, err := cam.Capture(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, cam.Close())
}

func TestPageFromFilename(t *testing.T) {
	tests := []struct {
		name string
		page int
		ok   bool
	}{
		{"page_3_image_1.png", 3, true},
		{"scan_2_17.jpg", 2, true},
		{"my_scan_5_9.png", 5, true},
		{"cover.png", 0, false},
		{"page_x_image_1.png", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, ok := pageFromFilename(tt.name)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.page, page)
			}
		})
	}
}

func TestLargest(t *testing.T) {
	small, big := testImage(10, 10), testImage(30, 20)
	assert.Same(t, big, largest([]image.Image{small, big}))
	assert.Nil(t, largest(nil))
}

func TestPDFSource(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "frame.png")
	require.NoError(t, imaging.Save(testImage(120, 80), imgPath))
	pdfPath := filepath.Join(dir, "frame.pdf")
	require.NoError(t, api.ImportImagesFile([]string{imgPath}, pdfPath, nil, nil))

	src := NewPDF(pdfPath, 1)
	require.NoError(t, src.Open(context.Background()))
	img, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Pt(120, 80), img.Bounds().Size())
	require.NoError(t, src.Close())

	err = NewPDF(pdfPath, 4).Open(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	bogus := filepath.Join(dir, "bogus.pdf")
	require.NoError(t, os.WriteFile(bogus, []byte("%PDF-nope"), 0o600))
	assert.ErrorIs(t, NewPDF(bogus, 1).Open(context.Background()), ErrUnavailable)
}
