package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common frame sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	FullHDSize = ImageSize{1920, 1080}
)

// TestImageConfig holds configuration for generating synthetic screens.
type TestImageConfig struct {
	// Lines are drawn top to bottom, one per text row.
	Lines      []string
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	FontFace   font.Face
	// Scale enlarges the rendered text; basicfont is only 13px high.
	Scale int
	// Blur applies a Gaussian blur of this sigma after drawing.
	Blur float64
}

// DefaultTestImageConfig returns a settings-screen style configuration.
func DefaultTestImageConfig() TestImageConfig {
	return TestImageConfig{
		Lines:      []string{"Serial number", "FTJHR20GPY"},
		Size:       MediumSize,
		Background: color.White,
		Foreground: color.Black,
		FontFace:   basicfont.Face7x13,
		Scale:      2,
	}
}

// GenerateTextImage renders the configured lines left-aligned with a fixed
// margin, like a list of device settings.
func GenerateTextImage(config TestImageConfig) (*image.NRGBA, error) {
	scale := max(config.Scale, 1)
	w := max(config.Size.Width/scale, 1)
	h := max(config.Size.Height/scale, 1)

	small := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(small, small.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  small,
		Src:  &image.Uniform{config.Foreground},
		Face: config.FontFace,
	}
	lineHeight := config.FontFace.Metrics().Height.Ceil()
	for i, line := range config.Lines {
		drawer.Dot = fixed.P(8, 8+(i+1)*lineHeight*3/2)
		drawer.DrawString(strings.TrimSpace(line))
	}

	out := imaging.Resize(small, config.Size.Width, config.Size.Height, imaging.NearestNeighbor)
	if config.Blur > 0 {
		out = imaging.Blur(out, config.Blur)
	}
	return out, nil
}

// CreateTestImageWithText renders lines at the given size.
func CreateTestImageWithText(width, height int, lines ...string) image.Image {
	config := DefaultTestImageConfig()
	config.Lines = lines
	config.Size = ImageSize{Width: width, Height: height}
	img, err := GenerateTextImage(config)
	if err != nil {
		return CreateTestImage(width, height, color.White)
	}
	return img
}

// CreateTestImage creates a uniformly colored image. It has no edges and
// always scores as blurry.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// Checkerboard returns a high-contrast pattern that passes any sharpness
// gate in use.
func Checkerboard(width, height, cell int) image.Image {
	cell = max(cell, 1)
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// SaveImage saves an image as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, imaging.Save(img, path), "Failed to save image %s", path)
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err, "Failed to open image file %s", path)
	return img
}

// CompareImages compares two images and returns true if they are similar.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds1 := img1.Bounds()
	bounds2 := img2.Bounds()

	if bounds1 != bounds2 {
		return false
	}

	var totalDiff float64
	var pixelCount float64

	for y := bounds1.Min.Y; y < bounds1.Max.Y; y++ {
		for x := bounds1.Min.X; x < bounds1.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return true
	}

	avgDiff := totalDiff / pixelCount
	maxDiff := math.Sqrt(4 * 65535 * 65535)
	return (avgDiff / maxDiff) <= tolerance
}
