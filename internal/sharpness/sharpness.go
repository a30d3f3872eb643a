// Package sharpness scores frame focus by the variance of its Laplacian.
package sharpness

import (
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold separates usable frames from blurry ones.
const DefaultThreshold = 100.0

// Estimate converts img to luminance, applies the 4-neighbour Laplacian
// (centre -4, N/S/E/W +1) to every interior pixel and returns the population
// variance of the response. Images smaller than 3x3 score 0.
func Estimate(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	if w < 3 || h < 3 {
		return 0
	}

	// Grayscale yields equal R, G and B; read R.
	lum := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x*4])
	}

	response := make([]float64, 0, (w-2)*(h-2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := lum(x, y-1) + lum(x, y+1) + lum(x-1, y) + lum(x+1, y) - 4*lum(x, y)
			response = append(response, l)
		}
	}
	return stat.PopVariance(response, nil)
}

// Estimator classifies frames against a threshold.
type Estimator struct {
	Threshold float64
	// SampleWidth, when positive, downsizes wider frames before scoring.
	SampleWidth int
}

// NewEstimator returns an estimator with the default threshold.
func NewEstimator() Estimator {
	return Estimator{Threshold: DefaultThreshold}
}

// Score returns the sharpness of img, downsampled to SampleWidth if set.
func (e Estimator) Score(img image.Image) float64 {
	if e.SampleWidth > 0 && img.Bounds().Dx() > e.SampleWidth {
		img = imaging.Resize(img, e.SampleWidth, 0, imaging.Box)
	}
	return Estimate(img)
}

// Sharp reports whether score clears the threshold.
func (e Estimator) Sharp(score float64) bool {
	return score >= e.Threshold
}
