//go:build !tesseract

package ocr

import "fmt"

// TesseractAvailable reports whether the tesseract backend is compiled in.
const TesseractAvailable = false

// NewTesseract is unavailable without the tesseract build tag.
func NewTesseract(_ Profile) (Engine, error) {
	return nil, fmt.Errorf("tesseract: %w (rebuild with -tags tesseract)", ErrNoBackend)
}
