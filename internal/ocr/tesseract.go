//go:build tesseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/tiff"
)

// TesseractAvailable reports whether the tesseract backend is compiled in.
const TesseractAvailable = true

// Tesseract is an Engine backed by a libtesseract client.
type Tesseract struct {
	client *gosseract.Client
}

// NewTesseract creates a client for the profile language with dictionary
// correction disabled; serials and IMEIs are not words.
func NewTesseract(profile Profile) (Engine, error) {
	client := gosseract.NewClient()

	lang := profile.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	_ = client.SetVariable("language_model_penalty_non_dict_word", "0")

	return &Tesseract{client: client}, nil
}

// Configure applies page segmentation, language and whitelist.
func (t *Tesseract) Configure(opts Options) error {
	if err := t.client.SetPageSegMode(gosseract.PageSegMode(opts.Mode)); err != nil {
		return fmt.Errorf("failed to set PSM: %w", err)
	}
	if opts.Language != "" {
		if err := t.client.SetLanguage(strings.Split(opts.Language, "+")...); err != nil {
			return fmt.Errorf("failed to set language: %w", err)
		}
	}
	// Some tesseract versions reject the empty whitelist; an unset whitelist is
	// the state we want anyway.
	_ = t.client.SetWhitelist(opts.Whitelist)
	return nil
}

// Recognize runs tesseract over img and reports text plus line and word boxes.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	lineBoxes, err := t.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return &Result{Text: text}, nil
	}
	wordBoxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		wordBoxes = nil
	}

	lines := make([]Line, 0, len(lineBoxes))
	for _, lb := range lineBoxes {
		line := Line{
			Text: strings.TrimSpace(lb.Word),
			Box:  geometry.FromRect(lb.Box),
		}
		for _, wb := range wordBoxes {
			box := geometry.FromRect(wb.Box)
			if line.Box.Contains(box) {
				line.Words = append(line.Words, Word{
					Text:       strings.TrimSpace(wb.Word),
					Box:        box,
					Confidence: wb.Confidence,
				})
			}
		}
		if line.Text == "" && len(line.Words) == 0 {
			continue
		}
		lines = append(lines, line)
	}

	res := FromLines(lines...)
	res.Text = text
	return res, nil
}

// Close releases the tesseract client.
func (t *Tesseract) Close() error {
	return t.client.Close()
}
