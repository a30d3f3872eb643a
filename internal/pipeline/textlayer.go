package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/recognition"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// ScanTextLayer reads the phone fields from the vector text of a PDF page
// without any OCR call. Text-layer values are exact, so every value found
// counts as confirmed. Pages without text yield capture.ErrNoText; card
// mode needs region crops and yields errors.ErrUnsupported.
func (p *Pipeline) ScanTextLayer(ctx context.Context, path string, page int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.cfg.Mode() != fields.ModePhone {
		return nil, fmt.Errorf("text layer in %s mode: %w", p.cfg.Mode(), errors.ErrUnsupported)
	}
	required, err := p.cfg.RequiredKinds()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := capture.PageText(path, page)
	if err != nil {
		return nil, err
	}
	ext := recognition.ExtractText(text)
	res := textLayerResult(path, ext, required)
	res.Processing.TotalNs = time.Since(start).Nanoseconds()
	slog.Debug("Text layer read", "file", path, "page", page, "screen", ext.Screen, "complete", res.Complete)
	return res, nil
}

func textLayerResult(source string, ext recognition.TextExtraction, required []fields.Kind) *Result {
	res := &Result{
		Source: source,
		Mode:   fields.ModePhone,
		Screen: ext.Screen,
		Status: scan.StatusScanning,
		Phase:  scan.PhaseScanning,
	}
	missing := 0
	for _, k := range fields.Kinds {
		vs := ext.Candidates[k]
		req := slices.Contains(required, k)
		if len(vs) == 0 {
			if req {
				missing++
				res.Fields = append(res.Fields, FieldResult{Kind: k, Required: true})
			}
			continue
		}
		res.Fields = append(res.Fields, FieldResult{
			Kind:       k,
			Value:      fields.Format(k, vs[0]),
			Confirmed:  true,
			Required:   req,
			Support:    1,
			Confidence: 100,
		})
	}
	switch {
	case missing == 0:
		res.Complete = true
		res.Status, res.Phase = scan.StatusConfirmed, scan.PhaseConfirmed
	case len(ext.Candidates) > 0:
		res.Status, res.Phase = scan.StatusLocking, scan.PhaseLocking
	case ext.Screen != fields.ScreenNone:
		res.Status, res.Phase = scan.StatusDetecting, scan.PhaseDetecting
	}
	return res
}
