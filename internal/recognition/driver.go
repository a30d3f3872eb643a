// Package recognition runs the two OCR passes of a scan cycle: a coarse pass
// over a downscaled frame that classifies the visible screen and locates its
// label, and a fine pass over a rescaled crop of the full frame that reads the
// field values.
package recognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
)

// Recognizer runs one OCR call with scoped options. ocr.Session satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, opts ocr.Options) (*ocr.Result, error)
}

// Config controls both passes.
type Config struct {
	Mode fields.Mode
	// CoarseWidth is the width frames are downscaled to for detection.
	CoarseWidth int
	Geometry    geometry.Options
	// Preprocess applies grayscale, contrast and sharpening to fine crops.
	Preprocess bool
}

// DefaultConfig returns the phone-mode defaults.
func DefaultConfig() Config {
	return Config{
		Mode:        fields.ModePhone,
		CoarseWidth: 640,
		Geometry:    geometry.DefaultOptions(),
	}
}

// Detection is the outcome of the coarse pass.
type Detection struct {
	Screen fields.Screen
	// Label is the keyword box in coarse coordinates, nil when the engine
	// reported no geometry for it.
	Label *geometry.Box
	// Container bounds the card text in coarse coordinates.
	Container   *geometry.Box
	RawText     string
	CoarseWidth int
}

// Found reports whether a known screen was classified.
func (d Detection) Found() bool {
	return d.Screen != "" && d.Screen != fields.ScreenNone
}

// Extraction is the outcome of the fine pass.
type Extraction struct {
	Candidates map[fields.Kind][]string
	// Crop is the image handed to the engine, kept for debug preview.
	Crop    image.Image
	Plan    *geometry.Plan
	RawText string
}

// Driver threads the coarse detection into the fine extraction.
type Driver struct {
	rec Recognizer
	cfg Config
}

// NewDriver returns a driver using rec for both passes.
func NewDriver(rec Recognizer, cfg Config) *Driver {
	if cfg.CoarseWidth <= 0 {
		cfg.CoarseWidth = DefaultConfig().CoarseWidth
	}
	if cfg.Mode == "" {
		cfg.Mode = fields.ModePhone
	}
	return &Driver{rec: rec, cfg: cfg}
}

// Config returns the driver configuration.
func (d *Driver) Config() Config { return d.cfg }

// Coarse downscales full for the detection pass and reports the resulting width.
func (d *Driver) Coarse(full image.Image) (image.Image, int) {
	return geometry.Downscale(full, d.cfg.CoarseWidth)
}

// DetectScreen runs sparse-text OCR over the coarse image and classifies it.
func (d *Driver) DetectScreen(ctx context.Context, coarse image.Image) (Detection, error) {
	start := time.Now()
	res, err := d.rec.Recognize(ctx, coarse, ocr.Options{Mode: ocr.PSMSparseText})
	ocrDuration.WithLabelValues("coarse").Observe(time.Since(start).Seconds())
	if err != nil {
		return Detection{}, fmt.Errorf("coarse pass: %w", err)
	}

	det := Detection{Screen: fields.ScreenNone, RawText: res.Text, CoarseWidth: coarse.Bounds().Dx()}

	if d.cfg.Mode == fields.ModeCard {
		if ClassifyCard(res.Text) {
			det.Screen = fields.ScreenCard
			det.Container = TextBounds(res)
		}
		return det, nil
	}

	screen, keyword := ClassifyPhone(res.Text)
	det.Screen = screen
	if det.Found() {
		det.Label = LocateKeyword(res, keyword)
	}
	slog.Debug("Coarse pass", "screen", det.Screen, "label", det.Label, "duration", time.Since(start))
	return det, nil
}

// ExtractValue reads the values of det's screen from the full-resolution frame.
func (d *Driver) ExtractValue(ctx context.Context, full image.Image, det Detection) (Extraction, error) {
	if !det.Found() {
		return Extraction{Candidates: map[fields.Kind][]string{}}, nil
	}
	if det.Screen == fields.ScreenCard {
		return d.extractCard(ctx, full, det)
	}
	return d.extractPhone(ctx, full, det)
}

func (d *Driver) extractPhone(ctx context.Context, full image.Image, det Detection) (Extraction, error) {
	kinds := det.Screen.Kinds()
	spec, _ := fields.SpecFor(kinds[0])

	crop, plan := full, (*geometry.Plan)(nil)
	if det.Label != nil {
		opts := d.cfg.Geometry
		opts.PadBottom = math.Max(opts.PadBottom, spec.PadBelow)
		p, err := geometry.PlanCrop(*det.Label, det.CoarseWidth, full.Bounds(), opts)
		if err != nil {
			slog.Debug("Crop planning failed, reading full frame", "error", err)
		} else {
			crop, plan = geometry.Render(full, p), &p
		}
	}
	crop = d.preprocess(crop)

	res, err := d.fine(ctx, crop, spec.Options())
	if err != nil {
		return Extraction{}, err
	}

	out := Extraction{Candidates: make(map[fields.Kind][]string), Crop: crop, Plan: plan, RawText: res.Text}
	switch det.Screen {
	case fields.ScreenSerial:
		if vs := fields.Extract(fields.Serial, res.Text); len(vs) > 0 {
			out.Candidates[fields.Serial] = vs
		}
	case fields.ScreenIMEI:
		splitIMEIs(res.Text, out.Candidates)
	}
	return out, nil
}

// splitIMEIs assigns the Luhn-valid IMEIs of text in reading order: the
// screen lists the primary IMEI first.
func splitIMEIs(text string, into map[fields.Kind][]string) {
	var valid []string
	for _, v := range fields.Extract(fields.IMEI, text) {
		if fields.ValidIMEI(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) > 0 {
		into[fields.IMEI] = valid[:1]
	}
	if len(valid) > 1 {
		into[fields.IMEI2] = valid[1:2]
	}
}

func (d *Driver) extractCard(ctx context.Context, full image.Image, det Detection) (Extraction, error) {
	bounds := full.Bounds()
	container := geometry.FromRect(bounds)
	if det.Container != nil && det.CoarseWidth > 0 {
		ratio := float64(bounds.Dx()) / float64(det.CoarseWidth)
		scaled := det.Container.Scale(ratio).Translate(bounds.Min.X, bounds.Min.Y).Clamp(bounds)
		if !scaled.Empty() {
			container = scaled
		}
	}

	out := Extraction{Candidates: make(map[fields.Kind][]string)}
	for _, k := range det.Screen.Kinds() {
		spec, _ := fields.SpecFor(k)
		if spec.Region == nil {
			continue
		}
		p, err := geometry.PlanRegion(container, *spec.Region, bounds, d.cfg.Geometry)
		if err != nil {
			slog.Debug("Region planning failed", "field", k, "error", err)
			continue
		}
		crop := d.preprocess(geometry.Render(full, p))
		res, err := d.fine(ctx, crop, spec.Options())
		if err != nil {
			return Extraction{}, fmt.Errorf("%s: %w", k, err)
		}
		if out.Crop == nil {
			out.Crop, out.Plan = crop, &p
		}
		if vs := fields.Extract(k, res.Text); len(vs) > 0 {
			out.Candidates[k] = vs
		}
	}
	return out, nil
}

func (d *Driver) fine(ctx context.Context, crop image.Image, opts ocr.Options) (*ocr.Result, error) {
	start := time.Now()
	res, err := d.rec.Recognize(ctx, crop, opts)
	ocrDuration.WithLabelValues("fine").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fine pass: %w", err)
	}
	return res, nil
}

func (d *Driver) preprocess(img image.Image) image.Image {
	if !d.cfg.Preprocess {
		return img
	}
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	return imaging.Sharpen(out, 1)
}
