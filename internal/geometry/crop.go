package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ErrEmptyCrop is returned when a planned crop has no area after clamping.
var ErrEmptyCrop = errors.New("crop region is empty")

// PlanError records which planning step failed.
type PlanError struct {
	Operation string
	Err       error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("geometry %s: %v", e.Operation, e.Err)
}

func (e *PlanError) Unwrap() error { return e.Err }

// Options controls crop padding and the output resolution of the fine pass.
type Options struct {
	// TargetHeight is the crop height, in pixels, the upscale aims for.
	TargetHeight int `mapstructure:"target_height" yaml:"target_height" json:"target_height"`
	// MaxWidth bounds the rendered width; the scale is reduced to respect it,
	// shrinking crops that are wider to begin with.
	MaxWidth int `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	// PadTop and PadBottom are fractions of the label height added above and below.
	PadTop    float64 `mapstructure:"pad_top" yaml:"pad_top" json:"pad_top"`
	PadBottom float64 `mapstructure:"pad_bottom" yaml:"pad_bottom" json:"pad_bottom"`
}

// DefaultOptions returns the planner defaults.
func DefaultOptions() Options {
	return Options{
		TargetHeight: 700,
		MaxWidth:     2000,
		PadTop:       0.5,
		PadBottom:    0,
	}
}

// Plan is a crop rectangle in full-image coordinates and the size it is
// rendered at.
type Plan struct {
	Crop      image.Rectangle `json:"crop" yaml:"crop"`
	Scale     float64         `json:"scale" yaml:"scale"`
	OutWidth  int             `json:"out_width" yaml:"out_width"`
	OutHeight int             `json:"out_height" yaml:"out_height"`
}

// PlanCrop maps a label box found in a coarse image of width coarseWidth onto
// the full-resolution frame and extends it to the right edge, where the value
// printed after the label is expected.
func PlanCrop(label Box, coarseWidth int, full image.Rectangle, opts Options) (Plan, error) {
	if coarseWidth <= 0 {
		return Plan{}, &PlanError{Operation: "plan crop", Err: fmt.Errorf("invalid coarse width %d", coarseWidth)}
	}
	if full.Empty() {
		return Plan{}, &PlanError{Operation: "plan crop", Err: ErrEmptyCrop}
	}

	ratio := float64(full.Dx()) / float64(coarseWidth)
	box := label.Scale(ratio).Translate(full.Min.X, full.Min.Y)
	box = pad(box, opts)
	box.X1 = full.Max.X

	return finish("plan crop", box, full, opts)
}

// PlanRegion maps a fixed relative rectangle inside container (full-image
// coordinates) to a crop plan.
func PlanRegion(container Box, rel RelRect, full image.Rectangle, opts Options) (Plan, error) {
	if full.Empty() {
		return Plan{}, &PlanError{Operation: "plan region", Err: ErrEmptyCrop}
	}
	return finish("plan region", rel.Within(container), full, opts)
}

func pad(box Box, opts Options) Box {
	h := float64(box.Height())
	box.Y0 -= int(math.Round(h * opts.PadTop))
	box.Y1 += int(math.Round(h * opts.PadBottom))
	return box
}

func finish(op string, box Box, full image.Rectangle, opts Options) (Plan, error) {
	box = box.Clamp(full)
	if box.Empty() {
		return Plan{}, &PlanError{Operation: op, Err: ErrEmptyCrop}
	}

	w, h := box.Width(), box.Height()
	scale := 1.0
	if opts.TargetHeight > 0 {
		scale = math.Max(1, float64(opts.TargetHeight)/float64(h))
	}
	if opts.MaxWidth > 0 && float64(w)*scale > float64(opts.MaxWidth) {
		scale = float64(opts.MaxWidth) / float64(w)
	}

	return Plan{
		Crop:      box.Rect(),
		Scale:     scale,
		OutWidth:  max(1, int(math.Round(float64(w)*scale))),
		OutHeight: max(1, int(math.Round(float64(h)*scale))),
	}, nil
}

// Render crops img to the plan and resamples it to the planned output size.
func Render(img image.Image, p Plan) image.Image {
	cropped := imaging.Crop(img, p.Crop)
	b := cropped.Bounds()
	if b.Dx() == p.OutWidth && b.Dy() == p.OutHeight {
		return cropped
	}
	return imaging.Resize(cropped, p.OutWidth, p.OutHeight, imaging.CatmullRom)
}

// Downscale returns img resized to width if it is wider, preserving aspect.
// It reports the width of the returned image.
func Downscale(img image.Image, width int) (image.Image, int) {
	w := img.Bounds().Dx()
	if width <= 0 || w <= width {
		return img, w
	}
	return imaging.Resize(img, width, 0, imaging.Box), width
}
