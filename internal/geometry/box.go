// Package geometry plans and renders the crops fed to the fine OCR pass.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned rectangle in the pixel space of the image it was
// detected in. X1 >= X0 and Y1 >= Y0.
type Box struct {
	X0 int `json:"x0" yaml:"x0"`
	Y0 int `json:"y0" yaml:"y0"`
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
}

// FromRect converts an image.Rectangle to a Box.
func FromRect(r image.Rectangle) Box {
	r = r.Canon()
	return Box{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

// Width returns the horizontal extent.
func (b Box) Width() int { return b.X1 - b.X0 }

// Height returns the vertical extent.
func (b Box) Height() int { return b.Y1 - b.Y0 }

// Empty reports whether the box encloses no pixels.
func (b Box) Empty() bool { return b.X1 <= b.X0 || b.Y1 <= b.Y0 }

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle { return image.Rect(b.X0, b.Y0, b.X1, b.Y1) }

// Scale multiplies every coordinate by f. Min edges round down and max edges
// round up so the scaled box never loses a partially covered pixel.
func (b Box) Scale(f float64) Box {
	return Box{
		X0: int(math.Floor(float64(b.X0) * f)),
		Y0: int(math.Floor(float64(b.Y0) * f)),
		X1: int(math.Ceil(float64(b.X1) * f)),
		Y1: int(math.Ceil(float64(b.Y1) * f)),
	}
}

// Translate shifts the box by (dx, dy).
func (b Box) Translate(dx, dy int) Box {
	return Box{X0: b.X0 + dx, Y0: b.Y0 + dy, X1: b.X1 + dx, Y1: b.Y1 + dy}
}

// Union returns the smallest box containing both. An empty receiver yields o.
func (b Box) Union(o Box) Box {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return Box{
		X0: min(b.X0, o.X0),
		Y0: min(b.Y0, o.Y0),
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
	}
}

// Contains reports whether o lies fully inside b.
func (b Box) Contains(o Box) bool {
	return o.X0 >= b.X0 && o.Y0 >= b.Y0 && o.X1 <= b.X1 && o.Y1 <= b.Y1
}

// Clamp restricts the box to the given bounds.
func (b Box) Clamp(bounds image.Rectangle) Box {
	return Box{
		X0: clampInt(b.X0, bounds.Min.X, bounds.Max.X),
		Y0: clampInt(b.Y0, bounds.Min.Y, bounds.Max.Y),
		X1: clampInt(b.X1, bounds.Min.X, bounds.Max.X),
		Y1: clampInt(b.Y1, bounds.Min.Y, bounds.Max.Y),
	}
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X0, b.Y0, b.X1, b.Y1)
}

// RelRect is a rectangle expressed as fractions (0..1) of a container box.
type RelRect struct {
	X0 float64 `json:"x0" yaml:"x0"`
	Y0 float64 `json:"y0" yaml:"y0"`
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
}

// Within maps the relative rectangle into the pixel space of container.
func (r RelRect) Within(container Box) Box {
	w := float64(container.Width())
	h := float64(container.Height())
	return Box{
		X0: container.X0 + int(math.Floor(r.X0*w)),
		Y0: container.Y0 + int(math.Floor(r.Y0*h)),
		X1: container.X0 + int(math.Ceil(r.X1*w)),
		Y1: container.Y0 + int(math.Ceil(r.Y1*h)),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
