// Package ocr defines the recognition capability used by the scanner and a
// scoped session that serializes access to one stateful engine.
package ocr

import (
	"context"
	"errors"
	"image"
	"strings"

	"github.com/MeKo-Tech/fieldscan/internal/geometry"
)

// ErrNoBackend is returned when the requested engine is not compiled in.
var ErrNoBackend = errors.New("ocr backend not available in this build")

// PageSegMode selects the layout the engine expects. Values follow the
// Tesseract numbering so backends can pass them through.
type PageSegMode int

const (
	PSMAuto        PageSegMode = 3
	PSMSingleBlock PageSegMode = 6
	PSMSingleLine  PageSegMode = 7
	PSMSparseText  PageSegMode = 11
)

func (m PageSegMode) String() string {
	switch m {
	case PSMAuto:
		return "auto"
	case PSMSingleBlock:
		return "single_block"
	case PSMSingleLine:
		return "single_line"
	case PSMSparseText:
		return "sparse_text"
	default:
		return "unknown"
	}
}

// Options is the per-call engine configuration.
type Options struct {
	Mode      PageSegMode `json:"psm"`
	Language  string      `json:"language,omitempty"`
	Whitelist string      `json:"whitelist,omitempty"`
}

// Profile selects the recognition data an engine is built with. Switching
// profiles requires recreating the engine.
type Profile struct {
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language" yaml:"language"`
}

// Word is a single recognized token.
type Word struct {
	Text       string       `json:"text"`
	Box        geometry.Box `json:"box"`
	Confidence float64      `json:"confidence,omitempty"`
}

// Line is a recognized text line.
type Line struct {
	Text  string       `json:"text"`
	Box   geometry.Box `json:"box"`
	Words []Word       `json:"words,omitempty"`
}

// Paragraph groups lines.
type Paragraph struct {
	Lines []Line `json:"lines"`
}

// Block groups paragraphs.
type Block struct {
	Paragraphs []Paragraph `json:"paragraphs"`
}

// Result is the output of one recognition call. Text is always set; Blocks
// is only populated when the backend reports geometry.
type Result struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Lines flattens the block hierarchy in reading order.
func (r *Result) Lines() []Line {
	if r == nil {
		return nil
	}
	var lines []Line
	for _, b := range r.Blocks {
		for _, p := range b.Paragraphs {
			lines = append(lines, p.Lines...)
		}
	}
	return lines
}

// HasGeometry reports whether any line carries a bounding box.
func (r *Result) HasGeometry() bool {
	for _, l := range r.Lines() {
		if !l.Box.Empty() {
			return true
		}
	}
	return false
}

// FromLines wraps lines into a single block and derives Text from them.
func FromLines(lines ...Line) *Result {
	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	return &Result{
		Text:   strings.Join(texts, "\n"),
		Blocks: []Block{{Paragraphs: []Paragraph{{Lines: lines}}}},
	}
}

// Engine is a stateful recognizer. Configure mutates the settings used by
// subsequent Recognize calls. Implementations need not be safe for
// concurrent use; Session provides the serialization.
type Engine interface {
	Configure(opts Options) error
	Recognize(ctx context.Context, img image.Image) (*Result, error)
	Close() error
}

// Factory builds an engine for a profile.
type Factory func(profile Profile) (Engine, error)
