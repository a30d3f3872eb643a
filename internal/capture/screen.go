package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Screen grabs a display, for phones mirrored to the desktop.
type Screen struct {
	display int
	bounds  image.Rectangle
}

// NewScreen returns a source for the display with the given index.
func NewScreen(display int) *Screen {
	return &Screen{display: display}
}

func (s *Screen) Kind() Kind { return KindScreen }

func (s *Screen) Open(_ context.Context) error {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return &SourceError{Kind: KindScreen, Operation: "open", Err: fmt.Errorf("%w: no active displays", ErrUnavailable)}
	}
	if s.display < 0 || s.display >= n {
		return &SourceError{Kind: KindScreen, Operation: "open", Err: fmt.Errorf("%w: display %d out of range (%d active)", ErrUnavailable, s.display, n)}
	}
	s.bounds = screenshot.GetDisplayBounds(s.display)
	return nil
}

func (s *Screen) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.bounds.Empty() {
		return nil, &SourceError{Kind: KindScreen, Operation: "capture", Err: fmt.Errorf("display %d not open", s.display)}
	}
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return nil, &SourceError{Kind: KindScreen, Operation: "capture", Err: err}
	}
	return img, nil
}

func (s *Screen) Close() error {
	s.bounds = image.Rectangle{}
	return nil
}
