package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Still serves one decoded image as every frame.
type Still struct {
	mu   sync.RWMutex
	kind Kind
	path string
	img  image.Image
}

// NewStillFile returns a source reading path on Open.
func NewStillFile(path string) *Still {
	return &Still{kind: KindImage, path: path}
}

// NewStillImage wraps an already decoded image.
func NewStillImage(img image.Image) *Still {
	return &Still{kind: KindImage, img: img}
}

// DecodeStill decodes an uploaded image, honoring EXIF orientation.
func DecodeStill(data []byte) (*Still, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &SourceError{Kind: KindImage, Operation: "decode", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return NewStillImage(img), nil
}

func (s *Still) Kind() Kind { return s.kind }

// Open loads the file if the source was built from a path.
func (s *Still) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img != nil {
		return nil
	}
	if s.path == "" {
		return &SourceError{Kind: s.kind, Operation: "open", Err: fmt.Errorf("%w: no image", ErrUnavailable)}
	}
	img, err := imaging.Open(s.path, imaging.AutoOrientation(true))
	if err != nil {
		return &SourceError{Kind: s.kind, Operation: "open", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	s.img = img
	return nil
}

// Capture returns the image. Frames are never mutated downstream, so the
// same value is handed out each time.
func (s *Still) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return nil, &SourceError{Kind: s.kind, Operation: "capture", Err: errors.New("source not open")}
	}
	return s.img, nil
}

// Close drops a file-backed image so a later Open re-reads it.
func (s *Still) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		s.img = nil
	}
	return nil
}
