//go:build !gocv

package capture

import (
	"context"
	"fmt"
	"image"
)

// CameraAvailable reports whether camera capture is compiled in.
const CameraAvailable = false

// Camera is unavailable without the gocv build tag.
type Camera struct {
	device int
}

// NewCamera returns a camera that fails to open in this build.
func NewCamera(device, _, _ int) *Camera {
	return &Camera{device: device}
}

func (c *Camera) Kind() Kind { return KindCamera }

func (c *Camera) Open(_ context.Context) error {
	return &SourceError{Kind: KindCamera, Operation: "open", Err: fmt.Errorf("%w: build with -tags gocv for camera %d", ErrUnavailable, c.device)}
}

func (c *Camera) Capture(_ context.Context) (image.Image, error) {
	return nil, c.Open(context.Background())
}

func (c *Camera) Close() error { return nil }
