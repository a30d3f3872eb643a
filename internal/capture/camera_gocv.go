//go:build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CameraAvailable reports whether camera capture is compiled in.
const CameraAvailable = true

// Camera reads frames from a video device through OpenCV.
type Camera struct {
	mu     sync.Mutex
	device int
	width  int
	height int
	vc     *gocv.VideoCapture
	mat    gocv.Mat
}

// NewCamera returns a source for the video device index.
func NewCamera(device, width, height int) *Camera {
	return &Camera{device: device, width: width, height: height}
}

func (c *Camera) Kind() Kind { return KindCamera }

func (c *Camera) Open(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(c.device)
	if err != nil {
		return &SourceError{Kind: KindCamera, Operation: "open", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return &SourceError{Kind: KindCamera, Operation: "open", Err: fmt.Errorf("%w: device %d not opened", ErrUnavailable, c.device)}
	}
	if c.width > 0 && c.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}
	c.vc = vc
	c.mat = gocv.NewMat()
	return nil
}

func (c *Camera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil, &SourceError{Kind: KindCamera, Operation: "capture", Err: errors.New("source not open")}
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, &SourceError{Kind: KindCamera, Operation: "capture", Err: errors.New("empty frame")}
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, &SourceError{Kind: KindCamera, Operation: "convert", Err: err}
	}
	return img, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vc == nil {
		return nil
	}
	_ = c.mat.Close()
	err := c.vc.Close()
	c.vc = nil
	return err
}
