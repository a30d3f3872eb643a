// Package capture provides the frame sources a scan can read from. Sources
// are capture-on-demand: the scan loop asks for a frame when it is ready for
// one.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrUnavailable is returned when a source cannot be opened or is not
// compiled into this build.
var ErrUnavailable = errors.New("capture source unavailable")

// Kind names a source type.
type Kind string

const (
	KindCamera Kind = "camera"
	KindScreen Kind = "screen"
	KindImage  Kind = "image"
	KindPDF    Kind = "pdf"
)

// ParseKind validates a source kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindCamera, KindScreen, KindImage, KindPDF:
		return k, nil
	default:
		return "", fmt.Errorf("unknown capture source %q", s)
	}
}

// Source produces frames.
type Source interface {
	Kind() Kind
	Open(ctx context.Context) error
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// SourceError records which source operation failed.
type SourceError struct {
	Kind      Kind
	Operation string
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source: %s: %v", e.Kind, e.Operation, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Config selects and parameterizes a source.
type Config struct {
	Source string `mapstructure:"source" yaml:"source" json:"source"`
	// Path is the still image or PDF file.
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	// Page is the 1-based PDF page.
	Page   int `mapstructure:"page" yaml:"page" json:"page"`
	Device int `mapstructure:"device" yaml:"device" json:"device"`
	// Display is the screen index for screen capture.
	Display int `mapstructure:"display" yaml:"display" json:"display"`
	// Width and Height request a camera resolution; zero keeps the default.
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// DefaultConfig returns a camera source on device 0.
func DefaultConfig() Config {
	return Config{Source: string(KindCamera), Page: 1, Width: 1920, Height: 1080}
}

// New builds the source described by cfg. The source is not opened.
func New(cfg Config) (Source, error) {
	kind, err := ParseKind(cfg.Source)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindImage:
		if cfg.Path == "" {
			return nil, errors.New("image source requires a path")
		}
		return NewStillFile(cfg.Path), nil
	case KindPDF:
		if cfg.Path == "" {
			return nil, errors.New("pdf source requires a path")
		}
		return NewPDF(cfg.Path, cfg.Page), nil
	case KindScreen:
		return NewScreen(cfg.Display), nil
	default:
		return NewCamera(cfg.Device, cfg.Width, cfg.Height), nil
	}
}
