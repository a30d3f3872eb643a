package ocr

import (
	"fmt"
	"time"
)

// Backend names accepted by NewFactory.
const (
	BackendTesseract = "tesseract"
	BackendRemote    = "remote"
)

// BackendConfig selects and parameterizes an engine backend.
type BackendConfig struct {
	Backend   string
	RemoteURL string
	Timeout   time.Duration
}

// NewFactory returns the engine factory for the configured backend.
func NewFactory(cfg BackendConfig) (Factory, error) {
	switch cfg.Backend {
	case BackendTesseract, "":
		return NewTesseract, nil
	case BackendRemote:
		return NewRemote(cfg.RemoteURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown ocr backend %q", cfg.Backend)
	}
}
