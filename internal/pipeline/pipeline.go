// Package pipeline assembles the scanning stack from configuration: the OCR
// session, the two-pass driver, the state machine, its runner and the
// evidence store.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/evidence"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/recognition"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg     config.Config
	factory ocr.Factory
}

// NewBuilder creates a builder starting from cfg.
func NewBuilder(cfg config.Config) *Builder { return &Builder{cfg: cfg} }

// WithFactory replaces the engine factory selected by ocr.backend.
func (b *Builder) WithFactory(f ocr.Factory) *Builder {
	b.factory = f
	return b
}

// WithMode sets the scanning variant.
func (b *Builder) WithMode(mode string) *Builder {
	if mode != "" {
		b.cfg.Scan.Mode = mode
	}
	return b
}

// WithRequired sets the fields a scan must confirm.
func (b *Builder) WithRequired(kinds []string) *Builder {
	if len(kinds) > 0 {
		b.cfg.Scan.Required = kinds
	}
	return b
}

// WithEvidenceDir sets where evidence frames are written. An empty
// directory keeps evidence in memory only.
func (b *Builder) WithEvidenceDir(dir string) *Builder {
	b.cfg.Output.EvidenceDir = dir
	return b
}

// WithDelays overrides the scheduling delays.
func (b *Builder) WithDelays(d scan.Delays) *Builder {
	b.cfg.Scan.Delays = d
	return b
}

// Config returns the configuration the builder will use.
func (b *Builder) Config() config.Config { return b.cfg }

// Validate checks the configuration.
func (b *Builder) Validate() error {
	if err := b.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	return nil
}

// Pipeline holds the assembled components.
type Pipeline struct {
	cfg      config.Config
	OCR      *ocr.Session
	Driver   *recognition.Driver
	Machine  *scan.Machine
	Runner   *scan.Runner
	Evidence *evidence.Store
	profiler *Profiler
}

// Build initializes the OCR engine and wires the components.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	required, err := b.cfg.RequiredKinds()
	if err != nil {
		return nil, err
	}

	factory := b.factory
	if factory == nil {
		factory, err = ocr.NewFactory(b.cfg.ToBackendConfig())
		if err != nil {
			return nil, fmt.Errorf("init ocr backend: %w", err)
		}
	}
	sess, err := ocr.NewSession(factory, b.cfg.ToProfile(), b.cfg.OCR.Timeout)
	if err != nil {
		return nil, fmt.Errorf("init ocr session: %w", err)
	}

	p := &Pipeline{cfg: b.cfg, OCR: sess, profiler: &Profiler{}}
	p.Driver = recognition.NewDriver(sess, b.cfg.ToRecognitionConfig())
	p.Machine = scan.NewMachine(p.Driver, b.cfg.ToEstimator(), b.cfg.Scan.Delays)
	if b.cfg.Output.EvidenceDir != "" {
		p.Evidence = evidence.NewStore(b.cfg.Output.EvidenceDir)
		p.Machine.SetEvidenceSink(p.Evidence)
	}
	session := scan.NewSession(b.cfg.Mode(), required, b.cfg.Scan.HistorySize, b.cfg.Scan.MinSupport)
	p.Runner = scan.NewRunner(p.Machine, session)

	slog.Debug("Pipeline built",
		"backend", b.cfg.OCR.Backend,
		"mode", b.cfg.Scan.Mode,
		"required", required,
		"evidence_dir", b.cfg.Output.EvidenceDir)
	return p, nil
}

// Close stops scanning and releases the engine.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Runner != nil {
		errs = append(errs, p.Runner.Close())
		p.Runner = nil
	}
	if p.OCR != nil {
		errs = append(errs, p.OCR.Close())
		p.OCR = nil
	}
	return errors.Join(errs...)
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() config.Config { return p.cfg }

// Reinit rebuilds the OCR engine for profile. Scanning continues with the
// new engine from the next cycle.
func (p *Pipeline) Reinit(profile ocr.Profile) error {
	if profile.Language == "" {
		profile.Language = p.OCR.Profile().Language
	}
	if err := p.OCR.Reinit(profile); err != nil {
		return fmt.Errorf("reinit ocr engine: %w", err)
	}
	return nil
}

// Reset clears the scan session and forgets stored evidence records.
func (p *Pipeline) Reset() {
	p.Runner.Reset()
	if p.Evidence != nil {
		p.Evidence.Reset(p.Runner.Session().Generation())
	}
}

// Info returns a map with key pipeline properties.
func (p *Pipeline) Info() map[string]interface{} {
	info := map[string]interface{}{
		"mode":      p.cfg.Scan.Mode,
		"required":  p.Runner.Session().Required(),
		"backend":   p.cfg.OCR.Backend,
		"profile":   p.OCR.Profile(),
		"state":     p.Runner.State(),
		"delays":    p.Machine.Delays(),
		"sharpness": p.cfg.ToEstimator(),
		"voting": map[string]interface{}{
			"history_size": p.cfg.Scan.HistorySize,
			"min_support":  p.cfg.Scan.MinSupport,
		},
		"crop":                p.cfg.Scan.Crop,
		"stats":               p.profiler.Snapshot(),
		"memory":              GetMemStats(),
		"tesseract_available": ocr.TesseractAvailable,
	}
	if p.Evidence != nil {
		info["evidence_dir"] = p.Evidence.Dir()
	}
	return info
}
