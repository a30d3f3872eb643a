package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/candidate"
	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/recognition"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
	"github.com/MeKo-Tech/fieldscan/internal/sharpness"
)

// Config represents the complete configuration for fieldscan. It covers every
// command (scan, image, serve) and is loaded from configuration files, a .env
// file, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	OCR     OCRConfig      `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Scan    ScanConfig     `mapstructure:"scan" yaml:"scan" json:"scan"`
	Capture capture.Config `mapstructure:"capture" yaml:"capture" json:"capture"`
	Server  ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Output  OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
}

// OCRConfig selects and parameterizes the recognition engine.
type OCRConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend" json:"backend"`
	Profile   string        `mapstructure:"profile" yaml:"profile" json:"profile"`
	Language  string        `mapstructure:"language" yaml:"language" json:"language"`
	RemoteURL string        `mapstructure:"remote_url" yaml:"remote_url" json:"remote_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// ScanConfig contains the cycle, voting and crop settings.
type ScanConfig struct {
	Mode               string           `mapstructure:"mode" yaml:"mode" json:"mode"`
	Required           []string         `mapstructure:"required" yaml:"required" json:"required"`
	SharpnessThreshold float64          `mapstructure:"sharpness_threshold" yaml:"sharpness_threshold" json:"sharpness_threshold"`
	// SampleWidth downsizes wider frames before scoring; 0 scores the captured
	// frame. Downsampling raises the variance, so the threshold applies to the
	// sample when it is set.
	SampleWidth        int              `mapstructure:"sample_width" yaml:"sample_width" json:"sample_width"`
	CoarseWidth        int              `mapstructure:"coarse_width" yaml:"coarse_width" json:"coarse_width"`
	Preprocess         bool             `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	HistorySize        int              `mapstructure:"history_size" yaml:"history_size" json:"history_size"`
	MinSupport         int              `mapstructure:"min_support" yaml:"min_support" json:"min_support"`
	MaxCycles          int              `mapstructure:"max_cycles" yaml:"max_cycles" json:"max_cycles"`
	Crop               geometry.Options `mapstructure:"crop" yaml:"crop" json:"crop"`
	Delays             scan.Delays      `mapstructure:"delays" yaml:"delays" json:"delays"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// Autostart begins scanning the configured capture source at startup.
	Autostart bool `mapstructure:"autostart" yaml:"autostart" json:"autostart"`
}

// OutputConfig contains result and evidence output settings.
type OutputConfig struct {
	Format      string `mapstructure:"format" yaml:"format" json:"format"`
	File        string `mapstructure:"file" yaml:"file" json:"file"`
	EvidenceDir string `mapstructure:"evidence_dir" yaml:"evidence_dir" json:"evidence_dir"`
	// Report, when set, is the path of the PDF evidence report.
	Report string `mapstructure:"report" yaml:"report" json:"report"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		OCR: OCRConfig{
			Backend:  ocr.BackendTesseract,
			Profile:  "default",
			Language: "eng",
			Timeout:  10 * time.Second,
		},
		Scan: ScanConfig{
			Mode:               string(fields.ModePhone),
			SharpnessThreshold: sharpness.DefaultThreshold,
			CoarseWidth:        recognition.DefaultConfig().CoarseWidth,
			HistorySize:        candidate.DefaultCapacity,
			MinSupport:         candidate.DefaultMinSupport,
			MaxCycles:          30,
			Crop:               geometry.DefaultOptions(),
			Delays:             scan.DefaultDelays(),
		},
		Capture: capture.DefaultConfig(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Output: OutputConfig{
			Format:      "text",
			EvidenceDir: "evidence",
		},
	}
}

// Validate validates the configuration and returns the first error found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "yaml"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	validBackends := []string{ocr.BackendTesseract, ocr.BackendRemote}
	if !slices.Contains(validBackends, c.OCR.Backend) {
		return fmt.Errorf("invalid ocr backend: %s (must be one of: %s)", c.OCR.Backend, strings.Join(validBackends, ", "))
	}
	if c.OCR.Backend == ocr.BackendRemote && c.OCR.RemoteURL == "" {
		return fmt.Errorf("ocr.remote_url is required for the %s backend", ocr.BackendRemote)
	}
	if c.OCR.Timeout < 0 {
		return fmt.Errorf("invalid ocr timeout: %s (must not be negative)", c.OCR.Timeout)
	}

	if err := c.validateScan(); err != nil {
		return err
	}

	if _, err := capture.ParseKind(c.Capture.Source); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	return nil
}

func (c *Config) validateScan() error {
	s := c.Scan
	if s.Mode != string(fields.ModePhone) && s.Mode != string(fields.ModeCard) {
		return fmt.Errorf("invalid scan mode: %s (must be one of: phone, card)", s.Mode)
	}
	if _, err := c.RequiredKinds(); err != nil {
		return err
	}
	if s.SharpnessThreshold < 0 {
		return fmt.Errorf("invalid sharpness threshold: %.2f (must not be negative)", s.SharpnessThreshold)
	}
	if s.CoarseWidth <= 0 {
		return fmt.Errorf("invalid coarse width: %d (must be positive)", s.CoarseWidth)
	}
	if s.HistorySize <= 0 {
		return fmt.Errorf("invalid history size: %d (must be positive)", s.HistorySize)
	}
	if s.MinSupport <= 0 || s.MinSupport > s.HistorySize {
		return fmt.Errorf("invalid min support: %d (must be between 1 and history size %d)", s.MinSupport, s.HistorySize)
	}
	if s.Crop.TargetHeight <= 0 || s.Crop.MaxWidth <= 0 {
		return fmt.Errorf("invalid crop size: target height %d, max width %d (must be positive)", s.Crop.TargetHeight, s.Crop.MaxWidth)
	}
	if s.Crop.PadTop < 0 || s.Crop.PadBottom < 0 {
		return fmt.Errorf("invalid crop padding: %.2f/%.2f (must not be negative)", s.Crop.PadTop, s.Crop.PadBottom)
	}
	d := s.Delays
	if d.Blur <= 0 || d.Scanning <= 0 || d.Active <= 0 {
		return fmt.Errorf("invalid delays: blur %s, scanning %s, active %s (must be positive)", d.Blur, d.Scanning, d.Active)
	}
	return nil
}

// Mode returns the scanning variant.
func (c *Config) Mode() fields.Mode { return fields.Mode(c.Scan.Mode) }

// RequiredKinds parses the required field list. An empty list selects the
// mode default.
func (c *Config) RequiredKinds() ([]fields.Kind, error) {
	if len(c.Scan.Required) == 0 {
		return fields.DefaultRequired(c.Mode()), nil
	}
	kinds := make([]fields.Kind, 0, len(c.Scan.Required))
	for _, name := range c.Scan.Required {
		k, err := fields.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("invalid scan.required: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ToProfile returns the engine profile.
func (c *Config) ToProfile() ocr.Profile {
	return ocr.Profile{Name: c.OCR.Profile, Language: c.OCR.Language}
}

// ToBackendConfig converts to the engine factory configuration.
func (c *Config) ToBackendConfig() ocr.BackendConfig {
	return ocr.BackendConfig{Backend: c.OCR.Backend, RemoteURL: c.OCR.RemoteURL, Timeout: c.OCR.Timeout}
}

// ToRecognitionConfig converts to the two-pass driver configuration.
func (c *Config) ToRecognitionConfig() recognition.Config {
	return recognition.Config{
		Mode:        c.Mode(),
		CoarseWidth: c.Scan.CoarseWidth,
		Geometry:    c.Scan.Crop,
		Preprocess:  c.Scan.Preprocess,
	}
}

// ToEstimator converts to the sharpness gate.
func (c *Config) ToEstimator() sharpness.Estimator {
	return sharpness.Estimator{Threshold: c.Scan.SharpnessThreshold, SampleWidth: c.Scan.SampleWidth}
}
