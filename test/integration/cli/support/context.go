package support

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/ocr/mock"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// ScenarioDelays keeps scenarios fast while leaving the three delays
// distinguishable.
var ScenarioDelays = scan.Delays{Blur: 7 * time.Millisecond, Scanning: 11 * time.Millisecond, Active: 13 * time.Millisecond}

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand   string
	LastOutput    string
	LastError     error
	LastStartTime time.Time
	LastDuration  time.Duration

	// Scan state
	TempDir     string
	EvidenceDir string
	Engine      *mock.Engine
	Required    []string
	Pipeline    *pipeline.Pipeline
	Outcomes    []scan.Outcome
	FramePath   string

	// Server state
	HTTPTestServer     *HTTPTestServerWrapper
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string

	// Test artifacts
	CreatedFiles []string
}

// NewTestContext creates a context with its own temporary directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "fieldscan-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{
		TempDir:     tempDir,
		EvidenceDir: filepath.Join(tempDir, "evidence"),
		Engine:      mock.New(),
	}, nil
}

// Config returns the scanning configuration scenarios run with.
func (testCtx *TestContext) Config() config.Config {
	cfg := config.DefaultConfig()
	cfg.Scan.Required = testCtx.Required
	cfg.Scan.Delays = ScenarioDelays
	cfg.Output.EvidenceDir = testCtx.EvidenceDir
	return cfg
}

// Cleanup stops servers, closes the pipeline and removes temporary files.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.HTTPTestServer != nil {
		if err := testCtx.stopTestHTTPServer(); err != nil {
			errs = append(errs, err)
		}
	}
	if testCtx.Pipeline != nil {
		if err := testCtx.Pipeline.Close(); err != nil {
			errs = append(errs, err)
		}
		testCtx.Pipeline = nil
	}
	for _, f := range testCtx.CreatedFiles {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
