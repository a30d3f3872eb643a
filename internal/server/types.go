package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// Server exposes one scan session over HTTP and WebSocket.
type Server struct {
	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
	initErr  error

	cfg         config.Config
	factory     ocr.Factory
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// App is the scanning configuration the session is built from.
	App config.Config
	// Factory overrides the engine factory selected by ocr.backend.
	Factory ocr.Factory
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Time        string `json:"time"`
	EngineReady bool   `json:"engine_ready"`
	EngineError string `json:"engine_error,omitempty"`
	// Pipeline describes the active configuration and counters.
	Pipeline map[string]interface{} `json:"pipeline,omitempty"`
}

// SessionResponse is returned by the session endpoints.
type SessionResponse struct {
	State    scan.State    `json:"state"`
	Snapshot scan.Snapshot `json:"snapshot"`
	Profile  ocr.Profile   `json:"profile"`
}

// SourceRequest selects a live source for POST /session/source.
type SourceRequest struct {
	Kind    string `json:"kind"`
	Device  int    `json:"device,omitempty"`
	Display int    `json:"display,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// EngineRequest switches the engine profile for POST /session/engine.
type EngineRequest struct {
	Profile  string `json:"profile"`
	Language string `json:"language,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a server for config. An engine that fails to
// initialize is logged; the session endpoints then answer 503 until
// POST /session/engine succeeds.
func NewServer(config Config) (*Server, error) {
	if config.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("invalid max upload size: %d", config.MaxUploadMB)
	}
	s := &Server{
		cfg:         config.App,
		factory:     config.Factory,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
	if err := s.build(config.App); err != nil {
		slog.Error("OCR engine unavailable", "error", err)
	}
	return s, nil
}

// build replaces the pipeline with one built from cfg.
func (s *Server) build(cfg config.Config) error {
	b := pipeline.NewBuilder(cfg)
	if s.factory != nil {
		b = b.WithFactory(s.factory)
	}
	p, err := b.Build()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.initErr = err
		return err
	}
	if s.pipeline != nil {
		_ = s.pipeline.Close()
	}
	s.pipeline, s.initErr, s.cfg = p, nil, cfg
	return nil
}

// Pipeline returns the current pipeline, nil while the engine is down.
func (s *Server) Pipeline() *pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

// Close releases server resources.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		err := s.pipeline.Close()
		s.pipeline = nil
		return err
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/session", s.corsMiddleware(s.sessionHandler))
	mux.HandleFunc("/session/start", s.corsMiddleware(s.startHandler))
	mux.HandleFunc("/session/stop", s.corsMiddleware(s.stopHandler))
	mux.HandleFunc("/session/reset", s.corsMiddleware(s.resetHandler))
	mux.HandleFunc("/session/source", s.corsMiddleware(s.sourceHandler))
	mux.HandleFunc("/session/engine", s.corsMiddleware(s.engineHandler))
	mux.HandleFunc("/session/evidence/{field}", s.corsMiddleware(s.evidenceHandler))
	mux.HandleFunc("/session/crop", s.corsMiddleware(s.cropHandler))
	mux.HandleFunc("/session/result", s.corsMiddleware(s.resultHandler))
	mux.HandleFunc("/session/report", s.corsMiddleware(s.reportHandler))
	mux.HandleFunc("/ws", s.sessionWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
