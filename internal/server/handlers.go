package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/evidence"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/pipeline"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
	"github.com/MeKo-Tech/fieldscan/internal/version"
)

const sourceUpload = "upload"

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	p, initErr := s.pipeline, s.initErr
	s.mu.RUnlock()
	ready := p != nil

	response := HealthResponse{
		Status:      "healthy",
		Version:     version.Version,
		Time:        time.Now().UTC().Format(time.RFC3339),
		EngineReady: ready,
	}
	if ready {
		response.Pipeline = p.Info()
	} else {
		response.Status = "degraded"
		if initErr != nil {
			response.EngineError = initErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// sessionHandler reports the runner state and the latest snapshot.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(p))
}

// startHandler begins scheduled scanning on the active source.
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "start", func(ctx context.Context, p *pipeline.Pipeline) error {
		return p.Runner.Start(ctx)
	})
}

// stopHandler cancels scheduled scanning and closes the source.
func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "stop", func(_ context.Context, p *pipeline.Pipeline) error {
		return p.Runner.Stop()
	})
}

// resetHandler clears the session without stopping the loop.
func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "reset", func(_ context.Context, p *pipeline.Pipeline) error {
		p.Reset()
		return nil
	})
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, *pipeline.Pipeline) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}
	if err := fn(r.Context(), p); err != nil {
		sessionControlTotal.WithLabelValues(action, "error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("%s failed: %v", action, err), statusFor(err))
		return
	}
	sessionControlTotal.WithLabelValues(action, "success").Inc()
	slog.Info("Session control", "action", action, "state", p.Runner.State())
	writeJSON(w, http.StatusOK, sessionResponse(p))
}

// sourceHandler sets the active source. Multipart uploads carry a still
// image ("image") or a PDF ("pdf" with optional "page"); a JSON body selects
// a live camera or screen.
func (s *Server) sourceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}

	var (
		src capture.Source
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		src, err = s.liveSource(r)
	} else {
		src, err = s.uploadedSource(w, r)
	}
	if err != nil {
		var sizeErr *http.MaxBytesError
		switch {
		case errors.As(err, &sizeErr):
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, capture.ErrUnavailable):
			s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	if err := p.Runner.SetActiveSource(r.Context(), src); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("source unavailable: %v", err), statusFor(err))
		return
	}
	slog.Info("Active source set", "source", src.Kind())
	writeJSON(w, http.StatusOK, sessionResponse(p))
}

func (s *Server) liveSource(r *http.Request) (capture.Source, error) {
	var req SourceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid source request: %w", err)
	}
	kind, err := capture.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if kind != capture.KindCamera && kind != capture.KindScreen {
		return nil, fmt.Errorf("%s sources must be uploaded as multipart", kind)
	}
	cfg := s.cfg.Capture
	cfg.Source = string(kind)
	cfg.Device, cfg.Display = req.Device, req.Display
	if req.Width > 0 && req.Height > 0 {
		cfg.Width, cfg.Height = req.Width, req.Height
	}
	return capture.New(cfg)
}

func (s *Server) uploadedSource(w http.ResponseWriter, r *http.Request) (capture.Source, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, fmt.Errorf("failed to parse form data: %w", err)
	}

	if file, header, err := r.FormFile("image"); err == nil {
		defer func() { _ = file.Close() }()
		uploadSizeBytes.WithLabelValues("image").Observe(float64(header.Size))
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		return capture.DecodeStill(data)
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		return nil, errors.New("no image or pdf file provided")
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.WithLabelValues("pdf").Observe(float64(header.Size))

	page := 1
	if v := r.FormValue("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page: %q", v)
		}
	}
	return stillFromPDF(r.Context(), file, page)
}

// stillFromPDF extracts the page image from an uploaded PDF so the
// temporary file does not outlive the request.
func stillFromPDF(ctx context.Context, file io.Reader, page int) (capture.Source, error) {
	tmp, err := os.CreateTemp("", "fieldscan-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to buffer pdf: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to buffer pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to buffer pdf: %w", err)
	}

	src := capture.NewPDF(tmp.Name(), page)
	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	img, err := src.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return capture.NewStillImage(img), nil
}

// engineHandler switches the engine profile, building the engine first
// when it failed to initialize.
func (s *Server) engineHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req EngineRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("invalid engine request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Profile == "" {
		s.writeErrorResponse(w, "profile is required", http.StatusBadRequest)
		return
	}

	if p := s.Pipeline(); p != nil {
		if err := p.Reinit(ocr.Profile{Name: req.Profile, Language: req.Language}); err != nil {
			engineSwitchesTotal.WithLabelValues("error").Inc()
			s.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	} else {
		s.mu.RLock()
		cfg := s.cfg
		s.mu.RUnlock()
		cfg.OCR.Profile = req.Profile
		if req.Language != "" {
			cfg.OCR.Language = req.Language
		}
		if err := s.build(cfg); err != nil {
			engineSwitchesTotal.WithLabelValues("error").Inc()
			s.writeErrorResponse(w, fmt.Sprintf("engine unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	engineSwitchesTotal.WithLabelValues("success").Inc()
	p := s.Pipeline()
	slog.Info("OCR engine profile set", "profile", p.OCR.Profile())
	writeJSON(w, http.StatusOK, sessionResponse(p))
}

// evidenceHandler serves the frame captured when a field was confirmed.
func (s *Server) evidenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}
	kind, err := fields.ParseKind(r.PathValue("field"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	img, ok := p.Runner.Session().Evidence(kind)
	if !ok {
		s.writeErrorResponse(w, fmt.Sprintf("no evidence for %s", kind), http.StatusNotFound)
		return
	}
	writePNG(w, img)
}

// cropHandler serves the last fine-pass input for debugging.
func (s *Server) cropHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}
	img := p.Runner.Session().CropPreview()
	if img == nil {
		s.writeErrorResponse(w, "no crop yet", http.StatusNotFound)
		return
	}
	writePNG(w, img)
}

// resultHandler renders the session as a result in the requested format.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	source := sourceUpload
	if k := p.Runner.State().Source; k != "" {
		source = string(k)
	}
	out, err := pipeline.Format(p.Result(source), format)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "yaml":
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	_, _ = io.WriteString(w, out)
}

// reportHandler serves the PDF evidence report.
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := s.requirePipeline(w)
	if p == nil {
		return
	}
	dir, err := os.MkdirTemp("", "fieldscan-report-*")
	if err != nil {
		s.writeErrorResponse(w, "failed to prepare report", http.StatusInternalServerError)
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "report.pdf")
	if err := p.WriteReport(path); err != nil {
		if errors.Is(err, evidence.ErrEmpty) {
			s.writeErrorResponse(w, err.Error(), http.StatusNotFound)
			return
		}
		s.writeErrorResponse(w, fmt.Sprintf("report failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="evidence.pdf"`)
	http.ServeFile(w, r, path)
}

// requirePipeline writes 503 and returns nil while the engine is down.
func (s *Server) requirePipeline(w http.ResponseWriter) *pipeline.Pipeline {
	s.mu.RLock()
	p, initErr := s.pipeline, s.initErr
	s.mu.RUnlock()
	if p == nil {
		msg := "OCR engine not initialized"
		if initErr != nil {
			msg = fmt.Sprintf("%s: %v", msg, initErr)
		}
		s.writeErrorResponse(w, msg, http.StatusServiceUnavailable)
	}
	return p
}

func sessionResponse(p *pipeline.Pipeline) SessionResponse {
	return SessionResponse{
		State:    p.Runner.State(),
		Snapshot: p.Runner.Snapshot(),
		Profile:  p.OCR.Profile(),
	}
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scan.ErrNoSource), errors.Is(err, scan.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, capture.ErrUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ocr.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes an error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
