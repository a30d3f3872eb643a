package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/ocr/mock"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

func testConfig(t *testing.T, required ...string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Scan.Required = required
	cfg.Scan.Delays = scan.Delays{Blur: time.Millisecond, Scanning: 2 * time.Millisecond, Active: 3 * time.Millisecond}
	cfg.Output.EvidenceDir = filepath.Join(t.TempDir(), "evidence")
	return cfg
}

func newTestServer(t *testing.T, factory ocr.Factory, required ...string) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  5,
		App:         testConfig(t, required...),
		Factory:     factory,
	})
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		_ = s.Close()
	})
	return s, ts
}

func brokenFactory(ocr.Profile) (ocr.Engine, error) {
	return nil, errors.New("tessdata not found")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.Checkerboard(640, 480, 6)))
	return buf.Bytes()
}

func uploadForm(t *testing.T, field, name string, data []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func decodeSession(t *testing.T, resp *http.Response) SessionResponse {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func post(t *testing.T, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp
}

func TestServer_HealthHandler(t *testing.T) {
	s, _ := newTestServer(t, mock.New().Factory())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK, checkResponse: true},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			s.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse {
				var response HealthResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, "healthy", response.Status)
				assert.True(t, response.EngineReady)
				assert.NotEmpty(t, response.Time)
				assert.Equal(t, "phone", response.Pipeline["mode"])
				assert.Contains(t, response.Pipeline, "stats")
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestServer_EngineDownAnswers503UntilEngineSwitch(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	eng := mock.New()
	factory := func(p ocr.Profile) (ocr.Engine, error) {
		if broken.Load() {
			return nil, errors.New("tessdata not found")
		}
		return eng.Factory()(p)
	}
	s, ts := newTestServer(t, factory)
	assert.Nil(t, s.Pipeline())

	resp := get(t, ts.URL+"/health")
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.EngineReady)
	assert.Contains(t, health.EngineError, "tessdata not found")

	for _, path := range []string{"/session", "/session/crop", "/session/result", "/session/evidence/serial"} {
		resp := get(t, ts.URL+path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
	resp = post(t, ts.URL+"/session/start", "application/json", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Still broken: the switch fails and the server stays degraded.
	resp = post(t, ts.URL+"/session/engine", "application/json", strings.NewReader(`{"profile":"fast"}`))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	broken.Store(false)
	resp = post(t, ts.URL+"/session/engine", "application/json", strings.NewReader(`{"profile":"fast","language":"deu"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeSession(t, resp)
	assert.Equal(t, ocr.Profile{Name: "fast", Language: "deu"}, out.Profile)
	require.NotNil(t, s.Pipeline())
	assert.Equal(t, 1, eng.Builds())
}

func TestServer_EngineSwitchReinits(t *testing.T) {
	eng := mock.New()
	_, ts := newTestServer(t, eng.Factory())

	resp := post(t, ts.URL+"/session/engine", "application/json", strings.NewReader(`{"profile":"accurate"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeSession(t, resp)
	assert.Equal(t, "accurate", out.Profile.Name)
	assert.Equal(t, "eng", out.Profile.Language)
	assert.Equal(t, 2, eng.Builds())

	for _, body := range []string{`{}`, `not json`} {
		resp = post(t, ts.URL+"/session/engine", "application/json", strings.NewReader(body))
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestServer_StartWithoutSource(t *testing.T) {
	_, ts := newTestServer(t, mock.New().Factory())
	resp := post(t, ts.URL+"/session/start", "application/json", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_UploadScanConfirm(t *testing.T) {
	fx := testutil.SerialScreen()
	_, ts := newTestServer(t, fx.Engine().Factory(), "serial")

	body, ct := uploadForm(t, "image", "frame.png", pngBytes(t), nil)
	resp := post(t, ts.URL+"/session/source", ct, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeSession(t, resp)
	assert.Equal(t, capture.KindImage, out.State.Source)
	assert.False(t, out.State.Active)

	resp = post(t, ts.URL+"/session/start", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeSession(t, resp).State.Active)

	resp = post(t, ts.URL+"/session/start", "application/json", nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "already running")

	require.Eventually(t, func() bool {
		return decodeSession(t, get(t, ts.URL+"/session")).Snapshot.Phase == scan.PhaseConfirmed
	}, 5*time.Second, 10*time.Millisecond)

	resp = get(t, ts.URL+"/session/evidence/serial")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	_, err := png.Decode(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	resp = get(t, ts.URL+"/session/evidence/imei")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/session/evidence/passport")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts.URL+"/session/crop")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/session/result?format=text")
	text, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(text), "FTJHR20GPY")

	resp = get(t, ts.URL+"/session/result?format=xml")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts.URL+"/session/report")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	pdf, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	resp = post(t, ts.URL+"/session/stop", "application/json", nil)
	assert.False(t, decodeSession(t, resp).State.Active)

	resp = post(t, ts.URL+"/session/reset", "application/json", nil)
	out = decodeSession(t, resp)
	assert.Equal(t, scan.PhaseScanning, out.Snapshot.Phase)
	assert.Zero(t, out.Snapshot.Cycles)
}

func TestServer_ReportBeforeEvidence(t *testing.T) {
	_, ts := newTestServer(t, mock.New().Factory())
	resp := get(t, ts.URL+"/session/report")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/session/crop")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_SourceErrors(t *testing.T) {
	_, ts := newTestServer(t, mock.New().Factory())

	tests := []struct {
		name   string
		body   func() (io.Reader, string)
		status int
	}{
		{
			name: "not an image",
			body: func() (io.Reader, string) {
				return uploadForm(t, "image", "x.png", []byte("garbage"), nil)
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name: "no file",
			body: func() (io.Reader, string) {
				return uploadForm(t, "other", "x.png", pngBytes(t), nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad pdf page",
			body: func() (io.Reader, string) {
				return uploadForm(t, "pdf", "x.pdf", []byte("%PDF-1.4"), map[string]string{"page": "zero"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "broken pdf",
			body: func() (io.Reader, string) {
				return uploadForm(t, "pdf", "x.pdf", []byte("%PDF-1.4 nope"), nil)
			},
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "unknown live kind",
			body:   func() (io.Reader, string) { return strings.NewReader(`{"kind":"scanner"}`), "application/json" },
			status: http.StatusBadRequest,
		},
		{
			name:   "file kind as json",
			body:   func() (io.Reader, string) { return strings.NewReader(`{"kind":"image"}`), "application/json" },
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed json",
			body:   func() (io.Reader, string) { return strings.NewReader(`{`), "application/json" },
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := tt.body()
			resp := post(t, ts.URL+"/session/source", ct, body)
			_ = resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_CameraUnavailable(t *testing.T) {
	if capture.CameraAvailable {
		t.Skip("camera support compiled in")
	}
	_, ts := newTestServer(t, mock.New().Factory())
	resp := post(t, ts.URL+"/session/source", "application/json", strings.NewReader(`{"kind":"camera","device":3}`))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_UploadTooLarge(t *testing.T) {
	s, _ := newTestServer(t, mock.New().Factory())
	s.maxUploadMB = 1
	body, ct := uploadForm(t, "image", "big.png", bytes.Repeat([]byte{1}, 2*1024*1024), nil)
	req := httptest.NewRequest(http.MethodPost, "/session/source", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.sourceHandler(w, req)

	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, w.Code)
	assert.Empty(t, s.Pipeline().Runner.State().Source)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, mock.New().Factory())
	for _, path := range []string{"/session/start", "/session/stop", "/session/reset", "/session/source", "/session/engine"} {
		resp := get(t, ts.URL+path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
	for _, path := range []string{"/session", "/session/crop", "/session/result", "/session/report"} {
		resp := post(t, ts.URL+path, "application/json", nil)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, mock.New().Factory())
	resp := get(t, ts.URL+"/health")
	_ = resp.Body.Close()

	resp = get(t, ts.URL+"/metrics")
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fieldscan_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(scan.ErrNoSource))
	assert.Equal(t, http.StatusConflict, statusFor(scan.ErrRunning))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&capture.SourceError{Kind: capture.KindImage, Err: capture.ErrUnavailable}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(ocr.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestNewServer_InvalidUploadLimit(t *testing.T) {
	_, err := NewServer(Config{MaxUploadMB: 0, App: config.DefaultConfig(), Factory: mock.New().Factory()})
	require.Error(t, err)
}
