package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		expectedStatus int
		shouldCallNext bool
	}{
		{name: "GET request with CORS headers", corsOrigin: "*", method: http.MethodGet, expectedStatus: http.StatusOK, shouldCallNext: true},
		{name: "POST request with specific origin", corsOrigin: "https://example.com", method: http.MethodPost, expectedStatus: http.StatusAccepted, shouldCallNext: true},
		{name: "OPTIONS request (preflight)", corsOrigin: "*", method: http.MethodOptions, expectedStatus: http.StatusOK},
		{name: "empty CORS origin", corsOrigin: "", method: http.MethodGet, expectedStatus: http.StatusOK, shouldCallNext: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}

			nextCalled := false
			next := func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusAccepted)
				}
			}

			req := httptest.NewRequest(tt.method, "/session/start", nil)
			w := httptest.NewRecorder()
			server.corsMiddleware(next)(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.corsOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			assert.Equal(t, tt.shouldCallNext, nextCalled)
		})
	}
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, rw.statusCode)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
