package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/fieldscan/internal/server"
	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

// HTTPTestServerWrapper holds an in-process fieldscan server.
type HTTPTestServerWrapper struct {
	Server *server.Server
	HTTP   *httptest.Server
}

// URL returns the base URL of the server.
func (w *HTTPTestServerWrapper) URL() string { return w.HTTP.URL }

// RegisterServerSteps registers the HTTP session steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the fieldscan server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^I upload a sharp frame as the source$`, testCtx.iUploadASharpFrame)
	sc.Step(`^I (GET|POST) "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response content type should be "([^"]*)"$`, testCtx.theResponseContentTypeShouldBe)
	sc.Step(`^the session should report field "([^"]*)" as "([^"]*)" within (\d+) seconds?$`, testCtx.theSessionShouldReportFieldWithin)
}

func (testCtx *TestContext) theServerIsRunning() error {
	cfg := testCtx.Config()
	s, err := server.NewServer(server.Config{
		Host:        "localhost",
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  10,
		App:         cfg,
		Factory:     testCtx.Engine.Factory(),
	})
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	testCtx.HTTPTestServer = &HTTPTestServerWrapper{Server: s, HTTP: httptest.NewServer(mux)}
	return nil
}

func (testCtx *TestContext) stopTestHTTPServer() error {
	w := testCtx.HTTPTestServer
	testCtx.HTTPTestServer = nil
	w.HTTP.Close()
	return w.Server.Close()
}

func (testCtx *TestContext) iUploadASharpFrame() error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("server is not running")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "frame.png")
	if err != nil {
		return err
	}
	if err := png.Encode(part, testutil.Checkerboard(640, 480, 6)); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	resp, err := http.Post(testCtx.HTTPTestServer.URL()+"/session/source", mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iRequest(method, path string) error {
	if testCtx.HTTPTestServer == nil {
		return fmt.Errorf("server is not running")
	}
	req, err := http.NewRequest(method, testCtx.HTTPTestServer.URL()+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = map[string]string{"Content-Type": resp.Header.Get("Content-Type")}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseContentTypeShouldBe(ct string) error {
	if got := testCtx.LastHTTPHeaders["Content-Type"]; got != ct {
		return fmt.Errorf("expected content type %s, got %s", ct, got)
	}
	return nil
}

func (testCtx *TestContext) theSessionShouldReportFieldWithin(name, value string, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	var last server.SessionResponse
	for time.Now().Before(deadline) {
		if err := testCtx.iRequest(http.MethodGet, "/session"); err != nil {
			return err
		}
		last = server.SessionResponse{}
		if err := json.Unmarshal(testCtx.LastHTTPResponse, &last); err != nil {
			return fmt.Errorf("invalid session response: %w", err)
		}
		for _, f := range last.Snapshot.Fields {
			if string(f.Kind) == name && f.Confirmed && f.Value == value {
				return nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("field %s not confirmed as %q, last phase %s", name, value, last.Snapshot.Phase)
}

func saveFrame(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
