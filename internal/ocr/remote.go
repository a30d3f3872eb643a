package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/geometry"
)

// Remote is an Engine that delegates recognition to an HTTP service. The
// service receives the image as multipart field "image" together with the
// form fields psm, language and whitelist, and answers with a JSON Result or
// with the region list of an /ocr/image endpoint.
type Remote struct {
	url     string
	client  *http.Client
	profile Profile
	opts    Options
}

// NewRemote returns a factory producing Remote engines for url.
func NewRemote(url string, timeout time.Duration) Factory {
	return func(profile Profile) (Engine, error) {
		if url == "" {
			return nil, fmt.Errorf("remote ocr: empty url")
		}
		return &Remote{
			url:     url,
			client:  &http.Client{Timeout: timeout},
			profile: profile,
		}, nil
	}
}

// Configure stores the options sent with the next request.
func (r *Remote) Configure(opts Options) error {
	r.opts = opts
	return nil
}

// Recognize posts img to the service.
func (r *Remote) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("image", "frame.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := png.Encode(part, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	lang := r.opts.Language
	if lang == "" {
		lang = r.profile.Language
	}
	fields := map[string]string{
		"psm":       strconv.Itoa(int(r.opts.Mode)),
		"language":  lang,
		"whitelist": r.opts.Whitelist,
		"profile":   r.profile.Name,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote ocr request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote ocr returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var reply remoteReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode remote ocr response: %w", err)
	}
	return reply.result(), nil
}

// remoteReply accepts both a Result and an image result made of regions
// with X/Y/W/H boxes.
type remoteReply struct {
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks"`
	Regions []struct {
		Box  struct{ X, Y, W, H int } `json:"box"`
		Text string                   `json:"text"`
	} `json:"regions"`
}

func (r remoteReply) result() *Result {
	if r.Text != "" || len(r.Blocks) > 0 || len(r.Regions) == 0 {
		return &Result{Text: r.Text, Blocks: r.Blocks}
	}
	lines := make([]Line, 0, len(r.Regions))
	for _, reg := range r.Regions {
		b := reg.Box
		lines = append(lines, Line{
			Text: reg.Text,
			Box:  geometry.Box{X0: b.X, Y0: b.Y, X1: b.X + b.W, Y1: b.Y + b.H},
		})
	}
	return FromLines(lines...)
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
