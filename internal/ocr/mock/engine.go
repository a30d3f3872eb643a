// Package mock provides a scripted ocr.Engine for tests.
package mock

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/ocr"
)

// Response is one scripted answer.
type Response struct {
	Result *ocr.Result
	Err    error
}

// Call records a Recognize invocation.
type Call struct {
	Options ocr.Options
	Size    image.Point
}

// Engine answers Recognize calls from per-mode queues. The last response of a
// queue repeats once the queue is drained.
type Engine struct {
	mu         sync.Mutex
	current    ocr.Options
	configured []ocr.Options
	calls      []Call
	queues     map[ocr.PageSegMode][]Response
	builds     int
	closed     bool

	// Handler, when set, replaces the queues.
	Handler func(opts ocr.Options, img image.Image) (*ocr.Result, error)
	// Delay blocks each Recognize call, honoring context cancellation.
	Delay time.Duration
	// ConfigureErr is returned from Configure when set.
	ConfigureErr error
}

// New returns an engine with no scripted responses.
func New() *Engine {
	return &Engine{queues: make(map[ocr.PageSegMode][]Response)}
}

// On appends responses for mode.
func (e *Engine) On(mode ocr.PageSegMode, rs ...Response) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[mode] = append(e.queues[mode], rs...)
	return e
}

// OnText scripts a plain-text answer for mode.
func (e *Engine) OnText(mode ocr.PageSegMode, text string) *Engine {
	return e.On(mode, Response{Result: &ocr.Result{Text: text}})
}

// OnLines scripts an answer carrying line geometry for mode.
func (e *Engine) OnLines(mode ocr.PageSegMode, lines ...ocr.Line) *Engine {
	return e.On(mode, Response{Result: ocr.FromLines(lines...)})
}

// Factory returns a factory handing out this engine; every build reopens it.
func (e *Engine) Factory() ocr.Factory {
	return func(ocr.Profile) (ocr.Engine, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.builds++
		e.closed = false
		return e, nil
	}
}

// Configure records opts.
func (e *Engine) Configure(opts ocr.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ConfigureErr != nil {
		return e.ConfigureErr
	}
	e.current = opts
	e.configured = append(e.configured, opts)
	return nil
}

// Recognize returns the next scripted response for the configured mode.
func (e *Engine) Recognize(ctx context.Context, img image.Image) (*ocr.Result, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	opts := e.current
	e.calls = append(e.calls, Call{Options: opts, Size: img.Bounds().Size()})
	handler := e.Handler
	var resp Response
	if q := e.queues[opts.Mode]; len(q) > 0 {
		resp = q[0]
		if len(q) > 1 {
			e.queues[opts.Mode] = q[1:]
		}
	}
	e.mu.Unlock()

	if handler != nil {
		return handler(opts, img)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Result == nil {
		return &ocr.Result{}, nil
	}
	return resp.Result, nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls returns a copy of the recorded Recognize calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallCount returns the number of Recognize calls.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Current returns the options currently applied.
func (e *Engine) Current() ocr.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Configured returns every Configure call in order.
func (e *Engine) Configured() []ocr.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ocr.Options(nil), e.configured...)
}

// Builds returns how many times the factory produced the engine.
func (e *Engine) Builds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builds
}

// Closed reports whether Close was called since the last build.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
