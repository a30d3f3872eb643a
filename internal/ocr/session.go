package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by a session after Close.
var ErrClosed = errors.New("ocr session closed")

// Session owns one engine and hands it to one caller at a time. Every call
// configures the engine for the request and puts it back to the baseline
// (sparse text, no whitelist) before the lock is released.
type Session struct {
	mu       sync.Mutex
	engine   Engine
	factory  Factory
	profile  Profile
	timeout  time.Duration
	closed   bool
	baseline Options
}

// NewSession builds the engine for profile and applies the baseline.
// A non-positive timeout disables the per-call deadline.
func NewSession(factory Factory, profile Profile, timeout time.Duration) (*Session, error) {
	if factory == nil {
		return nil, errors.New("ocr factory is nil")
	}
	s := &Session{
		factory:  factory,
		profile:  profile,
		timeout:  timeout,
		baseline: Options{Mode: PSMSparseText, Language: profile.Language},
	}
	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

// build creates and baselines a fresh engine. Callers hold mu or own s.
func (s *Session) build() error {
	eng, err := s.factory(s.profile)
	if err != nil {
		return fmt.Errorf("failed to create ocr engine (profile %q): %w", s.profile.Name, err)
	}
	if err := eng.Configure(s.baseline); err != nil {
		_ = eng.Close()
		return fmt.Errorf("failed to configure ocr engine: %w", err)
	}
	s.engine = eng
	return nil
}

// Baseline returns the configuration the engine is restored to between calls.
func (s *Session) Baseline() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

// Profile returns the active profile.
func (s *Session) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Recognize runs one configure-call-restore sequence on the engine.
func (s *Session) Recognize(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.engine == nil {
		// The previous engine was abandoned after a timeout.
		if err := s.build(); err != nil {
			return nil, err
		}
	}
	if opts.Language == "" {
		opts.Language = s.profile.Language
	}

	eng := s.engine
	if err := eng.Configure(opts); err != nil {
		s.restore(eng)
		return nil, fmt.Errorf("failed to configure ocr engine: %w", err)
	}

	res, detached, err := s.call(ctx, eng, img)
	if detached {
		return nil, fmt.Errorf("ocr call abandoned after %s: %w", s.timeout, err)
	}
	s.restore(eng)
	if err != nil {
		return nil, fmt.Errorf("ocr recognize (%s): %w", opts.Mode, err)
	}
	return res, nil
}

func (s *Session) restore(eng Engine) {
	if err := eng.Configure(s.baseline); err != nil {
		slog.Warn("Failed to restore ocr baseline, recreating engine", "error", err)
		_ = eng.Close()
		s.engine = nil
	}
}

type callResult struct {
	res *Result
	err error
}

// call runs the engine with the session deadline. Engines that ignore the
// context keep running after a timeout; such an engine is detached from the
// session and closed once its call returns, so the next request gets a new one.
func (s *Session) call(ctx context.Context, eng Engine, img image.Image) (*Result, bool, error) {
	if s.timeout <= 0 {
		res, err := eng.Recognize(ctx, img)
		return res, false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		res, err := eng.Recognize(callCtx, img)
		done <- callResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, false, r.err
	case <-callCtx.Done():
		s.engine = nil
		go func() {
			<-done
			if err := eng.Close(); err != nil {
				slog.Warn("Failed to close abandoned ocr engine", "error", err)
			}
		}()
		return nil, true, callCtx.Err()
	}
}

// Reinit tears the engine down and builds a new one for profile. It waits for
// any in-flight recognition to finish first.
func (s *Session) Reinit(profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			slog.Warn("Failed to close ocr engine during reinit", "error", err)
		}
		s.engine = nil
	}

	prev := s.profile
	s.profile = profile
	s.baseline.Language = profile.Language
	if err := s.build(); err != nil {
		s.profile = prev
		s.baseline.Language = prev.Language
		return err
	}
	slog.Info("OCR engine reinitialized", "profile", profile.Name, "language", profile.Language)
	return nil
}

// Close releases the engine. Further calls return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.engine == nil {
		return nil
	}
	err := s.engine.Close()
	s.engine = nil
	return err
}
