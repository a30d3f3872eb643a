// Package evidence persists the frames captured when fields are confirmed
// and bundles them into a PDF report.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// ErrEmpty is returned when a report is requested before any capture.
var ErrEmpty = errors.New("no evidence captured")

// Record describes one stored capture.
type Record struct {
	Kind  fields.Kind `json:"kind" yaml:"kind"`
	Value string      `json:"value" yaml:"value"`
	Path  string      `json:"path" yaml:"path"`
}

// Store writes evidence frames as PNG files into a directory.
type Store struct {
	dir string

	mu         sync.Mutex
	records    map[fields.Kind]Record
	generation uint64
}

// NewStore returns a store writing into dir, created on first use.
func NewStore(dir string) *Store {
	return &Store{dir: dir, records: make(map[fields.Kind]Record)}
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// Store saves ev.Frame as <kind>-<unix-nanos>.png. Captures from a session
// generation older than the last Reset are dropped.
func (s *Store) Store(ctx context.Context, ev scan.Evidence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.stale(ev.Generation) {
		slog.Debug("Dropping evidence from a reset session", "field", ev.Kind)
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create evidence directory: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%d.png", ev.Kind, ev.At.UnixNano()))
	if err := imaging.Save(ev.Frame, path); err != nil {
		return fmt.Errorf("failed to save evidence for %s: %w", ev.Kind, err)
	}

	s.mu.Lock()
	if ev.Generation < s.generation {
		s.mu.Unlock()
		_ = os.Remove(path)
		slog.Debug("Dropping evidence from a reset session", "field", ev.Kind)
		return nil
	}
	s.records[ev.Kind] = Record{Kind: ev.Kind, Value: ev.Value, Path: path}
	s.mu.Unlock()
	slog.Debug("Evidence stored", "field", ev.Kind, "path", path)
	return nil
}

// Records lists the stored captures in field display order.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	order := make(map[fields.Kind]int, len(fields.Kinds))
	for i, k := range fields.Kinds {
		order[k] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Kind] < order[out[j].Kind] })
	return out
}

func (s *Store) stale(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return generation < s.generation
}

// Reset forgets the records and, from then on, drops captures of session
// generations before generation. Files already written stay on disk.
func (s *Store) Reset(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[fields.Kind]Record)
	s.generation = max(s.generation, generation)
}

// WriteReport bundles the stored captures into a PDF, one page per field.
func (s *Store) WriteReport(out string) error {
	records := s.Records()
	if len(records) == 0 {
		return ErrEmpty
	}
	files := make([]string, len(records))
	for i, r := range records {
		files[i] = r.Path
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := api.ImportImagesFile(files, out, nil, nil); err != nil {
		return fmt.Errorf("failed to write evidence report: %w", err)
	}
	slog.Info("Evidence report written", "path", out, "pages", len(files))
	return nil
}
