package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/evidence"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// ScanImage runs cycles against a single frame.
func (p *Pipeline) ScanImage(ctx context.Context, img image.Image, maxCycles int) (*Result, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	return p.ScanSource(ctx, "image", capture.NewStillImage(img), maxCycles)
}

// ScanSource makes src the active source and steps cycles back to back,
// without the scheduling delays, until every required field is confirmed
// or maxCycles have run. A non-positive maxCycles uses scan.max_cycles.
func (p *Pipeline) ScanSource(ctx context.Context, name string, src capture.Source, maxCycles int) (*Result, error) {
	if maxCycles <= 0 {
		maxCycles = p.cfg.Scan.MaxCycles
	}
	start := time.Now()
	if err := p.Runner.SetActiveSource(ctx, src); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	p.Reset()

	for i := 0; i < maxCycles; i++ {
		cycleStart := time.Now()
		out, err := p.Runner.Step(ctx)
		if err != nil {
			return nil, err
		}
		p.profiler.Record(out, time.Since(cycleStart))
		if out.Done {
			break
		}
	}
	return p.result(name, start), nil
}

// Watch starts the scheduled loop on src and calls onUpdate with every
// snapshot until the session completes or ctx ends. The loop is stopped
// before returning. Cancellation is not an error; the result then reports
// the progress made so far.
func (p *Pipeline) Watch(ctx context.Context, name string, src capture.Source, onUpdate func(scan.Snapshot)) (*Result, error) {
	start := time.Now()
	if err := p.Runner.SetActiveSource(ctx, src); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	p.Reset()

	updates, unsubscribe := p.Runner.Subscribe()
	defer unsubscribe()
	if err := p.Runner.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Runner.Stop(); err != nil {
			slog.Warn("Failed to stop scan", "error", err)
		}
	}()

	// Slow receivers can miss snapshots, so completion is also polled.
	poll := time.NewTicker(p.Machine.Delays().Active)
	defer poll.Stop()

	last := 0
	for {
		select {
		case <-ctx.Done():
			return p.result(name, start), nil
		case <-poll.C:
			if p.Runner.Snapshot().Phase == scan.PhaseConfirmed {
				return p.result(name, start), nil
			}
		case snap, ok := <-updates:
			if !ok {
				return p.result(name, start), nil
			}
			if snap.Cycles > last {
				p.profiler.Cycles.Add(int64(snap.Cycles - last))
				last = snap.Cycles
			}
			if onUpdate != nil {
				onUpdate(snap)
			}
			if snap.Phase == scan.PhaseConfirmed {
				return p.result(name, start), nil
			}
		}
	}
}

// Result reports the session as it stands, attributed to source.
func (p *Pipeline) Result(source string) *Result {
	return p.result(source, time.Now())
}

func (p *Pipeline) result(name string, start time.Time) *Result {
	var records []evidence.Record
	if p.Evidence != nil {
		records = p.Evidence.Records()
	}
	return NewResult(name, p.Runner.Snapshot(), records, time.Since(start))
}

// WriteReport bundles the stored evidence into a PDF at path.
func (p *Pipeline) WriteReport(path string) error {
	if p.Evidence == nil {
		return evidence.ErrEmpty
	}
	return p.Evidence.WriteReport(path)
}
