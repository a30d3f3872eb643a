package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// Profiler aggregates cycle counters and timings across scans.
type Profiler struct {
	Cycles      atomic.Int64
	Blurry      atomic.Int64
	Failures    atomic.Int64
	Discarded   atomic.Int64
	CycleTimeNs atomic.Int64
}

// Record accounts for one cycle that took d.
func (p *Profiler) Record(out scan.Outcome, d time.Duration) {
	p.Cycles.Add(1)
	p.CycleTimeNs.Add(d.Nanoseconds())
	switch {
	case out.Discarded:
		p.Discarded.Add(1)
	case out.Status == scan.StatusBlurry:
		p.Blurry.Add(1)
	case out.Status == scan.StatusError:
		p.Failures.Add(1)
	}
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	cycles := p.Cycles.Load()
	total := p.CycleTimeNs.Load()
	out := map[string]any{
		"cycles":         cycles,
		"blurry":         p.Blurry.Load(),
		"failures":       p.Failures.Load(),
		"discarded":      p.Discarded.Load(),
		"cycle_ms_total": total / 1_000_000,
	}
	if cycles > 0 {
		out["cycle_ms_avg"] = float64(total) / 1_000_000.0 / float64(cycles)
	}
	return out
}
