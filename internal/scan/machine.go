package scan

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/recognition"
	"github.com/MeKo-Tech/fieldscan/internal/sharpness"
)

// Delays are the pauses before the next cycle, by outcome.
type Delays struct {
	Blur     time.Duration `mapstructure:"blur" yaml:"blur" json:"blur"`
	Scanning time.Duration `mapstructure:"scanning" yaml:"scanning" json:"scanning"`
	Active   time.Duration `mapstructure:"active" yaml:"active" json:"active"`
}

// DefaultDelays returns blur 100ms, scanning 500ms, detecting/locking 1.2s.
func DefaultDelays() Delays {
	return Delays{Blur: 100 * time.Millisecond, Scanning: 500 * time.Millisecond, Active: 1200 * time.Millisecond}
}

func (d Delays) forPhase(p Phase) time.Duration {
	if p == PhaseScanning {
		return d.Scanning
	}
	return d.Active
}

// Evidence is the frame captured when a field was first confirmed.
type Evidence struct {
	Kind  fields.Kind
	Value string
	Frame image.Image
	At    time.Time
	// Generation is the session generation the capture belongs to.
	Generation uint64
}

// EvidenceSink receives each evidence capture once. A capture may arrive
// after the session was reset; sinks compare its Generation.
type EvidenceSink interface {
	Store(ctx context.Context, ev Evidence) error
}

// Outcome summarizes one cycle.
type Outcome struct {
	Status Status
	Phase  Phase
	Screen fields.Screen
	Delay  time.Duration
	// Done is set once every required field is confirmed.
	Done           bool
	NewlyConfirmed []fields.Kind
	// Discarded is set when the session was reset or the cycle cancelled
	// while it ran; nothing was applied.
	Discarded bool
	Err       error
}

// Machine runs cycles against sessions. It holds no session state itself.
type Machine struct {
	driver *recognition.Driver
	sharp  sharpness.Estimator
	delays Delays
	sink   EvidenceSink
}

// NewMachine returns a machine using driver for recognition.
func NewMachine(driver *recognition.Driver, sharp sharpness.Estimator, delays Delays) *Machine {
	return &Machine{driver: driver, sharp: sharp, delays: delays}
}

// SetEvidenceSink installs a receiver for evidence captures.
func (m *Machine) SetEvidenceSink(sink EvidenceSink) { m.sink = sink }

// Delays returns the scheduling delays.
func (m *Machine) Delays() Delays { return m.delays }

// RunCycle processes one frame. Recognition failures are absorbed: the
// outcome carries the error with status "error" and nothing is pushed.
func (m *Machine) RunCycle(ctx context.Context, s *Session, frame image.Image) Outcome {
	gen, phase := s.begin()
	if phase == PhaseConfirmed {
		return Outcome{Status: StatusConfirmed, Phase: phase, Done: true}
	}

	score := m.sharp.Score(frame)
	sharpnessScores.Observe(score)
	if !m.sharp.Sharp(score) {
		out := Outcome{Status: StatusBlurry, Phase: phase, Delay: m.delays.Blur}
		applied := s.commit(gen, func() {
			s.status = StatusBlurry
			s.blurry++
			s.sharpness = score
		})
		return m.finish(out, applied)
	}

	coarse, _ := m.driver.Coarse(frame)
	det, err := m.driver.DetectScreen(ctx, coarse)
	if ctx.Err() != nil {
		return m.finish(Outcome{}, false)
	}
	if err != nil {
		return m.fail(gen, s, score, phase, fields.ScreenNone, err)
	}

	if !det.Found() {
		out := Outcome{Status: StatusScanning, Phase: PhaseScanning, Screen: fields.ScreenNone, Delay: m.delays.Scanning}
		applied := s.commit(gen, func() {
			s.phase = PhaseScanning
			s.status = StatusScanning
			s.screen = fields.ScreenNone
			s.frames++
			s.sharpness = score
			s.rawText = det.RawText
			s.lastErr = ""
		})
		return m.finish(out, applied)
	}

	ext, err := m.driver.ExtractValue(ctx, frame, det)
	if ctx.Err() != nil {
		return m.finish(Outcome{}, false)
	}
	if err != nil {
		return m.fail(gen, s, score, atLeastDetecting(phase), det.Screen, err)
	}

	out := Outcome{Screen: det.Screen, Delay: m.delays.Active}
	var captured []Evidence
	applied := s.commit(gen, func() {
		kinds := det.Screen.Kinds()
		for _, k := range kinds {
			if vs := ext.Candidates[k]; len(vs) > 0 {
				s.board.Push(k, vs...)
			}
		}
		out.NewlyConfirmed = s.board.Settle(kinds)
		for _, k := range out.NewlyConfirmed {
			if _, seen := s.evidence[k]; seen {
				continue
			}
			s.evidence[k] = frame
			c, _ := s.board.Confirmed(k)
			captured = append(captured, Evidence{Kind: k, Value: c.Value, Frame: frame, At: time.Now(), Generation: gen})
		}

		switch {
		case s.board.AllConfirmed(s.required):
			s.phase, s.status = PhaseConfirmed, StatusConfirmed
			out.Done = true
		case s.board.AnyConfirmed(kinds):
			s.phase, s.status = PhaseLocking, StatusLocking
		default:
			s.phase, s.status = PhaseDetecting, StatusDetecting
		}
		s.screen = det.Screen
		s.frames++
		s.sharpness = score
		s.rawText = det.RawText
		s.fineText = ext.RawText
		s.lastErr = ""
		if ext.Crop != nil {
			s.crop = ext.Crop
		}
		out.Phase, out.Status = s.phase, s.status
	})
	if !applied {
		return m.finish(Outcome{}, false)
	}

	for _, ev := range captured {
		slog.Info("Field confirmed", "field", ev.Kind, "value", fields.Format(ev.Kind, ev.Value))
		confirmations.WithLabelValues(string(ev.Kind)).Inc()
		if m.sink != nil && s.Generation() == gen {
			if err := m.sink.Store(ctx, ev); err != nil {
				slog.Warn("Failed to store evidence", "field", ev.Kind, "error", err)
			}
		}
	}
	if out.Done {
		slog.Info("All required fields confirmed", "cycles", s.Snapshot().Cycles)
	}
	return m.finish(out, true)
}

func atLeastDetecting(p Phase) Phase {
	if p == PhaseScanning {
		return PhaseDetecting
	}
	return p
}

func (m *Machine) fail(gen uint64, s *Session, score float64, phase Phase, screen fields.Screen, err error) Outcome {
	slog.Warn("Recognition cycle failed", "error", err)
	out := Outcome{Status: StatusError, Phase: phase, Screen: screen, Delay: m.delays.forPhase(phase), Err: err}
	applied := s.commit(gen, func() {
		s.phase = phase
		s.status = StatusError
		if screen != fields.ScreenNone {
			s.screen = screen
		}
		s.frames++
		s.sharpness = score
		s.lastErr = err.Error()
	})
	return m.finish(out, applied)
}

// CaptureFailed records a cycle that got no frame from its source.
func (m *Machine) CaptureFailed(s *Session, err error) Outcome {
	gen, phase := s.begin()
	if phase == PhaseConfirmed {
		return Outcome{Status: StatusConfirmed, Phase: phase, Done: true}
	}
	slog.Warn("Frame capture failed", "error", err)
	out := Outcome{Status: StatusError, Phase: phase, Delay: m.delays.forPhase(phase), Err: err}
	applied := s.commit(gen, func() {
		s.status = StatusError
		s.lastErr = err.Error()
	})
	return m.finish(out, applied)
}

func (m *Machine) finish(out Outcome, applied bool) Outcome {
	if !applied {
		cycleOutcomes.WithLabelValues("discarded").Inc()
		return Outcome{Discarded: true}
	}
	cycleOutcomes.WithLabelValues(string(out.Status)).Inc()
	slog.Debug("Cycle complete", "status", out.Status, "phase", out.Phase, "screen", out.Screen, "delay", out.Delay)
	return out
}
