package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
)

var (
	// ErrNoSource is returned when scanning is started without a source.
	ErrNoSource = errors.New("no capture source selected")
	// ErrRunning is returned by Start while the loop is active.
	ErrRunning = errors.New("scan already running")
)

// DefaultBackoff is the re-check interval of a deferred cycle.
const DefaultBackoff = 50 * time.Millisecond

// State describes the runner for status displays.
type State struct {
	Active  bool         `json:"active" yaml:"active"`
	Running bool         `json:"running" yaml:"running"`
	Source  capture.Kind `json:"source,omitempty" yaml:"source,omitempty"`
}

// Runner schedules cycles of a machine over one session and source. At most
// one cycle is in flight; the loop runs a cycle, then waits for the delay
// the outcome asks for.
type Runner struct {
	machine *Machine
	session *Session
	backoff time.Duration

	mu     sync.Mutex
	source capture.Source
	opened bool
	active bool
	cancel context.CancelFunc
	done   chan struct{}

	busy atomic.Bool

	// haltMu orders a loop halting on confirmation against Reset.
	haltMu sync.Mutex
	halted bool

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// NewRunner returns an idle runner with no source.
func NewRunner(m *Machine, s *Session) *Runner {
	return &Runner{
		machine: m,
		session: s,
		backoff: DefaultBackoff,
		subs:    make(map[chan Snapshot]struct{}),
	}
}

// Session returns the scanned session.
func (r *Runner) Session() *Session { return r.session }

// Snapshot returns the current session snapshot.
func (r *Runner) Snapshot() Snapshot { return r.session.Snapshot() }

// State reports whether the loop is active and which source it reads.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{Active: r.active, Running: r.active && !closed(r.done)}
	if r.source != nil {
		st.Source = r.source.Kind()
	}
	return st
}

// SetActiveSource opens src and makes it the frame source, closing the
// previous one. A running loop restarts on the new source. On error the
// runner is left without a source and stopped.
func (r *Runner) SetActiveSource(ctx context.Context, src capture.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.active
	if err := r.stopLocked(); err != nil {
		slog.Warn("Failed to close previous source", "error", err)
	}
	r.source = nil

	if err := src.Open(ctx); err != nil {
		return err
	}
	r.source, r.opened = src, true
	slog.Info("Capture source selected", "source", src.Kind())

	if wasActive {
		r.active = true
		r.startLocked()
	}
	return nil
}

// Start begins scheduling cycles.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrRunning
	}
	if err := r.openLocked(ctx); err != nil {
		return err
	}
	r.active = true
	r.startLocked()
	slog.Info("Scan started", "source", r.source.Kind())
	return nil
}

// Stop cancels the pending cycle, waits for an in-flight one to be
// discarded and closes the source.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wasActive := r.active
	err := r.stopLocked()
	if wasActive {
		slog.Info("Scan stopped")
	}
	return err
}

// Reset clears the session. It does not stop an active loop, and re-arms
// one that halted after confirming everything.
func (r *Runner) Reset() {
	r.session.Reset()
	r.mu.Lock()
	r.haltMu.Lock()
	halted := r.halted
	r.haltMu.Unlock()
	if r.active && (halted || closed(r.done)) {
		r.startLocked()
	}
	r.mu.Unlock()
	r.publish()
}

// halt reports whether the loop may exit after a completing cycle. A reset
// that landed after the cycle committed keeps the loop going instead.
func (r *Runner) halt() bool {
	r.haltMu.Lock()
	defer r.haltMu.Unlock()
	if r.session.Phase() != PhaseConfirmed {
		return false
	}
	r.halted = true
	return true
}

// Step runs one cycle synchronously, waiting for an in-flight cycle first.
func (r *Runner) Step(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	if err := r.openLocked(ctx); err != nil {
		r.mu.Unlock()
		return Outcome{}, err
	}
	src := r.source
	r.mu.Unlock()

	if err := r.acquire(ctx); err != nil {
		return Outcome{}, err
	}
	out := r.cycle(ctx, src)
	r.busy.Store(false)
	r.publish()
	return out, nil
}

// Subscribe returns a channel receiving a snapshot after every applied
// cycle and reset. Slow receivers miss snapshots rather than stall the loop.
func (r *Runner) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}
}

// Close stops the loop and ends every subscription.
func (r *Runner) Close() error {
	err := r.Stop()
	r.subMu.Lock()
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
	r.subMu.Unlock()
	return err
}

func (r *Runner) openLocked(ctx context.Context) error {
	if r.source == nil {
		return ErrNoSource
	}
	if r.opened {
		return nil
	}
	if err := r.source.Open(ctx); err != nil {
		return err
	}
	r.opened = true
	return nil
}

func (r *Runner) startLocked() {
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	r.haltMu.Lock()
	r.halted = false
	r.haltMu.Unlock()
	runnerActive.Inc()
	go r.loop(ctx, r.source, done)
}

func (r *Runner) stopLocked() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel, r.done = nil, nil
	}
	r.active = false
	if !r.opened || r.source == nil {
		return nil
	}
	r.opened = false
	return r.source.Close()
}

func (r *Runner) loop(ctx context.Context, src capture.Source, done chan struct{}) {
	defer close(done)
	defer runnerActive.Dec()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := r.acquire(ctx); err != nil {
			return
		}
		out := r.cycle(ctx, src)
		r.busy.Store(false)

		if ctx.Err() != nil {
			return
		}
		r.publish()
		if out.Done && r.halt() {
			slog.Info("Scan complete", "source", src.Kind())
			return
		}

		delay := out.Delay
		if out.Discarded || out.Done {
			delay = r.machine.Delays().Scanning
		}
		timer.Reset(delay)
	}
}

func (r *Runner) cycle(ctx context.Context, src capture.Source) Outcome {
	frame, err := src.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Discarded: true}
		}
		captureFailures.WithLabelValues(string(src.Kind())).Inc()
		return r.machine.CaptureFailed(r.session, err)
	}
	return r.machine.RunCycle(ctx, r.session, frame)
}

func (r *Runner) acquire(ctx context.Context) error {
	for !r.busy.CompareAndSwap(false, true) {
		deferredCycles.Inc()
		t := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (r *Runner) publish() {
	snap := r.session.Snapshot()
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
