// Package scan sequences recognition cycles into a confirmation protocol:
// a per-session state machine fed one frame at a time, and a runner that
// schedules cycles against a capture source.
package scan

import (
	"image"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/candidate"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
)

// Phase is the session progress.
type Phase string

const (
	PhaseScanning  Phase = "scanning"
	PhaseDetecting Phase = "detecting"
	PhaseLocking   Phase = "locking"
	PhaseConfirmed Phase = "confirmed"
)

// Status describes the last cycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusBlurry    Status = "blurry"
	StatusScanning  Status = "scanning"
	StatusDetecting Status = "detecting"
	StatusLocking   Status = "locking"
	StatusConfirmed Status = "confirmed"
	StatusError     Status = "error"
)

// Session is the aggregate state of one scan. All mutation goes through
// the machine; readers take snapshots.
type Session struct {
	mu sync.RWMutex

	mode     fields.Mode
	required []fields.Kind
	tracked  []fields.Kind
	board    *candidate.Board

	phase     Phase
	status    Status
	screen    fields.Screen
	cycles    int
	frames    int
	blurry    int
	sharpness float64
	rawText   string
	fineText  string
	crop      image.Image
	evidence  map[fields.Kind]image.Image
	lastErr   string
	updated   time.Time

	generation uint64
}

// NewSession creates a session that completes once every required kind is
// confirmed. A nil required list uses the mode default.
func NewSession(mode fields.Mode, required []fields.Kind, capacity, minSupport int) *Session {
	if len(required) == 0 {
		required = fields.DefaultRequired(mode)
	}
	tracked := fields.ScreenSerial.Kinds()
	tracked = append(tracked, fields.ScreenIMEI.Kinds()...)
	if mode == fields.ModeCard {
		tracked = fields.ScreenCard.Kinds()
	}
	for _, k := range required {
		if !slices.Contains(tracked, k) {
			tracked = append(tracked, k)
		}
	}
	s := &Session{
		mode:     mode,
		required: slices.Clone(required),
		tracked:  tracked,
		board:    candidate.NewBoard(capacity, minSupport),
	}
	s.clear()
	return s
}

func (s *Session) clear() {
	s.board.Reset()
	// Histories exist up front so snapshots never mutate the board.
	for _, k := range s.tracked {
		s.board.History(k)
	}
	s.phase = PhaseScanning
	s.status = StatusIdle
	s.screen = fields.ScreenNone
	s.cycles, s.frames, s.blurry = 0, 0, 0
	s.sharpness = 0
	s.rawText, s.fineText, s.lastErr = "", "", ""
	s.crop = nil
	s.evidence = make(map[fields.Kind]image.Image)
	s.updated = time.Now()
}

// Reset clears every history, confirmation and snapshot. Cycles started
// before the reset are discarded when they complete.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.clear()
}

// Mode returns the scanning variant.
func (s *Session) Mode() fields.Mode { return s.mode }

// Required returns the kinds the session must confirm.
func (s *Session) Required() []fields.Kind { return slices.Clone(s.required) }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Evidence returns the frame captured when k was first confirmed.
func (s *Session) Evidence(k fields.Kind) (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.evidence[k]
	return img, ok
}

// CropPreview returns the last fine-pass input.
func (s *Session) CropPreview() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.crop
}

// Generation counts resets. Results of a cycle begun in an older
// generation are discarded.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// begin returns the generation and phase a cycle starts from.
func (s *Session) begin() (uint64, Phase) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, s.phase
}

// commit applies fn unless the session was reset since gen.
func (s *Session) commit(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	fn()
	s.cycles++
	s.updated = time.Now()
	return true
}

// FieldState is the per-kind view of a snapshot.
type FieldState struct {
	Kind       fields.Kind       `json:"kind" yaml:"kind"`
	Required   bool              `json:"required" yaml:"required"`
	Confirmed  bool              `json:"confirmed" yaml:"confirmed"`
	Value      string            `json:"value,omitempty" yaml:"value,omitempty"`
	Display    string            `json:"display,omitempty" yaml:"display,omitempty"`
	Support    int               `json:"support,omitempty" yaml:"support,omitempty"`
	Confidence int               `json:"confidence" yaml:"confidence"`
	Evidence   bool              `json:"evidence" yaml:"evidence"`
	Tally      []candidate.Entry `json:"tally,omitempty" yaml:"tally,omitempty"`
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	Mode      fields.Mode   `json:"mode" yaml:"mode"`
	Phase     Phase         `json:"phase" yaml:"phase"`
	Status    Status        `json:"status" yaml:"status"`
	Screen    fields.Screen `json:"screen" yaml:"screen"`
	Cycles    int           `json:"cycles" yaml:"cycles"`
	Frames    int           `json:"frames" yaml:"frames"`
	Blurry    int           `json:"blurry" yaml:"blurry"`
	Sharpness float64       `json:"sharpness" yaml:"sharpness"`
	Fields    []FieldState  `json:"fields" yaml:"fields"`
	RawText   string        `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
	FineText  string        `json:"fine_text,omitempty" yaml:"fine_text,omitempty"`
	LastError string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"updated_at"`
}

// Field returns the state of k, if tracked.
func (s Snapshot) Field(k fields.Kind) (FieldState, bool) {
	for _, f := range s.Fields {
		if f.Kind == k {
			return f, true
		}
	}
	return FieldState{}, false
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Mode:      s.mode,
		Phase:     s.phase,
		Status:    s.status,
		Screen:    s.screen,
		Cycles:    s.cycles,
		Frames:    s.frames,
		Blurry:    s.blurry,
		Sharpness: s.sharpness,
		RawText:   s.rawText,
		FineText:  s.fineText,
		LastError: s.lastErr,
		UpdatedAt: s.updated,
	}
	for _, k := range s.tracked {
		h := s.board.History(k)
		fs := FieldState{
			Kind:       k,
			Required:   slices.Contains(s.required, k),
			Confidence: h.Confidence(),
			Tally:      h.Tally(),
		}
		if c, ok := s.board.Confirmed(k); ok {
			fs.Confirmed = true
			fs.Value = c.Value
			fs.Display = fields.Format(k, c.Value)
			fs.Support = c.Support
		}
		_, fs.Evidence = s.evidence[k]
		snap.Fields = append(snap.Fields, fs)
	}
	return snap
}
