package candidate

import "github.com/MeKo-Tech/fieldscan/internal/fields"

// Confirmation is a value that reached minimum support.
type Confirmation struct {
	Value   string `json:"value" yaml:"value"`
	Support int    `json:"support" yaml:"support"`
}

// Board holds one history per field kind and the confirmations derived from
// them. A confirmation, once made, stays until Reset even if a different
// value later takes the majority. Not safe for concurrent use.
type Board struct {
	capacity   int
	minSupport int
	histories  map[fields.Kind]*History
	confirmed  map[fields.Kind]Confirmation
}

// NewBoard returns an empty board.
func NewBoard(capacity, minSupport int) *Board {
	if minSupport <= 0 {
		minSupport = DefaultMinSupport
	}
	return &Board{
		capacity:   capacity,
		minSupport: minSupport,
		histories:  make(map[fields.Kind]*History),
		confirmed:  make(map[fields.Kind]Confirmation),
	}
}

// MinSupport returns the confirmation threshold.
func (b *Board) MinSupport() int { return b.minSupport }

// History returns the history for k, creating it on first use.
func (b *Board) History(k fields.Kind) *History {
	h, ok := b.histories[k]
	if !ok {
		h = NewHistory(b.capacity)
		b.histories[k] = h
	}
	return h
}

// Push appends values to the history of k.
func (b *Board) Push(k fields.Kind, values ...string) {
	h := b.History(k)
	for _, v := range values {
		h.Push(v)
	}
}

// Settle resolves each of kinds and returns those confirmed by this call.
func (b *Board) Settle(kinds []fields.Kind) []fields.Kind {
	var newly []fields.Kind
	for _, k := range kinds {
		if _, done := b.confirmed[k]; done {
			continue
		}
		v, n, ok := b.History(k).Resolve(b.minSupport)
		if !ok {
			continue
		}
		b.confirmed[k] = Confirmation{Value: v, Support: n}
		newly = append(newly, k)
	}
	return newly
}

// Confirmed returns the confirmation for k.
func (b *Board) Confirmed(k fields.Kind) (Confirmation, bool) {
	c, ok := b.confirmed[k]
	return c, ok
}

// AnyConfirmed reports whether at least one of kinds is confirmed.
func (b *Board) AnyConfirmed(kinds []fields.Kind) bool {
	for _, k := range kinds {
		if _, ok := b.confirmed[k]; ok {
			return true
		}
	}
	return false
}

// AllConfirmed reports whether every one of kinds is confirmed. An empty
// list is never complete.
func (b *Board) AllConfirmed(kinds []fields.Kind) bool {
	if len(kinds) == 0 {
		return false
	}
	for _, k := range kinds {
		if _, ok := b.confirmed[k]; !ok {
			return false
		}
	}
	return true
}

// Reset clears every history and confirmation.
func (b *Board) Reset() {
	b.histories = make(map[fields.Kind]*History)
	b.confirmed = make(map[fields.Kind]Confirmation)
}
