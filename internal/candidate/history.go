// Package candidate turns a noisy stream of OCR readings into confirmed
// values by majority vote over a sliding window.
package candidate

import (
	"math"
	"sort"
)

// DefaultCapacity is the sliding window length.
const DefaultCapacity = 20

// DefaultMinSupport is the occurrence count a value needs to be confirmed.
const DefaultMinSupport = 3

// Entry is one distinct value in a history with its occurrence count.
type Entry struct {
	Value string `json:"value" yaml:"value"`
	Count int    `json:"count" yaml:"count"`
	// LastSeen is the window index of the most recent occurrence.
	LastSeen int `json:"-" yaml:"-"`
}

// History is a bounded window of raw values for one field. The oldest value
// is evicted once the window is full. Not safe for concurrent use.
type History struct {
	values   []string
	capacity int
}

// NewHistory returns an empty history. Non-positive capacity uses the default.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity}
}

// Push appends v, evicting the oldest value beyond capacity.
func (h *History) Push(v string) {
	h.values = append(h.values, v)
	if over := len(h.values) - h.capacity; over > 0 {
		h.values = append(h.values[:0], h.values[over:]...)
	}
}

// Len returns the number of values in the window.
func (h *History) Len() int { return len(h.values) }

// Values returns a copy of the window, oldest first.
func (h *History) Values() []string { return append([]string(nil), h.values...) }

// Reset empties the window.
func (h *History) Reset() { h.values = h.values[:0] }

// Tally counts each distinct value, ordered by count descending and, among
// equal counts, by most recent occurrence first.
func (h *History) Tally() []Entry {
	idx := map[string]int{}
	var entries []Entry
	for i, v := range h.values {
		j, ok := idx[v]
		if !ok {
			idx[v] = len(entries)
			entries = append(entries, Entry{Value: v, Count: 1, LastSeen: i})
			continue
		}
		entries[j].Count++
		entries[j].LastSeen = i
	}
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].Count != entries[b].Count {
			return entries[a].Count > entries[b].Count
		}
		return entries[a].LastSeen > entries[b].LastSeen
	})
	return entries
}

// Resolve returns the value with the strictly highest count if that count
// reaches minSupport. A tie for the highest count resolves to nothing.
func (h *History) Resolve(minSupport int) (string, int, bool) {
	tally := h.Tally()
	if len(tally) == 0 {
		return "", 0, false
	}
	top := tally[0]
	if len(tally) > 1 && tally[1].Count == top.Count {
		return "", 0, false
	}
	if top.Count < minSupport {
		return "", 0, false
	}
	return top.Value, top.Count, true
}

// Confidence scores agreement and sample size in 0..100:
// min(100, round(maxCount/len * 100 * min(len,5)/5)).
func (h *History) Confidence() int {
	n := len(h.values)
	if n == 0 {
		return 0
	}
	ratio := float64(h.Tally()[0].Count) / float64(n)
	score := math.Round(ratio * 100 * float64(min(n, 5)) / 5)
	return int(math.Min(100, score))
}
