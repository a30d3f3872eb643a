package pipeline

import (
	"time"

	"github.com/MeKo-Tech/fieldscan/internal/evidence"
	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/scan"
)

// FieldResult is the outcome for one field.
type FieldResult struct {
	Kind       fields.Kind `json:"kind" yaml:"kind"`
	Value      string      `json:"value,omitempty" yaml:"value,omitempty"`
	Confirmed  bool        `json:"confirmed" yaml:"confirmed"`
	Required   bool        `json:"required" yaml:"required"`
	Support    int         `json:"support,omitempty" yaml:"support,omitempty"`
	Confidence int         `json:"confidence" yaml:"confidence"`
	// Evidence is the path of the stored frame, if any.
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Result is the outcome of scanning one source.
type Result struct {
	Source   string        `json:"source" yaml:"source"`
	Mode     fields.Mode   `json:"mode" yaml:"mode"`
	Phase    scan.Phase    `json:"phase" yaml:"phase"`
	Status   scan.Status   `json:"status" yaml:"status"`
	Screen   fields.Screen `json:"screen" yaml:"screen"`
	Complete bool          `json:"complete" yaml:"complete"`
	Cycles   int           `json:"cycles" yaml:"cycles"`
	Frames   int           `json:"frames" yaml:"frames"`
	Blurry   int           `json:"blurry" yaml:"blurry"`
	Fields   []FieldResult `json:"fields" yaml:"fields"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	// Report is the PDF evidence report path, when one was written.
	Report     string `json:"report,omitempty" yaml:"report,omitempty"`
	Processing struct {
		TotalNs int64 `json:"total_ns" yaml:"total_ns"`
	} `json:"processing" yaml:"processing"`
}

// NewResult builds a result from a session snapshot. An unconfirmed field
// reports its leading candidate. Fields with neither a candidate nor a
// requirement are left out.
func NewResult(source string, snap scan.Snapshot, records []evidence.Record, elapsed time.Duration) *Result {
	res := &Result{
		Source:   source,
		Mode:     snap.Mode,
		Phase:    snap.Phase,
		Status:   snap.Status,
		Screen:   snap.Screen,
		Complete: snap.Phase == scan.PhaseConfirmed,
		Cycles:   snap.Cycles,
		Frames:   snap.Frames,
		Blurry:   snap.Blurry,
		Error:    snap.LastError,
	}
	res.Processing.TotalNs = elapsed.Nanoseconds()

	paths := make(map[fields.Kind]string, len(records))
	for _, r := range records {
		paths[r.Kind] = r.Path
	}
	for _, f := range snap.Fields {
		value := f.Display
		if !f.Confirmed && len(f.Tally) > 0 {
			value = fields.Format(f.Kind, f.Tally[0].Value)
		}
		if value == "" && !f.Required {
			continue
		}
		res.Fields = append(res.Fields, FieldResult{
			Kind:       f.Kind,
			Value:      value,
			Confirmed:  f.Confirmed,
			Required:   f.Required,
			Support:    f.Support,
			Confidence: f.Confidence,
			Evidence:   paths[f.Kind],
		})
	}
	return res
}

// Field returns the result for k.
func (r *Result) Field(k fields.Kind) (FieldResult, bool) {
	for _, f := range r.Fields {
		if f.Kind == k {
			return f, true
		}
	}
	return FieldResult{}, false
}
