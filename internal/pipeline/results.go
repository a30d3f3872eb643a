package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON serializes a result to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToYAML serializes a result to YAML.
func ToYAML(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := yaml.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText renders one line per field, confirmed values first marked
// with a check, followed by a status line.
func ToPlainText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var b strings.Builder
	for _, f := range res.Fields {
		mark := " "
		if f.Confirmed {
			mark = "✓"
		}
		value := f.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "%s %-13s %s (%d%%)\n", mark, f.Kind, value, f.Confidence)
	}
	state := "incomplete"
	if res.Complete {
		state = "complete"
	}
	fmt.Fprintf(&b, "%s after %d cycle(s), %d blurry, status %s", state, res.Cycles, res.Blurry, res.Status)
	if res.Error != "" {
		fmt.Fprintf(&b, ", last error: %s", res.Error)
	}
	return b.String(), nil
}

// Format renders res as text, json or yaml.
func Format(res *Result, format string) (string, error) {
	switch format {
	case "", "text":
		return ToPlainText(res)
	case "json":
		return ToJSON(res)
	case "yaml":
		return ToYAML(res)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
