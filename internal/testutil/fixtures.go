package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fieldscan/internal/fields"
	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
	"github.com/MeKo-Tech/fieldscan/internal/ocr/mock"
)

// ScreenFixture is a recorded screen: what the coarse pass reads off the
// whole frame, what the fine pass reads off the crop, and the values a scan
// should confirm.
type ScreenFixture struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Screen      fields.Screen          `json:"screen"`
	Coarse      []ocr.Line             `json:"coarse"`
	FineMode    ocr.PageSegMode        `json:"fine_mode"`
	Fine        string                 `json:"fine"`
	Expected    map[fields.Kind]string `json:"expected"`
}

// SerialScreen is a settings page listing the serial number next to its label.
func SerialScreen() ScreenFixture {
	return ScreenFixture{
		Name:   "serial",
		Screen: fields.ScreenSerial,
		Coarse: []ocr.Line{
			{Text: "Serial Number | FTJHR20GPY", Box: geometry.Box{X0: 100, Y0: 200, X1: 400, Y1: 220}},
		},
		FineMode: ocr.PSMSingleLine,
		Fine:     "Serial Number | FTJHR20GPY",
		Expected: map[fields.Kind]string{fields.Serial: "FTJHR20GPY"},
	}
}

// IMEIScreen shows both labels; only IMEI values are readable, so it must
// classify as the IMEI screen.
func IMEIScreen() ScreenFixture {
	return ScreenFixture{
		Name:        "imei",
		Description: "serial and IMEI labels, IMEI values only",
		Screen:      fields.ScreenIMEI,
		Coarse: []ocr.Line{
			{Text: "Serial number", Box: geometry.Box{X0: 10, Y0: 40, X1: 120, Y1: 60}},
			{Text: "IMEI", Box: geometry.Box{X0: 10, Y0: 100, X1: 60, Y1: 120}},
			{Text: "49 015420 323751 8", Box: geometry.Box{X0: 10, Y0: 125, X1: 200, Y1: 145}},
		},
		FineMode: ocr.PSMSingleBlock,
		Fine:     "IMEI\n49 015420 323751 8\n356938035643809",
		Expected: map[fields.Kind]string{
			fields.IMEI:  "490154203237518",
			fields.IMEI2: "356938035643809",
		},
	}
}

// Script queues the fixture's answers on eng. The last answer of each mode
// repeats, so every cycle sees the same screen.
func (f ScreenFixture) Script(eng *mock.Engine) *mock.Engine {
	eng.OnLines(ocr.PSMSparseText, f.Coarse...)
	eng.OnText(f.FineMode, f.Fine)
	return eng
}

// Engine returns a fresh mock engine scripted with the fixture.
func (f ScreenFixture) Engine() *mock.Engine {
	return f.Script(mock.New())
}

// LoadFixture loads a screen fixture from testdata/fixtures/<name>.json.
func LoadFixture(t *testing.T, name string) ScreenFixture {
	t.Helper()
	return LoadFixtureFile(t, filepath.Join(GetFixturesDir(t), name+".json"))
}

// LoadFixtureFile loads a screen fixture from path.
func LoadFixtureFile(t *testing.T, path string) ScreenFixture {
	t.Helper()

	data, err := os.ReadFile(path) //nolint:gosec // G304: Reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", path)

	var fixture ScreenFixture
	require.NoError(t, json.Unmarshal(data, &fixture), "Failed to parse fixture JSON")
	return fixture
}

// SaveFixture writes a fixture as JSON into dir.
func SaveFixture(t *testing.T, dir string, fixture ScreenFixture) string {
	t.Helper()

	require.NoError(t, EnsureDir(dir))
	data, err := json.MarshalIndent(fixture, "", "  ")
	require.NoError(t, err, "Failed to marshal fixture")

	path := filepath.Join(dir, fixture.Name+".json")
	require.NoError(t, os.WriteFile(path, data, 0o600), "Failed to write fixture file")
	return path
}

// ValidateFixture checks that a fixture can drive a scan.
func ValidateFixture(t *testing.T, fixture ScreenFixture) {
	t.Helper()

	require.NotEmpty(t, fixture.Name, "Fixture name should not be empty")
	require.NotEmpty(t, fixture.Coarse, "Fixture needs coarse lines")
	require.NotEmpty(t, fixture.Expected, "Fixture needs expected values")
	for k := range fixture.Expected {
		require.True(t, fixture.Screen.Shows(k), "Screen %s does not show %s", fixture.Screen, k)
	}
}
