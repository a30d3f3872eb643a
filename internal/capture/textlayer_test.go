package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/fieldscan/internal/testutil"
)

func TestPageText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	testutil.WriteTextPDF(t, path, "Serial Number FTJHR20GPY", "IMEI (primary) 490154203237518")

	text, err := PageText(path, 1)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "FTJHR20GPY")
	assert.Contains(t, lines[1], "(primary)")
}

func TestPageText_Errors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.pdf")
	testutil.WriteTextPDF(t, empty)
	_, err := PageText(empty, 1)
	assert.ErrorIs(t, err, ErrNoText)

	_, err = PageText(empty, 3)
	assert.ErrorIs(t, err, ErrUnavailable)

	garbage := filepath.Join(dir, "garbage.pdf")
	require.NoError(t, os.WriteFile(garbage, []byte("not a pdf"), 0o600))
	_, err = PageText(garbage, 1)
	assert.ErrorIs(t, err, ErrUnavailable)

	var se *SourceError
	assert.ErrorAs(t, err, &se)
}
