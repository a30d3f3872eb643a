package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	old := [3]string{Version, GitCommit, BuildDate}
	t.Cleanup(func() { Version, GitCommit, BuildDate = old[0], old[1], old[2] })

	Version, GitCommit, BuildDate = "1.2.0", "abc123", "2026-10-01"
	v, c, d := Info()
	assert.Equal(t, [3]string{"1.2.0", "abc123", "2026-10-01"}, [3]string{v, c, d})
	assert.Contains(t, String(), "fieldscan 1.2.0 (commit abc123, built 2026-10-01, go")
}
