package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// inTempDir runs the test from an empty working directory so that no
// fieldscan.yaml or .env from the repository is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// assertDefaults compares against DefaultConfig, treating an empty required
// list the same as a nil one.
func assertDefaults(t *testing.T, cfg *Config) {
	t.Helper()
	assert.Empty(t, cfg.Scan.Required)
	got := *cfg
	got.Scan.Required = nil
	assert.Equal(t, DefaultConfig(), got)
}

func TestNewLoader(t *testing.T) {
	assert.Same(t, viper.GetViper(), NewLoader().GetViper())
	v := viper.New()
	assert.Same(t, v, NewLoaderWith(v).GetViper())
}

func TestLoad_NoConfigFile(t *testing.T) {
	inTempDir(t)

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assertDefaults(t, cfg)
}

func TestLoad_SearchPathFile(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, "fieldscan.yaml"), `
log_level: debug
scan:
  mode: card
  required: [id_number, last_name]
  min_support: 2
  delays:
    active: 2s
capture:
  source: image
  path: frame.png
`)

	loader := NewLoaderWith(viper.New())
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "card", cfg.Scan.Mode)
	assert.Equal(t, []string{"id_number", "last_name"}, cfg.Scan.Required)
	assert.Equal(t, 2, cfg.Scan.MinSupport)
	assert.Equal(t, 2*time.Second, cfg.Scan.Delays.Active)
	assert.Equal(t, 100*time.Millisecond, cfg.Scan.Delays.Blur)
	assert.Equal(t, "image", cfg.Capture.Source)
	assert.Equal(t, "frame.png", cfg.Capture.Path)
	assert.Equal(t, 20, cfg.Scan.HistorySize)
	assert.Equal(t, "fieldscan.yaml", filepath.Base(loader.GetConfigFileUsed()))
}

func TestLoadWithFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "ocr:\n  backend: remote\n  remote_url: http://ocr:8884\n")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remote", cfg.OCR.Backend)
	assert.Equal(t, "http://ocr:8884", cfg.OCR.RemoteURL)
}

func TestLoadWithFile_Errors(t *testing.T) {
	dir := inTempDir(t)

	_, err := NewLoaderWith(viper.New()).LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "scan: [unterminated\n")
	_, err = NewLoaderWith(viper.New()).LoadWithFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "scan:\n  mode: passport\n")
	_, err = NewLoaderWith(viper.New()).LoadWithFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "passport", cfg.Scan.Mode)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	inTempDir(t)
	t.Setenv("FIELDSCAN_LOG_LEVEL", "warn")
	t.Setenv("FIELDSCAN_SCAN_SHARPNESS_THRESHOLD", "55.5")
	t.Setenv("FIELDSCAN_SCAN_DELAYS_SCANNING", "250ms")
	t.Setenv("FIELDSCAN_SERVER_PORT", "9090")

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.InDelta(t, 55.5, cfg.Scan.SharpnessThreshold, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.Delays.Scanning)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, ".env"), "FIELDSCAN_SCAN_MODE=card\nFIELDSCAN_SERVER_HOST=0.0.0.0\n")
	// Variables already present win over the file.
	t.Setenv("FIELDSCAN_SERVER_HOST", "127.0.0.1")
	t.Cleanup(func() { _ = os.Unsetenv("FIELDSCAN_SCAN_MODE") })

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "card", cfg.Scan.Mode)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadDotEnv_Missing(t *testing.T) {
	dir := inTempDir(t)
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "nope.env")))
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "generated.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "scan")
	assert.Contains(t, raw, "capture")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assertDefaults(t, cfg)
}

func TestGetConfigSearchPaths(t *testing.T) {
	dir := inTempDir(t)
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, dir)
	assert.Contains(t, paths, filepath.Join(dir, "xdg", "fieldscan"))
	assert.Equal(t, "/etc/fieldscan", paths[len(paths)-1])
}
