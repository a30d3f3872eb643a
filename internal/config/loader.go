package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "fieldscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "FIELDSCAN"

	// DotEnvFile is loaded into the environment before configuration is read.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, so that flag
// bindings made by the commands apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on v.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the .env file, the first configuration file found on the search
// paths, environment variables and defaults, then validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final validation.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if err := LoadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and environment only.
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// ocr.remote_url -> FIELDSCAN_OCR_REMOTE_URL
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options. Every key
// needs a default for AutomaticEnv to see it during Unmarshal.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("ocr.backend", defaults.OCR.Backend)
	l.v.SetDefault("ocr.profile", defaults.OCR.Profile)
	l.v.SetDefault("ocr.language", defaults.OCR.Language)
	l.v.SetDefault("ocr.remote_url", defaults.OCR.RemoteURL)
	l.v.SetDefault("ocr.timeout", defaults.OCR.Timeout)

	l.v.SetDefault("scan.mode", defaults.Scan.Mode)
	l.v.SetDefault("scan.required", defaults.Scan.Required)
	l.v.SetDefault("scan.sharpness_threshold", defaults.Scan.SharpnessThreshold)
	l.v.SetDefault("scan.sample_width", defaults.Scan.SampleWidth)
	l.v.SetDefault("scan.coarse_width", defaults.Scan.CoarseWidth)
	l.v.SetDefault("scan.preprocess", defaults.Scan.Preprocess)
	l.v.SetDefault("scan.history_size", defaults.Scan.HistorySize)
	l.v.SetDefault("scan.min_support", defaults.Scan.MinSupport)
	l.v.SetDefault("scan.max_cycles", defaults.Scan.MaxCycles)
	l.v.SetDefault("scan.crop.target_height", defaults.Scan.Crop.TargetHeight)
	l.v.SetDefault("scan.crop.max_width", defaults.Scan.Crop.MaxWidth)
	l.v.SetDefault("scan.crop.pad_top", defaults.Scan.Crop.PadTop)
	l.v.SetDefault("scan.crop.pad_bottom", defaults.Scan.Crop.PadBottom)
	l.v.SetDefault("scan.delays.blur", defaults.Scan.Delays.Blur)
	l.v.SetDefault("scan.delays.scanning", defaults.Scan.Delays.Scanning)
	l.v.SetDefault("scan.delays.active", defaults.Scan.Delays.Active)

	l.v.SetDefault("capture.source", defaults.Capture.Source)
	l.v.SetDefault("capture.path", defaults.Capture.Path)
	l.v.SetDefault("capture.page", defaults.Capture.Page)
	l.v.SetDefault("capture.device", defaults.Capture.Device)
	l.v.SetDefault("capture.display", defaults.Capture.Display)
	l.v.SetDefault("capture.width", defaults.Capture.Width)
	l.v.SetDefault("capture.height", defaults.Capture.Height)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.autostart", defaults.Server.Autostart)

	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.evidence_dir", defaults.Output.EvidenceDir)
	l.v.SetDefault("output.report", defaults.Output.Report)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename, fieldscan.yaml
// when empty.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWith(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}
