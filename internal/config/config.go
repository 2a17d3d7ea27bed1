// Package config is the single source of truth for configuration and file
// paths used by the activation core. Values come from built-in defaults,
// overridden by an optional YAML file, overridden by ACTIKEY_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "ACTIKEY"

// Config represents the complete activation core configuration
type Config struct {
	Paths      PathsConfig      `yaml:"paths" envconfig:"PATHS"`
	Time       TimeConfig       `yaml:"time" envconfig:"TIME"`
	Activation ActivationConfig `yaml:"activation" envconfig:"ACTIVATION"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
}

// PathsConfig contains the persisted-file locations. All relative paths
// are resolved against DataDir, and DataDir itself against the host
// application's data directory.
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" envconfig:"DATA_DIR"`
	RecordFile     string `yaml:"record_file" envconfig:"RECORD_FILE" validate:"required"`
	KeyFile        string `yaml:"key_file" envconfig:"KEY_FILE" validate:"required"`
	CheckpointFile string `yaml:"checkpoint_file" envconfig:"CHECKPOINT_FILE" validate:"required"`
	PublicKeyFile  string `yaml:"public_key_file" envconfig:"PUBLIC_KEY_FILE"`
}

// TimeConfig tunes secure time acquisition and tamper detection.
type TimeConfig struct {
	Sources           []string      `yaml:"sources" envconfig:"SOURCES"`
	SourceTimeout     time.Duration `yaml:"source_timeout" envconfig:"SOURCE_TIMEOUT" validate:"gt=0"`
	OverallTimeout    time.Duration `yaml:"overall_timeout" envconfig:"OVERALL_TIMEOUT" validate:"gt=0"`
	BackwardTolerance time.Duration `yaml:"backward_tolerance" envconfig:"BACKWARD_TOLERANCE" validate:"gt=0"`
	// MaxForwardGap rejects local-clock readings that jump further ahead
	// of the last checkpoint than this window. Zero disables the check;
	// enabling it can lock out users who simply did not run the app for
	// a while, so it is off by default.
	MaxForwardGap time.Duration `yaml:"max_forward_gap" envconfig:"MAX_FORWARD_GAP"`
}

// ActivationConfig tunes validation policy around the signed code fields.
type ActivationConfig struct {
	// ExpiryWarningDays controls how close to expiry the manager starts
	// emitting activation-expiring events.
	ExpiryWarningDays int     `yaml:"expiry_warning_days" envconfig:"EXPIRY_WARNING_DAYS" validate:"gte=0"`
	AttemptRPS        float64 `yaml:"attempt_rps" envconfig:"ATTEMPT_RPS" validate:"gt=0"`
	AttemptBurst      int     `yaml:"attempt_burst" envconfig:"ATTEMPT_BURST" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
}

// DefaultTimeSources are the remote endpoints asked for the current time,
// tried in order. Each must serve a standard HTTP Date header.
var DefaultTimeSources = []string{
	"https://www.cloudflare.com",
	"https://www.google.com",
	"https://www.apple.com",
}

// Default returns the built-in configuration. Defaults live here rather
// than in struct tags so that file values survive the env pass: envconfig
// would re-apply a tag default over anything the file set whenever the
// matching variable is unset.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			RecordFile:     "activation.dat",
			KeyFile:        "activation.key",
			CheckpointFile: "timecheck.json",
		},
		Time: TimeConfig{
			Sources:           DefaultTimeSources,
			SourceTimeout:     3 * time.Second,
			OverallTimeout:    5 * time.Second,
			BackwardTolerance: 5 * time.Minute,
		},
		Activation: ActivationConfig{
			ExpiryWarningDays: 30,
			AttemptRPS:        1,
			AttemptBurst:      5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// configFile (skipped when empty or absent), then environment overrides.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables take precedence over the file. With no
	// defaults in the struct tags, envconfig leaves unset fields alone.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if len(cfg.Time.Sources) == 0 {
		cfg.Time.Sources = DefaultTimeSources
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// resolvePaths anchors every relative file path under the data directory.
func (c *Config) resolvePaths() error {
	if c.Paths.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		c.Paths.DataDir = dir
	}

	abs, err := filepath.Abs(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}
	c.Paths.DataDir = abs

	c.Paths.RecordFile = c.anchor(c.Paths.RecordFile)
	c.Paths.KeyFile = c.anchor(c.Paths.KeyFile)
	c.Paths.CheckpointFile = c.anchor(c.Paths.CheckpointFile)
	if c.Paths.PublicKeyFile != "" {
		c.Paths.PublicKeyFile = c.anchor(c.Paths.PublicKeyFile)
	}

	return nil
}

func (c *Config) anchor(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.DataDir, path)
}

// EnsureDataDir creates the data directory if it does not exist yet.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Paths.DataDir, 0o700)
}

// defaultDataDir places the data directory under the OS user config dir.
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user config dir: %w", err)
	}
	return filepath.Join(base, "actikey"), nil
}
