package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "radio-cycler.yaml"

// Config represents the immutable per-run settings for the cycler.
type Config struct {
	AdbPath              string        `yaml:"adb_path"`
	DeviceSerial         string        `yaml:"device_serial"`
	MaxCycles            int           `yaml:"max_cycles"`
	VerifyTimeoutSec     int           `yaml:"verify_timeout_sec"`
	PollIntervalSec      int           `yaml:"poll_interval_sec"`
	SettleSec            int           `yaml:"settle_sec"`
	RebootWaitSec        int           `yaml:"reboot_wait_sec"`
	StabilizeSec         int           `yaml:"stabilize_sec"`
	DeviceWaitTimeoutSec int           `yaml:"device_wait_timeout_sec"`
	CaptureDir           string        `yaml:"capture_dir"`
	CapturePrefix        string        `yaml:"capture_prefix"`
	HaltOnToggleFailure  *bool         `yaml:"halt_on_toggle_failure"`
	Metrics              MetricsConfig `yaml:"metrics"`
	DryRun               bool          `yaml:"dry_run"`
}

// MetricsConfig defines observability exposure options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Default returns the compiled-in configuration used when no file is present,
// so a bare invocation can start a run immediately.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, parses, and validates a configuration from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if strings.TrimSpace(c.AdbPath) == "" {
		problems = append(problems, "adb_path is required")
	}
	if c.MaxCycles <= 0 {
		problems = append(problems, "max_cycles must be greater than zero")
	}
	if c.VerifyTimeoutSec <= 0 {
		problems = append(problems, "verify_timeout_sec must be greater than zero")
	}
	if c.PollIntervalSec <= 0 {
		problems = append(problems, "poll_interval_sec must be greater than zero")
	}
	if c.PollIntervalSec > c.VerifyTimeoutSec {
		problems = append(problems, "poll_interval_sec must not exceed verify_timeout_sec")
	}
	if c.SettleSec < 0 {
		problems = append(problems, "settle_sec must be non-negative")
	}
	if c.RebootWaitSec < 0 {
		problems = append(problems, "reboot_wait_sec must be non-negative")
	}
	if c.StabilizeSec < 0 {
		problems = append(problems, "stabilize_sec must be non-negative")
	}
	if c.DeviceWaitTimeoutSec <= 0 {
		problems = append(problems, "device_wait_timeout_sec must be greater than zero")
	}
	if strings.TrimSpace(c.CaptureDir) == "" {
		problems = append(problems, "capture_dir is required")
	}
	if strings.TrimSpace(c.CapturePrefix) == "" {
		problems = append(problems, "capture_prefix is required")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		problems = append(problems, "metrics.listen must be set when metrics.enabled is true")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.AdbPath) == "" {
		c.AdbPath = "adb"
	}
	if c.MaxCycles == 0 {
		c.MaxCycles = 5
	}
	if c.VerifyTimeoutSec == 0 {
		c.VerifyTimeoutSec = 10
	}
	if c.PollIntervalSec == 0 {
		c.PollIntervalSec = 1
	}
	if c.SettleSec == 0 {
		c.SettleSec = 5
	}
	if c.RebootWaitSec == 0 {
		c.RebootWaitSec = 60
	}
	if c.StabilizeSec == 0 {
		c.StabilizeSec = 30
	}
	if c.DeviceWaitTimeoutSec == 0 {
		c.DeviceWaitTimeoutSec = 120
	}
	if strings.TrimSpace(c.CaptureDir) == "" {
		c.CaptureDir = "."
	}
	if strings.TrimSpace(c.CapturePrefix) == "" {
		c.CapturePrefix = "nfclog"
	}
	if c.HaltOnToggleFailure == nil {
		halt := true
		c.HaltOnToggleFailure = &halt
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9184"
	}
}

// HaltOnFailure reports whether a toggle timeout ends the whole run.
func (c *Config) HaltOnFailure() bool {
	if c == nil || c.HaltOnToggleFailure == nil {
		return true
	}
	return *c.HaltOnToggleFailure
}

// VerifyTimeout returns the toggle verification budget as a duration.
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSec) * time.Second
}

// PollInterval returns the probe polling cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// SettleDelay returns the post-transition settle delay.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleSec) * time.Second
}

// RebootWait returns the fixed delay applied after issuing a reboot.
func (c *Config) RebootWait() time.Duration {
	return time.Duration(c.RebootWaitSec) * time.Second
}

// StabilizeDelay returns the settle margin applied after the device reconnects.
func (c *Config) StabilizeDelay() time.Duration {
	return time.Duration(c.StabilizeSec) * time.Second
}

// DeviceWaitTimeout bounds the blocking wait for the bridge to see a device.
func (c *Config) DeviceWaitTimeout() time.Duration {
	return time.Duration(c.DeviceWaitTimeoutSec) * time.Second
}
