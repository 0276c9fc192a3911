// Package config loads the daemon's own YAML configuration file and
// applies defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeoutSecs   = 300
	defaultMaxLogFiles   = 50
	defaultEventBusCap   = 4096
	defaultDataDirName   = "acsd"
	defaultJobsFileName  = "jobs.json"
	defaultLogsDirName   = "logs"
	defaultPIDFileName   = "acsd.pid"
)

// Config is the daemon's top-level configuration, loaded from a YAML file
// and layered over built-in defaults.
type Config struct {
	// DataDir holds jobs.json, the logs/ tree, and the PID lock file. Empty
	// resolves to the platform's standard per-user data directory.
	DataDir string `yaml:"data_dir"`

	// DefaultTimeoutSecs applies to any Job that does not set its own
	// timeout_secs.
	DefaultTimeoutSecs int `yaml:"default_timeout_secs"`

	// MaxLogFiles bounds how many past runs' logs are retained per job
	// before the oldest are deleted.
	MaxLogFiles int `yaml:"max_log_files"`

	// EventBusCapacity sizes the Event Bus's ring buffer.
	EventBusCapacity int `yaml:"event_bus_capacity"`
}

// Default returns a Config with every field set to its built-in default.
func Default() Config {
	return Config{
		DefaultTimeoutSecs: defaultTimeoutSecs,
		MaxLogFiles:        defaultMaxLogFiles,
		EventBusCapacity:   defaultEventBusCap,
	}
}

// Load reads path (if non-empty and it exists) and overlays its fields
// onto Default(). A missing path is not an error: the daemon runs on
// defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DefaultTimeoutSecs <= 0 {
		cfg.DefaultTimeoutSecs = defaultTimeoutSecs
	}
	if cfg.MaxLogFiles <= 0 {
		cfg.MaxLogFiles = defaultMaxLogFiles
	}
	if cfg.EventBusCapacity <= 0 {
		cfg.EventBusCapacity = defaultEventBusCap
	}
	return cfg, nil
}

// ResolveDataDir returns cfg.DataDir if set, or the platform default
// (os.UserConfigDir()/acsd) otherwise.
func (c Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve data dir: %w", err)
	}
	return filepath.Join(base, defaultDataDirName), nil
}

// JobsFilePath returns the path to jobs.json under the resolved data dir.
func (c Config) JobsFilePath() (string, error) {
	dir, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultJobsFileName), nil
}

// LogsDirPath returns the path to the logs/ tree under the resolved data
// dir.
func (c Config) LogsDirPath() (string, error) {
	dir, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultLogsDirName), nil
}

// PIDFilePath returns the path to the single-instance lock file under the
// resolved data dir.
func (c Config) PIDFilePath() (string, error) {
	dir, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultPIDFileName), nil
}

// DefaultTimeout returns DefaultTimeoutSecs as a time.Duration.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSecs) * time.Second
}
