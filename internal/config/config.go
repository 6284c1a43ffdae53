// Package config loads and saves the device configuration: where the local
// database lives, which device this is, and how to reach the sync server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	configFile = "config.yaml"
	lockFile   = "config.yaml.lock"
)

// Environment overrides. Each wins over the file value when set.
const (
	EnvHome      = "SPROUT_HOME"
	EnvDataDir   = "SPROUT_DATA_DIR"
	EnvDeviceID  = "SPROUT_DEVICE_ID"
	EnvSyncURL   = "SPROUT_SYNC_URL"
	EnvSyncToken = "SPROUT_SYNC_TOKEN"
	EnvTimezone  = "SPROUT_TZ"
	EnvAutoSync  = "SPROUT_AUTO_SYNC"
)

// Sync is the remote half of the config.
type Sync struct {
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
	// Auto runs a sync cycle after every recorded action.
	Auto bool `yaml:"auto,omitempty"`
}

// Config is the device config file.
type Config struct {
	DataDir  string `yaml:"data_dir,omitempty"`
	DeviceID string `yaml:"device_id,omitempty"`
	// Timezone is an IANA zone name used for reset boundaries. Empty means
	// the system zone.
	Timezone string `yaml:"timezone,omitempty"`
	Sync     Sync   `yaml:"sync,omitempty"`
}

// Enabled reports whether a sync server is configured.
func (s Sync) Enabled() bool {
	return s.URL != "" && s.Token != ""
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Dir returns the config directory: $SPROUT_HOME, else
// $XDG_CONFIG_HOME/sprout, else ~/.config/sprout.
func Dir() (string, error) {
	if d := os.Getenv(EnvHome); d != "" {
		return d, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(base, "sprout"), nil
}

// Load reads the config from dir and applies environment overrides. A
// missing file is an empty config. DataDir defaults to dir.
func Load(dir string) (*Config, error) {
	cfg, err := read(dir)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if cfg.DataDir == "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

func read(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvDeviceID); v != "" {
		cfg.DeviceID = v
	}
	if v := os.Getenv(EnvSyncURL); v != "" {
		cfg.Sync.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvSyncToken); v != "" {
		cfg.Sync.Token = v
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		cfg.Timezone = v
	}
	switch strings.ToLower(os.Getenv(EnvAutoSync)) {
	case "1", "true", "yes", "on":
		cfg.Sync.Auto = true
	case "0", "false", "no", "off":
		cfg.Sync.Auto = false
	}
}

// Save writes the config to dir using atomic write (temp file + rename).
// Environment overrides are not written back.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, configFile))
}

// Update applies fn to the on-disk config under an exclusive lock.
func Update(dir string, fn func(*Config) error) error {
	return withConfigLock(dir, func() error {
		cfg, err := read(dir)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return Save(dir, cfg)
	})
}

// EnsureDeviceID returns the device id, generating and saving one on
// first use.
func EnsureDeviceID(dir string) (string, error) {
	if v := os.Getenv(EnvDeviceID); v != "" {
		return v, nil
	}
	var id string
	err := Update(dir, func(cfg *Config) error {
		if cfg.DeviceID == "" {
			cfg.DeviceID = uuid.NewString()
		}
		id = cfg.DeviceID
		return nil
	})
	return id, err
}

// withConfigLock serializes access to config.yaml using flock
func withConfigLock(dir string, fn func() error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}
