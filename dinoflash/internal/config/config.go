// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads and stores the station configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/registry"
)

const (
	DefaultPath = "dinoflash.yaml"
	EnvPath     = "DINOFLASH_CONFIG"
)

// Config is the content of the configuration file. Relative paths are
// relative to the directory of the file.
type Config struct {
	Target       hwver.Version `yaml:"target"`
	RegistryURL  string        `yaml:"registry_url"`
	Chip         string        `yaml:"chip"`
	FlashBaud    int           `yaml:"flash_baud"`
	MonitorBaud  int           `yaml:"monitor_baud"`
	PollInterval time.Duration `yaml:"poll_interval"`
	VerifyDelay  time.Duration `yaml:"verify_delay"`
	FirmwareRoot string        `yaml:"firmware_root"`
	Esptool      []string      `yaml:"esptool,flow"`
	Espefuse     []string      `yaml:"espefuse,flow"`
	USBVIDs      []string      `yaml:"usb_vids,flow"`
	Stamp        bool          `yaml:"stamp_metadata"`
	Location     uint8         `yaml:"location"`
	LockFile     string        `yaml:"lock_file"`
	LogFile      string        `yaml:"log_file,omitempty"`
	Mode         registry.Mode `yaml:"mode"`

	path string
}

func Default() *Config {
	return &Config{
		Target:       hwver.MustParse("1.9.1"),
		RegistryURL:  registry.DefaultURL,
		Chip:         "esp32s3",
		FlashBaud:    460800,
		MonitorBaud:  115200,
		PollInterval: 2 * time.Second,
		VerifyDelay:  2 * time.Second,
		FirmwareRoot: ".",
		Esptool:      []string{"python3", "-m", "esptool"},
		Espefuse:     []string{"python3", "-m", "espefuse"},
		USBVIDs:      []string{},
		LockFile:     "dinoflash.lock",
		Mode:         registry.Testing,
	}
}

// Path returns the configuration file path: $DINOFLASH_CONFIG or
// DefaultPath.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the file at path. A missing file is created with the defaults.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	c := Default()
	c.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, c.Save()
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config: no file path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(c.path, data, 0o644)
}

// File returns the path the configuration was loaded from.
func (c *Config) File() string {
	return c.path
}

// Validate checks the values a session depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RegistryURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("bad registry_url %q", c.RegistryURL)
	}
	switch {
	case c.Chip == "":
		return errors.New("chip not set")
	case c.FlashBaud <= 0 || c.MonitorBaud <= 0:
		return errors.New("baud rates must be positive")
	case c.PollInterval <= 0:
		return errors.New("poll_interval must be positive")
	case c.VerifyDelay < 0:
		return errors.New("verify_delay must not be negative")
	case len(c.Esptool) == 0 || len(c.Espefuse) == 0:
		return errors.New("esptool and espefuse commands must be set")
	}
	return nil
}

// Resolve returns p relative to the configuration file directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// SetTarget validates s and stores it as the target version.
func (c *Config) SetTarget(s string) error {
	v, err := hwver.Parse(s)
	if err != nil {
		return err
	}
	c.Target = v
	return c.Save()
}
