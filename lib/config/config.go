// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/treefs/lib/objectstore"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for long-running mounts.
	Production Environment = "production"
)

// Config is the master configuration for treefs.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Mount configures the FUSE mount.
	Mount MountConfig `yaml:"mount"`

	// Store configures the object store.
	Store StoreConfig `yaml:"store"`

	// Checkout names the tree to mount.
	Checkout CheckoutConfig `yaml:"checkout"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths *PathsConfig `yaml:"paths,omitempty"`
	Mount *MountConfig `yaml:"mount,omitempty"`
	Store *StoreConfig `yaml:"store,omitempty"`
	Log   *LogConfig   `yaml:"log,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for treefs data.
	Root string `yaml:"root"`

	// Store is the object store directory.
	Store string `yaml:"store"`

	// Overlay is the overlay directory for one checkout.
	Overlay string `yaml:"overlay"`

	// Mountpoint is where the checkout is mounted.
	Mountpoint string `yaml:"mountpoint"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// AllowOther lets other users access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`

	// Kernel cache timeouts as Go durations. Empty uses the mount
	// defaults.
	EntryTimeout    string `yaml:"entry_timeout"`
	AttrTimeout     string `yaml:"attr_timeout"`
	NegativeTimeout string `yaml:"negative_timeout"`
}

// StoreConfig configures the object store.
type StoreConfig struct {
	// Compression is none, lz4 or zstd.
	// Default: lz4 (development), zstd (production)
	Compression string `yaml:"compression"`

	// CacheBytes bounds the decoded object cache. Zero uses the
	// store default; negative disables the cache.
	CacheBytes int64 `yaml:"cache_bytes"`
}

// CheckoutConfig names the tree to mount.
type CheckoutConfig struct {
	// Root is the hex hash of the root tree. Empty means the command
	// line must supply it.
	Root string `yaml:"root"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: info (development), warn (production)
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "treefs")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       defaultRoot,
			Store:      filepath.Join(defaultRoot, "store"),
			Overlay:    filepath.Join(defaultRoot, "overlay"),
			Mountpoint: filepath.Join(defaultRoot, "mnt"),
		},
		Store: StoreConfig{
			Compression: "lz4",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the TREEFS_CONFIG environment variable.
// There are no fallbacks: if TREEFS_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("TREEFS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TREEFS_CONFIG environment variable not set; " +
			"set it to the path of your treefs.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// A root given without explicit subpaths moves them along with it.
	var explicitPaths struct {
		Paths map[string]string `yaml:"paths"`
	}
	if err := yaml.Unmarshal(data, &explicitPaths); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if _, ok := explicitPaths.Paths["root"]; ok {
		for key, field := range map[string]*string{
			"store":      &c.Paths.Store,
			"overlay":    &c.Paths.Overlay,
			"mountpoint": &c.Paths.Mountpoint,
		} {
			if _, explicit := explicitPaths.Paths[key]; !explicit {
				*field = "${TREEFS_ROOT}/" + defaultSubdirectory[key]
			}
		}
	}
	return nil
}

var defaultSubdirectory = map[string]string{
	"store":      "store",
	"overlay":    "overlay",
	"mountpoint": "mnt",
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Store: &StoreConfig{Compression: "zstd"},
				Log:   &LogConfig{Level: "warn"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Store != "" {
			c.Paths.Store = overrides.Paths.Store
		}
		if overrides.Paths.Overlay != "" {
			c.Paths.Overlay = overrides.Paths.Overlay
		}
		if overrides.Paths.Mountpoint != "" {
			c.Paths.Mountpoint = overrides.Paths.Mountpoint
		}
	}

	if overrides.Mount != nil {
		// AllowOther is a bool, so we always apply it from overrides.
		c.Mount.AllowOther = overrides.Mount.AllowOther
		if overrides.Mount.EntryTimeout != "" {
			c.Mount.EntryTimeout = overrides.Mount.EntryTimeout
		}
		if overrides.Mount.AttrTimeout != "" {
			c.Mount.AttrTimeout = overrides.Mount.AttrTimeout
		}
		if overrides.Mount.NegativeTimeout != "" {
			c.Mount.NegativeTimeout = overrides.Mount.NegativeTimeout
		}
	}

	if overrides.Store != nil {
		if overrides.Store.Compression != "" {
			c.Store.Compression = overrides.Store.Compression
		}
		if overrides.Store.CacheBytes != 0 {
			c.Store.CacheBytes = overrides.Store.CacheBytes
		}
	}

	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TREEFS_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TREEFS_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.Overlay = expandVars(c.Paths.Overlay, vars)
	c.Paths.Mountpoint = expandVars(c.Paths.Mountpoint, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Store == "" {
		errs = append(errs, fmt.Errorf("paths.store is required"))
	}
	if c.Paths.Overlay == "" {
		errs = append(errs, fmt.Errorf("paths.overlay is required"))
	}
	if c.Paths.Mountpoint == "" {
		errs = append(errs, fmt.Errorf("paths.mountpoint is required"))
	}

	for name, value := range map[string]string{
		"mount.entry_timeout":    c.Mount.EntryTimeout,
		"mount.attr_timeout":     c.Mount.AttrTimeout,
		"mount.negative_timeout": c.Mount.NegativeTimeout,
	} {
		if _, err := parseTimeout(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if _, err := c.Compression(); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}

	if c.Checkout.Root != "" {
		if _, err := objectstore.ParseHash(c.Checkout.Root); err != nil {
			errs = append(errs, fmt.Errorf("checkout.root: %w", err))
		}
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the store, overlay and mountpoint directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Store, c.Paths.Overlay, c.Paths.Mountpoint} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// Compression returns the configured store compression.
func (c *Config) Compression() (objectstore.CompressionTag, error) {
	return objectstore.ParseCompressionTag(c.Store.Compression)
}

// StoreOptions returns object store options for this configuration.
func (c *Config) StoreOptions(logger *slog.Logger) (objectstore.Options, error) {
	compression, err := c.Compression()
	if err != nil {
		return objectstore.Options{}, err
	}
	return objectstore.Options{
		Compression: compression,
		CacheBytes:  c.Store.CacheBytes,
		Logger:      logger,
	}, nil
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, err
	}
	return level, nil
}

// Timeouts returns the entry, attribute and negative-lookup timeouts.
// Unset values are zero.
func (c *Config) Timeouts() (entry, attr, negative time.Duration, err error) {
	if entry, err = parseTimeout(c.Mount.EntryTimeout); err != nil {
		return 0, 0, 0, fmt.Errorf("mount.entry_timeout: %w", err)
	}
	if attr, err = parseTimeout(c.Mount.AttrTimeout); err != nil {
		return 0, 0, 0, fmt.Errorf("mount.attr_timeout: %w", err)
	}
	if negative, err = parseTimeout(c.Mount.NegativeTimeout); err != nil {
		return 0, 0, 0, fmt.Errorf("mount.negative_timeout: %w", err)
	}
	return entry, attr, negative, nil
}

func parseTimeout(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %s", value)
	}
	return duration, nil
}
