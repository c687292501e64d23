// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/treefs/cmd/treefs/cli"
	"github.com/bureau-foundation/treefs/lib/config"
	"github.com/bureau-foundation/treefs/lib/objectstore"
)

// settings holds the flags shared by storage commands. Empty values
// leave the configuration untouched.
type settings struct {
	configPath  string
	store       string
	overlay     string
	mountpoint  string
	compression string
	logLevel    string
}

func (s *settings) addCommonFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.configPath, "config", "", "configuration file (default $TREEFS_CONFIG)")
	flagSet.StringVar(&s.store, "store", "", "object store directory")
	flagSet.StringVar(&s.logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func (s *settings) addOverlayFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.overlay, "overlay", "", "overlay directory")
}

func (s *settings) addCompressionFlag(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.compression, "compression", "", "object compression: none, lz4 or zstd")
}

func (s *settings) addMountpointFlag(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.mountpoint, "mountpoint", "", "mount directory")
}

// resolve loads the configuration and applies flag overrides.
func (s *settings) resolve() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case s.configPath != "":
		cfg, err = config.LoadFile(s.configPath)
	case os.Getenv("TREEFS_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	for target, value := range map[*string]string{
		&cfg.Paths.Store:       s.store,
		&cfg.Paths.Overlay:     s.overlay,
		&cfg.Paths.Mountpoint:  s.mountpoint,
		&cfg.Store.Compression: s.compression,
		&cfg.Log.Level:         s.logLevel,
	} {
		if value != "" {
			*target = value
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// logger builds the command logger at the configured level.
func logger(cfg *config.Config, command string) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return cli.NewCommandLogger(level).With("command", command)
}

// openStore opens the configured object store.
func openStore(cfg *config.Config, logger *slog.Logger) (*objectstore.Store, error) {
	options, err := cfg.StoreOptions(logger)
	if err != nil {
		return nil, err
	}
	return objectstore.NewStore(cfg.Paths.Store, options)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
