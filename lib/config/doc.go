// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for treefs.
//
// Configuration is loaded from a single file specified by either the
// TREEFS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search.
//
// The configuration file supports environment-specific sections
// (development, production) that override base values when
// [Config].Environment matches. Production defaults are quieter:
// logging starts at warn and the store compresses with zstd.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${TREEFS_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Mount, Store, Checkout, Log
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// The only treefs package this depends on is objectstore, for parsing
// compression names and tree hashes.
package config
