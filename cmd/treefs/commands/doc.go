// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the treefs CLI command tree.
//
// Every command that touches storage resolves its settings the same
// way: the file named by --config (or TREEFS_CONFIG) when present,
// built-in defaults otherwise, then explicit flags on top. The merged
// configuration is validated before anything is opened.
package commands
