// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for treefs packages.
//
// [RequireFUSE] and [RequireGit] skip tests whose environment lacks
// /dev/fuse or the git binary.
//
// [RequireReceive] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so that individual tests do not
// need direct time.After calls.
//
// All helpers call t.Fatalf or t.Skip rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no treefs-internal dependencies.
package testutil
