// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The overlay stamps every record with a modification time and the
// session reports a mount time for lazy inodes. Both take a Clock
// instead of calling time.Now directly so tests can pin timestamps:
//
//	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	store, err := overlay.Open(dir, clk)
//	// ...
//	clk.Advance(time.Minute)
//
// Production code passes Real().
package clock
