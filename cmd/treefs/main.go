// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command treefs imports trees into a content-addressed object store
// and mounts them as lazily materialized, writable filesystems.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/treefs/cmd/treefs/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an error with
		// the desired exit code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
