// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/treefs/cmd/treefs/cli"
	"github.com/bureau-foundation/treefs/lib/version"
)

// Root builds and returns the complete treefs command tree. Command
// output goes to stdout.
func Root() *cli.Command {
	return newRoot(os.Stdout)
}

func newRoot(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "treefs",
		Description: `treefs: a lazily materialized filesystem over immutable trees.

A tree is imported once into a content-addressed object store. Mounting
it serves reads straight from the store; the first write to a file copies
it into a per-checkout overlay, which also holds new files and deletions.`,
		Subcommands: []*cli.Command{
			importCommand(stdout),
			importGitCommand(stdout),
			lsTreeCommand(stdout),
			catCommand(stdout),
			mountCommand(),
			statusCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Fprintf(stdout, "treefs %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Import the current git checkout and mount it",
				Command:     "treefs mount $(treefs import-git . HEAD) --mountpoint /tmp/checkout",
			},
			{
				Description: "List the top level of an imported tree",
				Command:     "treefs ls-tree <tree-hash>",
			},
			{
				Description: "Show what a checkout has changed",
				Command:     "treefs status --overlay ~/.cache/treefs/overlay",
			},
		},
	}
}
