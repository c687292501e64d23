// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/treefs/cmd/treefs/cli"
	"github.com/bureau-foundation/treefs/lib/clock"
	"github.com/bureau-foundation/treefs/lib/overlay"
)

func statusCommand(stdout io.Writer) *cli.Command {
	var s settings
	return &cli.Command{
		Name:    "status",
		Summary: "Show what an overlay has changed",
		Description: `Print the tree an overlay is bound to, every record it holds and
every deleted tracked path. Exits with status 1 when the overlay has not
been bound to a tree yet.`,
		Usage: "treefs status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			s.addCommonFlags(flagSet)
			s.addOverlayFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no arguments")
			}
			cfg, err := s.resolve()
			if err != nil {
				return err
			}
			ov, err := overlay.Open(cfg.Paths.Overlay, clock.Real())
			if err != nil {
				return err
			}
			return printStatus(stdout, ov)
		},
	}
}

func printStatus(w io.Writer, ov *overlay.Overlay) error {
	root, bound, err := ov.BoundRoot()
	if err != nil {
		return err
	}
	if !bound {
		fmt.Fprintf(w, "overlay %s is not bound to a tree\n", ov.Root())
		return &cli.ExitError{Code: 1}
	}
	fmt.Fprintf(w, "tree %s\n", root)

	var walk func(directory string)
	walk = func(directory string) {
		for _, record := range ov.Children(directory) {
			switch record.Kind {
			case overlay.KindDirectory:
				fmt.Fprintf(w, "  dir      %s/\n", record.Path)
				walk(record.Path)
			case overlay.KindSymlink:
				fmt.Fprintf(w, "  symlink  %s -> %s\n", record.Path, record.Target)
			default:
				fmt.Fprintf(w, "  file     %s (%d bytes, mode %04o)\n", record.Path, record.Size, record.Mode)
			}
		}
	}
	walk("")

	for _, path := range ov.Tombstones() {
		fmt.Fprintf(w, "  deleted  %s\n", path)
	}
	return nil
}
