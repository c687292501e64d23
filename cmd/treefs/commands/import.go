// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/treefs/cmd/treefs/cli"
	"github.com/bureau-foundation/treefs/lib/git"
	"github.com/bureau-foundation/treefs/lib/objectstore"
)

func importCommand(stdout io.Writer) *cli.Command {
	var s settings
	return &cli.Command{
		Name:    "import",
		Summary: "Import a local directory into the object store",
		Description: `Walk a directory and write its files, symlinks and subdirectories
into the object store. Prints the hash of the resulting root tree.
Executable bits are preserved; devices, sockets and FIFOs are rejected.`,
		Usage: "treefs import <dir> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			s.addCommonFlags(flagSet)
			s.addCompressionFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("import takes exactly one directory")
			}
			cfg, err := s.resolve()
			if err != nil {
				return err
			}
			log := logger(cfg, "import")
			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			root, err := objectstore.ImportDirectory(ctx, store, args[0])
			if err != nil {
				return err
			}
			log.Info("imported directory", "dir", args[0], "root", root.Short())
			fmt.Fprintln(stdout, root)
			return nil
		},
	}
}

func importGitCommand(stdout io.Writer) *cli.Command {
	var s settings
	return &cli.Command{
		Name:    "import-git",
		Summary: "Import a git revision into the object store",
		Description: `Read every blob of a git revision with ls-tree and cat-file and
write the tree into the object store. Prints the hash of the resulting
root tree. Submodules are skipped. The revision defaults to HEAD.`,
		Usage: "treefs import-git <repository> [revision] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import-git", pflag.ContinueOnError)
			s.addCommonFlags(flagSet)
			s.addCompressionFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("import-git takes a repository and an optional revision")
			}
			revision := "HEAD"
			if len(args) == 2 {
				revision = args[1]
			}
			cfg, err := s.resolve()
			if err != nil {
				return err
			}
			log := logger(cfg, "import-git")
			store, err := openStore(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			root, err := objectstore.ImportGit(ctx, store, git.NewRepository(args[0]), revision)
			if err != nil {
				return err
			}
			log.Info("imported git revision", "repository", args[0], "revision", revision, "root", root.Short())
			fmt.Fprintln(stdout, root)
			return nil
		},
	}
}
