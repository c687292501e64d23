// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/treefs/cmd/treefs/cli"
	"github.com/bureau-foundation/treefs/lib/objectstore"
)

func lsTreeCommand(stdout io.Writer) *cli.Command {
	var s settings
	var recursive bool
	return &cli.Command{
		Name:    "ls-tree",
		Summary: "List the entries of a stored tree",
		Description: `Print one line per entry of a tree object: type, object hash and
name. With --recursive, descend into subtrees and print full paths.`,
		Usage: "treefs ls-tree <tree-hash> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ls-tree", pflag.ContinueOnError)
			s.addCommonFlags(flagSet)
			flagSet.BoolVarP(&recursive, "recursive", "r", false, "descend into subtrees")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("ls-tree takes exactly one tree hash")
			}
			hash, err := objectstore.ParseHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := s.resolve()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger(cfg, "ls-tree"))
			if err != nil {
				return err
			}
			return listTree(stdout, store, hash, "", recursive)
		},
	}
}

func listTree(w io.Writer, store objectstore.Reader, hash objectstore.Hash, prefix string, recursive bool) error {
	entries, err := store.ReadTree(hash)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name
		if prefix != "" {
			name = prefix + "/" + entry.Name
		}
		if recursive && entry.Type == objectstore.TypeDirectory {
			if err := listTree(w, store, entry.Hash, name, true); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%-10s %s\t%s\n", entry.Type, entry.Hash, name)
	}
	return nil
}

func catCommand(stdout io.Writer) *cli.Command {
	var s settings
	var describe bool
	return &cli.Command{
		Name:    "cat",
		Summary: "Print a stored blob",
		Description: `Write the content of a blob object to stdout. With --describe,
print the object's envelope (kind, compression, sizes) and the CBOR
diagnostic notation of its header instead.`,
		Usage: "treefs cat <hash> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cat", pflag.ContinueOnError)
			s.addCommonFlags(flagSet)
			flagSet.BoolVar(&describe, "describe", false, "describe the stored object instead of printing it")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("cat takes exactly one object hash")
			}
			hash, err := objectstore.ParseHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := s.resolve()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger(cfg, "cat"))
			if err != nil {
				return err
			}
			if describe {
				return store.DescribeObject(hash, stdout)
			}
			content, err := store.ReadBlob(hash)
			if err != nil {
				return err
			}
			_, err = stdout.Write(content)
			return err
		},
	}
}
