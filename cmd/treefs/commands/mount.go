// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/treefs/cmd/treefs/cli"
	"github.com/bureau-foundation/treefs/lib/clock"
	"github.com/bureau-foundation/treefs/lib/config"
	"github.com/bureau-foundation/treefs/lib/fuse"
	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
	"github.com/bureau-foundation/treefs/lib/session"
	"github.com/bureau-foundation/treefs/lib/version"
)

func mountCommand() *cli.Command {
	var s settings
	var allowOther bool
	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a stored tree with a writable overlay",
		Description: `Mount a tree from the object store. Reads are served from the store
until a file is first opened for writing, which copies it into the
overlay. New files, directories, symlinks and deletions are recorded in
the overlay and persist across mounts of the same tree.

The tree hash comes from the argument or from checkout.root in the
configuration. An overlay directory belongs to one tree; mounting a
different tree over it is refused. The mount runs until SIGINT or
SIGTERM, or until it is unmounted externally.`,
		Usage: "treefs mount [tree-hash] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			s.addCommonFlags(flagSet)
			s.addOverlayFlags(flagSet)
			s.addMountpointFlag(flagSet)
			flagSet.BoolVar(&allowOther, "allow-other", false, "let other users access the mount")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("mount takes at most one tree hash")
			}
			cfg, err := s.resolve()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Checkout.Root = args[0]
			}
			if allowOther {
				cfg.Mount.AllowOther = true
			}
			return runMount(cfg)
		},
	}
}

func runMount(cfg *config.Config) error {
	if cfg.Checkout.Root == "" {
		return fmt.Errorf("no tree to mount: pass a tree hash or set checkout.root")
	}
	root, err := objectstore.ParseHash(cfg.Checkout.Root)
	if err != nil {
		return err
	}
	entryTimeout, attrTimeout, negativeTimeout, err := cfg.Timeouts()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	log := logger(cfg, "mount")
	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	ov, err := overlay.Open(cfg.Paths.Overlay, clock.Real())
	if err != nil {
		return err
	}
	mounted, err := session.Open(session.Config{
		Store:   store,
		Overlay: ov,
		Root:    root,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	server, err := fuse.Mount(fuse.Options{
		Mountpoint:      cfg.Paths.Mountpoint,
		Session:         mounted,
		AllowOther:      cfg.Mount.AllowOther,
		EntryTimeout:    entryTimeout,
		AttrTimeout:     attrTimeout,
		NegativeTimeout: negativeTimeout,
		Logger:          log,
	})
	if err != nil {
		return err
	}
	log.Info("serving",
		"root", root.Short(),
		"mountpoint", cfg.Paths.Mountpoint,
		"overlay", cfg.Paths.Overlay,
		version.Attr(),
	)

	ctx, cancel := signalContext()
	defer cancel()
	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Info("unmounting", "mountpoint", cfg.Paths.Mountpoint)
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("unmounting %s: %w", cfg.Paths.Mountpoint, err)
		}
		<-done
	case <-done:
		log.Info("unmounted externally", "mountpoint", cfg.Paths.Mountpoint)
	}

	log.Info("session closed",
		"materializations", mounted.Materializations(),
		"overlay_records", ov.Len(),
	)
	return nil
}
