// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/treefs/lib/git"
)

// ImportDirectory imports the directory tree rooted at dir into store
// and returns the root tree hash. Regular files (with their executable
// bit), symlinks and directories are imported; any other file type is
// an error. File contents are read and written concurrently.
func ImportDirectory(ctx context.Context, store *Store, dir string) (Hash, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Hash{}, fmt.Errorf("importing %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Hash{}, fmt.Errorf("importing %s: not a directory", dir)
	}

	var builderMu sync.Mutex
	builder := NewTreeBuilder(store)
	add := func(fn func() error) error {
		builderMu.Lock()
		defer builderMu.Unlock()
		return fn()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0) * 2)

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := groupCtx.Err(); err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)

		switch mode := entry.Type(); {
		case mode.IsDir():
			return add(func() error { return builder.AddDirectory(relative) })

		case mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			hash, err := store.WriteBlob([]byte(target))
			if err != nil {
				return err
			}
			return add(func() error { return builder.AddEntry(relative, TypeSymlink, hash) })

		case mode.IsRegular():
			group.Go(func() error {
				info, err := entry.Info()
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				hash, err := store.WriteBlob(data)
				if err != nil {
					return err
				}
				entryType := TypeFile
				if info.Mode().Perm()&0o111 != 0 {
					entryType = TypeExecutable
				}
				return add(func() error { return builder.AddEntry(relative, entryType, hash) })
			})
			return nil

		default:
			return fmt.Errorf("%s: unsupported file type %s", relative, mode)
		}
	})

	groupErr := group.Wait()
	if walkErr != nil {
		return Hash{}, fmt.Errorf("importing %s: %w", dir, walkErr)
	}
	if groupErr != nil {
		return Hash{}, fmt.Errorf("importing %s: %w", dir, groupErr)
	}
	return builder.Write()
}

// gitTarget is one path that refers to a git blob.
type gitTarget struct {
	path      string
	entryType EntryType
}

// ImportGit imports the tree of a git revision into store and returns
// the root tree hash. Regular, executable and symlink entries are
// imported; gitlinks (submodules) are skipped. Each distinct git blob
// is read and written once even when several paths share it.
func ImportGit(ctx context.Context, store *Store, repo *git.Repository, revision string) (Hash, error) {
	records, err := repo.LsTree(ctx, revision)
	if err != nil {
		return Hash{}, fmt.Errorf("importing %s: %w", revision, err)
	}

	builder := NewTreeBuilder(store)
	targets := make(map[string][]gitTarget)
	var objects []string
	for _, record := range records {
		var entryType EntryType
		switch record.Mode {
		case git.ModeFile:
			entryType = TypeFile
		case git.ModeExecutable:
			entryType = TypeExecutable
		case git.ModeSymlink:
			entryType = TypeSymlink
		case git.ModeGitlink:
			continue
		default:
			return Hash{}, fmt.Errorf("importing %s: %s has unsupported git mode %s", revision, record.Path, record.Mode)
		}
		if _, seen := targets[record.Object]; !seen {
			objects = append(objects, record.Object)
		}
		targets[record.Object] = append(targets[record.Object], gitTarget{path: record.Path, entryType: entryType})
	}

	err = repo.CatFileBatch(ctx, objects, func(object, objectType string, content []byte) error {
		if objectType != "blob" {
			return fmt.Errorf("git object %s is a %s, want blob", object, objectType)
		}
		hash, err := store.WriteBlob(content)
		if err != nil {
			return err
		}
		for _, target := range targets[object] {
			if err := builder.AddEntry(target.path, target.entryType, hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Hash{}, fmt.Errorf("importing %s: %w", revision, err)
	}

	// A revision with nothing but gitlinks still yields a valid
	// (empty) root tree.
	return builder.Write()
}
