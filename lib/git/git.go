// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for reading
// repository content. treefs uses git as one source of backing trees:
// the git importer lists a revision's tree and streams its blobs into
// the object store. All commands target a specific repository
// directory via the -C flag, which every Repository method injects.
package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory; callers always specify which repository they
// mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory,
// which may be a bare repository or a working tree.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", r.commandError(args, err, &stderr)
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The caller gets full control over Stdin, Stdout and Stderr before
// starting the process. The -C flag targeting this repository is
// automatically prepended.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	return exec.CommandContext(ctx, "git", fullArgs...)
}

func (r *Repository) commandError(args []string, err error, stderr *bytes.Buffer) error {
	return fmt.Errorf("git %s in %s: %w (stderr: %s)",
		strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
}

// ResolveTree returns the object id of the tree a revision points to.
func (r *Repository) ResolveTree(ctx context.Context, revision string) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--verify", "--end-of-options", revision+"^{tree}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// TreeRecord is one line of recursive ls-tree output.
type TreeRecord struct {
	// Mode is the octal git file mode: 100644, 100755, 120000,
	// 160000 (gitlink) or 040000.
	Mode string

	// Type is the object type: blob, tree or commit.
	Type string

	// Object is the hex object id.
	Object string

	// Path is the slash-separated path relative to the tree root.
	Path string
}

// Git file modes that the importer distinguishes.
const (
	ModeFile       = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
	ModeGitlink    = "160000"
	ModeTree       = "040000"
)

// LsTree lists every entry reachable from revision's tree, recursing
// into subdirectories. Subtree entries themselves are not reported;
// only blobs and gitlinks.
func (r *Repository) LsTree(ctx context.Context, revision string) ([]TreeRecord, error) {
	output, err := r.Run(ctx, "ls-tree", "-r", "-z", "--full-tree", revision)
	if err != nil {
		return nil, err
	}
	return parseLsTree(output)
}

// parseLsTree parses NUL-terminated "<mode> SP <type> SP <object> TAB
// <path>" records.
func parseLsTree(output string) ([]TreeRecord, error) {
	var records []TreeRecord
	for line := range strings.SplitSeq(output, "\x00") {
		if line == "" {
			continue
		}
		header, path, found := strings.Cut(line, "\t")
		if !found {
			return nil, fmt.Errorf("malformed ls-tree record %q", line)
		}
		fields := strings.Fields(header)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed ls-tree header %q", header)
		}
		records = append(records, TreeRecord{
			Mode:   fields[0],
			Type:   fields[1],
			Object: fields[2],
			Path:   path,
		})
	}
	return records, nil
}

// ErrMissingObject is returned by CatFileBatch when git reports an
// object as missing.
var ErrMissingObject = errors.New("git object missing")

// CatFileBatch streams the contents of objects through a single
// "git cat-file --batch" process, calling fn once per object in
// order. The content slice passed to fn is only valid for the duration
// of the call. If fn returns an error the process is killed and the
// error is returned.
func (r *Repository) CatFileBatch(ctx context.Context, objects []string, fn func(object, objectType string, content []byte) error) error {
	if len(objects) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	args := []string{"cat-file", "--batch"}
	command := r.Command(ctx, args...)
	stdin, err := command.StdinPipe()
	if err != nil {
		return fmt.Errorf("git cat-file stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git cat-file stdout: %w", err)
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Start(); err != nil {
		return r.commandError(args, err, &stderr)
	}

	// Requests are written from a separate goroutine so that git's
	// output pipe never fills while we are still writing input.
	writeDone := make(chan error, 1)
	go func() {
		writer := bufio.NewWriter(stdin)
		for _, object := range objects {
			if _, err := writer.WriteString(object + "\n"); err != nil {
				stdin.Close()
				writeDone <- err
				return
			}
		}
		err := writer.Flush()
		stdin.Close()
		writeDone <- err
	}()

	readErr := readBatch(bufio.NewReader(stdout), len(objects), fn)
	if readErr != nil {
		cancel()
	}
	writeErr := <-writeDone
	waitErr := command.Wait()

	switch {
	case readErr != nil:
		return readErr
	case writeErr != nil:
		return fmt.Errorf("writing git cat-file requests: %w", writeErr)
	case waitErr != nil:
		return r.commandError(args, waitErr, &stderr)
	}
	return nil
}

// readBatch parses count "<object> SP <type> SP <size> LF <content>
// LF" responses.
func readBatch(reader *bufio.Reader, count int, fn func(object, objectType string, content []byte) error) error {
	for range count {
		header, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading git cat-file header: %w", err)
		}
		fields := strings.Fields(header)
		if len(fields) == 2 && fields[1] == "missing" {
			return fmt.Errorf("%s: %w", fields[0], ErrMissingObject)
		}
		if len(fields) != 3 {
			return fmt.Errorf("malformed git cat-file header %q", strings.TrimSpace(header))
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || size < 0 {
			return fmt.Errorf("malformed git cat-file size in %q", strings.TrimSpace(header))
		}
		content := make([]byte, size+1)
		if _, err := io.ReadFull(reader, content); err != nil {
			return fmt.Errorf("reading git object %s: %w", fields[0], err)
		}
		if content[size] != '\n' {
			return fmt.Errorf("git object %s: missing record terminator", fields[0])
		}
		if err := fn(fields[0], fields[1], content[:size]); err != nil {
			return err
		}
	}
	return nil
}
