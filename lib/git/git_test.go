// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/treefs/lib/testutil"
)

// runGit runs a git command in dir with a fixed identity, failing the
// test on error.
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	command.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
		"GIT_CONFIG_NOSYSTEM=1",
		"HOME="+dir,
	)
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}

// initRepo creates a working-tree repository with one commit holding
// adir/file, hello, an executable run.sh and the symlink slink.
func initRepo(t *testing.T) string {
	t.Helper()
	testutil.RequireGit(t)

	dir := t.TempDir()
	runGit(t, dir, "init", "--quiet", "--initial-branch=main")

	writeFile := func(name, content string, mode os.FileMode) {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), mode); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("adir/file", "foo!\n", 0o644)
	writeFile("hello", "hola\n", 0o644)
	writeFile("run.sh", "#!/bin/sh\n", 0o755)
	if err := os.Symlink("hello", filepath.Join(dir, "slink")); err != nil {
		t.Fatal(err)
	}

	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "--quiet", "-m", "initial")
	return dir
}

func TestRepository_Run(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)

	output, err := repo.Run(context.Background(), "log", "--format=%s")
	if err != nil {
		t.Fatalf("Run(log): %v", err)
	}
	if strings.TrimSpace(output) != "initial" {
		t.Errorf("log output = %q, want %q", output, "initial")
	}
}

func TestRepository_Run_InvalidSubcommand(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)

	_, err := repo.Run(context.Background(), "not-a-real-command")
	if err == nil {
		t.Fatal("expected error for invalid git subcommand")
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error = %v, want to contain repository dir %q", err, dir)
	}
}

func TestRepository_Run_NonexistentDirectory(t *testing.T) {
	t.Parallel()
	testutil.RequireGit(t)

	repo := NewRepository(filepath.Join(t.TempDir(), "missing"))

	if _, err := repo.Run(context.Background(), "status"); err == nil {
		t.Fatal("expected error for nonexistent directory")
	}
}

func TestRepository_Command(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/some/dir")
	cmd := repo.Command(context.Background(), "ls-tree", "-r")

	// exec.Cmd.Args includes the program name as Args[0].
	expectedArgs := []string{"git", "-C", "/some/dir", "ls-tree", "-r"}
	if len(cmd.Args) != len(expectedArgs) {
		t.Fatalf("cmd.Args = %v, want %v", cmd.Args, expectedArgs)
	}
	for i, want := range expectedArgs {
		if cmd.Args[i] != want {
			t.Errorf("cmd.Args[%d] = %q, want %q", i, cmd.Args[i], want)
		}
	}
}

func TestRepository_Dir(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/path/to/repo")
	if repo.Dir() != "/path/to/repo" {
		t.Errorf("Dir() = %q, want %q", repo.Dir(), "/path/to/repo")
	}
}

func TestResolveTree(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)

	tree, err := repo.ResolveTree(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("ResolveTree(HEAD): %v", err)
	}
	want := strings.TrimSpace(runGit(t, dir, "rev-parse", "HEAD^{tree}"))
	if tree != want {
		t.Errorf("ResolveTree(HEAD) = %q, want %q", tree, want)
	}

	if _, err := repo.ResolveTree(context.Background(), "no-such-branch"); err == nil {
		t.Error("ResolveTree(no-such-branch) succeeded")
	}
}

func TestLsTree(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)

	records, err := repo.LsTree(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("LsTree: %v", err)
	}

	want := map[string]string{
		"adir/file": ModeFile,
		"hello":     ModeFile,
		"run.sh":    ModeExecutable,
		"slink":     ModeSymlink,
	}
	if len(records) != len(want) {
		t.Fatalf("LsTree returned %d records, want %d: %+v", len(records), len(want), records)
	}
	for _, record := range records {
		mode, ok := want[record.Path]
		if !ok {
			t.Errorf("unexpected path %q", record.Path)
			continue
		}
		if record.Mode != mode {
			t.Errorf("%s: mode = %s, want %s", record.Path, record.Mode, mode)
		}
		if record.Type != "blob" {
			t.Errorf("%s: type = %s, want blob", record.Path, record.Type)
		}
		if len(record.Object) != 40 && len(record.Object) != 64 {
			t.Errorf("%s: object id %q has unexpected length", record.Path, record.Object)
		}
	}
}

func TestParseLsTree(t *testing.T) {
	t.Parallel()

	output := "100644 blob aaaa\tname with spaces\x00160000 commit bbbb\tvendor/sub\x00"
	records, err := parseLsTree(output)
	if err != nil {
		t.Fatalf("parseLsTree: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Path != "name with spaces" || records[0].Object != "aaaa" {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].Mode != ModeGitlink || records[1].Type != "commit" {
		t.Errorf("records[1] = %+v", records[1])
	}

	if _, err := parseLsTree("100644 blob aaaa no-tab\x00"); err == nil {
		t.Error("parseLsTree accepted a record without a tab")
	}
}

func TestCatFileBatch(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)
	ctx := context.Background()

	records, err := repo.LsTree(ctx, "HEAD")
	if err != nil {
		t.Fatalf("LsTree: %v", err)
	}
	objects := make([]string, len(records))
	paths := make(map[string]string)
	for i, record := range records {
		objects[i] = record.Object
		paths[record.Object] = record.Path
	}

	contents := make(map[string]string)
	err = repo.CatFileBatch(ctx, objects, func(object, objectType string, content []byte) error {
		if objectType != "blob" {
			t.Errorf("%s: type = %s, want blob", object, objectType)
		}
		contents[paths[object]] = string(content)
		return nil
	})
	if err != nil {
		t.Fatalf("CatFileBatch: %v", err)
	}

	want := map[string]string{
		"adir/file": "foo!\n",
		"hello":     "hola\n",
		"run.sh":    "#!/bin/sh\n",
		"slink":     "hello",
	}
	for path, content := range want {
		if contents[path] != content {
			t.Errorf("%s = %q, want %q", path, contents[path], content)
		}
	}
}

func TestCatFileBatch_Missing(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)

	missing := strings.Repeat("0", 40)
	err := repo.CatFileBatch(context.Background(), []string{missing}, func(string, string, []byte) error {
		t.Error("callback invoked for a missing object")
		return nil
	})
	if !errors.Is(err, ErrMissingObject) {
		t.Fatalf("CatFileBatch(missing) = %v, want ErrMissingObject", err)
	}
}

func TestCatFileBatch_CallbackError(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)
	ctx := context.Background()

	records, err := repo.LsTree(ctx, "HEAD")
	if err != nil {
		t.Fatalf("LsTree: %v", err)
	}
	objects := make([]string, len(records))
	for i, record := range records {
		objects[i] = record.Object
	}

	stop := errors.New("stop")
	calls := 0
	err = repo.CatFileBatch(ctx, objects, func(string, string, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("CatFileBatch = %v, want the callback error", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}
