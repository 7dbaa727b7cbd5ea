// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package gitindex

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// initRepo creates a git repository in a temp directory with one
// committed file ("README") and returns its root.
func initRepo(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	// macOS reports /tmp through a symlink; resolve so paths compare
	// equal to rev-parse output.
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("resolving temp dir: %v", err)
	}

	gitHelper(t, root, "init")
	gitHelper(t, root, "config", "user.name", "Test")
	gitHelper(t, root, "config", "user.email", "test@test.local")

	if err := os.WriteFile(filepath.Join(root, "README"), []byte("readme\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	gitHelper(t, root, "add", "README")
	gitHelper(t, root, "commit", "-m", "initial")

	return root
}

func gitHelper(t *testing.T, dir string, args ...string) {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
}

func TestResolveRoot(t *testing.T) {
	t.Parallel()

	root := initRepo(t)
	subdir := filepath.Join(root, "sub", "deep")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	resolved, err := ResolveRoot(context.Background(), subdir)
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	if resolved != root {
		t.Errorf("ResolveRoot = %q, want %q", resolved, root)
	}
}

func TestResolveRoot_NotARepository(t *testing.T) {
	t.Parallel()

	if _, err := ResolveRoot(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error outside any repository")
	}
}

func TestEntries(t *testing.T) {
	t.Parallel()

	root := initRepo(t)
	repo := At(root)

	entries, err := repo.Entries(context.Background(), "README")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Path != "README" {
		t.Errorf("Path = %q, want README", entry.Path)
	}
	if entry.Mode != ModeRegular {
		t.Errorf("Mode = %q, want %q", entry.Mode, ModeRegular)
	}
	if entry.Stage != 0 {
		t.Errorf("Stage = %d, want 0", entry.Stage)
	}
	if entry.ObjectID == "" {
		t.Error("ObjectID is empty")
	}
	if entry.Type() != TypeBlob {
		t.Errorf("Type = %v, want TypeBlob", entry.Type())
	}
}

func TestEntries_NoMatch(t *testing.T) {
	t.Parallel()

	repo := At(initRepo(t))
	entries, err := repo.Entries(context.Background(), "no-such-path")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestBlobRoundTrip(t *testing.T) {
	t.Parallel()

	repo := At(initRepo(t))
	ctx := context.Background()

	content := []byte("hello blob\nwith two lines\n")
	objectID, err := repo.WriteBlob(ctx, content)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	read, err := repo.ReadBlob(ctx, objectID)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(read) != string(content) {
		t.Errorf("ReadBlob = %q, want %q", read, content)
	}

	size, err := repo.BlobSize(ctx, objectID)
	if err != nil {
		t.Fatalf("BlobSize: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("BlobSize = %d, want %d", size, len(content))
	}
}

func TestSetEntry_NewPath(t *testing.T) {
	t.Parallel()

	repo := At(initRepo(t))
	ctx := context.Background()

	objectID, err := repo.WriteBlob(ctx, []byte("staged without a worktree file\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	// A brand-new path requires the --add variant; without it git
	// rejects the cacheinfo update.
	if err := repo.SetEntry(ctx, ModeRegular, objectID, "new.txt", false); err == nil {
		t.Error("SetEntry without add succeeded for an untracked path")
	}
	if err := repo.SetEntry(ctx, ModeRegular, objectID, "new.txt", true); err != nil {
		t.Fatalf("SetEntry with add: %v", err)
	}

	entries, err := repo.Entries(ctx, "new.txt")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ObjectID != objectID {
		t.Errorf("entries = %+v, want one entry with object %s", entries, objectID)
	}
}

func TestSetEntry_Update(t *testing.T) {
	t.Parallel()

	root := initRepo(t)
	repo := At(root)
	ctx := context.Background()

	objectID, err := repo.WriteBlob(ctx, []byte("replacement readme\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := repo.SetEntry(ctx, ModeRegular, objectID, "README", false); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}

	entries, err := repo.Entries(ctx, "README")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ObjectID != objectID {
		t.Errorf("entries = %+v, want updated object %s", entries, objectID)
	}
}

func TestStagedPaths(t *testing.T) {
	t.Parallel()

	root := initRepo(t)
	repo := At(root)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(root, "changed.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitHelper(t, root, "add", "changed.txt")

	paths, err := repo.StagedPaths(ctx)
	if err != nil {
		t.Fatalf("StagedPaths: %v", err)
	}
	if !slices.Contains(paths, "changed.txt") {
		t.Errorf("StagedPaths = %v, want to contain changed.txt", paths)
	}
	if slices.Contains(paths, "README") {
		t.Errorf("StagedPaths = %v, README is unchanged and should be absent", paths)
	}
}

func TestStagedPaths_UnbornHead(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	gitHelper(t, root, "init")
	if err := os.WriteFile(filepath.Join(root, "first.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitHelper(t, root, "add", "first.txt")

	paths, err := At(root).StagedPaths(context.Background())
	if err != nil {
		t.Fatalf("StagedPaths: %v", err)
	}
	if !slices.Contains(paths, "first.txt") {
		t.Errorf("StagedPaths = %v, want to contain first.txt", paths)
	}
}

// A diff failure on a repository with a live HEAD must surface, not
// be converted into a full-index listing. Removing the HEAD commit's
// tree object makes "git diff --cached" fail while the index itself
// remains readable.
func TestStagedPaths_DiffFailureSurfaces(t *testing.T) {
	t.Parallel()

	root := initRepo(t)

	command := exec.Command("git", "-C", root, "rev-parse", "HEAD^{tree}")
	output, err := command.Output()
	if err != nil {
		t.Fatalf("rev-parse HEAD^{tree}: %v", err)
	}
	tree := strings.TrimSpace(string(output))
	object := filepath.Join(root, ".git", "objects", tree[:2], tree[2:])
	if err := os.Remove(object); err != nil {
		t.Fatalf("remove tree object: %v", err)
	}

	if _, err := At(root).StagedPaths(context.Background()); err == nil {
		t.Fatal("expected error after losing the HEAD tree object")
	}
}

func TestIndexFilePath(t *testing.T) {
	t.Parallel()

	root := initRepo(t)
	indexPath, err := At(root).IndexFilePath(context.Background())
	if err != nil {
		t.Fatalf("IndexFilePath: %v", err)
	}
	if !filepath.IsAbs(indexPath) {
		t.Errorf("IndexFilePath = %q, want absolute", indexPath)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index file not found at %q: %v", indexPath, err)
	}
}

func TestWorkdirMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	regular := filepath.Join(dir, "regular")
	if err := os.WriteFile(regular, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	executable := filepath.Join(dir, "executable")
	if err := os.WriteFile(executable, []byte("x"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	symlink := filepath.Join(dir, "symlink")
	if err := os.Symlink(regular, symlink); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	cases := []struct {
		path string
		want string
	}{
		{regular, ModeRegular},
		{executable, ModeExecutable},
		{symlink, ModeSymlink},
	}
	for _, tc := range cases {
		got, err := WorkdirMode(tc.path)
		if err != nil {
			t.Errorf("WorkdirMode(%q): %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("WorkdirMode(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}

	if _, err := WorkdirMode(filepath.Join(dir, "absent")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("WorkdirMode(absent) error = %v, want fs.ErrNotExist", err)
	}
}

func TestParseEntries_Malformed(t *testing.T) {
	t.Parallel()

	cases := []string{
		"100644 abc\tpath",            // missing stage field
		"100644 abc 0 extra\tpath",    // too many fields
		"100644 abc zero\tpath",       // non-integer stage
		"100644 abc 0 no-tab-at-all",  // no tab separator
	}
	for _, record := range cases {
		var parseErr *ParseError
		if _, err := parseEntries(append([]byte(record), 0)); !errors.As(err, &parseErr) {
			t.Errorf("parseEntries(%q) error = %v, want *ParseError", record, err)
		}
	}
}

func TestCommandContext_InError(t *testing.T) {
	t.Parallel()

	_, err := At("/tmp/nonexistent-stagefs-repo").Entries(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for nonexistent repository")
	}
	if !strings.Contains(err.Error(), "/tmp/nonexistent-stagefs-repo") {
		t.Errorf("error = %v, want to contain the repository dir", err)
	}
}
