// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stagefs/stagefs/lib/stagedpath"
	"github.com/stagefs/stagefs/lib/stagefs"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	_, err := os.Stat("/dev/fuse")
	if err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// initRepo creates a git repository with a committed and staged tree:
// README.md at the root and docs/guide.md in a subdirectory.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	dir = resolved

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, output)
		}
	}

	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# readme\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "docs"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "docs", "guide.md"), []byte("guide\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial")

	return dir
}

// testMount creates a git repository, a provider, and mounts the
// staged tree over a temporary directory. The mount is unmounted
// when the test ends.
func testMount(t *testing.T) (mountpoint, root string, provider *stagefs.Provider) {
	t.Helper()
	fuseAvailable(t)

	root = initRepo(t)
	provider = stagefs.New(stagefs.Options{})
	t.Cleanup(func() { provider.Close() })

	mountpoint = filepath.Join(t.TempDir(), "mount")

	server, err := Mount(Options{
		Mountpoint: mountpoint,
		Provider:   provider,
		Root:       root,
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})

	return mountpoint, root, provider
}

func testURI(t *testing.T, root, relPath string) *url.URL {
	t.Helper()
	uri, err := stagedpath.FromLocal(&url.URL{
		Scheme: stagedpath.LocalScheme,
		Path:   filepath.Join(root, relPath),
	})
	if err != nil {
		t.Fatalf("FromLocal: %v", err)
	}
	return uri
}

func TestMountListsStagedTree(t *testing.T) {
	mountpoint, _, _ := testMount(t)

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = entry.IsDir()
	}
	if isDir, ok := names["README.md"]; !ok || isDir {
		t.Errorf("README.md: present=%v dir=%v, want file", ok, isDir)
	}
	if isDir, ok := names["docs"]; !ok || !isDir {
		t.Errorf("docs: present=%v dir=%v, want directory", ok, isDir)
	}
}

func TestMountReadsStagedContent(t *testing.T) {
	mountpoint, root, _ := testMount(t)

	// Drift the worktree copy: the mount must keep serving the
	// staged bytes.
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("drifted\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(mountpoint, "README.md"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, []byte("# readme\n")) {
		t.Errorf("content = %q, want staged bytes", data)
	}

	nested, err := os.ReadFile(filepath.Join(mountpoint, "docs", "guide.md"))
	if err != nil {
		t.Fatalf("ReadFile nested: %v", err)
	}
	if !bytes.Equal(nested, []byte("guide\n")) {
		t.Errorf("nested content = %q", nested)
	}
}

func TestMountMissingFileIsENOENT(t *testing.T) {
	mountpoint, _, _ := testMount(t)

	_, err := os.ReadFile(filepath.Join(mountpoint, "absent.txt"))
	if !os.IsNotExist(err) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestMountWriteStagesContent(t *testing.T) {
	mountpoint, root, provider := testMount(t)

	want := []byte("rewritten through the mount\n")
	if err := os.WriteFile(filepath.Join(mountpoint, "README.md"), want, 0o644); err != nil {
		t.Fatalf("WriteFile through mount: %v", err)
	}

	staged, err := provider.ReadFile(context.Background(), testURI(t, root, "README.md"))
	if err != nil {
		t.Fatalf("ReadFile staged: %v", err)
	}
	if !bytes.Equal(staged, want) {
		t.Errorf("staged = %q, want %q", staged, want)
	}

	// The worktree copy is untouched by a staged write.
	worktree, err := os.ReadFile(filepath.Join(root, "README.md"))
	if err != nil {
		t.Fatalf("ReadFile worktree: %v", err)
	}
	if !bytes.Equal(worktree, []byte("# readme\n")) {
		t.Errorf("worktree = %q, want original", worktree)
	}
}

func TestMountRemoveIsRejected(t *testing.T) {
	mountpoint, _, _ := testMount(t)

	if err := os.Remove(filepath.Join(mountpoint, "README.md")); err == nil {
		t.Error("Remove succeeded, want error")
	}
}
