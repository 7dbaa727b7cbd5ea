// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/stagefs/stagefs/lib/gitindex"
)

func initRepo(t *testing.T) string {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolving temp dir: %v", err)
	}
	gitHelper(t, root, "init")
	gitHelper(t, root, "config", "user.name", "Test")
	gitHelper(t, root, "config", "user.email", "test@test.local")
	return root
}

func gitHelper(t *testing.T, dir string, args ...string) {
	t.Helper()
	command := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
}

func stageFile(t *testing.T, root, relPath, content string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write: %v", err)
	}
	gitHelper(t, root, "add", relPath)
}

// readArchive decompresses and parses the export, returning headers
// and body bytes per path.
func readArchive(t *testing.T, data []byte) (map[string]*tar.Header, map[string][]byte) {
	t.Helper()

	decompressor, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decompressor.Close()

	headers := make(map[string]*tar.Header)
	contents := make(map[string][]byte)
	archive := tar.NewReader(decompressor)
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		body, err := io.ReadAll(archive)
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		headers[header.Name] = header
		contents[header.Name] = body
	}

	return headers, contents
}

func TestWrite_StagedTree(t *testing.T) {
	root := initRepo(t)
	stageFile(t, root, "README", "readme\n", 0o644)
	stageFile(t, root, "bin/tool.sh", "#!/bin/sh\necho hi\n", 0o755)

	linkPath := filepath.Join(root, "link")
	if err := os.Symlink("README", linkPath); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	gitHelper(t, root, "add", "link")

	var buffer bytes.Buffer
	err := Write(context.Background(), &buffer, Options{Index: gitindex.At(root)})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	headers, contents := readArchive(t, buffer.Bytes())

	readme, exists := headers["README"]
	if !exists {
		t.Fatal("README missing from export")
	}
	if readme.Mode&0o777 != 0o644 {
		t.Errorf("README mode = %o, want 644", readme.Mode&0o777)
	}
	if string(contents["README"]) != "readme\n" {
		t.Errorf("README content = %q", contents["README"])
	}

	tool, exists := headers["bin/tool.sh"]
	if !exists {
		t.Fatal("bin/tool.sh missing from export")
	}
	if tool.Mode&0o777 != 0o755 {
		t.Errorf("tool.sh mode = %o, want 755", tool.Mode&0o777)
	}

	link, exists := headers["link"]
	if !exists {
		t.Fatal("link missing from export")
	}
	if link.Typeflag != tar.TypeSymlink || link.Linkname != "README" {
		t.Errorf("link = typeflag %v linkname %q, want symlink to README", link.Typeflag, link.Linkname)
	}
}

// TestWrite_CapturesIndexNotWorktree pins that the export reads blob
// content, not working-tree files.
func TestWrite_CapturesIndexNotWorktree(t *testing.T) {
	root := initRepo(t)
	stageFile(t, root, "file.txt", "staged version\n", 0o644)
	if err := os.WriteFile(filepath.Join(root, "file.txt"), []byte("drifted on disk\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var buffer bytes.Buffer
	if err := Write(context.Background(), &buffer, Options{Index: gitindex.At(root)}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, contents := readArchive(t, buffer.Bytes())
	if string(contents["file.txt"]) != "staged version\n" {
		t.Errorf("exported content = %q, want the staged bytes", contents["file.txt"])
	}
}

func TestWrite_Excludes(t *testing.T) {
	root := initRepo(t)
	stageFile(t, root, "keep.txt", "keep\n", 0o644)
	stageFile(t, root, "vendor/dep.go", "package dep\n", 0o644)

	var buffer bytes.Buffer
	err := Write(context.Background(), &buffer, Options{
		Index: gitindex.At(root),
		Exclude: func(relPath string) bool {
			return relPath == "vendor" || strings.HasPrefix(relPath, "vendor/")
		},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	headers, _ := readArchive(t, buffer.Bytes())
	if _, exists := headers["keep.txt"]; !exists {
		t.Error("keep.txt missing from export")
	}
	if _, exists := headers["vendor/dep.go"]; exists {
		t.Error("excluded vendor/dep.go present in export")
	}
}
