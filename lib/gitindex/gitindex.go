// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitindex provides typed access to the git plumbing commands
// that stagefs uses as its object-store oracle: listing index entries,
// reading and writing blob objects, and updating index entries. All
// commands target a specific repository via the -C flag, which is
// automatically injected by all Repository methods. Git itself computes
// every content hash and performs every index update, so objects staged
// through this package are indistinguishable from objects staged by any
// other git tool.
//
// No call is ever retried: a failed index mutation must surface, not
// silently repeat, because a duplicate or out-of-order update-index
// could stage the wrong content.
package gitindex

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ResolveRoot returns the absolute repository root containing dir,
// via "git rev-parse --show-toplevel". The working directory for the
// resolution is dir itself, so nested repositories resolve to their
// innermost root.
func ResolveRoot(ctx context.Context, dir string) (string, error) {
	output, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	root := strings.TrimSpace(string(output))
	if root == "" {
		return "", fmt.Errorf("git rev-parse --show-toplevel in %s: empty output", dir)
	}
	return root, nil
}

// Repository represents a git repository at a specific root directory.
// All operations target this directory via "git -C <root>". There is
// no default directory — callers must always specify which repository
// they mean.
type Repository struct {
	root string
}

// At returns a Repository targeting the given root directory without
// verifying it. Use Open to resolve and verify a root from an
// arbitrary contained path.
func At(root string) *Repository {
	return &Repository{root: root}
}

// Open resolves the repository root containing dir and returns a
// Repository bound to it.
func Open(ctx context.Context, dir string) (*Repository, error) {
	root, err := ResolveRoot(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &Repository{root: root}, nil
}

// Root returns the repository root directory.
func (r *Repository) Root() string {
	return r.root
}

// Entries lists the cached index entries matching pathspec, relative
// to the repository root. An empty pathspec lists the entire index.
// Entries are reported in index order; a path in merge-conflict state
// appears once per stage number.
func (r *Repository) Entries(ctx context.Context, pathspec string) ([]Entry, error) {
	args := []string{"ls-files", "--cached", "--stage", "-z"}
	if pathspec != "" {
		args = append(args, "--", pathspec)
	}
	output, err := runGit(ctx, r.root, args...)
	if err != nil {
		return nil, err
	}
	return parseEntries(output)
}

// BlobSize returns the byte size of the object with the given ID,
// via "git cat-file -s".
func (r *Repository) BlobSize(ctx context.Context, objectID string) (int64, error) {
	output, err := runGit(ctx, r.root, "cat-file", "-s", objectID)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
	if err != nil {
		return 0, &ParseError{Output: string(output), Reason: "cat-file -s output is not an integer"}
	}
	return size, nil
}

// ReadBlob returns the raw bytes of the blob object with the given ID.
// No transformation is applied: the bytes are exactly what git stores.
func (r *Repository) ReadBlob(ctx context.Context, objectID string) ([]byte, error) {
	return runGit(ctx, r.root, "cat-file", "blob", objectID)
}

// WriteBlob stores data as a new blob object in the repository's
// object database and returns its ID. The hash is computed by git
// ("git hash-object -w --stdin"), preserving interoperability and
// deduplication with objects written by any other tool.
func (r *Repository) WriteBlob(ctx context.Context, data []byte) (string, error) {
	command := exec.CommandContext(ctx, "git", "-C", r.root, "hash-object", "-w", "--stdin")
	command.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git hash-object -w --stdin in %s: %w (stderr: %s)",
			r.root, err, strings.TrimSpace(stderr.String()))
	}
	objectID := strings.TrimSpace(stdout.String())
	if objectID == "" {
		return "", &ParseError{Output: stdout.String(), Reason: "hash-object produced no object ID"}
	}
	return objectID, nil
}

// SetEntry updates the index entry for relPath (relative to the
// repository root) to reference the object with the given mode and ID,
// via "git update-index --cacheinfo". Set add for paths not previously
// tracked in the index — git rejects --cacheinfo for unknown paths
// without it. The index update itself is atomic at the git level: a
// concurrent reader observes either the old entry or the new one.
func (r *Repository) SetEntry(ctx context.Context, mode, objectID, relPath string, add bool) error {
	args := []string{"update-index"}
	if add {
		args = append(args, "--add")
	}
	args = append(args, "--cacheinfo", fmt.Sprintf("%s,%s,%s", mode, objectID, relPath))
	_, err := runGit(ctx, r.root, args...)
	return err
}

// StagedPaths lists the root-relative paths with staged changes
// relative to the last commit ("git diff --cached --name-only"). On a
// repository with no commits yet there is no HEAD to diff against;
// every index entry is then a staged change, so the full index listing
// is returned instead. The unborn-HEAD case is detected explicitly —
// any other diff failure propagates.
func (r *Repository) StagedPaths(ctx context.Context) ([]string, error) {
	if _, err := runGit(ctx, r.root, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		entries, listErr := r.Entries(ctx, "")
		if listErr != nil {
			return nil, listErr
		}
		paths := make([]string, 0, len(entries))
		seen := make(map[string]bool, len(entries))
		for _, entry := range entries {
			if seen[entry.Path] {
				continue
			}
			seen[entry.Path] = true
			paths = append(paths, entry.Path)
		}
		return paths, nil
	}

	output, err := runGit(ctx, r.root, "diff", "--cached", "--name-only", "-z")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, field := range bytes.Split(output, []byte{0}) {
		if len(field) > 0 {
			paths = append(paths, string(field))
		}
	}
	return paths, nil
}

// IndexFilePath returns the absolute path of the repository's index
// file, via "git rev-parse --git-path index". This is correct for
// worktrees and gitfile redirections, where <root>/.git/index would
// point at the wrong file.
func (r *Repository) IndexFilePath(ctx context.Context) (string, error) {
	output, err := runGit(ctx, r.root, "rev-parse", "--git-path", "index")
	if err != nil {
		return "", err
	}
	indexPath := strings.TrimSpace(string(output))
	if indexPath == "" {
		return "", &ParseError{Output: string(output), Reason: "rev-parse --git-path produced no path"}
	}
	if !filepath.IsAbs(indexPath) {
		indexPath = filepath.Join(r.root, indexPath)
	}
	return indexPath, nil
}

// WorkdirMode returns the git mode string for a working-tree file:
// 120000 for symlinks, 100755 when any execute bit is set, 100644
// otherwise. Used as the mode source when staging a path that has no
// existing index entry.
func WorkdirMode(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return ModeSymlink, nil
	case info.IsDir():
		return "", fmt.Errorf("%s is a directory, not a stageable file", path)
	case info.Mode().Perm()&0o111 != 0:
		return ModeExecutable, nil
	default:
		return ModeRegular, nil
	}
}

// runGit executes a git command with -C dir and returns raw stdout.
// Stderr is captured separately and included in error messages on
// failure, along with the full command line and directory.
func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
