// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/stagefs"
)

func diffCommand() *cli.Command {
	var repoDir string
	var contextLines int

	return &cli.Command{
		Name:    "diff",
		Summary: "Diff working-tree content against staged content",
		Description: `Show a unified diff from working-tree content to staged content.

With a path argument, diffs that file. Without one, diffs every path
that has staged changes in the repository.`,
		Usage: "stagefs diff [path] [--repo dir]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("diff", pflag.ContinueOnError)
			flags.StringVar(&repoDir, "repo", "", "repository directory (default: current directory)")
			flags.IntVar(&contextLines, "context", 3, "context lines per hunk")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one path, got %d", len(args))
			}

			cc, err := newContext("diff", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			ctx := context.Background()

			var relPaths []string
			var root string
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				root, err = repoRoot(ctx, filepath.Dir(abs))
				if err != nil {
					return err
				}
				rel, err := filepath.Rel(root, abs)
				if err != nil {
					return err
				}
				relPaths = []string{filepath.ToSlash(rel)}
			} else {
				root, err = repoRoot(ctx, repoDir)
				if err != nil {
					return err
				}
				relPaths, err = cc.provider.StagedPaths(ctx, root)
				if err != nil {
					return err
				}
			}

			for _, rel := range relPaths {
				patch, err := diffOne(ctx, cc.provider, root, rel, contextLines)
				if err != nil {
					return err
				}
				if patch != "" {
					fmt.Print(patch)
				}
			}
			return nil
		},
	}
}

// diffOne produces the unified diff for one repository-relative path:
// working-tree content as the "from" side, staged content as the
// "to" side.
func diffOne(ctx context.Context, provider *stagefs.Provider, root, rel string, contextLines int) (string, error) {
	localPath := filepath.Join(root, rel)

	uri, err := virtualURI(localPath)
	if err != nil {
		return "", err
	}
	staged, err := provider.ReadFile(ctx, uri)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			staged = nil
		} else {
			return "", err
		}
	}

	worktree, err := os.ReadFile(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			worktree = nil
		} else {
			return "", err
		}
	}

	unified := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(worktree)),
		B:        difflib.SplitLines(string(staged)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  contextLines,
	}
	patch, err := difflib.GetUnifiedDiffString(unified)
	if err != nil {
		return "", fmt.Errorf("diffing %s: %w", rel, err)
	}
	return patch, nil
}
