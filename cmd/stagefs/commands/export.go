// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/gitindex"
	"github.com/stagefs/stagefs/lib/stagefs"
	"github.com/stagefs/stagefs/lib/stagefs/export"
)

func exportCommand() *cli.Command {
	var repoDir string
	var output string
	var excludes []string
	var concurrency int

	return &cli.Command{
		Name:    "export",
		Summary: "Export the staged tree as a compressed tarball",
		Description: `Write the complete staged tree as a zstd-compressed tarball: exactly
what a commit made right now would contain, without creating one.

Path prefixes from --exclude and from the repository's .stagefs.json
export_exclude list are skipped. Submodule entries are always
skipped.`,
		Usage: "stagefs export [--output file] [--repo dir]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.StringVarP(&output, "output", "o", "staged.tar.zst", "output file (- for stdout)")
			flags.StringVar(&repoDir, "repo", "", "repository directory (default: current directory)")
			flags.StringSliceVar(&excludes, "exclude", nil, "path prefix to skip (repeatable)")
			flags.IntVar(&concurrency, "concurrency", 0, "parallel blob fetches (0 = default)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}

			cc, err := newContext("export", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			ctx := context.Background()
			root, settings, err := repoSettings(ctx, repoDir)
			if err != nil {
				return err
			}

			destination := os.Stdout
			if output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer file.Close()
				destination = file
			}

			err = export.Write(ctx, destination, export.Options{
				Index:       gitindex.At(root),
				Exclude:     excludeFunc(settings, excludes),
				Concurrency: concurrency,
				Logger:      cc.logger,
			})
			if err != nil {
				return err
			}
			if output != "-" {
				cc.logger.Info("staged tree exported", "output", output, "repo", root)
			}
			return nil
		},
	}
}

// excludeFunc combines the per-repo settings excludes with the
// --exclude flags. A prefix matches whole path segments only.
func excludeFunc(settings *stagefs.Settings, flagExcludes []string) func(string) bool {
	return func(relPath string) bool {
		if settings.Excluded(relPath) {
			return true
		}
		for _, prefix := range flagExcludes {
			prefix = strings.TrimSuffix(prefix, "/")
			if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
				return true
			}
		}
		return false
	}
}
