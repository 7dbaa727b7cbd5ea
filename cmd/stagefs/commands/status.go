// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
)

func statusCommand() *cli.Command {
	var repoDir string
	var quiet bool

	return &cli.Command{
		Name:    "status",
		Summary: "List paths with staged changes",
		Description: `List the repository-relative paths whose staged content differs
from HEAD.`,
		Usage: "stagefs status [--repo dir] [--quiet]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.StringVar(&repoDir, "repo", "", "repository directory (default: current directory)")
			flags.BoolVarP(&quiet, "quiet", "q", false, "print nothing; exit 1 if nothing is staged")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}

			cc, err := newContext("status", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			ctx := context.Background()
			root, err := repoRoot(ctx, repoDir)
			if err != nil {
				return err
			}
			paths, err := cc.provider.StagedPaths(ctx, root)
			if err != nil {
				return err
			}

			if quiet {
				if len(paths) == 0 {
					return &cli.ExitError{Code: 1}
				}
				return nil
			}
			for _, path := range paths {
				fmt.Println(path)
			}
			return nil
		},
	}
}
