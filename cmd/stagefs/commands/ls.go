// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/stagefs"
)

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:    "ls",
		Summary: "List the staged children of a directory",
		Description: `List the immediate children of a directory in the staged tree.

Only paths with staged entries appear: untracked working-tree files
are not part of the staged view.`,
		Usage: "stagefs ls [path]",
		Run: func(args []string) error {
			target := "."
			if len(args) > 1 {
				return fmt.Errorf("expected at most one path, got %d", len(args))
			}
			if len(args) == 1 {
				target = args[0]
			}

			cc, err := newContext("ls", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			uri, err := virtualURI(target)
			if err != nil {
				return err
			}
			children, err := cc.provider.ReadDirectory(context.Background(), uri)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			for _, child := range children {
				name := child.Name
				if child.Type == stagefs.TypeDirectory {
					name += "/"
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, child.Type)
			}
			return tw.Flush()
		},
	}
}
