// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
)

func statCommand() *cli.Command {
	return &cli.Command{
		Name:    "stat",
		Summary: "Show staged file metadata",
		Description: `Show type, size, and timestamps for a staged path.

For staged entries the modification time is the index file's: staged
blobs carry no per-path timestamps, so any staged change in the
repository bumps every staged path's modification time.`,
		Usage: "stagefs stat <path>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one path, got %d", len(args))
			}

			cc, err := newContext("stat", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			uri, err := virtualURI(args[0])
			if err != nil {
				return err
			}
			stat, err := cc.provider.Stat(context.Background(), uri)
			if err != nil {
				return err
			}

			fmt.Printf("uri:      %s\n", uri)
			fmt.Printf("type:     %s\n", stat.Type)
			fmt.Printf("size:     %d\n", stat.Size)
			fmt.Printf("modified: %s\n", stat.ModTime.Format("2006-01-02 15:04:05 MST"))
			if !stat.CreateTime.IsZero() {
				fmt.Printf("created:  %s\n", stat.CreateTime.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}
