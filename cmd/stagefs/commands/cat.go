// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
)

func catCommand() *cli.Command {
	return &cli.Command{
		Name:    "cat",
		Summary: "Print the staged content of a file",
		Description: `Print the staged content of a file to stdout.

If the path has no staged entry, the working-tree content is printed
instead. Paths may be plain filesystem paths or staged URIs.`,
		Usage: "stagefs cat <path>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one path, got %d", len(args))
			}

			cc, err := newContext("cat", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			uri, err := virtualURI(args[0])
			if err != nil {
				return err
			}
			content, err := cc.provider.ReadFile(context.Background(), uri)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}
}
