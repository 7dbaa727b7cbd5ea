// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/stagefs"
)

func writeCommand() *cli.Command {
	var inputFile string

	return &cli.Command{
		Name:    "write",
		Summary: "Stage new content for a file",
		Description: `Replace the staged content of a file.

Content is read from stdin by default, or from --input. The working
tree is never modified: only the index entry changes. A path with no
staged entry is added using the working-tree file's mode.`,
		Usage: "stagefs write <path> [--input file]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("write", pflag.ContinueOnError)
			flags.StringVar(&inputFile, "input", "", "read content from this file instead of stdin")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one path, got %d", len(args))
			}

			var content []byte
			var err error
			if inputFile != "" {
				content, err = os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("reading %s: %w", inputFile, err)
				}
			} else {
				content, err = io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}

			cc, err := newContext("write", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			uri, err := virtualURI(args[0])
			if err != nil {
				return err
			}
			return cc.provider.WriteFile(context.Background(), uri, content, stagefs.WriteOptions{
				Create:    true,
				Overwrite: true,
			})
		},
	}
}
