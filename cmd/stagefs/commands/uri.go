// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/stagedpath"
)

func uriCommand() *cli.Command {
	var toLocal bool

	return &cli.Command{
		Name:    "uri",
		Summary: "Translate between local paths and staged URIs",
		Description: `Translate a local path to its staged URI, or with --local a staged
URI back to the local path it shadows. Useful for debugging editor
integrations.`,
		Usage: "stagefs uri <path> | stagefs uri --local <uri>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("uri", pflag.ContinueOnError)
			flags.BoolVar(&toLocal, "local", false, "translate a staged URI to its local path")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument, got %d", len(args))
			}

			if toLocal {
				parsed, err := url.Parse(args[0])
				if err != nil {
					return fmt.Errorf("parsing %q: %w", args[0], err)
				}
				localPath, err := stagedpath.ToLocal(parsed)
				if err != nil {
					return err
				}
				fmt.Println(localPath)
				return nil
			}

			uri, err := virtualURI(args[0])
			if err != nil {
				return err
			}
			fmt.Println(uri)
			return nil
		},
	}
}
