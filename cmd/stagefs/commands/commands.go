// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete stagefs CLI command tree.
package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/version"
)

// Root builds and returns the complete stagefs CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "stagefs",
		Description: `stagefs: the git staging area as a filesystem.

Read, write, list, watch, mount, and export the staged content of a
git repository without touching the working tree.`,
		Subcommands: []*cli.Command{
			catCommand(),
			writeCommand(),
			lsCommand(),
			statCommand(),
			statusCommand(),
			diffCommand(),
			uriCommand(),
			watchCommand(),
			mountCommand(),
			serveCommand(),
			exportCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Print the staged content of a file",
				Command:     "stagefs cat src/main.go",
			},
			{
				Description: "Stage new content for a file from stdin",
				Command:     "generate-config | stagefs write config.yaml",
			},
			{
				Description: "See which paths have staged changes",
				Command:     "stagefs status",
			},
			{
				Description: "Diff staged content against the working tree",
				Command:     "stagefs diff src/main.go",
			},
			{
				Description: "Mount the staged tree read-write",
				Command:     "stagefs mount /tmp/staged",
			},
			{
				Description: "Export the staged tree as a compressed tarball",
				Command:     "stagefs export --output staged.tar.zst",
			},
		},
	}
}

func versionCommand() *cli.Command {
	var short bool

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Usage:   "stagefs version [--short]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flags.BoolVar(&short, "short", false, "print only the version number")
			return flags
		},
		Run: func(_ []string) error {
			if short {
				fmt.Println(version.Short())
				return nil
			}
			fmt.Printf("stagefs %s\n", version.Full())
			return nil
		},
	}
}
