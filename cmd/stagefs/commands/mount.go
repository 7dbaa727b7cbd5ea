// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	stagefsfuse "github.com/stagefs/stagefs/lib/stagefs/fuse"
)

func mountCommand() *cli.Command {
	var repoDir string
	var allowOther bool

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount the staged tree as a FUSE filesystem",
		Description: `Mount a repository's staged tree at a mountpoint and serve it until
interrupted. Reads return staged content; writes stage new content
without touching the working tree.`,
		Usage: "stagefs mount <mountpoint> [--repo dir]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flags.StringVar(&repoDir, "repo", "", "repository directory (default: current directory)")
			flags.BoolVar(&allowOther, "allow-other", false, "permit other users to access the mount")
			return flags
		},
		Run: func(args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, settings, err := repoSettings(ctx, repoDir)
			if err != nil {
				return err
			}

			cc, err := newContext("mount", settings.Debounce())
			if err != nil {
				return err
			}
			defer cc.close()

			mountpoint := cc.cfg.Mount.Mountpoint
			if len(args) == 1 {
				mountpoint = args[0]
			} else if len(args) > 1 {
				return fmt.Errorf("expected at most one mountpoint, got %d arguments", len(args))
			}
			if mountpoint == "" {
				return fmt.Errorf("no mountpoint: pass one or set mount.mountpoint in the config")
			}

			server, err := stagefsfuse.Mount(stagefsfuse.Options{
				Mountpoint: mountpoint,
				Provider:   cc.provider,
				Root:       root,
				AllowOther: allowOther || cc.cfg.Mount.AllowOther,
				Logger:     cc.logger,
			})
			if err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				if err := server.Unmount(); err != nil {
					cc.logger.Error("unmount failed", "error", err)
				}
			}()

			server.Wait()
			return nil
		},
	}
}
