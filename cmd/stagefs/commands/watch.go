// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Summary: "Print change events for staged paths",
		Description: `Subscribe to change notifications for one or more paths and print
one line per event until interrupted.

All paths in the same repository share a single index watcher. The
repository's .stagefs.json may override the notification debounce.`,
		Usage: "stagefs watch <path>...",
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("expected at least one path")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The first path's repository supplies the per-repo
			// debounce override.
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			_, settings, err := repoSettings(ctx, filepath.Dir(abs))
			if err != nil {
				return err
			}

			cc, err := newContext("watch", settings.Debounce())
			if err != nil {
				return err
			}
			defer cc.close()

			for _, arg := range args {
				uri, err := virtualURI(arg)
				if err != nil {
					return err
				}
				subscription, err := cc.provider.Watch(ctx, uri)
				if err != nil {
					return err
				}
				defer subscription.Close()
			}

			cc.logger.Info("watching", "paths", len(args))
			for {
				select {
				case event, ok := <-cc.provider.Events():
					if !ok {
						return nil
					}
					fmt.Printf("changed %s\n", event.URI)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}
