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
	"github.com/stagefs/stagefs/lib/fsservice"
)

func serveCommand() *cli.Command {
	var socketPath string

	return &cli.Command{
		Name:    "serve",
		Summary: "Run the staged filesystem socket service",
		Description: `Serve staged filesystem operations over a Unix socket until
interrupted. Clients address any repository on the machine by URI:
one service instance covers them all.`,
		Usage: "stagefs serve [--socket path]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flags.StringVar(&socketPath, "socket", "", "Unix socket path (default: from config)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}

			cc, err := newContext("serve", 0)
			if err != nil {
				return err
			}
			defer cc.close()

			if socketPath == "" {
				socketPath = cc.cfg.Service.SocketPath
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := fsservice.NewServer(socketPath, cc.provider, cc.logger)
			return server.Serve(ctx)
		},
	}
}
