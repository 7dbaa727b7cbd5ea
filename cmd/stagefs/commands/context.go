// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/stagefs/stagefs/cmd/stagefs/cli"
	"github.com/stagefs/stagefs/lib/config"
	"github.com/stagefs/stagefs/lib/gitindex"
	"github.com/stagefs/stagefs/lib/stagedpath"
	"github.com/stagefs/stagefs/lib/stagefs"
)

// commandContext bundles what most commands need: the global config,
// a scoped logger, and a provider. Close releases the provider's
// watchers.
type commandContext struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *stagefs.Provider
}

// newContext loads the global config and constructs a provider. The
// debounce argument overrides the config value when non-zero;
// commands operating on a single repository pass the repository's
// .stagefs.json override through here.
func newContext(command string, debounce time.Duration) (*commandContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg).With("command", command)

	if debounce == 0 {
		debounce = cfg.Debounce()
	}
	provider := stagefs.New(stagefs.Options{
		Logger:   logger,
		Debounce: debounce,
	})

	return &commandContext{cfg: cfg, logger: logger, provider: provider}, nil
}

func (c *commandContext) close() {
	c.provider.Close()
}

// newLogger builds the command logger from the config: the format
// setting forces JSON when set, otherwise terminal detection decides.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cli.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return cli.NewCommandLogger(level)
}

// virtualURI translates a command-line argument into a staged URI.
// An argument already carrying the staged scheme passes through; a
// plain path is made absolute and translated.
func virtualURI(arg string) (*url.URL, error) {
	if parsed, err := url.Parse(arg); err == nil && parsed.Scheme == stagedpath.Scheme {
		return parsed, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", arg, err)
	}
	return stagedpath.FromLocal(&url.URL{Scheme: stagedpath.LocalScheme, Path: abs})
}

// repoRoot resolves the repository root containing dir. An empty dir
// means the current directory.
func repoRoot(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		working, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = working
	}
	return gitindex.ResolveRoot(ctx, dir)
}

// repoSettings loads the per-repository settings for the repository
// containing dir, resolving the root first.
func repoSettings(ctx context.Context, dir string) (string, *stagefs.Settings, error) {
	root, err := repoRoot(ctx, dir)
	if err != nil {
		return "", nil, err
	}
	settings, err := stagefs.LoadSettings(root)
	if err != nil {
		return "", nil, err
	}
	return root, settings, nil
}
