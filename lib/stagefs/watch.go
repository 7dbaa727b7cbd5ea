// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package stagefs

import (
	"context"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/stagefs/stagefs/lib/stagedpath"
)

// WatchSubscription is the disposable handle returned by Watch. It is
// valid immediately, before the asynchronous root resolution behind
// it completes: closing it early marks the resolution cancelled, so a
// late-arriving resolution registers nothing.
type WatchSubscription struct {
	mu        sync.Mutex
	cancelled bool
	ticket    interface{ Close() }
}

// Close cancels the subscription. If a listener was registered it is
// removed, and if it was the last listener for its repository root,
// the root's watcher is torn down. Idempotent.
func (s *WatchSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = true
	if s.ticket != nil {
		s.ticket.Close()
		s.ticket = nil
	}
}

// Watch subscribes to change notifications for the given virtual URI.
// Each observed mutation of the owning repository's index file
// produces one ChangeEvent scoped to exactly this URI on the
// provider's event stream.
//
// Shape violations are reported synchronously. The repository root
// and index file location are then resolved asynchronously: the
// returned subscription is usable (and closable) immediately. A
// resolution failure is logged and surfaced through the provider's
// logger; the subscription simply never produces events.
func (p *Provider) Watch(ctx context.Context, virtual *url.URL) (*WatchSubscription, error) {
	return p.WatchFunc(ctx, virtual, p.emit)
}

// WatchFunc is Watch with a caller-supplied delivery function instead
// of the provider's shared event stream. The deliver callback runs on
// the index watcher's dispatch goroutine and must not block.
func (p *Provider) WatchFunc(ctx context.Context, virtual *url.URL, deliver func(ChangeEvent)) (*WatchSubscription, error) {
	localPath, err := stagedpath.ToLocal(virtual)
	if err != nil {
		return nil, err
	}

	subscription := &WatchSubscription{}
	watchedURI := *virtual

	go func() {
		root, err := p.options.ResolveRoot(ctx, filepath.Dir(localPath))
		if err != nil {
			p.options.Logger.Error("watch setup failed: cannot resolve repository root",
				"uri", watchedURI.String(),
				"error", err,
			)
			return
		}
		indexPath, err := p.options.OpenIndex(root).IndexFilePath(ctx)
		if err != nil {
			p.options.Logger.Error("watch setup failed: cannot locate index file",
				"uri", watchedURI.String(),
				"root", root,
				"error", err,
			)
			return
		}

		// Registration happens under the subscription lock so a
		// concurrent Close observes either "not yet registered"
		// (and the registration below is skipped) or "registered"
		// (and the ticket is closed). Lock order is subscription
		// then registry, on both paths.
		subscription.mu.Lock()
		defer subscription.mu.Unlock()
		if subscription.cancelled {
			return
		}

		ticket, err := p.registry.Subscribe(root, indexPath, func() {
			deliver(ChangeEvent{Type: Changed, URI: &watchedURI})
		})
		if err != nil {
			p.options.Logger.Error("watch setup failed: cannot subscribe to index watcher",
				"uri", watchedURI.String(),
				"root", root,
				"error", err,
			)
			return
		}
		subscription.ticket = ticket
	}()

	return subscription, nil
}
