// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package indexwatch

import (
	"errors"
	"sync"
)

// ErrRegistryClosed is returned by Subscribe after the registry has
// been closed (provider shutdown).
var ErrRegistryClosed = errors.New("indexwatch: registry is closed")

// Registry maintains at most one live Watcher per repository root.
// Watchers are created lazily on the first subscription for a root
// and closed exactly when the last subscription for that root closes.
// The registry is owned by its provider instance, not shared as a
// package singleton, so watcher lifetime is scoped to the provider's.
type Registry struct {
	// options is the template for constructed watchers.
	options Options

	mu       sync.Mutex
	watchers map[string]*Watcher
	closed   bool
}

// NewRegistry returns an empty registry whose watchers are built with
// the given options.
func NewRegistry(options Options) *Registry {
	return &Registry{
		options:  options,
		watchers: make(map[string]*Watcher),
	}
}

// Ticket is a handle for one registry subscription. Closing it
// removes the underlying listener and, when that listener was the
// root's last, closes and removes the root's Watcher. Idempotent.
type Ticket struct {
	registry     *Registry
	root         string
	subscription *Subscription
	once         sync.Once
}

// Close releases the subscription. The last ticket for a root tears
// the root's Watcher down.
func (t *Ticket) Close() {
	t.once.Do(func() {
		t.registry.mu.Lock()
		defer t.registry.mu.Unlock()

		t.subscription.Close()

		watcher, exists := t.registry.watchers[t.root]
		if exists && !watcher.HasListeners() {
			watcher.Close()
			delete(t.registry.watchers, t.root)
		}
	})
}

// Subscribe registers a listener for index changes under root, whose
// index file lives at indexPath. The check-or-create of the root's
// Watcher and the listener registration happen under one lock, so two
// concurrent first subscriptions to the same root cannot create
// duplicate Watchers.
func (r *Registry) Subscribe(root, indexPath string, listener func()) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	watcher, exists := r.watchers[root]
	if !exists {
		created, err := New(indexPath, r.options)
		if err != nil {
			return nil, err
		}
		r.watchers[root] = created
		watcher = created
	}

	return &Ticket{
		registry:     r,
		root:         root,
		subscription: watcher.Subscribe(listener),
	}, nil
}

// Size returns the number of live watchers.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// Close tears down every remaining watcher and rejects future
// subscriptions. Outstanding tickets remain safe to close.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for root, watcher := range r.watchers {
		watcher.Close()
		delete(r.watchers, root)
	}
}
