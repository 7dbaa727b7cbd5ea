// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package indexwatch observes a git repository's index file via
// inotify and fans change notifications out to subscribers. One
// Watcher exists per repository root, owned by a Registry that
// creates it on the first subscription and tears it down when the
// last subscription closes.
//
// The watch is installed on the index file's parent directory, not
// the file itself: git rewrites the index by writing index.lock and
// renaming it into place, which creates a new inode that a file-level
// watch on the old inode would miss.
package indexwatch

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stagefs/stagefs/lib/clock"
)

// DefaultDebounce is the coalescing window after the first event of a
// burst. Index rewrites can produce several inotify events in quick
// succession; one notification per burst is enough.
const DefaultDebounce = 50 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	// Logger receives diagnostic messages. If nil, logs are discarded.
	Logger *slog.Logger

	// Clock provides time for debouncing. If nil, defaults to
	// clock.Real(). Tests inject a fake clock to drive the debounce
	// window deterministically.
	Clock clock.Clock

	// Debounce is the event-coalescing window. Zero uses
	// DefaultDebounce.
	Debounce time.Duration

	// OnError is invoked when the watch loop dies from a poll or read
	// failure. A broken watch means notifications are silently
	// missing, so the failure is surfaced rather than hidden: logged
	// at Error level and reported here. If nil, only the log line is
	// emitted.
	OnError func(error)
}

// Watcher observes one repository's index file and invokes every
// subscribed listener once per observed change burst.
type Watcher struct {
	indexPath string
	options   Options

	stopOnce sync.Once
	stop     chan struct{}

	mu        sync.Mutex
	listeners map[uint64]func()
	nextID    uint64
}

// New opens an inotify watch for the index file at indexPath and
// starts the consumption loop. The caller must Close the Watcher to
// release the inotify descriptor.
func New(indexPath string, options Options) (*Watcher, error) {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Debounce == 0 {
		options.Debounce = DefaultDebounce
	}

	directory := filepath.Dir(indexPath)

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	_, err = unix.InotifyAddWatch(fd, directory, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", directory, err)
	}

	watcher := &Watcher{
		indexPath: indexPath,
		options:   options,
		stop:      make(chan struct{}),
		listeners: make(map[uint64]func()),
	}

	go watcher.loop(fd, filepath.Base(indexPath))

	return watcher, nil
}

// IndexPath returns the watched index file path.
func (w *Watcher) IndexPath() string {
	return w.indexPath
}

// Subscription is a handle for one registered listener. Closing it
// removes exactly that listener; closing twice is a no-op.
type Subscription struct {
	watcher *Watcher
	id      uint64
	once    sync.Once
}

// Close removes the subscription's listener. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.watcher.mu.Lock()
		defer s.watcher.mu.Unlock()
		delete(s.watcher.listeners, s.id)
	})
}

// Subscribe registers a listener invoked once per observed index
// change. Listeners added or removed during an in-flight fan-out take
// effect from the next event (snapshot semantics).
func (w *Watcher) Subscribe(listener func()) *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := w.nextID
	w.listeners[id] = listener
	return &Subscription{watcher: w, id: id}
}

// HasListeners reports whether any listener is currently subscribed.
// The owning registry uses this to decide teardown.
func (w *Watcher) HasListeners() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners) > 0
}

// Close stops the consumption loop, which releases the inotify
// descriptor on exit.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	return nil
}

// loop polls the inotify descriptor for events naming the index file,
// debounces each burst, and invokes a snapshot of the listener set.
// Exits quietly on Close; exits loudly (Error log + OnError) on a
// poll or read failure, since a dead watch silently misses changes.
//
// Poll runs with a 100ms timeout so the goroutine stays responsive to
// the stop signal without spinning.
func (w *Watcher) loop(fd int, indexFilename string) {
	defer unix.Close(fd)

	buffer := make([]byte, 4096)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.fail(fmt.Errorf("poll on index watch for %s: %w", w.indexPath, err))
			return
		}
		if count == 0 {
			continue // timeout, check stop
		}

		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			w.fail(fmt.Errorf("read on index watch for %s: %w", w.indexPath, err))
			return
		}

		if !eventsContainFilename(buffer[:bytesRead], indexFilename) {
			continue
		}

		// Debounce: wait out the burst window and drain whatever
		// queued during it, so one rewrite produces one fan-out.
		w.options.Clock.Sleep(w.options.Debounce)
		drainEvents(fd, buffer)

		for _, listener := range w.snapshotListeners() {
			listener()
		}
	}
}

// fail reports a fatal watch-loop error.
func (w *Watcher) fail(err error) {
	w.options.Logger.Error("index watch loop died; change notifications stopped",
		"index", w.indexPath,
		"error", err,
	)
	if w.options.OnError != nil {
		w.options.OnError(err)
	}
}

// snapshotListeners copies the current listener set. Fan-out runs on
// the copy, outside the lock, so a listener may subscribe or close
// subscriptions without deadlocking.
func (w *Watcher) snapshotListeners() []func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	listeners := make([]func(), 0, len(w.listeners))
	for _, listener := range w.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}

// eventsContainFilename scans a buffer of raw inotify events for one
// whose name matches the target filename. Layout from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func eventsContainFilename(buffer []byte, targetFilename string) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}

		if nameLength > 0 {
			nameBytes := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
			if nullTerminatedString(nameBytes) == targetFilename {
				return true
			}
		}

		offset += eventSize
	}
	return false
}

// nullTerminatedString extracts a string from a null-padded byte
// slice, stopping at the first null byte.
func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}

// drainEvents reads and discards pending inotify events. Called after
// the debounce window to coalesce a burst into a single fan-out.
func drainEvents(fd int, buffer []byte) {
	for {
		if _, err := unix.Read(fd, buffer); err != nil {
			// EAGAIN means no more events; any other error, stop.
			return
		}
	}
}
