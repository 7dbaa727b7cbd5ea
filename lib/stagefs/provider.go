// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package stagefs exposes the content staged in a git index as a
// virtual filesystem: stat, read, write, list, and watch operations
// against stagefs:// URIs, backed by git plumbing commands.
//
// The staged view is a flat content overlay, not a full mutable tree:
// WriteFile is the sole mutation path, and directory creation,
// deletion, rename, and copy are unsupported by design.
//
// Read operations deliberately fall back to the working tree when a
// path has no staged entry. This quietly changes the semantics from
// "what will be committed" to "what is on disk" for not-yet-added
// files — an intentional deviation from pure index semantics that
// lets users start editing a file before its first git add. ReadFile
// and Stat document and pin this behavior.
package stagefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/stagefs/stagefs/lib/clock"
	"github.com/stagefs/stagefs/lib/gitindex"
	"github.com/stagefs/stagefs/lib/indexwatch"
	"github.com/stagefs/stagefs/lib/stagedpath"
)

// Index is the narrow oracle surface the provider needs from a
// repository's staging area. *gitindex.Repository implements it; a
// direct library binding could replace the subprocess oracle without
// touching provider logic.
type Index interface {
	Root() string
	Entries(ctx context.Context, pathspec string) ([]gitindex.Entry, error)
	BlobSize(ctx context.Context, objectID string) (int64, error)
	ReadBlob(ctx context.Context, objectID string) ([]byte, error)
	WriteBlob(ctx context.Context, data []byte) (string, error)
	SetEntry(ctx context.Context, mode, objectID, relPath string, add bool) error
	StagedPaths(ctx context.Context) ([]string, error)
	IndexFilePath(ctx context.Context) (string, error)
}

// DefaultEventBuffer is the capacity of the provider's change-event
// stream.
const DefaultEventBuffer = 64

// Options configures a Provider.
type Options struct {
	// Logger receives diagnostic messages. If nil, logs are discarded.
	Logger *slog.Logger

	// Clock provides time for watcher debouncing. If nil, defaults to
	// clock.Real().
	Clock clock.Clock

	// Debounce is the index-watch coalescing window. Zero uses
	// indexwatch.DefaultDebounce.
	Debounce time.Duration

	// EventBuffer is the change-event stream capacity. Zero uses
	// DefaultEventBuffer. An event arriving on a full stream is
	// dropped with a warning rather than blocking the watch loop.
	EventBuffer int

	// ResolveRoot resolves the repository root containing a
	// directory. If nil, defaults to gitindex.ResolveRoot. Tests
	// inject failures here.
	ResolveRoot func(ctx context.Context, dir string) (string, error)

	// OpenIndex binds an Index to a resolved repository root. If nil,
	// defaults to gitindex.At.
	OpenIndex func(root string) Index
}

// Provider implements the staged virtual filesystem capability
// surface. It owns its watcher registry and change-event stream;
// there is no shared package state, so two Providers are fully
// independent.
type Provider struct {
	options  Options
	registry *indexwatch.Registry
	events   chan ChangeEvent

	mu     sync.RWMutex
	closed bool
}

// New creates a Provider. Call Close to release the watcher registry
// and event stream.
func New(options Options) *Provider {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.EventBuffer == 0 {
		options.EventBuffer = DefaultEventBuffer
	}
	if options.ResolveRoot == nil {
		options.ResolveRoot = gitindex.ResolveRoot
	}
	if options.OpenIndex == nil {
		options.OpenIndex = func(root string) Index { return gitindex.At(root) }
	}

	return &Provider{
		options: options,
		registry: indexwatch.NewRegistry(indexwatch.Options{
			Logger:   options.Logger,
			Clock:    options.Clock,
			Debounce: options.Debounce,
		}),
		events: make(chan ChangeEvent, options.EventBuffer),
	}
}

// Events returns the provider's change-event stream: one ChangeEvent
// per observed index mutation per actively watched URI. The channel
// is closed by Close.
func (p *Provider) Events() <-chan ChangeEvent {
	return p.events
}

// Stat returns metadata for the staged entry at the given virtual
// URI. A path with no staged entry falls back to the working-tree
// file; a path absent from both fails with fs.ErrNotExist.
func (p *Provider) Stat(ctx context.Context, virtual *url.URL) (FileStat, error) {
	localPath, index, relPath, err := p.resolve(ctx, virtual)
	if err != nil {
		return FileStat{}, err
	}

	entry, found, err := p.stagedEntry(ctx, index, relPath)
	if err != nil {
		return FileStat{}, err
	}
	if !found {
		return p.statWorkingTree(localPath)
	}

	size, err := index.BlobSize(ctx, entry.ObjectID)
	if err != nil {
		return FileStat{}, err
	}

	// The index file's own mtime stands in for per-path modification
	// time: a change to any staged path bumps it.
	indexPath, err := index.IndexFilePath(ctx)
	if err != nil {
		return FileStat{}, err
	}
	indexInfo, err := os.Stat(indexPath)
	if err != nil {
		return FileStat{}, fmt.Errorf("stat index file %s: %w", indexPath, err)
	}

	fileType := TypeFile
	if entry.Type() == gitindex.TypeTree {
		fileType = TypeDirectory
	}

	return FileStat{
		Type:    fileType,
		Size:    size,
		ModTime: indexInfo.ModTime(),
	}, nil
}

// ReadDirectory lists the immediate staged children of the directory
// named by the virtual URI, each classified as file or directory.
// Deeper descendants are folded into their top-level directory; there
// is no recursion in the result and, unlike Stat and ReadFile, no
// working-tree fallback.
func (p *Provider) ReadDirectory(ctx context.Context, virtual *url.URL) ([]DirEntry, error) {
	_, index, relPath, err := p.resolve(ctx, virtual)
	if err != nil {
		return nil, err
	}

	prefix := ""
	pathspec := ""
	if relPath != "." {
		prefix = relPath + "/"
		pathspec = relPath + "/*"
	}

	entries, err := index.Entries(ctx, pathspec)
	if err != nil {
		return nil, err
	}

	// Fold full index paths into unique immediate children.
	seen := make(map[string]bool)
	var children []DirEntry
	for _, entry := range entries {
		relative := strings.TrimPrefix(entry.Path, prefix)
		if relative == entry.Path && prefix != "" {
			continue
		}

		component := relative
		childType := TypeFile
		if slashIndex := strings.IndexByte(relative, '/'); slashIndex >= 0 {
			component = relative[:slashIndex]
			childType = TypeDirectory
		} else if entry.Type() == gitindex.TypeTree {
			childType = TypeDirectory
		}

		if component == "" || seen[component] {
			continue
		}
		seen[component] = true
		children = append(children, DirEntry{Name: component, Type: childType})
	}

	return children, nil
}

// ReadFile returns the staged content at the given virtual URI,
// verbatim. A path with no staged entry falls back to the raw
// working-tree bytes (deliberately: this lets a user open the staged
// view of a file before its first git add); a path absent from both
// fails with fs.ErrNotExist.
func (p *Provider) ReadFile(ctx context.Context, virtual *url.URL) ([]byte, error) {
	localPath, index, relPath, err := p.resolve(ctx, virtual)
	if err != nil {
		return nil, err
	}

	entry, found, err := p.stagedEntry(ctx, index, relPath)
	if err != nil {
		return nil, err
	}
	if !found {
		data, err := os.ReadFile(localPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: not in index or working tree: %w", localPath, fs.ErrNotExist)
			}
			return nil, err
		}
		return data, nil
	}

	return index.ReadBlob(ctx, entry.ObjectID)
}

// WriteFile stages data as the new content for the given virtual URI:
// the bytes are written to the object database (git computes the
// hash, so the object is indistinguishable from one staged by any
// other tool) and the index entry is updated to reference them.
//
// The recorded mode comes from the existing staged entry when there
// is one; otherwise from the working-tree file's permission bits, in
// which case the path is registered as a new addition. A path with
// neither mode source fails with fs.ErrNotExist.
//
// The final index update is atomic at the git level, but the
// read-mode, write-blob, update-index sequence as a whole is not: a
// concurrent external index mutation between the steps is an
// accepted race.
func (p *Provider) WriteFile(ctx context.Context, virtual *url.URL, data []byte, options WriteOptions) error {
	localPath, index, relPath, err := p.resolve(ctx, virtual)
	if err != nil {
		return err
	}

	entry, found, err := p.stagedEntry(ctx, index, relPath)
	if err != nil {
		return err
	}

	var mode string
	add := false
	if found {
		mode = entry.Mode
	} else {
		mode, err = gitindex.WorkdirMode(localPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%s: not in index or working tree: %w", localPath, fs.ErrNotExist)
			}
			return err
		}
		add = true
	}

	objectID, err := index.WriteBlob(ctx, data)
	if err != nil {
		return err
	}

	if err := index.SetEntry(ctx, mode, objectID, relPath, add); err != nil {
		return err
	}

	p.options.Logger.Info("staged content written",
		"path", relPath,
		"object", objectID,
		"mode", mode,
		"added", add,
	)
	return nil
}

// MkDir is unsupported: the staged view is a flat content overlay.
// Always fails with errors.ErrUnsupported, with no side effect.
func (p *Provider) MkDir(ctx context.Context, virtual *url.URL) error {
	return fmt.Errorf("create directory on staged view: %w", errors.ErrUnsupported)
}

// Delete is unsupported. Always fails with errors.ErrUnsupported.
func (p *Provider) Delete(ctx context.Context, virtual *url.URL) error {
	return fmt.Errorf("delete on staged view: %w", errors.ErrUnsupported)
}

// Rename is unsupported. Always fails with errors.ErrUnsupported.
func (p *Provider) Rename(ctx context.Context, source, target *url.URL) error {
	return fmt.Errorf("rename on staged view: %w", errors.ErrUnsupported)
}

// Copy is unsupported. Always fails with errors.ErrUnsupported.
func (p *Provider) Copy(ctx context.Context, source, target *url.URL) error {
	return fmt.Errorf("copy on staged view: %w", errors.ErrUnsupported)
}

// StagedPaths lists the root-relative paths with staged changes for
// the repository containing dir. Consumed by the command layer, not
// by the filesystem surface itself.
func (p *Provider) StagedPaths(ctx context.Context, dir string) ([]string, error) {
	root, err := p.options.ResolveRoot(ctx, dir)
	if err != nil {
		return nil, err
	}
	return p.options.OpenIndex(root).StagedPaths(ctx)
}

// Close tears down every live watcher and closes the event stream.
func (p *Provider) Close() error {
	p.registry.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.events)
	return nil
}

// WatcherCount returns the number of live index watchers. Exposed for
// tests pinning the one-watcher-per-root invariant.
func (p *Provider) WatcherCount() int {
	return p.registry.Size()
}

// resolve translates a virtual URI and binds it to its repository:
// the local path, the repository's Index, and the root-relative
// slash-separated path. The root is re-resolved on every call — a
// stale root is a correctness risk, and resolution is cheap.
func (p *Provider) resolve(ctx context.Context, virtual *url.URL) (localPath string, index Index, relPath string, err error) {
	localPath, err = stagedpath.ToLocal(virtual)
	if err != nil {
		return "", nil, "", err
	}

	// Resolve the repository from the path itself when it names an
	// existing directory (the URI may name the repository root);
	// otherwise from the parent, since the file itself may be
	// staged-only and absent from disk.
	resolveFrom := filepath.Dir(localPath)
	if info, statErr := os.Stat(localPath); statErr == nil && info.IsDir() {
		resolveFrom = localPath
	}
	root, err := p.options.ResolveRoot(ctx, resolveFrom)
	if err != nil {
		return "", nil, "", err
	}

	relative, err := filepath.Rel(root, localPath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return "", nil, "", fmt.Errorf("%s is outside repository %s", localPath, root)
	}

	return localPath, p.options.OpenIndex(root), filepath.ToSlash(relative), nil
}

// stagedEntry returns the index entry at exactly relPath, if any. A
// path with multiple entries is in unresolved merge state — a
// detected-but-tolerated anomaly: warn and proceed deterministically
// with the first entry.
func (p *Provider) stagedEntry(ctx context.Context, index Index, relPath string) (gitindex.Entry, bool, error) {
	listed, err := index.Entries(ctx, relPath)
	if err != nil {
		return gitindex.Entry{}, false, err
	}

	var matches []gitindex.Entry
	for _, entry := range listed {
		if entry.Path == relPath {
			matches = append(matches, entry)
		}
	}
	if len(matches) == 0 {
		return gitindex.Entry{}, false, nil
	}
	if len(matches) > 1 {
		p.options.Logger.Warn("multiple index entries for path, using the first (unresolved merge?)",
			"path", relPath,
			"entries", len(matches),
		)
	}
	return matches[0], true, nil
}

// statWorkingTree maps a working-tree file's metadata into a
// FileStat. This is the no-staged-entry fallback.
func (p *Provider) statWorkingTree(localPath string) (FileStat, error) {
	info, err := os.Lstat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileStat{}, fmt.Errorf("%s: not in index or working tree: %w", localPath, fs.ErrNotExist)
		}
		return FileStat{}, err
	}

	fileType := TypeUnknown
	switch {
	case info.Mode().IsRegular():
		fileType = TypeFile
	case info.IsDir():
		fileType = TypeDirectory
	case info.Mode()&fs.ModeSymlink != 0:
		fileType = TypeSymbolicLink
	}

	stat := FileStat{
		Type:    fileType,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if raw, ok := info.Sys().(*syscall.Stat_t); ok {
		stat.CreateTime = time.Unix(raw.Ctim.Sec, raw.Ctim.Nsec)
	}
	return stat, nil
}

// emit delivers an event on the change stream without ever blocking
// the watch loop: a full stream drops the event with a warning.
func (p *Provider) emit(event ChangeEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- event:
	default:
		p.options.Logger.Warn("change-event stream full, dropping event", "uri", event.URI.String())
	}
}
