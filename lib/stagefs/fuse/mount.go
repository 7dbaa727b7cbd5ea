// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse mounts the staged tree of one repository as a FUSE
// filesystem, so any tool — editors included — can read and write
// staged content through ordinary file operations without touching
// the working tree.
//
// Writes buffer in the file handle and flush through the provider's
// WriteFile on close: one atomic staged replacement per close,
// mirroring the provider's sole mutation path. Creating, deleting,
// and renaming entries is not supported, consistent with the staged
// view being a flat content overlay.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/stagefs/stagefs/lib/stagedpath"
	"github.com/stagefs/stagefs/lib/stagefs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the staged tree is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Provider serves all content operations.
	Provider *stagefs.Provider

	// Root is the repository root whose staged tree is exposed.
	Root string

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, logs are
	// discarded.
	Logger *slog.Logger
}

// Mount mounts the staged filesystem at the configured mountpoint.
// The caller must call Unmount on the returned server when done.
//
// Attribute and entry timeouts are short (1s) instead of kernel
// cache invalidation: staged content changed externally is re-read
// within about a second.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if options.Root == "" {
		return nil, fmt.Errorf("repository root is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, relPath: "."}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "stagefs",
			Name:       "stagefs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting staged filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("staged filesystem mounted",
		"mountpoint", options.Mountpoint,
		"root", options.Root,
	)
	return server, nil
}

// stagedURI builds the virtual URI for a root-relative path.
func stagedURI(root, relPath string) (*url.URL, error) {
	localPath := root
	if relPath != "." {
		localPath = path.Join(root, relPath)
	}
	return stagedpath.FromLocal(&url.URL{Scheme: stagedpath.LocalScheme, Path: localPath})
}

// dirNode is a directory in the staged tree.
type dirNode struct {
	gofuse.Inode
	options *Options
	relPath string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childRel := name
	if d.relPath != "." {
		childRel = d.relPath + "/" + name
	}

	uri, err := stagedURI(d.options.Root, childRel)
	if err != nil {
		return nil, syscall.EINVAL
	}
	stat, err := d.options.Provider.Stat(ctx, uri)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.options.Logger.Error("stat failed in lookup", "path", childRel, "error", err)
			return nil, syscall.EIO
		}
		// A directory that exists only in the index (its working-tree
		// counterpart was removed) has no stat identity of its own.
		// It is still listable, which is how we recognize it.
		children, listErr := d.options.Provider.ReadDirectory(ctx, uri)
		if listErr != nil || len(children) == 0 {
			return nil, syscall.ENOENT
		}
		stat.Type = stagefs.TypeDirectory
	}

	if stat.Type == stagefs.TypeDirectory {
		child := d.NewPersistentInode(ctx, &dirNode{
			options: d.options,
			relPath: childRel,
		}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o755
		return child, 0
	}

	node := &fileNode{options: d.options, relPath: childRel}
	child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	out.Mode = syscall.S_IFREG | 0o644
	out.Size = uint64(stat.Size)
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	uri, err := stagedURI(d.options.Root, d.relPath)
	if err != nil {
		return nil, syscall.EINVAL
	}
	children, err := d.options.Provider.ReadDirectory(ctx, uri)
	if err != nil {
		d.options.Logger.Error("readdir failed", "path", d.relPath, "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		mode := uint32(syscall.S_IFREG)
		if child.Type == stagefs.TypeDirectory {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: child.Name, Mode: mode})
	}
	return &sliceDirStream{entries: entries}, 0
}

// fileNode is one staged file.
type fileNode struct {
	gofuse.Inode
	options *Options
	relPath string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (f *fileNode) uri() (*url.URL, syscall.Errno) {
	uri, err := stagedURI(f.options.Root, f.relPath)
	if err != nil {
		return nil, syscall.EINVAL
	}
	return uri, 0
}

func (f *fileNode) Getattr(ctx context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	uri, errno := f.uri()
	if errno != 0 {
		return errno
	}
	stat, err := f.options.Provider.Stat(ctx, uri)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return syscall.ENOENT
		}
		return syscall.EIO
	}

	out.Mode = syscall.S_IFREG | 0o644
	out.Size = uint64(stat.Size)
	out.SetTimes(nil, &stat.ModTime, nil)
	return 0
}

// Setattr accepts truncation requests (the kernel sends
// SETATTR(size=0) around O_TRUNC opens; the write handle keeps its
// own buffer, so this is a no-op) and rejects everything else.
func (f *fileNode) Setattr(ctx context.Context, _ gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if _, ok := in.GetMode(); ok {
		return syscall.ENOTSUP
	}
	return f.Getattr(ctx, nil, out)
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	uri, errno := f.uri()
	if errno != 0 {
		return nil, 0, errno
	}

	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		handle := &writeHandle{node: f, uri: uri}
		if flags&syscall.O_TRUNC != 0 {
			// Truncation alone is a content change: `> file` with no
			// writes stages empty content.
			handle.dirty = true
		} else {
			current, err := f.options.Provider.ReadFile(ctx, uri)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, 0, syscall.EIO
			}
			handle.data = current
		}
		return handle, 0, 0
	}

	data, err := f.options.Provider.ReadFile(ctx, uri)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, syscall.ENOENT
		}
		return nil, 0, syscall.EIO
	}
	return &readHandle{data: data}, 0, 0
}

// readHandle serves reads from a snapshot of the staged content
// fetched at open time.
type readHandle struct {
	data []byte
}

var _ gofuse.FileReader = (*readHandle)(nil)

func (h *readHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

// writeHandle buffers writes and flushes them through the provider in
// one WriteFile on close.
type writeHandle struct {
	node *fileNode
	uri  *url.URL

	mu      sync.Mutex
	data    []byte
	dirty   bool
	flushed bool
}

var _ gofuse.FileReader = (*writeHandle)(nil)
var _ gofuse.FileWriter = (*writeHandle)(nil)
var _ gofuse.FileFlusher = (*writeHandle)(nil)
var _ gofuse.FileReleaser = (*writeHandle)(nil)

func (h *writeHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

func (h *writeHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	end := off + int64(len(data))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], data)
	h.dirty = true
	h.flushed = false
	return uint32(len(data)), 0
}

func (h *writeHandle) Flush(ctx context.Context) syscall.Errno {
	return h.stage(ctx)
}

func (h *writeHandle) Release(ctx context.Context) syscall.Errno {
	return h.stage(ctx)
}

// stage performs the single staged replacement for this handle's
// accumulated bytes. Flush fires once per close(2) and Release once
// when the last reference drops; the flushed flag keeps repeated
// calls from re-staging identical content.
func (h *writeHandle) stage(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty || h.flushed {
		return 0
	}

	err := h.node.options.Provider.WriteFile(ctx, h.uri, h.data, stagefs.WriteOptions{
		Create:    true,
		Overwrite: true,
	})
	if err != nil {
		h.node.options.Logger.Error("staging write-back failed",
			"path", h.node.relPath,
			"error", err,
		)
		return syscall.EIO
	}
	h.flushed = true
	return 0
}

// sliceDirStream implements gofuse.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
