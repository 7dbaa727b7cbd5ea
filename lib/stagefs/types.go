// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package stagefs

import (
	"net/url"
	"time"
)

// FileType classifies what a virtual path names.
type FileType int

const (
	// TypeUnknown is a working-tree fallback whose kind could not be
	// classified (socket, device, ...).
	TypeUnknown FileType = iota
	// TypeFile is regular file content.
	TypeFile
	// TypeDirectory is a directory.
	TypeDirectory
	// TypeSymbolicLink is a symbolic link (working-tree fallback
	// only; a staged symlink presents as a file whose content is the
	// link target, exactly as git stores it).
	TypeSymbolicLink
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymbolicLink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileStat describes a staged file or its working-tree fallback.
type FileStat struct {
	// Type classifies the path.
	Type FileType

	// Size is the content size in bytes. For a staged entry this is
	// the blob size reported by git, not any working-tree file's.
	Size int64

	// ModTime for a staged entry is the modification time of the
	// repository's index file: any staged change bumps the shared
	// index timestamp. This coarse per-repository granularity is
	// deliberate — content-addressed objects carry no per-path times.
	ModTime time.Time

	// CreateTime is zero for staged entries (blobs have no creation
	// time) and the inode change time for working-tree fallbacks.
	CreateTime time.Time
}

// DirEntry is one immediate child in a staged directory listing.
type DirEntry struct {
	// Name is the child's name, without any path prefix.
	Name string

	// Type is TypeFile for a staged blob at exactly this depth and
	// TypeDirectory for a subtree (or submodule) below it.
	Type FileType
}

// ChangeType classifies a change event. The staged view only ever
// reports content changes: creation and deletion of staged paths are
// not tracked per-path (the index timestamp covers them all).
type ChangeType int

// Changed indicates the content under a watched URI may have changed.
const Changed ChangeType = 1

// ChangeEvent is delivered on the provider's event stream once per
// observed index mutation per actively watched URI.
type ChangeEvent struct {
	// Type is always Changed.
	Type ChangeType

	// URI is the watched virtual URI the event is scoped to.
	URI *url.URL
}

// WriteOptions carries the host filesystem layer's create/overwrite
// intent. The staged overlay's add-versus-update choice is driven by
// staged-entry presence, not by these flags; they are carried for
// hosts that enforce their own policy around the call.
type WriteOptions struct {
	Create    bool
	Overwrite bool
}
