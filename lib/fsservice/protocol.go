// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsservice exposes a staged-filesystem provider over a Unix
// socket speaking a CBOR request-response protocol. Each connection
// carries exactly one request and one response, except for the watch
// action, which holds the connection open and streams one event frame
// per staged change.
//
// The wire envelope is a single CBOR map in, a Response out. CBOR is
// self-delimiting, so no framing protocol is needed.
package fsservice

import (
	"fmt"
	"time"

	"github.com/stagefs/stagefs/lib/codec"
)

// Action names understood by the server.
const (
	ActionStat        = "stat"
	ActionReadFile    = "read-file"
	ActionWriteFile   = "write-file"
	ActionReadDir     = "read-dir"
	ActionStagedPaths = "staged-paths"
	ActionWatch       = "watch"
)

// Response is the wire-format envelope for all responses. Handlers
// return a result value (or nil) and an error; the server wraps these
// into a Response before encoding.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// uriRequest is the common request shape: every action addresses one
// virtual URI.
type uriRequest struct {
	URI string `cbor:"uri"`
}

// writeRequest carries a staged content replacement.
type writeRequest struct {
	URI       string `cbor:"uri"`
	Content   []byte `cbor:"content"`
	Create    bool   `cbor:"create"`
	Overwrite bool   `cbor:"overwrite"`
}

// StatResult describes a file on the wire.
type StatResult struct {
	// Type is the FileType's string form: "file", "directory",
	// "symlink", or "unknown".
	Type string `cbor:"type"`

	Size       int64     `cbor:"size"`
	ModTime    time.Time `cbor:"mtime"`
	CreateTime time.Time `cbor:"ctime,omitempty"`
}

// DirEntryResult is one directory child on the wire.
type DirEntryResult struct {
	Name string `cbor:"name"`
	Type string `cbor:"type"`
}

// readResult carries file content back to the caller.
type readResult struct {
	Content []byte `cbor:"content"`
}

// pathsResult carries a staged-paths listing.
type pathsResult struct {
	Paths []string `cbor:"paths"`
}

// WatchEvent is one streamed change frame. The server writes one per
// observed index mutation after the initial {ok: true} acknowledgment.
type WatchEvent struct {
	URI string `cbor:"uri"`
}

// ServiceError is returned by the client when the server responds
// with ok=false. It wraps the server's error message and the action
// that failed.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}
