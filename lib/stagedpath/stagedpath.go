// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

// Package stagedpath translates between ordinary file URIs and the
// stagefs virtual scheme that names the staged version of a file.
//
// A staged URI embeds the marker segment ".staged" immediately before
// the final path component:
//
//	stagefs://host/repo/src/.staged/main.go  ⇔  file://host/repo/src/main.go
//
// The mapping is a bijection restricted to paths carrying the marker:
// every valid staged URI decodes to exactly one local path and back.
// Translation is pure string manipulation with shape validation. No
// I/O, no coercion: a URI with the wrong scheme, a non-empty query or
// fragment, or a misplaced marker is rejected with a *ShapeError,
// because a silently "fixed" URI could make the provider read or write
// the wrong file.
package stagedpath

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Scheme is the URI scheme under which staged files are addressed.
const Scheme = "stagefs"

// LocalScheme is the scheme of ordinary filesystem URIs.
const LocalScheme = "file"

// Marker is the path segment that distinguishes a staged URI. It sits
// immediately before the final path component.
const Marker = ".staged"

// ShapeError reports a URI that violates the translation contract:
// wrong scheme, non-empty query or fragment, or a missing or misplaced
// marker segment. Shape violations are contract violations, not
// recoverable conditions — callers should surface them, never retry.
type ShapeError struct {
	// URI is the offending URI as given.
	URI string

	// Reason describes which part of the shape contract was violated.
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid URI shape %q: %s", e.URI, e.Reason)
}

// ToLocal returns the local filesystem path named by a staged URI.
// The URI must use the stagefs scheme, carry no query or fragment, and
// have the marker segment as the parent of its final path component.
// The authority (host) is not part of the returned path; callers that
// need the full local URI should use ToLocalURI.
func ToLocal(virtual *url.URL) (string, error) {
	if err := checkShape(virtual, Scheme); err != nil {
		return "", err
	}

	directory, filename := path.Split(virtual.Path)
	directory = strings.TrimSuffix(directory, "/")
	if filename == "" {
		return "", &ShapeError{URI: virtual.String(), Reason: "path has no final component"}
	}
	if path.Base(directory) != Marker {
		return "", &ShapeError{
			URI:    virtual.String(),
			Reason: fmt.Sprintf("parent segment of %q is not the %q marker", filename, Marker),
		}
	}

	return path.Join(path.Dir(directory), filename), nil
}

// ToLocalURI returns the full local URI (file scheme, authority
// preserved) for a staged URI.
func ToLocalURI(virtual *url.URL) (*url.URL, error) {
	localPath, err := ToLocal(virtual)
	if err != nil {
		return nil, err
	}
	return &url.URL{
		Scheme: LocalScheme,
		Host:   virtual.Host,
		Path:   localPath,
	}, nil
}

// FromLocal returns the staged URI for an ordinary file URI, inserting
// the marker segment immediately before the final path component. The
// authority is preserved. The input must use the file scheme and carry
// no query or fragment.
func FromLocal(local *url.URL) (*url.URL, error) {
	if err := checkShape(local, LocalScheme); err != nil {
		return nil, err
	}

	directory, filename := path.Split(local.Path)
	if filename == "" {
		return nil, &ShapeError{URI: local.String(), Reason: "path has no final component"}
	}

	return &url.URL{
		Scheme: Scheme,
		Host:   local.Host,
		Path:   path.Join(directory, Marker, filename),
	}, nil
}

// IsStaged reports whether the URI uses the stagefs scheme and has the
// marker in the expected position. It never returns an error: a URI
// that fails the shape check is simply not a staged URI.
func IsStaged(candidate *url.URL) bool {
	_, err := ToLocal(candidate)
	return err == nil
}

// checkShape validates the scheme/query/fragment contract shared by
// both translation directions.
func checkShape(candidate *url.URL, wantScheme string) error {
	if candidate.Scheme != wantScheme {
		return &ShapeError{
			URI:    candidate.String(),
			Reason: fmt.Sprintf("scheme %q, want %q", candidate.Scheme, wantScheme),
		}
	}
	if candidate.RawQuery != "" {
		return &ShapeError{URI: candidate.String(), Reason: "query must be empty"}
	}
	if candidate.Fragment != "" {
		return &ShapeError{URI: candidate.String(), Reason: "fragment must be empty"}
	}
	if candidate.Path == "" {
		return &ShapeError{URI: candidate.String(), Reason: "path must not be empty"}
	}
	return nil
}
