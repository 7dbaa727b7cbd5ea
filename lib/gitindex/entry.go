// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package gitindex

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Git mode strings as printed by ls-files --stage. Modes are opaque to
// stagefs beyond the classification in Entry.Type — they are read from
// one git command and passed back to another.
const (
	ModeRegular    = "100644"
	ModeExecutable = "100755"
	ModeSymlink    = "120000"
	ModeTree       = "040000"
	ModeGitlink    = "160000"
)

// ObjectType classifies an index entry for filesystem presentation.
type ObjectType int

const (
	// TypeBlob is regular file content (including symlink blobs).
	TypeBlob ObjectType = iota
	// TypeTree is a directory-shaped entry (tree or submodule gitlink).
	TypeTree
)

// Entry is one row of the index listing: the staged object at one
// path. Entries are recomputed on every query and never cached across
// operations — the index may change between calls.
type Entry struct {
	// Mode is the git mode string (e.g. "100644"), exactly as
	// reported by ls-files.
	Mode string

	// ObjectID is the content hash of the staged object, hex-encoded.
	// Opaque: its length depends on the repository's hash algorithm.
	ObjectID string

	// Stage is the merge stage number: 0 for a normally staged entry,
	// 1-3 during an unresolved merge conflict.
	Stage int

	// Path is the entry path relative to the repository root.
	Path string
}

// Type classifies the entry as file-like or directory-like based on
// its mode. Submodule gitlinks present as directories.
func (e Entry) Type() ObjectType {
	if e.Mode == ModeTree || e.Mode == ModeGitlink {
		return TypeTree
	}
	return TypeBlob
}

// ParseError reports git output that does not match the expected
// plumbing format. This is a contract violation between stagefs and
// git, not a user error: it means the two disagree about the protocol,
// and proceeding could read or write the wrong object.
type ParseError struct {
	// Output is the offending output (or the offending record).
	Output string

	// Reason describes the mismatch.
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected git output %q: %s", e.Output, e.Reason)
}

// parseEntries parses "ls-files --cached --stage -z" output: NUL-
// terminated records of the form "<mode> <oid> <stage>\t<path>".
func parseEntries(output []byte) ([]Entry, error) {
	var entries []Entry
	for _, record := range bytes.Split(output, []byte{0}) {
		if len(record) == 0 {
			continue
		}
		entry, err := parseEntry(string(record))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseEntry(record string) (Entry, error) {
	meta, entryPath, found := strings.Cut(record, "\t")
	if !found {
		return Entry{}, &ParseError{Output: record, Reason: "no tab separator before path"}
	}

	fields := strings.Fields(meta)
	if len(fields) != 3 {
		return Entry{}, &ParseError{
			Output: record,
			Reason: fmt.Sprintf("%d metadata fields, want mode oid stage", len(fields)),
		}
	}

	stage, err := strconv.Atoi(fields[2])
	if err != nil {
		return Entry{}, &ParseError{Output: record, Reason: "stage number is not an integer"}
	}
	if entryPath == "" {
		return Entry{}, &ParseError{Output: record, Reason: "empty path"}
	}

	return Entry{
		Mode:     fields[0],
		ObjectID: fields[1],
		Stage:    stage,
		Path:     entryPath,
	}, nil
}
