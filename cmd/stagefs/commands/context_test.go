// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"
	"testing"

	"github.com/stagefs/stagefs/lib/stagedpath"
	"github.com/stagefs/stagefs/lib/stagefs"
)

func TestVirtualURIFromLocalPath(t *testing.T) {
	t.Parallel()

	uri, err := virtualURI("/repo/src/main.go")
	if err != nil {
		t.Fatalf("virtualURI: %v", err)
	}
	if uri.Scheme != stagedpath.Scheme {
		t.Errorf("scheme = %q", uri.Scheme)
	}
	if !strings.Contains(uri.Path, stagedpath.Marker) {
		t.Errorf("path %q missing marker", uri.Path)
	}

	// Round-trip back to the original path.
	localPath, err := stagedpath.ToLocal(uri)
	if err != nil {
		t.Fatalf("ToLocal: %v", err)
	}
	if localPath != "/repo/src/main.go" {
		t.Errorf("localPath = %q", localPath)
	}
}

func TestVirtualURIPassesStagedURIsThrough(t *testing.T) {
	t.Parallel()

	original, err := virtualURI("/repo/file.txt")
	if err != nil {
		t.Fatalf("virtualURI: %v", err)
	}

	again, err := virtualURI(original.String())
	if err != nil {
		t.Fatalf("virtualURI: %v", err)
	}
	if again.String() != original.String() {
		t.Errorf("pass-through changed URI: %q -> %q", original, again)
	}
}

func TestExcludeFuncSegmentBoundaries(t *testing.T) {
	t.Parallel()

	settings := &stagefs.Settings{ExportExclude: []string{"vendor"}}
	exclude := excludeFunc(settings, []string{"docs/internal/"})

	cases := []struct {
		path string
		want bool
	}{
		{"vendor/lib.go", true},
		{"vendored/lib.go", false},
		{"docs/internal/notes.md", true},
		{"docs/internals.md", false},
		{"src/main.go", false},
	}
	for _, c := range cases {
		if got := exclude(c.path); got != c.want {
			t.Errorf("exclude(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}
