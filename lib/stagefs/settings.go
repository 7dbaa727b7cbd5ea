// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package stagefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// SettingsFilename is the optional per-repository settings file,
// looked up at the repository root. The format is JSONC: JSON
// extended with // line comments, /* block comments */, and trailing
// commas, so the file can be annotated in place.
const SettingsFilename = ".stagefs.json"

// Settings are per-repository overrides. The zero value is the
// default for repositories without a settings file.
type Settings struct {
	// WatchDebounceMS overrides the index-watch coalescing window,
	// in milliseconds. Zero keeps the global default.
	WatchDebounceMS int `json:"watch_debounce_ms"`

	// ExportExclude lists root-relative path prefixes omitted from
	// staged-tree exports.
	ExportExclude []string `json:"export_exclude"`
}

// Debounce returns the override as a duration, or zero when unset.
func (s *Settings) Debounce() time.Duration {
	return time.Duration(s.WatchDebounceMS) * time.Millisecond
}

// Excluded reports whether a root-relative path falls under any
// export-exclude prefix.
func (s *Settings) Excluded(relPath string) bool {
	for _, prefix := range s.ExportExclude {
		if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
			return true
		}
	}
	return false
}

// LoadSettings reads the settings file at the repository root. A
// missing file yields zero-value defaults; a malformed file is an
// error (fail fast — half-applied settings would be worse than none).
func LoadSettings(root string) (*Settings, error) {
	data, err := os.ReadFile(filepath.Join(root, SettingsFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", SettingsFilename, err)
	}

	var settings Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return nil, fmt.Errorf("parsing %s in %s: %w", SettingsFilename, root, err)
	}
	return &settings, nil
}
