// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_OverridesOnlyNamedFields(t *testing.T) {
	cfg, err := Load([]byte("max_attempts: 3\nconfidence_threshold: 0.8\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxAttempts != 3 || cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.PythonBinary != "python3" || cfg.ExecTimeoutSeconds != 30 {
		t.Errorf("unnamed fields must keep defaults: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"attempts zero", "max_attempts: 0"},
		{"threshold above one", "fuzzy_floor: 1.5"},
		{"negative ratio", "stdlib_typo_ratio: -0.1"},
		{"empty interpreter", `python_binary: ""`},
		{"malformed yaml", "max_attempts: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load([]byte(tc.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remedy.yaml")
	if err := os.WriteFile(path, []byte("snippet_top_k: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SnippetTopK != 5 {
		t.Errorf("SnippetTopK = %d", cfg.SnippetTopK)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must error")
	}
}
