// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeProject materializes a fake Python project in a temp dir.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func testProjectFiles() map[string]string {
	return map[string]string{
		"app/main.py": "from app.utils import process_data\n\ndef main():\n    process_data([1, 2])\n",
		"app/utils.py": "def process_data(items):\n    return {\"total\": len(items)}\n\n" +
			"def summarize(items):\n    return {\"stats\": {\"count\": len(items)}}\n",
		"app/models.py":   "class UserModel:\n    def save(self):\n        pass\n",
		"app/__init__.py": "",
	}
}

func buildTestIndex(t *testing.T) *CodeIndex {
	t.Helper()
	root := writeProject(t, testProjectFiles())
	ci := NewCodeIndex(root)
	if _, err := ci.Build(context.Background()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return ci
}

func TestCodeIndex_Build(t *testing.T) {
	ci := buildTestIndex(t)

	stats := ci.Stats()
	if stats["files"] != 4 {
		t.Errorf("files = %d, want 4", stats["files"])
	}

	matches := ci.Lookup("process_data")
	if len(matches) != 1 {
		t.Fatalf("Lookup(process_data) = %d matches, want 1", len(matches))
	}
	if matches[0].Confidence != 1.0 {
		t.Errorf("exact match confidence = %f, want 1.0", matches[0].Confidence)
	}
	if matches[0].File != "app/utils.py" {
		t.Errorf("match file = %s", matches[0].File)
	}

	classes := ci.LookupClass("UserModel")
	if len(classes) != 1 {
		t.Errorf("LookupClass(UserModel) = %d, want 1", len(classes))
	}
}

func TestCodeIndex_RebuildIsIdempotent(t *testing.T) {
	root := writeProject(t, testProjectFiles())
	ctx := context.Background()

	cold := NewCodeIndex(root)
	if _, err := cold.Build(ctx); err != nil {
		t.Fatal(err)
	}
	coldStats := cold.Stats()

	// Building the same unchanged tree again must yield identical counts.
	warm := NewCodeIndex(root)
	if _, err := warm.Build(ctx); err != nil {
		t.Fatal(err)
	}
	for key, want := range coldStats {
		if got := warm.Stats()[key]; got != want {
			t.Errorf("stat %s = %d, want %d", key, got, want)
		}
	}

	// A refresh over the unchanged tree must touch nothing.
	refresh, err := cold.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if refresh.Changed != 0 || refresh.Added != 0 || refresh.Removed != 0 {
		t.Errorf("refresh on unchanged tree = %+v", refresh)
	}
	if cold.ProjectHash() != warm.ProjectHash() {
		t.Error("project hashes diverge for identical trees")
	}
}

func TestCodeIndex_IncrementalRefresh(t *testing.T) {
	root := writeProject(t, testProjectFiles())
	ctx := context.Background()
	ci := NewCodeIndex(root)
	if _, err := ci.Build(ctx); err != nil {
		t.Fatal(err)
	}

	// Rename process_data → handle_data in utils.py.
	newUtils := "def handle_data(items):\n    return {\"total\": len(items)}\n"
	if err := os.WriteFile(filepath.Join(root, "app", "utils.py"), []byte(newUtils), 0o644); err != nil {
		t.Fatal(err)
	}

	stats, err := ci.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Changed != 1 {
		t.Errorf("changed = %d, want 1", stats.Changed)
	}
	if stats.Unchanged != 3 {
		t.Errorf("unchanged = %d, want 3", stats.Unchanged)
	}

	// No stale entry from the prior version of the file.
	if got := ci.Lookup("process_data"); len(got) != 0 {
		t.Errorf("stale process_data entries remain: %+v", got)
	}
	if got := ci.Lookup("summarize"); len(got) != 0 {
		t.Errorf("stale summarize entries remain: %+v", got)
	}
	if got := ci.Lookup("handle_data"); len(got) != 1 {
		t.Errorf("handle_data = %d matches, want 1", len(got))
	}

	// No duplicate (name, file, line) rows after repeated refreshes.
	if _, err := ci.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, file := range ci.Files() {
		for _, sym := range ci.SymbolsInFile(file) {
			key := fmt.Sprintf("%s|%s|%d", sym.Name, sym.File, sym.StartLine)
			if seen[key] {
				t.Errorf("duplicate index entry %s", key)
			}
			seen[key] = true
		}
	}
}

func TestCodeIndex_RemovedFilePurged(t *testing.T) {
	root := writeProject(t, testProjectFiles())
	ctx := context.Background()
	ci := NewCodeIndex(root)
	if _, err := ci.Build(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "app", "models.py")); err != nil {
		t.Fatal(err)
	}
	stats, err := ci.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Removed != 1 {
		t.Errorf("removed = %d, want 1", stats.Removed)
	}
	if got := ci.LookupClass("UserModel"); len(got) != 0 {
		t.Errorf("UserModel not purged: %+v", got)
	}
	if got := ci.Lookup("save"); len(got) != 0 {
		t.Errorf("save not purged: %+v", got)
	}
}

func TestCodeIndex_ImportGraph(t *testing.T) {
	ci := buildTestIndex(t)

	importers := ci.ImportersOf("app.utils")
	if len(importers) != 1 || importers[0] != "app/main.py" {
		t.Errorf("ImportersOf(app.utils) = %v", importers)
	}

	imps := ci.ImportsOf("app/main.py")
	if len(imps) != 1 || imps[0].Module != "app.utils" {
		t.Errorf("ImportsOf(app/main.py) = %+v", imps)
	}
}

func TestCodeIndex_ReadFileConfinement(t *testing.T) {
	ci := buildTestIndex(t)

	if _, err := ci.ReadFile("../outside.py"); err == nil {
		t.Error("path traversal not rejected")
	}
	if _, err := ci.ReadFile("/etc/passwd"); err == nil {
		t.Error("absolute path not rejected")
	}
	if _, err := ci.ReadFile("app/main.py"); err != nil {
		t.Errorf("legitimate read failed: %v", err)
	}
}

func TestModuleForFile(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"pkg/sub/mod.py", "pkg.sub.mod"},
		{"pkg/__init__.py", "pkg"},
		{"main.py", "main"},
	}
	for _, tt := range tests {
		if got := ModuleForFile(tt.path); got != tt.want {
			t.Errorf("ModuleForFile(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
