// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"strings"
	"testing"
)

func buildModuleIndex(t *testing.T) *CodeIndex {
	t.Helper()
	root := writeProject(t, map[string]string{
		"core/__init__.py":          "",
		"core/utils/__init__.py":    "",
		"core/utils/helpers.py":     "def helper():\n    pass\n",
		"core/services/database.py": "def connect():\n    pass\n",
		"legacy.py":                 "import core.utils.helpers\n",
	})
	ci := NewCodeIndex(root)
	if _, err := ci.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ci
}

func TestSearchModulePath_PrefixAdded(t *testing.T) {
	ci := buildModuleIndex(t)

	// "utils.helpers" moved under the new parent package "core".
	matches := ci.SearchModulePath(context.Background(), "utils.helpers")
	if len(matches) == 0 {
		t.Fatal("no candidates")
	}
	best := matches[0]
	if best.Module != "core.utils.helpers" {
		t.Errorf("best = %s, want core.utils.helpers", best.Module)
	}
	if best.Diff != PathDiffPrefixAdded {
		t.Errorf("diff = %s, want %s", best.Diff, PathDiffPrefixAdded)
	}
	if !strings.Contains(best.Suggestion, "core.utils.helpers") {
		t.Errorf("suggestion does not name the rewrite: %q", best.Suggestion)
	}
}

func TestSearchModulePath_IntermediateMissing(t *testing.T) {
	ci := buildModuleIndex(t)

	// "core.helpers" is missing the middle "utils" segment.
	matches := ci.SearchModulePath(context.Background(), "core.helpers")
	var found *ModuleMatch
	for i := range matches {
		if matches[i].Module == "core.utils.helpers" {
			found = &matches[i]
		}
	}
	if found == nil {
		t.Fatalf("core.utils.helpers not among candidates: %+v", matches)
	}
	if found.Diff != PathDiffIntermediateMissing {
		t.Errorf("diff = %s, want %s", found.Diff, PathDiffIntermediateMissing)
	}
}

func TestSearchModulePath_PathChanged(t *testing.T) {
	ci := buildModuleIndex(t)

	// Same leaf, different parent: not a suffix, not a subsequence.
	matches := ci.SearchModulePath(context.Background(), "core.utils.database")
	var found *ModuleMatch
	for i := range matches {
		if matches[i].Module == "core.services.database" {
			found = &matches[i]
		}
	}
	if found == nil {
		t.Fatalf("core.services.database not among candidates: %+v", matches)
	}
	if found.Diff != PathDiffChanged {
		t.Errorf("diff = %s, want %s", found.Diff, PathDiffChanged)
	}
}

func TestLongestCommonSubsequence(t *testing.T) {
	tests := []struct {
		a, b []string
		want int
	}{
		{[]string{"a", "b"}, []string{"a", "b"}, 2},
		{[]string{"utils", "helpers"}, []string{"core", "utils", "helpers"}, 2},
		{[]string{"x"}, []string{"y"}, 0},
		{nil, []string{"a"}, 0},
	}
	for _, tt := range tests {
		if got := longestCommonSubsequence(tt.a, tt.b); got != tt.want {
			t.Errorf("lcs(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
