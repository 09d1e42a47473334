// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"testing"
)

func buildDictIndex(t *testing.T) *CodeIndex {
	t.Helper()
	root := writeProject(t, map[string]string{
		"api.py": `def get_user():
    return {"user": {"name": "a", "email": "b"}, "status": "ok"}

def get_stats():
    return {"totall": 10}
`,
	})
	ci := NewCodeIndex(root)
	if _, err := ci.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ci
}

func TestSearchDictKey_Exact(t *testing.T) {
	ci := buildDictIndex(t)

	matches := ci.SearchDictKey(context.Background(), "status")
	if len(matches) == 0 {
		t.Fatal("no matches for status")
	}
	m := matches[0]
	if m.Kind != KeyMatchExact || m.Confidence != 1.0 {
		t.Errorf("kind = %s conf = %f, want exact 1.0", m.Kind, m.Confidence)
	}
	if m.AccessPath != `["status"]` {
		t.Errorf("access path = %s", m.AccessPath)
	}
	if m.Function != "get_user" {
		t.Errorf("function = %s", m.Function)
	}
}

func TestSearchDictKey_NestedOneLevel(t *testing.T) {
	ci := buildDictIndex(t)

	// "email" now lives under "user".
	matches := ci.SearchDictKey(context.Background(), "email")
	if len(matches) == 0 {
		t.Fatal("no matches for email")
	}
	m := matches[0]
	if m.Kind != KeyMatchNested || m.Confidence != 0.95 {
		t.Errorf("kind = %s conf = %f, want nested 0.95", m.Kind, m.Confidence)
	}
	if m.AccessPath != `["user"]["email"]` {
		t.Errorf("access path = %s, want [\"user\"][\"email\"]", m.AccessPath)
	}
}

func TestSearchDictKey_RestructuredReportsNestedPath(t *testing.T) {
	ci := buildDictIndex(t)

	// The flat "user_name" key was restructured as ["user"]["name"]; the
	// reported access path must reflect the new nesting, not the flat key.
	matches := ci.SearchDictKey(context.Background(), "user_name")
	if len(matches) == 0 {
		t.Fatal("no matches for user_name")
	}
	m := matches[0]
	if m.Kind != KeyMatchRestructured || m.Confidence != 0.9 {
		t.Errorf("kind = %s conf = %f, want restructured 0.9", m.Kind, m.Confidence)
	}
	if m.AccessPath != `["user"]["name"]` {
		t.Errorf("access path = %s, want [\"user\"][\"name\"]", m.AccessPath)
	}
}

func TestSearchDictKey_FuzzySibling(t *testing.T) {
	ci := buildDictIndex(t)

	// "total" is one edit from the actual "totall" key.
	matches := ci.SearchDictKey(context.Background(), "total")
	var found *KeyMatch
	for i := range matches {
		if matches[i].Kind == KeyMatchFuzzy {
			found = &matches[i]
		}
	}
	if found == nil {
		t.Fatalf("no fuzzy match: %+v", matches)
	}
	if found.AccessPath != `["totall"]` {
		t.Errorf("access path = %s", found.AccessPath)
	}
	// Key must name the sibling the search landed on, not the missing key.
	if found.Key != "totall" {
		t.Errorf("key = %q, want the sibling key \"totall\"", found.Key)
	}
	if found.Confidence >= 0.9 || found.Confidence <= 0 {
		t.Errorf("fuzzy confidence = %f, want (0, 0.9)", found.Confidence)
	}
}

func TestSearchDictKey_NoMatch(t *testing.T) {
	ci := buildDictIndex(t)
	if matches := ci.SearchDictKey(context.Background(), "completely_absent_key"); len(matches) != 0 {
		t.Errorf("unexpected matches: %+v", matches)
	}
}
