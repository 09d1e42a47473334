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

func TestFuzzyResolve_TypoFindsDefinition(t *testing.T) {
	ci := buildTestIndex(t)

	matches := ci.FuzzyResolve(context.Background(), "proces_data", "app/main.py")
	if len(matches) == 0 {
		t.Fatal("no candidates for proces_data")
	}
	best := matches[0]
	if best.Name != "process_data" {
		t.Errorf("best match = %s, want process_data", best.Name)
	}
	// Edit distance 1: similarity component is boosted to ≥0.85, and the
	// candidate is unique, reachable (imported), and a function, so the
	// composite score is 0.5*0.85 + 0.2 + 0.2 + 0.1 at minimum.
	if best.Confidence < 0.9 {
		t.Errorf("confidence = %f, want ≥ 0.9", best.Confidence)
	}
}

func TestFuzzyResolve_DeterministicAndBounded(t *testing.T) {
	ci := buildTestIndex(t)
	ctx := context.Background()

	first := ci.FuzzyResolve(ctx, "sumarize", "app/main.py")
	for run := 0; run < 5; run++ {
		again := ci.FuzzyResolve(ctx, "sumarize", "app/main.py")
		if len(again) != len(first) {
			t.Fatalf("run %d: %d candidates, want %d", run, len(again), len(first))
		}
		for i := range again {
			if again[i] != first[i] {
				t.Errorf("run %d: candidate %d differs: %+v vs %+v", run, i, again[i], first[i])
			}
		}
	}
	for _, m := range first {
		if m.Confidence < 0 || m.Confidence > 1 {
			t.Errorf("confidence %f outside [0,1] for %s", m.Confidence, m.Name)
		}
	}
}

func TestFuzzyResolve_FloorExcludesUnrelatedNames(t *testing.T) {
	ci := buildTestIndex(t)

	for _, m := range ci.FuzzyResolve(context.Background(), "zzqqxxyy", "") {
		t.Errorf("unrelated candidate leaked through the floor: %+v", m)
	}
}

func TestSimilarity_CloseEditBoost(t *testing.T) {
	ci := buildTestIndex(t)

	tests := []struct {
		a, b    string
		minimum float64
	}{
		{"process_data", "proces_data", 0.85},  // distance 1
		{"process_data", "procss_dataa", 0.85}, // distance 2
		{"process_data", "process_data", 1.0},  // identical
	}
	for _, tt := range tests {
		if got := ci.Similarity(tt.a, tt.b); got < tt.minimum {
			t.Errorf("Similarity(%q, %q) = %f, want ≥ %f", tt.a, tt.b, got, tt.minimum)
		}
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"numpy", "nunpy", 1},
		{"same", "same", 0},
	}
	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
