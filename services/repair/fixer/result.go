// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fixer generates patches for diagnosed runtime errors. A rule
// table handles the common typo classes without a model call; everything
// else goes through the generative fixer.
package fixer

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// PatchResult is the outcome of one patch generation attempt.
type PatchResult struct {
	Success bool `json:"success"`

	// PatchedSource is the full patched content of TargetFile.
	PatchedSource string `json:"patched_source"`

	Explanation string   `json:"explanation"`
	Changes     []string `json:"changes,omitempty"`

	// MultiFile carries patched sources for any additional files the
	// fix touches, keyed by project-relative path. TargetFile is not
	// duplicated here.
	MultiFile map[string]string `json:"multi_file,omitempty"`

	// UsedPatternFixer is true when the rule tables produced the patch
	// without a model call.
	UsedPatternFixer bool `json:"used_pattern_fixer"`

	TargetFile string `json:"target_file"`

	// Diff is the unified diff of original vs patched source.
	Diff string `json:"diff,omitempty"`
}

// Files returns every file the patch touches with its patched content.
func (r *PatchResult) Files() map[string]string {
	files := make(map[string]string, len(r.MultiFile)+1)
	if r.TargetFile != "" {
		files[r.TargetFile] = r.PatchedSource
	}
	for path, source := range r.MultiFile {
		files[path] = source
	}
	return files
}

// AttachDiff renders the unified diff of original vs patched and stores
// it on the result. A diff that fails to render is dropped, never fatal.
func (r *PatchResult) AttachDiff(original string) {
	rendered, _, err := RenderDiff(r.TargetFile, original, r.PatchedSource)
	if err != nil {
		return
	}
	r.Diff = rendered
}

// DiffStat summarizes a rendered diff.
type DiffStat struct {
	Added   int
	Changed int
	Deleted int
}

// RenderDiff produces a unified diff of two versions of a file plus its
// line stats. The diff text is re-parsed so the stats come from the same
// representation downstream consumers see.
func RenderDiff(path, original, patched string) (string, DiffStat, error) {
	if original == patched {
		return "", DiffStat{}, nil
	}

	unified := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(patched),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(unified)
	if err != nil {
		return "", DiffStat{}, fmt.Errorf("fixer: rendering diff for %s: %w", path, err)
	}

	fileDiff, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return "", DiffStat{}, fmt.Errorf("fixer: parsing rendered diff for %s: %w", path, err)
	}
	stat := fileDiff.Stat()

	return strings.TrimSuffix(text, "\n") + "\n", DiffStat{
		Added:   int(stat.Added),
		Changed: int(stat.Changed),
		Deleted: int(stat.Deleted),
	}, nil
}
