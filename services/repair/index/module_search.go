// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PathDiffKind classifies how a candidate module path differs from the
// one the failing import named.
type PathDiffKind string

const (
	// PathDiffPrefixAdded means the module moved under a new parent
	// package: the failing path is a suffix of the candidate.
	PathDiffPrefixAdded PathDiffKind = "prefix_added"

	// PathDiffIntermediateMissing means a middle segment was added: the
	// failing path's segments all appear in the candidate, in order,
	// with extra segments between them.
	PathDiffIntermediateMissing PathDiffKind = "intermediate_missing"

	// PathDiffChanged covers every other reshuffle.
	PathDiffChanged PathDiffKind = "path_changed"
)

// ModuleMatch is one candidate rewrite for a failing module path.
type ModuleMatch struct {
	Module     string       `json:"module"`
	File       string       `json:"file,omitempty"`
	Similarity float64      `json:"similarity"`
	Diff       PathDiffKind `json:"diff"`
	Suggestion string       `json:"suggestion"`
}

// minModuleSimilarity floors SearchModulePath candidates. Dotted paths
// share many segments by accident; below this the rewrite is noise.
const minModuleSimilarity = 0.5

// SearchModulePath finds known module paths structurally similar to a
// path that failed to import.
//
// Description:
//
//	Similarity is the longest common subsequence over dotted segments,
//	normalized by the combined lengths (2*LCS/(lenA+lenB)). Each match is
//	classified as prefix_added, intermediate_missing, or path_changed and
//	carries a human-readable rewrite suggestion.
//
// Inputs:
//   - ctx: Context for tracing only.
//   - modulePath: The dotted path that failed ("utils.helpers").
//
// Outputs:
//   - []ModuleMatch: Candidates sorted by similarity descending.
//
// Thread Safety: Safe for concurrent use.
func (ci *CodeIndex) SearchModulePath(ctx context.Context, modulePath string) []ModuleMatch {
	_, span := startIndexSpan(ctx, "SearchModulePath")
	defer span.End()

	if modulePath == "" {
		return nil
	}
	want := strings.Split(modulePath, ".")

	var matches []ModuleMatch
	for _, candidate := range ci.Modules() {
		if candidate == modulePath {
			continue
		}
		got := strings.Split(candidate, ".")
		lcs := longestCommonSubsequence(want, got)
		if lcs == 0 {
			continue
		}
		similarity := 2.0 * float64(lcs) / float64(len(want)+len(got))
		if similarity < minModuleSimilarity {
			continue
		}
		diff := classifyPathDiff(want, got)
		file, _ := ci.FileForModule(candidate)
		matches = append(matches, ModuleMatch{
			Module:     candidate,
			File:       file,
			Similarity: similarity,
			Diff:       diff,
			Suggestion: suggestRewrite(modulePath, candidate, diff),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Module < matches[j].Module
	})
	setIndexSpanCount(span, len(matches))
	return matches
}

// classifyPathDiff decides how candidate differs from the wanted path.
func classifyPathDiff(want, got []string) PathDiffKind {
	if isSuffix(want, got) {
		return PathDiffPrefixAdded
	}
	if isOrderedSubsequence(want, got) {
		return PathDiffIntermediateMissing
	}
	return PathDiffChanged
}

// isSuffix reports whether want equals the tail of got.
func isSuffix(want, got []string) bool {
	if len(want) >= len(got) {
		return false
	}
	offset := len(got) - len(want)
	for i, seg := range want {
		if got[offset+i] != seg {
			return false
		}
	}
	return true
}

// isOrderedSubsequence reports whether every segment of want appears in
// got in order (with gaps allowed).
func isOrderedSubsequence(want, got []string) bool {
	if len(want) >= len(got) {
		return false
	}
	j := 0
	for _, seg := range got {
		if j < len(want) && want[j] == seg {
			j++
		}
	}
	return j == len(want)
}

// suggestRewrite produces the human-readable fix text for a match.
func suggestRewrite(failed, candidate string, diff PathDiffKind) string {
	switch diff {
	case PathDiffPrefixAdded:
		return fmt.Sprintf("module %q now lives under a parent package; import %q instead", failed, candidate)
	case PathDiffIntermediateMissing:
		return fmt.Sprintf("module path %q gained intermediate segments; import %q instead", failed, candidate)
	default:
		return fmt.Sprintf("module %q not found; closest known path is %q", failed, candidate)
	}
}

// longestCommonSubsequence over string segments.
func longestCommonSubsequence(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
		for j := range curr {
			curr[j] = 0
		}
	}
	return prev[len(b)]
}
