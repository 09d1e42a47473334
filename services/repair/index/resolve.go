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
	"log/slog"
	"path"
	"sort"

	"github.com/AleutianAI/remedy/services/repair/ast"
)

// Confidence weights. The composite score is
// 0.5*similarity + 0.2*uniqueness + 0.2*reachability + 0.1*category,
// so it always lies in [0, 1].
const (
	weightSimilarity   = 0.5
	weightUniqueness   = 0.2
	weightReachability = 0.2
	weightCategory     = 0.1

	// closeEditBoost floors the similarity component for candidates
	// within edit distance 2: one or two typo'd characters should not
	// drown a long name's score.
	closeEditBoost   = 0.85
	closeEditMaxDist = 2

	// reachabilityPenalty is the reachability factor for candidates the
	// context file cannot reach through its imports or package.
	reachabilityPenalty = 0.3
)

// FuzzyResolve finds candidates for an approximate name.
//
// Description:
//
//	Every indexed name whose edit similarity clears the configured floor
//	(default 0.6) is scored with the composite confidence. The score is a
//	deterministic pure function of (query, candidate, index state,
//	contextFile); nothing is cached on the symbol. Results are sorted by
//	confidence descending, ties broken by name then file for stability.
//
// Inputs:
//   - ctx: Context for tracing only; resolution itself does not block.
//   - query: The approximate name from the error message.
//   - contextFile: Project-relative path of the file where the error was
//     observed. May be empty; reachability is then neutral.
//
// Outputs:
//   - []SymbolMatch: Scored candidates, best first. Empty if nothing
//     clears the floor.
//
// Thread Safety: Safe for concurrent use (read lock only).
func (ci *CodeIndex) FuzzyResolve(ctx context.Context, query, contextFile string) []SymbolMatch {
	_, span := startIndexSpan(ctx, "FuzzyResolve")
	defer span.End()

	if query == "" {
		return nil
	}

	ci.mu.RLock()
	defer ci.mu.RUnlock()

	var matches []SymbolMatch
	for name, syms := range ci.byName {
		similarity := ci.similarityLocked(query, name)
		if similarity < ci.fuzzyFloor {
			continue
		}
		uniqueness := 1.0 / float64(len(syms))
		for _, sym := range syms {
			confidence := weightSimilarity*similarity +
				weightUniqueness*uniqueness +
				weightReachability*ci.reachabilityLocked(contextFile, sym.File) +
				weightCategory*categoryScore(sym.Kind)
			matches = append(matches, SymbolMatch{
				Name:       sym.Name,
				File:       sym.File,
				Line:       sym.StartLine,
				Category:   sym.Kind,
				Confidence: confidence,
				Signature:  sym.Signature,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		if matches[i].Name != matches[j].Name {
			return matches[i].Name < matches[j].Name
		}
		return matches[i].File < matches[j].File
	})

	if len(matches) > 0 {
		ci.logger.Debug("fuzzy resolve",
			slog.String("query", query),
			slog.Int("candidates", len(matches)),
			slog.String("best", matches[0].Name),
			slog.Float64("best_confidence", matches[0].Confidence))
	}
	setIndexSpanCount(span, len(matches))
	return matches
}

// Similarity exposes the edit-similarity component on its own. Used by
// strategies that need the raw string signal without the index factors.
func (ci *CodeIndex) Similarity(a, b string) float64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.similarityLocked(a, b)
}

// similarityLocked computes 1 - dist/maxLen, floored at closeEditBoost
// when the raw edit distance is at most closeEditMaxDist.
func (ci *CodeIndex) similarityLocked(query, candidate string) float64 {
	if query == candidate {
		return 1.0
	}
	dist := levenshteinDistance(query, candidate)
	maxLen := len(query)
	if len(candidate) > maxLen {
		maxLen = len(candidate)
	}
	if maxLen == 0 {
		return 0
	}
	similarity := 1.0 - float64(dist)/float64(maxLen)
	if dist <= closeEditMaxDist && similarity < closeEditBoost {
		similarity = closeEditBoost
	}
	return similarity
}

// reachabilityLocked returns 1.0 when the candidate's file is the context
// file itself, lives in the same package directory, or is imported
// (directly) by the context file; otherwise the penalty factor. An empty
// context file is neutral.
func (ci *CodeIndex) reachabilityLocked(contextFile, candidateFile string) float64 {
	if contextFile == "" || contextFile == candidateFile {
		return 1.0
	}
	if path.Dir(contextFile) == path.Dir(candidateFile) {
		return 1.0
	}
	candidateModule := ModuleForFile(candidateFile)
	for _, imp := range ci.imports[contextFile] {
		if imp.Module == candidateModule {
			return 1.0
		}
	}
	return reachabilityPenalty
}

// categoryScore favors definitions that undefined-name errors usually
// point at: functions, classes, methods, and parameters.
func categoryScore(kind ast.SymbolKind) float64 {
	switch kind {
	case ast.SymbolKindFunction, ast.SymbolKindClass, ast.SymbolKindMethod, ast.SymbolKindParameter:
		return 1.0
	default:
		return 0.5
	}
}

// levenshteinDistance computes edit distance with the two-row method.
func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minOf(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minOf(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
