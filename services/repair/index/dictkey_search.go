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

	"github.com/AleutianAI/remedy/services/repair/ast"
)

// KeyMatchKind classifies how a missing dict key was located.
type KeyMatchKind string

const (
	// KeyMatchExact: the key exists at the top level of a literal return.
	KeyMatchExact KeyMatchKind = "exact"

	// KeyMatchNested: the key moved one level down under a parent key.
	KeyMatchNested KeyMatchKind = "nested"

	// KeyMatchRestructured: a flat underscore key was split into
	// parent/child keys ("user_name" → ["user"]["name"]).
	KeyMatchRestructured KeyMatchKind = "restructured"

	// KeyMatchFuzzy: a sibling key within edit distance 2.
	KeyMatchFuzzy KeyMatchKind = "fuzzy"
)

// Confidence per match kind. Exact and nested are near-certain; the
// restructured and fuzzy cases are strong but rewriting the access path
// is more speculative.
const (
	keyConfidenceExact        = 1.0
	keyConfidenceNested       = 0.95
	keyConfidenceRestructured = 0.9
	keyFuzzyMaxDist           = 2
)

// KeyMatch is one provenance result for a missing dict key.
type KeyMatch struct {
	Key        string       `json:"key"`
	Function   string       `json:"function"`
	File       string       `json:"file"`
	Line       int          `json:"line"`
	Kind       KeyMatchKind `json:"kind"`
	Confidence float64      `json:"confidence"`

	// AccessPath is the rewritten subscript chain, e.g.
	// `["details"]["count"]` for a key that moved under "details".
	AccessPath string `json:"access_path"`
}

// SearchDictKey locates where a missing mapping key went.
//
// Description:
//
//	Scans every recorded literal-dict return shape for the key: first as
//	a top-level key (exact), then one level of nesting down, then as a
//	flat key restructured into parent/child segments (underscore-split),
//	and finally as a fuzzy match against sibling keys. Each match carries
//	a concrete rewritten access path.
//
// Inputs:
//   - ctx: Context for tracing only.
//   - key: The missing key from the KeyError message.
//
// Outputs:
//   - []KeyMatch: Matches sorted by confidence descending.
//
// Thread Safety: Safe for concurrent use.
func (ci *CodeIndex) SearchDictKey(ctx context.Context, key string) []KeyMatch {
	_, span := startIndexSpan(ctx, "SearchDictKey")
	defer span.End()

	if key == "" {
		return nil
	}

	var matches []KeyMatch
	for _, ret := range ci.DictReturns() {
		matches = append(matches, matchKeyInShape(key, ret)...)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Function < matches[j].Function
	})
	setIndexSpanCount(span, len(matches))
	return matches
}

// matchKeyInShape applies the four match layers against one return shape.
func matchKeyInShape(key string, ret *ast.DictReturn) []KeyMatch {
	shape := ret.Shape
	if shape == nil {
		return nil
	}
	base := KeyMatch{Key: key, Function: ret.Function, File: ret.File, Line: ret.Line}

	if shape.HasKey(key) {
		m := base
		m.Kind = KeyMatchExact
		m.Confidence = keyConfidenceExact
		m.AccessPath = fmt.Sprintf("[%q]", key)
		return []KeyMatch{m}
	}

	var matches []KeyMatch

	// One level of nesting: the flat key now lives under a parent.
	for parent, child := range shape.Keys {
		if child.HasKey(key) {
			m := base
			m.Kind = KeyMatchNested
			m.Confidence = keyConfidenceNested
			m.AccessPath = fmt.Sprintf("[%q][%q]", parent, key)
			matches = append(matches, m)
		}
	}

	// Restructured: "user_name" became ["user"]["name"]. Try every
	// underscore split point against parent/child pairs.
	segments := strings.Split(key, "_")
	for cut := 1; cut < len(segments); cut++ {
		parent := strings.Join(segments[:cut], "_")
		childKey := strings.Join(segments[cut:], "_")
		if child, ok := shape.Keys[parent]; ok && child.HasKey(childKey) {
			m := base
			m.Kind = KeyMatchRestructured
			m.Confidence = keyConfidenceRestructured
			m.AccessPath = fmt.Sprintf("[%q][%q]", parent, childKey)
			matches = append(matches, m)
		}
	}

	if len(matches) > 0 {
		return matches
	}

	// Fuzzy: a sibling top-level key one or two edits away.
	bestDist := keyFuzzyMaxDist + 1
	bestKey := ""
	for _, sibling := range shape.TopKeys() {
		dist := levenshteinDistance(key, sibling)
		if dist <= keyFuzzyMaxDist && dist < bestDist {
			bestDist = dist
			bestKey = sibling
		}
	}
	if bestKey != "" {
		maxLen := len(key)
		if len(bestKey) > maxLen {
			maxLen = len(bestKey)
		}
		m := base
		m.Key = bestKey
		m.Kind = KeyMatchFuzzy
		m.Confidence = keyConfidenceRestructured * (1.0 - float64(bestDist)/float64(maxLen))
		m.AccessPath = fmt.Sprintf("[%q]", bestKey)
		matches = append(matches, m)
	}
	return matches
}
