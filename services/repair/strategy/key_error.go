// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"context"
	"fmt"
	"regexp"

	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/index"
)

// A KeyError message is just the repr of the key, quotes included.
var keyErrorRe = regexp.MustCompile(`['"]?(\w+)['"]?`)

// KeyErrorStrategy traces a missing mapping key back to where the
// mapping is built. The provenance ladder (exact, nested one level,
// restructured flat key, fuzzy sibling) yields a concrete access-path
// rewrite rather than a bare guess.
type KeyErrorStrategy struct{}

func (s *KeyErrorStrategy) Kind() errorid.Kind { return errorid.KindKeyError }

func (s *KeyErrorStrategy) ConfidenceThreshold() float64 { return DefaultThreshold }

func (s *KeyErrorStrategy) Extract(message string) (Fields, bool) {
	m := keyErrorRe.FindStringSubmatch(message)
	if m == nil {
		return nil, false
	}
	return Fields{"key": m[1]}, true
}

func (s *KeyErrorStrategy) FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	key := fields["key"]
	if key == "" {
		return nil, false
	}

	matches := idx.SearchDictKey(ctx, key)
	if len(matches) == 0 || !clearsThreshold(matches[0].Confidence, s.ConfidenceThreshold()) {
		return nil, false
	}

	top := matches[0]
	return &Candidate{
		Symbol:     top.Key,
		File:       errorFile,
		Line:       top.Line,
		Confidence: top.Confidence,
		Suggestion: keySuggestion(key, top),
	}, true
}

func keySuggestion(missing string, match index.KeyMatch) string {
	switch match.Kind {
	case index.KeyMatchNested:
		return fmt.Sprintf("key '%s' sits one level down: rewrite the access from [\"%s\"] to %s (built in %s() at %s:%d)",
			missing, missing, match.AccessPath, match.Function, match.File, match.Line)
	case index.KeyMatchRestructured:
		return fmt.Sprintf("key '%s' was restructured into a nested shape: rewrite the access from [\"%s\"] to %s (built in %s() at %s:%d)",
			missing, missing, match.AccessPath, match.Function, match.File, match.Line)
	case index.KeyMatchFuzzy:
		return fmt.Sprintf("key '%s' does not exist; '%s' does (built in %s() at %s:%d) and is likely what was meant",
			missing, match.Key, match.Function, match.File, match.Line)
	default:
		return fmt.Sprintf("key '%s' exists in the mapping built by %s() at %s:%d; check how the mapping reaches the failing access",
			match.Key, match.Function, match.File, match.Line)
	}
}
