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

var nameNotDefinedRe = regexp.MustCompile(`name '(\w+)' is not defined`)

// NameErrorStrategy resolves undefined names through fuzzy symbol
// lookup: the common case is a typo of a definition that exists
// somewhere in the project.
type NameErrorStrategy struct{}

func (s *NameErrorStrategy) Kind() errorid.Kind { return errorid.KindNameError }

func (s *NameErrorStrategy) ConfidenceThreshold() float64 { return DefaultThreshold }

func (s *NameErrorStrategy) Extract(message string) (Fields, bool) {
	m := nameNotDefinedRe.FindStringSubmatch(message)
	if m == nil {
		return nil, false
	}
	return Fields{"symbol": m[1]}, true
}

func (s *NameErrorStrategy) FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	symbol := fields["symbol"]
	if symbol == "" {
		return nil, false
	}

	matches := idx.FuzzyResolve(ctx, symbol, errorFile)
	if len(matches) == 0 || !clearsThreshold(matches[0].Confidence, s.ConfidenceThreshold()) {
		return nil, false
	}

	top := matches[0]
	suggestion := fmt.Sprintf("'%s' is likely a misspelling of '%s' defined at %s:%d; rewrite the reference, do not add a new definition",
		symbol, top.Name, top.File, top.Line)
	if top.Name == symbol {
		// The exact definition exists elsewhere: the reference is
		// right, the import is missing.
		suggestion = fmt.Sprintf("'%s' is defined at %s:%d but never imported here; add the import",
			symbol, top.File, top.Line)
	}
	return &Candidate{
		Symbol:     top.Name,
		File:       errorFile,
		Line:       top.Line,
		Confidence: top.Confidence,
		Suggestion: suggestion,
	}, true
}
