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

var (
	arityMismatchRe = regexp.MustCompile(`(\w+)\(\) takes (\d+) .*?(\d+) .*?given`)
	missingArgRe    = regexp.MustCompile(`(\w+)\(\) missing (\d+) required`)
)

// typeErrorConfidence applies when the function's real signature is on
// hand: the mismatch is then a statement of fact, not a guess.
const typeErrorConfidence = 0.9

// TypeErrorStrategy handles argument-count mismatches by recovering the
// called function's actual signature from the index.
type TypeErrorStrategy struct{}

func (s *TypeErrorStrategy) Kind() errorid.Kind { return errorid.KindTypeError }

func (s *TypeErrorStrategy) ConfidenceThreshold() float64 { return DefaultThreshold }

func (s *TypeErrorStrategy) Extract(message string) (Fields, bool) {
	if m := arityMismatchRe.FindStringSubmatch(message); m != nil {
		return Fields{"function": m[1], "expected": m[2], "got": m[3]}, true
	}
	if m := missingArgRe.FindStringSubmatch(message); m != nil {
		return Fields{"function": m[1], "missing": m[2]}, true
	}
	return nil, false
}

func (s *TypeErrorStrategy) FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	funcName := fields["function"]
	if funcName == "" {
		return nil, false
	}

	matches := idx.Lookup(funcName)
	if len(matches) == 0 || matches[0].Signature == "" {
		return nil, false
	}
	top := matches[0]

	suggestion := fmt.Sprintf("signature of '%s' is: %s", funcName, top.Signature)
	switch {
	case fields["expected"] != "":
		suggestion += fmt.Sprintf("\nthe call passes %s arguments but the function takes %s; fix the call site, not the definition",
			fields["got"], fields["expected"])
	case fields["missing"] != "":
		suggestion += fmt.Sprintf("\nthe call is missing %s required argument(s)", fields["missing"])
	}

	return &Candidate{
		Symbol:     funcName,
		File:       errorFile,
		Line:       top.Line,
		Confidence: typeErrorConfidence,
		Suggestion: suggestion,
	}, true
}
