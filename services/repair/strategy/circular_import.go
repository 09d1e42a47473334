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
	"strings"

	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/graph"
	"github.com/AleutianAI/remedy/services/repair/index"
)

var (
	partialInitRe       = regexp.MustCompile(`cannot import name '(\w+)' from partially initialized module '([\w.]+)'`)
	partialInitModuleRe = regexp.MustCompile(`from partially initialized module '([\w.]+)'`)
)

// maxReportedCycles caps how many cycles the guidance lists; past a few,
// more paths add noise, not signal.
const maxReportedCycles = 3

// cycleConfidence applies when the import graph confirms the cycle the
// traceback implied.
const cycleConfidence = 0.95

// CircularImportStrategy confirms a suspected import cycle against the
// project's import graph and turns the cycle paths plus the symbol's
// usage pattern into concrete remediation guidance. It never produces a
// mechanical patch itself; the candidate's suggestion steers the patch
// generator.
type CircularImportStrategy struct{}

func (s *CircularImportStrategy) Kind() errorid.Kind { return errorid.KindCircularImport }

func (s *CircularImportStrategy) ConfidenceThreshold() float64 { return CircularImportThreshold }

func (s *CircularImportStrategy) Extract(message string) (Fields, bool) {
	if m := partialInitRe.FindStringSubmatch(message); m != nil {
		return Fields{"symbol": m[1], "module": m[2]}, true
	}
	if m := partialInitModuleRe.FindStringSubmatch(message); m != nil {
		return Fields{"module": m[1]}, true
	}
	if strings.Contains(strings.ToLower(message), "circular import") {
		return Fields{}, true
	}
	return nil, false
}

func (s *CircularImportStrategy) FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	g := graph.BuildImportGraph(idx)
	cycles := g.FindCycles(ctx)
	if len(cycles) == 0 {
		return nil, false
	}

	symbol := fields["symbol"]
	module := fields["module"]

	var b strings.Builder
	b.WriteString("import cycle confirmed:\n")
	for i, cycle := range cycles {
		if i == maxReportedCycles {
			fmt.Fprintf(&b, "  ... and %d more cycle(s)\n", len(cycles)-maxReportedCycles)
			break
		}
		fmt.Fprintf(&b, "  cycle %d: %s\n", i+1, strings.Join(cycle, " -> "))
	}
	b.WriteString(s.remediation(idx, errorFile, symbol, module))

	return &Candidate{
		Symbol:     symbol,
		File:       errorFile,
		Confidence: cycleConfidence,
		Suggestion: b.String(),
	}, true
}

// remediation picks the fix shape from how the symbol is actually used
// in the importing file: type-only uses get a quoted annotation behind
// a TYPE_CHECKING guard, runtime uses get the import deferred into the
// consuming function.
func (s *CircularImportStrategy) remediation(idx *index.CodeIndex, errorFile, symbol, module string) string {
	if symbol == "" || errorFile == "" {
		return "break the cycle by deferring one import into the function that needs it, " +
			"or guard a type-only import behind 'if TYPE_CHECKING:' and quote the annotations"
	}

	source, err := idx.ReadFile(errorFile)
	if err != nil {
		source = nil
	}

	switch graph.ClassifyCycleUsage(source, symbol) {
	case graph.RemediationStringAnnotation:
		return fmt.Sprintf(
			"'%s' is only used in type positions in %s; move the import behind a guard:\n"+
				"  from typing import TYPE_CHECKING\n"+
				"  if TYPE_CHECKING:\n"+
				"      from %s import %s\n"+
				"and quote the annotations (\"%s\")",
			symbol, errorFile, module, symbol, symbol)
	default:
		return fmt.Sprintf(
			"'%s' is used at runtime in %s; remove the top-level import and import it inside the function(s) that call it:\n"+
				"  def the_function(...):\n"+
				"      from %s import %s",
			symbol, errorFile, module, symbol)
	}
}
