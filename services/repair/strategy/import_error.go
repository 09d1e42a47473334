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

	"github.com/AleutianAI/remedy/services/repair/ast"
	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/index"
)

var (
	noModuleRe         = regexp.MustCompile(`No module named ['"]?([\w.]+)['"]?`)
	cannotImportFromRe = regexp.MustCompile(`cannot import name ['"](\w+)['"] from ['"]([\w.]+)['"]`)
	cannotImportNameRe = regexp.MustCompile(`cannot import name ['"](\w+)['"]`)
)

// maxImportTypoDist bounds how far a symbol in the exporting module may
// be from the one the import names before we call it the same thing.
const maxImportTypoDist = 2

// ImportErrorStrategy handles both ImportError and ModuleNotFoundError:
// module paths that moved or were misspelled, and symbols a module does
// not export under the imported name.
type ImportErrorStrategy struct{}

func (s *ImportErrorStrategy) Kind() errorid.Kind { return errorid.KindImportError }

func (s *ImportErrorStrategy) ConfidenceThreshold() float64 { return ImportThreshold }

func (s *ImportErrorStrategy) Extract(message string) (Fields, bool) {
	if m := noModuleRe.FindStringSubmatch(message); m != nil {
		return Fields{"module": m[1]}, true
	}
	if m := cannotImportFromRe.FindStringSubmatch(message); m != nil {
		return Fields{"symbol": m[1], "exporter": m[2]}, true
	}
	if m := cannotImportNameRe.FindStringSubmatch(message); m != nil {
		return Fields{"symbol": m[1]}, true
	}
	return nil, false
}

func (s *ImportErrorStrategy) FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	if module := fields["module"]; module != "" {
		return s.searchModule(ctx, module, idx, errorFile)
	}
	if symbol := fields["symbol"]; symbol != "" {
		if exporter := fields["exporter"]; exporter != "" {
			if cand, ok := s.searchExporter(symbol, exporter, idx, errorFile); ok {
				return cand, true
			}
		}
		return s.searchSymbol(ctx, fields["symbol"], idx, errorFile)
	}
	return nil, false
}

// searchModule rewrites a failing module path. The fix always targets
// the importing file: "from services.authentification import x" must
// become "from services.authentication import x" where it is written.
func (s *ImportErrorStrategy) searchModule(ctx context.Context, module string, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	matches := idx.SearchModulePath(ctx, module)
	if len(matches) == 0 {
		return nil, false
	}

	top := matches[0]
	confidence := top.Similarity
	suggestion := top.Suggestion

	// Structural similarity underrates single-segment typos; a close
	// edit on the last segment is stronger evidence than shared
	// prefixes.
	if confidence < 0.8 {
		wantLast := lastSegment(module)
		gotLast := lastSegment(top.Module)
		if sim := editSimilarity(wantLast, gotLast); sim > confidence {
			confidence = min(sim, 0.95)
			suggestion = fmt.Sprintf("module '%s' looks like a misspelling of '%s'; fix the import statement", module, top.Module)
		}
	}

	if !clearsThreshold(confidence, s.ConfidenceThreshold()) {
		return nil, false
	}
	return &Candidate{
		Symbol:     top.Module,
		File:       errorFile,
		Confidence: confidence,
		Suggestion: suggestion,
	}, true
}

// searchExporter checks whether the exporting module defines a close
// sibling of the missing symbol. When it does, the import line itself
// carries the typo and the fix is near-certain.
func (s *ImportErrorStrategy) searchExporter(symbol, exporter string, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	file, found := idx.FileForModule(exporter)
	if !found {
		return nil, false
	}

	bestDist := maxImportTypoDist + 1
	var bestName string
	var bestLine int
	for _, sym := range idx.SymbolsInFile(file) {
		if sym.Kind != ast.SymbolKindFunction && sym.Kind != ast.SymbolKindClass && sym.Kind != ast.SymbolKindVariable {
			continue
		}
		dist := levenshtein(strings.ToLower(symbol), strings.ToLower(sym.Name))
		if dist > 0 && dist < bestDist {
			bestDist = dist
			bestName = sym.Name
			bestLine = sym.StartLine
		}
	}
	if bestName == "" {
		return nil, false
	}
	return &Candidate{
		Symbol:     bestName,
		File:       errorFile,
		Line:       bestLine,
		Confidence: cannotImportConfidence,
		Suggestion: fmt.Sprintf("'%s' does not exist in %s, but '%s' does (%s:%d); correct the import statement",
			symbol, exporter, bestName, file, bestLine),
	}, true
}

func (s *ImportErrorStrategy) searchSymbol(ctx context.Context, symbol string, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	matches := idx.FuzzyResolve(ctx, symbol, errorFile)
	if len(matches) == 0 || !clearsThreshold(matches[0].Confidence, s.ConfidenceThreshold()) {
		return nil, false
	}
	top := matches[0]
	return &Candidate{
		Symbol:     top.Name,
		File:       errorFile,
		Line:       top.Line,
		Confidence: top.Confidence,
		Suggestion: fmt.Sprintf("cannot import '%s'; likely a misspelling of '%s' defined at %s:%d",
			symbol, top.Name, top.File, top.Line),
	}, true
}

func lastSegment(module string) string {
	parts := strings.Split(module, ".")
	return strings.ToLower(parts[len(parts)-1])
}

// editSimilarity is 1 - dist/maxLen, the usual normalized edit score.
func editSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	maxLen := max(len(a), len(b))
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}
