// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy implements the fast resolution path: per-error-kind
// extractors that pull the key fields out of an error message and run a
// cheap index search before any model is consulted. A hit above the
// strategy's confidence threshold skips the investigation agent
// entirely.
package strategy

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/index"
)

// Confidence thresholds per strategy. Module-path rewrites need a
// higher bar than symbol typos because dotted paths collide more, and
// cycle detection must be near-certain before it redirects the fix.
const (
	DefaultThreshold        = 0.7
	ImportThreshold         = 0.75
	CircularImportThreshold = 0.9

	// cannotImportConfidence applies when the exporting module names a
	// close sibling of the missing symbol: the import line itself is
	// the defect.
	cannotImportConfidence = 0.95
)

// Fields holds the values a strategy extracted from an error message,
// keyed by what they are ("symbol", "module", "class", "attribute",
// "key", "function").
type Fields map[string]string

// Candidate is a fast-path resolution: where the fix belongs and how
// sure the strategy is.
type Candidate struct {
	// Symbol is the corrected name the search landed on.
	Symbol string `json:"symbol"`

	// File is the file the patch should target, relative to the
	// project root. For import rewrites this is the importing file,
	// not the module that moved.
	File string `json:"file,omitempty"`

	Line       int     `json:"line,omitempty"`
	Confidence float64 `json:"confidence"`

	// Suggestion is human-readable and is passed verbatim to the patch
	// generator as guidance.
	Suggestion string `json:"suggestion"`
}

// Strategy is one error kind's fast path.
type Strategy interface {
	// Kind names the error kind this strategy handles.
	Kind() errorid.Kind

	// Extract pulls the strategy's fields out of the error message.
	// ok is false when the message has none of the expected shapes.
	Extract(message string) (Fields, bool)

	// FastSearch runs the cheap index search. ok is false when nothing
	// clears the strategy's threshold; the caller then falls back to
	// the investigation agent.
	FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool)

	// ConfidenceThreshold is the minimum confidence FastSearch demands
	// before it returns a candidate.
	ConfidenceThreshold() float64
}

// Registry maps error kinds to strategies.
type Registry struct {
	strategies map[errorid.Kind]Strategy
	fallback   Strategy
	logger     *slog.Logger
}

// NewRegistry builds a registry with every default strategy
// registered. ImportError and ModuleNotFoundError share one strategy.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		strategies: make(map[errorid.Kind]Strategy),
		fallback:   &fallbackStrategy{},
		logger:     logger,
	}
	r.Register(&NameErrorStrategy{})
	imp := &ImportErrorStrategy{}
	r.Register(imp)
	r.strategies[errorid.KindModuleNotFound] = imp
	r.Register(&AttributeErrorStrategy{})
	r.Register(&TypeErrorStrategy{})
	r.Register(&KeyErrorStrategy{})
	r.Register(&CircularImportStrategy{})
	logger.Debug("strategy registry ready", "strategies", len(r.strategies))
	return r
}

// Register adds or replaces the strategy for its own kind.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Kind()] = s
}

// Get returns the strategy for the kind. Unregistered kinds get the
// fallback, whose fast path never fires, so callers always route them
// to the investigation agent.
func (r *Registry) Get(kind errorid.Kind) Strategy {
	if s, found := r.strategies[kind]; found {
		return s
	}
	r.logger.Debug("no strategy registered, using fallback", "kind", kind)
	return r.fallback
}

// Kinds lists every registered kind.
func (r *Registry) Kinds() []errorid.Kind {
	kinds := make([]errorid.Kind, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	return kinds
}

// fallbackStrategy handles kinds nothing claims: no extraction, no
// fast path.
type fallbackStrategy struct{}

func (s *fallbackStrategy) Kind() errorid.Kind { return errorid.KindUnknown }

func (s *fallbackStrategy) Extract(string) (Fields, bool) { return nil, false }

func (s *fallbackStrategy) FastSearch(context.Context, Fields, *index.CodeIndex, string) (*Candidate, bool) {
	return nil, false
}

func (s *fallbackStrategy) ConfidenceThreshold() float64 { return 1.0 }

// clearsThreshold is the fast-path acceptance gate. Inclusive: a score
// sitting exactly at the strategy's threshold is a hit, matching how
// the session accepts the candidate afterwards.
func clearsThreshold(confidence, threshold float64) bool {
	return confidence >= threshold
}

// levenshtein is the plain edit distance used for close-name checks.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
