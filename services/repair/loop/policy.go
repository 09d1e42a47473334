// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loop

import (
	"sync"

	"github.com/AleutianAI/remedy/services/repair/errorid"
)

// maxSameApproach is how often one approach may fail before the policy
// stops suggesting it.
const maxSameApproach = 2

// Approach names a repair tactic the orchestrator knows how to execute.
type Approach string

const (
	ApproachPatternFix    Approach = "pattern_fix"
	ApproachLLMFix        Approach = "llm_fix"
	ApproachAddImport     Approach = "add_import"
	ApproachPathFix       Approach = "path_fix"
	ApproachInvestigate   Approach = "investigate"
	ApproachLazyImport    Approach = "lazy_import"
	ApproachTypeChecking  Approach = "type_checking"
	ApproachNestedAccess  Approach = "nested_access"
	ApproachRestructure   Approach = "restructure"
)

// approachOrder lists approaches per error kind, cheapest first. Kinds
// not listed fall back to the generic ladder.
var approachOrder = map[errorid.Kind][]Approach{
	errorid.KindNameError: {
		ApproachPatternFix, ApproachAddImport, ApproachLLMFix, ApproachInvestigate,
	},
	errorid.KindImportError: {
		ApproachPathFix, ApproachPatternFix, ApproachLLMFix, ApproachLazyImport, ApproachInvestigate,
	},
	errorid.KindModuleNotFound: {
		ApproachPathFix, ApproachPatternFix, ApproachLLMFix, ApproachInvestigate,
	},
	errorid.KindAttributeError: {
		ApproachPatternFix, ApproachLLMFix, ApproachInvestigate,
	},
	errorid.KindKeyError: {
		ApproachPatternFix, ApproachNestedAccess, ApproachLLMFix, ApproachInvestigate,
	},
	errorid.KindCircularImport: {
		ApproachTypeChecking, ApproachLazyImport, ApproachLLMFix, ApproachRestructure,
	},
}

var genericOrder = []Approach{ApproachLLMFix, ApproachInvestigate}

// Policy tracks which approaches failed per error kind and suggests the
// next one to try.
//
// Thread Safety: safe for concurrent use.
type Policy struct {
	mu       sync.Mutex
	failures map[string]int
}

// NewPolicy creates an empty retry policy.
func NewPolicy() *Policy {
	return &Policy{failures: make(map[string]int)}
}

// RecordFailure marks one failed use of an approach for an error kind.
func (p *Policy) RecordFailure(kind errorid.Kind, approach Approach) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[key(kind, approach)]++
}

// ShouldTry reports whether the approach is still worth attempting.
func (p *Policy) ShouldTry(kind errorid.Kind, approach Approach) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[key(kind, approach)] < maxSameApproach
}

// Next returns the highest-priority approach for the kind that has not
// exhausted its failure budget. ok is false when nothing remains, which
// is the signal to stop automatic repair.
func (p *Policy) Next(kind errorid.Kind) (Approach, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, found := approachOrder[kind]
	if !found {
		order = genericOrder
	}
	for _, approach := range order {
		if p.failures[key(kind, approach)] < maxSameApproach {
			return approach, true
		}
	}
	return "", false
}

// Remaining lists approaches for the kind that never failed yet.
func (p *Policy) Remaining(kind errorid.Kind) []Approach {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, found := approachOrder[kind]
	if !found {
		order = genericOrder
	}
	var untried []Approach
	for _, approach := range order {
		if p.failures[key(kind, approach)] == 0 {
			untried = append(untried, approach)
		}
	}
	return untried
}

// Reset clears all failure counts for a new session.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = make(map[string]int)
}

func key(kind errorid.Kind, approach Approach) string {
	return string(kind) + ":" + string(approach)
}
