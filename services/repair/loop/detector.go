// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loop guards the repair cycle against repeating itself:
// a detector recognizes failure patterns across attempts and a retry
// policy orders the remaining approaches per error kind.
package loop

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/remedy/services/repair/errorid"
)

const (
	// sameFixThreshold: a patch that failed this many times means the
	// current strategy is not working.
	sameFixThreshold = 2

	// sameErrorThreshold: an error surviving this many attempts means
	// the diagnosis is too shallow, escalate.
	sameErrorThreshold = 3

	// maxTotalAttempts hands the session over to a human.
	maxTotalAttempts = 8

	// maxLayer caps escalation depth.
	maxLayer = 5

	// hashHexLen truncates content hashes; 64 bits is plenty for
	// within-session dedup.
	hashHexLen = 16

	// errorHashPrefixLen bounds how much of the message feeds the
	// error hash, so trailing variable detail does not defeat dedup.
	errorHashPrefixLen = 200
)

// Action is the detector's recommendation for the next step.
type Action string

const (
	ActionContinue       Action = "continue"
	ActionSwitchStrategy Action = "switch_strategy"
	ActionEscalate       Action = "escalate"
	ActionAbort          Action = "abort"
)

// CheckResult carries the recommended action and its justification.
type CheckResult struct {
	Action Action
	Reason string

	// EscalateToLayer is set when Action is ActionEscalate.
	EscalateToLayer int
}

// Attempt is one recorded repair attempt.
type Attempt struct {
	PatchHash string
	ErrorHash string
	Kind      errorid.Kind
	Layer     int
	Success   bool
}

// Detector recognizes repeating failure patterns across attempts.
// Records are append-only; Reset starts a fresh session.
//
// Thread Safety: safe for concurrent use.
type Detector struct {
	mu           sync.Mutex
	attempts     []Attempt
	patchFails   map[string]int
	errorFails   map[string]int
	currentLayer int
}

// NewDetector creates an empty detector at layer 1.
func NewDetector() *Detector {
	return &Detector{
		patchFails:   make(map[string]int),
		errorFails:   make(map[string]int),
		currentLayer: 1,
	}
}

// Record adds one attempt. Failed attempts feed the pattern counters;
// successes only extend the history.
func (d *Detector) Record(patch string, kind errorid.Kind, errorMessage string, layer int, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	attempt := Attempt{
		PatchHash: HashContent(patch),
		ErrorHash: hashError(kind, errorMessage),
		Kind:      kind,
		Layer:     layer,
		Success:   success,
	}
	d.attempts = append(d.attempts, attempt)
	d.currentLayer = layer

	if !success {
		d.patchFails[attempt.PatchHash]++
		d.errorFails[attempt.ErrorHash]++
	}
}

// Check evaluates the history against an upcoming patch.
//
// Description:
//
//	Checks run in strict priority order: the total-attempt ceiling
//	aborts before anything else is considered, a pre-checked upcoming
//	patch that already failed twice forces a strategy switch, a
//	persisting error escalates one layer (capped), and any patch hash
//	at the failure threshold switches strategy. Only then CONTINUE.
func (d *Detector) Check(upcomingPatch string) CheckResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.attempts) >= maxTotalAttempts {
		return CheckResult{
			Action: ActionAbort,
			Reason: fmt.Sprintf("%d attempts reached the ceiling of %d; manual review needed", len(d.attempts), maxTotalAttempts),
		}
	}

	if upcomingPatch != "" {
		if count := d.patchFails[HashContent(upcomingPatch)]; count >= sameFixThreshold {
			return CheckResult{
				Action: ActionSwitchStrategy,
				Reason: fmt.Sprintf("the proposed patch already failed %d times", count),
			}
		}
	}

	for _, count := range d.errorFails {
		if count >= sameErrorThreshold {
			layer := d.currentLayer + 1
			if layer > maxLayer {
				layer = maxLayer
			}
			return CheckResult{
				Action:          ActionEscalate,
				Reason:          fmt.Sprintf("the same error persisted through %d attempts", count),
				EscalateToLayer: layer,
			}
		}
	}

	for _, count := range d.patchFails {
		if count >= sameFixThreshold {
			return CheckResult{
				Action: ActionSwitchStrategy,
				Reason: fmt.Sprintf("a patch was retried %d times without effect", count),
			}
		}
	}

	return CheckResult{Action: ActionContinue, Reason: "no repeating pattern"}
}

// SeenPatch reports whether a byte-equivalent patch already failed.
func (d *Detector) SeenPatch(patch string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.patchFails[HashContent(patch)] > 0
}

// Attempts returns the number of recorded attempts.
func (d *Detector) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

// Reset clears all history for a new root cause or session.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = nil
	d.patchFails = make(map[string]int)
	d.errorFails = make(map[string]int)
	d.currentLayer = 1
}

// HashContent hashes whitespace-normalized content, so formatting-only
// differences between patches collapse to the same hash.
func HashContent(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])[:hashHexLen]
}

func hashError(kind errorid.Kind, message string) string {
	if len(message) > errorHashPrefixLen {
		message = message[:errorHashPrefixLen]
	}
	return HashContent(string(kind) + ":" + message)
}
