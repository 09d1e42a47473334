// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"strings"
)

// Remediation is the recommended way to break an import cycle.
type Remediation string

const (
	// RemediationDeferredImport: move the import inside the function that
	// needs it, so it runs after module initialization.
	RemediationDeferredImport Remediation = "deferred_import"

	// RemediationStringAnnotation: the symbol is only used in type
	// positions; quoting the annotation removes the import-time need.
	RemediationStringAnnotation Remediation = "string_annotation"
)

// ClassifyCycleUsage inspects how a symbol imported inside a cycle is
// used in the importing file and recommends a remediation.
//
// Description:
//
//	If every use of the symbol sits in a type position (a parameter or
//	variable annotation after ":", or a return annotation after "->")
//	the import is only needed by the type checker and a string
//	annotation suffices. Any runtime use (a call, an attribute access,
//	an expression) needs the import at execution time, so the import
//	itself must be deferred into the consuming function.
//
// Inputs:
//   - source: Content of the importing file.
//   - symbol: The imported name implicated in the cycle.
//
// Outputs:
//   - Remediation: string_annotation iff all uses are type positions.
func ClassifyCycleUsage(source []byte, symbol string) Remediation {
	typeUses := 0
	runtimeUses := 0

	for _, line := range strings.Split(string(source), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		// The import statement itself is neither kind of use.
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			continue
		}
		for _, idx := range symbolOccurrences(trimmed, symbol) {
			if isTypePosition(trimmed, idx) {
				typeUses++
			} else {
				runtimeUses++
			}
		}
	}

	if runtimeUses == 0 && typeUses > 0 {
		return RemediationStringAnnotation
	}
	return RemediationDeferredImport
}

// symbolOccurrences finds word-boundary occurrences of symbol in a line.
func symbolOccurrences(line, symbol string) []int {
	var positions []int
	for start := 0; ; {
		idx := strings.Index(line[start:], symbol)
		if idx < 0 {
			break
		}
		abs := start + idx
		before := byte(' ')
		if abs > 0 {
			before = line[abs-1]
		}
		after := byte(' ')
		if abs+len(symbol) < len(line) {
			after = line[abs+len(symbol)]
		}
		if !isIdentChar(before) && !isIdentChar(after) {
			positions = append(positions, abs)
		}
		start = abs + len(symbol)
	}
	return positions
}

// isTypePosition reports whether the occurrence at idx sits in an
// annotation: after a "->" on the same line, or after a ":" that is
// itself inside an open parenthesis or a variable annotation.
func isTypePosition(line string, idx int) bool {
	prefix := line[:idx]
	if arrow := strings.LastIndex(prefix, "->"); arrow >= 0 {
		return true
	}
	colon := strings.LastIndex(prefix, ":")
	if colon < 0 {
		return false
	}
	// A colon introducing a block ("if x:", "def f():") ends the line;
	// an annotation colon is followed by the type expression.
	between := prefix[colon+1:]
	return strings.TrimSpace(strings.Trim(between, "\"'[] ")) == "" ||
		!strings.ContainsAny(between, "=(")
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
