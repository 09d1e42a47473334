// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixer

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/AleutianAI/remedy/services/repair/errorid"
)

// closeMatchCutoff is the minimum sequence similarity for a defined
// name to be accepted as the intended spelling of an undefined one.
const closeMatchCutoff = 0.8

var (
	undefinedNameRe = regexp.MustCompile(`name ['"](\w+)['"] is not defined`)
	noAttributeRe   = regexp.MustCompile(`has no attribute ['"](\w+)['"]`)
	didYouMeanRe    = regexp.MustCompile(`Did you mean[:\s]+['"](\w+)['"]`)
	keyErrorKeyRe   = regexp.MustCompile(`['"]?(\w+)['"]?`)

	defFuncRe   = regexp.MustCompile(`def\s+(\w+)\s*\(`)
	defClassRe  = regexp.MustCompile(`class\s+(\w+)\s*[:(]`)
	defAssignRe = regexp.MustCompile(`(?m)^(\w+)\s*=`)
	defForRe    = regexp.MustCompile(`for\s+(\w+)\s+in`)
	defParamsRe = regexp.MustCompile(`def\s+\w+\s*\(([^)]*)\)`)
	paramNameRe = regexp.MustCompile(`(\w+)\s*[,=)]`)

	dictKeyDefRe    = regexp.MustCompile(`['"](\w+)['"]\s*:`)
	dictKeyAccessRe = regexp.MustCompile(`\[['"](\w+)['"]\]`)
)

// PatternFixer repairs the common typo classes with curated tables and
// a whole-file scan, keeping simple failures off the model entirely.
// All replacements are word-boundary aware, and every occurrence of a
// recognized typo is fixed in one pass, not just the reported one.
//
// Thread Safety: stateless; safe for concurrent use.
type PatternFixer struct {
	logger *slog.Logger
}

// NewPatternFixer creates a rule-based fixer.
func NewPatternFixer() *PatternFixer {
	return &PatternFixer{logger: slog.Default()}
}

// TryFix attempts a rule-based repair of source for the given error.
//
// Description:
//
//	Attribute and import typos are scanned regardless of the reported
//	kind, since fixing one error often reveals a sibling typo on the
//	next run. Name and key fixes only apply to their own kinds because
//	their replacements are derived from the error message. Returns
//	(nil, false) when no rule produced a change.
func (p *PatternFixer) TryFix(source string, kind errorid.Kind, message string) (*PatchResult, bool) {
	fixed := source
	var changes []string

	fixed, changes = p.fixAttributeTypos(fixed, message, changes)
	fixed, changes = p.fixImportTypos(fixed, changes)

	if kind == errorid.KindNameError {
		fixed, changes = p.fixNameTypo(fixed, message, changes)
	}
	if kind == errorid.KindKeyError {
		fixed, changes = p.fixKeyTypo(fixed, message, changes)
	}

	if len(changes) == 0 || fixed == source {
		return nil, false
	}

	p.logger.Info("rule-based fix applied", "kind", string(kind), "changes", len(changes))
	return &PatchResult{
		Success:          true,
		PatchedSource:    fixed,
		Explanation:      "typo fix: " + strings.Join(changes, "; "),
		Changes:          changes,
		UsedPatternFixer: true,
	}, true
}

// fixNameTypo repairs an undefined bare name, first from the curated
// table, then by the closest name actually defined in the file.
func (p *PatternFixer) fixNameTypo(source, message string, changes []string) (string, []string) {
	m := undefinedNameRe.FindStringSubmatch(message)
	if m == nil {
		return source, changes
	}
	wrong := m[1]

	if correct, ok := nameTypos[wrong]; ok {
		return replaceWord(source, wrong, correct), append(changes, wrong+" -> "+correct)
	}

	if correct, ok := closestMatch(wrong, definedNames(source)); ok {
		return replaceWord(source, wrong, correct), append(changes, wrong+" -> "+correct)
	}
	return source, changes
}

// fixAttributeTypos repairs attribute accesses: the interpreter's own
// "Did you mean" suggestion wins when present, then the curated table
// is scanned across the whole file.
func (p *PatternFixer) fixAttributeTypos(source, message string, changes []string) (string, []string) {
	if m := noAttributeRe.FindStringSubmatch(message); m != nil {
		wrong := m[1]
		if s := didYouMeanRe.FindStringSubmatch(message); s != nil {
			if strings.Contains(source, "."+wrong) {
				source = replaceAttr(source, wrong, s[1])
				changes = append(changes, wrong+" -> "+s[1])
			}
		}
	}

	for _, wrong := range sortedKeys(attrTypos) {
		correct := attrTypos[wrong]
		if !strings.Contains(source, "."+wrong) {
			continue
		}
		replaced := replaceAttr(source, wrong, correct)
		if replaced != source {
			source = replaced
			changes = appendChange(changes, wrong+" -> "+correct)
		}
	}
	return source, changes
}

// fixImportTypos repairs misspelled stdlib module names in import and
// from statements, plus the module's attribute uses.
func (p *PatternFixer) fixImportTypos(source string, changes []string) (string, []string) {
	for _, wrong := range sortedKeys(stdlibModuleTypos) {
		correct := stdlibModuleTypos[wrong]
		importRe := regexp.MustCompile(`\bimport\s+` + wrong + `\b`)
		fromRe := regexp.MustCompile(`\bfrom\s+` + wrong + `\b`)

		changed := false
		if importRe.MatchString(source) {
			source = importRe.ReplaceAllString(source, "import "+correct)
			source = regexp.MustCompile(`\b`+wrong+`\.`).ReplaceAllString(source, correct+".")
			changed = true
		}
		if fromRe.MatchString(source) {
			source = fromRe.ReplaceAllString(source, "from "+correct)
			changed = true
		}
		if changed {
			changes = appendChange(changes, wrong+" -> "+correct)
		}
	}
	return source, changes
}

// fixKeyTypo repairs a dict key: curated table first, then the closest
// key that appears in the file. Only subscript and .get() forms are
// rewritten.
func (p *PatternFixer) fixKeyTypo(source, message string, changes []string) (string, []string) {
	m := keyErrorKeyRe.FindStringSubmatch(message)
	if m == nil {
		return source, changes
	}
	wrong := m[1]

	correct, ok := dictKeyTypos[wrong]
	if !ok {
		correct, ok = closestMatch(wrong, definedKeys(source))
	}
	if !ok || correct == wrong {
		return source, changes
	}

	replaced := replaceKeyAccess(source, wrong, correct)
	if replaced == source {
		return source, changes
	}
	return replaced, append(changes, wrong+" -> "+correct)
}

// replaceWord replaces every word-boundary occurrence of wrong.
func replaceWord(source, wrong, correct string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(wrong) + `\b`)
	return re.ReplaceAllString(source, correct)
}

// replaceAttr replaces every `.wrong` attribute access.
func replaceAttr(source, wrong, correct string) string {
	re := regexp.MustCompile(`\.` + regexp.QuoteMeta(wrong) + `\b`)
	return re.ReplaceAllString(source, "."+correct)
}

// replaceKeyAccess rewrites d['wrong'] / d["wrong"] / d.get('wrong'.
func replaceKeyAccess(source, wrong, correct string) string {
	subscript := regexp.MustCompile(`\[(['"])` + regexp.QuoteMeta(wrong) + `['"]\]`)
	source = subscript.ReplaceAllString(source, fmt.Sprintf(`[${1}%s${1}]`, correct))
	getCall := regexp.MustCompile(`\.get\s*\(\s*(['"])` + regexp.QuoteMeta(wrong) + `['"]`)
	return getCall.ReplaceAllString(source, fmt.Sprintf(`.get(${1}%s${1}`, correct))
}

// definedNames extracts names the file defines: functions, classes,
// module-level assignments, loop variables, and parameters.
func definedNames(source string) []string {
	seen := make(map[string]bool)
	collect := func(re *regexp.Regexp, text string) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = true
		}
	}
	collect(defFuncRe, source)
	collect(defClassRe, source)
	collect(defAssignRe, source)
	collect(defForRe, source)
	for _, m := range defParamsRe.FindAllStringSubmatch(source, -1) {
		collect(paramNameRe, m[1]+")")
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

// definedKeys extracts dict keys that appear in definitions or accesses.
func definedKeys(source string) []string {
	seen := make(map[string]bool)
	for _, m := range dictKeyDefRe.FindAllStringSubmatch(source, -1) {
		seen[m[1]] = true
	}
	for _, m := range dictKeyAccessRe.FindAllStringSubmatch(source, -1) {
		seen[m[1]] = true
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}

// closestMatch returns the candidate most similar to the query when it
// clears the cutoff, mirroring difflib-style close matching.
func closestMatch(query string, candidates []string) (string, bool) {
	sort.Strings(candidates)
	best := ""
	bestRatio := 0.0
	for _, candidate := range candidates {
		if candidate == query {
			continue
		}
		matcher := difflib.NewMatcher(strings.Split(query, ""), strings.Split(candidate, ""))
		if ratio := matcher.Ratio(); ratio > bestRatio {
			bestRatio = ratio
			best = candidate
		}
	}
	if bestRatio >= closeMatchCutoff {
		return best, true
	}
	return "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendChange(changes []string, change string) []string {
	for _, c := range changes {
		if c == change {
			return changes
		}
	}
	return append(changes, change)
}
