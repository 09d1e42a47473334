// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AleutianAI/remedy/services/repair/ast"
	"github.com/AleutianAI/remedy/services/repair/errorid"
)

var (
	missingModuleRe  = regexp.MustCompile(`No module named ['"]?([\w.]+)['"]?`)
	scopeSymbolRes   = []*regexp.Regexp{
		regexp.MustCompile(`name '(\w+)'`),
		regexp.MustCompile(`module named '([\w.]+)'`),
		regexp.MustCompile(`attribute '(\w+)'`),
		regexp.MustCompile(`'(\w+)' is not defined`),
	}
	scopeNoAttrRe  = regexp.MustCompile(`'(\w+)' object has no attribute`)
	moduleNoAttrRe = regexp.MustCompile(`module '[\w.]+' has no attribute`)
)

// stdlibModules are the common standard-library names a missing module
// is checked against before the project is searched.
var stdlibModules = []string{
	"abc", "argparse", "array", "asyncio", "base64", "binascii", "bisect",
	"calendar", "collections", "concurrent", "contextlib", "copy", "csv",
	"ctypes", "dataclasses", "datetime", "email", "enum", "fnmatch",
	"functools", "glob", "gzip", "hashlib", "heapq", "hmac", "html",
	"http", "importlib", "inspect", "io", "itertools", "json", "keyword",
	"linecache", "locale", "logging", "math", "multiprocessing",
	"operator", "os", "pathlib", "pickle", "platform", "pprint",
	"random", "re", "secrets", "shutil", "socket", "sqlite3", "string",
	"struct", "subprocess", "sys", "tarfile", "tempfile", "textwrap",
	"threading", "time", "traceback", "types", "typing", "unittest",
	"urllib", "warnings", "weakref", "xml", "zipfile", "zlib",
}

// builtinContainers are classes whose AttributeError is always a local
// method-name typo.
var builtinContainers = map[string]bool{
	"str": true, "int": true, "float": true, "list": true,
	"dict": true, "set": true, "tuple": true, "bytes": true, "bool": true,
}

// isCrossFile decides whether the failure needs project context or can
// be fixed inside the error file alone.
//
// Description:
//
//	Uses indexed definitions as evidence, kind by kind. Import errors:
//	a dynamically-imported module named as a string literal is local; a
//	near-stdlib name is a local typo; a dotted multi-level path or a
//	known project module is cross-file; an unknown module is
//	conservatively cross-file. Attribute errors: module attributes and
//	builtin containers are local typos; a custom class is cross-file
//	iff it is not defined in the error file. Name errors: a similar
//	local name is a local typo, and a name missing from the whole
//	project is a local logic error; a name defined elsewhere is
//	cross-file.
func (s *Session) isCrossFile(ctx context.Context, report *errorid.ErrorReport, errorFile string) bool {
	source := s.fileSource(errorFile)
	kind := report.Kind
	message := report.Message

	if kind == errorid.KindImportError || kind == errorid.KindModuleNotFound {
		return s.importScope(ctx, message, source)
	}
	if kind == errorid.KindCircularImport {
		return true
	}
	if kind == errorid.KindAttributeError {
		if crossFile, decided := s.attributeScope(report, source); decided {
			return crossFile
		}
	}
	if !errorid.IsCrossFileKind(kind) {
		return false
	}

	symbol := extractScopeSymbol(message)
	if symbol == "" {
		return false
	}
	localNames := s.localDefinitions(errorFile, source)
	if localNames[symbol] {
		return false
	}

	if kind == errorid.KindNameError {
		for name := range localNames {
			if distanceRatio(symbol, name) < s.cfg.LocalNameTypoRatio {
				return false
			}
		}
		// A name that exists nowhere in the project is a logic error in
		// this file, not a missing import.
		if len(s.idx.Lookup(symbol)) == 0 {
			return false
		}
	}
	return true
}

func (s *Session) importScope(ctx context.Context, message, source string) bool {
	m := missingModuleRe.FindStringSubmatch(message)
	if m == nil {
		return true
	}
	fullModule := m[1]

	// importlib.import_module with the module named as a string literal
	// means the string in this file is what needs fixing.
	if strings.Contains(source, "import_module(") {
		if strings.Contains(source, `"`+fullModule+`"`) || strings.Contains(source, "'"+fullModule+"'") {
			return false
		}
	}

	if strings.Contains(fullModule, ".") {
		return true
	}

	for _, stdlib := range stdlibModules {
		if distanceRatio(fullModule, stdlib) < s.cfg.StdlibTypoRatio {
			return false
		}
	}

	if matches := s.idx.SearchModulePath(ctx, fullModule); len(matches) > 0 && matches[0].Similarity > s.cfg.ConfidenceThreshold {
		return true
	}
	if info, err := os.Stat(filepath.Join(s.root, fullModule)); err == nil && info.IsDir() {
		return true
	}

	// Not a stdlib typo and not a known project module: possibly a
	// file that should exist. Investigate.
	return true
}

// attributeScope decides AttributeError scope when the message shape is
// conclusive. decided is false when the generic symbol check should run.
func (s *Session) attributeScope(report *errorid.ErrorReport, source string) (crossFile, decided bool) {
	if moduleNoAttrRe.MatchString(report.Message) {
		return false, true
	}
	m := scopeNoAttrRe.FindStringSubmatch(report.Message)
	if m == nil {
		return false, false
	}
	className := m[1]
	if builtinContainers[className] {
		return false, true
	}
	if strings.Contains(source, "class "+className) {
		return false, true
	}
	return true, true
}

// localDefinitions collects the names defined in the error file, from
// the index when it knows the file and from a cheap line scan when it
// does not (the file may be outside the indexed root).
func (s *Session) localDefinitions(errorFile, source string) map[string]bool {
	names := make(map[string]bool)
	for _, sym := range s.idx.SymbolsInFile(errorFile) {
		if sym.Kind == ast.SymbolKindImport {
			continue
		}
		names[sym.Name] = true
	}
	if len(names) > 0 {
		return names
	}

	defRe := regexp.MustCompile(`(?m)^\s*(?:def|class)\s+(\w+)|^(\w+)\s*=`)
	for _, m := range defRe.FindAllStringSubmatch(source, -1) {
		if m[1] != "" {
			names[m[1]] = true
		}
		if m[2] != "" {
			names[m[2]] = true
		}
	}
	return names
}

func (s *Session) fileSource(errorFile string) string {
	if errorFile == "" {
		return ""
	}
	if data, err := s.idx.ReadFile(errorFile); err == nil {
		return string(data)
	}
	return ""
}

func extractScopeSymbol(message string) string {
	for _, re := range scopeSymbolRes {
		if m := re.FindStringSubmatch(message); m != nil {
			return m[1]
		}
	}
	return ""
}

// distanceRatio is edit distance over the longer length; lower means
// more similar.
func distanceRatio(a, b string) float64 {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 0
	}
	return float64(levenshtein(a, b)) / float64(maxLen)
}

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
