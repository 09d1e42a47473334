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

var noAttrRe = regexp.MustCompile(`'(\w+)' object has no attribute '(\w+)'`)

// maxAttrTypoDist bounds the edit distance for a method name to count
// as a misspelling of the one the code asked for.
const maxAttrTypoDist = 2

// builtinMethods lists the public methods of Python's builtin
// containers, since the index only knows project-defined classes.
var builtinMethods = map[string][]string{
	"str":   {"capitalize", "casefold", "center", "count", "encode", "endswith", "expandtabs", "find", "format", "index", "isalnum", "isalpha", "isdigit", "islower", "isspace", "istitle", "isupper", "join", "ljust", "lower", "lstrip", "partition", "replace", "rfind", "rindex", "rjust", "rsplit", "rstrip", "split", "splitlines", "startswith", "strip", "swapcase", "title", "upper", "zfill"},
	"list":  {"append", "clear", "copy", "count", "extend", "index", "insert", "pop", "remove", "reverse", "sort"},
	"dict":  {"clear", "copy", "fromkeys", "get", "items", "keys", "pop", "popitem", "setdefault", "update", "values"},
	"set":   {"add", "clear", "copy", "difference", "discard", "intersection", "isdisjoint", "issubset", "issuperset", "pop", "remove", "symmetric_difference", "union", "update"},
	"tuple": {"count", "index"},
	"bytes": {"decode", "endswith", "find", "hex", "join", "replace", "split", "startswith", "strip"},
}

// AttributeErrorStrategy resolves misspelled attribute and method names
// against the class's real method set, falling back to builtin-type
// method tables when the class is not project code.
type AttributeErrorStrategy struct{}

func (s *AttributeErrorStrategy) Kind() errorid.Kind { return errorid.KindAttributeError }

func (s *AttributeErrorStrategy) ConfidenceThreshold() float64 { return DefaultThreshold }

func (s *AttributeErrorStrategy) Extract(message string) (Fields, bool) {
	m := noAttrRe.FindStringSubmatch(message)
	if m == nil {
		return nil, false
	}
	return Fields{"class": m[1], "attribute": m[2]}, true
}

func (s *AttributeErrorStrategy) FastSearch(ctx context.Context, fields Fields, idx *index.CodeIndex, errorFile string) (*Candidate, bool) {
	className := fields["class"]
	attrName := fields["attribute"]
	if className == "" || attrName == "" {
		return nil, false
	}

	methods, classFile, classLine := classMethods(idx, className)
	if len(methods) == 0 {
		methods = builtinMethods[className]
		classFile = errorFile
	}
	if len(methods) == 0 {
		return nil, false
	}

	bestDist := maxAttrTypoDist + 1
	var best string
	for _, method := range methods {
		dist := levenshtein(strings.ToLower(attrName), strings.ToLower(method))
		if dist > 0 && dist < bestDist {
			bestDist = dist
			best = method
		}
	}
	if best == "" {
		return nil, false
	}

	confidence := 0.75
	if bestDist <= 1 {
		confidence = 0.85
	}
	return &Candidate{
		Symbol:     best,
		File:       errorFile,
		Line:       classLine,
		Confidence: confidence,
		Suggestion: fmt.Sprintf("'%s' has no attribute '%s'; '%s' exists (defined near %s) and is likely what was meant",
			className, attrName, best, classFile),
	}, true
}

// classMethods lists the methods a project class defines, with the
// class's file and line for the suggestion.
func classMethods(idx *index.CodeIndex, className string) ([]string, string, int) {
	classes := idx.LookupClass(className)
	if len(classes) == 0 {
		return nil, "", 0
	}
	cls := classes[0]

	var methods []string
	for _, sym := range idx.SymbolsInFile(cls.File) {
		if sym.Kind == ast.SymbolKindMethod && sym.Parent == className {
			methods = append(methods, sym.Name)
		}
	}
	return methods, cls.File, cls.Line
}
