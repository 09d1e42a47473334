// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast parses Python source into the symbol, import, call, and
// dict-shape records consumed by the repair index.
//
// Thread Safety:
//
//	All types in this package are plain data. Parsers are safe for
//	concurrent use; each Parse call creates its own tree-sitter instance.
package ast

import (
	"errors"
	"fmt"
)

// SymbolKind classifies an extracted definition.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindParameter SymbolKind = "parameter"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindImport    SymbolKind = "import"
)

// Parsing limits. Parse rejects oversized files outright and logs a
// warning once content crosses WarnFileSize.
const (
	DefaultMaxFileSize = int64(10 * 1024 * 1024)
	WarnFileSize       = 1 * 1024 * 1024

	// MaxInlineImportDepth bounds the recursive walk that collects
	// imports nested inside function bodies and conditional blocks.
	MaxInlineImportDepth = 50

	// MaxCallDepth bounds the recursive walk over function bodies that
	// collects call sites.
	MaxCallDepth = 50
)

// Sentinel errors returned by Parse.
var (
	ErrFileTooLarge   = errors.New("file exceeds maximum size")
	ErrInvalidContent = errors.New("invalid file content")
)

// Symbol is a single extracted definition with position information.
//
// Description:
//
//	Symbols are what the index stores and what fuzzy resolution scores.
//	Parameters of functions and methods are indexed as their own weaker
//	"parameter" symbols because many undefined-name errors are misspelled
//	arguments rather than misspelled definitions.
type Symbol struct {
	// ID is "file:line:name", unique within a parse of one project.
	ID string `json:"id"`

	// Name is the bare identifier.
	Name string `json:"name"`

	// Kind classifies the definition.
	Kind SymbolKind `json:"kind"`

	// File is the project-relative path using forward slashes.
	File string `json:"file"`

	// StartLine and EndLine are 1-based.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Signature is the def/class line for functions, methods and classes.
	Signature string `json:"signature,omitempty"`

	// Parameters holds parameter names for functions and methods.
	Parameters []string `json:"parameters,omitempty"`

	// Parent is the enclosing class name for methods, or the enclosing
	// function name for parameters.
	Parent string `json:"parent,omitempty"`
}

// Import records one import statement.
type Import struct {
	// Module is the dotted module path. For relative imports the leading
	// dots are preserved (".", "..pkg").
	Module string `json:"module"`

	// Names lists the imported names for from-imports ("y", "y as z").
	Names []string `json:"names,omitempty"`

	// Alias is the binding name for "import x as y".
	Alias string `json:"alias,omitempty"`

	// Level counts leading dots; 0 for absolute imports.
	Level int `json:"level"`

	// Wildcard marks "from x import *".
	Wildcard bool `json:"wildcard"`

	Line int `json:"line"`
}

// DictShape describes the structure of a literal dict expression. Values
// that are themselves literal dicts recurse one Shape deeper; everything
// else is recorded as a leaf with its source text.
type DictShape struct {
	// Keys maps each string-literal key to its value shape. A nil value
	// means the key's value is not itself a literal dict.
	Keys map[string]*DictShape `json:"keys"`
}

// HasKey reports whether the shape has the key at its top level.
func (s *DictShape) HasKey(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Keys[key]
	return ok
}

// TopKeys returns the top-level keys in unspecified order.
func (s *DictShape) TopKeys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Keys))
	for k := range s.Keys {
		keys = append(keys, k)
	}
	return keys
}

// DictReturn records a function that returns a literal dict, with the
// shape of that literal. Used for missing-key provenance: when a KeyError
// names a key that used to exist, the producing function's current shape
// tells us where the key went.
type DictReturn struct {
	Function string     `json:"function"`
	File     string     `json:"file"`
	Line     int        `json:"line"`
	Shape    *DictShape `json:"shape"`
}

// Call records one call site inside a function body.
type Call struct {
	// Caller is the enclosing function or method name ("" at module level).
	Caller string `json:"caller"`

	// Callee is the called name; for attribute calls only the final
	// attribute ("obj.foo()" records "foo").
	Callee string `json:"callee"`

	File string `json:"file"`
	Line int    `json:"line"`
}

// ParseResult is everything extracted from one file.
type ParseResult struct {
	FilePath    string        `json:"file_path"`
	ContentHash string        `json:"content_hash"`
	Symbols     []*Symbol     `json:"symbols"`
	Imports     []Import      `json:"imports"`
	DictReturns []*DictReturn `json:"dict_returns"`
	Calls       []Call        `json:"calls"`
	DocString   string        `json:"doc_string,omitempty"`

	// Errors holds non-fatal extraction problems (syntax errors in the
	// source, unparseable constructs). Partial results are still usable.
	Errors []string `json:"errors,omitempty"`
}

// Validate checks structural invariants of the result.
//
// Outputs:
//   - error: Non-nil if any symbol is missing its ID, name, or file.
func (r *ParseResult) Validate() error {
	if r.FilePath == "" {
		return fmt.Errorf("parse result has empty file path")
	}
	for i, sym := range r.Symbols {
		if sym == nil {
			return fmt.Errorf("symbol %d is nil", i)
		}
		if sym.ID == "" || sym.Name == "" || sym.File == "" {
			return fmt.Errorf("symbol %d (%q) missing id, name, or file", i, sym.Name)
		}
	}
	return nil
}

// GenerateID builds the canonical "file:line:name" symbol ID.
func GenerateID(file string, line int, name string) string {
	return fmt.Sprintf("%s:%d:%s", file, line, name)
}
