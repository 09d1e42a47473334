// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleSource = `"""Module docstring."""
import os
import numpy as np
from collections import OrderedDict
from .sibling import helper
from ..pkg import thing

CONSTANT = 42

class Processor:
    def process(self, data, batch_size=10):
        result = transform(data)
        return result

    def summarize(self):
        return {"total": 1, "details": {"count": 2, "mean": 3.0}}

def load_config(path):
    import json
    with open(path) as f:
        return json.load(f)
`

func parseSample(t *testing.T) *ParseResult {
	t.Helper()
	parser := NewPythonParser()
	result, err := parser.Parse(context.Background(), []byte(sampleSource), "pkg/main.py")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return result
}

func TestPythonParser_Symbols(t *testing.T) {
	result := parseSample(t)

	byName := make(map[string]*Symbol)
	for _, sym := range result.Symbols {
		byName[sym.Name] = sym
	}

	tests := []struct {
		name string
		kind SymbolKind
	}{
		{"Processor", SymbolKindClass},
		{"process", SymbolKindMethod},
		{"summarize", SymbolKindMethod},
		{"load_config", SymbolKindFunction},
		{"CONSTANT", SymbolKindVariable},
		{"data", SymbolKindParameter},
		{"batch_size", SymbolKindParameter},
		{"path", SymbolKindParameter},
	}
	for _, tt := range tests {
		sym, ok := byName[tt.name]
		if !ok {
			t.Errorf("symbol %q not extracted", tt.name)
			continue
		}
		if sym.Kind != tt.kind {
			t.Errorf("symbol %q kind = %s, want %s", tt.name, sym.Kind, tt.kind)
		}
	}

	if _, ok := byName["self"]; ok {
		t.Error("self should not be indexed as a parameter")
	}
	if got := byName["process"].Parent; got != "Processor" {
		t.Errorf("process parent = %q, want Processor", got)
	}
	if got := byName["data"].Parent; got != "process" {
		t.Errorf("data parent = %q, want process", got)
	}
}

func TestPythonParser_Imports(t *testing.T) {
	result := parseSample(t)

	byModule := make(map[string]Import)
	for _, imp := range result.Imports {
		byModule[imp.Module] = imp
	}

	if imp, ok := byModule["numpy"]; !ok || imp.Alias != "np" {
		t.Errorf("numpy import missing or alias wrong: %+v", imp)
	}
	if imp, ok := byModule["collections"]; !ok || len(imp.Names) != 1 || imp.Names[0] != "OrderedDict" {
		t.Errorf("collections import wrong: %+v", imp)
	}
	if imp, ok := byModule[".sibling"]; !ok || imp.Level != 1 {
		t.Errorf("relative import .sibling missing or level wrong: %+v", imp)
	}
	if imp, ok := byModule["..pkg"]; !ok || imp.Level != 2 {
		t.Errorf("relative import ..pkg missing or level wrong: %+v", imp)
	}
	// Inline import inside load_config must be visible too.
	if _, ok := byModule["json"]; !ok {
		t.Error("inline import json not extracted")
	}
}

func TestPythonParser_DictReturns(t *testing.T) {
	result := parseSample(t)

	var ret *DictReturn
	for _, dr := range result.DictReturns {
		if dr.Function == "summarize" {
			ret = dr
		}
	}
	if ret == nil {
		t.Fatal("summarize dict return not extracted")
	}
	if !ret.Shape.HasKey("total") {
		t.Error("top-level key total missing")
	}
	nested, ok := ret.Shape.Keys["details"]
	if !ok || nested == nil {
		t.Fatal("nested dict under details missing")
	}
	if !nested.HasKey("count") || !nested.HasKey("mean") {
		t.Errorf("nested keys wrong: %v", nested.TopKeys())
	}
}

func TestPythonParser_Calls(t *testing.T) {
	result := parseSample(t)

	found := false
	for _, call := range result.Calls {
		if call.Callee == "transform" && call.Caller == "process" {
			found = true
		}
	}
	if !found {
		t.Errorf("call transform from process not recorded; calls = %+v", result.Calls)
	}
}

func TestPythonParser_Limits(t *testing.T) {
	parser := NewPythonParser(WithMaxFileSize(8))

	_, err := parser.Parse(context.Background(), []byte("x = 1\ny = 2\n"), "a.py")
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("want ErrFileTooLarge, got %v", err)
	}

	_, err = NewPythonParser().Parse(context.Background(), []byte{0xff, 0xfe, 0x00}, "a.py")
	if err == nil || !strings.Contains(err.Error(), "UTF-8") {
		t.Errorf("want ErrInvalidContent, got %v", err)
	}
}

func TestPythonParser_DocString(t *testing.T) {
	result := parseSample(t)
	if result.DocString != "Module docstring." {
		t.Errorf("docstring = %q", result.DocString)
	}
}

func TestCheckSyntax(t *testing.T) {
	ctx := context.Background()

	if err := CheckSyntax(ctx, []byte("def ok():\n    return 1\n")); err != nil {
		t.Errorf("valid source flagged: %v", err)
	}

	err := CheckSyntax(ctx, []byte("def broken(:\n    return 1\n"))
	if err == nil {
		t.Fatal("invalid source not flagged")
	}
	var synErr *SyntaxError
	if !errors.As(err, &synErr) {
		t.Fatalf("error type = %T, want *SyntaxError", err)
	}
	if synErr.Line < 1 {
		t.Errorf("syntax error line = %d", synErr.Line)
	}
}
