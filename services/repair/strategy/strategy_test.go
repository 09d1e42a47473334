// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package strategy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/index"
)

func buildStrategyIndex(t *testing.T, files map[string]string) *index.CodeIndex {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ci := index.NewCodeIndex(root)
	if _, err := ci.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ci
}

func projectFiles() map[string]string {
	return map[string]string{
		"app/core.py": `def process_data(records):
    return records

def add(a, b):
    return a + b

class Calculator:
    def calculate(self, x):
        return x

    def reset(self):
        pass
`,
		"app/main.py": `from app.core import process_data

def run():
    return process_data([])
`,
		"services/authentication.py": `def login():
    pass
`,
		"api.py": `def get_config():
    return {"database": {"host": "localhost", "port": 5432}, "log_level": "info"}
`,
	}
}

func TestRegistry_SharedAndFallback(t *testing.T) {
	r := NewRegistry(nil)

	if r.Get(errorid.KindImportError) != r.Get(errorid.KindModuleNotFound) {
		t.Error("ImportError and ModuleNotFoundError must share one strategy")
	}

	fb := r.Get(errorid.KindValueError)
	if _, ok := fb.Extract("anything at all"); ok {
		t.Error("fallback must never extract")
	}
	if _, ok := fb.FastSearch(context.Background(), nil, nil, ""); ok {
		t.Error("fallback must never produce a candidate")
	}
}

func TestNameError_FastPath(t *testing.T) {
	s := &NameErrorStrategy{}

	fields, ok := s.Extract("name 'proces_data' is not defined")
	if !ok || fields["symbol"] != "proces_data" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok {
		t.Fatal("expected a fast-path hit")
	}
	if cand.Symbol != "process_data" {
		t.Errorf("Symbol = %s", cand.Symbol)
	}
	if cand.File != "app/main.py" {
		t.Errorf("File = %s, the fix targets the file with the bad reference", cand.File)
	}
	if cand.Confidence <= s.ConfidenceThreshold() {
		t.Errorf("Confidence = %f", cand.Confidence)
	}
	if !strings.Contains(cand.Suggestion, "process_data") {
		t.Errorf("Suggestion = %s", cand.Suggestion)
	}
}

func TestNameError_NoShape(t *testing.T) {
	s := &NameErrorStrategy{}
	if _, ok := s.Extract("unsupported operand type(s)"); ok {
		t.Error("Extract must reject non-NameError messages")
	}
}

func TestImportError_ModulePathTypo(t *testing.T) {
	s := &ImportErrorStrategy{}

	fields, ok := s.Extract("No module named 'services.authentification'")
	if !ok || fields["module"] != "services.authentification" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok {
		t.Fatal("expected a module rewrite")
	}
	if cand.Symbol != "services.authentication" {
		t.Errorf("Symbol = %s", cand.Symbol)
	}
	if cand.File != "app/main.py" {
		t.Errorf("File = %s, the import statement is what gets fixed", cand.File)
	}
	if cand.Confidence < s.ConfidenceThreshold() {
		t.Errorf("Confidence = %f", cand.Confidence)
	}
}

func TestImportError_CannotImportNameFromExporter(t *testing.T) {
	s := &ImportErrorStrategy{}

	fields, ok := s.Extract("cannot import name 'proces_data' from 'app.core' (/proj/app/core.py)")
	if !ok || fields["symbol"] != "proces_data" || fields["exporter"] != "app.core" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok {
		t.Fatal("expected the exporter fast case to fire")
	}
	if cand.Symbol != "process_data" || cand.Confidence != 0.95 {
		t.Errorf("candidate = %+v", cand)
	}
	if cand.File != "app/main.py" {
		t.Errorf("File = %s", cand.File)
	}
}

func TestImportError_UnknownModuleMisses(t *testing.T) {
	s := &ImportErrorStrategy{}
	ci := buildStrategyIndex(t, projectFiles())

	fields, _ := s.Extract("No module named 'numpy'")
	if cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py"); ok {
		t.Errorf("third-party module must not match project paths, got %+v", cand)
	}
}

func TestAttributeError_ProjectClass(t *testing.T) {
	s := &AttributeErrorStrategy{}

	fields, ok := s.Extract("'Calculator' object has no attribute 'calculat'")
	if !ok || fields["class"] != "Calculator" || fields["attribute"] != "calculat" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok {
		t.Fatal("expected a method match")
	}
	if cand.Symbol != "calculate" {
		t.Errorf("Symbol = %s", cand.Symbol)
	}
	if cand.Confidence != 0.85 {
		t.Errorf("Confidence = %f, one edit away earns the higher score", cand.Confidence)
	}
}

func TestAttributeError_BuiltinType(t *testing.T) {
	s := &AttributeErrorStrategy{}
	ci := buildStrategyIndex(t, projectFiles())

	fields, _ := s.Extract("'list' object has no attribute 'apend'")
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok || cand.Symbol != "append" {
		t.Fatalf("candidate = %+v ok = %v", cand, ok)
	}
}

func TestAttributeError_NothingClose(t *testing.T) {
	s := &AttributeErrorStrategy{}
	ci := buildStrategyIndex(t, projectFiles())

	fields, _ := s.Extract("'Calculator' object has no attribute 'frobnicate'")
	if cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py"); ok {
		t.Errorf("no method within distance 2, got %+v", cand)
	}
}

func TestTypeError_ArityMismatch(t *testing.T) {
	s := &TypeErrorStrategy{}

	fields, ok := s.Extract("add() takes 2 positional arguments but 3 were given")
	if !ok || fields["function"] != "add" || fields["expected"] != "2" || fields["got"] != "3" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok {
		t.Fatal("expected the signature to resolve")
	}
	if cand.Confidence != 0.9 {
		t.Errorf("Confidence = %f", cand.Confidence)
	}
	if !strings.Contains(cand.Suggestion, "add") || !strings.Contains(cand.Suggestion, "fix the call site") {
		t.Errorf("Suggestion = %s", cand.Suggestion)
	}
}

func TestTypeError_MissingArgument(t *testing.T) {
	s := &TypeErrorStrategy{}

	fields, ok := s.Extract("add() missing 1 required positional argument: 'b'")
	if !ok || fields["missing"] != "1" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok || !strings.Contains(cand.Suggestion, "missing 1 required") {
		t.Fatalf("candidate = %+v ok = %v", cand, ok)
	}
}

func TestKeyError_NestedKeyRewrite(t *testing.T) {
	s := &KeyErrorStrategy{}

	fields, ok := s.Extract("'host'")
	if !ok || fields["key"] != "host" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, projectFiles())
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py")
	if !ok {
		t.Fatal("expected the provenance search to locate the key")
	}
	if !strings.Contains(cand.Suggestion, `["database"]["host"]`) {
		t.Errorf("Suggestion = %s, want the rewritten access path", cand.Suggestion)
	}
	if cand.Confidence < s.ConfidenceThreshold() {
		t.Errorf("Confidence = %f", cand.Confidence)
	}
}

func TestKeyError_UnknownKeyMisses(t *testing.T) {
	s := &KeyErrorStrategy{}
	ci := buildStrategyIndex(t, projectFiles())

	fields, _ := s.Extract("'no_such_key_anywhere'")
	if cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py"); ok {
		t.Errorf("got %+v for a key no mapping produces", cand)
	}
}

func TestCircularImport_RuntimeUseDefersImport(t *testing.T) {
	s := &CircularImportStrategy{}

	message := "cannot import name 'helper' from partially initialized module 'app.b' (most likely due to a circular import)"
	fields, ok := s.Extract(message)
	if !ok || fields["symbol"] != "helper" || fields["module"] != "app.b" {
		t.Fatalf("Extract = %v %v", fields, ok)
	}

	ci := buildStrategyIndex(t, map[string]string{
		"app/a.py": "from app.b import helper\n\ndef alpha():\n    return helper()\n",
		"app/b.py": "from app.a import alpha\n\ndef helper():\n    pass\n",
	})
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/a.py")
	if !ok {
		t.Fatal("expected the cycle to be confirmed")
	}
	if cand.Confidence != 0.95 {
		t.Errorf("Confidence = %f", cand.Confidence)
	}
	if !strings.Contains(cand.Suggestion, "import cycle confirmed") {
		t.Errorf("Suggestion = %s", cand.Suggestion)
	}
	if !strings.Contains(cand.Suggestion, "inside the function") {
		t.Errorf("helper is called at runtime, want deferred-import guidance: %s", cand.Suggestion)
	}
}

func TestCircularImport_TypeOnlyUseGetsAnnotationGuard(t *testing.T) {
	s := &CircularImportStrategy{}

	ci := buildStrategyIndex(t, map[string]string{
		"app/c.py": "from app.d import Widget\n\ndef make(w: Widget) -> None:\n    pass\n",
		"app/d.py": "from app.c import make\n\nclass Widget:\n    pass\n",
	})
	fields, _ := s.Extract("cannot import name 'Widget' from partially initialized module 'app.d'")
	cand, ok := s.FastSearch(context.Background(), fields, ci, "app/c.py")
	if !ok {
		t.Fatal("expected the cycle to be confirmed")
	}
	if !strings.Contains(cand.Suggestion, "TYPE_CHECKING") {
		t.Errorf("Widget appears only in annotations, want the guard suggestion: %s", cand.Suggestion)
	}
}

func TestCircularImport_NoCycleMisses(t *testing.T) {
	s := &CircularImportStrategy{}
	ci := buildStrategyIndex(t, projectFiles())

	fields, _ := s.Extract("cannot import name 'x' from partially initialized module 'app.core'")
	if cand, ok := s.FastSearch(context.Background(), fields, ci, "app/main.py"); ok {
		t.Errorf("acyclic graph must not confirm, got %+v", cand)
	}
}

func TestClearsThreshold_InclusiveAtBoundary(t *testing.T) {
	cases := []struct {
		confidence, threshold float64
		want                  bool
	}{
		{DefaultThreshold, DefaultThreshold, true},
		{ImportThreshold, ImportThreshold, true},
		{0.71, DefaultThreshold, true},
		{0.69, DefaultThreshold, false},
	}
	for _, tc := range cases {
		if got := clearsThreshold(tc.confidence, tc.threshold); got != tc.want {
			t.Errorf("clearsThreshold(%f, %f) = %t, want %t", tc.confidence, tc.threshold, got, tc.want)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"apend", "append", 1},
		{"authentification", "authentication", 2},
	}
	for _, tc := range cases {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
