// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/config"
	"github.com/AleutianAI/remedy/services/repair/executor"
	"github.com/AleutianAI/remedy/services/repair/index"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sessionClient replays canned responses: Chat pops chatResponses, and
// ChatWithTools pops toolTurns. A pop past the end is an error, so a
// test that expects zero model traffic just leaves both slices empty.
type sessionClient struct {
	chatResponses []string
	chatCalls     int
	toolTurns     []*llm.ChatWithToolsResult
	toolCalls     int
}

func (c *sessionClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	c.chatCalls++
	if len(c.chatResponses) == 0 {
		return "", errors.New("unexpected Chat call")
	}
	resp := c.chatResponses[0]
	c.chatResponses = c.chatResponses[1:]
	return resp, nil
}

func (c *sessionClient) ChatWithTools(ctx context.Context, messages []llm.ChatMessage,
	params llm.GenerationParams, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	c.toolCalls++
	if len(c.toolTurns) == 0 {
		return nil, errors.New("unexpected ChatWithTools call")
	}
	turn := c.toolTurns[0]
	c.toolTurns = c.toolTurns[1:]
	return turn, nil
}

// patchResponse wraps a full-file patch in the JSON contract the fixer
// expects from the model.
func patchResponse(t *testing.T, patched, explanation string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"patched_source": patched,
		"explanation":    explanation,
		"changes":        []string{explanation},
	})
	if err != nil {
		t.Fatal(err)
	}
	return "```json\n" + string(raw) + "\n```"
}

func buildSessionEnv(t *testing.T, files map[string]string, client llm.Client) (*Session, string) {
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
	idx := index.NewCodeIndex(root)
	if _, err := idx.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := NewSession(root, idx, executor.NewLocalExecutor(), client,
		WithSessionLogger(discardLogger()))
	return s, root
}

func TestRun_EmptyEntry(t *testing.T) {
	s, _ := buildSessionEnv(t, map[string]string{"main.py": "print('ok')\n"}, &sessionClient{})
	if _, err := s.Run(context.Background(), ""); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry", err)
	}
}

func TestRun_CleanEntryNeedsNoRepair(t *testing.T) {
	requirePython(t)
	client := &sessionClient{}
	s, _ := buildSessionEnv(t, map[string]string{"main.py": "print('ok')\n"}, client)

	result, err := s.Run(context.Background(), "main.py")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || result.Attempts != 0 {
		t.Errorf("result = %+v, want success with zero attempts", result)
	}
	if client.chatCalls != 0 || client.toolCalls != 0 {
		t.Errorf("clean run must not touch the model: chat=%d tools=%d", client.chatCalls, client.toolCalls)
	}
}

// A misspelled stdlib import is local and rule-fixable: the whole repair
// runs without a single model call.
func TestRun_StdlibTypoFixedByRulesAlone(t *testing.T) {
	requirePython(t)
	client := &sessionClient{}
	s, _ := buildSessionEnv(t, map[string]string{
		"main.py": "import jsn\n\nprint(jsn.dumps({\"value\": 1}))\n",
	}, client)

	result, err := s.Run(context.Background(), "main.py")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.FinalPatch == nil || !result.FinalPatch.UsedPatternFixer {
		t.Errorf("FinalPatch = %+v, want a rule-based patch", result.FinalPatch)
	}
	if client.chatCalls != 0 || client.toolCalls != 0 {
		t.Errorf("rule-fixable typo must not touch the model: chat=%d tools=%d", client.chatCalls, client.toolCalls)
	}
	if len(result.TouchedFiles) != 1 || result.TouchedFiles[0] != "main.py" {
		t.Errorf("TouchedFiles = %v", result.TouchedFiles)
	}
	if result.OriginalError == nil || !strings.Contains(result.OriginalError.Message, "jsn") {
		t.Errorf("OriginalError = %+v", result.OriginalError)
	}
}

// A name defined verbatim in a sibling file resolves through the
// strategy fast path: the patch needs the model, the investigation
// does not.
func TestRun_SiblingDefinitionSkipsInvestigation(t *testing.T) {
	requirePython(t)
	patched := "from app.core import process_data\n\ndef run():\n    return process_data([])\n\nprint(run())\n"
	client := &sessionClient{
		chatResponses: []string{patchResponse(t, patched, "import process_data from app.core")},
	}
	s, _ := buildSessionEnv(t, map[string]string{
		"app/core.py": "def process_data(records):\n    return records\n",
		"main.py":     "def run():\n    return process_data([])\n\nprint(run())\n",
	}, client)

	result, err := s.Run(context.Background(), "main.py")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if client.toolCalls != 0 {
		t.Errorf("fast path hit must skip the investigator, got %d tool turns", client.toolCalls)
	}
	if client.chatCalls != 1 {
		t.Errorf("chatCalls = %d, want exactly one patch generation", client.chatCalls)
	}
	if result.InvestigationSummary == "" {
		t.Error("fast path candidate should populate the summary")
	}
}

// When no strategy clears its threshold the investigator runs, and its
// report steers the patch at the call site.
func TestRun_FastPathMissFallsBackToInvestigation(t *testing.T) {
	requirePython(t)
	locations := `[{"file_path": "main.py", "line": 4, "symbol": "compute", "reasoning": "the call names a method Calculator does not have"}]`
	investigation, err := json.Marshal(map[string]any{
		"summary":            "Calculator defines calculate, not compute",
		"relevant_locations": locations,
		"root_cause":         "wrong method name at the call site",
		"suggested_fix":      "call calculate instead of compute",
		"confidence":         0.9,
	})
	if err != nil {
		t.Fatal(err)
	}

	patched := "from app.core import Calculator\n\ncalc = Calculator()\nprint(calc.calculate(2))\n"
	client := &sessionClient{
		toolTurns: []*llm.ChatWithToolsResult{{
			ToolCalls: []llm.ToolCallResponse{{
				ID:        "t1",
				Name:      "complete_investigation",
				Arguments: investigation,
			}},
			StopReason: "tool_use",
		}},
		chatResponses: []string{patchResponse(t, patched, "rename compute to calculate")},
	}
	s, _ := buildSessionEnv(t, map[string]string{
		"app/core.py": "class Calculator:\n    def calculate(self, x):\n        return x\n",
		"main.py":     "from app.core import Calculator\n\ncalc = Calculator()\nprint(calc.compute(2))\n",
	}, client)

	result, err := s.Run(context.Background(), "main.py")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v, want success", result)
	}
	if client.toolCalls != 1 {
		t.Errorf("toolCalls = %d, want one investigation turn", client.toolCalls)
	}
	if !strings.Contains(result.InvestigationSummary, "calculate") {
		t.Errorf("InvestigationSummary = %q", result.InvestigationSummary)
	}
}

// Unusable model responses burn attempts without crashing the loop; the
// session gives up at the configured budget with Success false.
func TestRun_UnparseablePatchesExhaustBudget(t *testing.T) {
	requirePython(t)
	client := &sessionClient{
		chatResponses: []string{
			"I cannot produce a patch right now.",
			"Still no patch, sorry.",
		},
	}
	root := t.TempDir()
	files := map[string]string{
		"app/core.py": "def process_data(records):\n    return records\n",
		"main.py":     "def run():\n    return process_data([])\n\nprint(run())\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	idx := index.NewCodeIndex(root)
	if _, err := idx.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.MaxAttempts = 2
	s := NewSession(root, idx, executor.NewLocalExecutor(), client,
		WithConfig(cfg), WithSessionLogger(discardLogger()))

	result, err := s.Run(context.Background(), "main.py")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatal("garbage patches must not count as a repair")
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want the full budget of 2", result.Attempts)
	}
	if result.FinalPatch == nil || result.FinalPatch.Success {
		t.Errorf("FinalPatch = %+v, want the failed last patch", result.FinalPatch)
	}
}

func TestRelToRoot(t *testing.T) {
	s, root := buildSessionEnv(t, map[string]string{"main.py": "print('ok')\n"}, &sessionClient{})
	tests := []struct {
		name string
		file string
		want string
	}{
		{"inside root", filepath.Join(root, "app", "core.py"), "app/core.py"},
		{"outside root", "/usr/lib/python3.11/json/__init__.py", ""},
		{"already relative", "app/core.py", "app/core.py"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.relToRoot(tt.file); got != tt.want {
				t.Errorf("relToRoot(%q) = %q, want %q", tt.file, got, tt.want)
			}
		})
	}
}
