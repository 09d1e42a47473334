// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fixer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/agent"
	"github.com/AleutianAI/remedy/services/repair/errorid"
)

// chatFunc adapts a function to llm.Client for tests.
type chatFunc func(prompt string) (string, error)

func (f chatFunc) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return f(messages[len(messages)-1].Content)
}

func (f chatFunc) ChatWithTools(ctx context.Context, messages []llm.ChatMessage,
	params llm.GenerationParams, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	panic("not used by the fixer")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCodeFixer_RuleHitSkipsModel(t *testing.T) {
	called := false
	client := chatFunc(func(string) (string, error) {
		called = true
		return "", nil
	})

	fixer := NewCodeFixer(client)
	result, err := fixer.Fix(context.Background(), FixRequest{
		TargetFile: "app/main.py",
		Source:     "for i in raneg(3):\n    print(i)\n",
		Kind:       errorid.KindNameError,
		Message:    "name 'raneg' is not defined",
	})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if called {
		t.Error("rule hit must not reach the model")
	}
	if !result.UsedPatternFixer || !strings.Contains(result.PatchedSource, "range(3)") {
		t.Errorf("result = %+v", result)
	}
	if result.Diff == "" {
		t.Error("Diff must be attached")
	}
}

func TestCodeFixer_ForceLLMSkipsRules(t *testing.T) {
	client := chatFunc(func(string) (string, error) {
		return "```json\n{\"patched_source\": \"for i in range(3):\\n    print(i)\\n\", \"explanation\": \"typo\", \"changes\": [\"raneg -> range\"]}\n```", nil
	})

	fixer := NewCodeFixer(client)
	result, err := fixer.Fix(context.Background(), FixRequest{
		TargetFile: "app/main.py",
		Source:     "for i in raneg(3):\n    print(i)\n",
		Kind:       errorid.KindNameError,
		Message:    "name 'raneg' is not defined",
		ForceLLM:   true,
	})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if result.UsedPatternFixer {
		t.Error("ForceLLM must bypass the rule tables")
	}
	if !strings.Contains(result.PatchedSource, "range(3)") {
		t.Errorf("PatchedSource = %q", result.PatchedSource)
	}
}

func TestCodeFixer_PromptCarriesContext(t *testing.T) {
	var prompt string
	client := chatFunc(func(p string) (string, error) {
		prompt = p
		return `{"patched_source": "x = 1\n", "explanation": "e", "changes": []}`, nil
	})

	fixer := NewCodeFixer(client)
	_, err := fixer.Fix(context.Background(), FixRequest{
		TargetFile: "app/main.py",
		Source:     "x = unknown_thing\n",
		Kind:       errorid.KindNameError,
		Message:    "name 'unknown_thing' is not defined",
		Report: &agent.InvestigationReport{
			Summary:      "the value is computed in app/core.py",
			Locations:    []agent.Location{{File: "app/core.py", Line: 3, Symbol: "compute", Reasoning: "definition"}},
			RootCause:    "missing import",
			SuggestedFix: "import compute from app.core",
			Confidence:   0.9,
		},
		Snippets: []string{"Prior solution: import the symbol explicitly."},
		Guidance: "Move the import inside the function body.",
	})
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}

	for _, want := range []string{
		"app/core.py:3",
		"missing import",
		"Prior solution",
		"Move the import inside the function body.",
		"Never rename public definitions",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseFixResponse(t *testing.T) {
	original := "orig = 1\n"

	tests := []struct {
		name        string
		content     string
		wantSource  string
		wantSuccess bool
	}{
		{
			name:        "fenced json",
			content:     "Here is the fix:\n```json\n{\"patched_source\": \"fixed = 1\\n\", \"explanation\": \"e\", \"changes\": [\"c\"]}\n```",
			wantSource:  "fixed = 1\n",
			wantSuccess: true,
		},
		{
			name:        "bare json",
			content:     `{"patched_source": "fixed = 2\n", "explanation": "e", "changes": []}`,
			wantSource:  "fixed = 2\n",
			wantSuccess: true,
		},
		{
			name:        "json buried in prose",
			content:     `The patch follows. {"patched_source": "fixed = 3\n", "explanation": "e"} Hope it helps.`,
			wantSource:  "fixed = 3\n",
			wantSuccess: true,
		},
		{
			name:        "fenced code fallback",
			content:     "I could not produce JSON but here is the code:\n```python\nfixed = 4\n```",
			wantSource:  "fixed = 4",
			wantSuccess: true,
		},
		{
			name:        "unparseable",
			content:     "I am unable to help with that.",
			wantSource:  original,
			wantSuccess: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseFixResponse(tt.content, original, discardLogger())
			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantSuccess)
			}
			if result.PatchedSource != tt.wantSource {
				t.Errorf("PatchedSource = %q, want %q", result.PatchedSource, tt.wantSource)
			}
		})
	}
}
