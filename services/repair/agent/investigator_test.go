// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/errorid"
)

// scriptedClient replays a fixed sequence of tool-call responses, one
// per ChatWithTools invocation.
type scriptedClient struct {
	turns   []*llm.ChatWithToolsResult
	call    int
	chatErr error
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	if c.chatErr != nil {
		return "", c.chatErr
	}
	return "summary of the earlier conversation", nil
}

func (c *scriptedClient) ChatWithTools(ctx context.Context, messages []llm.ChatMessage,
	params llm.GenerationParams, tools []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	if c.call >= len(c.turns) {
		return nil, errors.New("scripted client exhausted")
	}
	resp := c.turns[c.call]
	c.call++
	return resp, nil
}

func toolCall(id, name string, args map[string]any) llm.ToolCallResponse {
	raw, _ := json.Marshal(args)
	return llm.ToolCallResponse{ID: id, Name: name, Arguments: raw}
}

func completeCall(id string, confidence float64, locations string) llm.ToolCallResponse {
	return toolCall(id, "complete_investigation", map[string]any{
		"summary":            "proces_data is a typo of process_data defined in app/core.py",
		"relevant_locations": locations,
		"root_cause":         "misspelled function name at the call site",
		"suggested_fix":      "rename the call to process_data",
		"confidence":         confidence,
	})
}

const coreLocations = `[{"file_path": "app/core.py", "line": 1, "symbol": "process_data", "reasoning": "definition"}]`

func nameErrorReport() *errorid.ErrorReport {
	return &errorid.ErrorReport{
		Kind:    errorid.KindNameError,
		Message: "name 'proces_data' is not defined",
		File:    "app/main.py",
		Line:    4,
	}
}

func TestInvestigate_SearchThenComplete(t *testing.T) {
	idx := buildAgentIndex(t, agentFixture)
	client := &scriptedClient{turns: []*llm.ChatWithToolsResult{
		{ToolCalls: []llm.ToolCallResponse{
			toolCall("t1", "search_symbol", map[string]any{"name": "proces_data"}),
		}, StopReason: "tool_use"},
		{ToolCalls: []llm.ToolCallResponse{
			completeCall("t2", 0.9, coreLocations),
		}, StopReason: "tool_use"},
	}}

	inv := NewInvestigator(client, idx, "app/main.py")
	report, err := inv.Investigate(context.Background(), nameErrorReport())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if report.Confidence != 0.9 {
		t.Errorf("Confidence = %v", report.Confidence)
	}
	if len(report.Locations) != 1 || report.Locations[0].File != "app/core.py" {
		t.Errorf("Locations = %v", report.Locations)
	}
	if len(report.Trace) == 0 {
		t.Error("exploration trace should record the search")
	}
	if client.call != 2 {
		t.Errorf("model calls = %d, want 2", client.call)
	}
}

func TestInvestigate_InvalidReportEchoedThenCorrected(t *testing.T) {
	idx := buildAgentIndex(t, agentFixture)
	client := &scriptedClient{turns: []*llm.ChatWithToolsResult{
		// Positive confidence with no locations is rejected.
		{ToolCalls: []llm.ToolCallResponse{
			completeCall("t1", 0.9, `[]`),
		}, StopReason: "tool_use"},
		{ToolCalls: []llm.ToolCallResponse{
			completeCall("t2", 0.9, coreLocations),
		}, StopReason: "tool_use"},
	}}

	inv := NewInvestigator(client, idx, "app/main.py")
	report, err := inv.Investigate(context.Background(), nameErrorReport())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if len(report.Locations) != 1 {
		t.Errorf("Locations = %v", report.Locations)
	}
	if client.call != 2 {
		t.Errorf("model calls = %d, want rejection then resubmission", client.call)
	}
}

func TestInvestigate_AbsentSymbolConcludesWithinBudget(t *testing.T) {
	// The symbol exists nowhere; the definitive "does not exist" search
	// answer is enough to conclude without burning the whole budget.
	idx := buildAgentIndex(t, agentFixture)
	client := &scriptedClient{turns: []*llm.ChatWithToolsResult{
		{ToolCalls: []llm.ToolCallResponse{
			toolCall("t1", "search_symbol", map[string]any{"name": "frobnicate"}),
		}, StopReason: "tool_use"},
		{ToolCalls: []llm.ToolCallResponse{
			toolCall("t2", "complete_investigation", map[string]any{
				"summary":            "frobnicate is not defined anywhere; it must be implemented",
				"relevant_locations": `[{"file_path": "app/main.py", "line": 4, "symbol": "frobnicate", "reasoning": "call site of the missing function"}]`,
				"root_cause":         "the function was never written",
				"suggested_fix":      "implement frobnicate or remove the call",
				"confidence":         0.85,
			}),
		}, StopReason: "tool_use"},
	}}

	inv := NewInvestigator(client, idx, "app/main.py", WithMaxTurns(5))
	report, err := inv.Investigate(context.Background(), &errorid.ErrorReport{
		Kind:    errorid.KindNameError,
		Message: "name 'frobnicate' is not defined",
		File:    "app/main.py",
		Line:    4,
	})
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if client.call != 2 {
		t.Errorf("model calls = %d, want conclusion on turn 2", client.call)
	}
	if report.Confidence != 0.85 {
		t.Errorf("Confidence = %v", report.Confidence)
	}
}

func TestInvestigate_BudgetExhaustionForcesReport(t *testing.T) {
	idx := buildAgentIndex(t, agentFixture)
	exploreTurn := &llm.ChatWithToolsResult{
		ToolCalls: []llm.ToolCallResponse{
			toolCall("t", "grep", map[string]any{"pattern": "proces_data"}),
		},
		StopReason: "tool_use",
	}
	client := &scriptedClient{turns: []*llm.ChatWithToolsResult{
		exploreTurn,
		exploreTurn,
		// Forced turn: the model submits with what it has.
		{ToolCalls: []llm.ToolCallResponse{
			completeCall("tf", 0.6, coreLocations),
		}, StopReason: "tool_use"},
	}}

	inv := NewInvestigator(client, idx, "app/main.py", WithMaxTurns(2))
	report, err := inv.Investigate(context.Background(), nameErrorReport())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if client.call != 3 {
		t.Errorf("model calls = %d, want 2 turns + 1 forced", client.call)
	}
	if report.Confidence != 0.6 {
		t.Errorf("forced report should be used, got confidence %v", report.Confidence)
	}
}

func TestInvestigate_PartialReportWhenModelNeverSubmits(t *testing.T) {
	idx := buildAgentIndex(t, agentFixture)
	searchTurn := &llm.ChatWithToolsResult{
		ToolCalls: []llm.ToolCallResponse{
			toolCall("t", "search_symbol", map[string]any{"name": "proces_data"}),
		},
		StopReason: "tool_use",
	}
	// All turns, including the forced one, keep exploring.
	client := &scriptedClient{turns: []*llm.ChatWithToolsResult{searchTurn, searchTurn, searchTurn}}

	inv := NewInvestigator(client, idx, "app/main.py", WithMaxTurns(2))
	report, err := inv.Investigate(context.Background(), nameErrorReport())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if report.Confidence != partialReportConfidence {
		t.Errorf("Confidence = %v, want low-confidence partial report", report.Confidence)
	}
	// The fuzzy search found process_data, so the synthesized report
	// points at it rather than a placeholder.
	if len(report.Locations) == 0 || report.Locations[0].File != "app/core.py" {
		t.Errorf("Locations = %v", report.Locations)
	}
	if len(report.Trace) == 0 {
		t.Error("partial report should carry the exploration trace")
	}
}

func TestInvestigate_ModelFailureYieldsPlaceholderReport(t *testing.T) {
	idx := buildAgentIndex(t, agentFixture)
	client := &scriptedClient{turns: nil} // first call already errors

	inv := NewInvestigator(client, idx, "app/main.py")
	report, err := inv.Investigate(context.Background(), nameErrorReport())
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if report.Confidence != partialReportConfidence {
		t.Errorf("Confidence = %v", report.Confidence)
	}
	if len(report.Locations) != 1 || report.Locations[0].File != "app/main.py" {
		t.Errorf("placeholder location should fall back to the error site, got %v", report.Locations)
	}
}

func TestInvestigate_UnknownToolContinuesLoop(t *testing.T) {
	idx := buildAgentIndex(t, agentFixture)
	client := &scriptedClient{turns: []*llm.ChatWithToolsResult{
		{ToolCalls: []llm.ToolCallResponse{
			toolCall("t1", "consult_oracle", map[string]any{"question": "why"}),
		}, StopReason: "tool_use"},
		{ToolCalls: []llm.ToolCallResponse{
			completeCall("t2", 0.9, coreLocations),
		}, StopReason: "tool_use"},
	}}

	inv := NewInvestigator(client, idx, "app/main.py")
	report, err := inv.Investigate(context.Background(), nameErrorReport())
	if err != nil {
		t.Fatalf("an unrecognized tool must not abort the loop: %v", err)
	}
	if report.Confidence != 0.9 {
		t.Errorf("Confidence = %v", report.Confidence)
	}
}

func TestExtractSymbol(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"name 'proces_data' is not defined", "proces_data"},
		{"No module named 'app.utls'", "app.utls"},
		{"module 'math' has no attribute 'sqrtt'", "sqrtt"},
		{"cannot import name 'helper' from 'app.core' (/proj/app/core.py)", "helper"},
		{"division by zero", "unknown"},
	}
	for _, tt := range tests {
		if got := extractSymbol(tt.message); got != tt.want {
			t.Errorf("extractSymbol(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestCompressor_BelowTriggerUnchanged(t *testing.T) {
	client := &scriptedClient{}
	c := NewCompressor(client)
	messages := []llm.ChatMessage{
		{Role: "system", Content: "system prompt"},
		{Role: "user", Content: "short question"},
		{Role: "assistant", Content: "short answer"},
	}

	out, err := c.CompressIfNeeded(context.Background(), messages, &Scratchpad{})
	if err != nil {
		t.Fatalf("CompressIfNeeded: %v", err)
	}
	if len(out) != len(messages) {
		t.Errorf("short conversation must pass through unchanged, got %d messages", len(out))
	}
}

func TestCompressor_KeepsSystemAndRecent(t *testing.T) {
	client := &scriptedClient{}
	c := NewCompressor(client).WithMaxTokens(100)

	filler := strings.Repeat("evidence gathered from the project files ", 20)
	messages := []llm.ChatMessage{{Role: "system", Content: "system prompt"}}
	for i := 0; i < 10; i++ {
		messages = append(messages, llm.ChatMessage{Role: "user", Content: fmt.Sprintf("turn %d: %s", i, filler)})
	}
	pad := &Scratchpad{Findings: []Finding{{File: "app/core.py", Line: 1, Symbol: "process_data", Reason: "match"}}}

	out, err := c.CompressIfNeeded(context.Background(), messages, pad)
	if err != nil {
		t.Fatalf("CompressIfNeeded: %v", err)
	}
	if len(out) >= len(messages) {
		t.Fatalf("expected compression, got %d messages from %d", len(out), len(messages))
	}
	if out[0].Role != "system" || out[0].Content != "system prompt" {
		t.Errorf("system prompt must survive compression, got %+v", out[0])
	}
	if out[1].Role != "user" || !strings.Contains(out[1].Content, "app/core.py:1") {
		t.Errorf("summary message must carry the scratchpad, got %q", out[1].Content)
	}
	last := out[len(out)-1]
	if !strings.Contains(last.Content, "turn 9") {
		t.Errorf("most recent message must be preserved verbatim, got %q", last.Content)
	}
}

func TestCompressor_FallbackDigestIsDeterministic(t *testing.T) {
	client := &scriptedClient{chatErr: errors.New("model unavailable")}
	c := NewCompressor(client).WithMaxTokens(100)

	filler := strings.Repeat("tool output lines and more tool output lines ", 20)
	build := func() []llm.ChatMessage {
		msgs := []llm.ChatMessage{{Role: "system", Content: "system prompt"}}
		for i := 0; i < 8; i++ {
			msgs = append(msgs,
				llm.ChatMessage{Role: "tool", ToolName: "grep", Content: filler},
				llm.ChatMessage{Role: "tool", ToolName: "search_symbol", Content: filler},
			)
		}
		return msgs
	}

	first, err := c.CompressIfNeeded(context.Background(), build(), &Scratchpad{})
	if err != nil {
		t.Fatalf("CompressIfNeeded: %v", err)
	}
	second, err := c.CompressIfNeeded(context.Background(), build(), &Scratchpad{})
	if err != nil {
		t.Fatalf("CompressIfNeeded: %v", err)
	}
	if first[1].Content != second[1].Content {
		t.Errorf("fallback digest differs across runs:\n%q\n%q", first[1].Content, second[1].Content)
	}
	if !strings.Contains(first[1].Content, "grep") || !strings.Contains(first[1].Content, "search_symbol") {
		t.Errorf("digest should name the tools used, got %q", first[1].Content)
	}
}
