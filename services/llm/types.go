// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the model client used by the investigator and the
// generative fixer: a provider-agnostic Client interface, the Anthropic
// HTTP implementation, and the shared retry/error-classification layer.
package llm

import (
	"context"
	"encoding/json"
)

// Message is a plain conversation turn without tool metadata.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are the optional sampling knobs passed per call.
// Nil pointers mean "provider default".
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// Client is the surface the repair pipeline depends on. The fixer uses
// Chat; the investigator uses ChatWithTools.
//
// Thread Safety: implementations must be safe for concurrent use.
type Client interface {
	// Chat sends plain messages and returns the text response.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatWithTools sends a conversation with tool definitions; the
	// response may contain tool calls, text, or both.
	ChatWithTools(ctx context.Context, messages []ChatMessage,
		params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}

// ToolDef is the provider-agnostic tool definition, following the
// function-calling schema; the Anthropic client converts it to its wire
// format (input_schema).
//
// Thread Safety: ToolDef is immutable and safe for concurrent read access.
type ToolDef struct {
	// Type is always "function".
	Type string `json:"type"`

	Function ToolFunction `json:"function"`
}

// ToolFunction carries the name, description, and parameter schema.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is the JSON Schema for tool parameters.
type ToolParameters struct {
	// Type is always "object".
	Type string `json:"type"`

	Properties map[string]ToolParamDef `json:"properties,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

// ToolParamDef defines a single parameter in JSON Schema format.
type ToolParamDef struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ChatMessage carries tool call metadata on top of a plain message.
//
// Description:
//
//	Regular turns use Role + Content. Tool result turns set ToolCallID
//	(and ToolName). Assistant turns that invoked tools set ToolCalls.
type ChatMessage struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	Content string `json:"content,omitempty"`

	// ToolCalls are the invocations made by an assistant turn.
	ToolCalls []ToolCallResponse `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is the tool that produced a result turn.
	ToolName string `json:"tool_name,omitempty"`
}

// ToolCallResponse is one tool invocation requested by the model.
type ToolCallResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsString returns the arguments as a JSON object string,
// unwrapping a quoted JSON string value when the model produced one.
// Returns "{}" for nil or empty arguments.
func (t *ToolCallResponse) ArgumentsString() string {
	if len(t.Arguments) == 0 {
		return "{}"
	}
	if t.Arguments[0] == '"' {
		var s string
		if err := json.Unmarshal(t.Arguments, &s); err == nil {
			return s
		}
	}
	return string(t.Arguments)
}

// ChatWithToolsResult is the provider-agnostic tool-call response.
type ChatWithToolsResult struct {
	// Content is the text response; may be empty when the model only
	// called tools.
	Content string

	ToolCalls []ToolCallResponse

	// StopReason is "tool_use" when ToolCalls is non-empty, else "end".
	StopReason string
}
