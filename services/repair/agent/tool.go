// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the tool-calling investigator: a bounded
// event loop in which the model explores the code index through a small
// tool set and must end by submitting a structured report.
package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/remedy/services/llm"
)

// ToolErrorType buckets tool failures so the model (and tests) can react
// to the class, not the message text.
type ToolErrorType string

const (
	ToolErrValidation ToolErrorType = "validation"
	ToolErrNotFound   ToolErrorType = "not_found"
	ToolErrPermission ToolErrorType = "permission"
	ToolErrTimeout    ToolErrorType = "timeout"
	ToolErrParse      ToolErrorType = "parse_error"
	ToolErrNetwork    ToolErrorType = "network"
	ToolErrInternal   ToolErrorType = "internal"
	ToolErrUnknown    ToolErrorType = "unknown"
)

// ToolResult is the uniform envelope every tool returns.
type ToolResult struct {
	Success bool `json:"success"`

	// Output is the structured result for assertions and scratchpad
	// updates; OutputText is the rendering sent back to the model.
	Output     any    `json:"output,omitempty"`
	OutputText string `json:"output_text,omitempty"`

	Error     string        `json:"error,omitempty"`
	ErrorType ToolErrorType `json:"error_type,omitempty"`
}

// SuccessResult builds a successful envelope.
func SuccessResult(output any, text string) *ToolResult {
	return &ToolResult{Success: true, Output: output, OutputText: text}
}

// ErrorResult builds a failed envelope.
func ErrorResult(errType ToolErrorType, format string, args ...any) *ToolResult {
	msg := fmt.Sprintf(format, args...)
	return &ToolResult{
		Success:    false,
		OutputText: fmt.Sprintf("[%s] %s", errType, msg),
		Error:      msg,
		ErrorType:  errType,
	}
}

// Tool is one investigator capability.
//
// Thread Safety: implementations must be safe for concurrent use; all
// built-in tools are read-only over the index.
type Tool interface {
	Name() string

	// Definition is the schema advertised to the model.
	Definition() llm.ToolDef

	// Execute runs with the raw argument map decoded from the model's
	// tool call. Argument problems come back as a validation ToolResult,
	// not a Go error; the error return is for infrastructure failures.
	Execute(ctx context.Context, params map[string]any) (*ToolResult, error)
}

// Registry dispatches tool calls by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every tool schema, sorted by name for prompt
// stability.
func (r *Registry) Definitions() []llm.ToolDef {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatch executes the named tool. Unknown names are answered with a
// structured not_found result so the model can correct itself; they are
// never a Go error.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]any) (*ToolResult, error) {
	tool, ok := r.tools[name]
	if !ok {
		return ErrorResult(ToolErrNotFound, "unrecognized tool %q", name), nil
	}
	return tool.Execute(ctx, params)
}

// parseStringParam extracts a string argument.
func parseStringParam(raw any) (string, bool) {
	s, ok := raw.(string)
	return s, ok
}

// parseIntParam extracts an int argument; JSON decoding yields float64.
func parseIntParam(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// parseBoolParam extracts a bool argument.
func parseBoolParam(raw any) (bool, bool) {
	b, ok := raw.(bool)
	return b, ok
}
