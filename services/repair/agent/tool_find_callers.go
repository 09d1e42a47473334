// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/index"
)

// findCallersTool lists the call sites of a function from the index.
type findCallersTool struct {
	index *index.CodeIndex
}

// NewFindCallersTool creates the find_callers tool.
func NewFindCallersTool(idx *index.CodeIndex) Tool {
	return &findCallersTool{index: idx}
}

func (t *findCallersTool) Name() string { return "find_callers" }

func (t *findCallersTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: "find_callers",
			Description: "Find every place a function is called. Use when you need to know " +
				"who depends on a definition before changing it. Returns caller name, file, " +
				"and line per call site.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"name": {
						Type:        "string",
						Description: "Name of the function whose callers to find.",
					},
				},
				Required: []string{"name"},
			},
		},
	}
}

func (t *findCallersTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	name, ok := parseStringParam(params["name"])
	if !ok || name == "" {
		return ErrorResult(ToolErrValidation, "find_callers requires a non-empty 'name'"), nil
	}

	calls := t.index.CallersOf(name)
	if len(calls) == 0 {
		return &ToolResult{
			Success:    true,
			Output:     nil,
			OutputText: fmt.Sprintf("'%s' is not called anywhere in the project (dead code, entry point, or the name does not exist).", name),
		}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d call site(s) of '%s':\n", len(calls), name)
	for i, c := range calls {
		if i >= 20 {
			fmt.Fprintf(&sb, "... and %d more\n", len(calls)-20)
			break
		}
		caller := c.Caller
		if caller == "" {
			caller = "<module>"
		}
		fmt.Fprintf(&sb, "  %s at %s:%d\n", caller, c.File, c.Line)
	}

	return SuccessResult(calls, sb.String()), nil
}
