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

// searchSymbolTool searches the code index for definitions, exact first
// and fuzzy when asked.
type searchSymbolTool struct {
	index *index.CodeIndex

	// contextFile anchors the fuzzy reachability score to the failing
	// file, when known.
	contextFile string
}

// NewSearchSymbolTool creates the search_symbol tool.
func NewSearchSymbolTool(idx *index.CodeIndex, contextFile string) Tool {
	return &searchSymbolTool{index: idx, contextFile: contextFile}
}

func (t *searchSymbolTool) Name() string { return "search_symbol" }

func (t *searchSymbolTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: "search_symbol",
			Description: "Search the project for a function, class, or variable definition. " +
				"With fuzzy=true (the default) close misspellings also match, each with a " +
				"confidence score. Returns name, file, line, and confidence per match.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"name": {
						Type:        "string",
						Description: "Symbol name to search for (function, class, or variable).",
					},
					"fuzzy": {
						Type:        "boolean",
						Description: "Allow close misspellings to match.",
						Default:     true,
					},
				},
				Required: []string{"name"},
			},
		},
	}
}

func (t *searchSymbolTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	name, ok := parseStringParam(params["name"])
	if !ok || name == "" {
		return ErrorResult(ToolErrValidation, "search_symbol requires a non-empty 'name'"), nil
	}
	fuzzy := true
	if raw, present := params["fuzzy"]; present {
		if b, ok := parseBoolParam(raw); ok {
			fuzzy = b
		}
	}

	matches := t.index.Lookup(name)
	if len(matches) == 0 && fuzzy {
		matches = t.index.FuzzyResolve(ctx, name, t.contextFile)
	}

	if len(matches) == 0 {
		return &ToolResult{
			Success:    true,
			Output:     []index.SymbolMatch{},
			OutputText: fmt.Sprintf("No definition of '%s' found anywhere in the project (exact or fuzzy). The index covers every Python file; the symbol does not exist.", name),
		}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d match(es) for '%s':\n", len(matches), name)
	for i, m := range matches {
		if i >= 10 {
			fmt.Fprintf(&sb, "... and %d more\n", len(matches)-10)
			break
		}
		fmt.Fprintf(&sb, "  %s (%s) at %s:%d, confidence %.2f\n",
			m.Name, m.Category, m.File, m.Line, m.Confidence)
	}

	return SuccessResult(matches, sb.String()), nil
}
