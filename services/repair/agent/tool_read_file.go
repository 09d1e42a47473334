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

// readFileTool returns file content with line numbers, confined to the
// project root through the index.
type readFileTool struct {
	index *index.CodeIndex
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(idx *index.CodeIndex) Tool {
	return &readFileTool{index: idx}
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: "read_file",
			Description: "Read a project file (or a line range of it). Returns the content " +
				"with 1-based line numbers. Paths are relative to the project root.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"path": {
						Type:        "string",
						Description: "Project-relative file path, e.g. 'app/core.py'.",
					},
					"start_line": {
						Type:        "integer",
						Description: "First line to include (1-based).",
						Default:     1,
					},
					"end_line": {
						Type:        "integer",
						Description: "Last line to include; omit for end of file.",
					},
				},
				Required: []string{"path"},
			},
		},
	}
}

func (t *readFileTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	path, ok := parseStringParam(params["path"])
	if !ok || path == "" {
		return ErrorResult(ToolErrValidation, "read_file requires a non-empty 'path'"), nil
	}

	content, err := t.index.ReadFile(path)
	if err != nil {
		return ErrorResult(ToolErrNotFound, "cannot read %q: %v", path, err), nil
	}

	lines := strings.Split(string(content), "\n")
	start := 1
	end := len(lines)
	if raw, present := params["start_line"]; present {
		if n, ok := parseIntParam(raw); ok && n >= 1 {
			start = n
		}
	}
	if raw, present := params["end_line"]; present {
		if n, ok := parseIntParam(raw); ok && n >= start {
			end = n
		}
	}
	if start > len(lines) {
		return ErrorResult(ToolErrValidation, "start_line %d beyond end of %q (%d lines)", start, path, len(lines)), nil
	}
	if end > len(lines) {
		end = len(lines)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (lines %d-%d of %d):\n", path, start, end, len(lines))
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%4d | %s\n", i, lines[i-1])
	}

	return SuccessResult(map[string]any{
		"path":       path,
		"start_line": start,
		"end_line":   end,
	}, sb.String()), nil
}
