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
	"regexp"
	"strings"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/index"
)

const grepMaxMatches = 50

// GrepMatch is one matching line.
type GrepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// grepTool scans the indexed Python files for a pattern.
type grepTool struct {
	index *index.CodeIndex
}

// NewGrepTool creates the grep tool.
func NewGrepTool(idx *index.CodeIndex) Tool {
	return &grepTool{index: idx}
}

func (t *grepTool) Name() string { return "grep" }

func (t *grepTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: "grep",
			Description: "Search all project Python files for a text pattern. Returns file, " +
				"line number, and the matching line. Set use_regex=true to search with a " +
				"regular expression instead of a literal substring.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"pattern": {
						Type:        "string",
						Description: "Literal substring or regular expression to search for.",
					},
					"path": {
						Type:        "string",
						Description: "Restrict the search to one file or directory prefix.",
					},
					"use_regex": {
						Type:        "boolean",
						Description: "Treat the pattern as a regular expression.",
						Default:     false,
					},
				},
				Required: []string{"pattern"},
			},
		},
	}
}

func (t *grepTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	pattern, ok := parseStringParam(params["pattern"])
	if !ok || pattern == "" {
		return ErrorResult(ToolErrValidation, "grep requires a non-empty 'pattern'"), nil
	}
	pathFilter := ""
	if raw, present := params["path"]; present {
		pathFilter, _ = parseStringParam(raw)
	}
	useRegex := false
	if raw, present := params["use_regex"]; present {
		if b, ok := parseBoolParam(raw); ok {
			useRegex = b
		}
	}

	var re *regexp.Regexp
	if useRegex {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return ErrorResult(ToolErrParse, "invalid regex %q: %v", pattern, err), nil
		}
		re = compiled
	}

	var matches []GrepMatch
	for _, file := range t.index.Files() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pathFilter != "" && pathFilter != "." && !strings.HasPrefix(file, pathFilter) {
			continue
		}
		content, err := t.index.ReadFile(file)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(content), "\n") {
			hit := false
			if re != nil {
				hit = re.MatchString(line)
			} else {
				hit = strings.Contains(line, pattern)
			}
			if hit {
				matches = append(matches, GrepMatch{File: file, Line: i + 1, Text: strings.TrimSpace(line)})
				if len(matches) >= grepMaxMatches {
					break
				}
			}
		}
		if len(matches) >= grepMaxMatches {
			break
		}
	}

	if len(matches) == 0 {
		return &ToolResult{
			Success:    true,
			Output:     []GrepMatch{},
			OutputText: fmt.Sprintf("No matches for %q in the project.", pattern),
		}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d match(es) for %q:\n", len(matches), pattern)
	for _, m := range matches {
		fmt.Fprintf(&sb, "  %s:%d: %s\n", m.File, m.Line, m.Text)
	}
	if len(matches) >= grepMaxMatches {
		sb.WriteString("(truncated)\n")
	}

	return SuccessResult(matches, sb.String()), nil
}
