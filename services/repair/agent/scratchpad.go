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
	"fmt"
	"strings"

	"github.com/AleutianAI/remedy/services/repair/index"
)

// Finding is one code location the investigation surfaced.
type Finding struct {
	File   string
	Line   int
	Symbol string
	Reason string
}

// Scratchpad is the investigator's working memory. It is updated by
// code from tool results, never by the model directly, so its contents
// stay trustworthy; the rendered form is injected into every turn.
type Scratchpad struct {
	Todos     []string
	Done      []string
	Questions []string
	Findings  []Finding
	Excluded  []string
	Trace     []string
}

// ApplyToolResult updates the scratchpad deterministically after a tool
// ran: marks matching todos done, appends findings from structured
// outputs, and records the action in the trace.
func (s *Scratchpad) ApplyToolResult(toolName string, params map[string]any, result *ToolResult) {
	switch toolName {
	case "search_symbol":
		name, _ := parseStringParam(params["name"])
		s.markDone("search for '" + name + "'")
		if matches, ok := result.Output.([]index.SymbolMatch); ok {
			if len(matches) == 0 {
				s.Excluded = append(s.Excluded, fmt.Sprintf("'%s' has no definition anywhere in the project", name))
			}
			for _, m := range matches {
				s.Findings = append(s.Findings, Finding{
					File:   m.File,
					Line:   m.Line,
					Symbol: m.Name,
					Reason: fmt.Sprintf("symbol match, confidence %.0f%%", m.Confidence*100),
				})
			}
		}

	case "read_file":
		path, _ := parseStringParam(params["path"])
		s.markDone("read " + path)

	case "find_callers":
		name, _ := parseStringParam(params["name"])
		s.markDone("find callers of '" + name + "'")

	case "grep":
		if matches, ok := result.Output.([]GrepMatch); ok {
			pattern, _ := parseStringParam(params["pattern"])
			if len(matches) == 0 {
				s.Excluded = append(s.Excluded, fmt.Sprintf("pattern %q matches nothing", pattern))
			}
		}
	}

	s.AddTrace(fmt.Sprintf("%s(%v)", toolName, compactParams(params)))
}

// AddTrace appends one action to the exploration trace.
func (s *Scratchpad) AddTrace(action string) {
	s.Trace = append(s.Trace, fmt.Sprintf("[%d] %s", len(s.Trace)+1, action))
}

// markDone moves a todo to done when the completed task mentions it.
func (s *Scratchpad) markDone(task string) {
	for _, todo := range s.Todos {
		if strings.Contains(strings.ToLower(todo), strings.ToLower(task)) && !contains(s.Done, todo) {
			s.Done = append(s.Done, todo)
			return
		}
	}
}

// Render produces the markdown block injected into each turn's prompt.
func (s *Scratchpad) Render() string {
	var sb strings.Builder
	sb.WriteString("## Investigation state\n\n### Todos\n")
	if len(s.Todos) == 0 {
		sb.WriteString("- (none)\n")
	}
	for _, todo := range s.Todos {
		mark := "[ ]"
		if contains(s.Done, todo) {
			mark = "[x]"
		}
		fmt.Fprintf(&sb, "- %s %s\n", mark, todo)
	}

	sb.WriteString("\n### Open questions\n")
	if len(s.Questions) == 0 {
		sb.WriteString("- (none)\n")
	}
	for _, q := range s.Questions {
		fmt.Fprintf(&sb, "- %s\n", q)
	}

	sb.WriteString("\n### Findings\n")
	if len(s.Findings) == 0 {
		sb.WriteString("- (none yet)\n")
	}
	for _, f := range s.Findings {
		fmt.Fprintf(&sb, "- %s:%d `%s`: %s\n", f.File, f.Line, f.Symbol, f.Reason)
	}

	sb.WriteString("\n### Ruled out\n")
	if len(s.Excluded) == 0 {
		sb.WriteString("- (nothing yet)\n")
	}
	for _, e := range s.Excluded {
		fmt.Fprintf(&sb, "- %s\n", e)
	}

	return sb.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func compactParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	// Name first when present, for readable traces.
	for i, p := range parts {
		if strings.HasPrefix(p, "name=") || strings.HasPrefix(p, "path=") || strings.HasPrefix(p, "pattern=") {
			parts[0], parts[i] = parts[i], parts[0]
			break
		}
	}
	return strings.Join(parts, ", ")
}
