// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/agent"
	"github.com/AleutianAI/remedy/services/repair/errorid"
)

const (
	// fixTemperature keeps patch generation near-deterministic.
	fixTemperature = 0.3

	// fixMaxTokens bounds the patched-source response.
	fixMaxTokens = 4000

	// maxSnippets caps how many retrieved solutions enter the prompt.
	maxSnippets = 3

	// snippetCharLimit truncates each retrieved solution.
	snippetCharLimit = 500
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*\n(.*?)\n```")
	fencedCodeRe = regexp.MustCompile("(?s)```(?:python)?\\s*\n(.*?)\n```")
)

// FixRequest carries everything the generative fixer may use for one
// attempt.
type FixRequest struct {
	// TargetFile is the project-relative path being patched.
	TargetFile string

	// Source is the current content of TargetFile.
	Source string

	Kind    errorid.Kind
	Message string

	// Report is the investigation outcome, when one ran.
	Report *agent.InvestigationReport

	// Snippets are retrieved prior solutions, most similar first.
	Snippets []string

	// Guidance is strategy-specific instruction text (circular-import
	// remediation, restructured key paths) injected verbatim.
	Guidance string

	// ForceLLM skips the rule tables, used after a rule-based patch
	// failed validation.
	ForceLLM bool
}

// fixResponse is the JSON shape the model is instructed to return.
type fixResponse struct {
	PatchedSource string   `json:"patched_source"`
	Explanation   string   `json:"explanation"`
	Changes       []string `json:"changes"`
}

// CodeFixer generates patches: rule tables first, model fallback.
//
// Thread Safety: safe for concurrent use; all state is per-call.
type CodeFixer struct {
	client  llm.Client
	pattern *PatternFixer
	logger  *slog.Logger
}

// NewCodeFixer creates a fixer backed by the given model client.
func NewCodeFixer(client llm.Client) *CodeFixer {
	return &CodeFixer{
		client:  client,
		pattern: NewPatternFixer(),
		logger:  slog.Default(),
	}
}

// Fix produces a patch for the request.
//
// Description:
//
//	The rule tables run first unless ForceLLM is set; a rule hit skips
//	the model entirely. Otherwise the model is asked for a strict JSON
//	response carrying the complete patched source. Model calls retry
//	on transient failures; a response that defies parsing degrades to
//	the original source with a parse-failure explanation rather than
//	an error, so the orchestrator's validation loop stays in control.
//
// Outputs:
//   - *PatchResult: never nil on nil error; Diff is attached.
func (f *CodeFixer) Fix(ctx context.Context, req FixRequest) (*PatchResult, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("fixer: empty source for %s", req.TargetFile)
	}

	if !req.ForceLLM {
		if result, ok := f.pattern.TryFix(req.Source, req.Kind, req.Message); ok {
			result.TargetFile = req.TargetFile
			result.AttachDiff(req.Source)
			return result, nil
		}
	} else {
		f.logger.Info("rule tables skipped, generating directly", "file", req.TargetFile)
	}

	prompt := buildFixPrompt(req)
	messages := []llm.Message{
		{Role: "system", Content: "You are an expert Python repair assistant. Analyze the error and return the corrected code in the exact JSON format requested."},
		{Role: "user", Content: prompt},
	}

	content, err := llm.Retry(ctx, llm.DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		return f.client.Chat(ctx, messages, llm.GenerationParams{
			Temperature: floatPtr(fixTemperature),
			MaxTokens:   intPtr(fixMaxTokens),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fixer: generating patch for %s: %w", req.TargetFile, err)
	}

	result := parseFixResponse(content, req.Source, f.logger)
	result.TargetFile = req.TargetFile
	result.AttachDiff(req.Source)
	return result, nil
}

// buildFixPrompt assembles the repair prompt: code, error, investigation
// context, retrieved solutions, and the output contract.
func buildFixPrompt(req FixRequest) string {
	var sb strings.Builder

	sb.WriteString("## Broken code (" + req.TargetFile + ")\n```python\n")
	sb.WriteString(req.Source)
	sb.WriteString("\n```\n\n## Error\n```\n")
	fmt.Fprintf(&sb, "%s: %s", req.Kind, req.Message)
	sb.WriteString("\n```\n")

	if r := req.Report; r != nil {
		sb.WriteString("\n## Investigation\n")
		fmt.Fprintf(&sb, "**Summary**: %s\n", r.Summary)
		fmt.Fprintf(&sb, "**Root cause**: %s\n", r.RootCause)
		fmt.Fprintf(&sb, "**Suggested fix**: %s\n", r.SuggestedFix)
		if len(r.Locations) > 0 {
			sb.WriteString("**Relevant locations**:\n")
			for _, loc := range r.Locations {
				fmt.Fprintf(&sb, "- %s:%d `%s`: %s\n", loc.File, loc.Line, loc.Symbol, loc.Reasoning)
				if loc.Snippet != "" {
					fmt.Fprintf(&sb, "  ```python\n  %s\n  ```\n", loc.Snippet)
				}
			}
		}
	}

	if req.Guidance != "" {
		sb.WriteString("\n## Fix guidance (follow this)\n")
		sb.WriteString(req.Guidance)
		sb.WriteString("\n")
	}

	if len(req.Snippets) > 0 {
		sb.WriteString("\n## Prior solutions to similar errors\n")
		for i, snippet := range req.Snippets {
			if i >= maxSnippets {
				break
			}
			if len(snippet) > snippetCharLimit {
				snippet = snippet[:snippetCharLimit] + "..."
			}
			fmt.Fprintf(&sb, "\n### Solution %d\n%s\n", i+1, snippet)
		}
	}

	sb.WriteString(`
## Task
Fix the error and return the COMPLETE corrected file.

Rules:
1. Scan the whole file and fix every occurrence of the same mistake, not only the reported line.
2. Return the complete source, nothing elided.
3. Preserve the existing structure and logic.
4. Never rename public definitions (functions, classes, methods) — other files may import them. Fix the uses, not the definitions.

Return strictly this JSON and nothing else:
` + "```json\n" + `{
  "patched_source": "the complete corrected file content",
  "explanation": "what was wrong and what changed",
  "changes": ["each concrete change"]
}
` + "```\n")

	return sb.String()
}

// parseFixResponse extracts the patch from a model response.
//
// Description:
//
//	Parse chain: fenced json block, then the outermost brace span, then
//	a fenced code block taken as the raw patched source. When all three
//	fail the original source comes back unmodified with an explanation
//	saying so; the validation step will reject it and the loop moves on.
func parseFixResponse(content, original string, logger *slog.Logger) *PatchResult {
	tryJSON := func(raw string) *PatchResult {
		var resp fixResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp.PatchedSource == "" {
			return nil
		}
		return &PatchResult{
			Success:       true,
			PatchedSource: resp.PatchedSource,
			Explanation:   resp.Explanation,
			Changes:       resp.Changes,
		}
	}

	if m := fencedJSONRe.FindStringSubmatch(content); m != nil {
		if result := tryJSON(m[1]); result != nil {
			return result
		}
	}

	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start != -1 && end > start {
		if result := tryJSON(content[start : end+1]); result != nil {
			return result
		}
	}

	if m := fencedCodeRe.FindStringSubmatch(content); m != nil {
		logger.Warn("patch response was not JSON, using fenced code block")
		return &PatchResult{
			Success:       true,
			PatchedSource: m[1],
			Explanation:   "extracted from a non-JSON response; may be incomplete",
		}
	}

	logger.Error("patch response defied parsing, returning source unmodified")
	return &PatchResult{
		Success:       false,
		PatchedSource: original,
		Explanation:   "model response could not be parsed as a patch",
	}
}

func floatPtr(v float32) *float32 { return &v }
func intPtr(v int) *int           { return &v }
