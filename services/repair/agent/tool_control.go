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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/remedy/services/llm"
)

// PhaseChange is the structured output of set_phase, consumed by the
// investigator loop.
type PhaseChange struct {
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// setPhaseTool validates a phase transition request. The investigator
// applies the transition after dispatch; the tool itself holds no state.
type setPhaseTool struct{}

// NewSetPhaseTool creates the set_phase tool.
func NewSetPhaseTool() Tool { return &setPhaseTool{} }

func (t *setPhaseTool) Name() string { return "set_phase" }

func (t *setPhaseTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: "set_phase",
			Description: "Switch the investigation phase. Move to ANALYZE only once the " +
				"findings are sufficient to explain the error; stay in EXPLORE otherwise.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"phase": {
						Type:        "string",
						Description: "The phase to enter.",
						Enum:        []any{"EXPLORE", "ANALYZE"},
					},
					"reason": {
						Type:        "string",
						Description: "Why the phase is changing now.",
					},
				},
				Required: []string{"phase", "reason"},
			},
		},
	}
}

func (t *setPhaseTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	phaseRaw, _ := parseStringParam(params["phase"])
	reason, _ := parseStringParam(params["reason"])

	var phase Phase
	switch phaseRaw {
	case "EXPLORE":
		phase = PhaseExplore
	case "ANALYZE":
		phase = PhaseAnalyze
	default:
		return ErrorResult(ToolErrValidation, "phase must be EXPLORE or ANALYZE, got %q", phaseRaw), nil
	}
	if reason == "" {
		return ErrorResult(ToolErrValidation, "set_phase requires a 'reason'"), nil
	}

	return SuccessResult(
		PhaseChange{Phase: phase, Reason: reason},
		fmt.Sprintf("Phase set to %s: %s", phase, reason),
	), nil
}

// completeInvestigationTool parses and validates the final report. On a
// validation failure the exact problem is echoed back so the model can
// resubmit a corrected report.
type completeInvestigationTool struct{}

// NewCompleteInvestigationTool creates the complete_investigation tool.
func NewCompleteInvestigationTool() Tool { return &completeInvestigationTool{} }

func (t *completeInvestigationTool) Name() string { return "complete_investigation" }

func (t *completeInvestigationTool) Definition() llm.ToolDef {
	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: "complete_investigation",
			Description: "Submit the final investigation report. This is the only way to " +
				"finish the investigation. For import errors, relevant_locations must point " +
				"at the module that should provide the symbol, not the file where the import " +
				"failed.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"summary": {
						Type:        "string",
						Description: "What was found, at least 10 characters.",
					},
					"relevant_locations": {
						Type: "string",
						Description: "JSON array of locations: " +
							`[{"file_path": "...", "line": 1, "symbol": "...", "reasoning": "...", "code_snippet": "..."}]`,
					},
					"root_cause": {
						Type:        "string",
						Description: "The underlying cause of the error.",
					},
					"suggested_fix": {
						Type:        "string",
						Description: "The concrete change that will fix it.",
					},
					"confidence": {
						Type:        "number",
						Description: "Confidence in the diagnosis, 0 to 1.",
					},
				},
				Required: []string{"summary", "relevant_locations", "root_cause", "suggested_fix", "confidence"},
			},
		},
	}
}

func (t *completeInvestigationTool) Execute(ctx context.Context, params map[string]any) (*ToolResult, error) {
	report := &InvestigationReport{}
	report.Summary, _ = parseStringParam(params["summary"])
	report.RootCause, _ = parseStringParam(params["root_cause"])
	report.SuggestedFix, _ = parseStringParam(params["suggested_fix"])

	switch v := params["confidence"].(type) {
	case float64:
		report.Confidence = v
	case int:
		report.Confidence = float64(v)
	}

	switch locs := params["relevant_locations"].(type) {
	case string:
		if err := json.Unmarshal([]byte(locs), &report.Locations); err != nil {
			return ErrorResult(ToolErrParse, "relevant_locations is not valid JSON: %v", err), nil
		}
	case []any:
		// Some models pass the array inline instead of as a string.
		raw, err := json.Marshal(locs)
		if err != nil {
			return ErrorResult(ToolErrParse, "relevant_locations could not be re-encoded: %v", err), nil
		}
		if err := json.Unmarshal(raw, &report.Locations); err != nil {
			return ErrorResult(ToolErrParse, "relevant_locations entries are malformed: %v", err), nil
		}
	default:
		return ErrorResult(ToolErrValidation, "relevant_locations is required"), nil
	}

	if err := report.Validate(); err != nil {
		return ErrorResult(ToolErrValidation, "report rejected: %v — fix the report and call complete_investigation again", err), nil
	}

	return SuccessResult(report, "Report accepted."), nil
}
