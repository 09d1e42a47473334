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
	"log/slog"
	"regexp"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/index"
)

// Phase is the investigator's state.
type Phase string

const (
	PhaseInit    Phase = "INIT"
	PhaseExplore Phase = "EXPLORE"
	PhaseAnalyze Phase = "ANALYZE"
	PhaseDone    Phase = "DONE"
	PhaseFailed  Phase = "FAILED"
)

// DefaultMaxTurns bounds the investigation loop.
const DefaultMaxTurns = 5

// partialReportConfidence marks reports synthesized from scratchpad
// findings when the model never submitted one.
const partialReportConfidence = 0.3

const systemPrompt = `You are a codebase investigator specializing in Python cross-file errors.

Work in phases: EXPLORE (search symbols, read files, trace callers), then ANALYZE
(synthesize the root cause), then submit via complete_investigation — the only way
to finish. Phase changes go through the set_phase tool.

Every turn shows the scratchpad state (todos, open questions, findings, ruled-out
items). Base your next action on it. Call exactly one tool per turn. Submit as soon
as the information is sufficient.

Report rules:
- summary: at least 10 characters.
- relevant_locations: at least one entry; each has file_path, line, symbol, reasoning.
- For ImportError/ModuleNotFoundError the location is the module file that should be
  imported (e.g. utils.py), never the file where the import statement failed.
- For NameError the location is where the symbol is (or should be) defined.
- For AttributeError the location is the class definition.
- confidence: 0 to 1.`

// Investigator runs the bounded tool-calling loop over a code index.
//
// Thread Safety: an Investigator is not safe for concurrent
// investigations; create one per session.
type Investigator struct {
	client     llm.Client
	registry   *Registry
	compressor *Compressor
	maxTurns   int
	logger     *slog.Logger
}

// InvestigatorOption configures an Investigator.
type InvestigatorOption func(*Investigator)

// WithMaxTurns overrides the turn budget.
func WithMaxTurns(n int) InvestigatorOption {
	return func(inv *Investigator) {
		if n > 0 {
			inv.maxTurns = n
		}
	}
}

// WithCompressor replaces the conversation compressor.
func WithCompressor(c *Compressor) InvestigatorOption {
	return func(inv *Investigator) { inv.compressor = c }
}

// NewInvestigator wires the standard tool set over the given index.
func NewInvestigator(client llm.Client, idx *index.CodeIndex, contextFile string, opts ...InvestigatorOption) *Investigator {
	registry := NewRegistry()
	registry.Register(NewSearchSymbolTool(idx, contextFile))
	registry.Register(NewReadFileTool(idx))
	registry.Register(NewGrepTool(idx))
	registry.Register(NewFindCallersTool(idx))
	registry.Register(NewSetPhaseTool())
	registry.Register(NewCompleteInvestigationTool())

	inv := &Investigator{
		client:     client,
		registry:   registry,
		compressor: NewCompressor(client),
		maxTurns:   DefaultMaxTurns,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// loopState carries one investigation through its turns.
type loopState struct {
	report     *errorid.ErrorReport
	phase      Phase
	turn       int
	scratchpad *Scratchpad
	messages   []llm.ChatMessage
	result     *InvestigationReport
}

// Investigate runs the loop until the model submits a valid report, the
// turn budget runs out, or the model call fails.
//
// Description:
//
//	Each turn: compress the conversation if it has grown past the token
//	threshold, render the error plus scratchpad into a user message,
//	send the full history with the tool schemas, dispatch the tool
//	calls, and apply their results to the scratchpad. complete_investigation
//	with a valid report ends the loop; an invalid one is echoed back as
//	a validation error. On budget exhaustion the model gets one forced
//	"submit now" turn; failing that, a partial report is synthesized
//	from the scratchpad at low confidence.
//
// Outputs:
//   - *InvestigationReport: never nil on nil error.
func (inv *Investigator) Investigate(ctx context.Context, report *errorid.ErrorReport) (*InvestigationReport, error) {
	inv.logger.Info("starting investigation",
		"kind", string(report.Kind),
		"file", report.File,
		"line", report.Line,
	)

	st := inv.initState(report)

	for st.turn < inv.maxTurns && st.phase != PhaseDone && st.phase != PhaseFailed {
		st.turn++
		inv.logger.Info("investigation turn", "turn", st.turn, "max", inv.maxTurns, "phase", string(st.phase))

		var err error
		st.messages, err = inv.compressor.CompressIfNeeded(ctx, st.messages, st.scratchpad)
		if err != nil {
			inv.logger.Warn("conversation compression failed, continuing uncompressed", "error", err)
		}

		st.messages = append(st.messages, llm.ChatMessage{
			Role:    "user",
			Content: inv.buildTurnPrompt(st),
		})

		resp, err := inv.client.ChatWithTools(ctx, st.messages, llm.GenerationParams{}, inv.registry.Definitions())
		if err != nil {
			inv.logger.Error("model call failed", "error", err)
			st.phase = PhaseFailed
			break
		}

		st.messages = append(st.messages, llm.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if err := inv.handleToolCall(ctx, call, st); err != nil {
				return nil, err
			}
			if st.phase == PhaseDone && st.result != nil {
				inv.logger.Info("investigation complete", "turns", st.turn, "confidence", st.result.Confidence)
				st.result.Trace = st.scratchpad.Trace
				return st.result, nil
			}
		}
	}

	if st.phase != PhaseDone {
		inv.logger.Warn("investigation did not complete normally", "phase", string(st.phase), "turns", st.turn)
		return inv.recoveryAttempt(ctx, st)
	}
	if st.result != nil {
		st.result.Trace = st.scratchpad.Trace
		return st.result, nil
	}
	return inv.partialReport(st), nil
}

func (inv *Investigator) initState(report *errorid.ErrorReport) *loopState {
	symbol := extractSymbol(report.Message)
	pad := &Scratchpad{
		Todos: []string{
			fmt.Sprintf("search for '%s'", symbol),
			"confirm the cause of the error",
			"identify every file involved",
		},
		Questions: []string{
			fmt.Sprintf("where is '%s' defined?", symbol),
			"is this a typo or a genuinely missing definition?",
		},
	}
	return &loopState{
		report:     report,
		phase:      PhaseExplore,
		scratchpad: pad,
		messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
		},
	}
}

func (inv *Investigator) buildTurnPrompt(st *loopState) string {
	hint := "Keep exploring; use the tools to gather more evidence."
	if st.phase == PhaseAnalyze {
		hint = "Synthesize the root cause and prepare the report."
	}
	return fmt.Sprintf(`## Turn %d/%d

### Error
- Kind: %s
- Message: %s
- Location: %s:%d

%s

### Current phase
%s — %s

Use one tool. When the information is complete, call complete_investigation.`,
		st.turn, inv.maxTurns,
		st.report.Kind, st.report.Message, st.report.File, st.report.Line,
		st.scratchpad.Render(),
		st.phase, hint,
	)
}

// handleToolCall dispatches one call and applies its effects to the
// loop state.
func (inv *Investigator) handleToolCall(ctx context.Context, call llm.ToolCallResponse, st *loopState) error {
	var params map[string]any
	if err := json.Unmarshal([]byte(call.ArgumentsString()), &params); err != nil {
		params = map[string]any{}
	}

	result, err := inv.registry.Dispatch(ctx, call.Name, params)
	if err != nil {
		return fmt.Errorf("agent: dispatching %s: %w", call.Name, err)
	}

	switch call.Name {
	case "complete_investigation":
		if result.Success {
			st.result = result.Output.(*InvestigationReport)
			st.phase = PhaseDone
		}
		// Validation failures fall through: the echoed error below is
		// the model's cue to resubmit.

	case "set_phase":
		if result.Success {
			change := result.Output.(PhaseChange)
			st.phase = change.Phase
			st.scratchpad.AddTrace(fmt.Sprintf("phase -> %s: %s", change.Phase, change.Reason))
		}

	default:
		st.scratchpad.ApplyToolResult(call.Name, params, result)
	}

	st.messages = append(st.messages, llm.ChatMessage{
		Role:       "tool",
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    result.OutputText,
	})
	return nil
}

// recoveryAttempt gives the model one forced turn to submit, then falls
// back to a synthesized partial report.
func (inv *Investigator) recoveryAttempt(ctx context.Context, st *loopState) (*InvestigationReport, error) {
	if st.phase == PhaseFailed {
		return inv.partialReport(st), nil
	}

	st.messages = append(st.messages, llm.ChatMessage{
		Role: "user",
		Content: fmt.Sprintf(`Turn budget exhausted (%d turns). Call complete_investigation NOW with
whatever you have; note gaps in the summary.

%s`, inv.maxTurns, st.scratchpad.Render()),
	})

	completeTool, _ := inv.registry.Get("complete_investigation")
	resp, err := inv.client.ChatWithTools(ctx, st.messages, llm.GenerationParams{}, []llm.ToolDef{completeTool.Definition()})
	if err == nil {
		for _, call := range resp.ToolCalls {
			if call.Name != "complete_investigation" {
				continue
			}
			if err := inv.handleToolCall(ctx, call, st); err != nil {
				return nil, err
			}
			if st.result != nil {
				st.result.Trace = st.scratchpad.Trace
				return st.result, nil
			}
		}
	} else {
		inv.logger.Error("forced-report turn failed", "error", err)
	}

	return inv.partialReport(st), nil
}

// partialReport synthesizes a low-confidence report from the scratchpad
// so callers always get something actionable.
func (inv *Investigator) partialReport(st *loopState) *InvestigationReport {
	locations := make([]Location, 0, len(st.scratchpad.Findings))
	for _, f := range st.scratchpad.Findings {
		locations = append(locations, Location{
			File:      f.File,
			Line:      f.Line,
			Symbol:    f.Symbol,
			Reasoning: f.Reason,
		})
	}
	if len(locations) == 0 {
		file := st.report.File
		if file == "" {
			file = "unknown"
		}
		locations = append(locations, Location{
			File:      file,
			Line:      st.report.Line,
			Symbol:    "unknown",
			Reasoning: "investigation incomplete; no specific location confirmed",
		})
	}

	return &InvestigationReport{
		Summary: fmt.Sprintf("Investigation incomplete after %d/%d turns; %d finding(s) collected",
			st.turn, inv.maxTurns, len(st.scratchpad.Findings)),
		Locations:    locations,
		RootCause:    "undetermined (investigation timed out or failed)",
		SuggestedFix: "manual review of the listed locations recommended",
		Confidence:   partialReportConfidence,
		Trace:        st.scratchpad.Trace,
	}
}

var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`name '(\w+)'`),
	regexp.MustCompile(`module named '([\w.]+)'`),
	regexp.MustCompile(`attribute '(\w+)'`),
	regexp.MustCompile(`'(\w+)' is not defined`),
	regexp.MustCompile(`cannot import name '(\w+)'`),
}

// extractSymbol pulls the implicated identifier out of an error message.
func extractSymbol(message string) string {
	for _, re := range symbolPatterns {
		if m := re.FindStringSubmatch(message); m != nil {
			return m[1]
		}
	}
	return "unknown"
}
