// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs a full repair session: execute the entry,
// identify the failure, decide its scope, resolve it through the fast
// path or the investigation agent, then patch and re-verify until the
// program runs or the loop guards call it off.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/remedy/services/llm"
	"github.com/AleutianAI/remedy/services/repair/agent"
	"github.com/AleutianAI/remedy/services/repair/config"
	"github.com/AleutianAI/remedy/services/repair/errorid"
	"github.com/AleutianAI/remedy/services/repair/executor"
	"github.com/AleutianAI/remedy/services/repair/fixer"
	"github.com/AleutianAI/remedy/services/repair/index"
	"github.com/AleutianAI/remedy/services/repair/knowledge"
	"github.com/AleutianAI/remedy/services/repair/loop"
	"github.com/AleutianAI/remedy/services/repair/strategy"
)

// ErrNoEntry is returned when Run is called with an empty entry path.
var ErrNoEntry = errors.New("orchestrator: entry script must not be empty")

// escalatedLayer is the investigation layer recorded once the session
// has been forced onto the generative path.
const escalatedLayer = 3

// SnippetSearcher is the slice of the knowledge retriever the session
// needs. Nil means no retrieval.
type SnippetSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Document, error)
}

// SessionResult is the outcome of one repair session.
type SessionResult struct {
	SessionID     string               `json:"session_id"`
	Success       bool                 `json:"success"`
	OriginalError *errorid.ErrorReport `json:"original_error,omitempty"`
	FinalPatch    *fixer.PatchResult   `json:"final_patch,omitempty"`
	Attempts      int                  `json:"attempts"`

	// InvestigationSummary is the report summary the final patch was
	// built from, fast path or agent.
	InvestigationSummary string `json:"investigation_summary,omitempty"`

	// TouchedFiles lists every file a validated fix set wrote.
	TouchedFiles []string `json:"touched_files,omitempty"`
}

// Session drives one repair run over a project.
type Session struct {
	root      string
	idx       *index.CodeIndex
	exec      *executor.LocalExecutor
	client    llm.Client
	registry  *strategy.Registry
	fixer     *fixer.CodeFixer
	detector  *loop.Detector
	policy    *loop.Policy
	retriever SnippetSearcher
	cfg       config.Config
	logger    *slog.Logger
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithConfig replaces the default thresholds.
func WithConfig(cfg config.Config) SessionOption {
	return func(s *Session) { s.cfg = cfg }
}

// WithRetriever enables solved-problem retrieval for fix prompts.
func WithRetriever(r SnippetSearcher) SessionOption {
	return func(s *Session) { s.retriever = r }
}

// WithSessionLogger replaces the default logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession wires a session over an already-built index.
func NewSession(root string, idx *index.CodeIndex, exec *executor.LocalExecutor, client llm.Client, opts ...SessionOption) *Session {
	s := &Session{
		root:     root,
		idx:      idx,
		exec:     exec,
		client:   client,
		detector: loop.NewDetector(),
		policy:   loop.NewPolicy(),
		cfg:      config.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = strategy.NewRegistry(s.logger)
	s.fixer = fixer.NewCodeFixer(client)
	return s
}

// Run executes the repair session for one entry script.
//
// Description:
//
//	Runs the entry; a clean exit ends the session with zero attempts.
//	Otherwise the failure is identified, scoped, and resolved: local
//	failures go straight to the patch loop against the error file,
//	cross-file failures try each strategy's fast path first and fall
//	back to the investigation agent. The patch loop accumulates fixes
//	across attempts (later attempts build on earlier multi-file fixes),
//	records every attempt with the loop detector and retry policy, and
//	escalates to the generative fixer once rule-based patches fail.
//
// Inputs:
//   - ctx: Bounds every model call and subprocess underneath.
//   - entry: Project-relative path of the script to run and verify.
//
// Outputs:
//   - *SessionResult: Always non-nil when error is nil.
//   - error: Infrastructure failures only; a failed repair is a result
//     with Success false.
//
// Thread Safety: A Session is single-use and not safe for concurrent
// Run calls.
func (s *Session) Run(ctx context.Context, entry string) (*SessionResult, error) {
	if entry == "" {
		return nil, ErrNoEntry
	}
	result := &SessionResult{SessionID: uuid.NewString()}
	s.detector.Reset()
	s.policy.Reset()

	execResult, err := s.exec.Run(ctx, entry, s.root, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: initial run: %w", err)
	}
	if execResult.Succeeded() {
		s.logger.Info("entry runs clean, nothing to repair", "entry", entry)
		result.Success = true
		return result, nil
	}

	report, err := errorid.Identify(execResult.Stderr, "")
	if err != nil {
		return nil, fmt.Errorf("orchestrator: identify: %w", err)
	}
	result.OriginalError = report
	errorFile := s.relToRoot(report.File)
	if errorFile == "" {
		errorFile = entry
	}
	s.logger.Info("failure identified",
		slog.String("kind", string(report.Kind)),
		slog.String("message", report.Message),
		slog.String("file", errorFile))

	crossFile := s.isCrossFile(ctx, report, errorFile)
	s.logger.Info("scope decided", "cross_file", crossFile)

	if !crossFile {
		invReport := s.localReport(report, errorFile)
		done, rerr := s.patchLoop(ctx, entry, report, invReport, errorFile, result)
		if rerr != nil {
			return nil, rerr
		}
		if done {
			return result, nil
		}
		// Local repair exhausted; the cross-file path is the fallback.
		s.logger.Info("single-file repair failed, widening to cross-file")
		s.detector.Reset()
		s.policy.Reset()
	}

	invReport := s.resolve(ctx, report, errorFile)
	result.InvestigationSummary = invReport.Summary

	if len(invReport.Locations) > 0 && invReport.Locations[0].File != "" {
		errorFile = invReport.Locations[0].File
	}
	if _, rerr := s.patchLoop(ctx, entry, report, invReport, errorFile, result); rerr != nil {
		return nil, rerr
	}
	return result, nil
}

// resolve produces an investigation report: strategy fast path first,
// full agent when nothing clears the threshold.
func (s *Session) resolve(ctx context.Context, report *errorid.ErrorReport, errorFile string) *agent.InvestigationReport {
	strat := s.registry.Get(report.Kind)
	if fields, ok := strat.Extract(report.Message); ok {
		if cand, hit := strat.FastSearch(ctx, fields, s.idx, errorFile); hit && cand.Confidence >= strat.ConfidenceThreshold() {
			s.logger.Info("fast path resolved",
				slog.String("kind", string(report.Kind)),
				slog.String("symbol", cand.Symbol),
				slog.Float64("confidence", cand.Confidence))
			return reportFromCandidate(report, cand)
		}
	}

	s.logger.Info("fast path missed, starting investigation")
	inv := agent.NewInvestigator(s.client, s.idx, errorFile,
		agent.WithMaxTurns(s.cfg.MaxInvestigationTurns))
	invReport, err := inv.Investigate(ctx, report)
	if err != nil || invReport == nil {
		s.logger.Warn("investigation failed, falling back to the error site", "error", err)
		return s.localReport(report, errorFile)
	}
	return invReport
}

// patchLoop generates, applies, and verifies fixes until one sticks or
// the guards stop it. Returns done=true when the program runs clean.
func (s *Session) patchLoop(ctx context.Context, entry string, report *errorid.ErrorReport, invReport *agent.InvestigationReport, targetFile string, result *SessionResult) (bool, error) {
	accumulated := make(map[string]string)
	snippets := s.searchSnippets(ctx, report)
	currentReport := report
	currentInv := invReport
	forceLLM := false
	var lastPatch *fixer.PatchResult

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		result.Attempts++

		check := s.detector.Check("")
		switch check.Action {
		case loop.ActionAbort:
			s.logger.Warn("loop detector aborting session", "reason", check.Reason)
			result.FinalPatch = lastPatch
			return false, nil
		case loop.ActionEscalate, loop.ActionSwitchStrategy:
			s.logger.Info("loop detector forcing generative path", "reason", check.Reason)
			forceLLM = true
		}

		source := s.currentSource(targetFile, accumulated)
		patch, err := s.fixer.Fix(ctx, fixer.FixRequest{
			TargetFile: targetFile,
			Source:     source,
			Kind:       currentReport.Kind,
			Message:    currentReport.Message,
			Report:     currentInv,
			Snippets:   snippets,
			Guidance:   currentInv.SuggestedFix,
			ForceLLM:   forceLLM,
		})
		if err != nil {
			return false, fmt.Errorf("orchestrator: fix attempt %d: %w", attempt, err)
		}
		lastPatch = patch
		for file, content := range patch.Files() {
			accumulated[file] = content
		}
		if !patch.Success || len(accumulated) == 0 {
			s.recordAttempt(patch, currentReport, currentReport.Message, forceLLM, false)
			forceLLM = true
			continue
		}

		outcome, err := s.exec.ApplyAndValidate(ctx, s.root, entry, accumulated, nil)
		if err != nil {
			return false, fmt.Errorf("orchestrator: validate attempt %d: %w", attempt, err)
		}
		if outcome.Passed {
			s.recordAttempt(patch, currentReport, currentReport.Message, forceLLM, true)
			result.Success = true
			result.FinalPatch = patch
			result.TouchedFiles = sortedKeys(accumulated)
			if result.InvestigationSummary == "" {
				result.InvestigationSummary = currentInv.Summary
			}
			s.markDirty(accumulated)
			s.logger.Info("repair verified",
				slog.Int("attempt", attempt),
				slog.Int("files", len(accumulated)))
			return true, nil
		}

		failureMessage := currentReport.Message
		if outcome.Result != nil && outcome.Result.Stderr != "" {
			failureMessage = outcome.Result.Stderr
		}
		s.recordAttempt(patch, currentReport, failureMessage, forceLLM, false)
		if patch.UsedPatternFixer {
			// A rule fix that did not verify will not improve on retry.
			forceLLM = true
		}
		s.logger.Warn("fix did not verify",
			slog.Int("attempt", attempt),
			slog.Bool("rolled_back", outcome.RolledBack))

		// A different failure after the patch means progress: rebase the
		// session on the new error.
		if outcome.Result != nil && outcome.Result.Stderr != "" {
			if next, ierr := errorid.Identify(outcome.Result.Stderr, ""); ierr == nil {
				nextFile := s.relToRoot(next.File)
				if nextFile != "" && nextFile != s.relToRoot(currentReport.File) {
					s.logger.Info("new failure surfaced",
						slog.String("kind", string(next.Kind)),
						slog.String("file", nextFile))
					currentReport = next
					targetFile = nextFile
					s.detector.Reset()
					s.policy.Reset()
					forceLLM = false
					currentInv = s.resolve(ctx, next, nextFile)
				}
			}
		}
	}

	result.FinalPatch = lastPatch
	return false, nil
}

func (s *Session) recordAttempt(patch *fixer.PatchResult, report *errorid.ErrorReport, message string, forceLLM, success bool) {
	layer := 1
	if forceLLM {
		layer = escalatedLayer
	}
	s.detector.Record(patch.PatchedSource, report.Kind, message, layer, success)

	approach := loop.ApproachLLMFix
	if patch.UsedPatternFixer {
		approach = loop.ApproachPatternFix
	}
	if !success {
		s.policy.RecordFailure(report.Kind, approach)
	}
}

// localReport frames a single-file failure as a one-location report so
// the fixer sees the same shape either way.
func (s *Session) localReport(report *errorid.ErrorReport, errorFile string) *agent.InvestigationReport {
	return &agent.InvestigationReport{
		Summary: fmt.Sprintf("%s in %s: %s", report.Kind, errorFile, report.Message),
		Locations: []agent.Location{{
			File:      errorFile,
			Line:      report.Line,
			Reasoning: "the failure and its fix are in the same file",
		}},
		RootCause:  fmt.Sprintf("%s: %s", report.Kind, report.Message),
		Confidence: 1.0,
	}
}

func reportFromCandidate(report *errorid.ErrorReport, cand *strategy.Candidate) *agent.InvestigationReport {
	return &agent.InvestigationReport{
		Summary: cand.Suggestion,
		Locations: []agent.Location{{
			File:      cand.File,
			Line:      cand.Line,
			Symbol:    cand.Symbol,
			Reasoning: cand.Suggestion,
		}},
		RootCause:    fmt.Sprintf("%s: %s", report.Kind, report.Message),
		SuggestedFix: cand.Suggestion,
		Confidence:   cand.Confidence,
	}
}

func (s *Session) searchSnippets(ctx context.Context, report *errorid.ErrorReport) []string {
	if s.retriever == nil {
		return nil
	}
	query := fmt.Sprintf("%s: %s", report.Kind, report.Message)
	docs, err := s.retriever.Search(ctx, query, s.cfg.SnippetTopK)
	if err != nil {
		s.logger.Warn("snippet retrieval failed", "error", err)
		return nil
	}
	return knowledge.Snippets(docs)
}

// currentSource prefers the accumulated (already patched) content so
// later attempts build on earlier fixes.
func (s *Session) currentSource(targetFile string, accumulated map[string]string) string {
	if content, ok := accumulated[targetFile]; ok {
		return content
	}
	if data, err := s.idx.ReadFile(targetFile); err == nil {
		return string(data)
	}
	return ""
}

// markDirty queues successfully patched files for index refresh.
func (s *Session) markDirty(fixes map[string]string) {
	for file := range fixes {
		s.idx.MarkDirty(file)
	}
}

// relToRoot maps a traceback path onto the project root. Paths outside
// the root (interpreter internals, site-packages) come back empty.
func (s *Session) relToRoot(file string) string {
	if file == "" {
		return ""
	}
	if !filepath.IsAbs(file) {
		return filepath.ToSlash(file)
	}
	rel, err := filepath.Rel(s.root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
