// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs Python entry points in the user's own
// environment and validates patches by re-execution with rollback.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds one subprocess run.
const DefaultTimeout = 30 * time.Second

// ExecResult is the outcome of one subprocess run.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// Succeeded reports whether the run is a clean pass: exit 0, no
// timeout, and no traceback leaking through a swallowed exception.
func (r *ExecResult) Succeeded() bool {
	if r.ExitCode != 0 || r.TimedOut {
		return false
	}
	stderr := strings.ToLower(r.Stderr)
	for _, marker := range []string{"traceback", "error", "exception"} {
		if strings.Contains(stderr, marker) {
			return false
		}
	}
	return true
}

// LocalExecutor runs entry points with the interpreter already on PATH,
// so the run sees the same environment the user's code normally does.
//
// Thread Safety: safe for concurrent use; runs share no state.
type LocalExecutor struct {
	python  string
	timeout time.Duration
	logger  *slog.Logger
}

// ExecutorOption configures a LocalExecutor.
type ExecutorOption func(*LocalExecutor)

// WithTimeout overrides the per-run timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *LocalExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithPython overrides the interpreter binary.
func WithPython(path string) ExecutorOption {
	return func(e *LocalExecutor) {
		if path != "" {
			e.python = path
		}
	}
}

// NewLocalExecutor creates an executor with a 30s default timeout.
func NewLocalExecutor(opts ...ExecutorOption) *LocalExecutor {
	e := &LocalExecutor{
		python:  "python3",
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes entry with cwd=workdir and PYTHONPATH built from roots.
//
// Description:
//
//	entry may be absolute or relative to workdir. A run that exceeds
//	the timeout comes back with TimedOut set and a synthetic stderr,
//	not an error: a hung program is a result the repair loop reasons
//	about, the same as a traceback. Errors are reserved for failures
//	to start the process at all.
func (e *LocalExecutor) Run(ctx context.Context, entry, workdir string, roots []string) (*ExecResult, error) {
	entryPath := entry
	if !filepath.IsAbs(entryPath) {
		entryPath = filepath.Join(workdir, entry)
	}
	if _, err := os.Stat(entryPath); err != nil {
		return nil, fmt.Errorf("executor: entry %s: %w", entry, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.python, entryPath)
	cmd.Dir = workdir

	paths := make([]string, 0, len(roots)+1)
	seen := map[string]bool{}
	for _, root := range append([]string{workdir}, roots...) {
		if root == "" || seen[root] {
			continue
		}
		seen[root] = true
		paths = append(paths, root)
	}
	cmd.Env = append(os.Environ(), "PYTHONPATH="+strings.Join(paths, string(os.PathListSeparator)))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running entry", "entry", entryPath, "workdir", workdir, "pythonpath", strings.Join(paths, ":"))
	err := cmd.Run()

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		if result.Stderr == "" {
			result.Stderr = fmt.Sprintf("execution timed out after %s", e.timeout)
		}
		e.logger.Warn("run timed out", "entry", entry, "timeout", e.timeout)
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("executor: running %s: %w", entry, err)
		}
	}

	e.logger.Info("run finished", "entry", entry, "exit_code", result.ExitCode)
	return result, nil
}
