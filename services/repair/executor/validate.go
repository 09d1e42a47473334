// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AleutianAI/remedy/services/repair/ast"
)

// deletionWarnRatio is the fraction of lines a patch may delete before
// a quality warning is attached.
const deletionWarnRatio = 0.4

var defLineRe = regexp.MustCompile(`(?m)^\s*(?:def|class)\s+\w+`)

// ValidationOutcome is the result of applying a candidate fix and
// re-running the entry point.
type ValidationOutcome struct {
	// Passed is true when the run succeeded and the fixes were kept.
	Passed bool

	Result *ExecResult

	// Warnings are non-blocking quality findings about the patch.
	Warnings []string

	// RolledBack is true when the originals were restored.
	RolledBack bool
}

// backup captures one file's pre-patch state for exact restoration.
type backup struct {
	path    string
	content []byte
	mode    os.FileMode
	existed bool
}

// ApplyAndValidate writes candidate fixes, re-runs the entry point, and
// keeps or rolls back the changes based on the outcome.
//
// Description:
//
//	Every fix is syntax-checked before anything touches disk; one bad
//	file rejects the whole set. Current contents are captured in
//	memory, all fixes are written, and the entry runs. On a failed run
//	every captured file is restored byte-identically (files that did
//	not exist before are removed), so no partial state survives. All
//	paths in fixes are relative to root.
func (e *LocalExecutor) ApplyAndValidate(ctx context.Context, root, entry string, fixes map[string]string, roots []string) (*ValidationOutcome, error) {
	if len(fixes) == 0 {
		return nil, fmt.Errorf("executor: no fixes to apply")
	}

	outcome := &ValidationOutcome{}
	for rel, source := range fixes {
		if err := ast.CheckSyntax(ctx, []byte(source)); err != nil {
			return nil, fmt.Errorf("executor: fix for %s rejected: %w", rel, err)
		}
		if original, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel))); err == nil {
			outcome.Warnings = append(outcome.Warnings, QualityWarnings(rel, string(original), source)...)
		}
	}

	backups := make([]backup, 0, len(fixes))
	for rel := range fixes {
		full := filepath.Join(root, filepath.FromSlash(rel))
		b := backup{path: full}
		if info, err := os.Stat(full); err == nil {
			content, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("executor: backing up %s: %w", rel, err)
			}
			b.content = content
			b.mode = info.Mode()
			b.existed = true
		}
		backups = append(backups, b)
	}

	written := make([]backup, 0, len(backups))
	restore := func() error {
		var firstErr error
		for _, b := range written {
			var err error
			if b.existed {
				err = os.WriteFile(b.path, b.content, b.mode.Perm())
			} else {
				err = os.Remove(b.path)
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range backups {
		rel, _ := filepath.Rel(root, b.path)
		mode := b.mode.Perm()
		if !b.existed {
			mode = 0o644
			if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
				_ = restore()
				return nil, fmt.Errorf("executor: creating directory for %s: %w", rel, err)
			}
		}
		if err := os.WriteFile(b.path, []byte(fixes[filepath.ToSlash(rel)]), mode); err != nil {
			_ = restore()
			return nil, fmt.Errorf("executor: writing %s: %w", rel, err)
		}
		written = append(written, b)
	}

	result, err := e.Run(ctx, entry, root, roots)
	if err != nil {
		if rerr := restore(); rerr != nil {
			e.logger.Error("rollback failed", "error", rerr)
		}
		return nil, err
	}
	outcome.Result = result
	outcome.Passed = result.Succeeded()

	if !outcome.Passed {
		if rerr := restore(); rerr != nil {
			return nil, fmt.Errorf("executor: rollback after failed validation: %w", rerr)
		}
		outcome.RolledBack = true
		e.logger.Info("validation failed, originals restored", "files", len(written))
	}

	return outcome, nil
}

// QualityWarnings flags patches that look destructive: heavy line
// deletion, an emptied file, or a file stripped of all definitions.
// Warnings never block a patch; the re-execution decides.
func QualityWarnings(path, original, patched string) []string {
	var warnings []string

	if strings.TrimSpace(patched) == "" {
		return []string{fmt.Sprintf("%s: patch empties the file", path)}
	}

	originalLines := len(strings.Split(strings.TrimSpace(original), "\n"))
	patchedLines := len(strings.Split(strings.TrimSpace(patched), "\n"))
	if originalLines > 5 && float64(patchedLines) < float64(originalLines)*(1-deletionWarnRatio) {
		warnings = append(warnings,
			fmt.Sprintf("%s: patch deletes over %.0f%% of lines (%d -> %d)", path, deletionWarnRatio*100, originalLines, patchedLines))
	}

	if defLineRe.MatchString(original) && !defLineRe.MatchString(patched) {
		warnings = append(warnings, fmt.Sprintf("%s: patch drops every def/class in the file", path))
	}

	return warnings
}
