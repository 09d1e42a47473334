// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package errorid parses Python tracebacks into structured error reports:
// the error kind and message from the final exception line, and the
// file/line of the deepest project frame.
package errorid

import (
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the Python exception class name driving strategy selection.
type Kind string

const (
	KindNameError      Kind = "NameError"
	KindImportError    Kind = "ImportError"
	KindModuleNotFound Kind = "ModuleNotFoundError"
	KindAttributeError Kind = "AttributeError"
	KindTypeError      Kind = "TypeError"
	KindKeyError       Kind = "KeyError"
	KindValueError     Kind = "ValueError"
	KindIndexError     Kind = "IndexError"
	KindFileNotFound   Kind = "FileNotFoundError"
	KindZeroDivision   Kind = "ZeroDivisionError"
	KindSyntaxError    Kind = "SyntaxError"
	KindUnknown        Kind = "UnknownError"

	// KindCircularImport is derived, not a Python exception class: an
	// ImportError whose message names a partially initialized module or
	// a circular import is promoted so strategy selection can treat it
	// as its own failure class.
	KindCircularImport Kind = "CircularImport"
)

// knownKinds covers bare exception lines that carry no message, like a
// plain "KeyboardInterrupt".
var knownKinds = []Kind{
	KindNameError, KindImportError, KindModuleNotFound, KindAttributeError,
	KindTypeError, KindKeyError, KindValueError, KindIndexError,
	KindFileNotFound, KindZeroDivision, KindSyntaxError,
}

// ErrEmptyTrace is returned when the traceback is empty or whitespace.
var ErrEmptyTrace = errors.New("errorid: traceback is empty")

var (
	// "NameError: name 'x' is not defined"
	exceptionLineRe = regexp.MustCompile(`^(\w+(?:Error|Exception)):\s*(.+)$`)

	// File "main.py", line 10, in main
	frameRe = regexp.MustCompile(`File\s+"([^"]+)",\s+line\s+(\d+)`)

	// ImportError: cannot import name 'helper' from 'pkg.utils' (/abs/pkg/utils.py)
	cannotImportRe = regexp.MustCompile(`cannot import name ['"](\w+)['"] from ['"]([\w.]+)['"] \(([^)]+)\)`)
)

// ErrorReport is the structured view of a single runtime failure.
type ErrorReport struct {
	Kind    Kind
	Message string
	File    string
	Line    int
	Raw     string
}

// Identify parses a Python traceback.
//
// Description:
//
//	The kind and message come from the last line matching
//	"SomeError: message" (scanning bottom-up). The file and line come
//	from the LAST "File ..., line N" frame, which is where the error
//	actually raised. One special case: "cannot import name 'X' from
//	'Y' (path)" reports the exporting module's path with line 1,
//	because the defect lives in the module that failed to export, not
//	at the import statement.
//
// Inputs:
//   - trace: Full traceback text, as captured from stderr.
//   - fileOverride: Optional; when non-empty it wins over the parsed
//     frame (callers that already know the failing file pass it here).
//
// Outputs:
//   - *ErrorReport: Never nil on nil error; Kind is UnknownError when no
//     exception line could be found.
//   - error: ErrEmptyTrace for blank input.
func Identify(trace, fileOverride string) (*ErrorReport, error) {
	trimmed := strings.TrimSpace(trace)
	if trimmed == "" {
		return nil, ErrEmptyTrace
	}

	kind, message := extractKindAndMessage(trimmed)
	file, line := extractFileAndLine(trimmed)
	if fileOverride != "" {
		file = fileOverride
	}

	slog.Info("identified error",
		"kind", string(kind),
		"file", file,
		"line", line,
	)

	return &ErrorReport{
		Kind:    kind,
		Message: message,
		File:    file,
		Line:    line,
		Raw:     trimmed,
	}, nil
}

func extractKindAndMessage(trace string) (Kind, string) {
	lines := strings.Split(trace, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if m := exceptionLineRe.FindStringSubmatch(line); m != nil {
			kind, message := Kind(m[1]), strings.TrimSpace(m[2])
			if kind == KindImportError && isCircularImportMessage(message) {
				kind = KindCircularImport
			}
			return kind, message
		}
		for _, k := range knownKinds {
			if line == string(k) {
				return k, ""
			}
		}
	}

	slog.Warn("no exception line found in traceback")
	last := strings.TrimSpace(lines[len(lines)-1])
	return KindUnknown, last
}

// isCircularImportMessage recognizes the two messages CPython emits for
// import cycles.
func isCircularImportMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "partially initialized module") ||
		strings.Contains(lower, "circular import")
}

func extractFileAndLine(trace string) (string, int) {
	// The error raised at the deepest frame, so the last match wins.
	var file string
	var line int
	for _, m := range frameRe.FindAllStringSubmatch(trace, -1) {
		file = m[1]
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		line = n
	}

	// cannot-import-name points at the module that failed to export;
	// line 1 because the whole file is the search scope.
	if m := cannotImportRe.FindStringSubmatch(trace); m != nil {
		return m[3], 1
	}

	return file, line
}

// CannotImportName extracts the (symbol, module, path) triple from a
// cannot-import-name message, when present.
func CannotImportName(message string) (symbol, module, path string, ok bool) {
	m := cannotImportRe.FindStringSubmatch(message)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// IsCrossFileKind reports whether the kind usually implicates another
// file than the one in the traceback frame.
func IsCrossFileKind(kind Kind) bool {
	switch kind {
	case KindNameError, KindImportError, KindModuleNotFound, KindAttributeError, KindCircularImport:
		return true
	default:
		return false
	}
}
