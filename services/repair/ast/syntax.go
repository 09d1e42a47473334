// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// SyntaxError describes the first syntax problem found in a source file.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// CheckSyntax parses content without extracting symbols and returns the
// first syntax error, if any.
//
// Description:
//
//	This is the fast pre-filter used before executing a patched file: a
//	patch that does not even parse never reaches a subprocess.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - content: Python source bytes.
//
// Outputs:
//   - error: nil if the source parses cleanly; *SyntaxError for the first
//     ERROR or MISSING node; a wrapped error for parser failures.
//
// Thread Safety: Safe for concurrent use.
func CheckSyntax(ctx context.Context, content []byte) error {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}
	if errNode := findFirstError(root, 0); errNode != nil {
		message := "invalid syntax"
		if errNode.IsMissing() {
			message = fmt.Sprintf("missing %s", errNode.Type())
		}
		return &SyntaxError{
			Line:    int(errNode.StartPoint().Row + 1),
			Column:  int(errNode.StartPoint().Column),
			Message: message,
		}
	}
	return &SyntaxError{Line: 1, Column: 0, Message: "invalid syntax"}
}

// findFirstError locates the shallowest ERROR or MISSING node.
func findFirstError(node *sitter.Node, depth int) *sitter.Node {
	if node == nil || depth > 200 {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := findFirstError(node.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}
