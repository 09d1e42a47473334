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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonParserOption configures a PythonParser instance.
type PythonParserOption func(*PythonParser)

// WithMaxFileSize sets the maximum file size the parser will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Must be positive.
func WithMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// PythonParser extracts symbols, imports, call sites, and literal-dict
// return shapes from Python source.
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser instance.
type PythonParser struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewPythonParser creates a new PythonParser with the given options.
//
// Outputs:
//   - *PythonParser: Configured parser instance, never nil.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts definitions from Python source code.
//
// Description:
//
//	Parse is error-tolerant: syntactically invalid source still yields as
//	many symbols as the tree allows, with the problem recorded in
//	result.Errors rather than failing the call.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing;
//     tree-sitter itself cannot be interrupted mid-parse.
//   - content: Raw Python source bytes. Must be valid UTF-8.
//   - filePath: Project-relative path with forward slashes, used for
//     symbol IDs and error attribution.
//
// Outputs:
//   - *ParseResult: Extracted symbols and metadata. Never nil on success.
//   - error: ErrFileTooLarge, ErrInvalidContent, context errors, or a
//     wrapped tree-sitter failure.
//
// Thread Safety: Safe for concurrent use.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	hash := sha256.Sum256(content)

	// New parser instance per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	result := &ParseResult{
		FilePath:    filePath,
		ContentHash: hex.EncodeToString(hash[:]),
		Symbols:     make([]*Symbol, 0),
		Imports:     make([]Import, 0),
		DictReturns: make([]*DictReturn, 0),
		Calls:       make([]Call, 0),
	}

	root := tree.RootNode()
	if root == nil {
		result.Errors = append(result.Errors, "tree-sitter returned nil root node")
		return result, nil
	}
	if root.HasError() {
		result.Errors = append(result.Errors, "source contains syntax errors")
	}

	result.DocString = p.extractModuleDocstring(root, content)
	p.extractImportsRecursive(root, content, filePath, result, 0)
	p.extractTopLevel(root, content, filePath, result)

	if err := result.Validate(); err != nil {
		recordParseMetrics(ctx, time.Since(start), 0, false)
		return nil, fmt.Errorf("result validation failed: %w", err)
	}

	setParseSpanResult(span, len(result.Symbols), len(result.Errors))
	recordParseMetrics(ctx, time.Since(start), len(result.Symbols), true)
	return result, nil
}

// Language returns the canonical language name for this parser.
func (p *PythonParser) Language() string {
	return "python"
}

// Extensions returns the file extensions this parser handles.
func (p *PythonParser) Extensions() []string {
	return []string{".py", ".pyi"}
}

// extractModuleDocstring returns the module-level docstring if present.
func (p *PythonParser) extractModuleDocstring(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() == "expression_statement" && child.ChildCount() > 0 {
			strNode := child.Child(0)
			if strNode.Type() == "string" {
				return extractStringContent(strNode, content)
			}
		}
		if child.Type() != "comment" {
			return ""
		}
	}
	return ""
}

// extractImportsRecursive walks the whole tree so that inline imports
// inside function bodies (common for breaking circular dependencies) are
// visible to the import graph.
func (p *PythonParser) extractImportsRecursive(node *sitter.Node, content []byte, filePath string, result *ParseResult, depth int) {
	if node == nil || depth > MaxInlineImportDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "import_statement":
			p.processImportStatement(child, content, filePath, result)
		case "import_from_statement":
			p.processImportFromStatement(child, content, filePath, result)
		default:
			p.extractImportsRecursive(child, content, filePath, result, depth+1)
		}
	}
}

// processImportStatement handles 'import foo' and 'import foo as bar'.
func (p *PythonParser) processImportStatement(node *sitter.Node, content []byte, filePath string, result *ParseResult) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			module := nodeText(child, content)
			p.addImport(node, module, "", nil, false, 0, filePath, result)
		case "aliased_import":
			var module, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					module = nodeText(grandchild, content)
				case "identifier":
					alias = nodeText(grandchild, content)
				}
			}
			if module != "" {
				p.addImport(node, module, alias, nil, false, 0, filePath, result)
			}
		}
	}
}

// processImportFromStatement handles 'from x import y' style imports,
// including relative levels and wildcards.
func (p *PythonParser) processImportFromStatement(node *sitter.Node, content []byte, filePath string, result *ParseResult) {
	var module string
	var names []string
	var wildcard bool
	var level int
	var sawImport bool

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			var prefix, name string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "import_prefix":
					prefix = nodeText(grandchild, content)
				case "dotted_name":
					name = nodeText(grandchild, content)
				}
			}
			level = len(prefix)
			module = prefix + name
		case "dotted_name":
			text := nodeText(child, content)
			if !sawImport {
				module = text
			} else {
				names = append(names, text)
			}
		case "wildcard_import":
			wildcard = true
		case "aliased_import":
			var importName, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "identifier":
					if importName == "" {
						importName = nodeText(grandchild, content)
					} else {
						alias = nodeText(grandchild, content)
					}
				case "dotted_name":
					if importName == "" {
						importName = nodeText(grandchild, content)
					}
				}
			}
			if alias != "" {
				names = append(names, importName+" as "+alias)
			} else if importName != "" {
				names = append(names, importName)
			}
		case "identifier":
			if sawImport {
				names = append(names, nodeText(child, content))
			}
		}
	}

	if module != "" || level > 0 {
		if module == "" {
			module = strings.Repeat(".", level)
		}
		p.addImport(node, module, "", names, wildcard, level, filePath, result)
	}
}

// addImport records both the Import and an import-kind Symbol.
func (p *PythonParser) addImport(node *sitter.Node, module, alias string, names []string, wildcard bool, level int, filePath string, result *ParseResult) {
	line := int(node.StartPoint().Row + 1)

	result.Imports = append(result.Imports, Import{
		Module:   module,
		Names:    names,
		Alias:    alias,
		Level:    level,
		Wildcard: wildcard,
		Line:     line,
	})

	result.Symbols = append(result.Symbols, &Symbol{
		ID:        GenerateID(filePath, line, module),
		Name:      module,
		Kind:      SymbolKindImport,
		File:      filePath,
		StartLine: line,
		EndLine:   int(node.EndPoint().Row + 1),
	})
}

// extractTopLevel walks module-level statements: classes, functions, and
// variable assignments.
func (p *PythonParser) extractTopLevel(root *sitter.Node, content []byte, filePath string, result *ParseResult) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "class_definition":
			p.processClass(child, content, filePath, result)
		case "function_definition":
			p.processFunction(child, content, filePath, "", result)
		case "decorated_definition":
			for j := 0; j < int(child.ChildCount()); j++ {
				def := child.Child(j)
				switch def.Type() {
				case "class_definition":
					p.processClass(def, content, filePath, result)
				case "function_definition":
					p.processFunction(def, content, filePath, "", result)
				}
			}
		case "expression_statement":
			if child.ChildCount() > 0 && child.Child(0).Type() == "assignment" {
				if sym := p.processAssignment(child.Child(0), content, filePath); sym != nil {
					result.Symbols = append(result.Symbols, sym)
				}
			}
		}
	}
}

// processClass extracts a class definition and its methods.
func (p *PythonParser) processClass(node *sitter.Node, content []byte, filePath string, result *ParseResult) {
	var name string
	var bodyNode *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = nodeText(child, content)
		case "block":
			bodyNode = child
		}
	}
	if name == "" {
		return
	}

	startLine := int(node.StartPoint().Row + 1)
	result.Symbols = append(result.Symbols, &Symbol{
		ID:        GenerateID(filePath, startLine, name),
		Name:      name,
		Kind:      SymbolKindClass,
		File:      filePath,
		StartLine: startLine,
		EndLine:   int(node.EndPoint().Row + 1),
		Signature: firstLine(nodeText(node, content)),
	})

	if bodyNode == nil {
		return
	}
	for i := 0; i < int(bodyNode.ChildCount()); i++ {
		child := bodyNode.Child(i)
		switch child.Type() {
		case "function_definition":
			p.processFunction(child, content, filePath, name, result)
		case "decorated_definition":
			for j := 0; j < int(child.ChildCount()); j++ {
				def := child.Child(j)
				if def.Type() == "function_definition" {
					p.processFunction(def, content, filePath, name, result)
				}
			}
		}
	}
}

// processFunction extracts a function or method, its parameters (as weaker
// parameter symbols), its call sites, and any literal-dict return shape.
func (p *PythonParser) processFunction(node *sitter.Node, content []byte, filePath, className string, result *ParseResult) {
	var name string
	var paramsNode, bodyNode *sitter.Node
	var isAsync bool

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "async":
			isAsync = true
		case "identifier":
			name = nodeText(child, content)
		case "parameters":
			paramsNode = child
		case "block":
			bodyNode = child
		}
	}
	if name == "" {
		return
	}

	params := extractParameterNames(paramsNode, content)

	signature := fmt.Sprintf("def %s(%s)", name, strings.Join(params, ", "))
	if isAsync {
		signature = "async " + signature
	}

	kind := SymbolKindFunction
	if className != "" {
		kind = SymbolKindMethod
	}

	startLine := int(node.StartPoint().Row + 1)
	result.Symbols = append(result.Symbols, &Symbol{
		ID:         GenerateID(filePath, startLine, name),
		Name:       name,
		Kind:       kind,
		File:       filePath,
		StartLine:  startLine,
		EndLine:    int(node.EndPoint().Row + 1),
		Signature:  signature,
		Parameters: params,
		Parent:     className,
	})

	for _, param := range params {
		if param == "self" || param == "cls" {
			continue
		}
		result.Symbols = append(result.Symbols, &Symbol{
			ID:        GenerateID(filePath, startLine, param),
			Name:      param,
			Kind:      SymbolKindParameter,
			File:      filePath,
			StartLine: startLine,
			EndLine:   startLine,
			Parent:    name,
		})
	}

	if bodyNode == nil {
		return
	}

	p.extractCalls(bodyNode, content, filePath, name, result, 0)

	if shape := extractDictReturnShape(bodyNode, content); shape != nil {
		result.DictReturns = append(result.DictReturns, &DictReturn{
			Function: name,
			File:     filePath,
			Line:     startLine,
			Shape:    shape,
		})
	}
}

// processAssignment extracts a module-level variable binding.
func (p *PythonParser) processAssignment(node *sitter.Node, content []byte, filePath string) *Symbol {
	var name string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" {
			name = nodeText(child, content)
			break
		}
	}
	if name == "" {
		return nil
	}
	line := int(node.StartPoint().Row + 1)
	return &Symbol{
		ID:        GenerateID(filePath, line, name),
		Name:      name,
		Kind:      SymbolKindVariable,
		File:      filePath,
		StartLine: line,
		EndLine:   int(node.EndPoint().Row + 1),
	}
}

// extractCalls walks a function body collecting call sites.
func (p *PythonParser) extractCalls(node *sitter.Node, content []byte, filePath, caller string, result *ParseResult, depth int) {
	if node == nil || depth > MaxCallDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if child.Type() == "call" && child.ChildCount() > 0 {
			callee := calleeName(child.Child(0), content)
			if callee != "" {
				result.Calls = append(result.Calls, Call{
					Caller: caller,
					Callee: callee,
					File:   filePath,
					Line:   int(child.StartPoint().Row + 1),
				})
			}
		}
		// Nested function definitions keep their own caller attribution.
		nextCaller := caller
		if child.Type() == "function_definition" {
			for j := 0; j < int(child.ChildCount()); j++ {
				if child.Child(j).Type() == "identifier" {
					nextCaller = nodeText(child.Child(j), content)
					break
				}
			}
		}
		p.extractCalls(child, content, filePath, nextCaller, result, depth+1)
	}
}

// calleeName resolves the called name from a call's function node. For
// attribute calls ("obj.foo()") only the final attribute is kept.
func calleeName(fn *sitter.Node, content []byte) string {
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, content)
	case "attribute":
		for i := int(fn.ChildCount()) - 1; i >= 0; i-- {
			child := fn.Child(i)
			if child.Type() == "identifier" {
				return nodeText(child, content)
			}
		}
	}
	return ""
}

// extractDictReturnShape finds the first "return {...}" in a function body
// and records the literal's nested key structure.
func extractDictReturnShape(body *sitter.Node, content []byte) *DictShape {
	var found *DictShape
	var walk func(node *sitter.Node, depth int)
	walk = func(node *sitter.Node, depth int) {
		if node == nil || found != nil || depth > MaxCallDepth {
			return
		}
		if node.Type() == "return_statement" {
			for i := 0; i < int(node.ChildCount()); i++ {
				child := node.Child(i)
				if child.Type() == "dictionary" {
					found = dictShapeFromNode(child, content, 0)
					return
				}
			}
		}
		// Do not descend into nested function definitions; their returns
		// belong to them.
		if node.Type() == "function_definition" && depth > 0 {
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i), depth+1)
		}
	}
	walk(body, 0)
	return found
}

// dictShapeFromNode converts a tree-sitter dictionary node into a DictShape.
func dictShapeFromNode(node *sitter.Node, content []byte, depth int) *DictShape {
	if node == nil || depth > 10 {
		return nil
	}
	shape := &DictShape{Keys: make(map[string]*DictShape)}
	for i := 0; i < int(node.ChildCount()); i++ {
		pair := node.Child(i)
		if pair.Type() != "pair" {
			continue
		}
		var key string
		var value *DictShape
		for j := 0; j < int(pair.ChildCount()); j++ {
			child := pair.Child(j)
			switch child.Type() {
			case "string":
				if key == "" {
					key = extractStringContent(child, content)
				}
			case "dictionary":
				value = dictShapeFromNode(child, content, depth+1)
			}
		}
		if key != "" {
			shape.Keys[key] = value
		}
	}
	if len(shape.Keys) == 0 {
		return nil
	}
	return shape
}

// extractParameterNames pulls bare parameter names from a parameters node.
func extractParameterNames(paramsNode *sitter.Node, content []byte) []string {
	if paramsNode == nil {
		return nil
	}
	params := make([]string, 0, paramsNode.ChildCount())
	for i := 0; i < int(paramsNode.ChildCount()); i++ {
		child := paramsNode.Child(i)
		switch child.Type() {
		case "identifier":
			params = append(params, nodeText(child, content))
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				if grandchild.Type() == "identifier" {
					params = append(params, nodeText(grandchild, content))
					break
				}
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				if grandchild.Type() == "identifier" {
					params = append(params, nodeText(grandchild, content))
					break
				}
			}
		}
	}
	return params
}

// extractStringContent strips quotes from a string node.
func extractStringContent(node *sitter.Node, content []byte) string {
	raw := nodeText(node, content)
	if strings.HasPrefix(raw, `"""`) || strings.HasPrefix(raw, `'''`) {
		return strings.Trim(raw, `"'`)
	}
	return strings.Trim(raw, `"'`)
}

// firstLine returns text up to the first newline.
func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimRight(text[:idx], " :")
	}
	return text
}

func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
