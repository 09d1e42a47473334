// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds the file-level import graph used by the
// circular-import strategy: directed edges from each file to the project
// files it imports, with recursion-stack cycle detection.
package graph

import (
	"sort"
	"sync"

	"github.com/AleutianAI/remedy/services/repair/ast"
	"github.com/AleutianAI/remedy/services/repair/index"
)

// ImportGraph is a directed graph over project files.
//
// Description:
//
//	Edges point from an importing file to the imported file. Only
//	absolute imports that resolve to project files become edges;
//	relative imports (level > 0) are recorded as unresolved and never
//	participate in cycles. That resolution gap is deliberate and covered
//	by tests rather than papered over.
//
// Thread Safety:
//
//	Safe for concurrent reads after Build; the graph is not mutated
//	afterwards.
type ImportGraph struct {
	mu         sync.RWMutex
	edges      map[string][]string
	unresolved map[string][]ast.Import
}

// BuildImportGraph derives the file-level graph from the index's import
// records.
func BuildImportGraph(ci *index.CodeIndex) *ImportGraph {
	g := &ImportGraph{
		edges:      make(map[string][]string),
		unresolved: make(map[string][]ast.Import),
	}
	for file, imports := range ci.ImportGraph() {
		for _, imp := range imports {
			if imp.Level > 0 {
				g.unresolved[file] = append(g.unresolved[file], imp)
				continue
			}
			if target, ok := ci.FileForModule(imp.Module); ok {
				g.addEdge(file, target)
			}
			// "from pkg import mod" imports the submodule too; resolve
			// each name one segment deeper in case it is a module.
			for _, name := range imp.Names {
				if t, ok := ci.FileForModule(imp.Module + "." + name); ok {
					g.addEdge(file, t)
				}
			}
		}
	}
	return g
}

func (g *ImportGraph) addEdge(from, to string) {
	if from == to {
		return
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// Edges returns the files imported by a file, sorted.
func (g *ImportGraph) Edges(file string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.edges[file]))
	copy(out, g.edges[file])
	sort.Strings(out)
	return out
}

// HasEdge reports whether from imports to.
func (g *ImportGraph) HasEdge(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, target := range g.edges[from] {
		if target == to {
			return true
		}
	}
	return false
}

// UnresolvedImports returns the relative imports of a file that the graph
// did not resolve to edges.
func (g *ImportGraph) UnresolvedImports(file string) []ast.Import {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ast.Import, len(g.unresolved[file]))
	copy(out, g.unresolved[file])
	return out
}

// Nodes returns every file with at least one outgoing or incoming edge.
func (g *ImportGraph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]bool)
	for from, targets := range g.edges {
		seen[from] = true
		for _, to := range targets {
			seen[to] = true
		}
	}
	nodes := make([]string, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}
