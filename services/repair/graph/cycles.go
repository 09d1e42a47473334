// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sort"
	"strings"
)

// FindCycles runs a depth-first search with an explicit recursion stack
// and returns every distinct import cycle.
//
// Description:
//
//	Each cycle is a closed walk: the first element equals the last, and
//	every consecutive pair is an edge of the graph. Cycles discovered
//	from different entry points are deduplicated by their canonical
//	rotation. Relative imports are unresolved (see ImportGraph) and
//	therefore never appear in cycles.
//
// Inputs:
//   - ctx: Context for cancellation, checked per DFS root.
//
// Outputs:
//   - [][]string: Closed walks, deterministic order.
func (g *ImportGraph) FindCycles(ctx context.Context) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roots := make([]string, 0, len(g.edges))
	for from := range g.edges {
		roots = append(roots, from)
	}
	sort.Strings(roots)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cycles [][]string
	seen := make(map[string]bool)

	var dfs func(node string)
	dfs = func(node string) {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		targets := make([]string, len(g.edges[node]))
		copy(targets, g.edges[node])
		sort.Strings(targets)

		for _, next := range targets {
			if onStack[next] {
				// Close the walk from next's position on the stack.
				start := 0
				for i, n := range stack {
					if n == next {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), next)
				key := canonicalCycleKey(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !visited[next] {
				dfs(next)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[node] = false
	}

	for _, root := range roots {
		if ctx.Err() != nil {
			return cycles
		}
		if !visited[root] {
			dfs(root)
		}
	}
	return cycles
}

// canonicalCycleKey rotates the open walk so its smallest node comes
// first, making the same cycle found from different roots compare equal.
func canonicalCycleKey(cycle []string) string {
	// Drop the closing repeat for rotation.
	open := cycle[:len(cycle)-1]
	minIdx := 0
	for i, n := range open {
		if n < open[minIdx] {
			minIdx = i
		}
	}
	rotated := make([]string, 0, len(open))
	rotated = append(rotated, open[minIdx:]...)
	rotated = append(rotated, open[:minIdx]...)
	return strings.Join(rotated, "|")
}
