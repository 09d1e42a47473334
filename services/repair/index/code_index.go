// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maintains the project-wide code index: symbol table,
// import graph, class table, signatures, dict-key origins, call graph,
// and per-file content hashes, with confidence-scored fuzzy resolution.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/remedy/services/repair/ast"
)

// Defaults for index construction.
const (
	DefaultBuildWorkers = 8
	DefaultFuzzyFloor   = 0.6
)

// skipDirs are directory names never indexed.
var skipDirs = map[string]bool{
	".git": true, "__pycache__": true, "venv": true, ".venv": true,
	"env": true, "node_modules": true, ".tox": true, "site-packages": true,
	"build": true, "dist": true, ".mypy_cache": true, ".pytest_cache": true,
}

// SymbolMatch is one resolution result. Confidence is recomputed for every
// query and never cached on the symbol itself.
type SymbolMatch struct {
	Name       string         `json:"name"`
	File       string         `json:"file"`
	Line       int            `json:"line"`
	Category   ast.SymbolKind `json:"category"`
	Confidence float64        `json:"confidence"`
	Signature  string         `json:"signature,omitempty"`
}

// KeyOrigin records where a dict key is produced.
type KeyOrigin struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// BuildStats summarizes a full build.
type BuildStats struct {
	Files   int
	Symbols int
	Imports int
	Errors  int
}

// RefreshStats summarizes an incremental refresh.
type RefreshStats struct {
	Changed   int
	Added     int
	Removed   int
	Unchanged int
}

// CodeIndexOption configures a CodeIndex.
type CodeIndexOption func(*CodeIndex)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) CodeIndexOption {
	return func(ci *CodeIndex) {
		if logger != nil {
			ci.logger = logger
		}
	}
}

// WithBuildWorkers bounds the parse concurrency of Build.
func WithBuildWorkers(n int) CodeIndexOption {
	return func(ci *CodeIndex) {
		if n > 0 {
			ci.workers = n
		}
	}
}

// WithFuzzyFloor overrides the minimum similarity considered by
// FuzzyResolve. The default of 0.6 is empirical.
func WithFuzzyFloor(floor float64) CodeIndexOption {
	return func(ci *CodeIndex) {
		if floor > 0 && floor <= 1 {
			ci.fuzzyFloor = floor
		}
	}
}

// CodeIndex is the project-wide code index.
//
// Description:
//
//	Built fully on first use, then kept current by per-file hash diffing:
//	re-indexing a file purges every prior entry attributed to it before
//	adding new ones, so the index never holds duplicates or stale rows.
//
// Thread Safety:
//
//	Safe for concurrent use. All reads take RLock and return defensive
//	copies; all mutations take the write lock.
type CodeIndex struct {
	mu      sync.RWMutex
	root    string
	parser  *ast.PythonParser
	logger  *slog.Logger
	workers int

	fuzzyFloor float64

	byName      map[string][]*ast.Symbol
	byFile      map[string][]*ast.Symbol
	imports     map[string][]ast.Import // file → imports
	importers   map[string][]string     // module → importing files
	classes     map[string][]*ast.Symbol
	dictReturns map[string][]*ast.DictReturn // file → dict returns
	callers     map[string][]ast.Call        // callee → call sites
	keyOrigins  map[string][]KeyOrigin       // dict key → producing functions
	fileHashes  map[string]string

	// dirty holds files flagged by the watcher since the last refresh.
	dirty map[string]struct{}
}

// NewCodeIndex creates an empty index for the project rooted at root.
//
// Inputs:
//   - root: Absolute or relative project root directory.
//   - opts: Optional configuration (WithLogger, WithBuildWorkers,
//     WithFuzzyFloor).
//
// Outputs:
//   - *CodeIndex: Empty index, never nil. Call Build before querying.
func NewCodeIndex(root string, opts ...CodeIndexOption) *CodeIndex {
	ci := &CodeIndex{
		root:        root,
		parser:      ast.NewPythonParser(),
		logger:      slog.Default(),
		workers:     DefaultBuildWorkers,
		fuzzyFloor:  DefaultFuzzyFloor,
		byName:      make(map[string][]*ast.Symbol),
		byFile:      make(map[string][]*ast.Symbol),
		imports:     make(map[string][]ast.Import),
		importers:   make(map[string][]string),
		classes:     make(map[string][]*ast.Symbol),
		dictReturns: make(map[string][]*ast.DictReturn),
		callers:     make(map[string][]ast.Call),
		keyOrigins:  make(map[string][]KeyOrigin),
		fileHashes:  make(map[string]string),
		dirty:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(ci)
	}
	return ci
}

// Root returns the project root the index was built for.
func (ci *CodeIndex) Root() string {
	return ci.root
}

// Build parses every Python file under the root and populates the index.
//
// Description:
//
//	Files are parsed in parallel with bounded concurrency; results are
//	merged under one write lock. Unreadable or unparseable files are
//	counted as errors but do not fail the build.
//
// Inputs:
//   - ctx: Context for cancellation, honored between files.
//
// Outputs:
//   - *BuildStats: Counts of indexed files, symbols, imports, and errors.
//   - error: Non-nil if the root walk fails or ctx is canceled.
func (ci *CodeIndex) Build(ctx context.Context) (*BuildStats, error) {
	ctx, span := startIndexSpan(ctx, "Build")
	defer span.End()

	files, err := ci.listPythonFiles()
	if err != nil {
		return nil, fmt.Errorf("walking project root: %w", err)
	}

	type parsed struct {
		result *ast.ParseResult
		err    error
	}
	results := make([]parsed, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ci.workers)
	for i, relPath := range files {
		g.Go(func() error {
			content, err := os.ReadFile(filepath.Join(ci.root, filepath.FromSlash(relPath)))
			if err != nil {
				results[i] = parsed{err: err}
				return nil
			}
			res, err := ci.parser.Parse(gctx, content, relPath)
			results[i] = parsed{result: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build canceled: %w", err)
	}

	stats := &BuildStats{}
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for i, p := range results {
		if p.err != nil {
			stats.Errors++
			ci.logger.Warn("skipping file",
				slog.String("file", files[i]),
				slog.Any("error", p.err))
			continue
		}
		ci.purgeFileLocked(p.result.FilePath)
		ci.addResultLocked(p.result)
		stats.Files++
		stats.Symbols += len(p.result.Symbols)
		stats.Imports += len(p.result.Imports)
	}

	ci.logger.Info("index built",
		slog.String("root", ci.root),
		slog.Int("files", stats.Files),
		slog.Int("symbols", stats.Symbols),
		slog.Int("errors", stats.Errors))
	setIndexSpanCount(span, stats.Symbols)
	return stats, nil
}

// Refresh diffs per-file content hashes and incrementally re-indexes.
//
// Description:
//
//	Files whose hash changed or that disappeared have every entry purged;
//	changed and new files are re-parsed; unchanged files are untouched.
//	Any paths flagged dirty by the watcher are cleared.
//
// Outputs:
//   - *RefreshStats: Counts of changed, added, removed, unchanged files.
//   - error: Non-nil if the root walk fails or ctx is canceled.
func (ci *CodeIndex) Refresh(ctx context.Context) (*RefreshStats, error) {
	ctx, span := startIndexSpan(ctx, "Refresh")
	defer span.End()

	files, err := ci.listPythonFiles()
	if err != nil {
		return nil, fmt.Errorf("walking project root: %w", err)
	}

	stats := &RefreshStats{}
	current := make(map[string]bool, len(files))

	for _, relPath := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("refresh canceled: %w", err)
		}
		current[relPath] = true

		content, err := os.ReadFile(filepath.Join(ci.root, filepath.FromSlash(relPath)))
		if err != nil {
			ci.logger.Warn("skipping unreadable file",
				slog.String("file", relPath), slog.Any("error", err))
			continue
		}
		sum := sha256.Sum256(content)
		newHash := hex.EncodeToString(sum[:])

		ci.mu.RLock()
		oldHash, known := ci.fileHashes[relPath]
		ci.mu.RUnlock()

		if known && oldHash == newHash {
			stats.Unchanged++
			continue
		}

		res, err := ci.parser.Parse(ctx, content, relPath)
		if err != nil {
			ci.logger.Warn("skipping unparseable file",
				slog.String("file", relPath), slog.Any("error", err))
			continue
		}

		ci.mu.Lock()
		ci.purgeFileLocked(relPath)
		ci.addResultLocked(res)
		ci.mu.Unlock()

		if known {
			stats.Changed++
		} else {
			stats.Added++
		}
	}

	// Purge files that disappeared.
	ci.mu.Lock()
	for file := range ci.fileHashes {
		if !current[file] {
			ci.purgeFileLocked(file)
			stats.Removed++
		}
	}
	ci.dirty = make(map[string]struct{})
	ci.mu.Unlock()

	ci.logger.Info("index refreshed",
		slog.Int("changed", stats.Changed),
		slog.Int("added", stats.Added),
		slog.Int("removed", stats.Removed),
		slog.Int("unchanged", stats.Unchanged))
	return stats, nil
}

// MarkDirty flags a project-relative path for the next refresh. Called by
// the filesystem watcher.
func (ci *CodeIndex) MarkDirty(relPath string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.dirty[relPath] = struct{}{}
}

// DirtyFiles returns the paths flagged since the last refresh.
func (ci *CodeIndex) DirtyFiles() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make([]string, 0, len(ci.dirty))
	for f := range ci.dirty {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// AddFile parses and indexes a single file, replacing prior entries.
func (ci *CodeIndex) AddFile(ctx context.Context, relPath string) error {
	content, err := os.ReadFile(filepath.Join(ci.root, filepath.FromSlash(relPath)))
	if err != nil {
		return fmt.Errorf("reading %s: %w", relPath, err)
	}
	res, err := ci.parser.Parse(ctx, content, relPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", relPath, err)
	}
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.purgeFileLocked(relPath)
	ci.addResultLocked(res)
	return nil
}

// RemoveFile purges every index entry attributed to the file.
func (ci *CodeIndex) RemoveFile(relPath string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.purgeFileLocked(relPath)
}

// Lookup returns all exact-name matches with confidence 1.0.
func (ci *CodeIndex) Lookup(name string) []SymbolMatch {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	syms := ci.byName[name]
	matches := make([]SymbolMatch, 0, len(syms))
	for _, sym := range syms {
		matches = append(matches, SymbolMatch{
			Name:       sym.Name,
			File:       sym.File,
			Line:       sym.StartLine,
			Category:   sym.Kind,
			Confidence: 1.0,
			Signature:  sym.Signature,
		})
	}
	return matches
}

// LookupClass returns exact class definitions only.
func (ci *CodeIndex) LookupClass(name string) []SymbolMatch {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	syms := ci.classes[name]
	matches := make([]SymbolMatch, 0, len(syms))
	for _, sym := range syms {
		matches = append(matches, SymbolMatch{
			Name:       sym.Name,
			File:       sym.File,
			Line:       sym.StartLine,
			Category:   ast.SymbolKindClass,
			Confidence: 1.0,
			Signature:  sym.Signature,
		})
	}
	return matches
}

// SymbolsInFile returns copies of all symbols attributed to a file.
func (ci *CodeIndex) SymbolsInFile(relPath string) []*ast.Symbol {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return copySymbols(ci.byFile[relPath])
}

// ImportsOf returns the import statements recorded for a file.
func (ci *CodeIndex) ImportsOf(relPath string) []ast.Import {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make([]ast.Import, len(ci.imports[relPath]))
	copy(out, ci.imports[relPath])
	return out
}

// ImportersOf returns the files that import the given module.
func (ci *CodeIndex) ImportersOf(module string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make([]string, len(ci.importers[module]))
	copy(out, ci.importers[module])
	return out
}

// ImportGraph returns a copy of the full file→modules map.
func (ci *CodeIndex) ImportGraph() map[string][]ast.Import {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make(map[string][]ast.Import, len(ci.imports))
	for file, imps := range ci.imports {
		cp := make([]ast.Import, len(imps))
		copy(cp, imps)
		out[file] = cp
	}
	return out
}

// CallersOf returns call sites whose callee matches name.
func (ci *CodeIndex) CallersOf(name string) []ast.Call {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make([]ast.Call, len(ci.callers[name]))
	copy(out, ci.callers[name])
	return out
}

// DictReturns returns every recorded literal-dict return shape.
func (ci *CodeIndex) DictReturns() []*ast.DictReturn {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	var out []*ast.DictReturn
	for _, rets := range ci.dictReturns {
		out = append(out, rets...)
	}
	return out
}

// KeyOrigins returns the producing functions recorded for a dict key.
func (ci *CodeIndex) KeyOrigins(key string) []KeyOrigin {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	out := make([]KeyOrigin, len(ci.keyOrigins[key]))
	copy(out, ci.keyOrigins[key])
	return out
}

// Files returns the indexed file paths, sorted.
func (ci *CodeIndex) Files() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	files := make([]string, 0, len(ci.fileHashes))
	for f := range ci.fileHashes {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Modules returns every dotted module path known to the index: one per
// indexed file plus every imported module name.
func (ci *CodeIndex) Modules() []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	seen := make(map[string]bool)
	for file := range ci.fileHashes {
		seen[ModuleForFile(file)] = true
	}
	for _, imps := range ci.imports {
		for _, imp := range imps {
			if imp.Level == 0 {
				seen[imp.Module] = true
			}
		}
	}
	modules := make([]string, 0, len(seen))
	for m := range seen {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	return modules
}

// ProjectHash returns a 16-character hash of the sorted (file, hash)
// pairs. Two identical trees hash identically regardless of build order.
func (ci *CodeIndex) ProjectHash() string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.projectHashLocked()
}

// projectHashLocked computes the project hash. Caller holds a lock.
func (ci *CodeIndex) projectHashLocked() string {
	files := make([]string, 0, len(ci.fileHashes))
	for f := range ci.fileHashes {
		files = append(files, f)
	}
	sort.Strings(files)
	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s:%s\n", f, ci.fileHashes[f])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns current entity counts.
func (ci *CodeIndex) Stats() map[string]int {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	symbols := 0
	for _, syms := range ci.byFile {
		symbols += len(syms)
	}
	imports := 0
	for _, imps := range ci.imports {
		imports += len(imps)
	}
	return map[string]int{
		"files":        len(ci.fileHashes),
		"symbols":      symbols,
		"names":        len(ci.byName),
		"imports":      imports,
		"classes":      len(ci.classes),
		"dict_keys":    len(ci.keyOrigins),
		"call_targets": len(ci.callers),
	}
}

// ReadFile reads a project file, confining the path to the root.
func (ci *CodeIndex) ReadFile(relPath string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("path %q escapes project root", relPath)
	}
	return os.ReadFile(filepath.Join(ci.root, clean))
}

// addResultLocked merges a parse result. Caller holds the write lock and
// has already purged the file.
func (ci *CodeIndex) addResultLocked(res *ast.ParseResult) {
	file := res.FilePath
	ci.fileHashes[file] = res.ContentHash
	ci.byFile[file] = res.Symbols

	for _, sym := range res.Symbols {
		ci.byName[sym.Name] = append(ci.byName[sym.Name], sym)
		if sym.Kind == ast.SymbolKindClass {
			ci.classes[sym.Name] = append(ci.classes[sym.Name], sym)
		}
	}

	ci.imports[file] = res.Imports
	for _, imp := range res.Imports {
		ci.importers[imp.Module] = append(ci.importers[imp.Module], file)
	}

	if len(res.DictReturns) > 0 {
		ci.dictReturns[file] = res.DictReturns
		for _, ret := range res.DictReturns {
			for _, key := range ret.Shape.TopKeys() {
				ci.keyOrigins[key] = append(ci.keyOrigins[key], KeyOrigin{
					Function: ret.Function,
					File:     ret.File,
					Line:     ret.Line,
				})
			}
		}
	}

	for _, call := range res.Calls {
		ci.callers[call.Callee] = append(ci.callers[call.Callee], call)
	}
}

// purgeFileLocked removes every entry attributed to a file from all maps.
// Caller holds the write lock.
func (ci *CodeIndex) purgeFileLocked(file string) {
	for _, sym := range ci.byFile[file] {
		ci.byName[sym.Name] = removeSymbolsFromFile(ci.byName[sym.Name], file)
		if len(ci.byName[sym.Name]) == 0 {
			delete(ci.byName, sym.Name)
		}
		if sym.Kind == ast.SymbolKindClass {
			ci.classes[sym.Name] = removeSymbolsFromFile(ci.classes[sym.Name], file)
			if len(ci.classes[sym.Name]) == 0 {
				delete(ci.classes, sym.Name)
			}
		}
	}
	delete(ci.byFile, file)

	for _, imp := range ci.imports[file] {
		ci.importers[imp.Module] = removeString(ci.importers[imp.Module], file)
		if len(ci.importers[imp.Module]) == 0 {
			delete(ci.importers, imp.Module)
		}
	}
	delete(ci.imports, file)

	for _, ret := range ci.dictReturns[file] {
		for _, key := range ret.Shape.TopKeys() {
			ci.keyOrigins[key] = removeKeyOriginsFromFile(ci.keyOrigins[key], file)
			if len(ci.keyOrigins[key]) == 0 {
				delete(ci.keyOrigins, key)
			}
		}
	}
	delete(ci.dictReturns, file)

	for callee, calls := range ci.callers {
		ci.callers[callee] = removeCallsFromFile(calls, file)
		if len(ci.callers[callee]) == 0 {
			delete(ci.callers, callee)
		}
	}

	delete(ci.fileHashes, file)
	delete(ci.dirty, file)
}

// listPythonFiles walks the root collecting project-relative paths.
func (ci *CodeIndex) listPythonFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(ci.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		rel, err := filepath.Rel(ci.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ModuleForFile converts a project-relative path into its dotted module
// path: "pkg/sub/mod.py" → "pkg.sub.mod", "pkg/__init__.py" → "pkg".
func ModuleForFile(relPath string) string {
	path := strings.TrimSuffix(relPath, ".py")
	path = strings.TrimSuffix(path, "/__init__")
	return strings.ReplaceAll(path, "/", ".")
}

// FileForModule maps a dotted absolute module path back to a file, if the
// module is part of the project. Relative modules (leading dots) are not
// resolved.
func (ci *CodeIndex) FileForModule(module string) (string, bool) {
	if module == "" || strings.HasPrefix(module, ".") {
		return "", false
	}
	base := strings.ReplaceAll(module, ".", "/")
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	for _, candidate := range []string{base + ".py", base + "/__init__.py"} {
		if _, ok := ci.fileHashes[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func copySymbols(src []*ast.Symbol) []*ast.Symbol {
	out := make([]*ast.Symbol, len(src))
	copy(out, src)
	return out
}

func removeSymbolsFromFile(syms []*ast.Symbol, file string) []*ast.Symbol {
	out := syms[:0]
	for _, s := range syms {
		if s.File != file {
			out = append(out, s)
		}
	}
	return out
}

func removeString(items []string, s string) []string {
	out := items[:0]
	for _, item := range items {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}

func removeKeyOriginsFromFile(origins []KeyOrigin, file string) []KeyOrigin {
	out := origins[:0]
	for _, o := range origins {
		if o.File != file {
			out = append(out, o)
		}
	}
	return out
}

func removeCallsFromFile(calls []ast.Call, file string) []ast.Call {
	out := calls[:0]
	for _, c := range calls {
		if c.File != file {
			out = append(out, c)
		}
	}
	return out
}
