// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/remedy/services/repair/ast"
)

// IndexSchemaVersion is bumped whenever the serialized layout changes.
// A snapshot with a different version is ignored and rebuilt.
const IndexSchemaVersion = "repair-index-v1"

// BadgerDB key prefixes for index snapshots.
const (
	keyPrefixSnap      = "repair:snap:"
	keyPrefixSnapIndex = "repair:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a project.
var ErrSnapshotNotFound = fmt.Errorf("snapshot not found")

// IndexSnapshot is the versioned serialized form of a CodeIndex: the
// per-file parse results plus the content hashes the incremental refresh
// diffs against.
type IndexSnapshot struct {
	SchemaVersion string                      `json:"schema_version"`
	Root          string                      `json:"root"`
	ProjectHash   string                      `json:"project_hash"`
	Files         map[string]*ast.ParseResult `json:"files"`
}

// SnapshotMetadata describes a saved index snapshot.
type SnapshotMetadata struct {
	// SnapshotID is SHA256(root + savedAtMilli)[:16].
	SnapshotID string `json:"snapshot_id"`

	// ProjectRoot is the project root path the index was built for.
	ProjectRoot string `json:"project_root"`

	// RootHash is SHA256(ProjectRoot)[:16], used for key grouping.
	RootHash string `json:"root_hash"`

	// ProjectHash is the content hash over sorted (file, hash) pairs;
	// compared against the live tree before the snapshot is trusted.
	ProjectHash string `json:"project_hash"`

	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	FileCount      int    `json:"file_count"`
	SymbolCount    int    `json:"symbol_count"`
	SchemaVersion  string `json:"schema_version"`
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
}

// SnapshotStore persists index snapshots in BadgerDB as gzip-compressed
// JSON.
//
// Description:
//
//	One project has one "latest" pointer; the store is single-writer,
//	single-reader per project. Concurrent repair sessions against the
//	same project are out of scope.
//
// Thread Safety:
//
//	Safe for concurrent use; BadgerDB handles its own concurrency.
type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotStore creates a store over an opened BadgerDB.
//
// Inputs:
//   - db: An opened BadgerDB instance. Must not be nil. Caller closes it.
//   - logger: Logger for diagnostics. Must not be nil.
func NewSnapshotStore(db *badger.DB, logger *slog.Logger) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

// Save persists the current index state and updates the latest pointer.
//
// Key Schema:
//
//	repair:snap:{rootHash}:{snapshotID}:data → gzip(JSON(IndexSnapshot))
//	repair:snap:{rootHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	repair:snap:{rootHash}:latest             → snapshotID
//	repair:snap:index:{snapshotID}            → rootHash
func (s *SnapshotStore) Save(ctx context.Context, ci *CodeIndex, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if ci == nil {
		return nil, fmt.Errorf("index must not be nil")
	}

	snap := ci.ExportSnapshot()

	jsonData, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	now := time.Now().UnixMilli()
	rootHash := RootHash(snap.Root)
	snapshotID := hashString(fmt.Sprintf("%s:%d", snap.Root, now))[:16]

	symbolCount := 0
	for _, res := range snap.Files {
		symbolCount += len(res.Symbols)
	}

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		ProjectRoot:    snap.Root,
		RootHash:       rootHash,
		ProjectHash:    snap.ProjectHash,
		Label:          label,
		CreatedAtMilli: now,
		FileCount:      len(snap.Files),
		SymbolCount:    symbolCount,
		SchemaVersion:  IndexSchemaVersion,
		CompressedSize: int64(len(compressedData)),
		ContentHash:    hashBytes(compressedData),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	dataKey := keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + rootHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataKey), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set([]byte(metaKey), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set([]byte(indexKey), []byte(rootHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	s.logger.Info("index snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("project_root", snap.Root),
		slog.Int("files", meta.FileCount),
		slog.Int("symbols", meta.SymbolCount),
		slog.Int64("compressed_size", meta.CompressedSize))
	return meta, nil
}

// LoadLatest loads the most recent snapshot for a project root.
//
// Outputs:
//   - *IndexSnapshot: The deserialized snapshot.
//   - *SnapshotMetadata: Its metadata.
//   - error: ErrSnapshotNotFound (wrapped) when no snapshot exists.
func (s *SnapshotStore) LoadLatest(ctx context.Context, projectRoot string) (*IndexSnapshot, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	rootHash := RootHash(projectRoot)
	latestKey := keyPrefixSnap + rootHash + keySuffixLatest

	var snapshotID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil, fmt.Errorf("%w: no snapshot for %s", ErrSnapshotNotFound, projectRoot)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer: %w", err)
	}

	return s.loadByKeys(rootHash, snapshotID)
}

// Load retrieves a snapshot by its ID via the reverse index.
func (s *SnapshotStore) Load(ctx context.Context, snapshotID string) (*IndexSnapshot, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	rootHash, err := s.getRootHash(snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return s.loadByKeys(rootHash, snapshotID)
}

// List returns snapshot metadata, newest first, optionally filtered by
// project root.
func (s *SnapshotStore) List(ctx context.Context, projectRoot string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixSnap
	if projectRoot != "" {
		prefix = keyPrefixSnap + RootHash(projectRoot) + ":"
	}

	var results []*SnapshotMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !isMetaKey(key) {
				continue
			}
			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt metadata",
					slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sortSnapshotsByDate(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot and, if it was the latest, its pointer.
func (s *SnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	rootHash, err := s.getRootHash(snapshotID)
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	dataKey := keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixMeta
	latestKey := keyPrefixSnap + rootHash + keySuffixLatest
	indexKey := keyPrefixSnapIndex + snapshotID

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete([]byte(metaKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		if err := txn.Delete([]byte(indexKey)); err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("deleting reverse index: %w", err)
		}
		item, err := txn.Get([]byte(latestKey))
		if err == nil {
			var currentLatest string
			_ = item.Value(func(val []byte) error {
				currentLatest = string(val)
				return nil
			})
			if currentLatest == snapshotID {
				if err := txn.Delete([]byte(latestKey)); err != nil && err != badger.ErrKeyNotFound {
					return fmt.Errorf("deleting latest pointer: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}
	s.logger.Info("index snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// loadByKeys reads, integrity-checks, and decompresses one snapshot.
func (s *SnapshotStore) loadByKeys(rootHash, snapshotID string) (*IndexSnapshot, *SnapshotMetadata, error) {
	dataKey := keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixData
	metaKey := keyPrefixSnap + rootHash + ":" + snapshotID + keySuffixMeta

	var compressedData, metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		dataItem, err := txn.Get([]byte(dataKey))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, err)
		}
		compressedData, err = dataItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}
		metaItem, err := txn.Get([]byte(metaKey))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, err)
		}
		metaJSON, err = metaItem.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if meta.ContentHash != "" && meta.ContentHash != hashBytes(compressedData) {
		return nil, nil, fmt.Errorf("integrity check failed for %s", snapshotID)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", snapshotID, err)
	}

	var snap IndexSnapshot
	if err := json.Unmarshal(jsonData, &snap); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling snapshot %s: %w", snapshotID, err)
	}
	if snap.SchemaVersion != IndexSchemaVersion {
		return nil, nil, fmt.Errorf("snapshot %s has schema %q, want %q",
			snapshotID, snap.SchemaVersion, IndexSchemaVersion)
	}
	return &snap, &meta, nil
}

// getRootHash reads the reverse index entry for a snapshot ID.
func (s *SnapshotStore) getRootHash(snapshotID string) (string, error) {
	indexKey := keyPrefixSnapIndex + snapshotID
	var rootHash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rootHash = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", ErrSnapshotNotFound
	}
	if err != nil {
		return "", err
	}
	return rootHash, nil
}

// ExportSnapshot captures the index state as a versioned snapshot.
func (ci *CodeIndex) ExportSnapshot() *IndexSnapshot {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	files := make(map[string]*ast.ParseResult, len(ci.fileHashes))
	for file, hash := range ci.fileHashes {
		files[file] = &ast.ParseResult{
			FilePath:    file,
			ContentHash: hash,
			Symbols:     copySymbols(ci.byFile[file]),
			Imports:     append([]ast.Import(nil), ci.imports[file]...),
			DictReturns: append([]*ast.DictReturn(nil), ci.dictReturns[file]...),
		}
	}
	// Calls are keyed by callee; reattribute them to their files.
	for _, calls := range ci.callers {
		for _, call := range calls {
			if res, ok := files[call.File]; ok {
				res.Calls = append(res.Calls, call)
			}
		}
	}

	return &IndexSnapshot{
		SchemaVersion: IndexSchemaVersion,
		Root:          ci.root,
		ProjectHash:   ci.projectHashLocked(),
		Files:         files,
	}
}

// RestoreSnapshot replaces the index contents with a snapshot's.
//
// Description:
//
//	The caller is responsible for validating the snapshot's ProjectHash
//	against the live tree (or following up with Refresh to repair drift).
func (ci *CodeIndex) RestoreSnapshot(snap *IndexSnapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot must not be nil")
	}
	if snap.SchemaVersion != IndexSchemaVersion {
		return fmt.Errorf("snapshot schema %q does not match %q", snap.SchemaVersion, IndexSchemaVersion)
	}

	ci.mu.Lock()
	defer ci.mu.Unlock()

	ci.byName = make(map[string][]*ast.Symbol)
	ci.byFile = make(map[string][]*ast.Symbol)
	ci.imports = make(map[string][]ast.Import)
	ci.importers = make(map[string][]string)
	ci.classes = make(map[string][]*ast.Symbol)
	ci.dictReturns = make(map[string][]*ast.DictReturn)
	ci.callers = make(map[string][]ast.Call)
	ci.keyOrigins = make(map[string][]KeyOrigin)
	ci.fileHashes = make(map[string]string)
	ci.dirty = make(map[string]struct{})

	for _, res := range snap.Files {
		ci.addResultLocked(res)
	}
	return nil
}

// RootHash returns SHA256(projectRoot)[:16] for use as a key prefix.
func RootHash(projectRoot string) string {
	return hashString(projectRoot)[:16]
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func isMetaKey(key string) bool {
	return len(key) > len(keySuffixMeta) && key[len(key)-len(keySuffixMeta):] == keySuffixMeta
}

func sortSnapshotsByDate(snapshots []*SnapshotMetadata) {
	for i := 1; i < len(snapshots); i++ {
		for j := i; j > 0 && snapshots[j].CreatedAtMilli > snapshots[j-1].CreatedAtMilli; j-- {
			snapshots[j], snapshots[j-1] = snapshots[j-1], snapshots[j]
		}
	}
}
