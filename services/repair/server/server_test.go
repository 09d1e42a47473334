// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/remedy/services/repair/index"
	"github.com/AleutianAI/remedy/services/repair/orchestrator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildServerIndex(t *testing.T) *index.CodeIndex {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"app/core.py": "def process_data(records):\n    return records\n",
		"main.py":     "from app.core import process_data\n\nprint(process_data([]))\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ci := index.NewCodeIndex(root)
	if _, err := ci.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	return ci
}

func setupRouter(t *testing.T, opts ...HandlersOption) (*gin.Engine, *Handlers) {
	t.Helper()
	h, err := NewHandlers(buildServerIndex(t), opts...)
	if err != nil {
		t.Fatalf("NewHandlers: %v", err)
	}
	return NewRouter(h), h
}

func openTestStore(t *testing.T) *index.SnapshotStore {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := index.NewSnapshotStore(db, discardLogger())
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	return store
}

func TestNewHandlers_NilIndex(t *testing.T) {
	if _, err := NewHandlers(nil); err == nil {
		t.Fatal("nil index must be rejected")
	}
}

func TestHealthz(t *testing.T) {
	router, _ := setupRouter(t)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestIndexStats(t *testing.T) {
	router, _ := setupRouter(t)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/index/stats", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp IndexStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Stats["files"] != 2 {
		t.Errorf("files = %d, want 2", resp.Stats["files"])
	}
	if resp.Stats["symbols"] == 0 {
		t.Error("symbols must be counted")
	}
	if resp.Snapshot != nil {
		t.Errorf("no store configured, Snapshot = %+v", resp.Snapshot)
	}
}

func TestIndexStats_WithSnapshotMetadata(t *testing.T) {
	store := openTestStore(t)
	idx := buildServerIndex(t)
	if _, err := store.Save(context.Background(), idx, "test"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h, err := NewHandlers(idx, WithSnapshotStore(store))
	if err != nil {
		t.Fatalf("NewHandlers: %v", err)
	}
	router := NewRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/index/stats", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp IndexStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Snapshot == nil || resp.Snapshot.Label != "test" {
		t.Errorf("Snapshot = %+v, want saved metadata", resp.Snapshot)
	}
}

func TestListSnapshots_NoStore(t *testing.T) {
	router, _ := setupRouter(t)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/index/snapshots", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestLastSession(t *testing.T) {
	router, h := setupRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/session/last", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status before any session = %d, want 404", w.Code)
	}

	h.RecordSession(&orchestrator.SessionResult{
		SessionID: "s-1",
		Success:   true,
		Attempts:  1,
	})

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/session/last", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp orchestrator.SessionResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID != "s-1" || !resp.Success {
		t.Errorf("resp = %+v", resp)
	}
}
