// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server is the read-only debug surface: index statistics,
// snapshot metadata, and the last repair session summary. It is an
// operational window into a long-lived remedy process, not part of the
// repair loop itself.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/remedy/services/repair/index"
	"github.com/AleutianAI/remedy/services/repair/orchestrator"
)

// defaultSnapshotListLimit bounds the /index/snapshots response.
const defaultSnapshotListLimit = 20

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IndexStatsResponse is the /v1/index/stats payload.
type IndexStatsResponse struct {
	Root  string         `json:"root"`
	Stats map[string]int `json:"stats"`

	// Snapshot is the latest persisted snapshot's metadata; omitted when
	// no store is configured or nothing has been saved.
	Snapshot *index.SnapshotMetadata `json:"snapshot,omitempty"`
}

// Handlers serves the debug endpoints over a live index.
//
// Thread Safety: safe for concurrent use; the last-session record is
// mutex-guarded and everything else is read-only.
type Handlers struct {
	idx    *index.CodeIndex
	store  *index.SnapshotStore
	logger *slog.Logger

	mu   sync.RWMutex
	last *orchestrator.SessionResult
}

// HandlersOption customizes Handlers.
type HandlersOption func(*Handlers)

// WithSnapshotStore enables snapshot metadata in the stats and snapshot
// listing endpoints.
func WithSnapshotStore(store *index.SnapshotStore) HandlersOption {
	return func(h *Handlers) { h.store = store }
}

// WithHandlersLogger replaces the default logger.
func WithHandlersLogger(logger *slog.Logger) HandlersOption {
	return func(h *Handlers) { h.logger = logger }
}

// NewHandlers creates the debug handlers over a built index.
func NewHandlers(idx *index.CodeIndex, opts ...HandlersOption) (*Handlers, error) {
	if idx == nil {
		return nil, errors.New("server: index must not be nil")
	}
	h := &Handlers{idx: idx, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RecordSession publishes a finished session so /v1/session/last can
// report it.
func (h *Handlers) RecordSession(result *orchestrator.SessionResult) {
	if result == nil {
		return
	}
	h.mu.Lock()
	h.last = result
	h.mu.Unlock()
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleIndexStats handles GET /v1/index/stats.
//
// Description:
//
//	Returns the live index counters and, when a snapshot store is
//	configured, the latest snapshot's metadata. A missing snapshot is
//	not an error; the field is simply omitted.
func (h *Handlers) HandleIndexStats(c *gin.Context) {
	resp := IndexStatsResponse{
		Root:  h.idx.Root(),
		Stats: h.idx.Stats(),
	}
	if h.store != nil {
		if _, meta, err := h.store.LoadLatest(c.Request.Context(), h.idx.Root()); err == nil {
			resp.Snapshot = meta
		} else if !errors.Is(err, index.ErrSnapshotNotFound) {
			h.logger.Warn("snapshot metadata lookup failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListSnapshots handles GET /v1/index/snapshots.
//
// Query Parameters:
//
//	limit: maximum snapshots to return, default 20.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no snapshot store configured",
			Code:  "SNAPSHOTS_UNAVAILABLE",
		})
		return
	}
	limit := defaultSnapshotListLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	metas, err := h.store.List(c.Request.Context(), h.idx.Root(), limit)
	if err != nil {
		h.logger.Error("snapshot listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "snapshot listing failed",
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": metas})
}

// HandleLastSession handles GET /v1/session/last.
func (h *Handlers) HandleLastSession(c *gin.Context) {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	if last == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no session has run yet",
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, last)
}
