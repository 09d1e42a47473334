// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// serviceName labels spans emitted by the HTTP middleware.
const serviceName = "remedy-debug"

// RegisterRoutes registers the debug endpoints with the router group.
//
// Description:
//
//	Registers all /v1/* debug endpoints. The group should already carry
//	any required middleware.
//
// Endpoints:
//
//	GET /v1/index/stats     - Live index counters + latest snapshot metadata
//	GET /v1/index/snapshots - Persisted snapshot metadata listing
//	GET /v1/session/last    - Summary of the most recent repair session
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	idx := rg.Group("/index")
	{
		idx.GET("/stats", h.HandleIndexStats)
		idx.GET("/snapshots", h.HandleListSnapshots)
	}
	rg.GET("/session/last", h.HandleLastSession)
}

// NewRouter builds the debug router: recovery, OTel middleware, the
// root health probe, and the /v1 endpoint group.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/healthz", h.HandleHealth)

	v1 := router.Group("/v1")
	RegisterRoutes(v1, h)
	return router
}
