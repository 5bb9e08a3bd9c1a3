// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator/admission"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                       `json:"status"`
	UptimeSeconds int64                        `json:"uptime_seconds"`
	Breakers      map[string]resilience.Stats  `json:"breakers"`
	Admission     admission.Stats              `json:"admission"`
	Sessions      int                          `json:"sessions"`
}

// HandleHealth serves GET /health.
//
// # Description
//
// Aggregates breaker health, admission counters, and the live session
// count. Healthy and degraded report 200 so load balancers keep routing
// during partial outages; only unhealthy reports 503.
func HandleHealth(registry *resilience.Registry, gate *admission.Controller,
	store *session.Store, startedAt time.Time) gin.HandlerFunc {

	return func(c *gin.Context) {
		health := registry.SystemHealth()

		resp := HealthResponse{
			Status:        string(health.Status),
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
			Breakers:      health.Services,
			Admission:     gate.Stats(),
			Sessions:      store.Len(),
		}

		if m := observability.DefaultMetrics; m != nil {
			m.SetAdmission(resp.Admission.Active, resp.Admission.Queued)
			m.SetActiveSessions(resp.Sessions)
		}

		status := http.StatusOK
		if health.Status == resilience.Unhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
