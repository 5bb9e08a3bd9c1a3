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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
)

// ResetBreaker serves POST /v1/breakers/:name/reset.
//
// Resetting an unknown name creates a fresh closed breaker, which is
// harmless; the endpoint reports the state either way.
func ResetBreaker(registry *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		slog.Info("Received a request to reset a circuit breaker", "breaker", name)

		cb := registry.Get(name)
		cb.Reset()
		c.JSON(http.StatusOK, gin.H{
			"breaker": name,
			"state":   cb.State().String(),
			"stats":   cb.Stats(),
		})
	}
}

// ListBreakers serves GET /v1/breakers.
func ListBreakers(registry *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.SystemHealth())
	}
}
