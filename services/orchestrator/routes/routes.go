// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator/admission"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/resilience"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

// Deps carries the collaborators the route handlers close over.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Registry  *resilience.Registry
	Store     *session.Store
	Gate      *admission.Controller
	StartedAt time.Time
}

// SetupRoutes wires every endpoint onto the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth(deps.Registry, deps.Gate, deps.Store, deps.StartedAt))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", handlers.HandleChat(deps.Pipeline, deps.Gate))
		v1.POST("/analyze", handlers.HandleAnalyze(deps.Pipeline, deps.Gate))
		v1.POST("/recommendations", handlers.HandleRecommendations(deps.Pipeline, deps.Gate))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(deps.Store))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(deps.Store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.Store))
		}

		// Circuit breaker administration routes
		breakers := v1.Group("/breakers")
		{
			breakers.GET("", handlers.ListBreakers(deps.Registry))
			breakers.POST("/:name/reset", handlers.ResetBreaker(deps.Registry))
		}
	}
}
