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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator/admission"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/pipeline"
)

// HandleAnalyze serves POST /v1/analyze.
func HandleAnalyze(p *pipeline.Pipeline, gate *admission.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleAnalyze")
		defer span.End()
		start := time.Now()

		var req datatypes.AnalyzeRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the analyze request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			slog.Warn("Analyze request failed validation", "request_id", req.RequestID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var result pipeline.AnalyzeResult
		err := gate.Do(ctx, func() error {
			var analyzeErr error
			result, analyzeErr = p.Analyze(ctx, pipeline.AnalyzeRequest{
				AnalysisType: req.AnalysisType,
				Filters:      req.Filters,
				Options: pipeline.Options{
					MaxTokens:   req.Options.MaxTokens,
					Temperature: req.Options.Temperature,
				},
			})
			return analyzeErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordOutcome(observability.OperationAnalyze, false, false, 0)
			writePipelineError(c, req.RequestID, err)
			return
		}
		recordOutcome(observability.OperationAnalyze, true, result.Degraded, result.RetryAfter)
		recordQuality(observability.OperationAnalyze, result.Validation.Score, time.Since(start))

		resp := datatypes.NewAnalyzeResponse(req.RequestID, result.Analysis)
		resp.Degraded = result.Degraded
		resp.RetryAfterMs = result.RetryAfter.Milliseconds()
		resp.ContextsFetched = result.Metadata.ContextsFetched
		resp.Validation = validationInfo(result.Validation)
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()
		c.JSON(http.StatusOK, resp)
	}
}

// HandleRecommendations serves POST /v1/recommendations.
func HandleRecommendations(p *pipeline.Pipeline, gate *admission.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleRecommendations")
		defer span.End()
		start := time.Now()

		var req datatypes.RecommendationsRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the recommendations request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			slog.Warn("Recommendations request failed validation", "request_id", req.RequestID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var result pipeline.RecommendationsResult
		err := gate.Do(ctx, func() error {
			var recErr error
			result, recErr = p.Recommendations(ctx, pipeline.RecommendationsRequest{
				Type:     req.Type,
				Category: req.Category,
				Limit:    req.Limit,
			})
			return recErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordOutcome(observability.OperationRecommendations, false, false, 0)
			writePipelineError(c, req.RequestID, err)
			return
		}
		recordOutcome(observability.OperationRecommendations, true, result.Degraded, result.RetryAfter)
		recordQuality(observability.OperationRecommendations, result.Validation.Score, time.Since(start))

		resp := datatypes.NewRecommendationsResponse(req.RequestID, result.Recommendations)
		resp.Degraded = result.Degraded
		resp.RetryAfterMs = result.RetryAfter.Milliseconds()
		resp.Validation = validationInfo(result.Validation)
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()
		c.JSON(http.StatusOK, resp)
	}
}
