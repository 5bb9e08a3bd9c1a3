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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInsight/services/orchestrator/admission"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/quality"
	"github.com/AleutianAI/AleutianInsight/services/orchestrator/session"
)

var chatTracer = otel.Tracer("insight.orchestrator.handlers")

// HandleChat serves POST /v1/chat.
//
// # Description
//
// Binds and validates the request, then runs the chat pipeline under an
// admission slot. Degraded generations still return 200; only input,
// capacity, and admission failures map to error statuses.
func HandleChat(p *pipeline.Pipeline, gate *admission.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()
		start := time.Now()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			slog.Warn("Chat request failed validation", "request_id", req.RequestID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var result pipeline.ChatResult
		err := gate.Do(ctx, func() error {
			var chatErr error
			result, chatErr = p.Chat(ctx, pipeline.ChatRequest{
				Message:       req.Message,
				SessionID:     req.SessionID,
				ContextType:   req.ContextType,
				ProjectFilter: req.ProjectFilter,
				Options: pipeline.Options{
					MaxTokens:      req.Options.MaxTokens,
					Temperature:    req.Options.Temperature,
					IncludeHistory: req.Options.IncludeHistory,
				},
			})
			return chatErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordOutcome(observability.OperationChat, false, false, 0)
			writePipelineError(c, req.RequestID, err)
			return
		}
		recordOutcome(observability.OperationChat, true, result.Degraded, result.RetryAfter)
		recordQuality(observability.OperationChat, result.Validation.Score, time.Since(start))

		resp := datatypes.NewChatResponse(req.RequestID, result.SessionID, result.Response)
		resp.Degraded = result.Degraded
		resp.RetryAfterMs = result.RetryAfter.Milliseconds()
		resp.ContextType = req.ContextType
		resp.Validation = validationInfo(result.Validation)
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()
		c.JSON(http.StatusOK, resp)
	}
}

// writePipelineError maps pipeline errors onto HTTP statuses.
func writePipelineError(c *gin.Context, requestID string, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		slog.Warn("Request rejected", "request_id", requestID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrCapacityExceeded):
		slog.Warn("Session capacity exceeded", "request_id", requestID, "error", err)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, admission.ErrQueueFull):
		slog.Warn("Admission queue full", "request_id", requestID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		slog.Warn("Request aborted", "request_id", requestID, "error", err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request cancelled or timed out"})
	default:
		slog.Error("Pipeline failed", "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// recordOutcome updates the pipeline request counters when metrics are
// initialized.
func recordOutcome(op observability.Operation, success, degraded bool, retryAfter time.Duration) {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}
	m.RecordRequest(op, success)
	if degraded {
		reason := observability.ReasonGenerationFailed
		if retryAfter > 0 {
			reason = observability.ReasonCircuitOpen
		}
		m.RecordDegraded(op, reason)
	}
}

// recordQuality observes the quality score and total latency when metrics
// are initialized.
func recordQuality(op observability.Operation, score float64, elapsed time.Duration) {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}
	m.RecordQualityScore(op, score)
	m.RecordStageDuration(op, "total", elapsed.Seconds())
}

// validationInfo flattens a quality result for the response body.
func validationInfo(r quality.Result) datatypes.ValidationInfo {
	return datatypes.ValidationInfo{
		IsValid:  r.IsValid,
		Score:    r.Score,
		Level:    string(r.Level),
		Type:     string(r.Type),
		Warnings: r.Warnings,
	}
}
