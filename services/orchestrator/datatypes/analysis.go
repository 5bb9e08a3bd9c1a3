// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the one-shot analysis and recommendations endpoint
// types. For the conversational chat types, see chat.go.
package datatypes

import "time"

// =============================================================================
// Analyze Types
// =============================================================================

// AnalyzeRequest represents a one-shot analysis request body.
//
// # Fields
//
//   - RequestID: Unique identifier (UUID v4). Generated server-side when
//     absent.
//   - Timestamp: Unix timestamp in milliseconds (UTC). Generated
//     server-side when absent.
//   - AnalysisType: Required. One of "velocity", "health", "activity",
//     "portfolio".
//   - Filters: Optional key-value filters forwarded to the context fetch.
//   - Options: Optional generation knobs.
type AnalyzeRequest struct {
	RequestID    string            `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp    int64             `json:"timestamp" validate:"gte=0"`
	AnalysisType string            `json:"analysis_type" validate:"required,oneof=velocity health activity portfolio"`
	Filters      map[string]string `json:"filters,omitempty"`
	Options      ChatOptions       `json:"options,omitempty"`
}

// Validate validates the AnalyzeRequest fields.
func (r *AnalyzeRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client did not.
func (r *AnalyzeRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// AnalyzeResponse represents the response to an analysis request.
type AnalyzeResponse struct {
	ResponseID       string         `json:"response_id"`
	RequestID        string         `json:"request_id"`
	Timestamp        int64          `json:"timestamp"`
	Analysis         string         `json:"analysis"`
	Degraded         bool           `json:"degraded"`
	RetryAfterMs     int64          `json:"retry_after_ms,omitempty"`
	ContextsFetched  []string       `json:"contexts_fetched,omitempty"`
	Validation       ValidationInfo `json:"validation"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

// NewAnalyzeResponse creates an AnalyzeResponse with generated ID and
// timestamp.
func NewAnalyzeResponse(requestID, analysis string) *AnalyzeResponse {
	return &AnalyzeResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
		Analysis:   analysis,
	}
}

// =============================================================================
// Recommendations Types
// =============================================================================

// RecommendationsRequest represents a recommendations request body.
//
// # Fields
//
//   - Type: Optional context type to ground the recommendations; defaults
//     to "project".
//   - Category: Optional filter category forwarded to the context fetch.
//   - Limit: Optional cap on returned items (1-20). Default: 5.
type RecommendationsRequest struct {
	RequestID string `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
	Type      string `json:"type,omitempty" validate:"omitempty,oneof=project commits stories"`
	Category  string `json:"category,omitempty"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0,lte=20"`
}

// Validate validates the RecommendationsRequest fields.
func (r *RecommendationsRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client did not.
func (r *RecommendationsRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// RecommendationsResponse represents the response to a recommendations
// request.
type RecommendationsResponse struct {
	ResponseID       string         `json:"response_id"`
	RequestID        string         `json:"request_id"`
	Timestamp        int64          `json:"timestamp"`
	Recommendations  []string       `json:"recommendations"`
	Degraded         bool           `json:"degraded"`
	RetryAfterMs     int64          `json:"retry_after_ms,omitempty"`
	Validation       ValidationInfo `json:"validation"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

// NewRecommendationsResponse creates a RecommendationsResponse with
// generated ID and timestamp.
func NewRecommendationsResponse(requestID string, recommendations []string) *RecommendationsResponse {
	return &RecommendationsResponse{
		ResponseID:      generateUUID(),
		RequestID:       requestID,
		Timestamp:       time.Now().UnixMilli(),
		Recommendations: recommendations,
	}
}
