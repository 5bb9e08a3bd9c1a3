// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response structures for the
// orchestrator HTTP surface.
//
// This file contains the conversational chat endpoint types. For the
// one-shot analysis and recommendation types, see analysis.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Input Bounds
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxRequestedTokens is the upper bound a client may set for generation.
	MaxRequestedTokens = 8192
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against the content
// bound, so oversized multi-byte payloads cannot slip through.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// generateUUID returns a new v4 UUID string.
func generateUUID() string {
	return uuid.NewString()
}

// =============================================================================
// Chat Request Types
// =============================================================================

// ChatOptions are the optional per-request generation knobs.
//
// # Fields
//
//   - MaxTokens: Optional generation cap (1-8192). Falls back to session
//     preferences, then server defaults.
//   - Temperature: Optional sampling temperature (0-2].
//   - IncludeHistory: Optional. When false, prior session turns are left
//     out of the prompt.
type ChatOptions struct {
	MaxTokens      *int     `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=8192"`
	Temperature    *float32 `json:"temperature,omitempty" validate:"omitempty,gt=0,lte=2"`
	IncludeHistory *bool    `json:"include_history,omitempty"`
}

// ChatRequest represents a conversational chat request body.
//
// # Description
//
// ChatRequest carries one user message through the POST /v1/chat endpoint.
// Every request includes a unique ID and timestamp for audit trails. An
// empty SessionID starts a new conversation; the assigned id comes back in
// the response.
//
// # Fields
//
//   - RequestID: Unique identifier for this request (UUID v4). Generated
//     server-side when absent.
//   - Timestamp: Unix timestamp in milliseconds (UTC). Generated
//     server-side when absent.
//   - Message: Required. The user's message, limited to 32KB.
//   - SessionID: Optional. Conversation to continue; empty starts one.
//   - ContextType: Optional. Context to fetch for grounding: "project",
//     "commits", or "stories". Empty skips the context fetch.
//   - ProjectFilter: Optional. Narrows the context fetch to one project.
//   - Options: Optional generation knobs.
//
// # Limitations
//
//   - Context fetch is best-effort; a response may come back ungrounded.
//   - No streaming support.
type ChatRequest struct {
	RequestID     string      `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp     int64       `json:"timestamp" validate:"gte=0"`
	Message       string      `json:"message" validate:"required,maxbytes"`
	SessionID     string      `json:"session_id,omitempty"`
	ContextType   string      `json:"context_type,omitempty" validate:"omitempty,oneof=project commits stories"`
	ProjectFilter string      `json:"project_filter,omitempty"`
	Options       ChatOptions `json:"options,omitempty"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client did not.
func (r *ChatRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// =============================================================================
// Chat Response Types
// =============================================================================

// ValidationInfo is the quality annotation attached to a response.
type ValidationInfo struct {
	IsValid  bool     `json:"is_valid"`
	Score    float64  `json:"quality_score"`
	Level    string   `json:"quality_level"`
	Type     string   `json:"response_type"`
	Warnings []string `json:"warnings,omitempty"`
}

// ChatResponse represents the response to a chat request.
//
// # Description
//
// Every response includes a unique ID, the echoed request ID, and a
// timestamp for audit trails. Degraded marks responses produced without
// the generation backend (open circuit or failed attempt); RetryAfterMs is
// only set when the circuit is open.
//
// # Fields
//
//   - ResponseID: Unique identifier for this response (UUID v4).
//   - RequestID: Echo of the request ID for correlation.
//   - Timestamp: Unix timestamp in milliseconds (UTC).
//   - SessionID: The conversation this turn belongs to.
//   - Answer: The generated (or fallback) response text.
//   - Degraded: True when the answer is a fallback or apology.
//   - RetryAfterMs: Suggested wait before retrying, when known.
//   - ContextType: The context type that grounded the answer, if fetched.
//   - Validation: Quality annotation for the answer.
//   - ProcessingTimeMs: Time taken to process the request.
type ChatResponse struct {
	ResponseID       string         `json:"response_id"`
	RequestID        string         `json:"request_id"`
	Timestamp        int64          `json:"timestamp"`
	SessionID        string         `json:"session_id"`
	Answer           string         `json:"answer"`
	Degraded         bool           `json:"degraded"`
	RetryAfterMs     int64          `json:"retry_after_ms,omitempty"`
	ContextType      string         `json:"context_type,omitempty"`
	Validation       ValidationInfo `json:"validation"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

// NewChatResponse creates a ChatResponse with generated ID and timestamp.
func NewChatResponse(requestID, sessionID, answer string) *ChatResponse {
	return &ChatResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
		SessionID:  sessionID,
		Answer:     answer,
	}
}
