// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides the in-memory conversation store for the
// orchestrator. Sessions hold an ordered, size-bounded turn history plus
// per-conversation preferences, and are evicted by TTL sweep or explicit
// deletion. Conversation history does not survive a restart; durable
// storage is deliberately out of scope.
package session

import (
	"time"
)

// Turn roles. Only these three values are accepted by AddTurn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxTurnContentBytes is the maximum size of a single turn's content.
// Matches the bound applied to inbound chat messages.
const MaxTurnContentBytes = 32 * 1024 // 32KB

// Turn is one message exchanged in a session.
//
// # Fields
//
//   - Role: One of "user", "assistant", "system".
//   - Content: Non-empty message text, at most MaxTurnContentBytes.
//   - Timestamp: When the turn was appended.
//   - Metadata: Optional annotations (e.g. response quality data).
type Turn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Preferences holds per-conversation generation preferences.
//
// Zero values mean "use the pipeline default".
type Preferences struct {
	AnalysisType   string  `json:"analysis_type,omitempty"`
	ResponseStyle  string  `json:"response_style,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float32 `json:"temperature,omitempty"`
	IncludeHistory *bool   `json:"include_history,omitempty"`
}

// merge overlays non-zero fields of p onto the receiver.
func (p *Preferences) merge(update Preferences) {
	if update.AnalysisType != "" {
		p.AnalysisType = update.AnalysisType
	}
	if update.ResponseStyle != "" {
		p.ResponseStyle = update.ResponseStyle
	}
	if update.MaxTokens != 0 {
		p.MaxTokens = update.MaxTokens
	}
	if update.Temperature != 0 {
		p.Temperature = update.Temperature
	}
	if update.IncludeHistory != nil {
		p.IncludeHistory = update.IncludeHistory
	}
}

// Session is one conversation's in-memory state.
//
// # Description
//
// Holds the ordered turn history (bounded at the store's maxHistory, oldest
// dropped first) and the conversation preferences. Sessions are created on
// first reference and destroyed by TTL sweep or explicit deletion.
//
// # Thread Safety
//
// Sessions are mutated only while holding the owning Store's lock. Values
// returned by Store methods are copies and safe to retain.
type Session struct {
	ID             string      `json:"session_id"`
	OwnerID        string      `json:"owner_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
	Turns          []Turn      `json:"turns"`
	Preferences    Preferences `json:"preferences"`
}

// Snapshot is the externally visible summary of a session, used by the
// session administration endpoints.
type Snapshot struct {
	ID             string    `json:"session_id"`
	OwnerID        string    `json:"owner_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	TurnCount      int       `json:"turn_count"`
}

// snapshot builds a Snapshot from the session. Caller holds the store lock.
func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		TurnCount:      len(s.Turns),
	}
}
