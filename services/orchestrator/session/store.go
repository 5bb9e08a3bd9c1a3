// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoreConfig holds capacity and retention settings for the session store.
//
// # Fields
//
//   - MaxSessions: Maximum live sessions. Default: 1000.
//   - MaxHistory: Maximum turns retained per session, oldest dropped first.
//     Default: 50.
//   - SessionTimeout: Idle time after which a session is eligible for
//     eviction. Default: 30 minutes.
type StoreConfig struct {
	MaxSessions    int
	MaxHistory     int
	SessionTimeout time.Duration
}

// DefaultStoreConfig returns sensible default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxSessions:    1000,
		MaxHistory:     50,
		SessionTimeout: 30 * time.Minute,
	}
}

// Store is the in-memory session map with capacity and TTL enforcement.
//
// # Description
//
// Creates, retrieves, and evicts conversation sessions. The store enforces
// two invariants: it never holds more than MaxSessions sessions (expired
// sessions are swept before a create is rejected), and no session's history
// exceeds MaxHistory turns.
//
// Individual operations are serialized by the store mutex, but the store
// does not serialize whole request pipelines per session: two concurrent
// pipelines against the same session id interleave at the append step, so
// turn order reflects completion order, not submission order. That is a
// known property of the design, not an accident; see DESIGN.md.
//
// # Thread Safety
//
// Safe for concurrent use. Construct one Store per orchestrator instance;
// do not share across independent test instances.
type Store struct {
	config StoreConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
//
// Zero-valued config fields are replaced with defaults.
func NewStore(config StoreConfig) *Store {
	if config.MaxSessions <= 0 {
		config.MaxSessions = 1000
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = 50
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 30 * time.Minute
	}

	return &Store{
		config:   config,
		sessions: make(map[string]*Session),
	}
}

// Create returns the session for id, creating it if needed.
//
// # Description
//
// If id names an existing session, its last-access time is touched and the
// existing session is returned (idempotent create). An empty id generates a
// new UUID. When the store is full, an eviction sweep runs first; if the
// store is still full the create is rejected.
//
// # Inputs
//
//   - id: Session id, or "" to generate one.
//   - ownerID: Optional owner identifier recorded on new sessions.
//
// # Outputs
//
//   - Snapshot: Summary of the created or touched session.
//   - error: *CapacityError if the store is full after sweeping.
func (st *Store) Create(id, ownerID string) (Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if existing, ok := st.sessions[id]; ok {
			existing.LastAccessedAt = time.Now()
			return existing.snapshot(), nil
		}
	}

	if len(st.sessions) >= st.config.MaxSessions {
		evicted := st.evictExpiredLocked()
		if evicted > 0 {
			slog.Debug("Evicted expired sessions before create", "count", evicted)
		}
		if len(st.sessions) >= st.config.MaxSessions {
			return Snapshot{}, &CapacityError{Limit: st.config.MaxSessions}
		}
	}

	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	sess := &Session{
		ID:             id,
		OwnerID:        ownerID,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	st.sessions[id] = sess
	return sess.snapshot(), nil
}

// Get returns a snapshot of the session, touching its last-access time.
func (st *Store) Get(id string) (Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return Snapshot{}, &InputError{Field: "session_id", Reason: "unknown session " + id}
	}
	sess.LastAccessedAt = time.Now()
	return sess.snapshot(), nil
}

// AddTurn validates and appends a turn to the session's history.
//
// # Description
//
// The role must be one of user/assistant/system and the content must be
// non-empty (after trimming) and at most MaxTurnContentBytes. After the
// append, history is truncated to the most recent MaxHistory turns and the
// session's last-access time is touched.
//
// # Outputs
//
//   - Turn: The appended turn (with timestamp set).
//   - error: *InputError on a bad role, bad content, or unknown session.
func (st *Store) AddTurn(id, role, content string, metadata map[string]any) (Turn, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Turn{}, &InputError{Field: "role", Reason: "must be user, assistant, or system"}
	}
	if strings.TrimSpace(content) == "" {
		return Turn{}, &InputError{Field: "content", Reason: "must not be empty"}
	}
	if len(content) > MaxTurnContentBytes {
		return Turn{}, &InputError{Field: "content", Reason: "exceeds maximum length"}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return Turn{}, &InputError{Field: "session_id", Reason: "unknown session " + id}
	}

	turn := Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	sess.Turns = append(sess.Turns, turn)
	if excess := len(sess.Turns) - st.config.MaxHistory; excess > 0 {
		sess.Turns = sess.Turns[excess:]
	}
	sess.LastAccessedAt = turn.Timestamp

	return turn, nil
}

// History returns all turns in insertion order.
func (st *Store) History(id string) ([]Turn, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, &InputError{Field: "session_id", Reason: "unknown session " + id}
	}

	out := make([]Turn, len(sess.Turns))
	copy(out, sess.Turns)
	return out, nil
}

// Recent returns the last limit turns in insertion order.
//
// limit == 0 returns an empty slice; a limit larger than the history
// returns everything.
func (st *Store) Recent(id string, limit int) ([]Turn, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, &InputError{Field: "session_id", Reason: "unknown session " + id}
	}

	if limit < 0 {
		limit = 0
	}
	if limit > len(sess.Turns) {
		limit = len(sess.Turns)
	}
	out := make([]Turn, limit)
	copy(out, sess.Turns[len(sess.Turns)-limit:])
	return out, nil
}

// UpdatePreferences overlays the non-zero fields of update onto the
// session's preferences and touches its last-access time.
func (st *Store) UpdatePreferences(id string, update Preferences) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return &InputError{Field: "session_id", Reason: "unknown session " + id}
	}
	sess.Preferences.merge(update)
	sess.LastAccessedAt = time.Now()
	return nil
}

// Preferences returns a copy of the session's preferences.
func (st *Store) Preferences(id string) (Preferences, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return Preferences{}, &InputError{Field: "session_id", Reason: "unknown session " + id}
	}
	return sess.Preferences, nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; !ok {
		return false
	}
	delete(st.sessions, id)
	return true
}

// EvictExpired removes every session idle longer than SessionTimeout.
//
// # Outputs
//
//   - int: Number of sessions evicted.
func (st *Store) EvictExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.evictExpiredLocked()
}

// evictExpiredLocked performs the sweep. Must be called with lock held.
func (st *Store) evictExpiredLocked() int {
	cutoff := time.Now().Add(-st.config.SessionTimeout)
	evicted := 0
	for id, sess := range st.sessions {
		if sess.LastAccessedAt.Before(cutoff) {
			delete(st.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// List returns snapshots of all live sessions. Order is unspecified.
func (st *Store) List() []Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]Snapshot, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}
