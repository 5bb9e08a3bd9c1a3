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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStore_Create(t *testing.T) {
	t.Run("generates an id when none given", func(t *testing.T) {
		st := NewStore(DefaultStoreConfig())

		snap, err := st.Create("", "owner-1")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if snap.ID == "" {
			t.Error("expected a generated session id")
		}
		if snap.OwnerID != "owner-1" {
			t.Errorf("OwnerID = %q, want owner-1", snap.OwnerID)
		}
	})

	t.Run("is idempotent for an existing id", func(t *testing.T) {
		st := NewStore(DefaultStoreConfig())

		first, err := st.Create("sess-1", "")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		st.AddTurn("sess-1", RoleUser, "hello", nil)

		again, err := st.Create("sess-1", "")
		if err != nil {
			t.Fatalf("second Create failed: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("ID = %q, want %q", again.ID, first.ID)
		}
		if again.TurnCount != 1 {
			t.Errorf("TurnCount = %d, want 1 (existing session kept)", again.TurnCount)
		}
		if !again.LastAccessedAt.After(first.LastAccessedAt) && !again.LastAccessedAt.Equal(first.LastAccessedAt) {
			t.Error("idempotent create should touch last access time")
		}
	})

	t.Run("rejects create when full of live sessions", func(t *testing.T) {
		st := NewStore(StoreConfig{MaxSessions: 2, SessionTimeout: time.Hour})

		st.Create("a", "")
		st.Create("b", "")

		_, err := st.Create("c", "")
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("Create error = %v, want ErrCapacityExceeded", err)
		}
		var capErr *CapacityError
		if !errors.As(err, &capErr) || capErr.Limit != 2 {
			t.Errorf("error %v does not carry the limit", err)
		}
	})

	t.Run("sweeps expired sessions before rejecting", func(t *testing.T) {
		st := NewStore(StoreConfig{MaxSessions: 2, SessionTimeout: 10 * time.Millisecond})

		st.Create("a", "")
		st.Create("b", "")
		time.Sleep(20 * time.Millisecond)

		snap, err := st.Create("c", "")
		if err != nil {
			t.Fatalf("Create after expiry failed: %v", err)
		}
		if snap.ID != "c" {
			t.Errorf("ID = %q, want c", snap.ID)
		}
	})
}

func TestStore_AddTurn(t *testing.T) {
	st := NewStore(DefaultStoreConfig())
	st.Create("sess-1", "")

	t.Run("rejects a bad role", func(t *testing.T) {
		_, err := st.AddTurn("sess-1", "moderator", "hello", nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("rejects empty content", func(t *testing.T) {
		_, err := st.AddTurn("sess-1", RoleUser, "   ", nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("rejects over-length content", func(t *testing.T) {
		_, err := st.AddTurn("sess-1", RoleUser, strings.Repeat("x", MaxTurnContentBytes+1), nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("rejects unknown session", func(t *testing.T) {
		_, err := st.AddTurn("nope", RoleUser, "hello", nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("appends with timestamp and metadata", func(t *testing.T) {
		turn, err := st.AddTurn("sess-1", RoleAssistant, "hi there", map[string]any{"quality": 0.9})
		if err != nil {
			t.Fatalf("AddTurn failed: %v", err)
		}
		if turn.Timestamp.IsZero() {
			t.Error("turn timestamp not set")
		}
		if turn.Metadata["quality"] != 0.9 {
			t.Errorf("metadata not preserved: %+v", turn.Metadata)
		}
	})
}

func TestStore_HistoryBounds(t *testing.T) {
	st := NewStore(StoreConfig{MaxHistory: 5})
	st.Create("sess-1", "")

	for i := 1; i <= 8; i++ {
		if _, err := st.AddTurn("sess-1", RoleUser, fmt.Sprintf("turn %d", i), nil); err != nil {
			t.Fatalf("AddTurn %d failed: %v", i, err)
		}
	}

	turns, err := st.History("sess-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 5 {
		t.Fatalf("len(turns) = %d, want 5", len(turns))
	}

	// Oldest dropped first: turns 4..8 survive, in insertion order.
	for i, turn := range turns {
		want := fmt.Sprintf("turn %d", i+4)
		if turn.Content != want {
			t.Errorf("turns[%d].Content = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestStore_Recent(t *testing.T) {
	st := NewStore(DefaultStoreConfig())
	st.Create("sess-1", "")
	for i := 1; i <= 4; i++ {
		st.AddTurn("sess-1", RoleUser, fmt.Sprintf("turn %d", i), nil)
	}

	t.Run("zero limit returns empty", func(t *testing.T) {
		turns, err := st.Recent("sess-1", 0)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("len = %d, want 0", len(turns))
		}
	})

	t.Run("limit selects the tail in order", func(t *testing.T) {
		turns, err := st.Recent("sess-1", 2)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(turns) != 2 || turns[0].Content != "turn 3" || turns[1].Content != "turn 4" {
			t.Errorf("unexpected tail: %+v", turns)
		}
	})

	t.Run("oversized limit returns everything", func(t *testing.T) {
		turns, _ := st.Recent("sess-1", 100)
		if len(turns) != 4 {
			t.Errorf("len = %d, want 4", len(turns))
		}
	})
}

func TestStore_UpdatePreferences(t *testing.T) {
	st := NewStore(DefaultStoreConfig())
	st.Create("sess-1", "")

	include := false
	if err := st.UpdatePreferences("sess-1", Preferences{
		ResponseStyle:  "concise",
		MaxTokens:      256,
		IncludeHistory: &include,
	}); err != nil {
		t.Fatalf("UpdatePreferences failed: %v", err)
	}

	// Partial update keeps earlier fields.
	if err := st.UpdatePreferences("sess-1", Preferences{AnalysisType: "velocity"}); err != nil {
		t.Fatalf("second UpdatePreferences failed: %v", err)
	}

	prefs, err := st.Preferences("sess-1")
	if err != nil {
		t.Fatalf("Preferences failed: %v", err)
	}
	if prefs.ResponseStyle != "concise" || prefs.MaxTokens != 256 || prefs.AnalysisType != "velocity" {
		t.Errorf("preferences not merged: %+v", prefs)
	}
	if prefs.IncludeHistory == nil || *prefs.IncludeHistory != false {
		t.Errorf("IncludeHistory = %v, want false", prefs.IncludeHistory)
	}
}

func TestStore_EvictExpired(t *testing.T) {
	st := NewStore(StoreConfig{SessionTimeout: 10 * time.Millisecond})

	st.Create("old", "")
	time.Sleep(20 * time.Millisecond)
	st.Create("fresh", "")

	evicted := st.EvictExpired()
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	if _, err := st.Get("old"); err == nil {
		t.Error("expired session still retrievable")
	}
	if _, err := st.Get("fresh"); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	st := NewStore(DefaultStoreConfig())
	st.Create("sess-1", "")

	if !st.Delete("sess-1") {
		t.Error("Delete returned false for existing session")
	}
	if st.Delete("sess-1") {
		t.Error("Delete returned true for missing session")
	}
	if st.Len() != 0 {
		t.Errorf("Len = %d, want 0", st.Len())
	}
}

func TestStore_ConcurrentAddTurn(t *testing.T) {
	st := NewStore(StoreConfig{MaxHistory: 10})
	st.Create("sess-1", "")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			st.AddTurn("sess-1", RoleUser, fmt.Sprintf("turn %d", n), nil)
		}(i)
	}
	wg.Wait()

	turns, err := st.History("sess-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	// History is bounded regardless of interleaving.
	if len(turns) != 10 {
		t.Errorf("len(turns) = %d, want 10", len(turns))
	}
}
