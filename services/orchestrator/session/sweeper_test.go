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
	"context"
	"testing"
	"time"
)

func TestSweeper_StartStop(t *testing.T) {
	st := NewStore(DefaultStoreConfig())
	sw := NewSweeper(st, 10*time.Millisecond)

	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sw.Start(context.Background()); err == nil {
		t.Error("second Start should fail while running")
	}

	if err := sw.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stop is idempotent.
	if err := sw.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	// Restart after stop works.
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	sw.Stop()
}

func TestSweeper_EvictsOnInterval(t *testing.T) {
	st := NewStore(StoreConfig{SessionTimeout: 5 * time.Millisecond})
	st.Create("old", "")

	sw := NewSweeper(st, 10*time.Millisecond)
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sw.Stop()

	deadline := time.After(time.Second)
	for st.Len() > 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never evicted the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSweeper_ContextCancellationStopsLoop(t *testing.T) {
	st := NewStore(DefaultStoreConfig())
	sw := NewSweeper(st, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sw.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	// The loop exits on its own; RunNow still works after cancellation.
	time.Sleep(20 * time.Millisecond)
	if got := sw.RunNow(); got != 0 {
		t.Errorf("RunNow = %d, want 0", got)
	}
}
