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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sweeper runs the store's TTL eviction on a fixed interval.
//
// # Description
//
// Manages the lifecycle of a background goroutine that periodically calls
// Store.EvictExpired. Uses the ticker + done channel pattern for graceful
// shutdown. The sweeper is owned and stopped by the orchestrator; it is an
// explicit component rather than an ambient timer so tests do not leak
// goroutines across runs.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Sweeper struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewSweeper creates a sweeper for the store.
//
// # Inputs
//
//   - store: The session store to sweep.
//   - interval: How often to run eviction. Values <= 0 default to 1 minute.
//
// # Outputs
//
//   - *Sweeper: Ready to Start().
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.
//
// # Description
//
// Starts a goroutine that evicts expired sessions at the configured
// interval until Stop() is called or the context is cancelled.
//
// # Outputs
//
//   - error: Non-nil if the sweeper is already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset done channel for potential restart
	s.mu.Unlock()

	slog.Info("Session TTL sweeper starting", "interval", s.interval.String())

	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to exit. Safe to call multiple times.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil // Already stopped
	}

	slog.Info("Session TTL sweeper stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow triggers an immediate eviction sweep outside the schedule.
func (s *Sweeper) RunNow() int {
	return s.store.EvictExpired()
}

// runLoop is the sweeper goroutine.
func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session TTL sweeper stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Session TTL sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			if evicted := s.store.EvictExpired(); evicted > 0 {
				slog.Info("Session TTL sweep completed",
					"evicted", evicted,
					"remaining", s.store.Len(),
				)
			} else {
				slog.Debug("Session TTL sweep completed (no expired sessions)")
			}
		}
	}
}
