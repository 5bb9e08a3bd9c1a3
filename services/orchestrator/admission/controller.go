// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admission bounds how many request pipelines execute concurrently.
// Excess requests queue FIFO up to a configurable depth; beyond that they
// are rejected so a stalled dependency cannot grow the queue without bound.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueFull matches a rejected submission when the wait queue is full.
var ErrQueueFull = errors.New("admission queue is full")

// QueueFullError reports that both the execution slots and the wait queue
// are exhausted. Retry is left to caller policy.
type QueueFullError struct {
	Capacity int
	MaxQueue int
}

// Error implements the error interface.
func (e *QueueFullError) Error() string {
	return fmt.Sprintf("admission rejected: %d slots busy and %d requests queued", e.Capacity, e.MaxQueue)
}

// Is reports whether target is ErrQueueFull.
func (e *QueueFullError) Is(target error) bool {
	return target == ErrQueueFull
}

// Config holds admission limits.
//
// # Fields
//
//   - Capacity: Maximum concurrently executing pipelines. Default: 8.
//   - MaxQueue: Maximum queued waiters before rejection. Default: 64.
type Config struct {
	Capacity int
	MaxQueue int
}

// DefaultConfig returns sensible admission defaults.
func DefaultConfig() Config {
	return Config{Capacity: 8, MaxQueue: 64}
}

// waiter is one queued acquisition. The slot is handed over by closing
// ready; abandoned marks a waiter whose context was cancelled so Release
// skips it instead of leaking the slot.
type waiter struct {
	ready     chan struct{}
	abandoned bool
}

// Stats is a snapshot of admission state.
type Stats struct {
	Capacity      int   `json:"capacity"`
	Active        int   `json:"active"`
	Queued        int   `json:"queued"`
	TotalAdmitted int64 `json:"total_admitted"`
	TotalQueued   int64 `json:"total_queued"`
	TotalRejected int64 `json:"total_rejected"`
}

// Controller is the bounded-concurrency admission gate.
//
// # Description
//
// At most Capacity acquisitions are active at once; the invariant
// active <= capacity holds at all times. Excess acquisitions join a FIFO
// queue and receive a slot, strictly in order, as active holders release.
// A queued acquisition can be abandoned via context cancellation.
//
// # Thread Safety
//
// Safe for concurrent use. Construct one Controller per orchestrator
// instance.
type Controller struct {
	config Config

	mu     sync.Mutex
	active int
	queue  []*waiter

	totalAdmitted int64
	totalQueued   int64
	totalRejected int64
}

// NewController creates an admission controller.
//
// Zero-valued config fields are replaced with defaults.
func NewController(config Config) *Controller {
	if config.Capacity <= 0 {
		config.Capacity = 8
	}
	if config.MaxQueue <= 0 {
		config.MaxQueue = 64
	}
	return &Controller{config: config}
}

// Acquire obtains an execution slot, queuing FIFO when all are busy.
//
// # Description
//
// Returns immediately when a slot is free. Otherwise the caller joins the
// wait queue and blocks until an active holder releases its slot or ctx is
// cancelled. When the queue is at MaxQueue the acquisition is rejected
// with *QueueFullError rather than queued.
//
// Every successful Acquire must be paired with exactly one Release.
//
// # Outputs
//
//   - error: *QueueFullError on queue overflow, or ctx.Err() if cancelled
//     while queued.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()

	if c.active < c.config.Capacity {
		c.active++
		c.totalAdmitted++
		c.mu.Unlock()
		return nil
	}

	if len(c.queue) >= c.config.MaxQueue {
		c.totalRejected++
		c.mu.Unlock()
		return &QueueFullError{Capacity: c.config.Capacity, MaxQueue: c.config.MaxQueue}
	}

	w := &waiter{ready: make(chan struct{})}
	c.queue = append(c.queue, w)
	c.totalQueued++
	c.mu.Unlock()

	select {
	case <-w.ready:
		// Slot was handed over by a Release; active already accounts for us.
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		select {
		case <-w.ready:
			// Handoff won the race; we own a slot and must give it back.
			c.releaseLocked()
			c.mu.Unlock()
			return ctx.Err()
		default:
			w.abandoned = true
			c.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Release returns a slot, handing it to the oldest live waiter if any.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
}

// releaseLocked transfers the slot to the queue head or frees it.
// Must be called with lock held.
func (c *Controller) releaseLocked() {
	for len(c.queue) > 0 {
		w := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		if w.abandoned {
			continue
		}
		// Hand the slot over without decrementing active: the waiter
		// becomes the new holder.
		c.totalAdmitted++
		close(w.ready)
		return
	}
	c.active--
}

// Do runs fn under an admission slot.
//
// # Description
//
// Convenience wrapper pairing Acquire with Release. The slot is released
// even if fn panics.
//
// # Example
//
//	err := gate.Do(ctx, func() error {
//	    return pipeline.Chat(ctx, req)
//	})
func (c *Controller) Do(ctx context.Context, fn func() error) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	defer c.Release()
	return fn()
}

// Stats returns a snapshot of admission counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	queued := 0
	for _, w := range c.queue {
		if !w.abandoned {
			queued++
		}
	}

	return Stats{
		Capacity:      c.config.Capacity,
		Active:        c.active,
		Queued:        queued,
		TotalAdmitted: c.totalAdmitted,
		TotalQueued:   c.totalQueued,
		TotalRejected: c.totalRejected,
	}
}
