// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides circuit breaker protection for the outbound
// dependency calls made by the orchestrator (text generation and context
// aggregation). Breakers are owned by a Registry instance constructed at
// startup; there is no package-level state, so tests can build isolated
// copies.
package resilience

import (
	"context"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed is normal operation - requests pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures - requests are rejected.
	CircuitOpen
	// CircuitHalfOpen is testing recovery - limited requests allowed.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthStatus is the coarse health bucket derived from breaker state.
type HealthStatus string

const (
	// Healthy means the circuit is closed with a low failure rate.
	Healthy HealthStatus = "healthy"
	// Degraded means the circuit is probing recovery or failing often.
	Degraded HealthStatus = "degraded"
	// Unhealthy means the circuit is open and rejecting calls.
	Unhealthy HealthStatus = "unhealthy"
)

// degradedFailureRate is the rolling failure rate above which a closed
// circuit is reported as degraded rather than healthy.
const degradedFailureRate = 0.3

// Config controls how a circuit breaker responds to failures and recovers.
//
// # Example
//
//	config := Config{
//	    FailureThreshold: 5,                // Open after 5 consecutive failures
//	    SuccessThreshold: 2,                // Close after 2 consecutive successes
//	    OpenTimeout:      30 * time.Second, // Stay open for 30s
//	    CallTimeout:      20 * time.Second, // Per-call deadline
//	}
type Config struct {
	// FailureThreshold is consecutive failures before opening circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 2
	SuccessThreshold int

	// OpenTimeout is how long to stay open before trying half-open.
	// Default: 30 seconds
	OpenTimeout time.Duration

	// CallTimeout is the per-call deadline applied to the protected
	// operation. The derived context is cancelled when it expires, so a
	// well-behaved operation actually stops instead of leaking.
	// Default: 20 seconds
	CallTimeout time.Duration

	// OnStateChange is called when state transitions.
	// Called asynchronously to avoid blocking.
	OnStateChange func(from, to CircuitState)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      20 * time.Second,
	}
}

// Stats contains a snapshot of breaker counters.
type Stats struct {
	Name            string       `json:"name"`
	State           string       `json:"state"`
	TotalCalls      int64        `json:"total_calls"`
	TotalFailures   int64        `json:"total_failures"`
	TotalSuccesses  int64        `json:"total_successes"`
	TotalRejections int64        `json:"total_rejections"`
	CurrentFailures int          `json:"current_failures"`
	AverageCallMs   float64      `json:"average_call_ms"`
	OpenedAt        time.Time    `json:"opened_at,omitempty"`
	Health          HealthStatus `json:"health"`
}

// CircuitBreaker protects a single named dependency call.
//
// # Description
//
// The circuit breaker pattern prevents cascading failures by temporarily
// blocking requests after repeated failures. It has three states:
//
//   - Closed: Normal operation, requests pass through.
//   - Open: After FailureThreshold failures, requests are rejected.
//   - Half-Open: After OpenTimeout, limited requests test recovery.
//
// A per-call deadline is applied via context cancellation; deadline expiry
// counts as a failure against the breaker.
//
// # Thread Safety
//
// Safe for concurrent use.
type CircuitBreaker struct {
	name   string
	config Config

	mu        sync.RWMutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time

	totalCalls      int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
	totalCallTime   time.Duration
}

// NewCircuitBreaker creates a breaker for the named dependency.
//
// Zero-valued config fields are replaced with defaults.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 20 * time.Second
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}
}

// Name returns the dependency name this breaker protects.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Execute runs the operation under circuit breaker protection.
//
// # Description
//
// Checks whether the circuit allows the call, runs the operation under the
// configured per-call deadline, and records the result to update circuit
// state. The operation receives a context that is cancelled when the
// deadline expires, so the underlying call is aborted rather than merely
// abandoned.
//
// # Inputs
//
//   - ctx: Parent context for the operation.
//   - op: The protected operation.
//
// # Outputs
//
//   - error: *CircuitOpenError if rejected without invoking op, the
//     deadline error if the call timed out, or the error from op.
//
// # Example
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return client.Fetch(ctx)
//	})
//	if open, ok := resilience.AsCircuitOpen(err); ok {
//	    // Dependency is known to be down, fail fast.
//	    return fallback(open.RetryAfter)
//	}
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	start := time.Now()
	err := op(callCtx)
	if err == nil && callCtx.Err() != nil {
		// The operation ignored cancellation; the deadline still counts.
		err = callCtx.Err()
	}
	cb.recordResult(err, time.Since(start))
	return err
}

// allowRequest checks whether a call may proceed, transitioning
// OPEN -> HALF_OPEN once the cooldown has elapsed.
func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil

	case CircuitOpen:
		elapsed := time.Since(cb.openedAt)
		if elapsed >= cb.config.OpenTimeout {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		cb.totalRejections++
		return &CircuitOpenError{
			Dependency: cb.name,
			RetryAfter: cb.config.OpenTimeout - elapsed,
		}
	}

	return &CircuitOpenError{Dependency: cb.name, RetryAfter: cb.config.OpenTimeout}
}

// recordResult updates counters and state for a completed call.
func (cb *CircuitBreaker) recordResult(err error, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCallTime += elapsed

	if err != nil {
		cb.totalFailures++
		cb.failures++
		cb.successes = 0

		switch cb.state {
		case CircuitClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.open()
			}
		case CircuitHalfOpen:
			// Any failure while probing reopens immediately.
			cb.open()
		}
		return
	}

	cb.totalSuccesses++
	cb.failures = 0

	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// open transitions to OPEN and records when. Must be called with lock held.
func (cb *CircuitBreaker) open() {
	cb.transitionTo(CircuitOpen)
	cb.openedAt = time.Now()
}

// transitionTo changes state. Must be called with lock held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	old := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0

	if cb.config.OnStateChange != nil {
		// Callback runs without the lock to prevent deadlocks.
		go cb.config.OnStateChange(old, newState)
	}
}

// Health derives the coarse health bucket for this dependency.
//
// # Outputs
//
//   - HealthStatus: Unhealthy while open, Degraded while half-open or when
//     the rolling failure rate exceeds 30%, Healthy otherwise.
func (cb *CircuitBreaker) Health() HealthStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.healthLocked()
}

func (cb *CircuitBreaker) healthLocked() HealthStatus {
	switch cb.state {
	case CircuitOpen:
		return Unhealthy
	case CircuitHalfOpen:
		return Degraded
	}

	attempts := cb.totalSuccesses + cb.totalFailures
	if attempts > 0 && float64(cb.totalFailures)/float64(attempts) > degradedFailureRate {
		return Degraded
	}
	return Healthy
}

// Stats returns a snapshot of breaker counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	avgMs := 0.0
	completed := cb.totalSuccesses + cb.totalFailures
	if completed > 0 {
		avgMs = float64(cb.totalCallTime.Milliseconds()) / float64(completed)
	}

	return Stats{
		Name:            cb.name,
		State:           cb.state.String(),
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejections: cb.totalRejections,
		CurrentFailures: cb.failures,
		AverageCallMs:   avgMs,
		OpenedAt:        cb.openedAt,
		Health:          cb.healthLocked(),
	}
}

// Reset forces the circuit to closed state and zeroes all counters.
//
// Use when the dependency is known to have been fixed externally.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.openedAt = time.Time{}
	cb.totalCalls = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.totalRejections = 0
	cb.totalCallTime = 0

	if old != CircuitClosed && cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, CircuitClosed)
	}
}
