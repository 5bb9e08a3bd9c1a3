// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"sync"
)

// SystemHealth aggregates per-dependency breaker health.
//
// # Fields
//
//   - Status: Overall status - unhealthy if any dependency is unhealthy,
//     else degraded if any is degraded, else healthy.
//   - Services: Per-dependency breaker snapshots keyed by name.
type SystemHealth struct {
	Status   HealthStatus     `json:"status"`
	Services map[string]Stats `json:"services"`
}

// Registry manages circuit breakers for multiple dependencies.
//
// # Description
//
// Provides a centralized registry for circuit breakers, creating them on
// demand with consistent configuration. The registry is owned by the
// orchestrator instance; construct a fresh one per test instead of sharing
// process-wide state.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
//
// # Example
//
//	registry := resilience.NewRegistry(resilience.DefaultConfig())
//	err := registry.Execute(ctx, "generation", func(ctx context.Context) error {
//	    return llmClient.Chat(ctx, messages, params)
//	})
type Registry struct {
	defaultConfig Config
	mu            sync.RWMutex
	breakers      map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry with a default breaker config.
func NewRegistry(defaultConfig Config) *Registry {
	return &Registry{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*CircuitBreaker),
	}
}

// Get returns the circuit breaker for a dependency, creating it if needed.
//
// # Inputs
//
//   - name: Dependency name (used as key).
//
// # Outputs
//
//   - *CircuitBreaker: The breaker for this dependency, with the registry's
//     default configuration if newly created.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(name, r.defaultConfig)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns a circuit breaker with custom config.
//
// An existing breaker keeps its original configuration.
func (r *Registry) GetWithConfig(name string, config Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, exists := r.breakers[name]; exists {
		return cb
	}

	cb := NewCircuitBreaker(name, config)
	r.breakers[name] = cb
	return cb
}

// Execute runs the operation through the named dependency's breaker.
//
// Equivalent to r.Get(name).Execute(ctx, op).
func (r *Registry) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return r.Get(name).Execute(ctx, op)
}

// ResetAll resets every breaker in the registry to closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// States returns the current state of all breakers keyed by name.
func (r *Registry) States() map[string]CircuitState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]CircuitState, len(r.breakers))
	for name, cb := range r.breakers {
		result[name] = cb.State()
	}
	return result
}

// SystemHealth aggregates per-dependency health into an overall status.
//
// # Outputs
//
//   - SystemHealth: Unhealthy if any dependency is unhealthy, else degraded
//     if any is degraded, else healthy. An empty registry reports healthy.
func (r *Registry) SystemHealth() SystemHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := SystemHealth{
		Status:   Healthy,
		Services: make(map[string]Stats, len(r.breakers)),
	}

	for name, cb := range r.breakers {
		stats := cb.Stats()
		health.Services[name] = stats

		switch stats.Health {
		case Unhealthy:
			health.Status = Unhealthy
		case Degraded:
			if health.Status != Unhealthy {
				health.Status = Degraded
			}
		}
	}

	return health
}
