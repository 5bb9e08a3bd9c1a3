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
	"testing"
	"time"
)

func TestRegistry_GetCreatesOnce(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.Get("generation")
	b := r.Get("generation")
	if a != b {
		t.Error("Get returned different breakers for the same name")
	}

	c := r.Get("context")
	if a == c {
		t.Error("Get returned the same breaker for different names")
	}
}

func TestRegistry_GetConcurrent(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	var wg sync.WaitGroup
	breakers := make([]*CircuitBreaker, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			breakers[n] = r.Get("generation")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		if breakers[i] != breakers[0] {
			t.Fatal("concurrent Get created more than one breaker")
		}
	}
}

func TestRegistry_GetWithConfig(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	cb := r.GetWithConfig("generation", Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	cb.Execute(context.Background(), failingOp)

	if cb.State() != CircuitOpen {
		t.Errorf("custom threshold not applied, state = %v", cb.State())
	}

	// Existing breaker keeps its config.
	again := r.GetWithConfig("generation", Config{FailureThreshold: 99})
	if again != cb {
		t.Error("GetWithConfig replaced an existing breaker")
	}
}

func TestRegistry_ExecuteDelegates(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	ctx := context.Background()

	r.Execute(ctx, "generation", failingOp)
	r.Execute(ctx, "generation", failingOp)

	states := r.States()
	if states["generation"] != CircuitOpen {
		t.Errorf("state = %v, want open", states["generation"])
	}
}

func TestRegistry_SystemHealth(t *testing.T) {
	t.Run("empty registry is healthy", func(t *testing.T) {
		r := NewRegistry(DefaultConfig())
		if got := r.SystemHealth().Status; got != Healthy {
			t.Errorf("Status = %s, want healthy", got)
		}
	})

	t.Run("one open breaker makes the system unhealthy", func(t *testing.T) {
		r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: time.Hour})
		ctx := context.Background()

		r.Execute(ctx, "generation", failingOp)
		r.Execute(ctx, "context", succeedingOp)

		health := r.SystemHealth()
		if health.Status != Unhealthy {
			t.Errorf("Status = %s, want unhealthy", health.Status)
		}
		if len(health.Services) != 2 {
			t.Errorf("Services = %d entries, want 2", len(health.Services))
		}
		if health.Services["generation"].Health != Unhealthy {
			t.Errorf("generation health = %s, want unhealthy",
				health.Services["generation"].Health)
		}
		if health.Services["context"].Health != Healthy {
			t.Errorf("context health = %s, want healthy",
				health.Services["context"].Health)
		}
	})

	t.Run("degraded without unhealthy reports degraded", func(t *testing.T) {
		r := NewRegistry(Config{FailureThreshold: 100})
		ctx := context.Background()

		// One failure out of two attempts exceeds the degraded rate.
		r.Execute(ctx, "context", failingOp)
		r.Execute(ctx, "context", succeedingOp)

		if got := r.SystemHealth().Status; got != Degraded {
			t.Errorf("Status = %s, want degraded", got)
		}
	})
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	ctx := context.Background()

	r.Execute(ctx, "generation", failingOp)
	r.Execute(ctx, "context", failingOp)
	r.ResetAll()

	for name, state := range r.States() {
		if state != CircuitClosed {
			t.Errorf("breaker %q state = %v, want closed", name, state)
		}
	}
}
