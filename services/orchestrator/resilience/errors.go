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
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is the sentinel matched by errors.Is for any open-circuit
// rejection, regardless of which dependency produced it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a breaker rejects a call without
// invoking the protected operation.
//
// # Description
//
// Carries the dependency name and the remaining cooldown so callers can
// surface a structured retry hint instead of a bare failure. Matches
// ErrCircuitOpen via errors.Is.
//
// # Fields
//
//   - Dependency: Name of the protected dependency (e.g. "generation").
//   - RetryAfter: Time remaining until the breaker will probe recovery.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is open (retry after %s)",
		e.Dependency, e.RetryAfter.Round(time.Millisecond))
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// AsCircuitOpen extracts a *CircuitOpenError from an error chain.
//
// # Outputs
//
//   - *CircuitOpenError: The typed error, or nil.
//   - bool: True if the chain contains a CircuitOpenError.
func AsCircuitOpen(err error) (*CircuitOpenError, bool) {
	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		return coe, true
	}
	return nil, false
}
