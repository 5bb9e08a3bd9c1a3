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
)

// Sentinels for errors.Is matching across package boundaries.
var (
	// ErrInvalidInput matches any malformed session operation.
	ErrInvalidInput = errors.New("invalid session input")

	// ErrCapacityExceeded matches a rejected create when the store is full.
	ErrCapacityExceeded = errors.New("session store capacity exceeded")
)

// InputError reports a malformed session operation: a bad role, empty or
// over-length content, or an unknown session id. Never retried.
type InputError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return fmt.Sprintf("invalid session input: %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidInput.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// CapacityError reports that the store is at its session limit even after
// an eviction sweep. Retry is left to caller policy.
type CapacityError struct {
	Limit int
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("session store is full (max %d sessions)", e.Limit)
}

// Is reports whether target is ErrCapacityExceeded.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}
