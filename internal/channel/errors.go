// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package channel

import (
	"errors"
	"fmt"
	"time"
)

// AuthenticationError indicates the upstream rejected our credential. This is
// fatal until an operator re-authenticates; retrying does not help.
type AuthenticationError struct {
	Upstream string
	Message  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Upstream, e.Message)
}

// RateLimitedError indicates the local token bucket (or the upstream itself)
// rejected the call. RetryAfter is the caller-facing wait estimate.
type RateLimitedError struct {
	Upstream   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Upstream, e.RetryAfter)
}

// CircuitOpenError indicates the circuit breaker rejected the call without
// contacting the upstream.
type CircuitOpenError struct {
	Upstream string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open, upstream considered down", e.Upstream)
}

// NetworkError wraps a timeout or connection failure.
type NetworkError struct {
	Upstream string
	Op       string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error during %s: %v", e.Upstream, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError indicates the upstream rejected the payload. Generally not
// retryable without a fix.
type ValidationError struct {
	Upstream string
	Status   int
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation rejected (status %d): %s", e.Upstream, e.Status, e.Message)
}

// APIError is the catch-all for upstream business errors.
type APIError struct {
	Upstream string
	Status   int
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: api error %d (%s): %s", e.Upstream, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: api error %d: %s", e.Upstream, e.Status, e.Message)
}

// circuitAffecting reports whether an HTTP status counts as an upstream
// failure for the circuit breaker. 5xx and 429 are failures; all other
// non-2xx statuses are client errors that must not trip the circuit.
func circuitAffecting(status int) bool {
	return status >= 500 || status == 429
}

// Transient reports whether the error is worth retrying later without
// operator intervention.
func Transient(err error) bool {
	var rl *RateLimitedError
	var co *CircuitOpenError
	var ne *NetworkError
	var ae *APIError
	switch {
	case errors.As(err, &rl), errors.As(err, &co), errors.As(err, &ne):
		return true
	case errors.As(err, &ae):
		return ae.Status >= 500
	default:
		return false
	}
}
