// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"errors"
	"sync"
)

// ErrBreakerOpen indicates the run's circuit breaker has tripped and no
// further question executions are admitted.
var ErrBreakerOpen = errors.New("orchestrator: circuit breaker open")

// DefaultBreakerThreshold is the consecutive-failure count that opens the
// breaker.
const DefaultBreakerThreshold = 3

// CircuitBreaker trips after a fixed number of consecutive failures. A
// single success closes the failure streak; Reset reopens admission after
// a trip.
//
// Thread Safety: Safe for concurrent use. Counting is exact: concurrent
// failures never over- or under-trip the breaker.
type CircuitBreaker struct {
	threshold int

	mu          sync.Mutex
	consecutive int
	open        bool
	trips       int
}

// NewCircuitBreaker constructs a breaker. A threshold below 1 falls back
// to DefaultBreakerThreshold.
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold < 1 {
		threshold = DefaultBreakerThreshold
	}
	return &CircuitBreaker{threshold: threshold}
}

// Allow reports whether a new execution is admitted.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open
}

// RecordSuccess closes the current failure streak.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// RecordFailure counts one failure and trips the breaker when the streak
// reaches the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold && !b.open {
		b.open = true
		b.trips++
		breakerTripsTotal.Inc()
	}
}

// Open reports the tripped state.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Trips returns how many times the breaker has tripped since construction.
func (b *CircuitBreaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Reset closes the breaker and clears the failure streak.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.consecutive = 0
}
