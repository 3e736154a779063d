// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package signals caches contextual signal sets injected into method
// invocations.
//
// Signal computation is delegated to an upstream Source (pattern matching
// is authored outside the core). The cache is one of only two pieces of
// state shared across concurrent question execution, so it is TTL-bounded,
// size-bounded, and guarded by a read-write mutex with atomic counters.
package signals

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Source computes the contextual signals for one cache key.
type Source interface {
	// Signals returns the signal set for a key, e.g. "PA01-DIM01/Q-D1-01".
	Signals(ctx context.Context, key string) (map[string]any, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, key string) (map[string]any, error)

// Signals implements Source.
func (f SourceFunc) Signals(ctx context.Context, key string) (map[string]any, error) {
	return f(ctx, key)
}

// =============================================================================
// Cache
// =============================================================================

// Config configures the signal cache.
type Config struct {
	// TTL is the entry time-to-live. Default: 5 minutes.
	TTL time.Duration

	// MaxLen is the maximum number of entries. Default: 1000.
	MaxLen int

	// Logger for debug output. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxLen: 1000}
}

type cached struct {
	value    map[string]any
	cachedAt time.Time
}

// Cache is a TTL- and size-bounded signal cache over a Source.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cached
	source  Source
	ttl     time.Duration
	maxLen  int
	logger  *slog.Logger

	// Metrics use atomics for lock-free reads.
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCache creates a signal cache over the given source.
//
// Inputs:
//   - source: The signal source. Must not be nil.
//   - config: Cache configuration. Zero values use defaults.
func NewCache(source Source, config Config) *Cache {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.MaxLen <= 0 {
		config.MaxLen = DefaultConfig().MaxLen
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]cached),
		source:  source,
		ttl:     config.TTL,
		maxLen:  config.MaxLen,
		logger:  logger.With(slog.String("component", "signal_cache")),
	}
}

// Get returns the signal set for a key, computing and caching it on a miss.
//
// Description:
//
//	An expired entry counts as a miss and is recomputed. When the cache
//	is full, the oldest entry is evicted. Source failures are returned
//	to the caller and nothing is cached.
//
// Thread Safety: Safe for concurrent use; concurrent misses for the same
// key may race to compute, last write wins.
func (c *Cache) Get(ctx context.Context, key string) (map[string]any, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.cachedAt) < c.ttl {
		c.hits.Add(1)
		cacheHitsTotal.Inc()
		return entry.value, nil
	}
	c.misses.Add(1)
	cacheMissesTotal.Inc()

	value, err := c.source.Signals(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxLen {
		c.evictOldestLocked()
	}
	c.entries[key] = cached{value: value, cachedAt: time.Now()}
	c.mu.Unlock()

	return value, nil
}

// evictOldestLocked removes the entry with the oldest timestamp.
// Caller must hold the write lock.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.cachedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.cachedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions.Add(1)
		c.logger.Debug("Evicted signal cache entry", slog.String("key", oldestKey))
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cached)
	c.mu.Unlock()
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Len       int   `json:"len"`
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       n,
	}
}
