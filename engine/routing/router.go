// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routing maps chunks to analytical executor classes.
//
// Routing is pure table lookup: a chunk's type is matched against a
// priority-ordered list of executor classes, and the first class capable of
// handling that type wins. Permuting the input chunks never changes any
// per-chunk decision, which is what makes scoring runs reproducible.
//
// Thread Safety:
//
//	Router is safe for concurrent use. The routing table is immutable
//	after construction; invocation counters use atomics.
package routing

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/THEBLESSMAN867/farfan/engine/chunks"
)

// =============================================================================
// Types
// =============================================================================

// Scope describes how often an executor class runs for one document.
type Scope int

const (
	// ScopeChunk executors run once per routed chunk.
	ScopeChunk Scope = iota

	// ScopeDocument executors run once per document regardless of how many
	// chunks route to them. Routing to a document-scoped class is what
	// produces execution savings.
	ScopeDocument
)

// String returns "chunk" or "document".
func (s Scope) String() string {
	if s == ScopeDocument {
		return "document"
	}
	return "chunk"
}

// ExecutorClass declares one analytical class in the canonical priority
// order: its name, the chunk types it can handle, and its invocation scope.
type ExecutorClass struct {
	// Name is the registry class name, e.g. "PolicyDiagnosticAnalyzer".
	Name string

	// Handles lists the chunk types this class can process.
	Handles []chunks.ChunkType

	// Scope is chunk-scoped or whole-document.
	Scope Scope
}

// Route is the routing decision for one chunk. Exactly one of ExecutorClass
// and SkipReason is populated.
type Route struct {
	// ExecutorClass is the selected class name, empty when skipped.
	ExecutorClass string `json:"executor_class,omitempty"`

	// Scope is the selected class's invocation scope.
	Scope Scope `json:"scope"`

	// SkipReason explains why no executor was selected.
	SkipReason string `json:"skip_reason,omitempty"`
}

// Skipped reports whether the chunk was left unrouted.
func (r Route) Skipped() bool {
	return r.ExecutorClass == ""
}

// =============================================================================
// Router
// =============================================================================

// Router performs deterministic chunk dispatch over a canonical class list.
//
// Thread Safety: Safe for concurrent use.
type Router struct {
	// classes is the canonical priority order. List position is the
	// tie-break: the first capable class wins.
	classes []ExecutorClass
	byType  map[chunks.ChunkType]Route
	logger  *slog.Logger

	// Invocation counters by scope, exact under concurrency.
	chunkScoped  atomic.Int64
	documentWide atomic.Int64
	skipped      atomic.Int64
}

// NewRouter builds a Router from the canonical executor class list.
//
// Description:
//
//	Precomputes the per-type routing table by walking the class list in
//	priority order. Class names must be unique and every class must
//	declare at least one handled type.
//
// Inputs:
//   - classes: Canonical, priority-ordered executor classes.
//   - logger: Logger for routing decisions. If nil, uses slog.Default().
//
// Outputs:
//   - *Router: The router. Never nil on success.
//   - error: Non-nil on an empty list, a duplicate name, or a class with
//     no handled types.
func NewRouter(classes []ExecutorClass, logger *slog.Logger) (*Router, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("routing: canonical class list is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]bool, len(classes))
	byType := make(map[chunks.ChunkType]Route)
	for _, class := range classes {
		if class.Name == "" {
			return nil, fmt.Errorf("routing: executor class with empty name")
		}
		if seen[class.Name] {
			return nil, fmt.Errorf("routing: duplicate executor class %q", class.Name)
		}
		seen[class.Name] = true
		if len(class.Handles) == 0 {
			return nil, fmt.Errorf("routing: executor class %q handles no chunk types", class.Name)
		}
		for _, t := range class.Handles {
			// First capable class in canonical order wins the type.
			if _, taken := byType[t]; !taken {
				byType[t] = Route{ExecutorClass: class.Name, Scope: class.Scope}
			}
		}
	}

	return &Router{
		classes: classes,
		byType:  byType,
		logger:  logger.With(slog.String("component", "chunk_router")),
	}, nil
}

// Route returns the deterministic routing decision for one chunk.
//
// An unmapped chunk type yields no executor and a populated SkipReason.
func (r *Router) Route(chunk *chunks.Chunk) Route {
	route, ok := r.byType[chunk.Type]
	if !ok {
		r.skipped.Add(1)
		routingSkipsTotal.WithLabelValues(string(chunk.Type)).Inc()
		return Route{SkipReason: fmt.Sprintf("no executor class handles chunk type %q", chunk.Type)}
	}

	switch route.Scope {
	case ScopeDocument:
		r.documentWide.Add(1)
	default:
		r.chunkScoped.Add(1)
	}
	routingDecisionsTotal.WithLabelValues(route.ExecutorClass, route.Scope.String()).Inc()
	return route
}

// GenerateExecutionMap routes every chunk, keyed by chunk id.
//
// Description:
//
//	Total and order-independent: shuffling the input changes neither the
//	key set nor any per-key Route. Skipped chunks appear in the map with
//	their skip reason so callers can report coverage.
//
// Inputs:
//   - input: Chunks in any order.
//
// Outputs:
//   - map[string]Route: One Route per chunk id.
func (r *Router) GenerateExecutionMap(input []chunks.Chunk) map[string]Route {
	out := make(map[string]Route, len(input))
	for i := range input {
		out[input[i].ID] = r.Route(&input[i])
	}
	return out
}

// =============================================================================
// Execution Savings
// =============================================================================

// SavingsReport summarizes chunk-scoped vs whole-document routing volume.
type SavingsReport struct {
	// ChunkScoped is the count of chunk-scoped routing decisions.
	ChunkScoped int64 `json:"chunk_scoped"`

	// DocumentWide is the count of document-scoped routing decisions.
	DocumentWide int64 `json:"document_wide"`

	// Skipped is the count of unroutable chunks.
	Skipped int64 `json:"skipped"`
}

// Savings returns the cumulative invocation counters across every routing
// call since construction. For a single map use Summarize.
func (r *Router) Savings() SavingsReport {
	return SavingsReport{
		ChunkScoped:  r.chunkScoped.Load(),
		DocumentWide: r.documentWide.Load(),
		Skipped:      r.skipped.Load(),
	}
}

// Summarize computes the savings report of one execution map, independent
// of the router's cumulative counters.
func Summarize(m map[string]Route) SavingsReport {
	var report SavingsReport
	for _, route := range m {
		switch {
		case route.Skipped():
			report.Skipped++
		case route.Scope == ScopeDocument:
			report.DocumentWide++
		default:
			report.ChunkScoped++
		}
	}
	return report
}
