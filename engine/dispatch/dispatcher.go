// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dispatch invokes registered analysis methods on behalf of
// executors. The dispatcher is the single choke point between a contract's
// declared method inputs and the code that runs them: it verifies the
// (class, method) pair, injects contextual signals, applies an optional
// rate limit, and wraps every failure in a typed error that preserves the
// cause.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/THEBLESSMAN867/farfan/engine/registry"
	"github.com/THEBLESSMAN867/farfan/engine/signals"
)

// =============================================================================
// Errors
// =============================================================================

// ErrNilRegistry indicates a dispatcher was constructed without a registry.
var ErrNilRegistry = errors.New("dispatch: nil registry")

// ExecutionError wraps a method invocation failure. The cause is always
// preserved so callers can unwrap to registry sentinels or method errors.
type ExecutionError struct {
	Class      string
	Method     string
	QuestionID string
	Cause      error
}

func (e *ExecutionError) Error() string {
	if e.QuestionID != "" {
		return fmt.Sprintf("dispatch: %s.%s for %s: %v", e.Class, e.Method, e.QuestionID, e.Cause)
	}
	return fmt.Sprintf("dispatch: %s.%s: %v", e.Class, e.Method, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// =============================================================================
// Dispatcher
// =============================================================================

// Call names one method invocation requested by a contract.
type Call struct {
	Class  string
	Method string

	// Params carries the contract-declared parameters, already resolved
	// by the caller.
	Params map[string]any
}

// Config configures a Dispatcher.
type Config struct {
	// Signals is the contextual signal cache. Optional; when nil no
	// signals are injected.
	Signals *signals.Cache

	// Limiter throttles invocations across the run. Optional.
	Limiter *rate.Limiter

	// Logger receives per-invocation failures. Optional.
	Logger *slog.Logger
}

// Dispatcher resolves and invokes registered methods.
//
// Thread Safety: Safe for concurrent use. The registry and signal cache
// are themselves concurrency-safe and the dispatcher holds no mutable
// state of its own.
type Dispatcher struct {
	registry *registry.Registry
	signals  *signals.Cache
	limiter  *rate.Limiter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New constructs a dispatcher over a method registry.
func New(reg *registry.Registry, config Config) (*Dispatcher, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		signals:  config.Signals,
		limiter:  config.Limiter,
		logger:   logger.With(slog.String("component", "dispatcher")),
		tracer:   otel.Tracer("farfan/dispatch"),
	}, nil
}

// Dispatch invokes one registered method.
//
// Description:
//
//	Resolves the (class, method) pair, injects contextual signals keyed
//	by the input's question id, waits on the rate limiter, and runs the
//	method under a span. Any failure, including an unknown pair, comes
//	back as an *ExecutionError wrapping the cause.
//
// Inputs:
//   - ctx: Cancellation and rate-limit context.
//   - call: The method to run and its parameters.
//   - in: The execution input. The dispatcher fills Params and Signals.
//
// Outputs:
//   - map[string]any: The method's raw output on success.
//   - error: An *ExecutionError on any failure.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, in *registry.Input) (map[string]any, error) {
	fn, err := d.registry.Resolve(call.Class, call.Method)
	if err != nil {
		return nil, d.fail(call, in, err)
	}

	in.Params = call.Params
	if d.signals != nil && in.QuestionID != "" {
		sig, err := d.signals.Get(ctx, in.QuestionID)
		if err != nil {
			return nil, d.fail(call, in, fmt.Errorf("signal lookup: %w", err))
		}
		in.Signals = sig
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, d.fail(call, in, err)
		}
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.invoke",
		trace.WithAttributes(
			attribute.String("method.class", call.Class),
			attribute.String("method.name", call.Method),
			attribute.String("question.id", in.QuestionID),
		))
	defer span.End()

	invocationsTotal.WithLabelValues(call.Class).Inc()
	out, err := fn(ctx, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, d.fail(call, in, err)
	}
	return out, nil
}

func (d *Dispatcher) fail(call Call, in *registry.Input, cause error) error {
	failuresTotal.WithLabelValues(call.Class).Inc()
	d.logger.Warn("method invocation failed",
		slog.String("class", call.Class),
		slog.String("method", call.Method),
		slog.String("question_id", in.QuestionID),
		slog.String("error", cause.Error()))
	return &ExecutionError{
		Class:      call.Class,
		Method:     call.Method,
		QuestionID: in.QuestionID,
		Cause:      cause,
	}
}
