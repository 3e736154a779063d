// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"fmt"
	"log/slog"
	"sync"
)

// Engine resolves method calibrations and computes the four-layer trust
// score. One Engine is built per run and shared by reference; it exposes
// only Resolve and Score rather than mutable global state.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	config *Config
	logger *slog.Logger

	// Resolved per-(method, context) calibrations, cached for the run.
	mu    sync.RWMutex
	cache map[cacheKey]MethodCalibration
}

type cacheKey struct {
	method string
	ctx    uint64
}

// NewEngine creates a calibration engine over one configuration source.
//
// Inputs:
//   - config: The loaded calibration configuration. Must not be nil.
//   - logger: Logger for calibration events. If nil, uses slog.Default().
//
// Outputs:
//   - *Engine: The engine. Never nil on success.
//   - error: Non-nil for a nil config.
func NewEngine(config *Config, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("calibration: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config: config,
		logger: logger.With(slog.String("component", "calibration_engine")),
		cache:  make(map[cacheKey]MethodCalibration),
	}, nil
}

// ConfigHash returns the digest of the configuration source, for
// contract pinning.
func (e *Engine) ConfigHash() string { return e.config.Hash() }

// Formula exports the aggregation formula in readable form. The meta
// layer treats an exported formula as a transparency fact.
func (e *Engine) Formula() string {
	return fmt.Sprintf("choquet_2additive(layers=[unit chain congruence meta], weights=%v, interactions=%d)",
		e.config.Choquet.LayerWeights, len(e.config.Choquet.Interactions))
}

// Resolve returns the context-modified calibration for a (class, method)
// pair, caching the result for the run's lifetime.
func (e *Engine) Resolve(class, method string, ctx Context) (MethodCalibration, error) {
	key := cacheKey{method: class + "." + method, ctx: ctx.Hash()}

	e.mu.RLock()
	cached, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resolved, err := e.config.Resolve(class, method, ctx)
	if err != nil {
		return MethodCalibration{}, err
	}

	e.mu.Lock()
	e.cache[key] = resolved
	e.mu.Unlock()
	return resolved, nil
}

// Score computes the four layer scores and their Choquet aggregate for one
// method invocation.
//
// Description:
//
//	All layers are pure functions of the declared inputs. Any layer or
//	aggregator failure is returned as a *Error and is fatal for the
//	method: unscoreable output cannot be trusted downstream. An unknown
//	fusion rule is not an error; it scores the congruence layer 0.0 by
//	design of that layer.
//
// Inputs:
//   - class, method: The invoked method key.
//   - ctx: The calibration context.
//   - in: The layer inputs.
//
// Outputs:
//   - LayerScores: The four layer scores plus the aggregate.
//   - error: A *Error on any layer failure.
func (e *Engine) Score(class, method string, ctx Context, in Inputs) (LayerScores, error) {
	methodKey := class + "." + method
	if _, err := e.Resolve(class, method, ctx); err != nil {
		return LayerScores{}, &Error{Layer: "config", Method: methodKey, Cause: err}
	}

	scores := LayerScores{
		Unit:       UnitScore(in.Structure, e.config.UnitWeights),
		Congruence: CongruenceScore(in.Ensemble, in.FusionRule),
		Meta:       MetaScore(in),
	}

	chain, err := ChainScore(in.ChainInputs, in.Supplied)
	if err != nil {
		return LayerScores{}, &Error{Layer: "chain", Method: methodKey, Cause: err}
	}
	scores.Chain = chain

	aggregate, err := Choquet(
		[]float64{scores.Unit, scores.Chain, scores.Congruence, scores.Meta},
		e.config.Choquet.LayerWeights,
		e.config.Choquet.Interactions,
	)
	if err != nil {
		return LayerScores{}, &Error{Layer: "choquet", Method: methodKey, Cause: err}
	}
	scores.Aggregate = aggregate

	e.logger.Debug("Calibration computed",
		slog.String("method", methodKey),
		slog.String("question_id", ctx.QuestionID),
		slog.Float64("aggregate", scores.Aggregate),
	)
	return scores, nil
}
