// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor runs one base slot's contract against a document. Each
// executor is bound to exactly one of the 30 (dimension, question-number)
// slots and turns a question context into a scored question record:
// dispatch the contract's methods, assemble their raw outputs into
// evidence, validate it under the slot's NA policy, and calibrate the
// result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/contracts"
	"github.com/THEBLESSMAN867/farfan/engine/dispatch"
	"github.com/THEBLESSMAN867/farfan/engine/document"
	"github.com/THEBLESSMAN867/farfan/engine/evidence"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
	"github.com/THEBLESSMAN867/farfan/engine/routing"
)

// =============================================================================
// Errors
// =============================================================================

// ErrSlotMismatch indicates a question was handed to the wrong executor.
var ErrSlotMismatch = errors.New("executor: question base slot does not match executor slot")

// ErrNilDependency indicates a required collaborator was missing at
// construction.
var ErrNilDependency = errors.New("executor: nil dependency")

// ErrForeignDispatcher indicates Execute was handed a dispatcher other
// than the one the executor was constructed with. The bound dispatcher is
// the single source of truth for method instances.
var ErrForeignDispatcher = errors.New("executor: dispatcher is not the one this executor was built with")

// AbortError reports a fatal evidence failure under the abort NA policy.
type AbortError struct {
	QuestionID string
	Issues     []evidence.Issue
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("executor: evidence rejected for %s under abort policy: %d errors", e.QuestionID, len(e.Issues))
}

// =============================================================================
// Question Records
// =============================================================================

// QuestionRecord is the complete per-question outcome: the assembled
// evidence, its validation result, the calibrated scores, and the audit
// trail of what ran and what failed.
type QuestionRecord struct {
	QuestionID string    `json:"question_id"`
	BaseSlot   string    `json:"base_slot"`
	DocumentID string    `json:"document_id"`
	StartedAt  time.Time `json:"started_at"`

	// ExecutorClass is the analytical class the question's chunk routed
	// to, empty in flat mode.
	ExecutorClass string `json:"executor_class,omitempty"`

	// Skipped marks a question whose chunk had no capable executor class.
	// SkipReason carries the router's reason.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	// Duration is the wall time of the full pipeline for this question.
	Duration time.Duration `json:"duration"`

	Evidence   evidence.Evidence       `json:"evidence"`
	Trace      *evidence.Trace         `json:"trace,omitempty"`
	Validation evidence.Result         `json:"validation"`
	Scores     calibration.LayerScores `json:"scores"`

	// MethodFailures lists (class, method) pairs that failed and were
	// tolerated under the lenient policy.
	MethodFailures []string `json:"method_failures,omitempty"`
}

// =============================================================================
// Executor
// =============================================================================

// Executor runs one base slot's contract. Construct one per slot through
// BuildAll.
//
// Thread Safety: Safe for concurrent use. All fields are set at
// construction and never mutated.
type Executor struct {
	baseSlot   string
	contract   *contracts.Contract
	dispatcher *dispatch.Dispatcher
	calibrator *calibration.Engine
	logger     *slog.Logger

	// structuredLog records whether a structured logger was wired in, one
	// of the meta layer's transparency facts.
	structuredLog bool
}

// New binds an executor to one base slot contract and one dispatcher.
func New(contract *contracts.Contract, d *dispatch.Dispatcher, cal *calibration.Engine, logger *slog.Logger) (*Executor, error) {
	if contract == nil || d == nil || cal == nil {
		return nil, ErrNilDependency
	}
	structured := logger != nil
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		baseSlot:      contract.BaseSlot,
		contract:      contract,
		dispatcher:    d,
		calibrator:    cal,
		structuredLog: structured,
		logger: logger.With(
			slog.String("component", "executor"),
			slog.String("base_slot", contract.BaseSlot)),
	}, nil
}

// BaseSlot returns the slot this executor serves.
func (e *Executor) BaseSlot() string { return e.baseSlot }

// BuildAll constructs one executor per contract, keyed by base slot. All
// executors share the given dispatcher.
func BuildAll(bySlot map[string]*contracts.Contract, d *dispatch.Dispatcher, cal *calibration.Engine, logger *slog.Logger) (map[string]*Executor, error) {
	out := make(map[string]*Executor, len(bySlot))
	for slot, c := range bySlot {
		ex, err := New(c, d, cal, logger)
		if err != nil {
			return nil, fmt.Errorf("executor for %s: %w", slot, err)
		}
		out[slot] = ex
	}
	return out, nil
}

// Skip builds the record for a question whose chunk the router left
// unrouted. No methods run and no scores are produced.
func Skip(qctx contracts.QuestionContext, documentID, reason string) *QuestionRecord {
	return &QuestionRecord{
		QuestionID: qctx.ID,
		BaseSlot:   qctx.BaseSlot,
		DocumentID: documentID,
		StartedAt:  time.Now(),
		Skipped:    true,
		SkipReason: reason,
	}
}

// Execute runs the full per-question pipeline.
//
// Description:
//
//	Dispatches the contract's method sequence, assembles raw outputs
//	into evidence, validates it, and calibrates the primary method.
//	Under the abort policy any method failure or validation error is
//	fatal; under the lenient policy failures are recorded and the
//	pipeline continues on whatever succeeded.
//
// Inputs:
//   - ctx: Cancellation context.
//   - doc: The document under evaluation.
//   - d: The method dispatcher. Must be the instance the executor was
//     constructed with.
//   - qctx: The question plus its base slot contract. Its base slot must
//     match this executor's.
//   - route: The routing decision for the question's chunk. A skipped
//     route short-circuits to a skip record; a document-scoped route
//     runs every method whole-document. Nil in flat mode.
//
// Outputs:
//   - *QuestionRecord: The scored outcome, or a skip record. Nil on
//     fatal failure.
//   - error: Slot mismatch, foreign dispatcher, dispatch failure under
//     abort, an *AbortError, or a calibration failure.
func (e *Executor) Execute(ctx context.Context, doc *document.Document, d *dispatch.Dispatcher, qctx contracts.QuestionContext, route *routing.Route) (*QuestionRecord, error) {
	if d == nil {
		return nil, ErrNilDependency
	}
	if d != e.dispatcher {
		return nil, ErrForeignDispatcher
	}
	if qctx.BaseSlot != e.baseSlot {
		return nil, fmt.Errorf("%w: got %s, executor serves %s", ErrSlotMismatch, qctx.BaseSlot, e.baseSlot)
	}
	if route != nil && route.Skipped() {
		e.logger.Debug("Question skipped by routing",
			slog.String("question_id", qctx.ID),
			slog.String("reason", route.SkipReason))
		return Skip(qctx, doc.ID, route.SkipReason), nil
	}

	start := time.Now()
	record := &QuestionRecord{
		QuestionID: qctx.ID,
		BaseSlot:   e.baseSlot,
		DocumentID: doc.ID,
		StartedAt:  start,
	}
	if route != nil {
		record.ExecutorClass = route.ExecutorClass
	}
	abort := qctx.NAPolicy() == evidence.PolicyAbort

	var chunk *chunks.Chunk
	if doc.Matrix != nil {
		if c, ok := doc.Matrix.Lookup(qctx.PolicyArea, qctx.Dimension); ok {
			chunk = c
		}
	}
	// A document-scoped route overrides the contract's chunk scoping: the
	// class runs once over the whole document.
	chunkScoped := route == nil || route.Scope == routing.ScopeChunk

	outputs := make(map[string]any, len(e.contract.MethodInputs))
	supplied := make(map[string]bool, len(e.contract.MethodInputs))
	for _, mi := range e.contract.MethodInputs {
		in := &registry.Input{
			Document:   doc,
			QuestionID: qctx.ID,
			BaseSlot:   e.baseSlot,
		}
		if mi.ChunkScoped && chunkScoped {
			in.Chunk = chunk
		}
		out, err := d.Dispatch(ctx, dispatch.Call{Class: mi.Class, Method: mi.Method, Params: mi.Params}, in)
		key := mi.Class + "." + mi.Method
		if err != nil {
			if abort {
				return nil, err
			}
			record.MethodFailures = append(record.MethodFailures, key)
			supplied[key] = false
			continue
		}
		outputs[key] = out
		supplied[key] = true
	}

	ev, trace, err := evidence.Assemble(outputs, e.contract.AssemblyRules)
	if err != nil {
		return nil, fmt.Errorf("assemble %s: %w", qctx.ID, err)
	}
	record.Evidence = ev
	record.Trace = trace

	record.Validation = evidence.Validate(ev, e.contract.ValidationRules, qctx.NAPolicy())
	if abort && !record.Validation.Valid {
		return nil, &AbortError{QuestionID: qctx.ID, Issues: record.Validation.Errors}
	}

	scores, err := e.calibrate(doc, qctx, supplied, trace, time.Since(start))
	if err != nil {
		return nil, err
	}
	record.Scores = scores
	record.Duration = time.Since(start)

	e.logger.Debug("Question executed",
		slog.String("question_id", qctx.ID),
		slog.Float64("aggregate", scores.Aggregate),
		slog.Int("method_failures", len(record.MethodFailures)))
	return record, nil
}

// calibrate scores the contract's primary method for this question. The
// supplied map covers declared chain inputs: a chain input named after a
// (class, method) pair inherits that method's dispatch outcome.
func (e *Executor) calibrate(doc *document.Document, qctx contracts.QuestionContext, dispatched map[string]bool, trace *evidence.Trace, elapsed time.Duration) (calibration.LayerScores, error) {
	primary := e.contract.MethodInputs[0]

	supplied := make(map[string]bool, len(e.contract.ChainInputs))
	for _, ci := range e.contract.ChainInputs {
		if ok, known := dispatched[ci.Name]; known {
			supplied[ci.Name] = ok
		}
	}

	ensemble := make([]calibration.EnsembleMember, 0, len(e.contract.MethodInputs))
	for _, mi := range e.contract.MethodInputs {
		ensemble = append(ensemble, calibration.EnsembleMember{
			Method:   mi.Class + "." + mi.Method,
			Inputs:   sourceFields(e.contract.AssemblyRules, mi.Class+"."+mi.Method),
			RangeMin: 0,
			RangeMax: 1,
		})
	}

	cctx := calibration.Context{
		QuestionID:  qctx.ID,
		Dimension:   qctx.Dimension,
		PolicyArea:  qctx.PolicyArea,
		UnitQuality: calibration.UnitScore(doc.Structure, calibration.DefaultUnitWeights()),
		ChainLength: len(e.contract.MethodInputs),
	}
	in := calibration.Inputs{
		Structure:     doc.Structure,
		ChainInputs:   e.contract.ChainInputs,
		Supplied:      supplied,
		Ensemble:      ensemble,
		FusionRule:    e.contract.FusionRule,
		Meta:          e.metaSignals(qctx, trace),
		ExecutionTime: elapsed,
	}
	return e.calibrator.Score(primary.Class, primary.Method, cctx, in)
}

// sourceFields lists the assembly source paths fed by one method.
func sourceFields(rules []evidence.AssemblyRule, methodKey string) []string {
	var fields []string
	prefix := methodKey + "."
	for _, r := range rules {
		for _, s := range r.Sources {
			if len(s) > len(prefix) && s[:len(prefix)] == prefix {
				fields = append(fields, s)
			}
		}
	}
	return fields
}

// metaSignals derives the transparency and governance facts from the run
// itself: the engine's exported formula, the assembly trace, the wired
// logger, the questionnaire version pin, the contract's calibration-hash
// pin, and the contract signature.
func (e *Executor) metaSignals(qctx contracts.QuestionContext, trace *evidence.Trace) calibration.MetaSignals {
	return calibration.MetaSignals{
		FormulaExported: e.calibrator.Formula() != "",
		FullTrace:       trace != nil && len(trace.Fields) > 0,
		LogConformant:   e.structuredLog,
		VersionPinned:   qctx.Version != "",
		ConfigHashValid: e.contract.CalibrationHash != "" && e.contract.CalibrationHash == e.calibrator.ConfigHash(),
		SignatureValid:  e.contract.Verify(),
	}
}
