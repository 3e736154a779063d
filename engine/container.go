// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/contracts"
	"github.com/THEBLESSMAN867/farfan/engine/dispatch"
	"github.com/THEBLESSMAN867/farfan/engine/document"
	"github.com/THEBLESSMAN867/farfan/engine/executor"
	"github.com/THEBLESSMAN867/farfan/engine/orchestrator"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
	"github.com/THEBLESSMAN867/farfan/engine/routing"
	"github.com/THEBLESSMAN867/farfan/engine/runstore"
	"github.com/THEBLESSMAN867/farfan/engine/signals"
)

// ErrBadWiring indicates the container was constructed with missing or
// inconsistent dependencies.
var ErrBadWiring = errors.New("engine: bad container wiring")

// documentKey is the run-bag slot carrying the document under evaluation.
const documentKey = "document"

// executionMapKey is the run-bag slot carrying the phase 1 routing result.
const executionMapKey = "execution_map"

// DefaultExecutorClasses returns the canonical class list in priority
// order. List position is the routing tie-break.
func DefaultExecutorClasses() []routing.ExecutorClass {
	return []routing.ExecutorClass{
		{Name: "PolicyDiagnosticAnalyzer", Handles: []chunks.ChunkType{chunks.TypeDiagnostic, chunks.TypeCausal}, Scope: routing.ScopeChunk},
		{Name: "InterventionLogicAnalyzer", Handles: []chunks.ChunkType{chunks.TypeActivity, chunks.TypeProduct}, Scope: routing.ScopeChunk},
		{Name: "ResultsChainAnalyzer", Handles: []chunks.ChunkType{chunks.TypeOutcome, chunks.TypeImpact}, Scope: routing.ScopeChunk},
		{Name: "FinancialMatrixAnalyzer", Handles: []chunks.ChunkType{chunks.TypeFinancial}, Scope: routing.ScopeDocument},
		{Name: "IndicatorMatrixAnalyzer", Handles: []chunks.ChunkType{chunks.TypeIndicator}, Scope: routing.ScopeDocument},
	}
}

// Options bundles everything a container needs. Registry, Calibration,
// Contracts and Questionnaire are required; the rest default.
type Options struct {
	Settings      *Settings
	Logger        *slog.Logger
	Registry      *registry.Registry
	Calibration   *calibration.Config
	Contracts     map[string]*contracts.Contract
	Questionnaire *contracts.Questionnaire

	// Classes overrides the canonical executor class list.
	Classes []routing.ExecutorClass

	// SignalSource feeds the signal cache. Optional.
	SignalSource signals.Source

	// Store overrides the settings-derived run store, e.g. an in-memory
	// store in tests.
	Store *runstore.Store
}

// Container owns one engine instance: the static wiring shared by every
// run. Runs themselves are cheap; the container is built once at startup.
//
// Thread Safety: Safe for concurrent use after New; Evaluate may be called
// from concurrent requests.
type Container struct {
	settings   *Settings
	logger     *slog.Logger
	router     *routing.Router
	dispatcher *dispatch.Dispatcher
	calEngine  *calibration.Engine
	contracts  map[string]*contracts.Contract
	contexts   []contracts.QuestionContext
	store      *runstore.Store
	orch       *orchestrator.Orchestrator
}

// New validates the wiring and assembles the container.
//
// Description:
//
//	Fails hard at startup on any cross-reference violation: contracts
//	naming unregistered methods, questions without contracts, malformed
//	calibration. A container that constructs is safe to serve.
func New(opts Options) (*Container, error) {
	if opts.Registry == nil || opts.Calibration == nil || opts.Questionnaire == nil || len(opts.Contracts) == 0 {
		return nil, fmt.Errorf("%w: registry, calibration, contracts and questionnaire are required", ErrBadWiring)
	}
	settings := opts.Settings
	if settings == nil {
		var err error
		if settings, err = DefaultSettings(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := contracts.VerifyAgainstRegistry(opts.Contracts, opts.Registry); err != nil {
		return nil, err
	}
	contexts, err := contracts.BuildContexts(opts.Questionnaire, opts.Contracts)
	if err != nil {
		return nil, err
	}

	classes := opts.Classes
	if classes == nil {
		classes = DefaultExecutorClasses()
	}
	router, err := routing.NewRouter(classes, logger)
	if err != nil {
		return nil, err
	}

	calEngine, err := calibration.NewEngine(opts.Calibration, logger)
	if err != nil {
		return nil, err
	}
	var cache *signals.Cache
	if opts.SignalSource != nil {
		sigCfg := signals.DefaultConfig()
		if settings.Signals.TTL.Std() > 0 {
			sigCfg.TTL = settings.Signals.TTL.Std()
		}
		if settings.Signals.MaxEntries > 0 {
			sigCfg.MaxLen = settings.Signals.MaxEntries
		}
		sigCfg.Logger = logger
		cache = signals.NewCache(opts.SignalSource, sigCfg)
	}

	var limiter *rate.Limiter
	if settings.Dispatch.RateLimit > 0 {
		burst := settings.Dispatch.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(settings.Dispatch.RateLimit), burst)
	}
	dispatcher, err := dispatch.New(opts.Registry, dispatch.Config{
		Signals: cache,
		Limiter: limiter,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	// Early validation: every contract must build an executor.
	if _, err := executor.BuildAll(opts.Contracts, dispatcher, calEngine, logger); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		cfg := runstore.DefaultConfig(settings.Store.Path)
		cfg.InMemory = settings.Store.InMemory
		if store, err = runstore.Open(cfg); err != nil {
			return nil, err
		}
	}

	c := &Container{
		settings:   settings,
		logger:     logger.With(slog.String("component", "container")),
		router:     router,
		dispatcher: dispatcher,
		calEngine:  calEngine,
		contracts:  opts.Contracts,
		contexts:   contexts,
		store:      store,
	}

	timeouts := settings.Orchestrator.PhaseTimeouts
	c.orch, err = orchestrator.New(
		orchestrator.PhaseFunc{PhaseName: "validate_input", Fn: c.phaseValidate},
		orchestrator.PhaseFunc{PhaseName: "route_chunks", Fn: c.phaseRoute},
		orchestrator.PhaseFunc{PhaseName: "adapt_document", Fn: c.phaseAdapt},
		orchestrator.PhaseFunc{PhaseName: "execute_questions", Fn: c.phaseExecute},
		orchestrator.Config{
			Timeouts: map[orchestrator.State]time.Duration{
				orchestrator.StatePhase0:  timeouts.Phase0.Std(),
				orchestrator.StatePhase1:  timeouts.Phase1.Std(),
				orchestrator.StateAdapter: timeouts.Adapter.Std(),
				orchestrator.StatePhase2:  timeouts.Phase2.Std(),
			},
			WorkerBudget:     settings.Orchestrator.WorkerBudget,
			BreakerThreshold: settings.Orchestrator.BreakerThreshold,
			Logger:           logger,
		})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Store exposes the run store to the HTTP surface.
func (c *Container) Store() *runstore.Store { return c.store }

// Questions returns the question contexts in audit order.
func (c *Container) Questions() []contracts.QuestionContext { return c.contexts }

// Close releases the container's resources.
func (c *Container) Close() error {
	return c.store.Close()
}

// StartRun allocates a run for a document and persists its initial
// manifest so the run is immediately queryable.
func (c *Container) StartRun(doc *document.Document) *orchestrator.Run {
	run := c.orch.NewRun(docID(doc))
	run.Put(documentKey, doc)
	if err := c.store.SaveManifest(run.Manifest()); err != nil {
		c.logger.Warn("Initial manifest persistence failed",
			slog.String("run_id", run.ID()),
			slog.String("error", err.Error()))
	}
	return run
}

// Evaluate scores one document end to end.
//
// Description:
//
//	Drives a fresh run through the phase machine and persists the
//	manifest regardless of outcome; question records are persisted as
//	they complete. The returned manifest reflects the terminal state.
//
// Outputs:
//   - orchestrator.Manifest: The persisted run manifest.
//   - error: The phase failure that faulted the run, nil on Done.
func (c *Container) Evaluate(ctx context.Context, doc *document.Document) (orchestrator.Manifest, error) {
	return c.ExecuteRun(ctx, c.StartRun(doc))
}

// ExecuteRun drives a started run to its terminal state and persists the
// final manifest.
func (c *Container) ExecuteRun(ctx context.Context, run *orchestrator.Run) (orchestrator.Manifest, error) {
	execErr := c.orch.Execute(ctx, run)
	manifest := run.Manifest()
	if err := c.store.SaveManifest(manifest); err != nil {
		c.logger.Error("Manifest persistence failed",
			slog.String("run_id", run.ID()),
			slog.String("error", err.Error()))
		if execErr == nil {
			execErr = err
		}
	}
	return manifest, execErr
}

// AbortRun flags an in-flight run for abort. The orchestrator skips the
// remaining phases.
func (c *Container) AbortRun(run *orchestrator.Run, reason string) {
	run.Abort(reason)
}

func docID(doc *document.Document) string {
	if doc == nil {
		return ""
	}
	return doc.ID
}

// =============================================================================
// Phases
// =============================================================================

// phaseValidate is phase 0: reject structurally unusable input before any
// work is spent on it.
func (c *Container) phaseValidate(ctx context.Context, run *orchestrator.Run) error {
	doc, err := runDocument(run)
	if err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is empty", ErrBadWiring)
	}
	if doc.Matrix == nil && doc.FullText == "" {
		return fmt.Errorf("%w: document %s has neither a chunk matrix nor full text", ErrBadWiring, doc.ID)
	}
	return ctx.Err()
}

// phaseRoute is phase 1: build the execution map from the chunk matrix.
func (c *Container) phaseRoute(ctx context.Context, run *orchestrator.Run) error {
	doc, err := runDocument(run)
	if err != nil {
		return err
	}
	if doc.Matrix == nil {
		// Flat documents carry no chunks to route; the adapter decides
		// the fallback.
		run.Put(executionMapKey, map[string]routing.Route{})
		return ctx.Err()
	}

	ordered := doc.Matrix.Ordered()
	flat := make([]chunks.Chunk, 0, len(ordered))
	for _, ch := range ordered {
		flat = append(flat, *ch)
	}
	execMap := c.router.GenerateExecutionMap(flat)
	run.Put(executionMapKey, execMap)

	savings := routing.Summarize(execMap)
	c.logger.Info("Execution map generated",
		slog.String("run_id", run.ID()),
		slog.Int64("chunk_scoped", savings.ChunkScoped),
		slog.Int64("document_wide", savings.DocumentWide),
		slog.Int64("skipped", savings.Skipped))
	return ctx.Err()
}

// phaseAdapt decides flat-mode fallback: a document without a matrix runs
// every method whole-document.
func (c *Container) phaseAdapt(ctx context.Context, run *orchestrator.Run) error {
	doc, err := runDocument(run)
	if err != nil {
		return err
	}
	if doc.Matrix == nil {
		doc.Flat = true
		c.logger.Warn("Document adapted to flat mode",
			slog.String("run_id", run.ID()),
			slog.String("document_id", doc.ID))
	}
	return ctx.Err()
}

// phaseExecute is phase 2: fan the micro-questions out across the worker
// budget. Each invocation gets its own executor instance and runs under
// its chunk's routing decision from phase 1.
func (c *Container) phaseExecute(ctx context.Context, run *orchestrator.Run) error {
	doc, err := runDocument(run)
	if err != nil {
		return err
	}
	execMap := runExecutionMap(run)

	var mu sync.Mutex
	var firstSave error
	err = orchestrator.ForEach(ctx, run, c.orch.WorkerBudget(), len(c.contexts), func(ctx context.Context, i int) error {
		qctx := c.contexts[i]
		ex, err := executor.New(qctx.Contract, c.dispatcher, c.calEngine, c.logger)
		if err != nil {
			return err
		}
		rec, err := ex.Execute(ctx, doc, c.dispatcher, qctx, questionRoute(execMap, qctx))
		if err != nil {
			return err
		}
		if err := c.store.SaveRecord(run.ID(), rec); err != nil {
			mu.Lock()
			if firstSave == nil {
				firstSave = err
			}
			mu.Unlock()
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return firstSave
}

// runExecutionMap reads the phase 1 routing result. Flat runs carry an
// empty map.
func runExecutionMap(run *orchestrator.Run) map[string]routing.Route {
	v, ok := run.Value(executionMapKey)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]routing.Route)
	return m
}

// questionRoute looks up the routing decision for a question's grid cell.
// Nil means no routing information, e.g. a flat document.
func questionRoute(m map[string]routing.Route, qctx contracts.QuestionContext) *routing.Route {
	if len(m) == 0 {
		return nil
	}
	route, ok := m[chunks.CanonicalID(qctx.PolicyArea, qctx.Dimension)]
	if !ok {
		return nil
	}
	return &route
}

func runDocument(run *orchestrator.Run) (*document.Document, error) {
	v, ok := run.Value(documentKey)
	if !ok {
		return nil, fmt.Errorf("%w: run carries no document", ErrBadWiring)
	}
	doc, ok := v.(*document.Document)
	if !ok || doc == nil {
		return nil, fmt.Errorf("%w: run document has wrong type", ErrBadWiring)
	}
	return doc, nil
}
