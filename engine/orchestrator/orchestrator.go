// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives one evaluation run through its phase state
// machine:
//
//	Idle -> Phase0 -> Phase1 -> Adapter -> Phase2 -> Done
//
// Any phase failure or timeout moves the run to Faulted. An abort request
// lets the current phase finish, skips the rest, and records the reason in
// the manifest. Phase 2 fans the micro-questions out across a bounded
// worker pool behind a circuit breaker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// States and Errors
// =============================================================================

// State is one node of the run state machine.
type State string

const (
	StateIdle    State = "idle"
	StatePhase0  State = "phase0"
	StatePhase1  State = "phase1"
	StateAdapter State = "adapter"
	StatePhase2  State = "phase2"
	StateDone    State = "done"
	StateFaulted State = "faulted"
)

// ErrAborted indicates the run was aborted before the phase could start.
var ErrAborted = errors.New("orchestrator: run aborted")

// PhaseTimeoutError reports a phase that exceeded its deadline. The run
// moves to Faulted.
type PhaseTimeoutError struct {
	PhaseID int
	Name    string
	Timeout time.Duration
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("orchestrator: phase %d (%s) exceeded %s", e.PhaseID, e.Name, e.Timeout)
}

// =============================================================================
// Phases
// =============================================================================

// Phase is one stage of the run pipeline.
type Phase interface {
	// Name returns the phase name for logging and the manifest.
	Name() string

	// Run executes the phase. The context carries the phase deadline.
	Run(ctx context.Context, run *Run) error
}

// PhaseFunc adapts a named function to the Phase interface.
type PhaseFunc struct {
	PhaseName string
	Fn        func(ctx context.Context, run *Run) error
}

func (p PhaseFunc) Name() string                            { return p.PhaseName }
func (p PhaseFunc) Run(ctx context.Context, run *Run) error { return p.Fn(ctx, run) }

// phaseStates maps pipeline position to machine state, in order.
var phaseStates = []State{StatePhase0, StatePhase1, StateAdapter, StatePhase2}

// =============================================================================
// Manifest
// =============================================================================

// PhaseReport is the manifest entry for one phase.
type PhaseReport struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Manifest is the durable record of one run.
type Manifest struct {
	RunID      string        `json:"run_id"`
	DocumentID string        `json:"document_id"`
	State      State         `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Phases     []PhaseReport `json:"phases"`

	Aborted     bool      `json:"aborted,omitempty"`
	AbortReason string    `json:"abort_reason,omitempty"`
	AbortedAt   time.Time `json:"aborted_at,omitempty"`

	QuestionsTotal     int64 `json:"questions_total"`
	QuestionsSucceeded int64 `json:"questions_succeeded"`
	QuestionsFailed    int64 `json:"questions_failed"`
}

// =============================================================================
// Runs
// =============================================================================

// Run is the mutable state of one in-flight evaluation.
//
// Thread Safety: Counter methods and Abort are safe for concurrent use.
// Manifest must only be called after Execute returns or from the executing
// goroutine.
type Run struct {
	id         string
	documentID string

	mu       sync.Mutex
	manifest Manifest

	aborted   atomic.Bool
	succeeded atomic.Int64
	failed    atomic.Int64
	total     atomic.Int64

	// Breaker gates question execution during phase 2.
	Breaker *CircuitBreaker

	// Bag carries phase outputs forward, e.g. the execution map from
	// phase 1 for phase 2. Guarded by mu.
	bag map[string]any
}

// NewRun allocates a run with a fresh uuid run id.
func NewRun(documentID string, breakerThreshold int) *Run {
	id := uuid.NewString()
	return &Run{
		id:         id,
		documentID: documentID,
		Breaker:    NewCircuitBreaker(breakerThreshold),
		bag:        make(map[string]any),
		manifest: Manifest{
			RunID:      id,
			DocumentID: documentID,
			State:      StateIdle,
		},
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Abort requests the run stop after the current phase. The first reason
// wins; later calls are ignored.
func (r *Run) Abort(reason string) {
	if !r.aborted.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	r.manifest.Aborted = true
	r.manifest.AbortReason = reason
	r.manifest.AbortedAt = time.Now()
	r.mu.Unlock()
}

// Aborted reports whether an abort was requested.
func (r *Run) Aborted() bool { return r.aborted.Load() }

// CountSuccess, CountFailure and AddTotal update the exact run counters.
func (r *Run) CountSuccess() { r.succeeded.Add(1) }

func (r *Run) CountFailure() { r.failed.Add(1) }

func (r *Run) AddTotal(n int64) { r.total.Add(n) }

// Succeeded and Failed read the exact counters.
func (r *Run) Succeeded() int64 { return r.succeeded.Load() }
func (r *Run) Failed() int64    { return r.failed.Load() }

// Put stores a phase output for later phases.
func (r *Run) Put(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bag[key] = v
}

// Value reads a phase output stored by an earlier phase.
func (r *Run) Value(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.bag[key]
	return v, ok
}

// Manifest snapshots the run record, folding in the counters.
func (r *Run) Manifest() Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.manifest
	m.Phases = append([]PhaseReport{}, r.manifest.Phases...)
	m.QuestionsTotal = r.total.Load()
	m.QuestionsSucceeded = r.succeeded.Load()
	m.QuestionsFailed = r.failed.Load()
	return m
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.manifest.State = s
	r.mu.Unlock()
}

func (r *Run) report(p PhaseReport) {
	r.mu.Lock()
	r.manifest.Phases = append(r.manifest.Phases, p)
	r.mu.Unlock()
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config configures the orchestrator.
type Config struct {
	// Timeouts holds the per-phase deadline by pipeline position. A
	// missing or zero entry means no deadline.
	Timeouts map[State]time.Duration

	// WorkerBudget bounds phase 2 parallelism. Defaults to 8.
	WorkerBudget int64

	// BreakerThreshold is the consecutive-failure trip count for new
	// runs. Defaults to DefaultBreakerThreshold.
	BreakerThreshold int

	Logger *slog.Logger
}

// Orchestrator executes the fixed four-phase pipeline.
//
// Thread Safety: Safe for concurrent use across distinct runs. One Run
// must only be executed once.
type Orchestrator struct {
	phases [4]Phase
	config Config
	logger *slog.Logger
}

// New wires the four pipeline phases in order: phase 0, phase 1, adapter,
// phase 2.
func New(phase0, phase1, adapter, phase2 Phase, config Config) (*Orchestrator, error) {
	for i, p := range []Phase{phase0, phase1, adapter, phase2} {
		if p == nil {
			return nil, fmt.Errorf("orchestrator: nil phase at position %d", i)
		}
	}
	if config.WorkerBudget <= 0 {
		config.WorkerBudget = 8
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		phases: [4]Phase{phase0, phase1, adapter, phase2},
		config: config,
		logger: logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// NewRun allocates a run bound to this orchestrator's breaker threshold.
func (o *Orchestrator) NewRun(documentID string) *Run {
	return NewRun(documentID, o.config.BreakerThreshold)
}

// WorkerBudget returns the configured phase 2 parallelism bound.
func (o *Orchestrator) WorkerBudget() int64 { return o.config.WorkerBudget }

// Execute drives the run to Done or Faulted.
//
// Description:
//
//	Phases run in order under their configured deadlines. A phase error
//	or deadline faults the run and is returned. An abort requested
//	before a phase starts marks the remaining phases skipped and ends
//	the run in Done with the abort recorded in the manifest.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) error {
	run.mu.Lock()
	run.manifest.StartedAt = time.Now()
	run.mu.Unlock()

	for i, phase := range o.phases {
		state := phaseStates[i]
		if run.Aborted() {
			o.skipRemaining(run, i)
			break
		}
		run.setState(state)
		o.logger.Info("Phase started",
			slog.String("run_id", run.ID()),
			slog.String("phase", phase.Name()))

		started := time.Now()
		err := o.runPhase(ctx, run, state, phase)
		report := PhaseReport{ID: i, Name: phase.Name(), StartedAt: started, Duration: time.Since(started)}
		if err != nil {
			report.Error = err.Error()
			run.report(report)
			run.setState(StateFaulted)
			o.finish(run)
			phasesTotal.WithLabelValues(phase.Name(), "faulted").Inc()
			o.logger.Error("Phase failed",
				slog.String("run_id", run.ID()),
				slog.String("phase", phase.Name()),
				slog.String("error", err.Error()))
			return err
		}
		run.report(report)
		phasesTotal.WithLabelValues(phase.Name(), "ok").Inc()
	}

	run.setState(StateDone)
	o.finish(run)
	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, run *Run, state State, phase Phase) error {
	timeout := o.config.Timeouts[state]
	if timeout <= 0 {
		return phase.Run(ctx, run)
	}

	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := phase.Run(phaseCtx, run)
	// The caller's own deadline expiring mid-phase is not a phase timeout.
	if err != nil && errors.Is(err, context.DeadlineExceeded) && phaseCtx.Err() != nil && ctx.Err() == nil {
		return &PhaseTimeoutError{ID(state), phase.Name(), timeout}
	}
	return err
}

func (o *Orchestrator) skipRemaining(run *Run, from int) {
	for i := from; i < len(o.phases); i++ {
		run.report(PhaseReport{ID: i, Name: o.phases[i].Name(), Skipped: true})
	}
}

func (o *Orchestrator) finish(run *Run) {
	run.mu.Lock()
	run.manifest.FinishedAt = time.Now()
	run.mu.Unlock()
}

// ID returns the pipeline position of a phase state, -1 for terminal
// states.
func ID(s State) int {
	for i, ps := range phaseStates {
		if ps == s {
			return i
		}
	}
	return -1
}

// =============================================================================
// Phase 2 Fan-Out
// =============================================================================

// ForEach runs fn over n work items under the run's worker budget and
// circuit breaker.
//
// Description:
//
//	Work items run on an errgroup bounded by a weighted semaphore. A
//	tripped breaker rejects items admitted afterwards with
//	ErrBreakerOpen; items already running finish. Item failures count
//	on the run's exact counters and do not cancel siblings. The first
//	context error cancels the remainder.
//
// Inputs:
//   - ctx: Cancellation context.
//   - run: The owning run, providing counters and the breaker.
//   - budget: The maximum concurrent items.
//   - n: The item count.
//   - fn: The per-item work. Its error marks the item failed.
//
// Outputs:
//   - error: A context error, or ErrBreakerOpen when the breaker ended
//     the fan-out early. Per-item failures are counted, not returned.
func ForEach(ctx context.Context, run *Run, budget int64, n int, fn func(ctx context.Context, i int) error) error {
	if budget <= 0 {
		budget = 1
	}
	sem := semaphore.NewWeighted(budget)
	g, gctx := errgroup.WithContext(ctx)
	run.AddTotal(int64(n))

	var rejected atomic.Bool
	for i := 0; i < n; i++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			run.CountFailure()
			continue
		}
		if !run.Breaker.Allow() {
			sem.Release(1)
			rejected.Store(true)
			run.CountFailure()
			continue
		}
		i := i
		g.Go(func() error {
			defer sem.Release(1)
			if err := fn(gctx, i); err != nil {
				run.Breaker.RecordFailure()
				run.CountFailure()
				return nil
			}
			run.Breaker.RecordSuccess()
			run.CountSuccess()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if rejected.Load() {
		return ErrBreakerOpen
	}
	return nil
}
