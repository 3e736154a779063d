// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"context"
	"errors"

	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
)

// ErrNilStage indicates a calibrated invocation was built with a missing
// stage.
var ErrNilStage = errors.New("dispatch: nil invocation stage")

// ParameterSource loads the parameters for one method invocation, e.g.
// from a contract's method inputs or a tuning store.
type ParameterSource interface {
	Parameters(ctx context.Context, call Call) (map[string]any, error)
}

// ParameterSourceFunc adapts a function to the ParameterSource interface.
type ParameterSourceFunc func(ctx context.Context, call Call) (map[string]any, error)

func (f ParameterSourceFunc) Parameters(ctx context.Context, call Call) (map[string]any, error) {
	return f(ctx, call)
}

// StaticParameters returns a source that always yields the same parameter
// map, the common case for contract-declared parameters.
func StaticParameters(params map[string]any) ParameterSource {
	return ParameterSourceFunc(func(ctx context.Context, call Call) (map[string]any, error) {
		return params, nil
	})
}

// Calibrator scores a raw method output. The calibration engine satisfies
// this through CalibratorFunc in the executor wiring.
type Calibrator interface {
	Calibrate(ctx context.Context, call Call, output map[string]any) (calibration.LayerScores, error)
}

// CalibratorFunc adapts a function to the Calibrator interface.
type CalibratorFunc func(ctx context.Context, call Call, output map[string]any) (calibration.LayerScores, error)

func (f CalibratorFunc) Calibrate(ctx context.Context, call Call, output map[string]any) (calibration.LayerScores, error) {
	return f(ctx, call, output)
}

// CalibratedInvocation is the explicit three stage pipeline for one
// method: load parameters, execute, calibrate the output. Keeping the
// stages separate lets each be swapped and tested on its own.
type CalibratedInvocation struct {
	call       Call
	dispatcher *Dispatcher
	params     ParameterSource
	calibrator Calibrator
}

// NewCalibratedInvocation binds a method call to its parameter source and
// calibrator.
func NewCalibratedInvocation(d *Dispatcher, call Call, params ParameterSource, cal Calibrator) (*CalibratedInvocation, error) {
	if d == nil || params == nil || cal == nil {
		return nil, ErrNilStage
	}
	return &CalibratedInvocation{call: call, dispatcher: d, params: params, calibrator: cal}, nil
}

// Result is a calibrated invocation outcome: the raw method output plus
// its layer scores.
type Result struct {
	Output map[string]any
	Scores calibration.LayerScores
}

// Invoke runs the full pipeline. Stage failures propagate as
// *ExecutionError from dispatch or the calibrator's own error type.
func (ci *CalibratedInvocation) Invoke(ctx context.Context, in *registry.Input) (*Result, error) {
	params, err := ci.params.Parameters(ctx, ci.call)
	if err != nil {
		return nil, ci.dispatcher.fail(ci.call, in, err)
	}

	call := ci.call
	call.Params = params
	out, err := ci.dispatcher.Dispatch(ctx, call, in)
	if err != nil {
		return nil, err
	}

	scores, err := ci.calibrator.Calibrate(ctx, call, out)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Scores: scores}, nil
}
