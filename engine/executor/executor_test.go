// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/contracts"
	"github.com/THEBLESSMAN867/farfan/engine/dispatch"
	"github.com/THEBLESSMAN867/farfan/engine/document"
	"github.com/THEBLESSMAN867/farfan/engine/evidence"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
	"github.com/THEBLESSMAN867/farfan/engine/routing"
)

func testCalibration(t *testing.T) *calibration.Engine {
	t.Helper()
	cfg, err := calibration.Parse([]byte(`{
		"methods": {
			"DiagnosticAnalyzer.analyze_baseline": {
				"score_min": 0, "score_max": 1,
				"evidence_min": 0, "evidence_max": 10,
				"contradiction_tolerance": 0.2,
				"uncertainty_penalty": 0.1,
				"aggregation_weight": 1.0,
				"sensitivity": 1.0
			}
		}
	}`))
	require.NoError(t, err)
	eng, err := calibration.NewEngine(cfg, nil)
	require.NoError(t, err)
	return eng
}

func testContract(policy evidence.NAPolicy) *contracts.Contract {
	return &contracts.Contract{
		BaseSlot: "D1-Q1",
		MethodInputs: []contracts.MethodInput{
			{Class: "DiagnosticAnalyzer", Method: "analyze_baseline", ChunkScoped: true},
		},
		AssemblyRules: []evidence.AssemblyRule{
			{TargetField: "score", Sources: []string{"DiagnosticAnalyzer.analyze_baseline.score"}, Strategy: evidence.StrategyFirst},
		},
		ValidationRules: []evidence.FieldRule{
			{Field: "score", Required: true, Type: "number"},
		},
		NAPolicy: policy,
		ChainInputs: []calibration.ChainInput{
			{Name: "DiagnosticAnalyzer.analyze_baseline", Kind: calibration.KindRequired},
		},
	}
}

func testDocument(t *testing.T) *document.Document {
	t.Helper()
	var cs []chunks.Chunk
	for pa := chunks.PolicyArea(1); pa <= chunks.NumPolicyAreas; pa++ {
		for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
			cs = append(cs, chunks.Chunk{
				ID:         chunks.CanonicalID(pa, dim),
				PolicyArea: pa,
				Dimension:  dim,
				Text:       "section text",
				Provenance: chunks.Provenance{Source: "s1"},
			})
		}
	}
	m, err := chunks.Build(cs)
	require.NoError(t, err)
	return &document.Document{
		ID:     "doc-1",
		Matrix: m,
		Structure: document.Structure{
			HasIndicatorMatrix: true,
			HasFinancialMatrix: true,
			SectionCoverage:    1,
			KeywordCoverage:    1,
			NumberCoverage:     1,
		},
	}
}

func testDispatcher(t *testing.T, fn registry.MethodFunc) *dispatch.Dispatcher {
	t.Helper()
	reg := registry.New()
	reg.MustRegister("DiagnosticAnalyzer", "analyze_baseline", fn)
	d, err := dispatch.New(reg, dispatch.Config{})
	require.NoError(t, err)
	return d
}

func question() contracts.QuestionContext {
	return contracts.QuestionContext{
		Question: contracts.Question{
			ID:         "D1-Q1-PA01",
			BaseSlot:   "D1-Q1",
			Dimension:  1,
			PolicyArea: 1,
			Number:     1,
		},
	}
}

func TestExecute_Success(t *testing.T) {
	var gotChunk *chunks.Chunk
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		gotChunk = in.Chunk
		return map[string]any{"score": 0.8}, nil
	})

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyAbort)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	rec, err := ex.Execute(context.Background(), testDocument(t), d, qctx, nil)
	require.NoError(t, err)

	require.Equal(t, "D1-Q1-PA01", rec.QuestionID)
	require.Equal(t, 0.8, rec.Evidence["score"])
	require.True(t, rec.Validation.Valid)
	require.Greater(t, rec.Scores.Aggregate, 0.0)
	require.NotNil(t, gotChunk, "chunk-scoped method should receive the routed chunk")
	require.Equal(t, "PA01-DIM01", gotChunk.ID)
}

func TestExecute_SlotMismatch(t *testing.T) {
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return map[string]any{"score": 1.0}, nil
	})
	qctx := question()
	qctx.Contract = testContract(evidence.PolicyLenient)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	wrong := qctx
	wrong.BaseSlot = "D2-Q1"
	_, err = ex.Execute(context.Background(), testDocument(t), d, wrong, nil)
	require.ErrorIs(t, err, ErrSlotMismatch)
}

func TestExecute_ForeignDispatcher(t *testing.T) {
	ok := func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return map[string]any{"score": 1.0}, nil
	}
	bound := testDispatcher(t, ok)
	other := testDispatcher(t, ok)

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyLenient)
	ex, err := New(qctx.Contract, bound, testCalibration(t), nil)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), testDocument(t), other, qctx, nil)
	require.ErrorIs(t, err, ErrForeignDispatcher)
}

func TestExecute_AbortPolicy(t *testing.T) {
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return nil, fmt.Errorf("analyzer offline")
	})

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyAbort)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), testDocument(t), d, qctx, nil)
	require.Error(t, err)
	var eerr *dispatch.ExecutionError
	require.True(t, errors.As(err, &eerr), "abort policy should surface the dispatch failure")
}

func TestExecute_LenientPolicy(t *testing.T) {
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return nil, fmt.Errorf("analyzer offline")
	})

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyLenient)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	rec, err := ex.Execute(context.Background(), testDocument(t), d, qctx, nil)
	require.NoError(t, err, "lenient policy tolerates method failure")
	require.Contains(t, rec.MethodFailures, "DiagnosticAnalyzer.analyze_baseline")
	require.True(t, rec.Validation.Valid, "errors downgrade to warnings under lenient")
	require.NotEmpty(t, rec.Validation.Warnings)
	require.Equal(t, 0.0, rec.Scores.Chain, "missing required chain input zeroes the chain layer")
}

func TestExecute_AbortValidationFailure(t *testing.T) {
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return map[string]any{"score": "not a number"}, nil
	})

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyAbort)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	_, err = ex.Execute(context.Background(), testDocument(t), d, qctx, nil)
	var aerr *AbortError
	require.True(t, errors.As(err, &aerr))
	require.Equal(t, "D1-Q1-PA01", aerr.QuestionID)
	require.NotEmpty(t, aerr.Issues)
}

func TestExecute_RouteScopeControlsChunkAttachment(t *testing.T) {
	var gotChunk *chunks.Chunk
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		gotChunk = in.Chunk
		return map[string]any{"score": 0.5}, nil
	})

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyLenient)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	chunkRoute := &routing.Route{ExecutorClass: "DiagnosticAnalyzer", Scope: routing.ScopeChunk}
	rec, err := ex.Execute(context.Background(), testDocument(t), d, qctx, chunkRoute)
	require.NoError(t, err)
	require.NotNil(t, gotChunk, "chunk-scoped route must attach the routed chunk")
	require.Equal(t, "DiagnosticAnalyzer", rec.ExecutorClass)

	gotChunk = nil
	docRoute := &routing.Route{ExecutorClass: "DiagnosticAnalyzer", Scope: routing.ScopeDocument}
	_, err = ex.Execute(context.Background(), testDocument(t), d, qctx, docRoute)
	require.NoError(t, err)
	require.Nil(t, gotChunk, "document-scoped route must run whole-document")
}

func TestExecute_SkippedRouteShortCircuits(t *testing.T) {
	var invoked bool
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		invoked = true
		return map[string]any{"score": 0.5}, nil
	})

	qctx := question()
	qctx.Contract = testContract(evidence.PolicyAbort)
	ex, err := New(qctx.Contract, d, testCalibration(t), nil)
	require.NoError(t, err)

	route := &routing.Route{SkipReason: `no executor class handles chunk type "preamble"`}
	rec, err := ex.Execute(context.Background(), testDocument(t), d, qctx, route)
	require.NoError(t, err)
	require.True(t, rec.Skipped)
	require.Equal(t, route.SkipReason, rec.SkipReason)
	require.False(t, invoked, "no method may run for a skipped chunk")
	require.Zero(t, rec.Scores.Aggregate)
}

func TestExecute_MetaGovernanceReflectsPins(t *testing.T) {
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return map[string]any{"score": 0.8}, nil
	})
	cal := testCalibration(t)

	loose := question()
	loose.Contract = testContract(evidence.PolicyLenient)
	ex, err := New(loose.Contract, d, cal, nil)
	require.NoError(t, err)
	unpinned, err := ex.Execute(context.Background(), testDocument(t), d, loose, nil)
	require.NoError(t, err)

	pinnedContract := testContract(evidence.PolicyLenient)
	pinnedContract.CalibrationHash = cal.ConfigHash()
	sig, err := pinnedContract.Sign()
	require.NoError(t, err)
	pinnedContract.Signature = sig
	require.True(t, pinnedContract.Verify())

	strict := question()
	strict.Contract = pinnedContract
	strict.Version = "v2.0"
	ex2, err := New(pinnedContract, d, cal, nil)
	require.NoError(t, err)
	pinned, err := ex2.Execute(context.Background(), testDocument(t), d, strict, nil)
	require.NoError(t, err)

	require.Greater(t, pinned.Scores.Meta, unpinned.Scores.Meta,
		"version pin, config hash and signature must raise the governance share")
}

func TestBuildAll(t *testing.T) {
	bySlot := map[string]*contracts.Contract{
		"D1-Q1": testContract(evidence.PolicyLenient),
	}
	d := testDispatcher(t, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return map[string]any{"score": 1.0}, nil
	})
	set, err := BuildAll(bySlot, d, testCalibration(t), nil)
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.Equal(t, "D1-Q1", set["D1-Q1"].BaseSlot())
}
