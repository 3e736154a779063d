// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/contracts"
	"github.com/THEBLESSMAN867/farfan/engine/document"
	"github.com/THEBLESSMAN867/farfan/engine/evidence"
	"github.com/THEBLESSMAN867/farfan/engine/orchestrator"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
	"github.com/THEBLESSMAN867/farfan/engine/runstore"
)

// testMethod is the single analyzer wired into every slot in these tests.
const testClass = "PolicyDiagnosticAnalyzer"
const testMethod = "analyze_baseline"

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister(testClass, testMethod, func(ctx context.Context, in *registry.Input) (map[string]any, error) {
		return map[string]any{"score": 0.75}, nil
	})
	return reg
}

func testQuestionnaire(t *testing.T) *contracts.Questionnaire {
	t.Helper()
	var qs []contracts.Question
	for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
		for pa := chunks.PolicyArea(1); pa <= chunks.NumPolicyAreas; pa++ {
			for n := 1; n <= contracts.QuestionsPerCell; n++ {
				qs = append(qs, contracts.Question{
					ID:         fmt.Sprintf("D%d-Q%d-PA%02d", dim, n, pa),
					BaseSlot:   contracts.BaseSlot(dim, n),
					Dimension:  dim,
					PolicyArea: pa,
					Number:     n,
					Text:       "placeholder",
				})
			}
		}
	}
	q, err := contracts.New("v-test", qs)
	require.NoError(t, err)
	return q
}

func testContracts() map[string]*contracts.Contract {
	bySlot := make(map[string]*contracts.Contract)
	for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
		for n := 1; n <= contracts.QuestionsPerCell; n++ {
			slot := contracts.BaseSlot(dim, n)
			bySlot[slot] = &contracts.Contract{
				BaseSlot: slot,
				MethodInputs: []contracts.MethodInput{
					{Class: testClass, Method: testMethod, ChunkScoped: true},
				},
				AssemblyRules: []evidence.AssemblyRule{
					{TargetField: "score", Sources: []string{testClass + "." + testMethod + ".score"}, Strategy: evidence.StrategyFirst},
				},
				ValidationRules: []evidence.FieldRule{
					{Field: "score", Required: true, Type: "number", Min: ptr(0.0), Max: ptr(1.0)},
				},
				NAPolicy: evidence.PolicyLenient,
			}
		}
	}
	return bySlot
}

func ptr(f float64) *float64 { return &f }

func testCalibrationConfig(t *testing.T) *calibration.Config {
	t.Helper()
	cfg, err := calibration.Parse([]byte(fmt.Sprintf(`{
		"methods": {
			"%s.%s": {
				"score_min": 0, "score_max": 1,
				"evidence_min": 0, "evidence_max": 10,
				"contradiction_tolerance": 0.2,
				"uncertainty_penalty": 0.1,
				"aggregation_weight": 1.0,
				"sensitivity": 1.0
			}
		}
	}`, testClass, testMethod)))
	require.NoError(t, err)
	return cfg
}

func fullDocument(t *testing.T) *document.Document {
	t.Helper()
	var cs []chunks.Chunk
	for pa := chunks.PolicyArea(1); pa <= chunks.NumPolicyAreas; pa++ {
		for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
			cs = append(cs, chunks.Chunk{
				ID:         chunks.CanonicalID(pa, dim),
				PolicyArea: pa,
				Dimension:  dim,
				Type:       chunks.TypeDiagnostic,
				Text:       "plan section",
				Provenance: chunks.Provenance{Source: "plan.pdf"},
			})
		}
	}
	m, err := chunks.Build(cs)
	require.NoError(t, err)
	return &document.Document{
		ID:     "plan-001",
		Matrix: m,
		Structure: document.Structure{
			HasIndicatorMatrix: true,
			HasFinancialMatrix: true,
			SectionCoverage:    0.9,
			KeywordCoverage:    0.8,
			NumberCoverage:     0.7,
		},
	}
}

func testContainer(t *testing.T) *Container {
	t.Helper()
	store, err := runstore.Open(runstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c, err := New(Options{
		Registry:      testRegistry(),
		Calibration:   testCalibrationConfig(t),
		Contracts:     testContracts(),
		Questionnaire: testQuestionnaire(t),
		Store:         store,
	})
	require.NoError(t, err)
	return c
}

func TestEvaluate_FullRun(t *testing.T) {
	c := testContainer(t)
	m, err := c.Evaluate(context.Background(), fullDocument(t))
	require.NoError(t, err)

	require.Equal(t, orchestrator.StateDone, m.State)
	require.Equal(t, int64(contracts.TotalQuestions), m.QuestionsTotal)
	require.Equal(t, int64(contracts.TotalQuestions), m.QuestionsSucceeded)
	require.Zero(t, m.QuestionsFailed)
	require.Len(t, m.Phases, 4)

	stored, err := c.Store().GetManifest(m.RunID)
	require.NoError(t, err)
	require.Equal(t, m.RunID, stored.RunID)

	recs, err := c.Store().ListRecords(m.RunID)
	require.NoError(t, err)
	require.Len(t, recs, contracts.TotalQuestions)
	require.Equal(t, 0.75, recs[0].Evidence["score"])
	require.Greater(t, recs[0].Scores.Aggregate, 0.0)
}

func TestEvaluate_UnroutableChunkSkipsItsQuestions(t *testing.T) {
	c := testContainer(t)

	// One cell carries a chunk type no executor class handles.
	var cs []chunks.Chunk
	for pa := chunks.PolicyArea(1); pa <= chunks.NumPolicyAreas; pa++ {
		for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
			typ := chunks.TypeDiagnostic
			if pa == 1 && dim == 1 {
				typ = chunks.ChunkType("prologue")
			}
			cs = append(cs, chunks.Chunk{
				ID:         chunks.CanonicalID(pa, dim),
				PolicyArea: pa,
				Dimension:  dim,
				Type:       typ,
				Text:       "plan section",
				Provenance: chunks.Provenance{Source: "plan.pdf"},
			})
		}
	}
	m, err := chunks.Build(cs)
	require.NoError(t, err)
	doc := &document.Document{
		ID:     "plan-002",
		Matrix: m,
		Structure: document.Structure{
			HasIndicatorMatrix: true,
			HasFinancialMatrix: true,
			SectionCoverage:    0.9,
		},
	}

	manifest, err := c.Evaluate(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StateDone, manifest.State)

	recs, err := c.Store().ListRecords(manifest.RunID)
	require.NoError(t, err)
	require.Len(t, recs, contracts.TotalQuestions)

	var skipped int
	for _, rec := range recs {
		if rec.Skipped {
			skipped++
			require.True(t, strings.HasPrefix(rec.QuestionID, "D1-"))
			require.True(t, strings.HasSuffix(rec.QuestionID, "-PA01"))
			require.NotEmpty(t, rec.SkipReason)
			require.Zero(t, rec.Scores.Aggregate, "skipped questions carry no scores")
			continue
		}
		require.Equal(t, testClass, rec.ExecutorClass, "routed questions record their executor class")
	}
	require.Equal(t, contracts.QuestionsPerCell, skipped,
		"exactly the unroutable cell's questions are skipped")
}

func TestEvaluate_FlatModeFallback(t *testing.T) {
	c := testContainer(t)
	doc := &document.Document{
		ID:       "plan-flat",
		FullText: "narrative only",
		Structure: document.Structure{
			HasIndicatorMatrix: true,
			HasFinancialMatrix: true,
			SectionCoverage:    0.5,
		},
	}
	m, err := c.Evaluate(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StateDone, m.State)
	require.True(t, doc.Flat, "adapter must mark matrix-less documents flat")
}

func TestEvaluate_RejectsEmptyDocument(t *testing.T) {
	c := testContainer(t)
	m, err := c.Evaluate(context.Background(), &document.Document{ID: "empty"})
	require.Error(t, err)
	require.Equal(t, orchestrator.StateFaulted, m.State)

	// The faulted manifest is still persisted.
	stored, err := c.Store().GetManifest(m.RunID)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StateFaulted, stored.State)
}

func TestNew_FailsOnUnregisteredMethod(t *testing.T) {
	store, err := runstore.Open(runstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bad := testContracts()
	bad["D1-Q1"].MethodInputs = []contracts.MethodInput{{Class: "Ghost", Method: "nope"}}
	_, err = New(Options{
		Registry:      testRegistry(),
		Calibration:   testCalibrationConfig(t),
		Contracts:     bad,
		Questionnaire: testQuestionnaire(t),
		Store:         store,
	})
	require.Error(t, err, "contract naming an unregistered method must fail at startup")
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	require.Equal(t, ":8087", s.Server.Addr)
	require.Equal(t, int64(8), s.Orchestrator.WorkerBudget)
	require.Equal(t, 3, s.Orchestrator.BreakerThreshold)
	require.Positive(t, s.Signals.TTL)
}
