// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/evidence"
)

func fullQuestionSet() []Question {
	qs := make([]Question, 0, TotalQuestions)
	for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
		for pa := chunks.PolicyArea(1); pa <= chunks.NumPolicyAreas; pa++ {
			for n := 1; n <= QuestionsPerCell; n++ {
				qs = append(qs, Question{
					ID:         fmt.Sprintf("D%d-Q%d-PA%02d", dim, n, pa),
					BaseSlot:   BaseSlot(dim, n),
					Dimension:  dim,
					PolicyArea: pa,
					Number:     n,
					Text:       "placeholder",
				})
			}
		}
	}
	return qs
}

func TestQuestionnaire_New(t *testing.T) {
	q, err := New("v1", fullQuestionSet())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if q.Len() != TotalQuestions {
		t.Errorf("Len = %d, want %d", q.Len(), TotalQuestions)
	}
	if q.Version() != "v1" {
		t.Errorf("Version = %s, want v1", q.Version())
	}
}

func TestQuestionnaire_OrderIndependent(t *testing.T) {
	shuffled := fullQuestionSet()
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	q, err := New("v1", shuffled)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ordered := q.Ordered()
	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]
		if a.Dimension > b.Dimension {
			t.Fatalf("audit order broken at %d: %s before %s", i, a.ID, b.ID)
		}
		if a.Dimension == b.Dimension && a.PolicyArea > b.PolicyArea {
			t.Fatalf("audit order broken at %d: %s before %s", i, a.ID, b.ID)
		}
	}
	if got := ordered[0].ID; got != "D1-Q1-PA01" {
		t.Errorf("first question = %s, want D1-Q1-PA01", got)
	}
}

func TestQuestionnaire_Violations(t *testing.T) {
	t.Run("wrong count", func(t *testing.T) {
		if _, err := New("v1", fullQuestionSet()[:TotalQuestions-1]); err == nil {
			t.Error("short questionnaire accepted")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		qs := fullQuestionSet()
		qs[1].ID = qs[0].ID
		if _, err := New("v1", qs); err == nil {
			t.Error("duplicate id accepted")
		}
	})

	t.Run("inconsistent base slot", func(t *testing.T) {
		qs := fullQuestionSet()
		qs[0].BaseSlot = "D9-Q9"
		if _, err := New("v1", qs); err == nil {
			t.Error("inconsistent base slot accepted")
		}
	})

	t.Run("all violations reported", func(t *testing.T) {
		qs := fullQuestionSet()
		qs[1].ID = qs[0].ID
		qs[2].BaseSlot = "D9-Q9"
		_, err := New("", qs)
		if err == nil {
			t.Fatal("invalid questionnaire accepted")
		}
		msg := err.Error()
		for _, want := range []string{"empty version", "duplicate question id", "D9-Q9"} {
			if !strings.Contains(msg, want) {
				t.Errorf("error %q does not mention %q", msg, want)
			}
		}
	})
}

func TestQuestionnaire_ByID(t *testing.T) {
	q, err := New("v1", fullQuestionSet())
	if err != nil {
		t.Fatal(err)
	}
	got, ok := q.ByID("D3-Q2-PA05")
	if !ok {
		t.Fatal("D3-Q2-PA05 not found")
	}
	if got.Dimension != 3 || got.PolicyArea != 5 || got.Number != 2 {
		t.Errorf("ByID returned wrong question: %+v", got)
	}
	if _, ok := q.ByID("D9-Q9-PA99"); ok {
		t.Error("unknown id resolved")
	}
}

func fullContractSet() map[string]*Contract {
	bySlot := make(map[string]*Contract)
	for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
		for n := 1; n <= QuestionsPerCell; n++ {
			slot := BaseSlot(dim, n)
			bySlot[slot] = &Contract{
				BaseSlot:     slot,
				MethodInputs: []MethodInput{{Class: "DiagnosticAnalyzer", Method: "analyze_baseline"}},
				NAPolicy:     evidence.PolicyLenient,
			}
		}
	}
	return bySlot
}

func TestBuildContexts(t *testing.T) {
	q, err := New("v1", fullQuestionSet())
	if err != nil {
		t.Fatal(err)
	}

	ctxs, err := BuildContexts(q, fullContractSet())
	if err != nil {
		t.Fatalf("BuildContexts failed: %v", err)
	}
	if len(ctxs) != TotalQuestions {
		t.Errorf("len = %d, want %d", len(ctxs), TotalQuestions)
	}
	if ctxs[0].Contract == nil || ctxs[0].Contract.BaseSlot != ctxs[0].BaseSlot {
		t.Error("context not paired with its base slot contract")
	}
	if ctxs[0].NAPolicy() != evidence.PolicyLenient {
		t.Errorf("NAPolicy = %s, want lenient", ctxs[0].NAPolicy())
	}
	if ctxs[0].Version != "v1" {
		t.Errorf("Version = %q, want the questionnaire version", ctxs[0].Version)
	}
}

func TestBuildContexts_MissingSlots(t *testing.T) {
	q, err := New("v1", fullQuestionSet())
	if err != nil {
		t.Fatal(err)
	}
	bySlot := fullContractSet()
	delete(bySlot, "D2-Q1")
	delete(bySlot, "D1-Q4")

	_, err = BuildContexts(q, bySlot)
	if err == nil {
		t.Fatal("missing contracts accepted")
	}
	msg := err.Error()
	if !strings.Contains(msg, "D1-Q4") || !strings.Contains(msg, "D2-Q1") {
		t.Errorf("error %q does not list both missing slots", msg)
	}
	if strings.Index(msg, "D1-Q4") > strings.Index(msg, "D2-Q1") {
		t.Errorf("missing slots not sorted: %q", msg)
	}
}
