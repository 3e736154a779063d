// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/THEBLESSMAN867/farfan/engine/document"
)

func TestUnitScore_HardGate(t *testing.T) {
	s := document.Structure{
		HasIndicatorMatrix: false,
		HasFinancialMatrix: true,
		SectionCoverage:    1, KeywordCoverage: 1, NumberCoverage: 1,
	}
	if got := UnitScore(s, DefaultUnitWeights()); got != 0 {
		t.Errorf("missing indicator matrix: UnitScore = %v, want 0", got)
	}

	s.HasIndicatorMatrix = true
	s.HasFinancialMatrix = false
	if got := UnitScore(s, DefaultUnitWeights()); got != 0 {
		t.Errorf("missing financial matrix: UnitScore = %v, want 0", got)
	}
}

func TestUnitScore_WeightedComposite(t *testing.T) {
	s := document.Structure{
		HasIndicatorMatrix: true,
		HasFinancialMatrix: true,
		SectionCoverage:    1.0,
		KeywordCoverage:    0.5,
		NumberCoverage:     0.0,
	}
	got := UnitScore(s, UnitWeights{Section: 0.5, Keyword: 0.3, Number: 0.2})
	want := 0.5*1.0 + 0.3*0.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("UnitScore = %v, want %v", got, want)
	}
}

func TestChainScore_FiveLevels(t *testing.T) {
	declared := []ChainInput{
		{Name: "req", Kind: KindRequired},
		{Name: "crit", Kind: KindCriticalOptional},
		{Name: "opt1", Kind: KindOptional},
		{Name: "opt2", Kind: KindOptional},
		{Name: "opt3", Kind: KindOptional},
	}
	all := map[string]bool{"req": true, "crit": true, "opt1": true, "opt2": true, "opt3": true}

	supply := func(missing ...string) map[string]bool {
		m := make(map[string]bool, len(all))
		for k := range all {
			m[k] = true
		}
		for _, name := range missing {
			m[name] = false
		}
		return m
	}

	for _, tc := range []struct {
		name    string
		missing []string
		want    float64
	}{
		{"all present", nil, 1.0},
		{"one optional missing", []string{"opt1"}, 0.8},
		{"most optionals missing", []string{"opt1", "opt2"}, 0.6},
		{"critical optional missing", []string{"crit"}, 0.3},
		{"required missing", []string{"req"}, 0.0},
		{"required missing dominates", []string{"req", "crit", "opt1"}, 0.0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ChainScore(declared, supply(tc.missing...))
			if err != nil {
				t.Fatalf("ChainScore failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("ChainScore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestChainScore_ExhaustiveLattice(t *testing.T) {
	declared := []ChainInput{
		{Name: "req", Kind: KindRequired},
		{Name: "crit", Kind: KindCriticalOptional},
		{Name: "opt1", Kind: KindOptional},
		{Name: "opt2", Kind: KindOptional},
	}
	levels := map[float64]bool{0.0: true, 0.3: true, 0.6: true, 0.8: true, 1.0: true}

	names := []string{"req", "crit", "opt1", "opt2"}
	var observed = map[float64]bool{}
	for mask := 0; mask < 16; mask++ {
		supplied := make(map[string]bool, 4)
		for i, name := range names {
			supplied[name] = mask&(1<<i) != 0
		}
		got, err := ChainScore(declared, supplied)
		if err != nil {
			t.Fatalf("ChainScore failed: %v", err)
		}
		if !levels[got] {
			t.Fatalf("ChainScore = %v for mask %04b, not a declared level", got, mask)
		}
		observed[got] = true

		// Monotone: supplying one more input never lowers the score.
		for i, name := range names {
			if supplied[name] {
				continue
			}
			more := make(map[string]bool, 4)
			for k, v := range supplied {
				more[k] = v
			}
			more[name] = true
			higher, err := ChainScore(declared, more)
			if err != nil {
				t.Fatalf("ChainScore failed: %v", err)
			}
			if higher < got {
				t.Errorf("adding %s (mask %04b) lowered score %v -> %v", name, mask|1<<i, got, higher)
			}
		}
	}

	// The layer must never collapse to a constant.
	if len(observed) < 4 {
		t.Errorf("only %d distinct levels observed across the lattice", len(observed))
	}
}

func TestCongruenceScore_UnknownFusionRuleIsZero(t *testing.T) {
	ensemble := []EnsembleMember{
		{Method: "A.m", Inputs: []string{"x"}, RangeMin: 0, RangeMax: 1},
	}
	if got := CongruenceScore(ensemble, "made_up_rule"); got != 0.0 {
		t.Errorf("CongruenceScore = %v, want exactly 0.0", got)
	}
}

func TestCongruenceScore_FullBeatsPartial(t *testing.T) {
	full := []EnsembleMember{
		{Method: "A.m", Inputs: []string{"x", "y"}, RangeMin: 0, RangeMax: 1},
		{Method: "B.m", Inputs: []string{"x", "y"}, RangeMin: 0, RangeMax: 1},
	}
	partial := []EnsembleMember{
		{Method: "A.m", Inputs: []string{"x", "y"}, RangeMin: 0, RangeMax: 1},
		{Method: "B.m", Inputs: []string{"y", "z"}, RangeMin: 0.5, RangeMax: 1.5},
	}

	fullScore := CongruenceScore(full, "weighted_average")
	partialScore := CongruenceScore(partial, "weighted_average")
	if fullScore <= partialScore {
		t.Errorf("full compatibility %v not strictly above partial %v", fullScore, partialScore)
	}
}

func TestMetaScore_Weighting(t *testing.T) {
	in := Inputs{Meta: MetaSignals{
		FormulaExported: true, FullTrace: true, LogConformant: true,
		VersionPinned: true, ConfigHashValid: true, SignatureValid: true,
	}}
	// Instant execution: cost term is 1.
	got := MetaScore(in)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("MetaScore = %v, want 1.0", got)
	}

	// Cost decreases monotonically in execution time.
	in.ExecutionTime = 10 * time.Second
	slower := MetaScore(in)
	if slower >= got {
		t.Errorf("MetaScore did not decrease with execution time: %v >= %v", slower, got)
	}
}
