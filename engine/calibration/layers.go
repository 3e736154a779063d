// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"fmt"
	"math"

	"github.com/THEBLESSMAN867/farfan/engine/document"
)

// =============================================================================
// Unit Layer
// =============================================================================

// UnitWeights weight the coverage components of the unit layer. They are
// normalized before use.
type UnitWeights struct {
	Section float64 `json:"section"`
	Keyword float64 `json:"keyword"`
	Number  float64 `json:"number"`
}

// DefaultUnitWeights weights section coverage highest: a plan missing whole
// sections is less trustworthy than one missing keywords.
func DefaultUnitWeights() UnitWeights {
	return UnitWeights{Section: 0.5, Keyword: 0.3, Number: 0.2}
}

// UnitScore computes the document structural-completeness gate.
//
// Description:
//
//	Returns exactly 0 when either mandatory matrix (indicator, financial)
//	is absent, regardless of coverage. Otherwise returns the normalized
//	weighted composite of section, keyword, and number coverage, clamped
//	to [0,1].
func UnitScore(s document.Structure, w UnitWeights) float64 {
	if !s.HasIndicatorMatrix || !s.HasFinancialMatrix {
		return 0
	}
	total := w.Section + w.Keyword + w.Number
	if total <= 0 {
		w = DefaultUnitWeights()
		total = w.Section + w.Keyword + w.Number
	}
	score := (w.Section*clamp01(s.SectionCoverage) +
		w.Keyword*clamp01(s.KeywordCoverage) +
		w.Number*clamp01(s.NumberCoverage)) / total
	return clamp01(score)
}

// =============================================================================
// Chain Layer
// =============================================================================

// ChainScore computes the discrete input-availability score.
//
// Description:
//
//	The score is one of exactly five levels {1.0, 0.8, 0.6, 0.3, 0.0}:
//
//	  - any required input missing        -> 0.0
//	  - any critical-optional missing     -> 0.3
//	  - over half the optionals missing   -> 0.6
//	  - some optional missing             -> 0.8
//	  - everything present                -> 1.0
//
//	The score is monotone in "more inputs present".
//
// Inputs:
//   - declared: The method sequence's declared inputs.
//   - supplied: Presence of each input by name.
//
// Outputs:
//   - float64: One of the five levels.
//   - error: Non-nil on a duplicate or unrecognized declaration kind.
func ChainScore(declared []ChainInput, supplied map[string]bool) (float64, error) {
	seen := make(map[string]bool, len(declared))
	var optTotal, optMissing int
	requiredMissing := false
	criticalMissing := false

	for _, in := range declared {
		if seen[in.Name] {
			return 0, fmt.Errorf("chain input %q declared twice", in.Name)
		}
		seen[in.Name] = true

		present := supplied[in.Name]
		switch in.Kind {
		case KindRequired:
			if !present {
				requiredMissing = true
			}
		case KindCriticalOptional:
			if !present {
				criticalMissing = true
			}
		case KindOptional:
			optTotal++
			if !present {
				optMissing++
			}
		default:
			return 0, fmt.Errorf("chain input %q has unknown kind %q", in.Name, in.Kind)
		}
	}

	switch {
	case requiredMissing:
		return 0.0, nil
	case criticalMissing:
		return 0.3, nil
	case optMissing == 0:
		return 1.0, nil
	case optMissing*2 > optTotal:
		return 0.6, nil
	default:
		return 0.8, nil
	}
}

// =============================================================================
// Congruence Layer
// =============================================================================

// knownFusionRules is the closed set of recognized ensemble fusion rules.
var knownFusionRules = map[string]bool{
	"weighted_average": true,
	"majority_vote":    true,
	"bayesian":         true,
	"max_confidence":   true,
}

// CongruenceScore scores a method ensemble's internal compatibility.
//
// Description:
//
//	An unrecognized fusion rule scores exactly 0.0. Otherwise the score
//	is the mean of the ensemble's pairwise input overlap (Jaccard) and
//	pairwise output-range overlap, so fully compatible ensembles score
//	strictly above partially compatible ones. A single-member ensemble
//	is trivially compatible.
func CongruenceScore(ensemble []EnsembleMember, fusionRule string) float64 {
	if !knownFusionRules[fusionRule] {
		return 0.0
	}
	if len(ensemble) <= 1 {
		return 1.0
	}

	var inputSum, rangeSum float64
	var pairs int
	for i := 0; i < len(ensemble); i++ {
		for j := i + 1; j < len(ensemble); j++ {
			inputSum += jaccard(ensemble[i].Inputs, ensemble[j].Inputs)
			rangeSum += rangeOverlap(ensemble[i], ensemble[j])
			pairs++
		}
	}
	return clamp01((inputSum/float64(pairs) + rangeSum/float64(pairs)) / 2)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	set := make(map[string]int, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	var inter, union int
	for _, mask := range set {
		union++
		if mask == 3 {
			inter++
		}
	}
	return float64(inter) / float64(union)
}

func rangeOverlap(a, b EnsembleMember) float64 {
	lo := math.Max(a.RangeMin, b.RangeMin)
	hi := math.Min(a.RangeMax, b.RangeMax)
	if hi <= lo {
		return 0
	}
	span := math.Max(a.RangeMax, b.RangeMax) - math.Min(a.RangeMin, b.RangeMin)
	if span <= 0 {
		return 1.0
	}
	return (hi - lo) / span
}

// =============================================================================
// Meta Layer
// =============================================================================

// MetaScore computes 0.5*transparency + 0.4*governance + 0.1*cost.
//
// Transparency is the fraction of {formula exported, full trace, log
// conformance} satisfied; governance the fraction of {version pinned,
// config hash valid, signature valid}; cost decreases monotonically in
// execution time.
func MetaScore(in Inputs) float64 {
	transparency := fraction(in.Meta.FormulaExported, in.Meta.FullTrace, in.Meta.LogConformant)
	governance := fraction(in.Meta.VersionPinned, in.Meta.ConfigHashValid, in.Meta.SignatureValid)
	cost := 1.0 / (1.0 + in.ExecutionTime.Seconds())
	return clamp01(0.5*transparency + 0.4*governance + 0.1*cost)
}

func fraction(flags ...bool) float64 {
	var n int
	for _, f := range flags {
		if f {
			n++
		}
	}
	return float64(n) / float64(len(flags))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
