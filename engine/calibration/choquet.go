// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"fmt"
)

// InteractionPair declares a 2-additive interaction between two score
// indices. A positive weight rewards simultaneous strength of both scores.
type InteractionPair struct {
	// I and J are indices into the score vector.
	I int `json:"i"`
	J int `json:"j"`

	// Weight scales the pairwise minimum term.
	Weight float64 `json:"weight"`
}

// Choquet computes the 2-additive Choquet integral over a score vector:
//
//	sum(w_i * x_i) + sum(w_ij * min(x_i, x_j))
//
// Description:
//
//	The linear term uses normalized weights, defaulting to uniform when
//	weights is empty. The interaction term adds the pairwise minimum
//	scaled by each declared interaction weight, which rewards methods
//	that are simultaneously strong over plain averaging. A single score
//	is returned unchanged.
//
// Inputs:
//   - scores: The layer or method scores, each in [0,1].
//   - weights: Linear weights; empty means uniform. Length must match
//     scores when non-empty.
//   - pairs: Declared interaction pairs with in-range indices.
//
// Outputs:
//   - float64: The aggregate, clamped to [0,1].
//   - error: Non-nil on empty scores, a length mismatch, a negative
//     weight sum, or an out-of-range pair index.
func Choquet(scores, weights []float64, pairs []InteractionPair) (float64, error) {
	if len(scores) == 0 {
		return 0, fmt.Errorf("choquet: empty score vector")
	}
	if len(scores) == 1 && len(pairs) == 0 {
		return scores[0], nil
	}
	if len(weights) != 0 && len(weights) != len(scores) {
		return 0, fmt.Errorf("choquet: %d weights for %d scores", len(weights), len(scores))
	}

	if len(weights) == 0 {
		weights = make([]float64, len(scores))
		for i := range weights {
			weights[i] = 1
		}
	}

	var weightSum float64
	for _, w := range weights {
		if w < 0 {
			return 0, fmt.Errorf("choquet: negative linear weight %v", w)
		}
		weightSum += w
	}
	if weightSum == 0 {
		return 0, fmt.Errorf("choquet: linear weights sum to zero")
	}

	var linear float64
	for i, x := range scores {
		linear += (weights[i] / weightSum) * x
	}

	var interaction float64
	for _, p := range pairs {
		if p.I < 0 || p.I >= len(scores) || p.J < 0 || p.J >= len(scores) || p.I == p.J {
			return 0, fmt.Errorf("choquet: interaction pair (%d,%d) out of range for %d scores", p.I, p.J, len(scores))
		}
		lo := scores[p.I]
		if scores[p.J] < lo {
			lo = scores[p.J]
		}
		interaction += p.Weight * lo
	}

	return clamp01(linear + interaction), nil
}
