// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package calibration computes multi-layer trust scores for method outputs.
//
// Four independent layers each produce a score in [0,1]:
//
//   - Unit: hard gate over document structural completeness
//   - Chain: discrete score over declared input availability
//   - Congruence: method-ensemble compatibility
//   - Meta: transparency, governance, and cost of the execution itself
//
// A 2-additive Choquet integral combines the layers, rewarding simultaneous
// strength over plain averaging. Every layer and the aggregator are pure
// functions of declared inputs; per-(class, method) parameters come from one
// configuration source and an absent entry is an explicit error, never a
// silent zero default.
package calibration

import (
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/document"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotConfigured is returned when a (class, method) pair has no
	// calibration entry.
	ErrNotConfigured = errors.New("calibration not configured")

	// ErrUnknownFusionRule marks an unrecognized ensemble fusion rule.
	ErrUnknownFusionRule = errors.New("unknown fusion rule")
)

// Error marks a layer or aggregator that could not compute a score. It is
// always fatal for the affected method: unscoreable output cannot be
// trusted downstream.
type Error struct {
	// Layer names the failing layer or "choquet".
	Layer string

	// Method is the affected (class, method) key, when known.
	Method string

	// Cause is the underlying failure.
	Cause error
}

func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("calibration %s layer failed for %s: %v", e.Layer, e.Method, e.Cause)
	}
	return fmt.Sprintf("calibration %s layer failed: %v", e.Layer, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// -----------------------------------------------------------------------------
// Contexts
// -----------------------------------------------------------------------------

// Context is the pure value bundle a calibration is computed against.
type Context struct {
	// QuestionID identifies the micro-question.
	QuestionID string

	// Dimension and PolicyArea locate the question on the grid.
	Dimension  chunks.Dimension
	PolicyArea chunks.PolicyArea

	// UnitQuality is the unit-layer score of the containing document.
	UnitQuality float64

	// ChainPosition is the method's 0-based position in its sequence.
	ChainPosition int

	// ChainLength is the method sequence length.
	ChainLength int
}

// Hash returns a stable cache key for the context.
func (c Context) Hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%.6f|%d|%d",
		c.QuestionID, c.Dimension, c.PolicyArea, c.UnitQuality, c.ChainPosition, c.ChainLength)
	return h.Sum64()
}

// -----------------------------------------------------------------------------
// Method Calibration
// -----------------------------------------------------------------------------

// MethodCalibration holds the per-(class, method) trust parameters.
type MethodCalibration struct {
	// ScoreMin / ScoreMax bound the method's meaningful output range.
	ScoreMin float64 `json:"score_min" validate:"gte=0,lte=1"`
	ScoreMax float64 `json:"score_max" validate:"gte=0,lte=1,gtefield=ScoreMin"`

	// EvidenceMin / EvidenceMax bound the expected evidence count.
	EvidenceMin int `json:"evidence_min" validate:"gte=0"`
	EvidenceMax int `json:"evidence_max" validate:"gtefield=EvidenceMin"`

	// ContradictionTolerance is the accepted fraction of contradicting
	// evidence before the method's output is distrusted.
	ContradictionTolerance float64 `json:"contradiction_tolerance" validate:"gte=0,lte=1"`

	// UncertaintyPenalty scales down scores carrying declared uncertainty.
	UncertaintyPenalty float64 `json:"uncertainty_penalty" validate:"gte=0,lte=1"`

	// Weight is the method's share in ensemble aggregation.
	Weight float64 `json:"aggregation_weight" validate:"gte=0"`

	// Sensitivity steepens or flattens the method's score response.
	Sensitivity float64 `json:"sensitivity" validate:"gt=0"`

	// RequiresSupport demands corroborating evidence from another method.
	RequiresSupport bool `json:"requires_support"`
}

// LayerScores carries the four layer results plus the Choquet aggregate.
type LayerScores struct {
	Unit       float64 `json:"unit"`
	Chain      float64 `json:"chain"`
	Congruence float64 `json:"congruence"`
	Meta       float64 `json:"meta"`
	Aggregate  float64 `json:"aggregate"`
}

// -----------------------------------------------------------------------------
// Layer Inputs
// -----------------------------------------------------------------------------

// InputKind classifies a declared chain input.
type InputKind string

const (
	// KindRequired inputs zero the chain score when missing.
	KindRequired InputKind = "required"
	// KindOptional inputs soften the score when missing.
	KindOptional InputKind = "optional"
	// KindCriticalOptional inputs drop the score to 0.3 when missing.
	KindCriticalOptional InputKind = "critical_optional"
)

// ChainInput declares one input of a method sequence.
type ChainInput struct {
	Name string    `json:"name" validate:"required"`
	Kind InputKind `json:"kind" validate:"required,oneof=required optional critical_optional"`
}

// EnsembleMember describes one method inside a fusion ensemble.
type EnsembleMember struct {
	// Method is the (class, method) key.
	Method string `json:"method"`

	// Inputs are the evidence fields the method consumes.
	Inputs []string `json:"inputs"`

	// RangeMin / RangeMax bound the member's output.
	RangeMin float64 `json:"range_min"`
	RangeMax float64 `json:"range_max"`
}

// MetaSignals carries the execution-transparency facts for the meta layer.
type MetaSignals struct {
	// FormulaExported reports whether the scoring formula is exported.
	FormulaExported bool `json:"formula_exported"`

	// FullTrace reports whether a complete assembly trace was produced.
	FullTrace bool `json:"full_trace"`

	// LogConformant reports whether structured-log conventions were met.
	LogConformant bool `json:"log_conformant"`

	// VersionPinned reports whether the method version is pinned.
	VersionPinned bool `json:"version_pinned"`

	// ConfigHashValid reports whether the configuration hash verified.
	ConfigHashValid bool `json:"config_hash_valid"`

	// SignatureValid reports whether the contract signature verified.
	SignatureValid bool `json:"signature_valid"`
}

// Inputs bundles everything the four layers consume for one invocation.
type Inputs struct {
	// Structure is the document completeness summary (unit layer).
	Structure document.Structure

	// ChainInputs declares the method sequence inputs (chain layer).
	ChainInputs []ChainInput

	// Supplied marks which declared inputs were actually present.
	Supplied map[string]bool

	// Ensemble describes the fused methods (congruence layer).
	Ensemble []EnsembleMember

	// FusionRule names the declared fusion rule (congruence layer).
	FusionRule string

	// Meta carries transparency and governance facts (meta layer).
	Meta MetaSignals

	// ExecutionTime is the wall time of the invocation (meta layer cost).
	ExecutionTime time.Duration
}
