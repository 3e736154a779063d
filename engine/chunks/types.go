// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chunks defines the chunk data model and the 60-cell chunk matrix.
//
// Upstream ingestion tags every contiguous text span of a planning document
// with one of 10 policy areas and one of 6 analytical dimensions. The core
// engine only ever consumes the complete cross product: exactly one chunk
// per (policy area, dimension) cell. Matrix construction enforces that
// invariant and reports every violation at once, so a failed ingestion run
// can be diagnosed from a single error.
//
// Thread Safety:
//
//	Chunk and Matrix are immutable after construction and safe to share
//	across goroutines.
package chunks

import (
	"fmt"
	"regexp"
)

// =============================================================================
// Grid Constants
// =============================================================================

const (
	// NumPolicyAreas is the number of fixed thematic policy areas.
	NumPolicyAreas = 10

	// NumDimensions is the number of fixed analytical dimensions.
	NumDimensions = 6

	// MatrixSize is the required chunk count: the full cross product.
	MatrixSize = NumPolicyAreas * NumDimensions
)

// PolicyArea identifies one of the 10 fixed thematic categories (1-based).
type PolicyArea int

// Valid reports whether the policy area is within the canonical range.
func (p PolicyArea) Valid() bool {
	return p >= 1 && p <= NumPolicyAreas
}

// String returns the canonical identifier, e.g. "PA03".
func (p PolicyArea) String() string {
	return fmt.Sprintf("PA%02d", int(p))
}

// Dimension identifies one of the 6 fixed analytical lenses (1-based).
type Dimension int

const (
	// DimDiagnosis covers problem identification and baseline evidence.
	DimDiagnosis Dimension = iota + 1
	// DimActivities covers planned interventions.
	DimActivities
	// DimProducts covers direct deliverables.
	DimProducts
	// DimOutcomes covers medium-term results.
	DimOutcomes
	// DimImpacts covers long-term effects.
	DimImpacts
	// DimCausality covers the causal chain linking the other five.
	DimCausality
)

// Valid reports whether the dimension is within the canonical range.
func (d Dimension) Valid() bool {
	return d >= 1 && d <= NumDimensions
}

// String returns the canonical identifier, e.g. "DIM04".
func (d Dimension) String() string {
	return fmt.Sprintf("DIM%02d", int(d))
}

// Label returns the analytical lens name for reporting.
func (d Dimension) Label() string {
	switch d {
	case DimDiagnosis:
		return "diagnosis"
	case DimActivities:
		return "activities"
	case DimProducts:
		return "products"
	case DimOutcomes:
		return "outcomes"
	case DimImpacts:
		return "impacts"
	case DimCausality:
		return "causality"
	default:
		return "unknown"
	}
}

// Key addresses one cell of the chunk matrix.
type Key struct {
	PolicyArea PolicyArea
	Dimension  Dimension
}

// String returns the canonical cell identifier, e.g. "PA03-DIM04".
func (k Key) String() string {
	return fmt.Sprintf("%s-%s", k.PolicyArea, k.Dimension)
}

// CanonicalID returns the required chunk id for a cell.
func CanonicalID(pa PolicyArea, dim Dimension) string {
	return Key{PolicyArea: pa, Dimension: dim}.String()
}

var idPattern = regexp.MustCompile(`^PA(0[1-9]|10)-DIM(0[1-6])$`)

// ParseID parses a canonical chunk id of the form "PA{01-10}-DIM{01-06}".
//
// Outputs:
//   - Key: The parsed cell key.
//   - error: Non-nil if the id does not match the canonical grid.
func ParseID(id string) (Key, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return Key{}, fmt.Errorf("chunk id %q does not match the canonical PA{01-10}-DIM{01-06} grid", id)
	}
	var pa, dim int
	fmt.Sscanf(m[1], "%d", &pa)
	fmt.Sscanf(m[2], "%d", &dim)
	return Key{PolicyArea: PolicyArea(pa), Dimension: Dimension(dim)}, nil
}

// =============================================================================
// Chunk
// =============================================================================

// ChunkType classifies a chunk's content for routing purposes.
type ChunkType string

const (
	// TypeDiagnostic marks baseline and problem-statement content.
	TypeDiagnostic ChunkType = "diagnostic"
	// TypeActivity marks planned intervention content.
	TypeActivity ChunkType = "activity"
	// TypeProduct marks deliverable content.
	TypeProduct ChunkType = "product"
	// TypeOutcome marks medium-term result content.
	TypeOutcome ChunkType = "outcome"
	// TypeImpact marks long-term effect content.
	TypeImpact ChunkType = "impact"
	// TypeCausal marks theory-of-change content.
	TypeCausal ChunkType = "causal"
	// TypeFinancial marks budget and financial-matrix content.
	TypeFinancial ChunkType = "financial"
	// TypeIndicator marks indicator-matrix content.
	TypeIndicator ChunkType = "indicator"
)

// Provenance records where a chunk's text came from.
type Provenance struct {
	// Source names the originating document or section.
	Source string `json:"source"`

	// Page is the 1-based page number, 0 if unknown.
	Page int `json:"page,omitempty"`

	// Extractor names the upstream component that produced the span.
	Extractor string `json:"extractor,omitempty"`
}

// Chunk is one contiguous text span of the document, tagged with its cell.
//
// Chunks are owned by the ingestion pipeline and immutable after that.
type Chunk struct {
	// ID is the canonical cell id, e.g. "PA03-DIM04".
	ID string `json:"id"`

	// Text is the span content.
	Text string `json:"text"`

	// Start and End are byte offsets of the span in the source document.
	Start int `json:"start"`
	End   int `json:"end"`

	// PolicyArea is the tagged policy area (1..10).
	PolicyArea PolicyArea `json:"policy_area"`

	// Dimension is the tagged analytical dimension (1..6).
	Dimension Dimension `json:"dimension"`

	// Type classifies the content for routing.
	Type ChunkType `json:"type"`

	// Confidence is the upstream tagging confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Provenance records the span origin.
	Provenance Provenance `json:"provenance"`
}

// Key returns the chunk's matrix cell key from its tagged metadata.
func (c *Chunk) Key() Key {
	return Key{PolicyArea: c.PolicyArea, Dimension: c.Dimension}
}
