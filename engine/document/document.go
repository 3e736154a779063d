// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package document holds the analyzable view of one planning document.
//
// The adapter phase folds the validated chunk matrix into a Document; in
// degraded (flat) ingestion mode the matrix is absent and only the full
// text survives. Analytical methods receive the Document read-only.
package document

import (
	"github.com/THEBLESSMAN867/farfan/engine/chunks"
)

// Structure summarizes document completeness for the unit calibration gate.
type Structure struct {
	// HasIndicatorMatrix reports whether the plan carries its mandatory
	// indicator matrix.
	HasIndicatorMatrix bool `json:"has_indicator_matrix"`

	// HasFinancialMatrix reports whether the plan carries its mandatory
	// financial matrix.
	HasFinancialMatrix bool `json:"has_financial_matrix"`

	// SectionCoverage is the fraction of expected plan sections found, [0,1].
	SectionCoverage float64 `json:"section_coverage"`

	// KeywordCoverage is the fraction of expected domain keywords found, [0,1].
	KeywordCoverage float64 `json:"keyword_coverage"`

	// NumberCoverage is the fraction of sections carrying quantitative
	// content, [0,1].
	NumberCoverage float64 `json:"number_coverage"`
}

// Document is the immutable per-run view handed to analytical methods.
type Document struct {
	// ID identifies the source plan.
	ID string `json:"id"`

	// Matrix is the validated 60-cell chunk matrix. Nil in flat mode.
	Matrix *chunks.Matrix `json:"-"`

	// FullText is the complete extracted text, always present.
	FullText string `json:"-"`

	// Structure is the completeness summary used by unit calibration.
	Structure Structure `json:"structure"`

	// Flat reports degraded ingestion: no per-cell chunking available.
	Flat bool `json:"flat"`
}
