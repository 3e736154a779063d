// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/evidence"
)

// QuestionsPerSlot is the number of micro-questions per (dimension,
// question-number) base slot: one per policy area.
const QuestionsPerSlot = chunks.NumPolicyAreas

// QuestionsPerCell is the number of micro-questions per matrix cell.
const QuestionsPerCell = 5

// TotalQuestions is the fixed questionnaire size: 6 dimensions x 10 policy
// areas x 5 questions.
const TotalQuestions = chunks.NumDimensions * chunks.NumPolicyAreas * QuestionsPerCell

// BaseSlot returns the canonical slot id for a dimension and question
// number, e.g. "D1-Q3".
func BaseSlot(dim chunks.Dimension, number int) string {
	return fmt.Sprintf("D%d-Q%d", dim, number)
}

// =============================================================================
// Questions
// =============================================================================

// Question is one canonical micro-question. The engine never parses the
// questionnaire file itself; it consumes this pre-validated view.
type Question struct {
	// ID uniquely identifies the question, e.g. "D1-Q3-PA07".
	ID string `json:"id"`

	// BaseSlot is the (dimension, question-number) slot, e.g. "D1-Q3".
	BaseSlot string `json:"base_slot"`

	// Dimension and PolicyArea locate the question on the grid.
	Dimension  chunks.Dimension  `json:"dimension"`
	PolicyArea chunks.PolicyArea `json:"policy_area"`

	// Number is the 1-based question number within the cell.
	Number int `json:"number"`

	// Cluster groups thematically related questions for reporting.
	Cluster string `json:"cluster,omitempty"`

	// Text is the question wording.
	Text string `json:"text"`

	// Modality names the scoring modality, e.g. "binary", "graduated".
	Modality string `json:"modality,omitempty"`

	// RequiredPatterns and RequiredElements feed signal matching and
	// evidence validation upstream of this package.
	RequiredPatterns []string `json:"required_patterns,omitempty"`
	RequiredElements []string `json:"required_elements,omitempty"`
}

// Questionnaire is the immutable in-memory view of one versioned canonical
// questionnaire.
//
// Thread Safety: Immutable after New, safe for concurrent use.
type Questionnaire struct {
	version   string
	questions []Question
	byID      map[string]int
}

// New validates and indexes a canonical questionnaire view.
//
// Description:
//
//	Enforces the fixed shape: exactly TotalQuestions questions, 50 per
//	dimension, QuestionsPerCell per matrix cell, unique ids, and base
//	slots consistent with each question's dimension and number. All
//	violations are reported together.
//
// Inputs:
//   - version: The questionnaire version tag. Must be non-empty.
//   - questions: The pre-parsed questions, in any order.
//
// Outputs:
//   - *Questionnaire: The immutable view. Never nil on success.
//   - error: A *ContractError listing every violation.
func New(version string, questions []Question) (*Questionnaire, error) {
	var violations []string
	if version == "" {
		violations = append(violations, "empty version")
	}
	if len(questions) != TotalQuestions {
		violations = append(violations, fmt.Sprintf("%d questions, need %d", len(questions), TotalQuestions))
	}

	byID := make(map[string]int, len(questions))
	perDim := make(map[chunks.Dimension]int)
	perCell := make(map[chunks.Key]int)
	for i, q := range questions {
		if _, dup := byID[q.ID]; dup {
			violations = append(violations, fmt.Sprintf("duplicate question id %s", q.ID))
			continue
		}
		byID[q.ID] = i
		if !q.Dimension.Valid() || !q.PolicyArea.Valid() {
			violations = append(violations, fmt.Sprintf("question %s has out-of-range grid position", q.ID))
			continue
		}
		if q.Number < 1 || q.Number > QuestionsPerCell {
			violations = append(violations, fmt.Sprintf("question %s has number %d outside 1..%d", q.ID, q.Number, QuestionsPerCell))
		}
		if want := BaseSlot(q.Dimension, q.Number); q.BaseSlot != want {
			violations = append(violations, fmt.Sprintf("question %s declares base slot %s, want %s", q.ID, q.BaseSlot, want))
		}
		perDim[q.Dimension]++
		perCell[chunks.Key{PolicyArea: q.PolicyArea, Dimension: q.Dimension}]++
	}

	if len(questions) == TotalQuestions && len(violations) == 0 {
		for dim := chunks.Dimension(1); dim <= chunks.NumDimensions; dim++ {
			if perDim[dim] != chunks.NumPolicyAreas*QuestionsPerCell {
				violations = append(violations, fmt.Sprintf("dimension %s has %d questions, want %d",
					dim, perDim[dim], chunks.NumPolicyAreas*QuestionsPerCell))
			}
		}
		for cell, n := range perCell {
			if n != QuestionsPerCell {
				violations = append(violations, fmt.Sprintf("cell %s has %d questions, want %d", cell, n, QuestionsPerCell))
			}
		}
	}

	if len(violations) > 0 {
		return nil, &ContractError{Cause: fmt.Errorf("questionnaire invalid: %s", strings.Join(violations, "; "))}
	}

	ordered := append([]Question{}, questions...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.PolicyArea != b.PolicyArea {
			return a.PolicyArea < b.PolicyArea
		}
		return a.Number < b.Number
	})
	byID = make(map[string]int, len(ordered))
	for i, q := range ordered {
		byID[q.ID] = i
	}

	return &Questionnaire{version: version, questions: ordered, byID: byID}, nil
}

// Version returns the questionnaire version tag.
func (q *Questionnaire) Version() string { return q.version }

// Len returns the question count, always TotalQuestions.
func (q *Questionnaire) Len() int { return len(q.questions) }

// Ordered returns the questions in audit order: dimension-first,
// policy-area ascending, question number ascending. The returned slice is
// shared; callers must not mutate it.
func (q *Questionnaire) Ordered() []Question { return q.questions }

// ByID returns one question by id.
func (q *Questionnaire) ByID(id string) (Question, bool) {
	i, ok := q.byID[id]
	if !ok {
		return Question{}, false
	}
	return q.questions[i], true
}

// =============================================================================
// Question Contexts
// =============================================================================

// QuestionContext is the immutable per-question execution bundle: the
// canonical question plus its base slot's contract. Executors reference it,
// never mutate it.
type QuestionContext struct {
	Question

	// Contract is the base-slot execution specification. Shared across
	// the slot's questions, never mutated.
	Contract *Contract

	// Version is the questionnaire version tag the question came from.
	// A non-empty version counts as a governance pin in calibration.
	Version string
}

// NAPolicy returns the question's failure contract.
func (qc *QuestionContext) NAPolicy() evidence.NAPolicy {
	return qc.Contract.NAPolicy
}

// BuildContexts pairs every question with its base slot's contract.
//
// Description:
//
//	A question whose base slot has no contract is a cross-reference
//	violation and fatal at load. The result preserves the questionnaire's
//	audit order.
//
// Outputs:
//   - []QuestionContext: One context per question, in audit order.
//   - error: A *ContractError listing every unmatched base slot.
func BuildContexts(q *Questionnaire, bySlot map[string]*Contract) ([]QuestionContext, error) {
	var missing []string
	reported := make(map[string]bool)
	out := make([]QuestionContext, 0, q.Len())
	for _, question := range q.Ordered() {
		c, ok := bySlot[question.BaseSlot]
		if !ok {
			if !reported[question.BaseSlot] {
				missing = append(missing, question.BaseSlot)
				reported[question.BaseSlot] = true
			}
			continue
		}
		out = append(out, QuestionContext{Question: question, Contract: c, Version: q.Version()})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ContractError{Cause: fmt.Errorf("no contract for base slots: %s", strings.Join(missing, ", "))}
	}
	return out, nil
}
