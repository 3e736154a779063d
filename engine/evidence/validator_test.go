// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestValidate_RequiredFieldPolicyGating(t *testing.T) {
	rules := []FieldRule{{Field: "score", Required: true}}

	// Abort policy: hard failure.
	res := Validate(Evidence{}, rules, PolicyAbort)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 1)

	// Lenient policy: downgraded to a warning, still valid.
	res = Validate(Evidence{}, rules, PolicyLenient)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Warnings, 1)
}

func TestValidate_ShapeChecks(t *testing.T) {
	rules := []FieldRule{
		{Field: "score", Type: "number", Min: floatPtr(0), Max: floatPtr(1)},
		{Field: "label", Type: "string", MinLength: intPtr(2), MaxLength: intPtr(10), Pattern: `^[a-z]+$`},
		{Field: "mode", AllowedValues: []any{"strict", "lenient"}},
	}

	res := Validate(Evidence{"score": 0.5, "label": "good", "mode": "strict"}, rules, PolicyAbort)
	assert.True(t, res.Valid, "clean evidence rejected: %v", res.Errors)

	res = Validate(Evidence{"score": 1.5, "label": "X", "mode": "other"}, rules, PolicyAbort)
	assert.False(t, res.Valid)
	// Range, length, pattern, and allowed-set violations all reported.
	assert.GreaterOrEqual(t, len(res.Errors), 4)
}

func TestValidate_MustContainHardError(t *testing.T) {
	rules := []FieldRule{{
		Field: "elements",
		MustContain: &ContainSpec{
			Elements: []string{"baseline", "target", "source"},
			MinCount: 2,
		},
	}}

	res := Validate(Evidence{"elements": []any{"baseline", "target"}}, rules, PolicyAbort)
	assert.True(t, res.Valid)

	res = Validate(Evidence{"elements": []any{"baseline"}}, rules, PolicyAbort)
	assert.False(t, res.Valid)
}

func TestValidate_ShouldContainSoftWarning(t *testing.T) {
	rules := []FieldRule{{
		Field: "elements",
		ShouldContain: &GroupSpec{
			Groups: map[string][]string{
				"quantitative": {"target", "baseline"},
				"temporal":     {"deadline", "milestone"},
			},
		},
	}}

	// One group uncovered: warning only, even under abort policy.
	res := Validate(Evidence{"elements": []any{"target"}}, rules, PolicyAbort)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.Warnings, 1)
}

func TestValidate_CollectsAllFindings(t *testing.T) {
	rules := []FieldRule{
		{Field: "a", Required: true},
		{Field: "b", Required: true},
		{Field: "c", Type: "number"},
	}

	res := Validate(Evidence{"c": "text"}, rules, PolicyAbort)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 3, "validation stopped early: %v", res.Errors)
}
