// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"fmt"
	"regexp"
)

// =============================================================================
// Validation Rules
// =============================================================================

// NAPolicy governs how validation errors are escalated.
type NAPolicy string

const (
	// PolicyAbort converts every validation error into a failing result.
	PolicyAbort NAPolicy = "abort"

	// PolicyLenient downgrades errors to warnings: the evidence is
	// imperfect but usable.
	PolicyLenient NAPolicy = "lenient"
)

// ContainSpec declares required elements for a list field. A rule is
// satisfied when at least MinCount of the named elements appear.
type ContainSpec struct {
	// Elements are the values looked for in the list field.
	Elements []string `json:"elements" validate:"required,min=1"`

	// MinCount is the minimum number of Elements that must be present.
	// Zero means all of them.
	MinCount int `json:"min_count,omitempty"`
}

// GroupSpec declares named element groups for a soft coverage check. A
// group counts as covered when any of its members appears in the field.
type GroupSpec struct {
	// Groups maps a group name to its member values.
	Groups map[string][]string `json:"groups" validate:"required,min=1"`

	// MinGroups is the minimum number of covered groups. Zero means all.
	MinGroups int `json:"min_groups,omitempty"`
}

// FieldRule declares the validation contract for one evidence field.
type FieldRule struct {
	// Field is the evidence field this rule checks.
	Field string `json:"field" validate:"required"`

	// Required makes an unresolved (nil or absent) value an error.
	Required bool `json:"required,omitempty"`

	// Type constrains the value kind: "string", "number", "bool", "list"
	// or "map". Empty means unconstrained.
	Type string `json:"type,omitempty" validate:"omitempty,oneof=string number bool list map"`

	// MinLength / MaxLength bound string or list length.
	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`

	// Min / Max bound numeric values.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// AllowedValues enumerates the permitted values.
	AllowedValues []any `json:"allowed_values,omitempty"`

	// Pattern is a regular expression a string value must match.
	Pattern string `json:"pattern,omitempty"`

	// MustContain is a hard element-presence check on a list field.
	MustContain *ContainSpec `json:"must_contain,omitempty"`

	// ShouldContain is a soft group-coverage check on a list field.
	ShouldContain *GroupSpec `json:"should_contain,omitempty"`
}

// Issue describes one validation finding.
type Issue struct {
	// Field is the evidence field the finding concerns.
	Field string `json:"field"`

	// Message describes the violation.
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Result is the outcome of validating one question's evidence.
type Result struct {
	// Valid is false only when errors remain after policy gating.
	Valid bool `json:"valid"`

	// Errors are hard violations. Empty under a lenient policy.
	Errors []Issue `json:"errors,omitempty"`

	// Warnings are soft findings, including policy-downgraded errors.
	Warnings []Issue `json:"warnings,omitempty"`
}

// =============================================================================
// Validator
// =============================================================================

// Validate checks assembled evidence against the declared field rules.
//
// Description:
//
//	Every rule is evaluated; findings are never cut short at the first
//	violation. Under PolicyAbort any hard violation yields Valid=false.
//	Under any softer policy hard violations are downgraded to warnings
//	and the result is Valid=true, separating untrustworthy evidence from
//	imperfect but usable evidence.
//
// Inputs:
//   - ev: The assembled evidence.
//   - rules: The contract-declared field rules.
//   - policy: The question's NA policy.
//
// Outputs:
//   - Result: Findings plus the policy-gated validity flag.
func Validate(ev Evidence, rules []FieldRule, policy NAPolicy) Result {
	var errs, warns []Issue

	for _, rule := range rules {
		value, present := ev[rule.Field]
		if !present || value == nil {
			if rule.Required {
				errs = append(errs, Issue{Field: rule.Field, Message: "required field has no resolvable value"})
			}
			continue
		}

		errs = append(errs, checkShape(rule, value)...)

		if rule.MustContain != nil {
			if issue := checkContains(rule, value); issue != nil {
				errs = append(errs, *issue)
			}
		}
		if rule.ShouldContain != nil {
			if issue := checkGroups(rule, value); issue != nil {
				warns = append(warns, *issue)
			}
		}
	}

	if policy != PolicyAbort {
		warns = append(warns, errs...)
		errs = nil
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

func checkShape(rule FieldRule, value any) []Issue {
	var issues []Issue
	fail := func(format string, args ...any) {
		issues = append(issues, Issue{Field: rule.Field, Message: fmt.Sprintf(format, args...)})
	}

	if rule.Type != "" && !matchesType(rule.Type, value) {
		fail("declared type %s, got %T", rule.Type, value)
		return issues
	}

	if rule.MinLength != nil || rule.MaxLength != nil {
		if n, ok := lengthOf(value); ok {
			if rule.MinLength != nil && n < *rule.MinLength {
				fail("length %d below minimum %d", n, *rule.MinLength)
			}
			if rule.MaxLength != nil && n > *rule.MaxLength {
				fail("length %d above maximum %d", n, *rule.MaxLength)
			}
		}
	}

	if rule.Min != nil || rule.Max != nil {
		if n, ok := asNumber(value); ok {
			if rule.Min != nil && n < *rule.Min {
				fail("value %v below minimum %v", n, *rule.Min)
			}
			if rule.Max != nil && n > *rule.Max {
				fail("value %v above maximum %v", n, *rule.Max)
			}
		}
	}

	if len(rule.AllowedValues) > 0 {
		allowed := false
		for _, a := range rule.AllowedValues {
			if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", value) {
				allowed = true
				break
			}
		}
		if !allowed {
			fail("value %v not in allowed set", value)
		}
	}

	if rule.Pattern != "" {
		s, ok := value.(string)
		if !ok {
			fail("pattern declared on non-string value %T", value)
		} else if re, err := regexp.Compile(rule.Pattern); err != nil {
			fail("invalid pattern %q: %v", rule.Pattern, err)
		} else if !re.MatchString(s) {
			fail("value %q does not match pattern %q", s, rule.Pattern)
		}
	}

	return issues
}

func checkContains(rule FieldRule, value any) *Issue {
	spec := rule.MustContain
	members, ok := listMembers(value)
	if !ok {
		return &Issue{Field: rule.Field, Message: "must_contain declared on non-list value"}
	}

	need := spec.MinCount
	if need <= 0 {
		need = len(spec.Elements)
	}
	found := 0
	for _, el := range spec.Elements {
		if members[el] {
			found++
		}
	}
	if found < need {
		return &Issue{
			Field:   rule.Field,
			Message: fmt.Sprintf("must_contain unmet: %d of %d required elements present (need %d)", found, len(spec.Elements), need),
		}
	}
	return nil
}

func checkGroups(rule FieldRule, value any) *Issue {
	spec := rule.ShouldContain
	members, ok := listMembers(value)
	if !ok {
		return &Issue{Field: rule.Field, Message: "should_contain declared on non-list value"}
	}

	need := spec.MinGroups
	if need <= 0 {
		need = len(spec.Groups)
	}
	covered := 0
	for _, group := range spec.Groups {
		for _, member := range group {
			if members[member] {
				covered++
				break
			}
		}
	}
	if covered < need {
		return &Issue{
			Field:   rule.Field,
			Message: fmt.Sprintf("should_contain unmet: %d of %d groups covered (need %d)", covered, len(spec.Groups), need),
		}
	}
	return nil
}

// listMembers normalizes a list value into a string-keyed presence set.
func listMembers(value any) (map[string]bool, bool) {
	list, ok := value.([]any)
	if !ok {
		if ss, isStr := value.([]string); isStr {
			out := make(map[string]bool, len(ss))
			for _, s := range ss {
				out[s] = true
			}
			return out, true
		}
		return nil, false
	}
	out := make(map[string]bool, len(list))
	for _, v := range list {
		out[fmt.Sprintf("%v", v)] = true
	}
	return out, true
}

func matchesType(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := asNumber(value)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "list":
		_, ok := listMembers(value)
		return ok
	case "map":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}

func lengthOf(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return len(v), true
	case []any:
		return len(v), true
	case []string:
		return len(v), true
	case map[string]any:
		return len(v), true
	}
	return 0, false
}
