// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evidence merges raw method outputs into structured evidence and
// validates the result against declared per-question rules.
//
// Both the merge rules and the validation rules are data, declared in the
// executor contract and interpreted here. The assembler never mutates its
// inputs and always produces a trace alongside the evidence, so every
// merged field can be audited back to the method outputs it came from.
package evidence

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Types
// =============================================================================

// SignalUsageKey is the reserved output key carrying signal-usage metadata.
// It is extracted into the trace and stripped before assembly.
const SignalUsageKey = "_signal_usage"

// MergeStrategy names one declared way of combining source values.
type MergeStrategy string

const (
	// StrategyFirst picks the first present value in source order.
	StrategyFirst MergeStrategy = "first"
	// StrategyLast picks the last present value in source order.
	StrategyLast MergeStrategy = "last"
	// StrategyConcat flattens list values and appends scalars.
	StrategyConcat MergeStrategy = "concat"
	// StrategyMean averages numeric values, ignoring non-numeric ones.
	StrategyMean MergeStrategy = "mean"
	// StrategyMax takes the numeric maximum.
	StrategyMax MergeStrategy = "max"
	// StrategyMin takes the numeric minimum.
	StrategyMin MergeStrategy = "min"
	// StrategyWeightedMean computes sum(v*w)/sum(w), uniform by default.
	StrategyWeightedMean MergeStrategy = "weighted_mean"
	// StrategyMajority picks the most frequent value, first-seen tie break.
	StrategyMajority MergeStrategy = "majority"
)

// Known reports whether the strategy is one of the declared set.
func (s MergeStrategy) Known() bool {
	switch s {
	case StrategyFirst, StrategyLast, StrategyConcat, StrategyMean,
		StrategyMax, StrategyMin, StrategyWeightedMean, StrategyMajority:
		return true
	}
	return false
}

// AssemblyRule declares how one evidence field is merged from method output
// paths.
type AssemblyRule struct {
	// TargetField is the evidence field this rule produces.
	TargetField string `json:"target_field" validate:"required"`

	// Sources are ordered dotted paths into the method output mapping,
	// e.g. "DiagnosticAnalyzer.analyze_baseline.score".
	Sources []string `json:"sources" validate:"required,min=1"`

	// Strategy is the declared merge strategy.
	Strategy MergeStrategy `json:"merge_strategy" validate:"required"`

	// Weights optionally weight the sources for weighted_mean. When set,
	// the length must equal len(Sources).
	Weights []float64 `json:"weights,omitempty"`

	// Default is the value used when no source resolves.
	Default any `json:"default,omitempty"`
}

// Evidence is the merged field-to-value mapping for one question.
type Evidence map[string]any

// FieldTrace records how one evidence field was produced.
type FieldTrace struct {
	// Strategy is the merge strategy applied.
	Strategy MergeStrategy `json:"strategy"`

	// Resolved lists the source paths that yielded a value, in order.
	Resolved []string `json:"resolved,omitempty"`

	// UsedDefault reports that no source resolved and the rule default
	// was used.
	UsedDefault bool `json:"used_default,omitempty"`
}

// Trace is the audit record produced alongside Evidence.
type Trace struct {
	// Fields maps each target field to how it was merged.
	Fields map[string]FieldTrace `json:"fields"`

	// SignalUsage collects stripped signal-usage values keyed by the
	// method output key they were found under.
	SignalUsage map[string]any `json:"signal_usage,omitempty"`
}

// =============================================================================
// Assembler
// =============================================================================

// Assemble merges raw method outputs into evidence per the declared rules.
//
// Description:
//
//	For each rule, every source path is resolved against the nested
//	output mapping; a missing path is simply absent, never an error.
//	Present values merge per the rule strategy; if nothing resolves the
//	rule default is used. Signal-usage keys are extracted into the trace
//	and hidden from path resolution. Inputs are never mutated.
//
// Inputs:
//   - outputs: Method outputs keyed by "Class.Method", each a nested map.
//   - rules: The contract-declared assembly rules.
//
// Outputs:
//   - Evidence: The merged field mapping. Never nil on success.
//   - *Trace: The parallel audit trace. Never nil on success.
//   - error: Non-nil on an unknown strategy or malformed weights.
func Assemble(outputs map[string]any, rules []AssemblyRule) (Evidence, *Trace, error) {
	trace := &Trace{Fields: make(map[string]FieldTrace, len(rules))}
	stripped := stripSignalUsage(outputs, trace)

	ev := make(Evidence, len(rules))
	for _, rule := range rules {
		if !rule.Strategy.Known() {
			return nil, nil, fmt.Errorf("assembly rule %q: unknown merge strategy %q", rule.TargetField, rule.Strategy)
		}
		if len(rule.Weights) > 0 && len(rule.Weights) != len(rule.Sources) {
			return nil, nil, fmt.Errorf("assembly rule %q: %d weights for %d sources", rule.TargetField, len(rule.Weights), len(rule.Sources))
		}

		var present []sourceValue
		for i, path := range rule.Sources {
			if v, ok := resolvePath(stripped, path); ok {
				present = append(present, sourceValue{path: path, index: i, value: v})
			}
		}

		ft := FieldTrace{Strategy: rule.Strategy}
		for _, sv := range present {
			ft.Resolved = append(ft.Resolved, sv.path)
		}

		if len(present) == 0 {
			ev[rule.TargetField] = rule.Default
			ft.UsedDefault = true
			trace.Fields[rule.TargetField] = ft
			continue
		}

		merged, err := merge(rule, present)
		if err != nil {
			return nil, nil, fmt.Errorf("assembly rule %q: %w", rule.TargetField, err)
		}
		ev[rule.TargetField] = merged
		trace.Fields[rule.TargetField] = ft
	}

	return ev, trace, nil
}

type sourceValue struct {
	path  string
	index int
	value any
}

// stripSignalUsage returns a view of outputs with signal-usage keys removed,
// recording them in the trace. Only the affected maps are copied.
func stripSignalUsage(outputs map[string]any, trace *Trace) map[string]any {
	view := outputs
	copied := false
	for key, raw := range outputs {
		inner, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		usage, has := inner[SignalUsageKey]
		if !has {
			continue
		}
		if trace.SignalUsage == nil {
			trace.SignalUsage = make(map[string]any)
		}
		trace.SignalUsage[key] = usage

		if !copied {
			view = make(map[string]any, len(outputs))
			for k, v := range outputs {
				view[k] = v
			}
			copied = true
		}
		clean := make(map[string]any, len(inner)-1)
		for k, v := range inner {
			if k != SignalUsageKey {
				clean[k] = v
			}
		}
		view[key] = clean
	}
	return view
}

// resolvePath walks a dotted path through nested mappings.
// A missing segment or a non-map intermediate yields absent, never an error.
func resolvePath(root map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// =============================================================================
// Merge Strategies
// =============================================================================

func merge(rule AssemblyRule, present []sourceValue) (any, error) {
	switch rule.Strategy {
	case StrategyFirst:
		return present[0].value, nil

	case StrategyLast:
		return present[len(present)-1].value, nil

	case StrategyConcat:
		var out []any
		for _, sv := range present {
			if list, ok := sv.value.([]any); ok {
				out = append(out, list...)
			} else {
				out = append(out, sv.value)
			}
		}
		return out, nil

	case StrategyMean, StrategyMax, StrategyMin:
		nums := numericValues(present)
		if len(nums) == 0 {
			return rule.Default, nil
		}
		switch rule.Strategy {
		case StrategyMax:
			max := nums[0]
			for _, n := range nums[1:] {
				if n > max {
					max = n
				}
			}
			return max, nil
		case StrategyMin:
			min := nums[0]
			for _, n := range nums[1:] {
				if n < min {
					min = n
				}
			}
			return min, nil
		default:
			var sum float64
			for _, n := range nums {
				sum += n
			}
			return sum / float64(len(nums)), nil
		}

	case StrategyWeightedMean:
		var sum, weightSum float64
		found := false
		for _, sv := range present {
			n, ok := asNumber(sv.value)
			if !ok {
				continue
			}
			w := 1.0
			if len(rule.Weights) > 0 {
				w = rule.Weights[sv.index]
			}
			sum += n * w
			weightSum += w
			found = true
		}
		if !found || weightSum == 0 {
			return rule.Default, nil
		}
		return sum / weightSum, nil

	case StrategyMajority:
		type bucket struct {
			value any
			count int
			seen  int
		}
		counts := make(map[string]*bucket)
		order := 0
		for _, sv := range present {
			k := fmt.Sprintf("%v", sv.value)
			if b, ok := counts[k]; ok {
				b.count++
			} else {
				counts[k] = &bucket{value: sv.value, count: 1, seen: order}
			}
			order++
		}
		buckets := make([]*bucket, 0, len(counts))
		for _, b := range counts {
			buckets = append(buckets, b)
		}
		// Highest count wins; ties break toward the first-seen value.
		sort.Slice(buckets, func(i, j int) bool {
			if buckets[i].count != buckets[j].count {
				return buckets[i].count > buckets[j].count
			}
			return buckets[i].seen < buckets[j].seen
		})
		return buckets[0].value, nil
	}

	return nil, fmt.Errorf("unknown merge strategy %q", rule.Strategy)
}

func numericValues(present []sourceValue) []float64 {
	var out []float64
	for _, sv := range present {
		if n, ok := asNumber(sv.value); ok {
			out = append(out, n)
		}
	}
	return out
}

// asNumber coerces JSON-shaped numeric types to float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
