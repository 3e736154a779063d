// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyzers provides the built-in lexical analysis methods and
// registers them under the canonical executor classes. These methods score
// what can be read off the text directly: quantification, target wording,
// causal connectives, matrix completeness. Richer models plug into the
// same registry keys.
package analyzers

import (
	"context"
	"regexp"
	"strings"

	"github.com/THEBLESSMAN867/farfan/engine/evidence"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
)

var (
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*%?`)
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// causalConnectives are the wordings that mark an explicit cause-effect
// claim in plan prose.
var causalConnectives = []string{
	"porque", "debido a", "a causa de", "genera", "produce", "conduce a",
	"contribuye a", "resulta en", "permite", "impacta",
}

// targetMarkers signal quantified goal setting.
var targetMarkers = []string{
	"meta", "linea base", "línea base", "baseline", "objetivo", "indicador",
	"cobertura", "tasa",
}

// Register wires every built-in method into the registry. Call once at
// startup before the container is built.
func Register(reg *registry.Registry) {
	reg.MustRegister("PolicyDiagnosticAnalyzer", "analyze_baseline", analyzeBaseline)
	reg.MustRegister("PolicyDiagnosticAnalyzer", "detect_causal_links", detectCausalLinks)
	reg.MustRegister("InterventionLogicAnalyzer", "check_activity_specification", checkActivitySpecification)
	reg.MustRegister("InterventionLogicAnalyzer", "check_product_targets", checkProductTargets)
	reg.MustRegister("ResultsChainAnalyzer", "assess_outcome_alignment", assessOutcomeAlignment)
	reg.MustRegister("FinancialMatrixAnalyzer", "audit_financial_matrix", auditFinancialMatrix)
	reg.MustRegister("IndicatorMatrixAnalyzer", "audit_indicator_matrix", auditIndicatorMatrix)
}

// textFor returns the chunk text when the invocation is chunk-scoped,
// falling back to the whole document.
func textFor(in *registry.Input) string {
	if in.Chunk != nil && in.Chunk.Text != "" {
		return in.Chunk.Text
	}
	if in.Document != nil {
		return in.Document.FullText
	}
	return ""
}

// hitFraction returns the fraction of markers present in the text, plus
// the markers that matched.
func hitFraction(text string, markers []string) (float64, []string) {
	if len(markers) == 0 {
		return 0, nil
	}
	lower := strings.ToLower(text)
	var hits []string
	for _, m := range markers {
		if strings.Contains(lower, m) {
			hits = append(hits, m)
		}
	}
	return float64(len(hits)) / float64(len(markers)), hits
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// markersFromSignals folds signal-provided patterns into the marker list
// and reports how many signals were consumed. Sources that round-trip
// through JSON deliver []any rather than []string.
func markersFromSignals(in *registry.Input, base []string) ([]string, int) {
	if in.Signals == nil {
		return base, 0
	}
	var extra []string
	switch raw := in.Signals["patterns"].(type) {
	case []string:
		extra = raw
	case []any:
		for _, v := range raw {
			if s, ok := v.(string); ok {
				extra = append(extra, s)
			}
		}
	}
	if len(extra) == 0 {
		return base, 0
	}
	return append(append([]string{}, base...), extra...), len(extra)
}

func result(score float64, fields map[string]any, signalsUsed int) map[string]any {
	out := map[string]any{"score": clamp01(score)}
	for k, v := range fields {
		out[k] = v
	}
	if signalsUsed > 0 {
		out[evidence.SignalUsageKey] = map[string]any{"patterns": signalsUsed}
	}
	return out
}

// analyzeBaseline scores whether a diagnostic span quantifies its problem:
// numbers, reference years, and baseline wording.
func analyzeBaseline(ctx context.Context, in *registry.Input) (map[string]any, error) {
	text := textFor(in)
	markers, used := markersFromSignals(in, targetMarkers)

	numbers := numberPattern.FindAllString(text, -1)
	years := yearPattern.FindAllString(text, -1)
	markerScore, hits := hitFraction(text, markers)

	score := 0.5*markerScore + 0.3*clamp01(float64(len(numbers))/5) + 0.2*clamp01(float64(len(years))/2)
	return result(score, map[string]any{
		"numbers":  len(numbers),
		"years":    len(years),
		"elements": hits,
	}, used), nil
}

// detectCausalLinks scores explicit cause-effect wording density.
func detectCausalLinks(ctx context.Context, in *registry.Input) (map[string]any, error) {
	text := textFor(in)
	score, hits := hitFraction(text, causalConnectives)
	return result(score, map[string]any{
		"links":    len(hits),
		"elements": hits,
	}, 0), nil
}

// checkActivitySpecification scores whether activities name a responsible
// party and a deadline.
func checkActivitySpecification(ctx context.Context, in *registry.Input) (map[string]any, error) {
	text := textFor(in)
	respScore, _ := hitFraction(text, []string{"responsable", "secretaría", "secretaria", "dependencia"})
	timeScore := clamp01(float64(len(yearPattern.FindAllString(text, -1))) / 2)
	return result(0.6*respScore+0.4*timeScore, map[string]any{
		"has_responsible": respScore > 0,
		"has_timeline":    timeScore > 0,
	}, 0), nil
}

// checkProductTargets scores quantified product targets.
func checkProductTargets(ctx context.Context, in *registry.Input) (map[string]any, error) {
	text := textFor(in)
	markers, used := markersFromSignals(in, targetMarkers)
	markerScore, hits := hitFraction(text, markers)
	quantScore := clamp01(float64(len(numberPattern.FindAllString(text, -1))) / 3)
	return result(0.5*markerScore+0.5*quantScore, map[string]any{
		"elements": hits,
	}, used), nil
}

// assessOutcomeAlignment scores outcome wording against result-chain
// vocabulary.
func assessOutcomeAlignment(ctx context.Context, in *registry.Input) (map[string]any, error) {
	text := textFor(in)
	score, hits := hitFraction(text, []string{
		"resultado", "efecto", "bienestar", "reducción", "reduccion", "mejora", "transformación", "transformacion",
	})
	return result(score, map[string]any{"elements": hits}, 0), nil
}

// auditFinancialMatrix is document-scoped: the structural flag carries the
// hard fact, the text score refines it.
func auditFinancialMatrix(ctx context.Context, in *registry.Input) (map[string]any, error) {
	present := in.Document != nil && in.Document.Structure.HasFinancialMatrix
	score := 0.0
	if present {
		textScore, _ := hitFraction(textFor(in), []string{"presupuesto", "recursos", "financiación", "financiacion", "inversión", "inversion"})
		score = 0.6 + 0.4*textScore
	}
	return result(score, map[string]any{"matrix_present": present}, 0), nil
}

// auditIndicatorMatrix mirrors auditFinancialMatrix for the indicator
// matrix.
func auditIndicatorMatrix(ctx context.Context, in *registry.Input) (map[string]any, error) {
	present := in.Document != nil && in.Document.Structure.HasIndicatorMatrix
	score := 0.0
	if present {
		textScore, _ := hitFraction(textFor(in), []string{"indicador", "meta", "línea base", "linea base", "unidad de medida"})
		score = 0.6 + 0.4*textScore
	}
	return result(score, map[string]any{"matrix_present": present}, 0), nil
}
