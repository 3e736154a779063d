// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// MaxConfigFileSize bounds calibration config documents (1MB).
const MaxConfigFileSize = 1024 * 1024

var configValidate = validator.New()

// =============================================================================
// Configuration Source
// =============================================================================

// Modifier adjusts a method calibration for a matching context. Zero-value
// selectors match everything.
type Modifier struct {
	// Dimension restricts the modifier to one dimension (0 = any).
	Dimension int `json:"dimension,omitempty" validate:"gte=0,lte=6"`

	// PolicyArea restricts the modifier to one policy area (0 = any).
	PolicyArea int `json:"policy_area,omitempty" validate:"gte=0,lte=10"`

	// WeightScale multiplies the aggregation weight.
	WeightScale float64 `json:"weight_scale,omitempty" validate:"gte=0"`

	// PenaltyScale multiplies the uncertainty penalty.
	PenaltyScale float64 `json:"penalty_scale,omitempty" validate:"gte=0"`
}

// MethodEntry is one per-(class, method) configuration record.
type MethodEntry struct {
	MethodCalibration
	// Modifiers optionally adjust the calibration per context.
	Modifiers []Modifier `json:"modifiers,omitempty" validate:"dive"`
}

// ChoquetConfig declares the layer aggregation scheme.
type ChoquetConfig struct {
	// LayerWeights are the linear weights over {unit, chain, congruence,
	// meta}, in that order. Empty means uniform.
	LayerWeights []float64 `json:"layer_weights,omitempty" validate:"omitempty,len=4,dive,gte=0"`

	// Interactions are the declared 2-additive pairs.
	Interactions []InteractionPair `json:"interactions,omitempty" validate:"dive"`
}

// Config is the single calibration configuration source for a run.
type Config struct {
	// UnitWeights weight the unit-layer coverage composite.
	UnitWeights UnitWeights `json:"unit_weights"`

	// Choquet declares the layer aggregation scheme.
	Choquet ChoquetConfig `json:"choquet"`

	// Methods maps "Class.Method" keys to their calibration entries.
	Methods map[string]MethodEntry `json:"methods" validate:"required,min=1,dive"`

	// hash is the sha256 of the source document, set by Parse. Contracts
	// pin against it to prove they were authored for this configuration.
	hash string
}

// Hash returns the sha256 hex digest of the source document. Empty for a
// Config not built through Parse.
func (c *Config) Hash() string { return c.hash }

// Parse decodes and validates a calibration configuration document.
//
// Outputs:
//   - *Config: The validated configuration. Never nil on success.
//   - error: Non-nil on malformed JSON or a schema violation.
func Parse(data []byte) (*Config, error) {
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("calibration config exceeds %d bytes", MaxConfigFileSize)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing calibration config: %w", err)
	}
	if err := configValidate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid calibration config: %w", err)
	}
	sum := sha256.Sum256(data)
	cfg.hash = hex.EncodeToString(sum[:])
	return &cfg, nil
}

// Load reads and parses a calibration configuration file.
// A missing file is an explicit error, never silent zero-defaulting.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration config %s: %w", path, err)
	}
	return Parse(data)
}

// Resolve returns the calibration for a (class, method) pair, applying any
// context modifiers that match.
//
// Outputs:
//   - MethodCalibration: The resolved, possibly context-modified entry.
//   - error: ErrNotConfigured (wrapped with the key) when absent.
func (c *Config) Resolve(class, method string, ctx Context) (MethodCalibration, error) {
	key := class + "." + method
	entry, ok := c.Methods[key]
	if !ok {
		return MethodCalibration{}, fmt.Errorf("%w: %s", ErrNotConfigured, key)
	}

	resolved := entry.MethodCalibration
	for _, mod := range entry.Modifiers {
		if mod.Dimension != 0 && mod.Dimension != int(ctx.Dimension) {
			continue
		}
		if mod.PolicyArea != 0 && mod.PolicyArea != int(ctx.PolicyArea) {
			continue
		}
		if mod.WeightScale != 0 {
			resolved.Weight *= mod.WeightScale
		}
		if mod.PenaltyScale != 0 {
			resolved.UncertaintyPenalty *= mod.PenaltyScale
		}
	}
	return resolved, nil
}
