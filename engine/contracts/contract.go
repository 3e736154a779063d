// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contracts loads and validates executor contracts and builds the
// immutable per-question contexts the engine executes against.
//
// One JSON contract exists per question base slot. Contracts are schema
// validated at load; any violation, including a reference to an analytical
// method missing from the registry, aborts startup before a single
// question executes.
package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/evidence"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
)

// MaxContractFileSize bounds one contract document (1MB).
const MaxContractFileSize = 1024 * 1024

var contractValidate = validator.New()

// =============================================================================
// Contract Errors
// =============================================================================

// ContractError reports a schema or cross-reference violation. Always fatal
// at load time.
type ContractError struct {
	// BaseSlot identifies the offending contract, when known.
	BaseSlot string

	// Cause is the underlying violation.
	Cause error
}

func (e *ContractError) Error() string {
	if e.BaseSlot != "" {
		return fmt.Sprintf("contract %s: %v", e.BaseSlot, e.Cause)
	}
	return fmt.Sprintf("contract: %v", e.Cause)
}

func (e *ContractError) Unwrap() error { return e.Cause }

// =============================================================================
// Contract
// =============================================================================

// MethodInput declares one ordered (class, method) invocation.
type MethodInput struct {
	// Class and Method key into the static method registry.
	Class  string `json:"class" validate:"required"`
	Method string `json:"method" validate:"required"`

	// Params are passed through to the method unchanged.
	Params map[string]any `json:"params,omitempty"`

	// ChunkScoped methods receive the question's routed chunk.
	ChunkScoped bool `json:"chunk_scoped,omitempty"`
}

// Key returns the registry key for the input.
func (m MethodInput) Key() registry.Key {
	return registry.Key{Class: m.Class, Method: m.Method}
}

// Contract is the per-base-slot execution specification.
type Contract struct {
	// BaseSlot is the canonical slot this contract serves, e.g. "D1-Q3".
	BaseSlot string `json:"base_slot" validate:"required"`

	// MethodInputs is the ordered method sequence.
	MethodInputs []MethodInput `json:"method_inputs" validate:"required,min=1,dive"`

	// AssemblyRules declare how raw outputs merge into evidence.
	AssemblyRules []evidence.AssemblyRule `json:"assembly_rules" validate:"required,min=1,dive"`

	// ValidationRules declare the per-field evidence contract. The field
	// must be present; an explicit empty array accepts any evidence,
	// silent absence is a schema violation.
	ValidationRules []evidence.FieldRule `json:"validation_rules" validate:"required,dive"`

	// NAPolicy gates validation failures. Defaults to lenient.
	NAPolicy evidence.NAPolicy `json:"na_policy,omitempty" validate:"omitempty,oneof=abort lenient"`

	// ChainInputs declare the input-availability contract for the chain
	// calibration layer.
	ChainInputs []calibration.ChainInput `json:"chain_inputs,omitempty" validate:"dive"`

	// FusionRule names the ensemble fusion rule for congruence scoring.
	FusionRule string `json:"fusion_rule,omitempty"`

	// CalibrationHash pins the calibration configuration this contract
	// was authored against: the sha256 digest of the config document.
	// The meta layer's governance score reflects whether the pin holds.
	CalibrationHash string `json:"calibration_hash,omitempty"`

	// Signature is the contract's integrity digest, computed by Sign.
	Signature string `json:"signature,omitempty"`
}

// Sign computes the contract's integrity digest: the sha256 of the
// canonical JSON with the signature field cleared.
func (c *Contract) Sign() (string, error) {
	shadow := *c
	shadow.Signature = ""
	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the declared signature matches the contract
// content. An unsigned contract never verifies.
func (c *Contract) Verify() bool {
	if c.Signature == "" {
		return false
	}
	want, err := c.Sign()
	return err == nil && want == c.Signature
}

// ParseContract decodes and schema-validates one contract document.
//
// Outputs:
//   - *Contract: The validated contract with defaults applied.
//   - error: A *ContractError on any violation.
func ParseContract(data []byte) (*Contract, error) {
	if len(data) > MaxContractFileSize {
		return nil, &ContractError{Cause: fmt.Errorf("document exceeds %d bytes", MaxContractFileSize)}
	}
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &ContractError{Cause: fmt.Errorf("malformed JSON: %w", err)}
	}
	if err := contractValidate.Struct(&c); err != nil {
		return nil, &ContractError{BaseSlot: c.BaseSlot, Cause: fmt.Errorf("schema violation: %w", err)}
	}
	if c.NAPolicy == "" {
		c.NAPolicy = evidence.PolicyLenient
	}
	return &c, nil
}

// LoadDir loads every "*.json" contract in a directory, keyed by base slot.
//
// Description:
//
//	All files are parsed before the first error is returned, and every
//	violation is included, so a broken contract set can be fixed in one
//	pass. Duplicate base slots are violations.
//
// Outputs:
//   - map[string]*Contract: Contracts keyed by base slot.
//   - error: A joined error listing every violation.
func LoadDir(dir string) (map[string]*Contract, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ContractError{Cause: fmt.Errorf("reading contract directory %s: %w", dir, err)}
	}

	out := make(map[string]*Contract)
	var violations []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		c, err := ParseContract(data)
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if _, dup := out[c.BaseSlot]; dup {
			violations = append(violations, fmt.Sprintf("%s: duplicate base slot %s", entry.Name(), c.BaseSlot))
			continue
		}
		out[c.BaseSlot] = c
	}

	if len(violations) > 0 {
		return nil, &ContractError{Cause: fmt.Errorf("%d contract violations: %s", len(violations), strings.Join(violations, "; "))}
	}
	if len(out) == 0 {
		return nil, &ContractError{Cause: fmt.Errorf("no contracts found in %s", dir)}
	}
	return out, nil
}

// VerifyAgainstRegistry checks every contract method reference against the
// static registry, failing hard on any unregistered pair.
func VerifyAgainstRegistry(contracts map[string]*Contract, reg *registry.Registry) error {
	var missing []string
	for slot, c := range contracts {
		for _, mi := range c.MethodInputs {
			if !reg.Has(mi.Class, mi.Method) {
				missing = append(missing, fmt.Sprintf("%s -> %s", slot, mi.Key()))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ContractError{Cause: fmt.Errorf("unregistered methods referenced: %s", strings.Join(missing, ", "))}
	}
	return nil
}
