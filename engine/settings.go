// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine assembles the scoring pipeline: settings, the per-run
// dependency container, and the four concrete phases the orchestrator
// drives.
package engine

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxSettingsFileSize bounds an external settings document.
const MaxSettingsFileSize = 1 << 20 // 1 MiB

//go:embed settings.yaml
var defaultSettingsYAML []byte

// Duration is a time.Duration that decodes from YAML scalars like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PhaseTimeouts holds the per-phase deadlines.
type PhaseTimeouts struct {
	Phase0  Duration `yaml:"phase0"`
	Phase1  Duration `yaml:"phase1"`
	Adapter Duration `yaml:"adapter"`
	Phase2  Duration `yaml:"phase2"`
}

// Settings is the engine-level configuration document.
type Settings struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Orchestrator struct {
		WorkerBudget     int64         `yaml:"worker_budget"`
		BreakerThreshold int           `yaml:"breaker_threshold"`
		PhaseTimeouts    PhaseTimeouts `yaml:"phase_timeouts"`
	} `yaml:"orchestrator"`

	Signals struct {
		TTL        Duration `yaml:"ttl"`
		MaxEntries int      `yaml:"max_entries"`
	} `yaml:"signals"`

	Dispatch struct {
		// RateLimit is invocations per second across the run. Zero
		// disables throttling.
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
	} `yaml:"dispatch"`

	Store struct {
		Path     string `yaml:"path"`
		InMemory bool   `yaml:"in_memory"`
	} `yaml:"store"`
}

// DefaultSettings decodes the embedded default document.
func DefaultSettings() (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(defaultSettingsYAML, &s); err != nil {
		return nil, fmt.Errorf("engine: embedded settings: %w", err)
	}
	return &s, nil
}

// LoadSettings reads settings from a file, falling back to the embedded
// defaults when path is empty.
//
// Outputs:
//   - *Settings: The decoded settings.
//   - error: Oversized file, unreadable file, or malformed YAML.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("engine: settings %s: %w", path, err)
	}
	if info.Size() > MaxSettingsFileSize {
		return nil, fmt.Errorf("engine: settings %s exceeds %d bytes", path, MaxSettingsFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: settings %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("engine: settings %s: %w", path, err)
	}
	return &s, nil
}
