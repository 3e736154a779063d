// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunks

import (
	"errors"
	"strings"
	"testing"
)

// fullGrid returns a valid 60-chunk input.
func fullGrid() []Chunk {
	var out []Chunk
	for pa := PolicyArea(1); pa <= NumPolicyAreas; pa++ {
		for dim := Dimension(1); dim <= NumDimensions; dim++ {
			out = append(out, Chunk{
				ID:         CanonicalID(pa, dim),
				Text:       "span",
				PolicyArea: pa,
				Dimension:  dim,
				Type:       TypeDiagnostic,
				Confidence: 0.9,
			})
		}
	}
	return out
}

func TestBuild_FullGrid(t *testing.T) {
	m, err := Build(fullGrid())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if m.Len() != MatrixSize {
		t.Fatalf("Len() = %d, want %d", m.Len(), MatrixSize)
	}

	// Lookup must succeed for all 60 cells.
	for pa := PolicyArea(1); pa <= NumPolicyAreas; pa++ {
		for dim := Dimension(1); dim <= NumDimensions; dim++ {
			if _, ok := m.Lookup(pa, dim); !ok {
				t.Errorf("Lookup(%s, %s) failed", pa, dim)
			}
		}
	}
}

func TestBuild_WrongCount(t *testing.T) {
	grid := fullGrid()

	for _, tc := range []struct {
		name string
		in   []Chunk
	}{
		{"59 chunks", grid[:59]},
		{"61 chunks", append(append([]Chunk{}, grid...), grid[0])},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.in)
			if err == nil {
				t.Fatal("Build succeeded, want structural error")
			}
			var serr *StructuralError
			if !errors.As(err, &serr) {
				t.Fatalf("error type = %T, want *StructuralError", err)
			}
		})
	}
}

func TestBuild_MissingMetadata(t *testing.T) {
	grid := fullGrid()
	grid[7].PolicyArea = 0

	_, err := Build(grid)
	var serr *StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("Build error = %v, want *StructuralError", err)
	}
	if len(serr.MissingMetadata) != 1 {
		t.Errorf("MissingMetadata = %v, want one entry", serr.MissingMetadata)
	}
}

func TestBuild_DuplicateKey(t *testing.T) {
	grid := fullGrid()
	// Retag chunk 1 onto chunk 0's cell, keeping the count at 60.
	grid[1] = grid[0]

	_, err := Build(grid)
	var serr *StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("Build error = %v, want *StructuralError", err)
	}
	if len(serr.Duplicates) != 1 {
		t.Errorf("Duplicates = %v, want one entry", serr.Duplicates)
	}
	// The vacated cell must be reported missing too.
	if len(serr.Missing) != 1 {
		t.Errorf("Missing = %v, want one entry", serr.Missing)
	}
}

func TestBuild_ReportsEveryViolation(t *testing.T) {
	grid := fullGrid()
	grid[0].ID = "bogus"
	grid[1].Dimension = 99
	grid[2] = grid[3]

	_, err := Build(grid)
	if err == nil {
		t.Fatal("Build succeeded, want structural error")
	}
	msg := err.Error()
	for _, want := range []string{"malformed ids", "missing metadata", "duplicate cells", "missing cells"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}

func TestParseID(t *testing.T) {
	key, err := ParseID("PA10-DIM06")
	if err != nil {
		t.Fatalf("ParseID failed: %v", err)
	}
	if key.PolicyArea != 10 || key.Dimension != 6 {
		t.Errorf("ParseID = %v, want PA10-DIM06", key)
	}

	for _, bad := range []string{"PA11-DIM01", "PA00-DIM01", "PA01-DIM07", "PA1-DIM1", "garbage"} {
		if _, err := ParseID(bad); err == nil {
			t.Errorf("ParseID(%q) succeeded, want error", bad)
		}
	}
}

func TestOrdered_AuditOrder(t *testing.T) {
	m, err := Build(fullGrid())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ordered := m.Ordered()
	if len(ordered) != MatrixSize {
		t.Fatalf("Ordered len = %d, want %d", len(ordered), MatrixSize)
	}
	// Dimension-first, policy-area ascending.
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.Dimension < prev.Dimension {
			t.Fatalf("dimension order violated at %d: %s after %s", i, cur.ID, prev.ID)
		}
		if cur.Dimension == prev.Dimension && cur.PolicyArea <= prev.PolicyArea {
			t.Fatalf("policy area order violated at %d: %s after %s", i, cur.ID, prev.ID)
		}
	}
}
