// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunks

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// =============================================================================
// Structural Errors
// =============================================================================

// StructuralError reports every grid violation found during matrix
// construction. It is always fatal: a partial matrix is never returned.
type StructuralError struct {
	// Count is the number of chunks supplied.
	Count int

	// Missing lists cells with no chunk.
	Missing []Key

	// Duplicates lists cells claimed by more than one chunk.
	Duplicates []Key

	// MalformedIDs lists chunk ids that do not match the canonical grid or
	// disagree with the chunk's tagged policy area / dimension.
	MalformedIDs []string

	// MissingMetadata lists chunk ids with an out-of-range policy area or
	// dimension tag.
	MissingMetadata []string
}

// Error lists every violation, not just the first.
func (e *StructuralError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chunk matrix invariant violated (%d chunks, need %d)", e.Count, MatrixSize)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing cells: %s", joinKeys(e.Missing))
	}
	if len(e.Duplicates) > 0 {
		fmt.Fprintf(&b, "; duplicate cells: %s", joinKeys(e.Duplicates))
	}
	if len(e.MalformedIDs) > 0 {
		fmt.Fprintf(&b, "; malformed ids: %s", strings.Join(e.MalformedIDs, ", "))
	}
	if len(e.MissingMetadata) > 0 {
		fmt.Fprintf(&b, "; missing metadata: %s", strings.Join(e.MissingMetadata, ", "))
	}
	return b.String()
}

// HasViolations reports whether any violation was recorded.
func (e *StructuralError) HasViolations() bool {
	return e.Count != MatrixSize || len(e.Missing) > 0 || len(e.Duplicates) > 0 ||
		len(e.MalformedIDs) > 0 || len(e.MissingMetadata) > 0
}

func joinKeys(keys []Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Matrix
// =============================================================================

// Matrix is the validated, indexed 60-cell chunk set.
//
// A Matrix is only ever constructed complete. It never degrades; the
// flat-ingestion fallback on construction failure is the calling adapter's
// decision, not this type's.
//
// Thread Safety: Immutable after Build, safe for concurrent use.
type Matrix struct {
	byKey map[Key]*Chunk
}

// Build validates the chunk set and indexes it by cell.
//
// Description:
//
//	Checks that exactly MatrixSize chunks were supplied, that every chunk
//	carries in-range policy area and dimension tags, that ids match the
//	canonical grid and agree with the tags, and that no cell is claimed
//	twice. All violations are accumulated into one StructuralError.
//
// Inputs:
//   - input: The ingested chunks, in any order.
//
// Outputs:
//   - *Matrix: The indexed matrix. Nil on any violation.
//   - error: A *StructuralError listing every violation, or nil.
func Build(input []Chunk) (*Matrix, error) {
	serr := &StructuralError{Count: len(input)}
	byKey := make(map[Key]*Chunk, MatrixSize)
	dupSeen := make(map[Key]bool)

	for i := range input {
		c := input[i]
		if !c.PolicyArea.Valid() || !c.Dimension.Valid() {
			serr.MissingMetadata = append(serr.MissingMetadata, describeChunk(&c))
			continue
		}
		key := c.Key()
		parsed, err := ParseID(c.ID)
		if err != nil || parsed != key {
			serr.MalformedIDs = append(serr.MalformedIDs, describeChunk(&c))
			continue
		}
		if _, exists := byKey[key]; exists {
			if !dupSeen[key] {
				serr.Duplicates = append(serr.Duplicates, key)
				dupSeen[key] = true
			}
			continue
		}
		byKey[key] = &c
	}

	for pa := PolicyArea(1); pa <= NumPolicyAreas; pa++ {
		for dim := Dimension(1); dim <= NumDimensions; dim++ {
			key := Key{PolicyArea: pa, Dimension: dim}
			if _, ok := byKey[key]; !ok && !dupSeen[key] {
				serr.Missing = append(serr.Missing, key)
			}
		}
	}

	if serr.HasViolations() {
		slog.Warn("Chunk matrix construction failed",
			slog.Int("chunks", serr.Count),
			slog.Int("missing", len(serr.Missing)),
			slog.Int("duplicates", len(serr.Duplicates)),
		)
		return nil, serr
	}

	return &Matrix{byKey: byKey}, nil
}

func describeChunk(c *Chunk) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("(unidentified chunk %s/%s)", c.PolicyArea, c.Dimension)
}

// Lookup returns the chunk at a cell. After a successful Build, Lookup
// succeeds for all 60 canonical cells.
func (m *Matrix) Lookup(pa PolicyArea, dim Dimension) (*Chunk, bool) {
	c, ok := m.byKey[Key{PolicyArea: pa, Dimension: dim}]
	return c, ok
}

// Get returns the chunk at a key, or nil.
func (m *Matrix) Get(key Key) *Chunk {
	return m.byKey[key]
}

// Len returns the cell count, always MatrixSize after Build.
func (m *Matrix) Len() int {
	return len(m.byKey)
}

// Ordered returns all chunks in audit order: dimension-first, policy-area
// ascending within each dimension.
func (m *Matrix) Ordered() []*Chunk {
	out := make([]*Chunk, 0, len(m.byKey))
	for _, c := range m.byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].PolicyArea < out[j].PolicyArea
	})
	return out
}
