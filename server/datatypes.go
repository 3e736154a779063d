// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"fmt"

	"github.com/THEBLESSMAN867/farfan/engine/chunks"
	"github.com/THEBLESSMAN867/farfan/engine/document"
)

// ChunkPayload is the wire form of one tagged text span.
type ChunkPayload struct {
	ID         string  `json:"id" binding:"required"`
	Text       string  `json:"text" binding:"required"`
	PolicyArea int     `json:"policy_area" binding:"required,gte=1,lte=10"`
	Dimension  int     `json:"dimension" binding:"required,gte=1,lte=6"`
	Type       string  `json:"type" binding:"required"`
	Start      int     `json:"start" binding:"gte=0"`
	End        int     `json:"end" binding:"gte=0"`
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
	Source     string  `json:"source"`
	Page       int     `json:"page" binding:"gte=0"`
}

// SubmitRunRequest submits one document for scoring. Either the full
// 60-chunk set or bare full text (flat mode) must be present.
type SubmitRunRequest struct {
	DocumentID string             `json:"document_id" binding:"required"`
	FullText   string             `json:"full_text"`
	Chunks     []ChunkPayload     `json:"chunks" binding:"omitempty,dive"`
	Structure  document.Structure `json:"structure"`
}

// SubmitRunResponse acknowledges an accepted run.
type SubmitRunResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// ToDocument converts the request into the engine's document form,
// building and validating the chunk matrix when chunks are present.
func (r *SubmitRunRequest) ToDocument() (*document.Document, error) {
	doc := &document.Document{
		ID:        r.DocumentID,
		FullText:  r.FullText,
		Structure: r.Structure,
	}
	if len(r.Chunks) == 0 {
		return doc, nil
	}

	cs := make([]chunks.Chunk, 0, len(r.Chunks))
	for _, p := range r.Chunks {
		cs = append(cs, chunks.Chunk{
			ID:         p.ID,
			Text:       p.Text,
			Start:      p.Start,
			End:        p.End,
			PolicyArea: chunks.PolicyArea(p.PolicyArea),
			Dimension:  chunks.Dimension(p.Dimension),
			Type:       chunks.ChunkType(p.Type),
			Confidence: p.Confidence,
			Provenance: chunks.Provenance{Source: p.Source, Page: p.Page},
		})
	}
	m, err := chunks.Build(cs)
	if err != nil {
		return nil, fmt.Errorf("chunk matrix rejected: %w", err)
	}
	doc.Matrix = m
	return doc, nil
}
