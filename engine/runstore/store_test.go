// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runstore

import (
	"errors"
	"testing"
	"time"

	"github.com/THEBLESSMAN867/farfan/engine/evidence"
	"github.com/THEBLESSMAN867/farfan/engine/executor"
	"github.com/THEBLESSMAN867/farfan/engine/orchestrator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestManifestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	m := orchestrator.Manifest{
		RunID:      "run-1",
		DocumentID: "doc-1",
		State:      orchestrator.StateDone,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.SaveManifest(m); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}

	got, err := s.GetManifest("run-1")
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if got.RunID != "run-1" || got.State != orchestrator.StateDone {
		t.Errorf("manifest = %+v", got)
	}
}

func TestGetManifest_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetManifest("absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecords(t *testing.T) {
	s := openTestStore(t)
	recs := []*executor.QuestionRecord{
		{QuestionID: "D1-Q1-PA01", BaseSlot: "D1-Q1", Evidence: evidence.Evidence{"score": 0.8}},
		{QuestionID: "D1-Q1-PA02", BaseSlot: "D1-Q1", Evidence: evidence.Evidence{"score": 0.4}},
	}
	if err := s.SaveRecords("run-1", recs); err != nil {
		t.Fatalf("SaveRecords failed: %v", err)
	}
	// Records from another run must not leak into listings.
	if err := s.SaveRecord("run-2", &executor.QuestionRecord{QuestionID: "D1-Q1-PA01"}); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	got, err := s.GetRecord("run-1", "D1-Q1-PA02")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Evidence["score"] != 0.4 {
		t.Errorf("score = %v, want 0.4", got.Evidence["score"])
	}

	list, err := s.ListRecords("run-1")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("listed %d records, want 2", len(list))
	}

	if _, err := s.GetRecord("run-1", "D9-Q9-PA99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"run-a", "run-b"} {
		if err := s.SaveManifest(orchestrator.Manifest{RunID: id}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %v, want 2 ids", runs)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("persistent store without path accepted")
	}
}
