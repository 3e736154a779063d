// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runstore persists run manifests and question records in an
// embedded BadgerDB. The store is the warm tier behind the HTTP surface:
// answers survive process restarts without an external database.
//
// Key scheme:
//
//	run:<run_id>:manifest
//	run:<run_id>:q:<question_id>
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/THEBLESSMAN867/farfan/engine/executor"
	"github.com/THEBLESSMAN867/farfan/engine/orchestrator"
)

// ErrNotFound indicates the requested run or record does not exist.
var ErrNotFound = errors.New("runstore: not found")

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the embedded store.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable synchronous writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: no disk, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Store
// =============================================================================

// Store is the embedded run database.
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions provide
// isolation.
type Store struct {
	db *badger.DB
}

// Open creates and opens the store.
//
// Outputs:
//   - *Store: The opened store. Caller must Close when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("runstore: path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("runstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("runstore: open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func manifestKey(runID string) []byte {
	return []byte("run:" + runID + ":manifest")
}

func recordKey(runID, questionID string) []byte {
	return []byte("run:" + runID + ":q:" + questionID)
}

func recordPrefix(runID string) []byte {
	return []byte("run:" + runID + ":q:")
}

// SaveManifest upserts a run manifest.
func (s *Store) SaveManifest(m orchestrator.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("runstore: encode manifest %s: %w", m.RunID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(m.RunID), data)
	})
}

// GetManifest loads one run manifest.
//
// Outputs:
//   - orchestrator.Manifest: The stored manifest.
//   - error: ErrNotFound when the run does not exist.
func (s *Store) GetManifest(runID string) (orchestrator.Manifest, error) {
	var m orchestrator.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	return m, err
}

// SaveRecord upserts one question record under its run.
func (s *Store) SaveRecord(runID string, rec *executor.QuestionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("runstore: encode record %s: %w", rec.QuestionID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(runID, rec.QuestionID), data)
	})
}

// SaveRecords upserts a batch of question records in one write batch.
func (s *Store) SaveRecords(runID string, recs []*executor.QuestionRecord) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("runstore: encode record %s: %w", rec.QuestionID, err)
		}
		if err := wb.Set(recordKey(runID, rec.QuestionID), data); err != nil {
			return fmt.Errorf("runstore: batch record %s: %w", rec.QuestionID, err)
		}
	}
	return wb.Flush()
}

// GetRecord loads one question record.
func (s *Store) GetRecord(runID, questionID string) (*executor.QuestionRecord, error) {
	var rec executor.QuestionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(runID, questionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: record %s/%s", ErrNotFound, runID, questionID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords loads every question record of a run, in key order.
func (s *Store) ListRecords(runID string) ([]*executor.QuestionRecord, error) {
	var out []*executor.QuestionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := recordPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec executor.QuestionRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListRuns returns every stored run id.
func (s *Store) ListRuns() ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("run:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, ":manifest") {
				continue
			}
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(key, "run:"), ":manifest"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
