// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists workchain runs and their per-iteration
// Hubbard parameters in an embedded BadgerDB instance.
//
// The store is the audit trail of the convergence loop: every iteration
// record carries the parameters the linear-response run produced, so a
// run can be inspected or resumed after the process restarts.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the requested run or iteration does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrEmptyRunID indicates a record without a run identifier.
	ErrEmptyRunID = errors.New("run id must not be empty")
)

// =============================================================================
// RECORDS
// =============================================================================

// RunRecord is the persisted summary of one workchain run.
type RunRecord struct {
	// ID is the run identifier.
	ID string `json:"id"`

	// State is the workchain state at the time of the last update.
	State string `json:"state"`

	// Iterations is the number of completed convergence iterations.
	Iterations int `json:"iterations"`

	// Converged reports whether the parameters reached self-consistency.
	Converged bool `json:"converged"`

	// Error holds the failure message for failed runs.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// IterationRecord is the persisted outcome of one convergence iteration.
type IterationRecord struct {
	// RunID is the owning run.
	RunID string `json:"run_id"`

	// Index is the one-based iteration number.
	Index int `json:"index"`

	// ElectronicClass records the reconnaissance verdict, e.g.
	// "insulator" or "metal".
	ElectronicClass string `json:"electronic_class"`

	// Magnetic reports whether the cell carried a net magnetization.
	Magnetic bool `json:"magnetic"`

	// BandGap is the band gap in eV (zero for metals).
	BandGap float64 `json:"band_gap"`

	// MaxDeltaOnsite is the largest |dU| against the previous iteration.
	MaxDeltaOnsite float64 `json:"max_delta_onsite"`

	// MaxDeltaIntersite is the largest |dV| against the previous iteration.
	MaxDeltaIntersite float64 `json:"max_delta_intersite"`

	// Parameters are the Hubbard parameters this iteration produced.
	Parameters []hubbard.Parameter `json:"parameters"`

	// CompletedAt is when the iteration finished.
	CompletedAt time.Time `json:"completed_at"`
}

// =============================================================================
// STORE
// =============================================================================

// Config holds configuration for the history store.
type Config struct {
	// Path is the directory for the database files.
	// Ignored when InMemory is true.
	Path string `mapstructure:"path"`

	// InMemory enables in-memory mode, useful for testing.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// Logger receives BadgerDB's internal log output. If nil, that
	// output is disabled.
	Logger *slog.Logger `mapstructure:"-"`
}

// DefaultConfig returns durable on-disk defaults. Path still has to be
// filled in by the caller.
func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is a BadgerDB-backed run and iteration archive.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens the history store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte("run/" + id)
}

func iterationKey(runID string, index int) []byte {
	return []byte(fmt.Sprintf("iter/%s/%06d", runID, index))
}

func iterationPrefix(runID string) []byte {
	return []byte("iter/" + runID + "/")
}

// PutRun writes or updates a run summary.
func (s *Store) PutRun(rec *RunRecord) error {
	if rec.ID == "" {
		return ErrEmptyRunID
	}
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(rec.ID), data)
	})
}

// GetRun loads a run summary.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: run %s", ErrNotFound, id)
			}
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

// ListRuns returns all run summaries, newest update first.
func (s *Store) ListRuns() ([]*RunRecord, error) {
	var runs []*RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("run/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec RunRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			runs = append(runs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
	})
	return runs, nil
}

// PutIteration appends an iteration record to a run.
func (s *Store) PutIteration(rec *IterationRecord) error {
	if rec.RunID == "" {
		return ErrEmptyRunID
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode iteration record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(iterationKey(rec.RunID, rec.Index), data)
	})
}

// GetIteration loads one iteration record.
func (s *Store) GetIteration(runID string, index int) (*IterationRecord, error) {
	var rec IterationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(iterationKey(runID, index))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: run %s iteration %d", ErrNotFound, runID, index)
			}
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

// ListIterations returns a run's iteration records in iteration order.
// The zero-padded key layout makes lexicographic iteration order equal
// numeric order.
func (s *Store) ListIterations(runID string) ([]*IterationRecord, error) {
	var records []*IterationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = iterationPrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec IterationRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// =============================================================================
// BADGER LOGGER
// =============================================================================

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
