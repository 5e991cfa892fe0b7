// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunRoundTrip(t *testing.T) {
	store := testStore(t)

	rec := &RunRecord{ID: "run-1", State: "relax", Iterations: 0}
	require.NoError(t, store.PutRun(rec))
	assert.False(t, rec.UpdatedAt.IsZero())

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "relax", got.State)

	// Updates overwrite in place.
	rec.State = "done"
	rec.Converged = true
	rec.Iterations = 3
	require.NoError(t, store.PutRun(rec))

	got, err = store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "done", got.State)
	assert.True(t, got.Converged)
	assert.Equal(t, 3, got.Iterations)
}

func TestRunNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetRun("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRunEmptyID(t *testing.T) {
	store := testStore(t)
	assert.ErrorIs(t, store.PutRun(&RunRecord{}), ErrEmptyRunID)
}

func TestListRuns(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.PutRun(&RunRecord{ID: "a"}))
	require.NoError(t, store.PutRun(&RunRecord{ID: "b"}))
	require.NoError(t, store.PutRun(&RunRecord{ID: "a", State: "done"}))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Most recently updated first.
	assert.Equal(t, "a", runs[0].ID)
	assert.Equal(t, "done", runs[0].State)
}

func TestIterationOrdering(t *testing.T) {
	store := testStore(t)

	// Insert out of order, including a double-digit index that would
	// sort wrong without zero-padded keys.
	for _, idx := range []int{10, 2, 1} {
		require.NoError(t, store.PutIteration(&IterationRecord{
			RunID: "run-1",
			Index: idx,
			Parameters: []hubbard.Parameter{
				{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: float64(idx)},
			},
		}))
	}

	records, err := store.ListIterations("run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 1, records[0].Index)
	assert.Equal(t, 2, records[1].Index)
	assert.Equal(t, 10, records[2].Index)
	assert.InDelta(t, 10.0, records[2].Parameters[0].Value, 1e-12)
}

func TestIterationIsolationBetweenRuns(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.PutIteration(&IterationRecord{RunID: "run-1", Index: 1}))
	require.NoError(t, store.PutIteration(&IterationRecord{RunID: "run-2", Index: 1}))

	records, err := store.ListIterations("run-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	got, err := store.GetIteration("run-2", 1)
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)

	_, err = store.GetIteration("run-1", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistentStoreReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir

	store, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, store.PutRun(&RunRecord{ID: "run-1", State: "hp"}))
	require.NoError(t, store.Close())

	store, err = Open(cfg)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "hp", got.State)
}
