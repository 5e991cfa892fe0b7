// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
	"github.com/AleutianAI/hubbardflow/services/history"
)

func testService(t *testing.T) (Service, *history.Store) {
	t.Helper()

	store, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := New(Config{GinMode: gin.TestMode}, store)
	require.NoError(t, err)
	return svc, store
}

func doRequest(t *testing.T, svc Service, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func seedRun(t *testing.T, store *history.Store, id string, converged bool) {
	t.Helper()

	now := time.Now()
	require.NoError(t, store.PutRun(&history.RunRecord{
		ID:         id,
		State:      "done",
		Iterations: 2,
		Converged:  converged,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
	for i := 1; i <= 2; i++ {
		require.NoError(t, store.PutIteration(&history.IterationRecord{
			RunID:           id,
			Index:           i,
			ElectronicClass: "insulator",
			BandGap:         1.8,
			Parameters: []hubbard.Parameter{
				{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: 5.0},
			},
			CompletedAt: now,
		}))
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{GinMode: gin.TestMode}, nil)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	svc, _ := testService(t)

	rec := doRequest(t, svc, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestListRunsEmpty(t *testing.T) {
	svc, _ := testService(t)

	rec := doRequest(t, svc, http.MethodGet, "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int                 `json:"count"`
		Runs  []history.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
}

func TestListRuns(t *testing.T) {
	svc, store := testService(t)
	seedRun(t, store, "run-a", true)
	seedRun(t, store, "run-b", false)

	rec := doRequest(t, svc, http.MethodGet, "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int                 `json:"count"`
		Runs  []history.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Runs, 2)
}

func TestGetRun(t *testing.T) {
	svc, store := testService(t)
	seedRun(t, store, "run-a", true)

	rec := doRequest(t, svc, http.MethodGet, "/v1/runs/run-a")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run        history.RunRecord         `json:"run"`
		Iterations []history.IterationRecord `json:"iterations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-a", body.Run.ID)
	assert.True(t, body.Run.Converged)
	require.Len(t, body.Iterations, 2)
	assert.Equal(t, 1, body.Iterations[0].Index)
	assert.Equal(t, "insulator", body.Iterations[0].ElectronicClass)
}

func TestGetRunNotFound(t *testing.T) {
	svc, _ := testService(t)

	rec := doRequest(t, svc, http.MethodGet, "/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run not found")
}

func TestListProtocols(t *testing.T) {
	svc, _ := testService(t)

	rec := doRequest(t, svc, http.MethodGet, "/v1/protocols")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Default   string                     `json:"default"`
		Protocols map[string]json.RawMessage `json:"protocols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "moderate", body.Default)
	assert.Len(t, body.Protocols, 3)
	assert.Contains(t, body.Protocols, "precise")
}

func TestMetricsEndpoint(t *testing.T) {
	svc, _ := testService(t)

	// Drive a request through the middleware first so the counters
	// have something to report.
	doRequest(t, svc, http.MethodGet, "/healthz")

	rec := doRequest(t, svc, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "# HELP"),
		"exposition should contain metric help text")
	assert.Contains(t, rec.Body.String(), "hubbardflow_monitor_requests_total")
}

func TestMetricsDisabled(t *testing.T) {
	store, err := history.Open(history.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := New(Config{GinMode: gin.TestMode, DisableMetrics: true}, store)
	require.NoError(t, err)

	rec := doRequest(t, svc, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
