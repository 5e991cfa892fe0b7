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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/hubbardflow/services/history"
	"github.com/AleutianAI/hubbardflow/services/workchain/protocol"
)

// healthCheck reports server liveness.
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listProtocols returns the registered protocol presets with their
// resolved values.
func listProtocols(c *gin.Context) {
	presets := make(map[string]*protocol.Preset, len(protocol.Names()))
	for _, name := range protocol.Names() {
		preset, err := protocol.Load(name)
		if err != nil {
			slog.Error("failed to load protocol preset", "name", name, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to load protocol presets"})
			return
		}
		presets[name] = preset
	}
	c.JSON(http.StatusOK, gin.H{
		"default":   protocol.DefaultName,
		"protocols": presets,
	})
}

// listRuns returns all recorded runs, newest first.
func listRuns(store *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := store.ListRuns()
		if err != nil {
			slog.Error("failed to list runs", "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
	}
}

// getRun returns one run together with its iteration records.
func getRun(store *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")

		run, err := store.GetRun(runID)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				c.JSON(http.StatusNotFound,
					gin.H{"error": "run not found", "run_id": runID})
				return
			}
			slog.Error("failed to load run", "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to load run"})
			return
		}

		iterations, err := store.ListIterations(runID)
		if err != nil {
			slog.Error("failed to list iterations", "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": "failed to list iterations"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"run":        run,
			"iterations": iterations,
		})
	}
}
