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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/hubbardflow/services/history"
)

// setupRoutes registers all monitor routes on the router.
func setupRoutes(router *gin.Engine, store *history.Store, metrics bool) {
	router.GET("/healthz", healthCheck)

	if metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/protocols", listProtocols)
		runs := v1.Group("/runs")
		{
			runs.GET("", listRuns(store))
			runs.GET("/:runId", getRun(store))
		}
	}
}
