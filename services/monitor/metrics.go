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
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsNamespace = "hubbardflow"
const monitorSubsystem = "monitor"

var (
	metricsOnce sync.Once
	metricsErr  error

	// requestsTotal counts API requests by route, method and status.
	requestsTotal *prometheus.CounterVec

	// requestDuration measures API request latency by route.
	requestDuration *prometheus.HistogramVec
)

// initMetricsBridge registers the OpenTelemetry prometheus exporter and
// the monitor's own HTTP metrics with the default registry.
//
// Description:
//
//	The workchain controller records cycle metrics through the global
//	otel meter. Installing a prometheus reader as the global meter
//	provider makes those counters and histograms appear on /metrics
//	next to the HTTP metrics below. Registration happens once per
//	process; promauto panics on duplicates.
//
// Outputs:
//   - error: non-nil if the exporter could not be created.
func initMetricsBridge() error {
	metricsOnce.Do(func() {
		exporter, err := otelprom.New()
		if err != nil {
			metricsErr = err
			return
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		otel.SetMeterProvider(provider)

		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: monitorSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		)

		requestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: monitorSubsystem,
				Name:      "request_duration_seconds",
				Help:      "API request latency by route",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"route"},
		)
	})
	return metricsErr
}

// requestMetrics is a gin middleware recording per-request counters and
// latency. Uses the route template, not the raw path, so run IDs do not
// explode label cardinality.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(
			route,
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
