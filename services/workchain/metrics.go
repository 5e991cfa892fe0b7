// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workchain

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cycle operations.
var (
	tracer = otel.Tracer("aleutian.hubbard")
	meter  = otel.Meter("aleutian.hubbard")
)

// Metrics for cycle operations.
var (
	runLatency       metric.Float64Histogram
	runTotal         metric.Int64Counter
	stateTransitions metric.Int64Counter
	iterationTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runLatency, err = meter.Float64Histogram(
			"hubbard_run_duration_seconds",
			metric.WithDescription("Duration of self-consistent Hubbard runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"hubbard_run_total",
			metric.WithDescription("Total number of self-consistent Hubbard runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stateTransitions, err = meter.Int64Counter(
			"hubbard_state_transitions_total",
			metric.WithDescription("Total number of cycle state transitions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationTotal, err = meter.Int64Counter(
			"hubbard_iterations_total",
			metric.WithDescription("Total number of convergence iterations started"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRunSpan creates a span for a self-consistent run.
func startRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Controller.Run",
		trace.WithAttributes(
			attribute.String("hubbard.run_id", runID),
		),
	)
}

// setRunSpanResult sets the result attributes on a run span.
func setRunSpanResult(span trace.Span, success bool, finalState string, iterations int) {
	span.SetAttributes(
		attribute.Bool("hubbard.success", success),
		attribute.String("hubbard.final_state", finalState),
		attribute.Int("hubbard.iterations", iterations),
	)
}

// recordRunMetrics records metrics for a completed run.
func recordRunMetrics(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
	)

	runLatency.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
}

// recordStateTransition records a state transition event.
func recordStateTransition(ctx context.Context, from, to string) {
	if err := initMetrics(); err != nil {
		return
	}
	stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// recordIteration records the start of a convergence iteration.
func recordIteration(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	iterationTotal.Add(ctx, 1)
}
