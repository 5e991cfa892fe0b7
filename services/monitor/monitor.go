// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor provides the status server for hubbardflow.
//
// The server exposes the run history over HTTP so long-running
// convergence cycles can be inspected without touching the badger store
// directly:
//
//   - GET /healthz            liveness probe
//   - GET /v1/runs            all recorded runs, newest first
//   - GET /v1/runs/:id        one run with its iteration records
//   - GET /v1/protocols       registered protocol presets
//   - GET /metrics            Prometheus exposition, including the
//     workchain cycle metrics bridged from OpenTelemetry
//
// # Usage
//
//	cfg := history.DefaultConfig()
//	cfg.Path = path
//	store, _ := history.Open(cfg)
//	svc, err := monitor.New(monitor.Config{Port: 12230}, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Thread Safety
//
// The service is safe for concurrent use after construction. Run()
// blocks and should be called once per instance.
package monitor

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/hubbardflow/services/history"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the status server.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying gin engine for testing. Callers
	// must not modify the routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds status server options. All fields have defaults applied
// by New().
type Config struct {
	// Port is the HTTP server port. Default: 12230.
	Port int

	// GinMode sets the gin framework mode ("debug", "release", "test").
	// Default: "release".
	GinMode string

	// EnableMetrics exposes /metrics and registers the OpenTelemetry
	// prometheus bridge. Default: true, disable with DisableMetrics.
	EnableMetrics bool

	// DisableMetrics turns off the /metrics endpoint. Split from
	// EnableMetrics so the zero value keeps metrics on.
	DisableMetrics bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	cfg.EnableMetrics = !cfg.DisableMetrics
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
type service struct {
	config Config
	router *gin.Engine
	store  *history.Store
}

// New creates a status server backed by the given history store.
//
// Description:
//
//	Applies configuration defaults, wires the prometheus registry and
//	OpenTelemetry bridge when metrics are enabled, and registers all
//	routes. The store may not be nil; a monitor without history has
//	nothing to serve.
//
// Inputs:
//   - cfg: server configuration, zero value is valid.
//   - store: run history store, required.
//
// Outputs:
//   - Service: ready-to-run status server.
//   - error: non-nil if the store is missing or metrics setup fails.
func New(cfg Config, store *history.Store) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: history store is required")
	}

	s := &service{
		config: applyConfigDefaults(cfg),
		store:  store,
	}

	if s.config.EnableMetrics {
		if err := initMetricsBridge(); err != nil {
			return nil, fmt.Errorf("monitor: init metrics: %w", err)
		}
	}

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting status server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// initRouter sets up the gin router with all routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.config.EnableMetrics {
		s.router.Use(requestMetrics())
	}

	setupRoutes(s.router, s.store, s.config.EnableMetrics)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
