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

import "time"

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the policy knobs of the self-consistent cycle.
//
// The numeric defaults are policy constants of the method rather than
// derived quantities; they are kept configurable on purpose.
type Config struct {
	// ToleranceOnsite is the convergence tolerance on |dU| in eV.
	// Default: 0.1
	ToleranceOnsite float64 `mapstructure:"tolerance_onsite"`

	// ToleranceIntersite is the convergence tolerance on |dV| in eV.
	// Default: 0.01
	ToleranceIntersite float64 `mapstructure:"tolerance_intersite"`

	// MaxIterations is the iteration budget of the cycle. When exceeded
	// without convergence, the run fails with ErrConvergenceNotReached.
	// Default: 10
	MaxIterations int `mapstructure:"max_iterations"`

	// MetaConvergence enables the self-consistent cycle. When false the
	// run stops successfully after the first linear-response result.
	// Default: false
	MetaConvergence bool `mapstructure:"meta_convergence"`

	// SkipRelaxIterations is the number of initial iterations that skip
	// relaxation and the convergence check.
	// Default: 0
	SkipRelaxIterations int `mapstructure:"skip_relax_iterations"`

	// RelaxFrequency relaxes only every n-th iteration.
	// Default: 1 (every iteration)
	RelaxFrequency int `mapstructure:"relax_frequency"`

	// RadialAnalysisRadius, when positive, bounds the intersite coupling
	// range of the linear-response run by a neighbour count derived from
	// this radius (angstrom).
	// Default: 0 (disabled)
	RadialAnalysisRadius float64 `mapstructure:"radial_analysis_radius"`

	// SmearingMethod is the default smearing flavour for the smeared
	// ground state when the scf template leaves it unset.
	// Default: "cold"
	SmearingMethod string `mapstructure:"smearing_method"`

	// SmearingDegauss is the default smearing width in Ry.
	// Default: 0.01
	SmearingDegauss float64 `mapstructure:"smearing_degauss"`

	// ConvThrPreconverge is the loose energy threshold (Ry) of the
	// smeared ground state.
	// Default: 1e-10
	ConvThrPreconverge float64 `mapstructure:"conv_thr_preconverge"`

	// ConvThrStrictFinal is the tight energy threshold (Ry) of the
	// fixed-occupation restart that the perturbation runs on top of.
	// Default: 1e-15
	ConvThrStrictFinal float64 `mapstructure:"conv_thr_strictfinal"`

	// MagnetizationThreshold is the maximum deviation from an integer
	// the smeared total magnetization may show before the fixed restart
	// is refused.
	// Default: 0.4
	MagnetizationThreshold float64 `mapstructure:"magnetization_threshold"`

	// GapThreshold is the minimum band gap in eV counted as insulating.
	// Default: 1e-5
	GapThreshold float64 `mapstructure:"gap_threshold"`

	// CleanWorkdir removes the stage work directories of an iteration
	// once the iteration completes.
	// Default: true
	CleanWorkdir bool `mapstructure:"clean_workdir"`

	// TotalTimeout bounds the entire run.
	// Default: 72h
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
}

// DefaultConfig returns a Config with the method's default policy.
//
// Outputs:
//
//	*Config - Configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ToleranceOnsite:        0.1,
		ToleranceIntersite:     0.01,
		MaxIterations:          10,
		MetaConvergence:        false,
		RelaxFrequency:         1,
		SmearingMethod:         "cold",
		SmearingDegauss:        0.01,
		ConvThrPreconverge:     1e-10,
		ConvThrStrictFinal:     1e-15,
		MagnetizationThreshold: 0.4,
		GapThreshold:           1e-5,
		CleanWorkdir:           true,
		TotalTimeout:           72 * time.Hour,
	}
}

// Validate checks that the configuration is valid, clamping out-of-range
// values to safe ones.
//
// Outputs:
//
//	error - Non-nil if configuration is invalid
func (c *Config) Validate() error {
	if c.ToleranceOnsite <= 0 {
		c.ToleranceOnsite = 0.1
	}
	if c.ToleranceIntersite <= 0 {
		c.ToleranceIntersite = 0.01
	}
	if c.MaxIterations < 1 {
		c.MaxIterations = 1
	}
	if c.SkipRelaxIterations < 0 {
		c.SkipRelaxIterations = 0
	}
	if c.RelaxFrequency < 1 {
		c.RelaxFrequency = 1
	}
	if c.SmearingMethod == "" {
		c.SmearingMethod = "cold"
	}
	if c.SmearingDegauss <= 0 {
		c.SmearingDegauss = 0.01
	}
	if c.ConvThrPreconverge <= 0 {
		c.ConvThrPreconverge = 1e-10
	}
	if c.ConvThrStrictFinal <= 0 {
		c.ConvThrStrictFinal = 1e-15
	}
	if c.MagnetizationThreshold <= 0 {
		c.MagnetizationThreshold = 0.4
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = 1e-5
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 72 * time.Hour
	}
	return nil
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithTolerances sets the onsite and intersite convergence tolerances.
func WithTolerances(onsite, intersite float64) Option {
	return func(c *Config) {
		c.ToleranceOnsite = onsite
		c.ToleranceIntersite = intersite
	}
}

// WithMaxIterations sets the iteration budget.
func WithMaxIterations(n int) Option {
	return func(c *Config) {
		c.MaxIterations = n
	}
}

// WithMetaConvergence enables or disables the self-consistent cycle.
func WithMetaConvergence(enabled bool) Option {
	return func(c *Config) {
		c.MetaConvergence = enabled
	}
}

// WithSkipRelaxIterations sets how many initial iterations skip
// relaxation and the convergence check.
func WithSkipRelaxIterations(n int) Option {
	return func(c *Config) {
		c.SkipRelaxIterations = n
	}
}

// WithRelaxFrequency relaxes only every n-th iteration.
func WithRelaxFrequency(n int) Option {
	return func(c *Config) {
		c.RelaxFrequency = n
	}
}

// WithRadialAnalysis enables the neighbour-count cap for the
// linear-response run, derived from the given radius in angstrom.
func WithRadialAnalysis(radius float64) Option {
	return func(c *Config) {
		c.RadialAnalysisRadius = radius
	}
}

// WithCleanWorkdir enables or disables per-iteration cleanup.
func WithCleanWorkdir(enabled bool) Option {
	return func(c *Config) {
		c.CleanWorkdir = enabled
	}
}

// WithTotalTimeout sets the total run timeout.
func WithTotalTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.TotalTimeout = d
	}
}

// NewConfig creates a Config with the given options applied.
//
// Inputs:
//
//	opts - Options to apply to the default config
//
// Outputs:
//
//	*Config - Configuration with options applied
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	_ = cfg.Validate()
	return cfg
}
