// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler dispatches relaxation, SCF and linear-response
// sub-calculations to external quantum-chemistry executables and hands
// their result records back to the workchain.
//
// The package owns process execution, input deck generation and result
// document decoding. It does not interpret the physics: result documents
// are machine-readable JSON emitted by the calculation wrappers, plus a
// plain tabular Hubbard parameter card.
package scheduler

import (
	"context"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs one sub-calculation at a time on behalf of the workchain.
//
// Implementations must honour context cancellation and must not retain
// or mutate the spec they are given.
type Engine interface {
	// RunRelax dispatches an ionic relaxation.
	RunRelax(ctx context.Context, spec *StageSpec) (*RelaxResult, error)

	// RunSCF dispatches an SCF ground-state calculation.
	RunSCF(ctx context.Context, spec *StageSpec) (*SCFResult, error)

	// RunHP dispatches a linear-response Hubbard calculation restarting
	// from the SCF state in spec.RestartDir.
	RunHP(ctx context.Context, spec *StageSpec) (*HPResult, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the executable and filesystem configuration shared by the
// engine implementations.
type Config struct {
	// PwExecutable is the plane-wave DFT binary (relax and scf stages).
	PwExecutable string `mapstructure:"pw_executable" validate:"required"`

	// HpExecutable is the linear-response binary.
	HpExecutable string `mapstructure:"hp_executable" validate:"required"`

	// WorkRoot is the directory under which per-stage work directories
	// are created.
	WorkRoot string `mapstructure:"work_root" validate:"required"`

	// MaxOutputBytes caps the captured process output.
	// Default: 262144 (256KB).
	MaxOutputBytes int `mapstructure:"max_output_bytes" validate:"gte=1024"`

	// KeepWorkdirs disables per-stage cleanup, useful for debugging.
	KeepWorkdirs bool `mapstructure:"keep_workdirs"`
}

// DefaultConfig returns a Config with sensible defaults. The executable
// paths and work root still have to be filled in by the caller.
func DefaultConfig() *Config {
	return &Config{
		PwExecutable:   "pw.x",
		HpExecutable:   "hp.x",
		MaxOutputBytes: 256 * 1024,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
