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
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilEngine indicates the controller was built without an engine.
	ErrNilEngine = errors.New("engine must not be nil")

	// ErrNilStructure indicates a request without a structure.
	ErrNilStructure = errors.New("structure must not be nil")

	// ErrNoHubbardParameters indicates a structure with no initialized
	// Hubbard parameters, leaving the perturbation nothing to target.
	ErrNoHubbardParameters = errors.New("structure carries no hubbard parameters")

	// ErrMissingStageSpec indicates a request missing the scf or hp
	// stage template.
	ErrMissingStageSpec = errors.New("scf and hp stage specs are required")

	// ErrAlreadyRunning indicates Run was called on a busy controller.
	ErrAlreadyRunning = errors.New("controller is already running")

	// ErrTotalTimeout indicates the whole run exceeded its time budget.
	ErrTotalTimeout = errors.New("run exceeded total timeout")

	// ErrConvergenceNotReached indicates the parameters did not converge
	// within the iteration budget. This is a distinct terminal outcome,
	// not a crash.
	ErrConvergenceNotReached = errors.New("hubbard parameters did not converge within the iteration budget")

	// ErrRelaxNotConverged indicates the ionic relaxation failed beyond
	// the acceptable force tolerance.
	ErrRelaxNotConverged = errors.New("ionic relaxation did not converge")

	// ErrNonIntegerMagnetization indicates the smeared ground state
	// reported a total magnetization too far from an integer to pin in
	// the fixed-occupation restart.
	ErrNonIntegerMagnetization = errors.New("total magnetization deviates too far from an integer")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// StateTransitionError reports an invalid state machine transition.
type StateTransitionError struct {
	From State
	To   State
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// IterationError wraps a stage failure with the iteration it happened in.
type IterationError struct {
	// Iteration is the one-based iteration counter.
	Iteration int

	// State is the loop state that failed.
	State State

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *IterationError) Error() string {
	return fmt.Sprintf("%s failed in iteration %d: %v", e.State, e.Iteration, e.Cause)
}

// Unwrap returns the underlying error.
func (e *IterationError) Unwrap() error {
	return e.Cause
}
