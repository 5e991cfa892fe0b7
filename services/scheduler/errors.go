// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"errors"
	"strconv"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilSpec indicates a nil stage spec was passed.
	ErrNilSpec = errors.New("stage spec must not be nil")

	// ErrStageTimeout indicates a sub-calculation exceeded its timeout.
	ErrStageTimeout = errors.New("sub-calculation timeout")

	// ErrMissingResults indicates the sub-calculation finished without
	// producing its result document.
	ErrMissingResults = errors.New("result document not found")

	// ErrBadParameterCard indicates a malformed Hubbard parameter card.
	ErrBadParameterCard = errors.New("malformed hubbard parameter card")

	// ErrCompletionTimeout indicates the detached job never reported
	// completion within the watch window.
	ErrCompletionTimeout = errors.New("detached job completion timeout")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// SubProcessError reports a failed sub-calculation together with enough
// detail for the workchain to decide whether the failure is fatal.
type SubProcessError struct {
	// Stage is the sub-calculation kind.
	Stage Stage

	// ExitCode is the process exit code (-1 when the process never ran).
	ExitCode int

	// Output is the captured (and possibly truncated) stdout/stderr.
	Output string

	// Cause is the underlying error if any.
	Cause error
}

// Error implements the error interface.
func (e *SubProcessError) Error() string {
	msg := string(e.Stage) + " sub-process failed: exit code " + strconv.Itoa(e.ExitCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SubProcessError) Unwrap() error {
	return e.Cause
}
