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

import "github.com/AleutianAI/hubbardflow/pkg/hubbard"

// =============================================================================
// CONVERGENCE CHECK
// =============================================================================

// ConvergenceReport is the outcome of comparing two consecutive
// parameter sets.
type ConvergenceReport struct {
	// Converged is true when both deltas are below their tolerances.
	Converged bool `json:"converged"`

	// Comparable is false when the parameter sets differ in size, e.g.
	// on the first cycle or after a relabelling changed the couplings.
	Comparable bool `json:"comparable"`

	// MaxDeltaOnsite is the largest |dU| in eV.
	MaxDeltaOnsite float64 `json:"max_delta_onsite"`

	// MaxDeltaIntersite is the largest |dV| in eV.
	MaxDeltaIntersite float64 `json:"max_delta_intersite"`
}

// CheckConvergence compares the previous and new parameter sets against
// the tolerances.
//
// Description:
//
//	Convergence requires the maximum onsite difference below the onsite
//	tolerance AND the maximum intersite difference below the intersite
//	tolerance, simultaneously over all couplings. Parameter sets of
//	different sizes are reported incomparable and never converged; that
//	happens on the first cycle, when there is nothing to compare yet.
//
// Inputs:
//
//	old - Parameters of the previous iteration.
//	curr - Parameters of the current iteration.
//	tolOnsite - Tolerance on |dU| in eV.
//	tolIntersite - Tolerance on |dV| in eV.
func CheckConvergence(old, curr []hubbard.Parameter, tolOnsite, tolIntersite float64) ConvergenceReport {
	if len(old) != len(curr) || len(old) == 0 {
		return ConvergenceReport{}
	}

	oldOnsite, oldIntersite := hubbard.SplitParameters(old)
	newOnsite, newIntersite := hubbard.SplitParameters(curr)

	report := ConvergenceReport{
		Comparable:        true,
		MaxDeltaOnsite:    hubbard.MaxAbsDifference(oldOnsite, newOnsite),
		MaxDeltaIntersite: hubbard.MaxAbsDifference(oldIntersite, newIntersite),
	}
	report.Converged = report.MaxDeltaOnsite < tolOnsite &&
		report.MaxDeltaIntersite < tolIntersite
	return report
}
