// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hubbard

import (
	"math"
	"sort"
)

// DefaultGapThreshold is the minimum band gap in eV treated as a real
// gap rather than numerical noise.
const DefaultGapThreshold = 1e-5

// =============================================================================
// BAND GAP ANALYSIS
// =============================================================================

// FindBandGap classifies a band set as insulating or metallic using the
// Fermi energy.
//
// Description:
//
//	bands[k] holds the eigenvalues (eV) of k-point k, one row per
//	k-point and spin channel. A system is insulating when every k-point
//	has the same number of states at or below the Fermi level and the
//	separation between the highest of those and the lowest state above
//	is larger than thr.
//
// Inputs:
//
//	bands - Eigenvalues per k-point, in eV.
//	fermi - Fermi energy in eV.
//	thr - Gap threshold in eV; DefaultGapThreshold if <= 0.
//
// Outputs:
//
//	bool - True if insulating.
//	float64 - Gap in eV (0 for metals).
//	error - Non-nil if bands is empty.
func FindBandGap(bands [][]float64, fermi, thr float64) (bool, float64, error) {
	if len(bands) == 0 {
		return false, 0, ErrNoBands
	}
	if thr <= 0 {
		thr = DefaultGapThreshold
	}

	occupied := -1
	vbm := math.Inf(-1)
	cbm := math.Inf(1)
	for _, kpt := range bands {
		if len(kpt) == 0 {
			return false, 0, ErrNoBands
		}
		sorted := append([]float64(nil), kpt...)
		sort.Float64s(sorted)

		nBelow := sort.SearchFloat64s(sorted, fermi+thr)
		if occupied == -1 {
			occupied = nBelow
		} else if nBelow != occupied {
			// A band crosses the Fermi level somewhere in the zone.
			return false, 0, nil
		}
		if nBelow == 0 || nBelow == len(sorted) {
			// Fermi level outside the computed window; cannot resolve a gap.
			return false, 0, nil
		}
		if sorted[nBelow-1] > vbm {
			vbm = sorted[nBelow-1]
		}
		if sorted[nBelow] < cbm {
			cbm = sorted[nBelow]
		}
	}

	gap := cbm - vbm
	if gap > thr {
		return true, gap, nil
	}
	return false, 0, nil
}

// FindBandGapFromElectrons classifies a band set by filling bands with
// the given electron count, without relying on the Fermi energy. This is
// the fallback used by the reconnaissance step, since the predicted
// Fermi energy of a smeared calculation carries some uncertainty.
//
// A spin-restricted filling is assumed: an odd or fractional electron
// count leaves a partially filled band and is reported metallic
// immediately.
func FindBandGapFromElectrons(bands [][]float64, nElectrons float64, thr float64) (bool, float64, error) {
	if len(bands) == 0 {
		return false, 0, ErrNoBands
	}
	if thr <= 0 {
		thr = DefaultGapThreshold
	}
	rounded := math.Round(nElectrons)
	if nElectrons <= 0 || math.Abs(nElectrons-rounded) > 1e-6 || int(rounded)%2 != 0 {
		return false, 0, nil
	}
	nOcc := int(rounded) / 2

	vbm := math.Inf(-1)
	cbm := math.Inf(1)
	for _, kpt := range bands {
		if len(kpt) <= nOcc {
			return false, 0, ErrNoBands
		}
		sorted := append([]float64(nil), kpt...)
		sort.Float64s(sorted)
		if sorted[nOcc-1] > vbm {
			vbm = sorted[nOcc-1]
		}
		if sorted[nOcc] < cbm {
			cbm = sorted[nOcc]
		}
	}

	gap := cbm - vbm
	if gap > thr {
		return true, gap, nil
	}
	return false, 0, nil
}
