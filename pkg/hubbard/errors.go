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

import "errors"

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrMissingLattice indicates a structure without a cell matrix.
	ErrMissingLattice = errors.New("structure has no lattice")

	// ErrMalformedLattice indicates a cell matrix that is not 3x3.
	ErrMalformedLattice = errors.New("lattice must be 3x3")

	// ErrNoSites indicates an empty cell.
	ErrNoSites = errors.New("structure has no sites")

	// ErrSiteIndexOutOfRange indicates a parameter or relabel referencing
	// a site index outside the cell.
	ErrSiteIndexOutOfRange = errors.New("site index out of range")

	// ErrNonFiniteValue indicates a NaN or infinite Hubbard value.
	ErrNonFiniteValue = errors.New("hubbard value must be finite")

	// ErrKindCollision indicates a relabel reusing a kind label that
	// belongs to a different chemical symbol.
	ErrKindCollision = errors.New("kind label collision")

	// ErrNoBands indicates a band-gap query on an empty band set.
	ErrNoBands = errors.New("no band energies provided")
)
