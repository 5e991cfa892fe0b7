// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hubbard holds the crystal structure data model annotated with
// Hubbard interaction parameters.
//
// A Structure is a value object: every operation that would modify it
// returns a fresh deep copy instead. The convergence loop relies on this
// to guarantee that user-supplied inputs survive a run bit-for-bit.
package hubbard

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// SITE
// =============================================================================

// Site is one atom in the crystal cell.
type Site struct {
	// Kind is the kind label, e.g. "Mn" or "Mn1" after relabelling.
	Kind string `json:"kind"`

	// Symbol is the chemical symbol, e.g. "Mn".
	Symbol string `json:"symbol"`

	// Position is the fractional position in the cell.
	Position [3]float64 `json:"position"`
}

// =============================================================================
// STRUCTURE
// =============================================================================

// Structure is a crystal cell with attached Hubbard parameters.
//
// The lattice rows are the three cell vectors in angstrom. Parameters
// index into Sites.
//
// Thread Safety: treat as immutable. Use Clone before any local edit.
type Structure struct {
	// Lattice is the 3x3 cell matrix; row i is lattice vector a_i.
	Lattice *mat.Dense `json:"-"`

	// Sites are the atoms in the cell.
	Sites []Site `json:"sites"`

	// Parameters are the Hubbard U/V interactions, in eV.
	Parameters []Parameter `json:"parameters"`

	// Moments are the starting magnetic moments keyed by kind label.
	// Nil for non-magnetic systems.
	Moments map[string]float64 `json:"moments,omitempty"`
}

// NewStructure builds a structure from a row-major 3x3 cell and sites.
func NewStructure(cell [9]float64, sites []Site) *Structure {
	return &Structure{
		Lattice: mat.NewDense(3, 3, cell[:]),
		Sites:   append([]Site(nil), sites...),
	}
}

// Clone returns a deep copy of the structure.
func (s *Structure) Clone() *Structure {
	out := &Structure{
		Sites:      append([]Site(nil), s.Sites...),
		Parameters: append([]Parameter(nil), s.Parameters...),
	}
	if s.Lattice != nil {
		out.Lattice = mat.DenseCopyOf(s.Lattice)
	}
	if s.Moments != nil {
		out.Moments = make(map[string]float64, len(s.Moments))
		for k, v := range s.Moments {
			out.Moments[k] = v
		}
	}
	return out
}

// Validate checks the structural invariants.
//
// Outputs:
//
//	error - Non-nil if a parameter references a missing site or carries
//	        a non-finite value.
func (s *Structure) Validate() error {
	if s.Lattice == nil {
		return ErrMissingLattice
	}
	if r, c := s.Lattice.Dims(); r != 3 || c != 3 {
		return fmt.Errorf("%w: got %dx%d", ErrMalformedLattice, r, c)
	}
	if len(s.Sites) == 0 {
		return ErrNoSites
	}
	for i, p := range s.Parameters {
		if p.AtomI < 0 || p.AtomI >= len(s.Sites) || p.AtomJ < 0 || p.AtomJ >= len(s.Sites) {
			return fmt.Errorf("%w: parameter %d references atoms (%d, %d) in a %d-site cell",
				ErrSiteIndexOutOfRange, i, p.AtomI, p.AtomJ, len(s.Sites))
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return fmt.Errorf("%w: parameter %d has value %v", ErrNonFiniteValue, i, p.Value)
		}
	}
	return nil
}

// KindNames returns the distinct kind labels in site order.
func (s *Structure) KindNames() []string {
	seen := make(map[string]bool, len(s.Sites))
	var kinds []string
	for _, site := range s.Sites {
		if !seen[site.Kind] {
			seen[site.Kind] = true
			kinds = append(kinds, site.Kind)
		}
	}
	return kinds
}

// HubbardKinds returns the kind labels that carry at least one Hubbard
// parameter.
func (s *Structure) HubbardKinds() map[string]bool {
	active := make(map[string]bool)
	for _, p := range s.Parameters {
		active[s.Sites[p.AtomI].Kind] = true
		active[s.Sites[p.AtomJ].Kind] = true
	}
	return active
}

// =============================================================================
// GEOMETRY
// =============================================================================

// cartesian converts a fractional position plus an integer lattice
// translation to cartesian coordinates.
func (s *Structure) cartesian(frac [3]float64, translation [3]int) [3]float64 {
	var out [3]float64
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			out[col] += (frac[row] + float64(translation[row])) * s.Lattice.At(row, col)
		}
	}
	return out
}

// Distance returns the cartesian distance in angstrom between site i and
// the periodic image of site j shifted by the given lattice translation.
func (s *Structure) Distance(i, j int, translation [3]int) float64 {
	a := s.cartesian(s.Sites[i].Position, [3]int{})
	b := s.cartesian(s.Sites[j].Position, translation)
	var d2 float64
	for k := 0; k < 3; k++ {
		d := b[k] - a[k]
		d2 += d * d
	}
	return math.Sqrt(d2)
}

// MaxNeighbours returns the largest number of neighbours that any
// Hubbard-active site has within radius (angstrom). The count feeds the
// linear-response neighbour cutoff when radial analysis is enabled.
//
// The search covers periodic images within one cell shell on each side,
// which is sufficient for the radii used in practice (< one lattice
// constant).
func (s *Structure) MaxNeighbours(radius float64) int {
	active := s.HubbardKinds()
	maxCount := 0
	for i, site := range s.Sites {
		if !active[site.Kind] {
			continue
		}
		count := 0
		for j := range s.Sites {
			for tx := -1; tx <= 1; tx++ {
				for ty := -1; ty <= 1; ty++ {
					for tz := -1; tz <= 1; tz++ {
						if i == j && tx == 0 && ty == 0 && tz == 0 {
							continue
						}
						if s.Distance(i, j, [3]int{tx, ty, tz}) <= radius {
							count++
						}
					}
				}
			}
		}
		if count > maxCount {
			maxCount = count
		}
	}
	return maxCount
}
