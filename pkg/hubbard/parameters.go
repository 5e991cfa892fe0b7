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
	"fmt"
	"math"
	"sort"
)

// =============================================================================
// PARAMETER
// =============================================================================

// Parameter is a single Hubbard interaction between two atomic sites.
//
// An onsite parameter (Hubbard U) couples a site with itself in the same
// orbital manifold and zero translation. Everything else is an intersite
// parameter (Hubbard V).
type Parameter struct {
	// AtomI and AtomJ index into Structure.Sites.
	AtomI int `json:"atom_i"`
	AtomJ int `json:"atom_j"`

	// ManifoldI and ManifoldJ name the orbital manifolds, e.g. "3d".
	ManifoldI string `json:"manifold_i"`
	ManifoldJ string `json:"manifold_j"`

	// Translation is the lattice translation of atom J's image.
	Translation [3]int `json:"translation"`

	// Value is the interaction strength in eV.
	Value float64 `json:"value"`
}

// IsOnsite reports whether the parameter is a Hubbard U term.
func (p Parameter) IsOnsite() bool {
	return p.AtomI == p.AtomJ &&
		p.ManifoldI == p.ManifoldJ &&
		p.Translation == [3]int{}
}

// Key identifies the interaction independent of its value, so that the
// same coupling can be matched across iterations.
func (p Parameter) Key() string {
	return fmt.Sprintf("%d:%s-%d:%s@%d,%d,%d",
		p.AtomI, p.ManifoldI, p.AtomJ, p.ManifoldJ,
		p.Translation[0], p.Translation[1], p.Translation[2])
}

// SplitParameters partitions parameters into onsite and intersite terms.
func SplitParameters(params []Parameter) (onsite, intersite []Parameter) {
	for _, p := range params {
		if p.IsOnsite() {
			onsite = append(onsite, p)
		} else {
			intersite = append(intersite, p)
		}
	}
	return onsite, intersite
}

// MaxAbsDifference returns the largest |new - old| over couplings present
// in both sets, matched by Key. Couplings present on one side only are
// ignored; the caller decides whether the sets are comparable at all.
func MaxAbsDifference(old, new []Parameter) float64 {
	prev := make(map[string]float64, len(old))
	for _, p := range old {
		prev[p.Key()] = p.Value
	}
	maxDiff := 0.0
	for _, p := range new {
		if v, ok := prev[p.Key()]; ok {
			if d := math.Abs(p.Value - v); d > maxDiff {
				maxDiff = d
			}
		}
	}
	return maxDiff
}

// =============================================================================
// KIND ORDERING
// =============================================================================

// NeedsKindReorder reports whether Hubbard-active kinds appear after
// inactive ones. The linear-response executable requires all perturbed
// kinds at the top of the atom list.
func (s *Structure) NeedsKindReorder() bool {
	active := s.HubbardKinds()
	seenInactive := false
	for _, site := range s.Sites {
		if active[site.Kind] {
			if seenInactive {
				return true
			}
		} else {
			seenInactive = true
		}
	}
	return false
}

// ReorderKinds returns a copy with Hubbard-active sites moved to the
// front (stable within each group) and all parameter indices remapped.
func (s *Structure) ReorderKinds() *Structure {
	out := s.Clone()
	active := s.HubbardKinds()

	order := make([]int, len(s.Sites))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return active[s.Sites[order[a]].Kind] && !active[s.Sites[order[b]].Kind]
	})

	// old index -> new index
	remap := make([]int, len(s.Sites))
	for newIdx, oldIdx := range order {
		remap[oldIdx] = newIdx
		out.Sites[newIdx] = s.Sites[oldIdx]
	}
	for i, p := range s.Parameters {
		p.AtomI = remap[p.AtomI]
		p.AtomJ = remap[p.AtomJ]
		out.Parameters[i] = p
	}
	return out
}

// =============================================================================
// KIND RELABELLING
// =============================================================================

// Relabel maps a site index to the new kind label the linear-response
// step assigned to it, typically when a distinct oxidation state emerges
// during the self-consistent cycle.
type Relabel struct {
	Site    int    `json:"site"`
	NewKind string `json:"new_kind"`
}

// RelabelKinds returns a copy with the given sites assigned new kind
// labels. Magnetic moments follow the site's previous kind so spin
// ordering survives the relabelling.
//
// Outputs:
//
//	*Structure - Relabelled copy.
//	error - Non-nil if a relabel references a missing site or the new
//	        label collides with an existing kind of a different symbol.
func (s *Structure) RelabelKinds(relabels []Relabel) (*Structure, error) {
	out := s.Clone()

	symbolByKind := make(map[string]string, len(s.Sites))
	for _, site := range s.Sites {
		symbolByKind[site.Kind] = site.Symbol
	}

	for _, r := range relabels {
		if r.Site < 0 || r.Site >= len(out.Sites) {
			return nil, fmt.Errorf("%w: relabel of site %d in a %d-site cell",
				ErrSiteIndexOutOfRange, r.Site, len(out.Sites))
		}
		site := &out.Sites[r.Site]
		if sym, ok := symbolByKind[r.NewKind]; ok && sym != site.Symbol {
			return nil, fmt.Errorf("%w: kind %q already labels symbol %q",
				ErrKindCollision, r.NewKind, sym)
		}
		if out.Moments != nil {
			if m, ok := out.Moments[site.Kind]; ok {
				if _, exists := out.Moments[r.NewKind]; !exists {
					out.Moments[r.NewKind] = m
				}
			}
		}
		site.Kind = r.NewKind
		symbolByKind[r.NewKind] = site.Symbol
	}
	return out, nil
}

// WithParameters returns a copy carrying the given parameter set instead
// of the current one.
func (s *Structure) WithParameters(params []Parameter) *Structure {
	out := s.Clone()
	out.Parameters = append([]Parameter(nil), params...)
	return out
}
