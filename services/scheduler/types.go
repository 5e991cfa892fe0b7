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
	"time"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
)

// =============================================================================
// STAGE
// =============================================================================

// Stage identifies the kind of sub-calculation being dispatched.
type Stage string

const (
	// StageRelax is a variable-cell ionic relaxation.
	StageRelax Stage = "relax"

	// StageSCF is a self-consistent-field ground-state calculation.
	StageSCF Stage = "scf"

	// StageHP is a linear-response (DFPT) Hubbard calculation.
	StageHP Stage = "hp"
)

// =============================================================================
// OCCUPATIONS & PROJECTORS
// =============================================================================

// Occupations selects the electronic occupation scheme.
type Occupations string

const (
	// OccupationsSmearing smears occupations around the Fermi level;
	// required for metals, safe everywhere.
	OccupationsSmearing Occupations = "smearing"

	// OccupationsFixed uses integer occupations; required for the
	// linear-response run on insulators.
	OccupationsFixed Occupations = "fixed"
)

// Projector selects the Hubbard orbital projector convention.
type Projector string

const (
	// ProjectorAtomic is the only convention the relaxation stage
	// accepts; the executable aborts on anything else during ionic moves.
	ProjectorAtomic Projector = "atomic"

	// ProjectorOrthoAtomic is the convention used for SCF and
	// linear-response stages.
	ProjectorOrthoAtomic Projector = "ortho-atomic"
)

// =============================================================================
// STAGE SPEC
// =============================================================================

// StageSpec is the full input template for one sub-calculation.
//
// The workchain holds one base spec per stage and never mutates it:
// every dispatch goes through Clone plus local amendments, so the
// caller's configuration survives the run untouched.
type StageSpec struct {
	// Structure is the Hubbard structure the calculation runs on.
	Structure *hubbard.Structure `json:"-"`

	// KPoints is the Monkhorst-Pack sampling mesh (q-points for hp).
	KPoints [3]int `json:"kpoints" validate:"required"`

	// Occupations is the occupation scheme for SCF stages.
	Occupations Occupations `json:"occupations,omitempty"`

	// SmearingMethod names the smearing flavour, e.g. "cold".
	SmearingMethod string `json:"smearing_method,omitempty"`

	// Degauss is the smearing width in Ry.
	Degauss float64 `json:"degauss,omitempty"`

	// ConvThreshold is the SCF energy convergence threshold in Ry.
	ConvThreshold float64 `json:"conv_threshold,omitempty"`

	// Projector is the Hubbard projector convention for this stage.
	Projector Projector `json:"projector,omitempty"`

	// NumBands pins the number of bands; 0 lets the code choose.
	NumBands int `json:"num_bands,omitempty"`

	// TotalMagnetization pins the total magnetization when non-nil.
	TotalMagnetization *float64 `json:"total_magnetization,omitempty"`

	// RestartDir marks this run as a restart of a previous calculation
	// whose work directory it names. Charge density and wavefunctions
	// are read from file.
	RestartDir string `json:"restart_dir,omitempty"`

	// NumNeighbours caps the intersite coupling range for hp when
	// radial analysis is enabled; 0 disables the cap.
	NumNeighbours int `json:"num_neighbours,omitempty"`

	// Timeout bounds the wall time of the sub-calculation.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s *StageSpec) Clone() *StageSpec {
	out := *s
	if s.Structure != nil {
		out.Structure = s.Structure.Clone()
	}
	if s.TotalMagnetization != nil {
		v := *s.TotalMagnetization
		out.TotalMagnetization = &v
	}
	return &out
}

// =============================================================================
// RESULTS
// =============================================================================

// RelaxResult is the outcome of a relaxation sub-calculation.
type RelaxResult struct {
	// Structure is the relaxed structure.
	Structure *hubbard.Structure `json:"-"`

	// TotalEnergy is the final total energy in eV.
	TotalEnergy float64 `json:"total_energy"`

	// IonicConverged reports whether ionic minimisation fully converged.
	IonicConverged bool `json:"ionic_converged"`

	// WithinThreshold reports whether, despite not fully converging,
	// the residual forces are within the acceptable tolerance. The
	// workchain absorbs this case and proceeds.
	WithinThreshold bool `json:"within_threshold"`

	// Workdir is the calculation directory, used for restarts.
	Workdir string `json:"workdir"`
}

// SCFResult is the outcome of an SCF sub-calculation.
type SCFResult struct {
	// TotalEnergy is the total energy in eV.
	TotalEnergy float64 `json:"total_energy"`

	// FermiEnergy is the Fermi energy in eV.
	FermiEnergy float64 `json:"fermi_energy"`

	// NumElectrons is the electron count of the cell. A float because
	// the wrappers report it that way, and charged or smeared cells can
	// carry a fractional count.
	NumElectrons float64 `json:"num_electrons"`

	// NumBands is the number of computed bands.
	NumBands int `json:"num_bands"`

	// TotalMagnetization is the total magnetization in Bohr magnetons.
	TotalMagnetization float64 `json:"total_magnetization"`

	// Bands holds the eigenvalues per k-point in eV, used by the
	// reconnaissance step to classify insulator vs metal.
	Bands [][]float64 `json:"bands"`

	// Workdir is the calculation directory, used for restarts.
	Workdir string `json:"workdir"`
}

// HPResult is the outcome of a linear-response sub-calculation.
type HPResult struct {
	// Structure carries the newly predicted Hubbard parameters.
	Structure *hubbard.Structure `json:"-"`

	// Relabels lists sites for which the perturbation detected a new
	// electronic type (e.g. a distinct oxidation state).
	Relabels []hubbard.Relabel `json:"relabels,omitempty"`

	// Workdir is the calculation directory.
	Workdir string `json:"workdir"`
}
