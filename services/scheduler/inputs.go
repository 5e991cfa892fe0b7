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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// inputFileName is the deck file the executables read.
const inputFileName = "stage.in"

// =============================================================================
// INPUT DECK GENERATION
// =============================================================================

// WriteInputDeck renders the namelist input deck for a stage into dir.
//
// Description:
//
//	The deck follows the plane-wave code's namelist format: CONTROL,
//	SYSTEM and ELECTRONS groups followed by cell, positions, Hubbard
//	and k-point cards. The hp stage uses a single INPUTHP group.
//
// Outputs:
//
//	string - Path of the written deck.
//	error - Non-nil on render or write failure.
func WriteInputDeck(dir string, stage Stage, spec *StageSpec) (string, error) {
	if spec == nil {
		return "", ErrNilSpec
	}

	var b strings.Builder
	var err error
	switch stage {
	case StageHP:
		err = renderHP(&b, spec)
	default:
		err = renderPw(&b, stage, spec)
	}
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, inputFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o640); err != nil {
		return "", fmt.Errorf("write input deck: %w", err)
	}
	return path, nil
}

func renderPw(b *strings.Builder, stage Stage, spec *StageSpec) error {
	s := spec.Structure
	if s == nil {
		return ErrNilSpec
	}

	calculation := "scf"
	if stage == StageRelax {
		calculation = "vc-relax"
	}
	restartMode := "from_scratch"

	fmt.Fprintf(b, "&CONTROL\n")
	fmt.Fprintf(b, "  calculation = '%s'\n", calculation)
	fmt.Fprintf(b, "  restart_mode = '%s'\n", restartMode)
	fmt.Fprintf(b, "  outdir = './out'\n")
	fmt.Fprintf(b, "/\n")

	fmt.Fprintf(b, "&SYSTEM\n")
	fmt.Fprintf(b, "  nat = %d\n", len(s.Sites))
	fmt.Fprintf(b, "  ntyp = %d\n", len(s.KindNames()))
	if spec.Occupations != "" {
		fmt.Fprintf(b, "  occupations = '%s'\n", spec.Occupations)
	}
	if spec.Occupations == OccupationsSmearing {
		fmt.Fprintf(b, "  smearing = '%s'\n", spec.SmearingMethod)
		fmt.Fprintf(b, "  degauss = %g\n", spec.Degauss)
	}
	if spec.NumBands > 0 {
		fmt.Fprintf(b, "  nbnd = %d\n", spec.NumBands)
	}
	if len(s.Moments) > 0 {
		fmt.Fprintf(b, "  nspin = 2\n")
		for i, kind := range s.KindNames() {
			if m, ok := s.Moments[kind]; ok {
				fmt.Fprintf(b, "  starting_magnetization(%d) = %g\n", i+1, m)
			}
		}
	}
	if spec.TotalMagnetization != nil {
		fmt.Fprintf(b, "  tot_magnetization = %g\n", *spec.TotalMagnetization)
	}
	fmt.Fprintf(b, "/\n")

	fmt.Fprintf(b, "&ELECTRONS\n")
	if spec.ConvThreshold > 0 {
		fmt.Fprintf(b, "  conv_thr = %g\n", spec.ConvThreshold)
	}
	if spec.RestartDir != "" {
		fmt.Fprintf(b, "  startingpot = 'file'\n")
		fmt.Fprintf(b, "  startingwfc = 'file'\n")
	}
	fmt.Fprintf(b, "/\n")

	renderCell(b, spec)
	renderPositions(b, spec)
	renderHubbardCard(b, spec)

	fmt.Fprintf(b, "K_POINTS automatic\n")
	fmt.Fprintf(b, "  %d %d %d 0 0 0\n", spec.KPoints[0], spec.KPoints[1], spec.KPoints[2])
	return nil
}

func renderHP(b *strings.Builder, spec *StageSpec) error {
	fmt.Fprintf(b, "&INPUTHP\n")
	fmt.Fprintf(b, "  outdir = './out'\n")
	fmt.Fprintf(b, "  nq1 = %d\n", spec.KPoints[0])
	fmt.Fprintf(b, "  nq2 = %d\n", spec.KPoints[1])
	fmt.Fprintf(b, "  nq3 = %d\n", spec.KPoints[2])
	if spec.ConvThreshold > 0 {
		fmt.Fprintf(b, "  conv_thr_chi = %g\n", spec.ConvThreshold)
	}
	if spec.NumNeighbours > 0 {
		fmt.Fprintf(b, "  num_neigh = %d\n", spec.NumNeighbours)
	}
	fmt.Fprintf(b, "/\n")
	return nil
}

func renderCell(b *strings.Builder, spec *StageSpec) {
	fmt.Fprintf(b, "CELL_PARAMETERS angstrom\n")
	for row := 0; row < 3; row++ {
		fmt.Fprintf(b, "  %.10f %.10f %.10f\n",
			spec.Structure.Lattice.At(row, 0),
			spec.Structure.Lattice.At(row, 1),
			spec.Structure.Lattice.At(row, 2))
	}
}

func renderPositions(b *strings.Builder, spec *StageSpec) {
	fmt.Fprintf(b, "ATOMIC_POSITIONS crystal\n")
	for _, site := range spec.Structure.Sites {
		fmt.Fprintf(b, "  %-4s %.10f %.10f %.10f\n",
			site.Kind, site.Position[0], site.Position[1], site.Position[2])
	}
}

// renderHubbardCard writes the Hubbard interaction card. Onsite terms
// become U lines, intersite terms V lines with their translation.
func renderHubbardCard(b *strings.Builder, spec *StageSpec) {
	s := spec.Structure
	if len(s.Parameters) == 0 {
		return
	}
	projector := spec.Projector
	if projector == "" {
		projector = ProjectorOrthoAtomic
	}
	fmt.Fprintf(b, "HUBBARD (%s)\n", projector)
	for _, p := range s.Parameters {
		if p.IsOnsite() {
			fmt.Fprintf(b, "  U %s-%s %.6f\n", s.Sites[p.AtomI].Kind, p.ManifoldI, p.Value)
			continue
		}
		fmt.Fprintf(b, "  V %s-%s %s-%s %d %d %d %.6f\n",
			s.Sites[p.AtomI].Kind, p.ManifoldI,
			s.Sites[p.AtomJ].Kind, p.ManifoldJ,
			p.Translation[0], p.Translation[1], p.Translation[2], p.Value)
	}
}
