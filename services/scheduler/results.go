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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
)

const (
	// resultsFileName is the JSON result document the calculation
	// wrapper emits next to the raw output.
	resultsFileName = "results.json"

	// parameterCardName is the tabular Hubbard parameter file the
	// linear-response run writes.
	parameterCardName = "HUBBARD.dat"

	// doneFileName is the completion sentinel a detached scheduler
	// touches once the job (and its wrapper) have finished.
	doneFileName = "DONE"
)

// =============================================================================
// RESULT DOCUMENTS
// =============================================================================

// relaxDocument mirrors the relax wrapper's result JSON.
type relaxDocument struct {
	TotalEnergy     float64        `json:"total_energy"`
	IonicConverged  bool           `json:"ionic_converged"`
	WithinThreshold bool           `json:"within_threshold"`
	Cell            [9]float64     `json:"cell"`
	Sites           []hubbard.Site `json:"sites"`
}

// hpDocument mirrors the hp wrapper's result JSON; the parameters
// themselves live in the tabular card.
type hpDocument struct {
	Relabels []hubbard.Relabel `json:"relabels,omitempty"`
}

func readDocument(dir string, out any) error {
	path := filepath.Join(dir, resultsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissingResults, path)
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ReadRelaxResult loads the relax result document from dir and rebuilds
// the relaxed structure, carrying over the input structure's parameters
// and magnetic moments.
func ReadRelaxResult(dir string, input *hubbard.Structure) (*RelaxResult, error) {
	var doc relaxDocument
	if err := readDocument(dir, &doc); err != nil {
		return nil, err
	}

	relaxed := hubbard.NewStructure(doc.Cell, doc.Sites)
	relaxed.Parameters = append([]hubbard.Parameter(nil), input.Parameters...)
	if input.Moments != nil {
		relaxed.Moments = make(map[string]float64, len(input.Moments))
		for k, v := range input.Moments {
			relaxed.Moments[k] = v
		}
	}
	if err := relaxed.Validate(); err != nil {
		return nil, fmt.Errorf("relaxed structure: %w", err)
	}

	return &RelaxResult{
		Structure:       relaxed,
		TotalEnergy:     doc.TotalEnergy,
		IonicConverged:  doc.IonicConverged,
		WithinThreshold: doc.WithinThreshold,
		Workdir:         dir,
	}, nil
}

// ReadSCFResult loads the SCF result document from dir.
func ReadSCFResult(dir string) (*SCFResult, error) {
	var res SCFResult
	if err := readDocument(dir, &res); err != nil {
		return nil, err
	}
	res.Workdir = dir
	return &res, nil
}

// ReadHPResult loads the hp result document and the parameter card from
// dir, producing the updated Hubbard structure.
func ReadHPResult(dir string, input *hubbard.Structure) (*HPResult, error) {
	var doc hpDocument
	if err := readDocument(dir, &doc); err != nil {
		return nil, err
	}

	params, err := ReadParameterCard(filepath.Join(dir, parameterCardName))
	if err != nil {
		return nil, err
	}

	updated := input.WithParameters(params)
	if err := updated.Validate(); err != nil {
		return nil, fmt.Errorf("updated structure: %w", err)
	}

	return &HPResult{
		Structure: updated,
		Relabels:  doc.Relabels,
		Workdir:   dir,
	}, nil
}

// =============================================================================
// PARAMETER CARD
// =============================================================================

// ReadParameterCard parses the tabular Hubbard parameter file.
//
// Description:
//
//	Data lines carry eight whitespace-separated columns:
//
//	  atom_i manifold_i atom_j manifold_j tx ty tz value
//
//	Comment lines start with '#' and are only allowed before the data;
//	a comment between data lines marks a truncated file.
//
// Outputs:
//
//	[]hubbard.Parameter - Parsed parameters (atom indices zero-based).
//	error - Non-nil on malformed rows.
func ReadParameterCard(path string) ([]hubbard.Parameter, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingResults, path)
		}
		return nil, err
	}
	defer f.Close()

	var params []hubbard.Parameter
	dataSeen := false

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "#") {
			if dataSeen {
				return nil, fmt.Errorf("%w: comment after data at line %d", ErrBadParameterCard, line)
			}
			continue
		}
		dataSeen = true

		if len(fields) != 8 {
			return nil, fmt.Errorf("%w: expected 8 columns at line %d, got %d",
				ErrBadParameterCard, line, len(fields))
		}

		var p hubbard.Parameter
		var convErr error
		intField := func(s string) int {
			v, err := strconv.Atoi(s)
			if err != nil && convErr == nil {
				convErr = err
			}
			return v
		}
		p.AtomI = intField(fields[0])
		p.ManifoldI = fields[1]
		p.AtomJ = intField(fields[2])
		p.ManifoldJ = fields[3]
		p.Translation[0] = intField(fields[4])
		p.Translation[1] = intField(fields[5])
		p.Translation[2] = intField(fields[6])
		value, err := strconv.ParseFloat(fields[7], 64)
		if err != nil && convErr == nil {
			convErr = err
		}
		p.Value = value
		if convErr != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadParameterCard, line, convErr)
		}
		params = append(params, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return params, nil
}
