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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
	"github.com/AleutianAI/hubbardflow/services/scheduler"
)

// =============================================================================
// FAKE ENGINE
// =============================================================================

// fakeEngine scripts sub-calculation results for controller tests.
type fakeEngine struct {
	relaxCalls []*scheduler.StageSpec
	scfCalls   []*scheduler.StageSpec
	hpCalls    []*scheduler.StageSpec

	// scfResult is returned for every scf dispatch.
	scfResult scheduler.SCFResult

	// hpParams is the queue of parameter sets successive hp runs
	// predict; the last entry repeats when the queue is exhausted.
	hpParams [][]hubbard.Parameter

	// hpRelabels is attached to the first hp result.
	hpRelabels []hubbard.Relabel

	// relaxConverged / relaxWithinThreshold script the relax outcome.
	relaxConverged       bool
	relaxWithinThreshold bool

	cleaned []string
}

func (f *fakeEngine) RunRelax(_ context.Context, spec *scheduler.StageSpec) (*scheduler.RelaxResult, error) {
	f.relaxCalls = append(f.relaxCalls, spec)
	return &scheduler.RelaxResult{
		Structure:       spec.Structure.Clone(),
		IonicConverged:  f.relaxConverged,
		WithinThreshold: f.relaxWithinThreshold,
		Workdir:         fmt.Sprintf("relax-%d", len(f.relaxCalls)),
	}, nil
}

func (f *fakeEngine) RunSCF(_ context.Context, spec *scheduler.StageSpec) (*scheduler.SCFResult, error) {
	f.scfCalls = append(f.scfCalls, spec)
	res := f.scfResult
	res.Workdir = fmt.Sprintf("scf-%d", len(f.scfCalls))
	return &res, nil
}

func (f *fakeEngine) RunHP(_ context.Context, spec *scheduler.StageSpec) (*scheduler.HPResult, error) {
	f.hpCalls = append(f.hpCalls, spec)
	idx := len(f.hpCalls) - 1
	if idx >= len(f.hpParams) {
		idx = len(f.hpParams) - 1
	}
	res := &scheduler.HPResult{
		Structure: spec.Structure.WithParameters(f.hpParams[idx]),
		Workdir:   fmt.Sprintf("hp-%d", len(f.hpCalls)),
	}
	if len(f.hpCalls) == 1 {
		res.Relabels = f.hpRelabels
	}
	return res, nil
}

func (f *fakeEngine) Cleanup(dir string) {
	f.cleaned = append(f.cleaned, dir)
}

// =============================================================================
// FIXTURES
// =============================================================================

// metalBands has a band crossing the Fermi level and an odd electron
// count, so both classification variants report a metal.
var metalBands = scheduler.SCFResult{
	FermiEnergy:  0,
	NumElectrons: 3,
	NumBands:     2,
	Bands:        [][]float64{{-1.0, 0.5}, {-0.6, -0.2}},
}

// insulatorBands resolves a clean 1.8 eV gap.
var insulatorBands = scheduler.SCFResult{
	FermiEnergy:  0,
	NumElectrons: 2,
	NumBands:     2,
	Bands:        [][]float64{{-1.0, 1.0}, {-0.8, 1.2}},
}

func testStructure() *hubbard.Structure {
	s := hubbard.NewStructure(
		[9]float64{4.0, 0, 0, 0, 4.0, 0, 0, 0, 4.0},
		[]hubbard.Site{
			{Kind: "Co", Symbol: "Co", Position: [3]float64{0, 0, 0}},
			{Kind: "O", Symbol: "O", Position: [3]float64{0.5, 0.5, 0.5}},
		},
	)
	s.Parameters = []hubbard.Parameter{
		{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: 5.0},
		{AtomI: 0, AtomJ: 1, ManifoldI: "3d", ManifoldJ: "2p", Value: 0.5},
	}
	return s
}

func params(u, v float64) []hubbard.Parameter {
	return []hubbard.Parameter{
		{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: u},
		{AtomI: 0, AtomJ: 1, ManifoldI: "3d", ManifoldJ: "2p", Value: v},
	}
}

func testRequest(withRelax bool) *Request {
	req := &Request{
		Structure: testStructure(),
		SCF:       &scheduler.StageSpec{KPoints: [3]int{2, 2, 2}},
		HP:        &scheduler.StageSpec{KPoints: [3]int{2, 2, 2}},
	}
	if withRelax {
		req.Relax = &scheduler.StageSpec{KPoints: [3]int{2, 2, 2}}
	}
	return req
}

func runController(t *testing.T, cfg *Config, engine *fakeEngine, req *Request) *Result {
	t.Helper()
	ctrl := NewController(cfg, engine, nil, nil)
	res, err := ctrl.Run(context.Background(), req)
	require.NoError(t, err)
	return res
}

// =============================================================================
// TESTS
// =============================================================================

func TestRunMetaConvergenceOffStopsAfterFirstIteration(t *testing.T) {
	engine := &fakeEngine{
		scfResult:      metalBands,
		hpParams:       [][]hubbard.Parameter{params(5.3, 0.6)},
		relaxConverged: true,
	}
	res := runController(t, NewConfig(), engine, testRequest(false))

	assert.True(t, res.Success)
	assert.True(t, res.Converged)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.Len(t, engine.hpCalls, 1)
	assert.InDelta(t, 5.3, res.Structure.Parameters[0].Value, 1e-12)
}

func TestRunConvergesWhenBothTolerancesMet(t *testing.T) {
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			params(5.5, 0.60), // far from the 5.0/0.5 input
			params(5.52, 0.605),
		},
		relaxConverged: true,
	}
	cfg := NewConfig(WithMetaConvergence(true), WithTolerances(0.1, 0.01))
	res := runController(t, cfg, engine, testRequest(false))

	assert.True(t, res.Success)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, engine.hpCalls, 2)
}

func TestRunNotConvergedWhenOnlyOneToleranceMet(t *testing.T) {
	// dU = 0.02 passes, dV = 0.05 keeps failing.
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			params(5.02, 0.55),
			params(5.00, 0.50),
			params(5.02, 0.55),
		},
		relaxConverged: true,
	}
	cfg := NewConfig(WithMetaConvergence(true), WithTolerances(0.1, 0.01), WithMaxIterations(3))
	res := runController(t, cfg, engine, testRequest(false))

	assert.False(t, res.Success)
	assert.False(t, res.Converged)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, res.Iterations)
	assert.Contains(t, res.Error, "did not converge")
}

func TestRunTerminatesAtIterationBudget(t *testing.T) {
	// Parameters oscillate and never settle.
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			params(6.0, 0.7),
			params(5.0, 0.5),
			params(6.0, 0.7),
			params(5.0, 0.5),
		},
		relaxConverged: true,
	}
	cfg := NewConfig(WithMetaConvergence(true), WithMaxIterations(4))
	res := runController(t, cfg, engine, testRequest(false))

	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Iterations)
	assert.Len(t, engine.hpCalls, 4)
}

func TestRunWithoutRelaxNeverDispatchesRelaxation(t *testing.T) {
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams:  [][]hubbard.Parameter{params(5.0, 0.5)},
	}
	cfg := NewConfig(WithMetaConvergence(true), WithMaxIterations(3))
	res := runController(t, cfg, engine, testRequest(false))

	assert.Empty(t, engine.relaxCalls)
	assert.NotEmpty(t, engine.scfCalls)
	_ = res
}

func TestRunMetalSkipsFixedOccupations(t *testing.T) {
	engine := &fakeEngine{
		scfResult:      metalBands,
		hpParams:       [][]hubbard.Parameter{params(5.0, 0.5)},
		relaxConverged: true,
	}
	res := runController(t, NewConfig(), engine, testRequest(false))

	// One smeared scf per iteration, never a fixed one.
	require.Len(t, engine.scfCalls, 1)
	assert.Equal(t, scheduler.OccupationsSmearing, engine.scfCalls[0].Occupations)
	assert.Equal(t, ClassMetal, res.Verdict.Class)
}

func TestRunInsulatorRunsFixedOccupationsRestart(t *testing.T) {
	engine := &fakeEngine{
		scfResult: insulatorBands,
		hpParams:  [][]hubbard.Parameter{params(5.0, 0.5)},
	}
	res := runController(t, NewConfig(), engine, testRequest(false))

	require.Len(t, engine.scfCalls, 2)
	smearing, fixed := engine.scfCalls[0], engine.scfCalls[1]

	assert.Equal(t, scheduler.OccupationsSmearing, smearing.Occupations)
	assert.InDelta(t, 1e-10, smearing.ConvThreshold, 1e-25)

	assert.Equal(t, scheduler.OccupationsFixed, fixed.Occupations)
	assert.InDelta(t, 1e-15, fixed.ConvThreshold, 1e-30)
	assert.Equal(t, 2, fixed.NumBands)
	assert.Equal(t, "scf-1", fixed.RestartDir)
	assert.Empty(t, fixed.SmearingMethod)

	// The perturbation restarts from the fixed run.
	require.Len(t, engine.hpCalls, 1)
	assert.Equal(t, "scf-2", engine.hpCalls[0].RestartDir)
	assert.Equal(t, ClassInsulator, res.Verdict.Class)
	assert.InDelta(t, 1.8, res.Verdict.BandGap, 1e-9)
}

func TestRunMagneticInsulatorPinsTotalMagnetization(t *testing.T) {
	scf := insulatorBands
	scf.TotalMagnetization = 2.9
	engine := &fakeEngine{
		scfResult: scf,
		hpParams:  [][]hubbard.Parameter{params(5.0, 0.5)},
	}
	req := testRequest(false)
	req.Structure.Moments = map[string]float64{"Co": 0.5}

	res := runController(t, NewConfig(), engine, req)
	require.True(t, res.Success)

	require.Len(t, engine.scfCalls, 2)
	fixed := engine.scfCalls[1]
	require.NotNil(t, fixed.TotalMagnetization)
	assert.InDelta(t, 3.0, *fixed.TotalMagnetization, 1e-12)
}

func TestRunNonIntegerMagnetizationFails(t *testing.T) {
	scf := insulatorBands
	scf.TotalMagnetization = 2.5
	engine := &fakeEngine{
		scfResult: scf,
		hpParams:  [][]hubbard.Parameter{params(5.0, 0.5)},
	}
	req := testRequest(false)
	req.Structure.Moments = map[string]float64{"Co": 0.5}

	res := runController(t, NewConfig(), engine, req)

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "magnetization")
	assert.Empty(t, engine.hpCalls)
}

func TestRunDowngradesProjectorForRelaxation(t *testing.T) {
	engine := &fakeEngine{
		scfResult:      metalBands,
		hpParams:       [][]hubbard.Parameter{params(5.0, 0.5)},
		relaxConverged: true,
	}
	req := testRequest(true)
	req.Relax.Projector = scheduler.ProjectorOrthoAtomic

	runController(t, NewConfig(), engine, req)

	require.Len(t, engine.relaxCalls, 1)
	assert.Equal(t, scheduler.ProjectorAtomic, engine.relaxCalls[0].Projector)
	// The caller's template keeps its requested projector.
	assert.Equal(t, scheduler.ProjectorOrthoAtomic, req.Relax.Projector)
}

func TestRunBaseTemplatesAreNeverMutated(t *testing.T) {
	engine := &fakeEngine{
		scfResult:      insulatorBands,
		hpParams:       [][]hubbard.Parameter{params(5.3, 0.6), params(5.31, 0.601)},
		relaxConverged: true,
	}
	req := testRequest(true)
	reqSCF := *req.SCF
	reqHP := *req.HP
	reqRelax := *req.Relax
	originalParams := append([]hubbard.Parameter(nil), req.Structure.Parameters...)

	cfg := NewConfig(WithMetaConvergence(true))
	res := runController(t, cfg, engine, req)
	require.True(t, res.Success)

	assert.Equal(t, reqSCF, *req.SCF)
	assert.Equal(t, reqHP, *req.HP)
	assert.Equal(t, reqRelax, *req.Relax)
	assert.Equal(t, originalParams, req.Structure.Parameters)
}

func TestRunRelaxAbsorbedWhenWithinThreshold(t *testing.T) {
	engine := &fakeEngine{
		scfResult:            metalBands,
		hpParams:             [][]hubbard.Parameter{params(5.0, 0.5)},
		relaxConverged:       false,
		relaxWithinThreshold: true,
	}
	res := runController(t, NewConfig(), engine, testRequest(true))
	assert.True(t, res.Success)
}

func TestRunRelaxFailureIsFatal(t *testing.T) {
	engine := &fakeEngine{
		scfResult:            metalBands,
		hpParams:             [][]hubbard.Parameter{params(5.0, 0.5)},
		relaxConverged:       false,
		relaxWithinThreshold: false,
	}
	res := runController(t, NewConfig(), engine, testRequest(true))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "relaxation")
	assert.Empty(t, engine.scfCalls)
}

func TestRunSkipRelaxIterations(t *testing.T) {
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			params(5.0, 0.5),
			params(6.0, 0.7),
			params(6.0, 0.7),
		},
		relaxConverged: true,
	}
	cfg := NewConfig(
		WithMetaConvergence(true),
		WithSkipRelaxIterations(1),
		WithMaxIterations(3),
	)
	res := runController(t, cfg, engine, testRequest(true))

	// Iteration 1 skips both the relaxation and the convergence check,
	// so convergence happens earliest between iterations 2 and 3.
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, engine.relaxCalls, 2)
}

func TestRunRelaxFrequency(t *testing.T) {
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			params(6.0, 0.7),
			params(5.0, 0.5),
			params(6.0, 0.7),
			params(5.0, 0.5),
		},
		relaxConverged: true,
	}
	cfg := NewConfig(
		WithMetaConvergence(true),
		WithRelaxFrequency(2),
		WithMaxIterations(4),
	)
	runController(t, cfg, engine, testRequest(true))

	// Only iterations 2 and 4 relax.
	assert.Len(t, engine.relaxCalls, 2)
}

func TestRunCleansIterationWorkdirs(t *testing.T) {
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams:  [][]hubbard.Parameter{params(5.0, 0.5)},
	}
	runController(t, NewConfig(WithCleanWorkdir(true)), engine, testRequest(false))

	assert.Contains(t, engine.cleaned, "scf-1")
	assert.Contains(t, engine.cleaned, "hp-1")
}

func TestRunRelabelsOnsiteOnlyStructure(t *testing.T) {
	req := testRequest(false)
	req.Structure.Parameters = []hubbard.Parameter{
		{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: 5.0},
	}
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			{{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: 5.3}},
		},
		hpRelabels: []hubbard.Relabel{{Site: 0, NewKind: "Co1"}},
	}
	res := runController(t, NewConfig(), engine, req)

	require.True(t, res.Success)
	assert.Equal(t, "Co1", res.Structure.Sites[0].Kind)
}

func TestRunInvalidRequests(t *testing.T) {
	ctrl := NewController(nil, &fakeEngine{}, nil, nil)

	_, err := ctrl.Run(nil, testRequest(false)) //nolint:staticcheck
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = ctrl.Run(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrNilStructure)

	req := testRequest(false)
	req.Structure.Parameters = nil
	_, err = ctrl.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoHubbardParameters)

	req = testRequest(false)
	req.HP = nil
	_, err = ctrl.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingStageSpec)
}

func TestRunTotalTimeout(t *testing.T) {
	engine := &fakeEngine{
		scfResult: metalBands,
		hpParams: [][]hubbard.Parameter{
			params(5.0, 0.5),
			params(6.0, 0.7),
		},
	}
	cfg := NewConfig(WithMetaConvergence(true), WithMaxIterations(1000))
	cfg.TotalTimeout = time.Nanosecond

	ctrl := NewController(cfg, engine, nil, nil)
	res, err := ctrl.Run(context.Background(), testRequest(false))

	assert.ErrorIs(t, err, ErrTotalTimeout)
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, res.State)
}
