// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hubbardflow/services/scheduler"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"fast", "moderate", "precise"}, Names())
}

func TestLoadDefault(t *testing.T) {
	preset, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, preset.Name)
	assert.Equal(t, [3]int{4, 4, 4}, preset.KPoints)
}

func TestLoadUnknown(t *testing.T) {
	_, err := Load("ludicrous")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestLoadDoesNotAliasBuiltin(t *testing.T) {
	preset, err := Load("fast")
	require.NoError(t, err)
	preset.MaxIterations = 99

	again, err := Load("fast")
	require.NoError(t, err)
	assert.Equal(t, 5, again.MaxIterations)
}

func TestOverridesAreRespectedVerbatim(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		check     func(t *testing.T, p *Preset)
	}{
		{
			name:      "tolerance_onsite",
			overrides: map[string]any{"tolerance_onsite": 1.0},
			check: func(t *testing.T, p *Preset) {
				assert.InDelta(t, 1.0, p.ToleranceOnsite, 1e-12)
			},
		},
		{
			name:      "max_iterations",
			overrides: map[string]any{"max_iterations": 1},
			check: func(t *testing.T, p *Preset) {
				assert.Equal(t, 1, p.MaxIterations)
			},
		},
		{
			name:      "meta_convergence off",
			overrides: map[string]any{"meta_convergence": false},
			check: func(t *testing.T, p *Preset) {
				assert.False(t, p.MetaConvergence)
			},
		},
		{
			name:      "clean_workdir off",
			overrides: map[string]any{"clean_workdir": false},
			check: func(t *testing.T, p *Preset) {
				assert.False(t, p.CleanWorkdir)
			},
		},
		{
			name:      "kpoints",
			overrides: map[string]any{"kpoints": []int{8, 8, 4}},
			check: func(t *testing.T, p *Preset) {
				assert.Equal(t, [3]int{8, 8, 4}, p.KPoints)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preset, err := LoadWithOverrides("moderate", tt.overrides)
			require.NoError(t, err)
			tt.check(t, preset)

			// Untouched fields keep the preset values.
			assert.Equal(t, "moderate", preset.Name)
		})
	}
}

func TestConfigDerivation(t *testing.T) {
	preset, err := Load("precise")
	require.NoError(t, err)

	cfg := preset.Config()
	assert.InDelta(t, 0.05, cfg.ToleranceOnsite, 1e-12)
	assert.InDelta(t, 0.005, cfg.ToleranceIntersite, 1e-12)
	assert.Equal(t, 15, cfg.MaxIterations)
	assert.True(t, cfg.MetaConvergence)
}

func TestStageSpecsDerivation(t *testing.T) {
	preset, err := Load("moderate")
	require.NoError(t, err)

	relax, scf, hp := preset.StageSpecs()
	assert.Equal(t, scheduler.ProjectorAtomic, relax.Projector)
	assert.Equal(t, scheduler.ProjectorOrthoAtomic, scf.Projector)
	assert.Equal(t, [3]int{4, 4, 4}, scf.KPoints)
	assert.Equal(t, [3]int{2, 2, 2}, hp.KPoints)
	assert.InDelta(t, 1e-10, scf.ConvThreshold, 1e-25)
	assert.InDelta(t, 1e-6, hp.ConvThreshold, 1e-20)
}

func TestDescribe(t *testing.T) {
	descriptions := Describe()
	require.Len(t, descriptions, 3)
	for name, desc := range descriptions {
		assert.NotEmpty(t, desc, "description missing for %s", name)
	}
}
