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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
)

func TestCheckConvergence(t *testing.T) {
	tests := []struct {
		name          string
		old           []hubbard.Parameter
		new           []hubbard.Parameter
		wantConverged bool
		wantCompar    bool
	}{
		{
			name:          "both within tolerance",
			old:           params(5.00, 0.500),
			new:           params(5.05, 0.505),
			wantConverged: true,
			wantCompar:    true,
		},
		{
			name:          "onsite breaches",
			old:           params(5.0, 0.500),
			new:           params(5.2, 0.505),
			wantConverged: false,
			wantCompar:    true,
		},
		{
			name:          "intersite breaches",
			old:           params(5.00, 0.50),
			new:           params(5.05, 0.52),
			wantConverged: false,
			wantCompar:    true,
		},
		{
			name:          "different lengths",
			old:           params(5.0, 0.5)[:1],
			new:           params(5.0, 0.5),
			wantConverged: false,
			wantCompar:    false,
		},
		{
			name:          "empty sets",
			old:           nil,
			new:           nil,
			wantConverged: false,
			wantCompar:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CheckConvergence(tt.old, tt.new, 0.1, 0.01)
			assert.Equal(t, tt.wantConverged, report.Converged)
			assert.Equal(t, tt.wantCompar, report.Comparable)
		})
	}
}

func TestCheckConvergenceReportsDeltas(t *testing.T) {
	report := CheckConvergence(params(5.0, 0.50), params(5.3, 0.52), 0.1, 0.01)
	assert.InDelta(t, 0.3, report.MaxDeltaOnsite, 1e-12)
	assert.InDelta(t, 0.02, report.MaxDeltaIntersite, 1e-12)
}

func TestCheckConvergenceOnsiteOnly(t *testing.T) {
	old := []hubbard.Parameter{{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: 5.0}}
	new := []hubbard.Parameter{{AtomI: 0, AtomJ: 0, ManifoldI: "3d", ManifoldJ: "3d", Value: 5.05}}

	report := CheckConvergence(old, new, 0.1, 0.01)
	assert.True(t, report.Converged)
	assert.Zero(t, report.MaxDeltaIntersite)
}
