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
	"errors"
	"math"
	"testing"
)

func TestFindBandGap(t *testing.T) {
	insulator := [][]float64{
		{-2.0, -1.0, 1.0, 2.0},
		{-2.1, -0.9, 1.1, 1.9},
	}
	metal := [][]float64{
		{-2.0, -0.5, 0.5, 2.0},
		{-2.0, 0.2, 0.8, 2.0}, // band crosses the Fermi level
	}

	t.Run("insulator", func(t *testing.T) {
		ins, gap, err := FindBandGap(insulator, 0.0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !ins {
			t.Fatal("expected insulating")
		}
		// vbm = -0.9, cbm = 1.0
		if math.Abs(gap-1.9) > 1e-12 {
			t.Errorf("gap = %v, want 1.9", gap)
		}
	})

	t.Run("metal", func(t *testing.T) {
		ins, gap, err := FindBandGap(metal, 0.0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if ins || gap != 0 {
			t.Errorf("got insulating=%v gap=%v, want metallic", ins, gap)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := FindBandGap(nil, 0.0, 0)
		if !errors.Is(err, ErrNoBands) {
			t.Errorf("err = %v, want ErrNoBands", err)
		}
	})
}

func TestFindBandGapFromElectrons(t *testing.T) {
	bands := [][]float64{
		{-2.0, -1.0, 1.0, 2.0},
		{-2.1, -0.9, 1.1, 1.9},
	}

	t.Run("four electrons insulating", func(t *testing.T) {
		ins, gap, err := FindBandGapFromElectrons(bands, 4, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !ins {
			t.Fatal("expected insulating")
		}
		if math.Abs(gap-1.9) > 1e-12 {
			t.Errorf("gap = %v, want 1.9", gap)
		}
	})

	t.Run("odd electron count is metallic", func(t *testing.T) {
		ins, _, err := FindBandGapFromElectrons(bands, 3, 0)
		if err != nil {
			t.Fatal(err)
		}
		if ins {
			t.Error("odd filling should be metallic")
		}
	})

	t.Run("whole float count is filled exactly", func(t *testing.T) {
		ins, gap, err := FindBandGapFromElectrons(bands, 4.0000001, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !ins {
			t.Fatal("expected insulating")
		}
		if math.Abs(gap-1.9) > 1e-12 {
			t.Errorf("gap = %v, want 1.9", gap)
		}
	})

	t.Run("fractional count is metallic", func(t *testing.T) {
		ins, _, err := FindBandGapFromElectrons(bands, 3.5, 0)
		if err != nil {
			t.Fatal(err)
		}
		if ins {
			t.Error("partial filling should be metallic")
		}
	})

	t.Run("not enough bands", func(t *testing.T) {
		_, _, err := FindBandGapFromElectrons(bands, 8, 0)
		if !errors.Is(err, ErrNoBands) {
			t.Errorf("err = %v, want ErrNoBands", err)
		}
	})
}
