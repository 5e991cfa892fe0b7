// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workchain implements the self-consistent Hubbard convergence
// cycle.
//
// The cycle is a state machine that alternates ionic relaxation, ground
// state calculations and linear-response perturbations until the
// predicted Hubbard U/V parameters stop changing between iterations.
// Each iteration adapts the ground-state strategy to what the previous
// one revealed: metals keep smeared occupations, insulators get a
// fixed-occupation restart at a tighter threshold, and magnetic
// insulators additionally pin their band count and total magnetization.
//
// The package owns only the decision logic. Dispatching the actual
// calculations is delegated to a scheduler.Engine, and the per-iteration
// audit trail goes to an optional history.Store.
package workchain
