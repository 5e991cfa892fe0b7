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
	"time"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
	"github.com/AleutianAI/hubbardflow/services/scheduler"
)

// =============================================================================
// STATE
// =============================================================================

// State represents a state in the self-consistent convergence loop.
type State string

const (
	// StateSetup is the initial state before the cycle starts.
	StateSetup State = "setup"

	// StateRelax runs the ionic relaxation at the current Hubbard values.
	StateRelax State = "relax"

	// StateSCFSmearing runs the smeared-occupation ground state. Always
	// runs, since the electronic class is not known a priori.
	StateSCFSmearing State = "scf_smearing"

	// StateRecon classifies the system as insulating or metallic and
	// decides whether a fixed-occupation restart is needed.
	StateRecon State = "recon"

	// StateSCFFixed reruns the ground state with fixed occupations,
	// restarting from the smeared calculation.
	StateSCFFixed State = "scf_fixed"

	// StateHP runs the linear-response perturbation that predicts the
	// new Hubbard parameters.
	StateHP State = "hp"

	// StateCheckConvergence compares the new parameters against the
	// previous iteration and decides whether to loop.
	StateCheckConvergence State = "check_convergence"

	// StateDone indicates successful completion.
	StateDone State = "done"

	// StateFailed indicates the cycle failed (sub-process crash,
	// iteration budget exhausted, inconsistent configuration).
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is terminal (done or failed).
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// IsActive returns true if the state allows continued execution.
func (s State) IsActive() bool {
	switch s {
	case StateRelax, StateSCFSmearing, StateRecon,
		StateSCFFixed, StateHP, StateCheckConvergence:
		return true
	default:
		return false
	}
}

// AllStates returns all valid loop states.
func AllStates() []State {
	return []State{
		StateSetup,
		StateRelax,
		StateSCFSmearing,
		StateRecon,
		StateSCFFixed,
		StateHP,
		StateCheckConvergence,
		StateDone,
		StateFailed,
	}
}

// =============================================================================
// ELECTRONIC CLASS
// =============================================================================

// ElectronicClass is the reconnaissance verdict on the current ground
// state.
type ElectronicClass string

const (
	// ClassUnknown means no reconnaissance has run yet.
	ClassUnknown ElectronicClass = "unknown"

	// ClassInsulator means a finite band gap was resolved.
	ClassInsulator ElectronicClass = "insulator"

	// ClassMetal means at least one band crosses the Fermi level.
	ClassMetal ElectronicClass = "metal"
)

// Verdict is the outcome of the reconnaissance step.
type Verdict struct {
	// Class is the electronic classification.
	Class ElectronicClass `json:"class"`

	// BandGap is the resolved gap in eV (0 for metals).
	BandGap float64 `json:"band_gap"`
}

// =============================================================================
// REQUEST & RESULT
// =============================================================================

// Request contains the input for a self-consistent run.
//
// The stage specs are templates: the controller deep-copies them for
// every dispatch and amends only the copy, so the caller's specs are
// bit-for-bit unchanged after the run.
type Request struct {
	// Structure is the initial Hubbard structure. Its parameters mark
	// which atoms the linear-response run perturbs.
	Structure *hubbard.Structure

	// Relax is the relaxation stage template. Nil disables relaxation
	// for the whole run.
	Relax *scheduler.StageSpec

	// SCF is the ground-state stage template.
	SCF *scheduler.StageSpec

	// HP is the linear-response stage template.
	HP *scheduler.StageSpec
}

// Validate checks that the request has required fields.
func (r *Request) Validate() error {
	if r.Structure == nil {
		return ErrNilStructure
	}
	if err := r.Structure.Validate(); err != nil {
		return err
	}
	if len(r.Structure.Parameters) == 0 {
		return ErrNoHubbardParameters
	}
	if r.SCF == nil || r.HP == nil {
		return ErrMissingStageSpec
	}
	return nil
}

// Result contains the outcome of a self-consistent run.
type Result struct {
	// Success indicates the parameters reached self-consistency (or the
	// single requested iteration completed when meta convergence is off).
	Success bool `json:"success"`

	// State is the final loop state.
	State State `json:"final_state"`

	// Structure is the final Hubbard structure. Set even on
	// non-convergence, carrying the last predicted parameters.
	Structure *hubbard.Structure `json:"-"`

	// Iterations is the number of completed iterations.
	Iterations int `json:"iterations"`

	// Converged reports whether the convergence criterion was met.
	Converged bool `json:"converged"`

	// Verdict is the last reconnaissance classification.
	Verdict Verdict `json:"verdict"`

	// Error contains the failure message if the run failed.
	Error string `json:"error,omitempty"`

	// Duration is how long the run took.
	Duration time.Duration `json:"duration"`
}

// =============================================================================
// CONTEXT
// =============================================================================

// Context holds the working state of one run.
//
// This is the internal loop state, not to be confused with
// context.Context.
type Context struct {
	// RunID uniquely identifies this run.
	RunID string

	// State is the current loop state.
	State State

	// Request is the original request.
	Request *Request

	// Iteration is the one-based iteration counter.
	Iteration int

	// Current is the working Hubbard structure.
	Current *hubbard.Structure

	// Previous holds the structure before the last linear-response
	// update, retained for the convergence comparison.
	Previous *hubbard.Structure

	// Magnetic reports whether the run is spin-polarised, decided once
	// during setup from the structure's starting moments.
	Magnetic bool

	// Verdict is the reconnaissance classification of this iteration.
	Verdict Verdict

	// LastSCF is the most recent ground-state result, used for restarts
	// and for pinning bands and magnetization.
	LastSCF *scheduler.SCFResult

	// Converged reports whether self-consistency has been reached.
	Converged bool

	// Workdirs collects the stage directories of the current iteration
	// for end-of-iteration cleanup.
	Workdirs []string

	// LastError is the last error encountered.
	LastError error

	// StartTime is when the run started (Unix milliseconds UTC).
	StartTime int64
}

// NewContext creates a run context for a request.
func NewContext(runID string, req *Request) *Context {
	return &Context{
		RunID:     runID,
		State:     StateSetup,
		Request:   req,
		Verdict:   Verdict{Class: ClassUnknown},
		StartTime: time.Now().UnixMilli(),
	}
}

// Elapsed returns the time since the run started.
func (c *Context) Elapsed() time.Duration {
	return time.Duration(time.Now().UnixMilli()-c.StartTime) * time.Millisecond
}
