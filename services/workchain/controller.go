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
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
	"github.com/AleutianAI/hubbardflow/services/history"
	"github.com/AleutianAI/hubbardflow/services/scheduler"
)

// workdirCleaner is implemented by engines that can remove a stage work
// directory once the iteration is done with it.
type workdirCleaner interface {
	Cleanup(dir string)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller orchestrates the self-consistent Hubbard cycle.
//
// Thread Safety: NOT safe for concurrent use. Each run should have its
// own Controller instance.
type Controller struct {
	config  *Config
	engine  scheduler.Engine
	store   *history.Store
	ctx     *Context
	logger  *slog.Logger
	running bool
}

// NewController creates a new cycle controller.
//
// Inputs:
//
//	cfg - Cycle configuration
//	engine - Engine for dispatching sub-calculations
//	store - Optional history store for run and iteration records
//	logger - Logger for structured logging
//
// Outputs:
//
//	*Controller - Configured controller
func NewController(cfg *Config, engine scheduler.Engine, store *history.Store, logger *slog.Logger) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	_ = cfg.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		config: cfg,
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// Run executes the full self-consistent cycle.
//
// Description:
//
//	Orchestrates the convergence state machine:
//	  1. Relax the structure at the current Hubbard values (optional)
//	  2. SCF with smeared occupations at a loose threshold
//	  3. Classify the ground state (insulator vs metal)
//	  4. SCF with fixed occupations, restarted, if insulating
//	  5. Linear-response run predicting new Hubbard parameters
//	  6. Convergence check against the previous iteration
//
//	The cycle repeats until the parameters are self-consistent or the
//	iteration budget runs out. The request's stage templates are never
//	mutated; every dispatch works on a deep copy.
//
// Inputs:
//
//	ctx - Context for cancellation
//	req - The run request
//
// Outputs:
//
//	*Result - Run result, set even on failure
//	error - Non-nil on unrecoverable failure
func (c *Controller) Run(ctx context.Context, req *Request) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.running {
		return nil, ErrAlreadyRunning
	}
	if c.engine == nil {
		return nil, ErrNilEngine
	}

	c.running = true
	defer func() { c.running = false }()

	runID := uuid.New().String()[:8]
	c.ctx = NewContext(runID, req)

	ctx, span := startRunSpan(ctx, runID)
	defer span.End()

	c.logger.Info("Starting self-consistent Hubbard run",
		slog.String("run_id", runID),
		slog.Int("sites", len(req.Structure.Sites)),
		slog.Int("parameters", len(req.Structure.Parameters)),
		slog.Bool("meta_convergence", c.config.MetaConvergence),
		slog.Int("max_iterations", c.config.MaxIterations),
	)

	ctx, cancel := context.WithTimeout(ctx, c.config.TotalTimeout)
	defer cancel()

	var err error
	for !c.ctx.State.IsTerminal() {
		select {
		case <-ctx.Done():
			c.ctx.State = StateFailed
			c.ctx.LastError = ErrTotalTimeout
			c.logger.Warn("Run timed out",
				slog.String("run_id", runID),
				slog.Duration("elapsed", c.ctx.Elapsed()),
			)
			setRunSpanResult(span, false, string(StateFailed), c.ctx.Iteration)
			recordRunMetrics(ctx, c.ctx.Elapsed(), false)
			c.persistRun()
			return c.buildResult(), ErrTotalTimeout
		default:
			if err = c.step(ctx); err != nil {
				c.logger.Error("Step failed",
					slog.String("state", string(c.ctx.State)),
					slog.String("error", err.Error()),
				)
				// Don't return immediately, let state machine handle it
			}
		}
	}

	result := c.buildResult()

	setRunSpanResult(span, result.Success, string(c.ctx.State), c.ctx.Iteration)
	recordRunMetrics(ctx, result.Duration, result.Success)
	c.persistRun()

	c.logger.Info("Self-consistent Hubbard run complete",
		slog.String("run_id", runID),
		slog.String("final_state", string(c.ctx.State)),
		slog.Bool("success", result.Success),
		slog.Bool("converged", result.Converged),
		slog.Int("iterations", result.Iterations),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// step executes one step of the convergence state machine.
func (c *Controller) step(ctx context.Context) error {
	from := c.ctx.State
	var err error

	switch c.ctx.State {
	case StateSetup:
		err = c.stepSetup()

	case StateRelax:
		err = c.stepRelax(ctx)

	case StateSCFSmearing:
		err = c.stepSCFSmearing(ctx)

	case StateRecon:
		err = c.stepRecon()

	case StateSCFFixed:
		err = c.stepSCFFixed(ctx)

	case StateHP:
		err = c.stepHP(ctx)

	case StateCheckConvergence:
		err = c.stepCheckConvergence()

	default:
		err = &StateTransitionError{From: from, To: c.ctx.State}
	}

	return err
}

// transition changes state with logging.
func (c *Controller) transition(to State) {
	from := c.ctx.State
	c.ctx.State = to

	recordStateTransition(context.Background(), string(from), string(to))

	c.logger.Info("Cycle state transition",
		slog.String("run_id", c.ctx.RunID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("iteration", c.ctx.Iteration),
		slog.Duration("elapsed", c.ctx.Elapsed()),
	)
}

// fail records the error and moves the machine to the terminal failed
// state.
func (c *Controller) fail(err error) error {
	c.ctx.LastError = err
	c.transition(StateFailed)
	return err
}

// =============================================================================
// ITERATION CONTROL
// =============================================================================

// shouldRunRelax decides whether this iteration relaxes the structure.
func (c *Controller) shouldRunRelax() bool {
	if c.ctx.Request.Relax == nil {
		return false
	}
	if c.ctx.Iteration <= c.config.SkipRelaxIterations {
		c.logger.Info("Skipping relaxation during initial iterations",
			slog.Int("iteration", c.ctx.Iteration),
			slog.Int("skip_relax_iterations", c.config.SkipRelaxIterations),
		)
		return false
	}
	if c.ctx.Iteration%c.config.RelaxFrequency != 0 {
		c.logger.Info("Skipping relaxation this iteration",
			slog.Int("iteration", c.ctx.Iteration),
			slog.Int("relax_frequency", c.config.RelaxFrequency),
		)
		return false
	}
	return true
}

// shouldCheckConvergence decides whether the parameters of this
// iteration take part in the convergence comparison.
func (c *Controller) shouldCheckConvergence() bool {
	if !c.config.MetaConvergence {
		return false
	}
	return c.ctx.Iteration > c.config.SkipRelaxIterations
}

// beginIteration advances the counter and enters the first stage of the
// next cycle.
func (c *Controller) beginIteration() {
	c.ctx.Iteration++
	c.ctx.Workdirs = nil
	recordIteration(context.Background())

	if c.shouldRunRelax() {
		c.transition(StateRelax)
	} else {
		c.transition(StateSCFSmearing)
	}
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

func (c *Controller) stepSetup() error {
	current := c.ctx.Request.Structure.Clone()

	if current.NeedsKindReorder() {
		c.logger.Info("Detected kinds in the wrong order, reordering",
			slog.String("run_id", c.ctx.RunID),
		)
		current = current.ReorderKinds()
	}
	c.ctx.Current = current

	c.ctx.Magnetic = len(current.Moments) > 0
	if c.ctx.Magnetic {
		c.logger.Info("System is treated as magnetic (starting moments present)")
	} else {
		c.logger.Info("System is treated as non-magnetic (no starting moments)")
	}

	c.persistRun()
	c.beginIteration()
	return nil
}

func (c *Controller) stepRelax(ctx context.Context) error {
	spec := c.ctx.Request.Relax.Clone()
	spec.Structure = c.ctx.Current

	// The relaxation executable aborts on the orthogonalised projector
	// during ionic moves, so a request for it is downgraded instead of
	// failing the run.
	if spec.Projector == scheduler.ProjectorOrthoAtomic {
		c.logger.Warn("Downgrading hubbard projector for relaxation stage",
			slog.String("requested", string(scheduler.ProjectorOrthoAtomic)),
			slog.String("substituted", string(scheduler.ProjectorAtomic)),
			slog.Int("iteration", c.ctx.Iteration),
		)
	}
	spec.Projector = scheduler.ProjectorAtomic

	res, err := c.engine.RunRelax(ctx, spec)
	if err != nil {
		return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateRelax, Cause: err})
	}

	if !res.IonicConverged {
		if !res.WithinThreshold {
			return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateRelax, Cause: ErrRelaxNotConverged})
		}
		// Residual forces are acceptable; treat the structure as relaxed.
		c.logger.Warn("Relaxation stopped before full convergence, residual forces within tolerance",
			slog.Int("iteration", c.ctx.Iteration),
		)
	}

	c.ctx.Current = res.Structure
	c.addWorkdir(res.Workdir)
	c.transition(StateSCFSmearing)
	return nil
}

func (c *Controller) stepSCFSmearing(ctx context.Context) error {
	spec := c.ctx.Request.SCF.Clone()
	spec.Structure = c.ctx.Current
	spec.Occupations = scheduler.OccupationsSmearing
	if spec.SmearingMethod == "" {
		spec.SmearingMethod = c.config.SmearingMethod
	}
	if spec.Degauss == 0 {
		spec.Degauss = c.config.SmearingDegauss
	}
	if spec.ConvThreshold == 0 {
		spec.ConvThreshold = c.config.ConvThrPreconverge
	}
	if spec.Projector == "" {
		spec.Projector = scheduler.ProjectorOrthoAtomic
	}

	res, err := c.engine.RunSCF(ctx, spec)
	if err != nil {
		return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateSCFSmearing, Cause: err})
	}

	c.ctx.LastSCF = res
	c.addWorkdir(res.Workdir)
	c.transition(StateRecon)
	return nil
}

func (c *Controller) stepRecon() error {
	res := c.ctx.LastSCF

	// The predicted Fermi energy of a smeared run carries uncertainty,
	// so both classification variants are tried; an insulating verdict
	// from either pins the occupations, since the perturbation is likely
	// to crash on a wrongly smeared insulator.
	insulator1, gap1, err := hubbard.FindBandGap(res.Bands, res.FermiEnergy, c.config.GapThreshold)
	if err != nil {
		return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateRecon, Cause: err})
	}
	insulator2, gap2, err := hubbard.FindBandGapFromElectrons(res.Bands, res.NumElectrons, c.config.GapThreshold)
	if err != nil {
		insulator2, gap2 = false, 0
	}

	verdict := Verdict{Class: ClassMetal}
	if insulator1 || insulator2 {
		verdict.Class = ClassInsulator
		verdict.BandGap = math.Max(gap1, gap2)
	}
	c.ctx.Verdict = verdict

	c.logger.Info("Ground state classified",
		slog.String("class", string(verdict.Class)),
		slog.Float64("band_gap_ev", verdict.BandGap),
		slog.Float64("total_magnetization", res.TotalMagnetization),
		slog.Int("iteration", c.ctx.Iteration),
	)

	switch verdict.Class {
	case ClassInsulator:
		c.transition(StateSCFFixed)
	default:
		c.transition(StateHP)
	}
	return nil
}

func (c *Controller) stepSCFFixed(ctx context.Context) error {
	prev := c.ctx.LastSCF

	spec := c.ctx.Request.SCF.Clone()
	spec.Structure = c.ctx.Current
	spec.Occupations = scheduler.OccupationsFixed
	spec.SmearingMethod = ""
	spec.Degauss = 0
	spec.NumBands = prev.NumBands
	if spec.ConvThreshold == 0 {
		spec.ConvThreshold = c.config.ConvThrStrictFinal
	}
	if spec.Projector == "" {
		spec.Projector = scheduler.ProjectorOrthoAtomic
	}
	spec.RestartDir = prev.Workdir

	if c.ctx.Magnetic {
		// Fixed occupations require an integer total magnetization; a
		// smeared value too far from one cannot be pinned honestly.
		rounded := math.Round(prev.TotalMagnetization)
		if math.Abs(prev.TotalMagnetization-rounded) > c.config.MagnetizationThreshold {
			return c.fail(&IterationError{
				Iteration: c.ctx.Iteration,
				State:     StateSCFFixed,
				Cause:     ErrNonIntegerMagnetization,
			})
		}
		spec.TotalMagnetization = &rounded
		c.logger.Info("Pinning bands and total magnetization for fixed-occupation restart",
			slog.Int("num_bands", prev.NumBands),
			slog.Float64("total_magnetization", rounded),
		)
	}

	res, err := c.engine.RunSCF(ctx, spec)
	if err != nil {
		return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateSCFFixed, Cause: err})
	}

	c.ctx.LastSCF = res
	c.addWorkdir(res.Workdir)
	c.transition(StateHP)
	return nil
}

func (c *Controller) stepHP(ctx context.Context) error {
	spec := c.ctx.Request.HP.Clone()
	spec.Structure = c.ctx.Current
	spec.RestartDir = c.ctx.LastSCF.Workdir

	if c.config.RadialAnalysisRadius > 0 {
		spec.NumNeighbours = c.ctx.Current.MaxNeighbours(c.config.RadialAnalysisRadius)
		c.logger.Info("Bounding intersite couplings by neighbour analysis",
			slog.Float64("radius_angstrom", c.config.RadialAnalysisRadius),
			slog.Int("num_neighbours", spec.NumNeighbours),
		)
	}

	res, err := c.engine.RunHP(ctx, spec)
	if err != nil {
		return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateHP, Cause: err})
	}

	c.ctx.Previous = c.ctx.Current
	updated := res.Structure

	// Relabelling only applies to onsite-only runs; with intersite
	// couplings in play the site identity is fixed by the coupling list.
	if _, intersite := hubbard.SplitParameters(updated.Parameters); len(intersite) == 0 && len(res.Relabels) > 0 {
		relabelled, err := updated.RelabelKinds(res.Relabels)
		if err != nil {
			return c.fail(&IterationError{Iteration: c.ctx.Iteration, State: StateHP, Cause: err})
		}
		updated = relabelled
		c.logger.Info("New types detected, relabelling the structure",
			slog.Int("relabelled_sites", len(res.Relabels)),
			slog.Int("iteration", c.ctx.Iteration),
		)
	}

	c.ctx.Current = updated
	c.addWorkdir(res.Workdir)
	c.transition(StateCheckConvergence)
	return nil
}

func (c *Controller) stepCheckConvergence() error {
	var report ConvergenceReport

	if c.shouldCheckConvergence() {
		report = CheckConvergence(
			c.ctx.Previous.Parameters,
			c.ctx.Current.Parameters,
			c.config.ToleranceOnsite,
			c.config.ToleranceIntersite,
		)
		switch {
		case !report.Comparable:
			c.logger.Info("Parameter sets have different lengths, assuming first cycle",
				slog.Int("iteration", c.ctx.Iteration),
			)
		case report.Converged:
			c.ctx.Converged = true
			c.logger.Info("Hubbard parameters are converged, stopping the cycle",
				slog.Float64("max_delta_onsite", report.MaxDeltaOnsite),
				slog.Float64("max_delta_intersite", report.MaxDeltaIntersite),
				slog.Int("iteration", c.ctx.Iteration),
			)
		default:
			c.logger.Info("Hubbard parameters not yet converged",
				slog.Float64("max_delta_onsite", report.MaxDeltaOnsite),
				slog.Float64("max_delta_intersite", report.MaxDeltaIntersite),
				slog.Int("iteration", c.ctx.Iteration),
			)
		}
	} else if !c.config.MetaConvergence {
		c.logger.Info("Meta convergence is switched off, accepting the first parameters")
		c.ctx.Converged = true
	} else {
		c.logger.Info("Skipping convergence check during initial iterations",
			slog.Int("iteration", c.ctx.Iteration),
			slog.Int("skip_relax_iterations", c.config.SkipRelaxIterations),
		)
	}

	c.persistIteration(report)
	c.cleanupIteration()

	switch {
	case c.ctx.Converged:
		c.transition(StateDone)
	case c.ctx.Iteration >= c.config.MaxIterations:
		c.ctx.LastError = ErrConvergenceNotReached
		c.logger.Warn("Iteration budget exhausted without convergence",
			slog.Int("iterations", c.ctx.Iteration),
		)
		c.transition(StateFailed)
	default:
		c.beginIteration()
	}
	return nil
}

// =============================================================================
// PERSISTENCE & CLEANUP
// =============================================================================

func (c *Controller) addWorkdir(dir string) {
	if dir != "" {
		c.ctx.Workdirs = append(c.ctx.Workdirs, dir)
	}
}

// cleanupIteration removes the stage work directories of the finished
// iteration when the engine supports it.
func (c *Controller) cleanupIteration() {
	if !c.config.CleanWorkdir {
		return
	}
	cleaner, ok := c.engine.(workdirCleaner)
	if !ok {
		return
	}
	for _, dir := range c.ctx.Workdirs {
		cleaner.Cleanup(dir)
	}
	c.logger.Debug("Cleaned iteration work directories",
		slog.Int("count", len(c.ctx.Workdirs)),
		slog.Int("iteration", c.ctx.Iteration),
	)
	c.ctx.Workdirs = nil
}

func (c *Controller) persistRun() {
	if c.store == nil {
		return
	}
	rec := &history.RunRecord{
		ID:         c.ctx.RunID,
		State:      string(c.ctx.State),
		Iterations: c.ctx.Iteration,
		Converged:  c.ctx.Converged,
		CreatedAt:  time.UnixMilli(c.ctx.StartTime).UTC(),
	}
	if c.ctx.LastError != nil {
		rec.Error = c.ctx.LastError.Error()
	}
	if err := c.store.PutRun(rec); err != nil {
		c.logger.Warn("Failed to persist run record",
			slog.String("run_id", c.ctx.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) persistIteration(report ConvergenceReport) {
	if c.store == nil {
		return
	}
	rec := &history.IterationRecord{
		RunID:             c.ctx.RunID,
		Index:             c.ctx.Iteration,
		ElectronicClass:   string(c.ctx.Verdict.Class),
		Magnetic:          c.ctx.Magnetic,
		BandGap:           c.ctx.Verdict.BandGap,
		MaxDeltaOnsite:    report.MaxDeltaOnsite,
		MaxDeltaIntersite: report.MaxDeltaIntersite,
		Parameters:        append([]hubbard.Parameter(nil), c.ctx.Current.Parameters...),
	}
	if err := c.store.PutIteration(rec); err != nil {
		c.logger.Warn("Failed to persist iteration record",
			slog.String("run_id", c.ctx.RunID),
			slog.Int("iteration", c.ctx.Iteration),
			slog.String("error", err.Error()),
		)
	}
}

// =============================================================================
// RESULT BUILDING
// =============================================================================

func (c *Controller) buildResult() *Result {
	result := &Result{
		Success:    c.ctx.State == StateDone,
		State:      c.ctx.State,
		Structure:  c.ctx.Current,
		Iterations: c.ctx.Iteration,
		Converged:  c.ctx.Converged,
		Verdict:    c.ctx.Verdict,
		Duration:   c.ctx.Elapsed(),
	}

	if c.ctx.LastError != nil {
		result.Error = c.ctx.LastError.Error()
	}

	return result
}

// GetContext returns the current run context (for inspection/debugging).
func (c *Controller) GetContext() *Context {
	return c.ctx
}

// IsRunning returns true if the controller is currently running.
func (c *Controller) IsRunning() bool {
	return c.running
}
