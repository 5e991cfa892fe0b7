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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// defaultSubmitTimeout bounds the submission command itself, not the
// job it enqueues.
const defaultSubmitTimeout = 2 * time.Minute

// =============================================================================
// DETACHED ENGINE
// =============================================================================

// DetachedEngine submits sub-calculations through a batch submission
// command and waits for the completion sentinel instead of holding a
// child process open.
//
// Description:
//
//	The submit command receives the work directory and the stage input
//	deck as arguments. It is expected to enqueue a job that runs the
//	calculation in that directory, writes the result document and
//	finally touches the DONE sentinel. Completion is observed by a
//	CompletionWatcher.
//
// Thread Safety: safe for concurrent use.
type DetachedEngine struct {
	cfg     *Config
	submit  string
	watcher *CompletionWatcher
	logger  *slog.Logger
}

// NewDetachedEngine creates an engine that defers execution to a batch
// submission command such as sbatch.
func NewDetachedEngine(cfg *Config, submitCommand string, logger *slog.Logger) (*DetachedEngine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if submitCommand == "" {
		return nil, fmt.Errorf("%w: submit command", ErrNilSpec)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DetachedEngine{
		cfg:     cfg,
		submit:  submitCommand,
		watcher: NewCompletionWatcher(logger),
		logger:  logger,
	}, nil
}

// RunRelax implements Engine.
func (e *DetachedEngine) RunRelax(ctx context.Context, spec *StageSpec) (*RelaxResult, error) {
	dir, err := e.submitAndWait(ctx, StageRelax, spec)
	if err != nil {
		return nil, err
	}
	return ReadRelaxResult(dir, spec.Structure)
}

// RunSCF implements Engine.
func (e *DetachedEngine) RunSCF(ctx context.Context, spec *StageSpec) (*SCFResult, error) {
	dir, err := e.submitAndWait(ctx, StageSCF, spec)
	if err != nil {
		return nil, err
	}
	return ReadSCFResult(dir)
}

// RunHP implements Engine.
func (e *DetachedEngine) RunHP(ctx context.Context, spec *StageSpec) (*HPResult, error) {
	dir, err := e.submitAndWait(ctx, StageHP, spec)
	if err != nil {
		return nil, err
	}
	return ReadHPResult(dir, spec.Structure)
}

func (e *DetachedEngine) submitAndWait(ctx context.Context, stage Stage, spec *StageSpec) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if spec == nil {
		return "", ErrNilSpec
	}

	dir := filepath.Join(e.cfg.WorkRoot, fmt.Sprintf("%s-%s", stage, uuid.New().String()[:8]))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	deck, err := WriteInputDeck(dir, stage, spec)
	if err != nil {
		return "", err
	}
	if spec.RestartDir != "" {
		if err := linkRestart(spec.RestartDir, dir); err != nil {
			return "", err
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, defaultSubmitTimeout)
	defer cancel()

	cmd := exec.CommandContext(submitCtx, e.submit, string(stage), dir, deck)
	var output bytes.Buffer
	limited := &limitedWriter{w: &output, limit: e.cfg.MaxOutputBytes}
	cmd.Stdout = limited
	cmd.Stderr = limited

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &SubProcessError{Stage: stage, ExitCode: exitCode, Output: output.String(), Cause: err}
	}

	e.logger.Info("Sub-calculation submitted",
		slog.String("stage", string(stage)),
		slog.String("workdir", dir),
	)

	if err := e.watcher.Wait(ctx, dir, spec.Timeout); err != nil {
		return "", &SubProcessError{Stage: stage, ExitCode: -1, Output: output.String(), Cause: err}
	}
	return dir, nil
}
