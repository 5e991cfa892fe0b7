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
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// defaultStageTimeout bounds a sub-calculation that carries no explicit
// timeout of its own.
const defaultStageTimeout = 12 * time.Hour

// =============================================================================
// LOCAL ENGINE
// =============================================================================

// LocalEngine runs sub-calculations as local child processes.
//
// Thread Safety: safe for concurrent use; each dispatch gets its own
// work directory and process.
type LocalEngine struct {
	cfg    *Config
	logger *slog.Logger
}

// NewLocalEngine creates an engine that shells out to the configured
// executables.
func NewLocalEngine(cfg *Config, logger *slog.Logger) (*LocalEngine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngine{cfg: cfg, logger: logger}, nil
}

// RunRelax implements Engine.
func (e *LocalEngine) RunRelax(ctx context.Context, spec *StageSpec) (*RelaxResult, error) {
	dir, err := e.execute(ctx, StageRelax, e.cfg.PwExecutable, spec)
	if err != nil {
		return nil, err
	}
	return ReadRelaxResult(dir, spec.Structure)
}

// RunSCF implements Engine.
func (e *LocalEngine) RunSCF(ctx context.Context, spec *StageSpec) (*SCFResult, error) {
	dir, err := e.execute(ctx, StageSCF, e.cfg.PwExecutable, spec)
	if err != nil {
		return nil, err
	}
	return ReadSCFResult(dir)
}

// RunHP implements Engine.
func (e *LocalEngine) RunHP(ctx context.Context, spec *StageSpec) (*HPResult, error) {
	dir, err := e.execute(ctx, StageHP, e.cfg.HpExecutable, spec)
	if err != nil {
		return nil, err
	}
	return ReadHPResult(dir, spec.Structure)
}

// execute prepares a work directory, writes the deck and runs command.
//
// The returned directory contains the raw output and the result
// documents on success.
func (e *LocalEngine) execute(ctx context.Context, stage Stage, command string, spec *StageSpec) (string, error) {
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

	if _, err := WriteInputDeck(dir, stage, spec); err != nil {
		return "", err
	}
	if spec.RestartDir != "" {
		if err := linkRestart(spec.RestartDir, dir); err != nil {
			return "", err
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, "-in", inputFileName)
	cmd.Dir = dir

	var output bytes.Buffer
	limited := &limitedWriter{w: &output, limit: e.cfg.MaxOutputBytes}
	cmd.Stdout = limited
	cmd.Stderr = limited

	e.logger.Debug("Executing sub-calculation",
		slog.String("stage", string(stage)),
		slog.String("command", command),
		slog.String("workdir", dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Warn("Sub-calculation timed out",
			slog.String("stage", string(stage)),
			slog.Duration("timeout", timeout),
		)
		return "", &SubProcessError{Stage: stage, ExitCode: -1, Output: output.String(), Cause: ErrStageTimeout}
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return "", &SubProcessError{Stage: stage, ExitCode: exitCode, Output: output.String(), Cause: err}
	}

	e.logger.Info("Sub-calculation completed",
		slog.String("stage", string(stage)),
		slog.String("workdir", dir),
		slog.Duration("duration", duration),
		slog.Int("output_bytes", output.Len()),
	)
	return dir, nil
}

// linkRestart exposes the previous calculation's scratch directory to a
// restarted run, so charge density and wavefunctions can be read from
// file.
func linkRestart(from, to string) error {
	src := filepath.Join(from, "out")
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("restart source: %w", err)
	}
	if err := os.Symlink(src, filepath.Join(to, "out")); err != nil {
		return fmt.Errorf("link restart: %w", err)
	}
	return nil
}

// Cleanup removes a stage work directory unless the engine is configured
// to keep them.
func (e *LocalEngine) Cleanup(dir string) {
	if e.cfg.KeepWorkdirs || dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("Failed to clean workdir",
			slog.String("workdir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return origLen, nil // Silently discard
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	// Report the original length: io.Copy treats a short count as
	// io.ErrShortWrite, which would fail the whole exec pipe.
	return origLen, err
}
