// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hubbardflow/pkg/hubbard"
	"github.com/AleutianAI/hubbardflow/pkg/logging"
	"github.com/AleutianAI/hubbardflow/services/history"
	"github.com/AleutianAI/hubbardflow/services/scheduler"
	"github.com/AleutianAI/hubbardflow/services/workchain"
	"github.com/AleutianAI/hubbardflow/services/workchain/protocol"
)

// timePrecision is the display rounding for run durations.
const timePrecision = 100 * time.Millisecond

// structureDocument is the on-disk JSON form of a hubbard.Structure.
//
// The cell is nine row-major lattice components in angstrom. Parameters
// mark which atoms the linear-response run perturbs and seed the first
// iteration.
type structureDocument struct {
	Cell       [9]float64          `json:"cell"`
	Sites      []hubbard.Site      `json:"sites"`
	Parameters []hubbard.Parameter `json:"parameters"`
	Moments    map[string]float64  `json:"moments,omitempty"`
}

// loadStructure reads and validates a structure document.
func loadStructure(path string) (*hubbard.Structure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read structure: %w", err)
	}

	var doc structureDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode structure %s: %w", path, err)
	}

	structure := hubbard.NewStructure(doc.Cell, doc.Sites)
	structure.Parameters = doc.Parameters
	structure.Moments = doc.Moments
	if err := structure.Validate(); err != nil {
		return nil, fmt.Errorf("structure %s: %w", path, err)
	}
	return structure, nil
}

// protocolOverrides collects the run flags that were set explicitly, so
// untouched preset fields keep their values.
func protocolOverrides(cmd *cobra.Command) map[string]any {
	overrides := make(map[string]any)
	if cmd.Flags().Changed("tolerance-onsite") {
		overrides["tolerance_onsite"] = toleranceOnsite
	}
	if cmd.Flags().Changed("tolerance-intersite") {
		overrides["tolerance_intersite"] = toleranceIntersite
	}
	if cmd.Flags().Changed("max-iterations") {
		overrides["max_iterations"] = maxIterations
	}
	if cmd.Flags().Changed("meta-convergence") {
		overrides["meta_convergence"] = metaConvergence
	}
	if cmd.Flags().Changed("keep-workdirs") {
		overrides["clean_workdir"] = !keepWorkdirs
	}
	return overrides
}

// defaultDBPath is the run history location when --db is not given.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hubbardflow/history"
	}
	return filepath.Join(home, ".hubbardflow", "history")
}

// runWorkchain executes the self-consistent cycle for one structure.
func runWorkchain(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  "~/.hubbardflow/logs",
		Service: "cli",
	})
	defer logger.Close()

	structure, err := loadStructure(args[0])
	if err != nil {
		return err
	}

	preset, err := protocol.LoadWithOverrides(protocolName, protocolOverrides(cmd))
	if err != nil {
		return err
	}

	cfg := preset.Config()
	if cmd.Flags().Changed("skip-relax-iterations") {
		cfg.SkipRelaxIterations = skipRelaxIters
	}
	if cmd.Flags().Changed("relax-frequency") {
		cfg.RelaxFrequency = relaxFrequency
	}
	if cmd.Flags().Changed("radial-radius") {
		cfg.RadialAnalysisRadius = radialRadius
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	root := workRoot
	if root == "" {
		root, err = os.MkdirTemp("", "hubbardflow-")
		if err != nil {
			return fmt.Errorf("create work root: %w", err)
		}
	}

	engineCfg := scheduler.DefaultConfig()
	engineCfg.PwExecutable = pwExecutable
	engineCfg.HpExecutable = hpExecutable
	engineCfg.WorkRoot = root
	engineCfg.KeepWorkdirs = keepWorkdirs
	engine, err := scheduler.NewLocalEngine(engineCfg, logger.Slog())
	if err != nil {
		return err
	}

	storeCfg := history.DefaultConfig()
	storeCfg.Path = dbPath
	store, err := history.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	relax, scf, hp := preset.StageSpecs()
	req := &workchain.Request{
		Structure: structure,
		Relax:     relax,
		SCF:       scf,
		HP:        hp,
	}
	if noRelax {
		req.Relax = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := workchain.NewController(cfg, engine, store, logger.Slog())
	result, err := controller.Run(ctx, req)
	if err != nil {
		return err
	}

	printResult(result)
	if !result.Success {
		return fmt.Errorf("run finished in state %s: %s", result.State, result.Error)
	}
	return nil
}

// printResult writes the run outcome and final parameters to stdout.
func printResult(result *workchain.Result) {
	fmt.Printf("State:       %s\n", result.State)
	fmt.Printf("Converged:   %v\n", result.Converged)
	fmt.Printf("Iterations:  %d\n", result.Iterations)
	fmt.Printf("Class:       %s\n", result.Verdict.Class)
	if result.Verdict.BandGap > 0 {
		fmt.Printf("Band gap:    %.4f eV\n", result.Verdict.BandGap)
	}
	fmt.Printf("Duration:    %s\n", result.Duration.Round(timePrecision))

	if result.Structure == nil || len(result.Structure.Parameters) == 0 {
		return
	}
	fmt.Println("\nFinal Hubbard parameters (eV):")
	for _, p := range result.Structure.Parameters {
		if p.IsOnsite() {
			fmt.Printf("  U  %s-%s  %8.4f\n",
				result.Structure.Sites[p.AtomI].Kind, p.ManifoldI, p.Value)
		} else {
			fmt.Printf("  V  %s-%s : %s-%s  %8.4f\n",
				result.Structure.Sites[p.AtomI].Kind, p.ManifoldI,
				result.Structure.Sites[p.AtomJ].Kind, p.ManifoldJ, p.Value)
		}
	}
}

// runProtocols lists the registered presets with their resolved values.
func runProtocols(cmd *cobra.Command, args []string) error {
	descriptions := protocol.Describe()
	names := protocol.Names()
	sort.Strings(names)

	for _, name := range names {
		preset, err := protocol.Load(name)
		if err != nil {
			return err
		}
		marker := " "
		if name == protocol.DefaultName {
			marker = "*"
		}
		fmt.Printf("%s %-10s %s\n", marker, name, descriptions[name])
		fmt.Printf("    kpoints=%v qpoints=%v conv_thr_scf=%.0e conv_thr_chi=%.0e\n",
			preset.KPoints, preset.QPoints, preset.ConvThrSCF, preset.ConvThrChi)
		fmt.Printf("    tolerance_onsite=%g tolerance_intersite=%g max_iterations=%d\n",
			preset.ToleranceOnsite, preset.ToleranceIntersite, preset.MaxIterations)
	}
	fmt.Println("\n(* = default)")
	return nil
}
