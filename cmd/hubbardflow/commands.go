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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	// run flags
	protocolName       string
	toleranceOnsite    float64
	toleranceIntersite float64
	maxIterations      int
	metaConvergence    bool
	skipRelaxIters     int
	relaxFrequency     int
	radialRadius       float64
	noRelax            bool
	keepWorkdirs       bool
	pwExecutable       string
	hpExecutable       string
	workRoot           string

	// shared flags
	dbPath string

	// serve flags
	servePort      int
	serveNoMetrics bool

	rootCmd = &cobra.Command{
		Use:   "hubbardflow",
		Short: "A CLI to compute self-consistent Hubbard U/V parameters",
		Long: `Hubbardflow orchestrates the self-consistent calculation of
Hubbard U and V parameters for crystal structures, cycling structural
relaxation, ground-state and linear-response runs until the predicted
parameters stop changing.`,
	}

	runCmd = &cobra.Command{
		Use:   "run [structure.json]",
		Short: "Execute the self-consistent Hubbard cycle for a structure",
		Long: `Reads a structure document (cell, sites, initial Hubbard parameters
and optional magnetic moments) and runs the convergence cycle with the
selected protocol. Flags override individual protocol fields verbatim.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorkchain,
	}

	protocolsCmd = &cobra.Command{
		Use:   "protocols",
		Short: "List the registered protocol presets and their values",
		RunE:  runProtocols,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List stored runs",
		RunE:  runHistoryList,
	}
	historyShowCmd = &cobra.Command{
		Use:   "show [run_id]",
		Short: "Show one run with its iteration records",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the status server over the run history",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the hubbardflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hubbardflow", Version)
		},
	}
)

func init() {
	viper.SetEnvPrefix("hubbardflow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&protocolName, "protocol", "p", "",
		"Protocol preset (fast, moderate, precise)")
	runCmd.Flags().Float64Var(&toleranceOnsite, "tolerance-onsite", 0,
		"Convergence tolerance for onsite U in eV")
	runCmd.Flags().Float64Var(&toleranceIntersite, "tolerance-intersite", 0,
		"Convergence tolerance for intersite V in eV")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0,
		"Iteration budget for the convergence cycle")
	runCmd.Flags().BoolVar(&metaConvergence, "meta-convergence", true,
		"Iterate until self-consistency; off stops after the first prediction")
	runCmd.Flags().IntVar(&skipRelaxIters, "skip-relax-iterations", 0,
		"Number of initial iterations that skip relaxation")
	runCmd.Flags().IntVar(&relaxFrequency, "relax-frequency", 0,
		"Relax only every Nth iteration")
	runCmd.Flags().Float64Var(&radialRadius, "radial-radius", 0,
		"Determine perturbation neighbours within this radius in angstrom")
	runCmd.Flags().BoolVar(&noRelax, "no-relax", false,
		"Disable structural relaxation entirely")
	runCmd.Flags().BoolVar(&keepWorkdirs, "keep-workdirs", false,
		"Keep per-stage work directories for debugging")
	runCmd.Flags().StringVar(&pwExecutable, "pw", "pw.x",
		"Plane-wave DFT executable")
	runCmd.Flags().StringVar(&hpExecutable, "hp", "hp.x",
		"Linear-response executable")
	runCmd.Flags().StringVar(&workRoot, "work-root", "",
		"Directory for per-stage work directories (default: temp dir)")
	runCmd.Flags().StringVar(&dbPath, "db", defaultDBPath(),
		"Run history database directory")

	rootCmd.AddCommand(protocolsCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(),
		"Run history database directory")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 12230, "HTTP server port")
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false,
		"Disable the /metrics endpoint")
	serveCmd.Flags().StringVar(&dbPath, "db", defaultDBPath(),
		"Run history database directory")

	rootCmd.AddCommand(versionCmd)
}
