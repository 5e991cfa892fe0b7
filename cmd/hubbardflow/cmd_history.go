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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hubbardflow/services/history"
)

// openHistory opens the run history store read-only for inspection.
func openHistory() (*history.Store, error) {
	cfg := history.DefaultConfig()
	cfg.Path = dbPath
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history store at %s: %w", dbPath, err)
	}
	return store, nil
}

// runHistoryList prints all stored runs, newest first.
func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tITERATIONS\tCONVERGED\tUPDATED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n",
			run.ID, run.State, run.Iterations, run.Converged,
			run.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

// runHistoryShow prints one run with its iteration records.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	runID := args[0]
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run:         %s\n", run.ID)
	fmt.Printf("State:       %s\n", run.State)
	fmt.Printf("Iterations:  %d\n", run.Iterations)
	fmt.Printf("Converged:   %v\n", run.Converged)
	if run.Error != "" {
		fmt.Printf("Error:       %s\n", run.Error)
	}
	fmt.Printf("Started:     %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))

	iterations, err := store.ListIterations(runID)
	if err != nil {
		return err
	}
	if len(iterations) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tCLASS\tGAP (eV)\tMAX dU\tMAX dV\tPARAMS")
	for _, it := range iterations {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.4f\t%.4f\t%d\n",
			it.Index, it.ElectronicClass, it.BandGap,
			it.MaxDeltaOnsite, it.MaxDeltaIntersite, len(it.Parameters))
	}
	return w.Flush()
}
