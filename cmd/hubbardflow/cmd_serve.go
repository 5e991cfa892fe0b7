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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/hubbardflow/pkg/logging"
	"github.com/AleutianAI/hubbardflow/services/monitor"
)

// runServe starts the status server over the run history.
func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  "~/.hubbardflow/logs",
		Service: "monitor",
	})
	defer logger.Close()

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := monitor.New(monitor.Config{
		Port:           servePort,
		DisableMetrics: serveNoMetrics,
	}, store)
	if err != nil {
		return err
	}

	logger.Info("status server starting", "port", servePort, "db", dbPath)
	return svc.Run()
}
