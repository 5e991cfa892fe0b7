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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// completionPollInterval is the fallback poll cadence used when inotify
// events are unavailable or lost (network filesystems commonly drop
// them).
const completionPollInterval = 5 * time.Second

// =============================================================================
// COMPLETION WATCHER
// =============================================================================

// CompletionWatcher waits for a detached job to drop its completion
// sentinel into a work directory.
//
// Description:
//
//	Batch schedulers run the calculation out of band; the submission
//	wrapper touches a DONE file once the job and its result writer have
//	finished. The watcher combines filesystem notifications with a slow
//	poll so that completion is detected even when the work directory
//	lives on a filesystem that does not deliver inotify events.
//
// Thread Safety: a watcher instance is safe for concurrent Wait calls
// on distinct directories.
type CompletionWatcher struct {
	logger *slog.Logger
	poll   time.Duration
}

// NewCompletionWatcher creates a watcher with the default poll interval.
func NewCompletionWatcher(logger *slog.Logger) *CompletionWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionWatcher{logger: logger, poll: completionPollInterval}
}

// Wait blocks until the completion sentinel appears in dir, the context
// is cancelled, or the timeout elapses.
func (w *CompletionWatcher) Wait(ctx context.Context, dir string, timeout time.Duration) error {
	if ctx == nil {
		return ErrNilContext
	}
	sentinel := filepath.Join(dir, doneFileName)

	// The sentinel may already exist if the job finished before we
	// started watching.
	if _, err := os.Stat(sentinel); err == nil {
		return nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("Filesystem notifications unavailable, polling only",
			slog.String("error", err.Error()),
		)
		return w.waitPolling(ctx, sentinel)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Check again after the watch is established to close the race with
	// a sentinel created in between.
	if _, err := os.Stat(sentinel); err == nil {
		return nil
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w: %s", ErrCompletionTimeout, dir)
			}
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return w.waitPolling(ctx, sentinel)
			}
			if event.Name == sentinel && event.Op.Has(fsnotify.Create) {
				return nil
			}

		case werr, ok := <-fw.Errors:
			if !ok {
				return w.waitPolling(ctx, sentinel)
			}
			w.logger.Warn("Watcher error, continuing",
				slog.String("dir", dir),
				slog.String("error", werr.Error()),
			)

		case <-ticker.C:
			if _, err := os.Stat(sentinel); err == nil {
				return nil
			}
		}
	}
}

// waitPolling is the notification-free fallback.
func (w *CompletionWatcher) waitPolling(ctx context.Context, sentinel string) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w: %s", ErrCompletionTimeout, filepath.Dir(sentinel))
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(sentinel); err == nil {
				return nil
			}
		}
	}
}
