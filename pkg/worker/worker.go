// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker runs the periodic loops that drive the ingestion engine:
// retry promotion, pending drain, sync-job execution, and projection
// repair.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/processor"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/syncer"
)

// Loop cadences. Promotion must run at least as often as the base backoff
// so due retries do not linger.
const (
	PromoteInterval  = 1 * time.Second
	DrainInterval    = 2 * time.Second
	SyncJobInterval  = 2 * time.Second
	RepairInterval   = 5 * time.Minute
	syncJobBatchSize = 10
)

// Worker owns the periodic loops.
type Worker struct {
	db   store.Store
	proc *processor.Processor
	sync *syncer.Syncer

	// Now can be overridden in tests.
	Now func() time.Time
}

// New creates a worker. sync may be nil to disable the sync-job loop.
func New(db store.Store, proc *processor.Processor, sync *syncer.Syncer) *Worker {
	return &Worker{db: db, proc: proc, sync: sync, Now: time.Now}
}

// Run starts every loop and blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	w.spawn(ctx, &wg, PromoteInterval, w.promoteOnce)
	w.spawn(ctx, &wg, DrainInterval, w.drainOnce)
	w.spawn(ctx, &wg, RepairInterval, w.repairOnce)
	if w.sync != nil {
		w.spawn(ctx, &wg, SyncJobInterval, w.syncJobsOnce)
	}

	wg.Wait()
}

func (w *Worker) spawn(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func (w *Worker) promoteOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	promoted, err := w.proc.PromoteRetryEvents(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "retry promotion failed", "error", err)
		return
	}
	if promoted > 0 {
		logger.DebugContext(ctx, "promoted retry deliveries", "count", promoted)
	}
}

func (w *Worker) drainOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if _, err := w.proc.ProcessAllPending(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "pending drain failed", "error", err)
	}
}

func (w *Worker) syncJobsOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	if _, err := w.sync.RunDueSyncJobs(ctx, syncJobBatchSize); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "sync job run failed", "error", err)
	}
}

func (w *Worker) repairOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	repaired, err := projection.RepairAll(ctx, w.db, w.Now().UTC())
	if err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "projection repair failed", "error", err)
		return
	}
	logger.DebugContext(ctx, "projection repair pass complete", "repositories", repaired)
}
