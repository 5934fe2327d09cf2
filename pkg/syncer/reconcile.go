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

package syncer

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// ReconcileResult reports whether a reconcile job was scheduled.
type ReconcileResult struct {
	Scheduled bool   `json:"scheduled"`
	LockKey   string `json:"lockKey"`
}

// ReconcileLockKey is the lock key format for repository reconcile jobs.
func ReconcileLockKey(repositoryID int64) string {
	return fmt.Sprintf("repo-reconcile:0:%d", repositoryID)
}

// ReconcileRepo schedules a bootstrap for an already-known repository. A
// pending or running job under the same lock key wins; the call then
// reports Scheduled=false.
func (s *Syncer) ReconcileRepo(ctx context.Context, owner, name string) (*ReconcileResult, error) {
	repo, err := s.db.GetRepositoryByFullName(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up repository %s/%s: %w", owner, name, err)
	}

	lockKey := ReconcileLockKey(repo.RepositoryID)
	scheduled, err := s.db.ScheduleSyncJob(ctx, &store.SyncJob{
		LockKey:        lockKey,
		Kind:           "bootstrap",
		RepositoryID:   repo.RepositoryID,
		FullName:       repo.FullName,
		InstallationID: repo.InstallationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sync job: %w", err)
	}
	return &ReconcileResult{Scheduled: scheduled, LockKey: lockKey}, nil
}

// ScheduleBootstrap schedules the initial population of a newly connected
// repository.
func (s *Syncer) ScheduleBootstrap(ctx context.Context, repositoryID int64, fullName string, installationID int64) (*ReconcileResult, error) {
	lockKey := ReconcileLockKey(repositoryID)
	scheduled, err := s.db.ScheduleSyncJob(ctx, &store.SyncJob{
		LockKey:        lockKey,
		Kind:           "bootstrap",
		RepositoryID:   repositoryID,
		FullName:       fullName,
		InstallationID: installationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sync job: %w", err)
	}
	return &ReconcileResult{Scheduled: scheduled, LockKey: lockKey}, nil
}

// RunDueSyncJobs executes every due sync job once. Bootstrap is idempotent
// through the upsert paths, so duplicate executions converge.
func (s *Syncer) RunDueSyncJobs(ctx context.Context, limit int) (int, error) {
	logger := logging.FromContext(ctx)

	due, err := s.db.ListDueSyncJobs(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due sync jobs: %w", err)
	}

	var ran int
	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return ran, err //nolint:wrapcheck // cancellation passthrough
		}
		if err := s.RunBootstrap(ctx, job.LockKey); err != nil {
			logger.ErrorContext(ctx, "sync job failed",
				"lock_key", job.LockKey, "error", err)
			continue
		}
		ran++
	}
	return ran, nil
}
