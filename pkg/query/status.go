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

package query

import (
	"context"
	"fmt"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// Health is the liveness read.
type Health struct {
	OK         bool `json:"ok"`
	TableCount int  `json:"tableCount"`
}

// ProjectionCoverage reports whether every repository has an overview row.
type ProjectionCoverage struct {
	OverviewCount int  `json:"overviewCount"`
	RepoCount     int  `json:"repoCount"`
	AllSynced     bool `json:"allSynced"`
}

// SystemStatus combines the queue, processing lag, write-op counts, and
// projection coverage.
type SystemStatus struct {
	Queue           *store.QueueStats          `json:"queue"`
	Lag             *store.ProcessingLag       `json:"lag"`
	StaleRetries    int                        `json:"staleRetries"`
	WriteOpsByState map[store.WriteOpState]int `json:"writeOpsByState"`
	Projections     *ProjectionCoverage        `json:"projections"`
}

// GetHealth pings the store and reports the table count.
func (r *Reader) GetHealth(ctx context.Context) (*Health, error) {
	if err := r.db.Ping(ctx); err != nil {
		return &Health{OK: false}, nil //nolint:nilerr // health reads never error
	}
	counts, err := r.db.TableCounts(ctx)
	if err != nil {
		return &Health{OK: false}, nil //nolint:nilerr
	}
	return &Health{OK: true, TableCount: len(counts)}, nil
}

// GetTableCounts reports per-table row counts, bounded at 10k each.
func (r *Reader) GetTableCounts(ctx context.Context) (map[string]int, error) {
	counts, err := r.db.TableCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tables: %w", err)
	}
	return counts, nil
}

// GetQueueHealth reports the delivery queue state.
func (r *Reader) GetQueueHealth(ctx context.Context) (*store.QueueStats, error) {
	stats, err := r.db.QueueStats(ctx, r.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// GetSystemStatus combines queue health, processing lag, stale retries,
// write-op counts, and projection coverage.
func (r *Reader) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	now := r.Now().UTC()

	queue, err := r.db.QueueStats(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	lag, err := r.db.ProcessingLag(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing lag: %w", err)
	}
	stale, err := r.db.CountStaleRetries(ctx, now.Add(-staleRetryAge))
	if err != nil {
		return nil, fmt.Errorf("failed to count stale retries: %w", err)
	}
	writeOps, err := r.db.CountWriteOperationsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count write operations: %w", err)
	}

	overviewCount, err := r.db.CountRepoOverviews(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count overviews: %w", err)
	}
	repos, err := r.db.ListRepositories(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	return &SystemStatus{
		Queue:           queue,
		Lag:             lag,
		StaleRetries:    stale,
		WriteOpsByState: writeOps,
		Projections: &ProjectionCoverage{
			OverviewCount: overviewCount,
			RepoCount:     len(repos),
			AllSynced:     overviewCount >= len(repos),
		},
	}, nil
}

// ListSyncJobs reports the most recently updated sync jobs.
func (r *Reader) ListSyncJobs(ctx context.Context) ([]*store.SyncJob, error) {
	jobs, err := r.db.ListSyncJobs(ctx, maxSyncJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	return jobs, nil
}
