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

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/processor"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// FileSyncResult reports one diff sync.
type FileSyncResult struct {
	FileCount        int
	TruncatedPatches int
}

var validFileStatuses = map[store.FileStatus]struct{}{
	store.FileStatusAdded:     {},
	store.FileStatusRemoved:   {},
	store.FileStatusModified:  {},
	store.FileStatusRenamed:   {},
	store.FileStatusCopied:    {},
	store.FileStatusChanged:   {},
	store.FileStatusUnchanged: {},
}

func coerceFileStatus(s string) store.FileStatus {
	status := store.FileStatus(s)
	if _, ok := validFileStatuses[status]; !ok {
		return store.FileStatusChanged
	}
	return status
}

// SyncPullRequestFiles fetches, bounds, and persists the diff of one PR.
// Diff sync is best-effort: any HTTP error yields an empty result, not an
// error.
func (s *Syncer) SyncPullRequestFiles(ctx context.Context, req *processor.FileSyncRequest) (*FileSyncResult, error) {
	logger := logging.FromContext(ctx)

	repo, err := s.db.GetRepository(ctx, req.RepositoryID)
	if err != nil {
		return nil, err //nolint:wrapcheck // store sentinel passthrough
	}

	gh, err := s.source(ctx, repo.InstallationID)
	if err != nil {
		logger.WarnContext(ctx, "file sync skipped, no github client",
			"repository_id", req.RepositoryID, "error", err)
		return &FileSyncResult{}, nil
	}

	files, err := gh.ListPullRequestFiles(ctx, req.OwnerLogin, req.Name, req.PullRequestNumber, MaxFilesPerPR)
	if err != nil {
		logger.WarnContext(ctx, "file sync fetch failed",
			"repository_id", req.RepositoryID,
			"pull_request", req.PullRequestNumber,
			"error", err)
		return &FileSyncResult{}, nil
	}

	now := s.now()
	res := &FileSyncResult{}
	rows := make([]*store.PullRequestFile, 0, len(files))
	for _, f := range files {
		var patch *string
		if p := f.GetPatch(); p != "" {
			if len(p) > MaxPatchBytes {
				res.TruncatedPatches++
			} else {
				patch = &p
			}
		}
		rows = append(rows, &store.PullRequestFile{
			RepositoryID:      req.RepositoryID,
			PullRequestNumber: req.PullRequestNumber,
			Filename:          f.GetFilename(),
			Status:            coerceFileStatus(f.GetStatus()),
			Additions:         f.GetAdditions(),
			Deletions:         f.GetDeletions(),
			Changes:           f.GetChanges(),
			Patch:             patch,
			HeadSHA:           req.HeadSHA,
			CachedAt:          now,
		})
	}

	for _, batch := range chunk(rows, chunkSize) {
		if err := s.db.UpsertPullRequestFiles(ctx, batch); err != nil {
			return nil, err //nolint:wrapcheck // persistence failures surface
		}
	}
	res.FileCount = len(rows)
	return res, nil
}

// ScheduleFileSync satisfies [processor.FileSyncScheduler]: the sync runs
// asynchronously, at-least-once, with best-effort error handling.
func (s *Syncer) ScheduleFileSync(ctx context.Context, req *processor.FileSyncRequest) {
	s.scheduleFileSync(ctx, req.OwnerLogin, req.Name, req.RepositoryID, req.PullRequestNumber, req.HeadSHA)
}

func (s *Syncer) scheduleFileSync(ctx context.Context, owner, name string, repositoryID int64, number int, headSHA string) {
	logger := logging.FromContext(ctx)
	detached := context.WithoutCancel(ctx)
	go func() {
		res, err := s.SyncPullRequestFiles(detached, &processor.FileSyncRequest{
			OwnerLogin:        owner,
			Name:              name,
			RepositoryID:      repositoryID,
			PullRequestNumber: number,
			HeadSHA:           headSHA,
		})
		if err != nil {
			logger.ErrorContext(detached, "file sync failed",
				"repository_id", repositoryID, "pull_request", number, "error", err)
			return
		}
		logger.DebugContext(detached, "file sync complete",
			"repository_id", repositoryID,
			"pull_request", number,
			"files", res.FileCount,
			"truncated", res.TruncatedPatches)
	}()
}
