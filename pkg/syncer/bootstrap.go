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
	"strings"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// activeJobWindow is how many of the most recent workflow runs get their
// jobs fetched during bootstrap.
const activeJobWindow = 20

// RunBootstrap acquires the job under its lock key and populates the
// repository's domain state from the REST surface. On success the job
// transitions to done; on failure it is marked failed and the error is
// returned.
func (s *Syncer) RunBootstrap(ctx context.Context, lockKey string) error {
	logger := logging.FromContext(ctx)

	job, acquired, err := s.db.AcquireSyncJob(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire sync job %q: %w", lockKey, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "sync job not acquirable, skipping", "lock_key", lockKey)
		return nil
	}

	if err := s.bootstrap(ctx, job); err != nil {
		if markErr := s.db.MarkSyncJobFailed(ctx, lockKey, err.Error()); markErr != nil {
			logger.ErrorContext(ctx, "failed to mark sync job failed",
				"lock_key", lockKey, "error", markErr)
		}
		return fmt.Errorf("bootstrap %q failed: %w", job.FullName, err)
	}

	if err := s.db.MarkSyncJobDone(ctx, lockKey); err != nil {
		return fmt.Errorf("failed to mark sync job done: %w", err)
	}
	logger.InfoContext(ctx, "bootstrap complete",
		"lock_key", lockKey, "full_name", job.FullName)
	return nil
}

func (s *Syncer) bootstrap(ctx context.Context, job *store.SyncJob) error {
	owner, name, ok := strings.Cut(job.FullName, "/")
	if !ok {
		return fmt.Errorf("malformed full name %q", job.FullName)
	}

	gh, err := s.source(ctx, job.InstallationID)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}

	repositoryID := job.RepositoryID
	users := map[int64]*store.User{}
	collect := func(u *github.User) {
		if row := userRow(u); row != nil {
			users[row.UserID] = row
		}
	}

	// Repository metadata first so the default branch is known.
	var repo *github.Repository
	if err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		repo, err = gh.GetRepository(ctx, owner, name)
		return err
	}); err != nil {
		return fmt.Errorf("failed to fetch repository: %w", err)
	}
	if err := s.db.UpsertRepository(ctx, repoRow(job.InstallationID, repo)); err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}

	// Branches.
	var branches []*github.Branch
	if err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		branches, err = gh.ListBranches(ctx, owner, name)
		return err
	}); err != nil {
		return fmt.Errorf("failed to list branches: %w", err)
	}
	now := s.now()
	for _, b := range branches {
		if err := s.db.UpsertBranch(ctx, &store.Branch{
			RepositoryID: repositoryID,
			Name:         b.GetName(),
			HeadSHA:      b.GetCommit().GetSHA(),
			UpdatedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to upsert branch: %w", err)
		}
	}

	// Pull requests, all states.
	var prs []*github.PullRequest
	if err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		prs, err = gh.ListAllPullRequests(ctx, owner, name)
		return err
	}); err != nil {
		return fmt.Errorf("failed to list pull requests: %w", err)
	}
	prRows := make([]*store.PullRequest, 0, len(prs))
	for _, pr := range prs {
		collect(pr.GetUser())
		prRows = append(prRows, prRow(repositoryID, pr))
	}
	for _, batch := range chunk(prRows, chunkSize) {
		for _, row := range batch {
			if err := s.db.UpsertPullRequest(ctx, row); err != nil {
				return fmt.Errorf("failed to upsert pull request: %w", err)
			}
		}
	}

	// Issues, all states. The issues endpoint also returns PRs; drop them.
	var issues []*github.Issue
	if err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		issues, err = gh.ListAllIssues(ctx, owner, name)
		return err
	}); err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}
	issueRows := make([]*store.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue.PullRequestLinks != nil {
			continue
		}
		collect(issue.GetUser())
		issueRows = append(issueRows, issueRow(repositoryID, issue))
	}
	for _, batch := range chunk(issueRows, chunkSize) {
		for _, row := range batch {
			if err := s.db.UpsertIssue(ctx, row); err != nil {
				return fmt.Errorf("failed to upsert issue: %w", err)
			}
		}
	}

	// Most recent commits on the default branch, first page only. Older
	// commits are not fetched; a reconcile re-runs this same first-page fetch.
	var commits []*github.RepositoryCommit
	if err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		commits, err = gh.ListRecentCommits(ctx, owner, name, repo.GetDefaultBranch())
		return err
	}); err != nil {
		return fmt.Errorf("failed to list commits: %w", err)
	}
	for _, rc := range commits {
		collect(rc.GetAuthor())
		collect(rc.GetCommitter())
		if err := s.db.InsertCommitIfAbsent(ctx, commitRow(repositoryID, rc)); err != nil {
			return fmt.Errorf("failed to insert commit: %w", err)
		}
	}

	// Check runs at every open PR head, deduplicated by run ID.
	openPRs, err := s.db.ListOpenPullRequests(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to list open pull requests: %w", err)
	}
	seenRuns := map[int64]struct{}{}
	for _, pr := range openPRs {
		if pr.HeadSHA == "" {
			continue
		}
		var runs []*github.CheckRun
		if err := withRetry(ctx, func(ctx context.Context) error {
			var err error
			runs, err = gh.ListCheckRunsForRef(ctx, owner, name, pr.HeadSHA)
			return err
		}); err != nil {
			return fmt.Errorf("failed to list check runs: %w", err)
		}
		for _, cr := range runs {
			if _, ok := seenRuns[cr.GetID()]; ok {
				continue
			}
			seenRuns[cr.GetID()] = struct{}{}
			if err := s.db.UpsertCheckRun(ctx, checkRunRow(repositoryID, cr)); err != nil {
				return fmt.Errorf("failed to upsert check run: %w", err)
			}
		}
	}

	// Workflow runs; jobs for the most recent active or recently-completed
	// runs. Job IDs are check-run IDs, so they land in the same table.
	var workflowRuns []*github.WorkflowRun
	if err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		workflowRuns, err = gh.ListWorkflowRuns(ctx, owner, name)
		return err
	}); err != nil {
		return fmt.Errorf("failed to list workflow runs: %w", err)
	}
	var jobRuns int
	for _, run := range workflowRuns {
		if jobRuns >= activeJobWindow {
			break
		}
		jobRuns++
		var jobs []*github.WorkflowJob
		if err := withRetry(ctx, func(ctx context.Context) error {
			var err error
			jobs, err = gh.ListWorkflowJobs(ctx, owner, name, run.GetID())
			return err
		}); err != nil {
			return fmt.Errorf("failed to list workflow jobs: %w", err)
		}
		for _, j := range jobs {
			if _, ok := seenRuns[j.GetID()]; ok {
				continue
			}
			seenRuns[j.GetID()] = struct{}{}
			if j.GetName() == "" || j.GetHeadSHA() == "" {
				continue
			}
			if err := s.db.UpsertCheckRun(ctx, jobCheckRunRow(repositoryID, j)); err != nil {
				return fmt.Errorf("failed to upsert workflow job: %w", err)
			}
		}
	}

	// Collected users, chunked.
	userRows := make([]*store.User, 0, len(users))
	for _, u := range users {
		userRows = append(userRows, u)
	}
	for _, batch := range chunk(userRows, chunkSize) {
		if err := s.db.UpsertUsers(ctx, batch); err != nil {
			return fmt.Errorf("failed to upsert users: %w", err)
		}
	}

	// Diff syncs for open PRs, fire-and-forget.
	for _, pr := range openPRs {
		if pr.HeadSHA == "" {
			continue
		}
		s.scheduleFileSync(ctx, owner, name, repositoryID, pr.Number, pr.HeadSHA)
	}

	if err := projection.UpdateAll(ctx, s.db, repositoryID, s.now()); err != nil {
		return fmt.Errorf("failed to refresh projections: %w", err)
	}
	return nil
}
