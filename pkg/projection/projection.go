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

// Package projection recomputes the denormalized read views. Every
// projection row is a pure function of the normalized domain state for its
// repository; recomputing any number of times converges to the same result.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// UpdateAll recomputes the overview, PR list, and issue list projections
// for one repository. The activity feed is append-only and not touched
// here.
func UpdateAll(ctx context.Context, db store.Store, repositoryID int64, now time.Time) error {
	if err := updateOverview(ctx, db, repositoryID, now); err != nil {
		return fmt.Errorf("failed to update overview: %w", err)
	}
	if err := updatePullRequestList(ctx, db, repositoryID); err != nil {
		return fmt.Errorf("failed to update pull request list: %w", err)
	}
	if err := updateIssueList(ctx, db, repositoryID); err != nil {
		return fmt.Errorf("failed to update issue list: %w", err)
	}
	return nil
}

func updateOverview(ctx context.Context, db store.Store, repositoryID int64, now time.Time) error {
	prs, err := db.ListPullRequests(ctx, repositoryID, 0)
	if err != nil {
		return fmt.Errorf("failed to list pull requests: %w", err)
	}
	issues, err := db.ListIssues(ctx, repositoryID, 0)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}
	checks, err := db.ListCheckRuns(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to list check runs: %w", err)
	}
	branches, err := db.ListBranches(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to list branches: %w", err)
	}

	o := &store.RepoOverview{
		RepositoryID: repositoryID,
		UpdatedAt:    now,
	}
	for _, pr := range prs {
		if pr.State == "open" {
			o.OpenPRCount++
		}
	}
	for _, i := range issues {
		if i.State == "open" && !i.IsPullRequest {
			o.OpenIssueCount++
		}
	}
	for _, c := range checks {
		if c.Conclusion == "failure" {
			o.FailingCheckCount++
		}
	}
	for _, b := range branches {
		if o.LastPushAt == nil || b.UpdatedAt.After(*o.LastPushAt) {
			t := b.UpdatedAt
			o.LastPushAt = &t
		}
	}
	repo, err := db.GetRepository(ctx, repositoryID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to get repository: %w", err)
	}
	if repo != nil && repo.PushedAt != nil {
		if o.LastPushAt == nil || repo.PushedAt.After(*o.LastPushAt) {
			t := *repo.PushedAt
			o.LastPushAt = &t
		}
	}

	if err := db.UpsertRepoOverview(ctx, o); err != nil {
		return fmt.Errorf("failed to upsert overview: %w", err)
	}
	return nil
}

func authorInfo(ctx context.Context, db store.Store, userID *int64) (string, string, error) {
	if userID == nil {
		return "", "", nil
	}
	u, err := db.GetUser(ctx, *userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to get user: %w", err)
	}
	return u.Login, u.AvatarURL, nil
}

func updatePullRequestList(ctx context.Context, db store.Store, repositoryID int64) error {
	prs, err := db.ListPullRequests(ctx, repositoryID, 0)
	if err != nil {
		return fmt.Errorf("failed to list pull requests: %w", err)
	}

	items := make([]*store.RepoPullRequestItem, 0, len(prs))
	for _, pr := range prs {
		login, avatar, err := authorInfo(ctx, db, pr.AuthorUserID)
		if err != nil {
			return err
		}
		reviews, err := db.ListReviews(ctx, repositoryID, pr.Number, 0)
		if err != nil {
			return fmt.Errorf("failed to list reviews: %w", err)
		}
		var lastConclusion string
		if pr.HeadSHA != "" {
			checks, err := db.ListCheckRunsForSHA(ctx, repositoryID, pr.HeadSHA)
			if err != nil {
				return fmt.Errorf("failed to list check runs: %w", err)
			}
			if len(checks) > 0 {
				lastConclusion = checks[len(checks)-1].Conclusion
			}
		}
		items = append(items, &store.RepoPullRequestItem{
			RepositoryID:        repositoryID,
			Number:              pr.Number,
			Title:               pr.Title,
			State:               pr.State,
			Draft:               pr.Draft,
			AuthorLogin:         login,
			AuthorAvatarURL:     avatar,
			CommentCount:        pr.CommentCount,
			ReviewCount:         len(reviews),
			LastCheckConclusion: lastConclusion,
			SortUpdated:         pr.GitHubUpdatedAt,
		})
	}

	if err := db.ReplacePullRequestList(ctx, repositoryID, items); err != nil {
		return fmt.Errorf("failed to replace pull request list: %w", err)
	}
	return nil
}

func updateIssueList(ctx context.Context, db store.Store, repositoryID int64) error {
	issues, err := db.ListIssues(ctx, repositoryID, 0)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}

	items := make([]*store.RepoIssueItem, 0, len(issues))
	for _, i := range issues {
		if i.IsPullRequest {
			continue
		}
		login, avatar, err := authorInfo(ctx, db, i.AuthorUserID)
		if err != nil {
			return err
		}
		items = append(items, &store.RepoIssueItem{
			RepositoryID:    repositoryID,
			Number:          i.Number,
			Title:           i.Title,
			State:           i.State,
			AuthorLogin:     login,
			AuthorAvatarURL: avatar,
			CommentCount:    i.CommentCount,
			LabelNames:      i.LabelNames,
			SortUpdated:     i.GitHubUpdatedAt,
		})
	}

	if err := db.ReplaceIssueList(ctx, repositoryID, items); err != nil {
		return fmt.Errorf("failed to replace issue list: %w", err)
	}
	return nil
}

// RepairAll recomputes projections for every known repository. It heals
// drift between the domain tables and the read views on a slow cadence.
func RepairAll(ctx context.Context, db store.Store, now time.Time) (int, error) {
	repos, err := db.ListRepositories(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list repositories: %w", err)
	}
	var repaired int
	for _, r := range repos {
		if err := ctx.Err(); err != nil {
			return repaired, err //nolint:wrapcheck // cancellation passthrough
		}
		if err := UpdateAll(ctx, db, r.RepositoryID, now); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}
