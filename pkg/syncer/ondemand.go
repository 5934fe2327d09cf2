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
	"errors"
	"fmt"

	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// On-demand sync fills gaps for deep-linked entities that have no local
// row yet.

// ensureRepository resolves the repository locally, fetching and upserting
// it from GitHub when absent. It returns the repository row.
func (s *Syncer) ensureRepository(ctx context.Context, owner, name string) (*store.Repository, error) {
	repo, err := s.db.GetRepositoryByFullName(ctx, owner, name)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up repository: %w", err)
	}

	gh, err := s.source(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create github client: %w", err)
	}
	remote, err := gh.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, err //nolint:wrapcheck // typed RepoNotFoundOnGitHub passthrough
	}
	row := repoRow(0, remote)
	if err := s.db.UpsertRepository(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to upsert repository: %w", err)
	}
	return row, nil
}

// SyncPullRequest makes a deep-linked PR readable: if the entity exists
// locally the stored repository ID is returned; otherwise the PR, its
// comments, reviews, and check runs are fetched and persisted, and a diff
// sync is scheduled.
func (s *Syncer) SyncPullRequest(ctx context.Context, owner, name string, number int) (int64, error) {
	repo, err := s.ensureRepository(ctx, owner, name)
	if err != nil {
		return 0, err
	}
	repositoryID := repo.RepositoryID

	if _, err := s.db.GetPullRequest(ctx, repositoryID, number); err == nil {
		return repositoryID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up pull request: %w", err)
	}

	gh, err := s.source(ctx, repo.InstallationID)
	if err != nil {
		return 0, fmt.Errorf("failed to create github client: %w", err)
	}

	pr, err := gh.GetPullRequest(ctx, owner, name, number)
	if err != nil {
		return 0, err //nolint:wrapcheck // typed EntityNotFound passthrough
	}
	if u := userRow(pr.GetUser()); u != nil {
		if err := s.db.UpsertUser(ctx, u); err != nil {
			return 0, fmt.Errorf("failed to upsert user: %w", err)
		}
	}
	if err := s.db.UpsertPullRequest(ctx, prRow(repositoryID, pr)); err != nil {
		return 0, fmt.Errorf("failed to upsert pull request: %w", err)
	}

	comments, err := gh.ListIssueComments(ctx, owner, name, number)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}
	for _, c := range comments {
		if u := userRow(c.GetUser()); u != nil {
			if err := s.db.UpsertUser(ctx, u); err != nil {
				return 0, fmt.Errorf("failed to upsert user: %w", err)
			}
		}
		if err := s.db.UpsertIssueComment(ctx, commentRow(repositoryID, number, c)); err != nil {
			return 0, fmt.Errorf("failed to upsert comment: %w", err)
		}
	}

	reviews, err := gh.ListReviews(ctx, owner, name, number)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}
	for _, r := range reviews {
		if u := userRow(r.GetUser()); u != nil {
			if err := s.db.UpsertUser(ctx, u); err != nil {
				return 0, fmt.Errorf("failed to upsert user: %w", err)
			}
		}
		if err := s.db.UpsertReview(ctx, reviewRow(repositoryID, number, r)); err != nil {
			return 0, fmt.Errorf("failed to upsert review: %w", err)
		}
	}

	headSHA := pr.GetHead().GetSHA()
	if headSHA != "" {
		runs, err := gh.ListCheckRunsForRef(ctx, owner, name, headSHA)
		if err != nil {
			return 0, err //nolint:wrapcheck
		}
		for _, cr := range runs {
			if err := s.db.UpsertCheckRun(ctx, checkRunRow(repositoryID, cr)); err != nil {
				return 0, fmt.Errorf("failed to upsert check run: %w", err)
			}
		}
	}

	if err := projection.UpdateAll(ctx, s.db, repositoryID, s.now()); err != nil {
		return 0, fmt.Errorf("failed to refresh projections: %w", err)
	}

	if headSHA != "" {
		s.scheduleFileSync(ctx, owner, name, repositoryID, number, headSHA)
	}
	return repositoryID, nil
}

// SyncIssue is the issue analog of SyncPullRequest: the issue and its
// comments are fetched and persisted.
func (s *Syncer) SyncIssue(ctx context.Context, owner, name string, number int) (int64, error) {
	repo, err := s.ensureRepository(ctx, owner, name)
	if err != nil {
		return 0, err
	}
	repositoryID := repo.RepositoryID

	if _, err := s.db.GetIssue(ctx, repositoryID, number); err == nil {
		return repositoryID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up issue: %w", err)
	}

	gh, err := s.source(ctx, repo.InstallationID)
	if err != nil {
		return 0, fmt.Errorf("failed to create github client: %w", err)
	}

	issue, err := gh.GetIssue(ctx, owner, name, number)
	if err != nil {
		return 0, err //nolint:wrapcheck // typed EntityNotFound passthrough
	}
	if u := userRow(issue.GetUser()); u != nil {
		if err := s.db.UpsertUser(ctx, u); err != nil {
			return 0, fmt.Errorf("failed to upsert user: %w", err)
		}
	}
	if err := s.db.UpsertIssue(ctx, issueRow(repositoryID, issue)); err != nil {
		return 0, fmt.Errorf("failed to upsert issue: %w", err)
	}

	comments, err := gh.ListIssueComments(ctx, owner, name, number)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}
	for _, c := range comments {
		if u := userRow(c.GetUser()); u != nil {
			if err := s.db.UpsertUser(ctx, u); err != nil {
				return 0, fmt.Errorf("failed to upsert user: %w", err)
			}
		}
		if err := s.db.UpsertIssueComment(ctx, commentRow(repositoryID, number, c)); err != nil {
			return 0, fmt.Errorf("failed to upsert comment: %w", err)
		}
	}

	if err := projection.UpdateAll(ctx, s.db, repositoryID, s.now()); err != nil {
		return 0, fmt.Errorf("failed to refresh projections: %w", err)
	}
	return repositoryID, nil
}
