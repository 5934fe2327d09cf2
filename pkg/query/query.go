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

// Package query is the bounded, indexed read surface that backs the
// dashboard, plus the operational status queries.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// Read bounds. Every read is strictly bounded.
const (
	maxListRows       = 200
	maxDetailComments = 500
	maxDetailReviews  = 200
	maxRepoOverviews  = 100
	maxSyncJobs       = 100

	// staleRetryAge flags retry rows the promoter should have drained.
	staleRetryAge = 5 * time.Minute
)

// ErrEntityNotFound is returned for detail reads whose entity has no local
// row.
var ErrEntityNotFound = errors.New("entity not found")

// Reader serves read queries over the store.
type Reader struct {
	db store.Store

	// Now can be overridden in tests.
	Now func() time.Time
}

// New creates a reader.
func New(db store.Store) *Reader {
	return &Reader{db: db, Now: time.Now}
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// ListRepos returns up to 100 repository overviews.
func (r *Reader) ListRepos(ctx context.Context) ([]*store.RepoOverview, error) {
	out, err := r.db.ListRepoOverviews(ctx, maxRepoOverviews)
	if err != nil {
		return nil, fmt.Errorf("failed to list repo overviews: %w", err)
	}
	return out, nil
}

// ListPullRequests returns the PR list projection, newest first. A non-nil
// before cursor pages past rows with SortUpdated >= before.
func (r *Reader) ListPullRequests(ctx context.Context, repositoryID int64, limit int, before *time.Time) ([]*store.RepoPullRequestItem, error) {
	limit = clampLimit(limit, maxListRows)
	var (
		out []*store.RepoPullRequestItem
		err error
	)
	if before != nil {
		out, err = r.db.ListPullRequestItemsBefore(ctx, repositoryID, *before, limit)
	} else {
		out, err = r.db.ListPullRequestItems(ctx, repositoryID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pull request items: %w", err)
	}
	return out, nil
}

// ListIssues returns the issue list projection, newest first, with the
// same cursor semantics as ListPullRequests.
func (r *Reader) ListIssues(ctx context.Context, repositoryID int64, limit int, before *time.Time) ([]*store.RepoIssueItem, error) {
	limit = clampLimit(limit, maxListRows)
	var (
		out []*store.RepoIssueItem
		err error
	)
	if before != nil {
		out, err = r.db.ListIssueItemsBefore(ctx, repositoryID, *before, limit)
	} else {
		out, err = r.db.ListIssueItems(ctx, repositoryID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list issue items: %w", err)
	}
	return out, nil
}

// ListActivity returns the activity feed, newest first, with a created-at
// cursor.
func (r *Reader) ListActivity(ctx context.Context, repositoryID int64, limit int, before *time.Time) ([]*store.ActivityEntry, error) {
	limit = clampLimit(limit, maxListRows)
	var (
		out []*store.ActivityEntry
		err error
	)
	if before != nil {
		out, err = r.db.ListActivityBefore(ctx, repositoryID, *before, limit)
	} else {
		out, err = r.db.ListActivity(ctx, repositoryID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return out, nil
}

// CommentDetail is one comment joined with its author.
type CommentDetail struct {
	GitHubCommentID int64     `json:"githubCommentId"`
	Body            string    `json:"body"`
	AuthorLogin     string    `json:"authorLogin"`
	AuthorAvatarURL string    `json:"authorAvatarUrl"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ReviewDetail is one review joined with its reviewer.
type ReviewDetail struct {
	GitHubReviewID  int64      `json:"githubReviewId"`
	State           string     `json:"state"`
	CommitSHA       string     `json:"commitSha"`
	AuthorLogin     string     `json:"authorLogin"`
	AuthorAvatarURL string     `json:"authorAvatarUrl"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
}

// CheckRunDetail is one check run in the detail read shape.
type CheckRunDetail struct {
	GitHubCheckRunID int64      `json:"githubCheckRunId"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	Conclusion       string     `json:"conclusion"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// PRDetail is the single-PR read shape.
type PRDetail struct {
	PullRequest     *store.PullRequest `json:"pullRequest"`
	AuthorLogin     string             `json:"authorLogin"`
	AuthorAvatarURL string             `json:"authorAvatarUrl"`
	Comments        []*CommentDetail   `json:"comments"`
	Reviews         []*ReviewDetail    `json:"reviews"`
	CheckRuns       []*CheckRunDetail  `json:"checkRuns"`
}

// IssueDetail is the single-issue read shape.
type IssueDetail struct {
	Issue           *store.Issue     `json:"issue"`
	AuthorLogin     string           `json:"authorLogin"`
	AuthorAvatarURL string           `json:"authorAvatarUrl"`
	Comments        []*CommentDetail `json:"comments"`
}

func (r *Reader) author(ctx context.Context, userID *int64) (string, string) {
	if userID == nil {
		return "", ""
	}
	u, err := r.db.GetUser(ctx, *userID)
	if err != nil {
		return "", ""
	}
	return u.Login, u.AvatarURL
}

func (r *Reader) commentDetails(ctx context.Context, repositoryID int64, number int) ([]*CommentDetail, error) {
	comments, err := r.db.ListIssueComments(ctx, repositoryID, number, maxDetailComments)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	out := make([]*CommentDetail, 0, len(comments))
	for _, c := range comments {
		login, avatar := r.author(ctx, c.AuthorUserID)
		out = append(out, &CommentDetail{
			GitHubCommentID: c.GitHubCommentID,
			Body:            c.Body,
			AuthorLogin:     login,
			AuthorAvatarURL: avatar,
			CreatedAt:       c.CreatedAt,
			UpdatedAt:       c.UpdatedAt,
		})
	}
	return out, nil
}

// GetPRDetail returns one PR with its comments, reviews, and check runs.
func (r *Reader) GetPRDetail(ctx context.Context, repositoryID int64, number int) (*PRDetail, error) {
	pr, err := r.db.GetPullRequest(ctx, repositoryID, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: pull request %d", ErrEntityNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	login, avatar := r.author(ctx, pr.AuthorUserID)
	comments, err := r.commentDetails(ctx, repositoryID, number)
	if err != nil {
		return nil, err
	}

	reviews, err := r.db.ListReviews(ctx, repositoryID, number, maxDetailReviews)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	reviewDetails := make([]*ReviewDetail, 0, len(reviews))
	for _, rv := range reviews {
		rlogin, ravatar := r.author(ctx, rv.ReviewerUserID)
		reviewDetails = append(reviewDetails, &ReviewDetail{
			GitHubReviewID:  rv.GitHubReviewID,
			State:           rv.State,
			CommitSHA:       rv.CommitSHA,
			AuthorLogin:     rlogin,
			AuthorAvatarURL: ravatar,
			SubmittedAt:     rv.SubmittedAt,
		})
	}

	var checkDetails []*CheckRunDetail
	if pr.HeadSHA != "" {
		checks, err := r.db.ListCheckRunsForSHA(ctx, repositoryID, pr.HeadSHA)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs: %w", err)
		}
		for _, c := range checks {
			checkDetails = append(checkDetails, &CheckRunDetail{
				GitHubCheckRunID: c.GitHubCheckRunID,
				Name:             c.Name,
				Status:           c.Status,
				Conclusion:       c.Conclusion,
				StartedAt:        c.StartedAt,
				CompletedAt:      c.CompletedAt,
			})
		}
	}

	return &PRDetail{
		PullRequest:     pr,
		AuthorLogin:     login,
		AuthorAvatarURL: avatar,
		Comments:        comments,
		Reviews:         reviewDetails,
		CheckRuns:       checkDetails,
	}, nil
}

// GetIssueDetail returns one issue with its comments.
func (r *Reader) GetIssueDetail(ctx context.Context, repositoryID int64, number int) (*IssueDetail, error) {
	issue, err := r.db.GetIssue(ctx, repositoryID, number)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: issue %d", ErrEntityNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	login, avatar := r.author(ctx, issue.AuthorUserID)
	comments, err := r.commentDetails(ctx, repositoryID, number)
	if err != nil {
		return nil, err
	}

	return &IssueDetail{
		Issue:           issue,
		AuthorLogin:     login,
		AuthorAvatarURL: avatar,
		Comments:        comments,
	}, nil
}

// ListPullRequestFiles returns the cached diff of one PR.
func (r *Reader) ListPullRequestFiles(ctx context.Context, repositoryID int64, number int) ([]*store.PullRequestFile, error) {
	files, err := r.db.ListPullRequestFiles(ctx, repositoryID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull request files: %w", err)
	}
	return files, nil
}
