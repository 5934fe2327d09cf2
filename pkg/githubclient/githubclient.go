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

// Package githubclient wraps the GitHub REST surface the mirror uses:
// typed endpoint calls, Link-header pagination, and rate-limit surfacing.
package githubclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"
)

// Typed error kinds surfaced to callers. Rate limits are reported through
// [RetryAfter] rather than a sentinel.
var (
	ErrEntityNotFound         = errors.New("entity not found on GitHub")
	ErrRepoNotFoundOnGitHub   = errors.New("repository not found on GitHub")
	ErrNotAuthenticated       = errors.New("not authenticated with GitHub")
	ErrInsufficientPermission = errors.New("insufficient permission")
)

// defaultRetryAfter is used when GitHub signals a rate limit without a
// usable reset hint.
const defaultRetryAfter = 60 * time.Second

// perPage is the page size used on every paginated endpoint.
const perPage = 100

// GitHub is an authenticated client bound to one token.
type GitHub struct {
	client *github.Client
}

// New creates a client from the given bearer token (App installation or
// user OAuth).
func New(ctx context.Context, token string) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHub{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// NewFromHTTPClient creates a client over a caller-supplied HTTP client.
// Tests point this at a local test server.
func NewFromHTTPClient(httpClient *http.Client, baseURL string) (*GitHub, error) {
	client := github.NewClient(httpClient)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set base url: %w", err)
		}
	}
	return &GitHub{client: client}, nil
}

// RetryAfter reports the pause GitHub asked for, if err is a rate-limit
// error. The duration comes from Retry-After or the rate reset time,
// defaulting to 60s.
func RetryAfter(err error) (time.Duration, bool) {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		if abuse.RetryAfter != nil && *abuse.RetryAfter > 0 {
			return *abuse.RetryAfter, true
		}
		return defaultRetryAfter, true
	}
	var limited *github.RateLimitError
	if errors.As(err, &limited) {
		if wait := time.Until(limited.Rate.Reset.Time); wait > 0 {
			return wait, true
		}
		return defaultRetryAfter, true
	}
	return 0, false
}

// classify converts go-github errors into the typed kinds above; rate
// limit errors pass through untouched for RetryAfter.
func classify(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var abuse *github.AbuseRateLimitError
	var limited *github.RateLimitError
	if errors.As(err, &abuse) || errors.As(err, &limited) {
		return err
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %s", notFound, ghErr.Message)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrNotAuthenticated, ghErr.Message)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrInsufficientPermission, ghErr.Message)
		}
	}
	return err
}

// GetRepository fetches repository metadata. A 404 maps to
// ErrRepoNotFoundOnGitHub.
func (g *GitHub) GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, classify(err, ErrRepoNotFoundOnGitHub)
	}
	return r, nil
}

// ListBranches returns every branch, following pagination.
func (g *GitHub) ListBranches(ctx context.Context, owner, repo string) ([]*github.Branch, error) {
	opt := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	var all []*github.Branch
	for {
		branches, resp, err := g.client.Repositories.ListBranches(ctx, owner, repo, opt)
		if err != nil {
			return nil, classify(err, ErrRepoNotFoundOnGitHub)
		}
		all = append(all, branches...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListAllPullRequests returns every PR regardless of state, following
// pagination.
func (g *GitHub) ListAllPullRequests(ctx context.Context, owner, repo string) ([]*github.PullRequest, error) {
	opt := &github.PullRequestListOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var all []*github.PullRequest
	for {
		prs, resp, err := g.client.PullRequests.List(ctx, owner, repo, opt)
		if err != nil {
			return nil, classify(err, ErrRepoNotFoundOnGitHub)
		}
		all = append(all, prs...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListAllIssues returns every issue regardless of state, following
// pagination. The issues endpoint also returns pull requests; callers
// filter on the pull_request member.
func (g *GitHub) ListAllIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error) {
	opt := &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var all []*github.Issue
	for {
		issues, resp, err := g.client.Issues.ListByRepo(ctx, owner, repo, opt)
		if err != nil {
			return nil, classify(err, ErrRepoNotFoundOnGitHub)
		}
		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// GetPullRequest fetches a single PR. A 404 maps to ErrEntityNotFound.
func (g *GitHub) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classify(err, ErrEntityNotFound)
	}
	return pr, nil
}

// GetIssue fetches a single issue. A 404 maps to ErrEntityNotFound.
func (g *GitHub) GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error) {
	issue, _, err := g.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, classify(err, ErrEntityNotFound)
	}
	return issue, nil
}

// ListIssueComments returns every comment on an issue or PR, following
// pagination.
func (g *GitHub) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error) {
	opt := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	var all []*github.IssueComment
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, classify(err, ErrEntityNotFound)
		}
		all = append(all, comments...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListReviews returns every review on a PR, following pagination.
func (g *GitHub) ListReviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error) {
	opt := &github.ListOptions{PerPage: perPage}
	var all []*github.PullRequestReview
	for {
		reviews, resp, err := g.client.PullRequests.ListReviews(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, classify(err, ErrEntityNotFound)
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListRecentCommits returns the most recent commits on the given branch,
// first page only, up to perPage.
func (g *GitHub) ListRecentCommits(ctx context.Context, owner, repo, branch string) ([]*github.RepositoryCommit, error) {
	opt := &github.CommitsListOptions{
		SHA:         branch,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	commits, _, err := g.client.Repositories.ListCommits(ctx, owner, repo, opt)
	if err != nil {
		return nil, classify(err, ErrRepoNotFoundOnGitHub)
	}
	return commits, nil
}

// ListCheckRunsForRef returns every check run at the given SHA, following
// pagination.
func (g *GitHub) ListCheckRunsForRef(ctx context.Context, owner, repo, ref string) ([]*github.CheckRun, error) {
	opt := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	var all []*github.CheckRun
	for {
		result, resp, err := g.client.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opt)
		if err != nil {
			return nil, classify(err, ErrEntityNotFound)
		}
		all = append(all, result.CheckRuns...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// ListWorkflowRuns returns the most recent workflow runs, first page only.
func (g *GitHub) ListWorkflowRuns(ctx context.Context, owner, repo string) ([]*github.WorkflowRun, error) {
	opt := &github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	runs, _, err := g.client.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opt)
	if err != nil {
		return nil, classify(err, ErrRepoNotFoundOnGitHub)
	}
	return runs.WorkflowRuns, nil
}

// ListWorkflowJobs returns the jobs of one workflow run, first page only.
func (g *GitHub) ListWorkflowJobs(ctx context.Context, owner, repo string, runID int64) ([]*github.WorkflowJob, error) {
	opt := &github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	jobs, _, err := g.client.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opt)
	if err != nil {
		return nil, classify(err, ErrEntityNotFound)
	}
	return jobs.Jobs, nil
}

// ListPullRequestFiles returns the files of a PR diff, following
// pagination and stopping once maxFiles records have been collected.
func (g *GitHub) ListPullRequestFiles(ctx context.Context, owner, repo string, number, maxFiles int) ([]*github.CommitFile, error) {
	opt := &github.ListOptions{PerPage: perPage}
	var all []*github.CommitFile
	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, classify(err, ErrEntityNotFound)
		}
		all = append(all, files...)
		if maxFiles > 0 && len(all) >= maxFiles {
			all = all[:maxFiles]
			break
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return all, nil
}

// CreateIssue opens a new issue.
func (g *GitHub) CreateIssue(ctx context.Context, owner, repo, title, body string) (*github.Issue, error) {
	issue, _, err := g.client.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // writeops extracts the HTTP status
	}
	return issue, nil
}

// CreateIssueComment adds a comment to an issue or PR.
func (g *GitHub) CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (*github.IssueComment, error) {
	comment, _, err := g.client.Issues.CreateComment(ctx, owner, repo, issueNumber, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return comment, nil
}

// UpdateIssueState opens or closes an issue.
func (g *GitHub) UpdateIssueState(ctx context.Context, owner, repo string, issueNumber int, state string) (*github.Issue, error) {
	issue, _, err := g.client.Issues.Edit(ctx, owner, repo, issueNumber, &github.IssueRequest{
		State: github.String(state),
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return issue, nil
}

// MergePullRequest merges a PR.
func (g *GitHub) MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.PullRequestMergeResult, error) {
	result, _, err := g.client.PullRequests.Merge(ctx, owner, repo, number, commitMessage, nil)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return result, nil
}
