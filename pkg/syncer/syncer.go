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

// Package syncer bridges gaps in the webhook stream: bootstrap of newly
// connected repositories, on-demand fetch of single entities, and PR
// file-diff sync.
package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"
	"github.com/sethvargo/go-retry"

	"github.com/abcxyz/github-mirror/pkg/githubclient"
	"github.com/abcxyz/github-mirror/pkg/store"
)

const (
	// MaxFilesPerPR bounds one PR diff sync.
	MaxFilesPerPR = 300

	// MaxPatchBytes is the per-file patch persistence bound; larger patches
	// are stored with a nil patch.
	MaxPatchBytes = 100_000

	// chunkSize bounds one upsert mutation.
	chunkSize = 50

	retryMinWait     = 1 * time.Second
	retryMaxAttempts = 4
)

// GitHubSource is the REST surface the sync paths consume.
type GitHubSource interface {
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
	ListBranches(ctx context.Context, owner, repo string) ([]*github.Branch, error)
	ListAllPullRequests(ctx context.Context, owner, repo string) ([]*github.PullRequest, error)
	ListAllIssues(ctx context.Context, owner, repo string) ([]*github.Issue, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error)
	ListRecentCommits(ctx context.Context, owner, repo, branch string) ([]*github.RepositoryCommit, error)
	ListCheckRunsForRef(ctx context.Context, owner, repo, ref string) ([]*github.CheckRun, error)
	ListWorkflowRuns(ctx context.Context, owner, repo string) ([]*github.WorkflowRun, error)
	ListWorkflowJobs(ctx context.Context, owner, repo string, runID int64) ([]*github.WorkflowJob, error)
	ListPullRequestFiles(ctx context.Context, owner, repo string, number, maxFiles int) ([]*github.CommitFile, error)
}

// SourceFactory yields a GitHubSource authenticated for the given
// installation. Installation ID zero means the default token.
type SourceFactory func(ctx context.Context, installationID int64) (GitHubSource, error)

// Syncer owns the REST-driven sync paths over the shared store.
type Syncer struct {
	db     store.Store
	source SourceFactory

	// Now can be overridden in tests.
	Now func() time.Time
}

// New creates a syncer.
func New(db store.Store, source SourceFactory) *Syncer {
	return &Syncer{db: db, source: source, Now: time.Now}
}

func (s *Syncer) now() time.Time {
	return s.Now().UTC()
}

// withRetry retries fn with a Fibonacci backoff while githubclient.RetryAfter
// reports a rate limit; any other error, 5xx included, returns at once.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryMaxAttempts, retry.NewFibonacci(retryMinWait))
	return retry.Do(ctx, backoff, func(ctx context.Context) error { //nolint:wrapcheck // callers wrap
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if _, limited := githubclient.RetryAfter(err); limited {
			return retry.RetryableError(err)
		}
		return err
	})
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size > 0 && len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// --- row conversions from REST types ---

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func userRow(u *github.User) *store.User {
	if u == nil || u.GetID() == 0 {
		return nil
	}
	return &store.User{
		UserID:    u.GetID(),
		Login:     u.GetLogin(),
		AvatarURL: u.GetAvatarURL(),
		HTMLURL:   u.GetHTMLURL(),
	}
}

func userIDs(users []*github.User) []int64 {
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		if u.GetID() != 0 {
			ids = append(ids, u.GetID())
		}
	}
	return ids
}

func repoRow(installationID int64, r *github.Repository) *store.Repository {
	visibility := store.Visibility(r.GetVisibility())
	if visibility == "" {
		if r.GetPrivate() {
			visibility = store.VisibilityPrivate
		} else {
			visibility = store.VisibilityPublic
		}
	}
	return &store.Repository{
		RepositoryID:    r.GetID(),
		InstallationID:  installationID,
		OwnerLogin:      r.GetOwner().GetLogin(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		Visibility:      visibility,
		DefaultBranch:   r.GetDefaultBranch(),
		Archived:        r.GetArchived(),
		Disabled:        r.GetDisabled(),
		Fork:            r.GetFork(),
		PushedAt:        timePtr(r.PushedAt),
		GitHubUpdatedAt: timePtr(r.UpdatedAt),
	}
}

func prRow(repositoryID int64, pr *github.PullRequest) *store.PullRequest {
	var authorID *int64
	if u := userRow(pr.GetUser()); u != nil {
		id := u.UserID
		authorID = &id
	}
	return &store.PullRequest{
		RepositoryID:         repositoryID,
		Number:               pr.GetNumber(),
		GitHubPRID:           pr.GetID(),
		State:                pr.GetState(),
		Draft:                pr.GetDraft(),
		Title:                pr.GetTitle(),
		Body:                 pr.GetBody(),
		AuthorUserID:         authorID,
		HeadRef:              pr.GetHead().GetRef(),
		HeadSHA:              pr.GetHead().GetSHA(),
		BaseRef:              pr.GetBase().GetRef(),
		AssigneeUserIDs:      userIDs(pr.Assignees),
		RequestedReviewerIDs: userIDs(pr.RequestedReviewers),
		MergeableState:       pr.GetMergeableState(),
		CommentCount:         pr.GetComments(),
		MergedAt:             timePtr(pr.MergedAt),
		ClosedAt:             timePtr(pr.ClosedAt),
		GitHubUpdatedAt:      pr.GetUpdatedAt().Time.UTC(),
	}
}

func issueRow(repositoryID int64, issue *github.Issue) *store.Issue {
	var authorID *int64
	if u := userRow(issue.GetUser()); u != nil {
		id := u.UserID
		authorID = &id
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &store.Issue{
		RepositoryID:    repositoryID,
		Number:          issue.GetNumber(),
		GitHubIssueID:   issue.GetID(),
		State:           issue.GetState(),
		Title:           issue.GetTitle(),
		Body:            issue.GetBody(),
		LabelNames:      labels,
		AssigneeUserIDs: userIDs(issue.Assignees),
		AuthorUserID:    authorID,
		CommentCount:    issue.GetComments(),
		IsPullRequest:   issue.PullRequestLinks != nil,
		ClosedAt:        timePtr(issue.ClosedAt),
		GitHubUpdatedAt: issue.GetUpdatedAt().Time.UTC(),
	}
}

func commentRow(repositoryID int64, issueNumber int, c *github.IssueComment) *store.IssueComment {
	var authorID *int64
	if u := userRow(c.GetUser()); u != nil {
		id := u.UserID
		authorID = &id
	}
	return &store.IssueComment{
		RepositoryID:    repositoryID,
		GitHubCommentID: c.GetID(),
		IssueNumber:     issueNumber,
		AuthorUserID:    authorID,
		Body:            c.GetBody(),
		CreatedAt:       c.GetCreatedAt().Time.UTC(),
		UpdatedAt:       c.GetUpdatedAt().Time.UTC(),
	}
}

func reviewRow(repositoryID int64, prNumber int, r *github.PullRequestReview) *store.PullRequestReview {
	var reviewerID *int64
	if u := userRow(r.GetUser()); u != nil {
		id := u.UserID
		reviewerID = &id
	}
	return &store.PullRequestReview{
		RepositoryID:      repositoryID,
		GitHubReviewID:    r.GetID(),
		PullRequestNumber: prNumber,
		ReviewerUserID:    reviewerID,
		State:             r.GetState(),
		CommitSHA:         r.GetCommitID(),
		SubmittedAt:       timePtr(r.SubmittedAt),
	}
}

func checkRunRow(repositoryID int64, cr *github.CheckRun) *store.CheckRun {
	return &store.CheckRun{
		RepositoryID:     repositoryID,
		GitHubCheckRunID: cr.GetID(),
		Name:             cr.GetName(),
		HeadSHA:          cr.GetHeadSHA(),
		Status:           cr.GetStatus(),
		Conclusion:       cr.GetConclusion(),
		StartedAt:        timePtr(cr.StartedAt),
		CompletedAt:      timePtr(cr.CompletedAt),
	}
}

// jobCheckRunRow maps a workflow job onto the check-run shape; job IDs are
// the corresponding check-run IDs on GitHub.
func jobCheckRunRow(repositoryID int64, job *github.WorkflowJob) *store.CheckRun {
	return &store.CheckRun{
		RepositoryID:     repositoryID,
		GitHubCheckRunID: job.GetID(),
		Name:             job.GetName(),
		HeadSHA:          job.GetHeadSHA(),
		Status:           job.GetStatus(),
		Conclusion:       job.GetConclusion(),
		StartedAt:        timePtr(job.StartedAt),
		CompletedAt:      timePtr(job.CompletedAt),
	}
}

func commitRow(repositoryID int64, rc *github.RepositoryCommit) *store.Commit {
	headline, _, _ := strings.Cut(rc.GetCommit().GetMessage(), "\n")
	var authorID, committerID *int64
	if u := userRow(rc.GetAuthor()); u != nil {
		id := u.UserID
		authorID = &id
	}
	if u := userRow(rc.GetCommitter()); u != nil {
		id := u.UserID
		committerID = &id
	}
	return &store.Commit{
		RepositoryID:    repositoryID,
		SHA:             rc.GetSHA(),
		MessageHeadline: headline,
		AuthorUserID:    authorID,
		CommitterUserID: committerID,
		AuthoredAt:      timePtr(rc.GetCommit().GetAuthor().Date),
		CommittedAt:     timePtr(rc.GetCommit().GetCommitter().Date),
	}
}
