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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/abcxyz/github-mirror/pkg/store"
)

func (d *DB) UpsertInstallation(ctx context.Context, in *store.Installation) error {
	const q = `
		INSERT INTO installations (installation_id, account_login, account_kind, suspended_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (installation_id) DO UPDATE SET
			account_login = EXCLUDED.account_login,
			account_kind = EXCLUDED.account_kind,
			suspended_at = EXCLUDED.suspended_at`
	if _, err := d.q.Exec(ctx, q, in.InstallationID, in.AccountLogin, string(in.AccountKind), in.SuspendedAt); err != nil {
		return fmt.Errorf("UpsertInstallation: %w", err)
	}
	return nil
}

func (d *DB) GetInstallation(ctx context.Context, installationID int64) (*store.Installation, error) {
	const q = `SELECT installation_id, account_login, account_kind, suspended_at FROM installations WHERE installation_id = $1`
	var in store.Installation
	var kind string
	err := d.q.QueryRow(ctx, q, installationID).Scan(&in.InstallationID, &in.AccountLogin, &kind, &in.SuspendedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetInstallation: %w", err)
	}
	in.AccountKind = store.AccountKind(kind)
	return &in, nil
}

const repoColumns = `repository_id, installation_id, owner_login, name, full_name, visibility,
	default_branch, archived, disabled, fork, pushed_at, github_updated_at`

func scanRepository(row pgx.Row) (*store.Repository, error) {
	var r store.Repository
	var visibility string
	if err := row.Scan(&r.RepositoryID, &r.InstallationID, &r.OwnerLogin, &r.Name, &r.FullName,
		&visibility, &r.DefaultBranch, &r.Archived, &r.Disabled, &r.Fork, &r.PushedAt, &r.GitHubUpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	r.Visibility = store.Visibility(visibility)
	return &r, nil
}

func (d *DB) UpsertRepository(ctx context.Context, r *store.Repository) error {
	const q = `
		INSERT INTO repositories (` + repoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (repository_id) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			owner_login = EXCLUDED.owner_login,
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			visibility = EXCLUDED.visibility,
			default_branch = EXCLUDED.default_branch,
			archived = EXCLUDED.archived,
			disabled = EXCLUDED.disabled,
			fork = EXCLUDED.fork,
			pushed_at = EXCLUDED.pushed_at,
			github_updated_at = EXCLUDED.github_updated_at`
	if _, err := d.q.Exec(ctx, q, r.RepositoryID, r.InstallationID, r.OwnerLogin, r.Name, r.FullName,
		string(r.Visibility), r.DefaultBranch, r.Archived, r.Disabled, r.Fork, r.PushedAt, r.GitHubUpdatedAt); err != nil {
		return fmt.Errorf("UpsertRepository: %w", err)
	}
	return nil
}

func (d *DB) GetRepository(ctx context.Context, repositoryID int64) (*store.Repository, error) {
	q := `SELECT ` + repoColumns + ` FROM repositories WHERE repository_id = $1`
	r, err := scanRepository(d.q.QueryRow(ctx, q, repositoryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRepository: %w", err)
	}
	return r, nil
}

func (d *DB) GetRepositoryByFullName(ctx context.Context, ownerLogin, name string) (*store.Repository, error) {
	q := `SELECT ` + repoColumns + ` FROM repositories WHERE owner_login = $1 AND name = $2`
	r, err := scanRepository(d.q.QueryRow(ctx, q, ownerLogin, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRepositoryByFullName: %w", err)
	}
	return r, nil
}

func (d *DB) ListRepositories(ctx context.Context, limit int) ([]*store.Repository, error) {
	q := `SELECT ` + repoColumns + ` FROM repositories ORDER BY full_name`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRepositories: %w", err)
	}
	defer rows.Close()

	var out []*store.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRepositories scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) UpsertUser(ctx context.Context, u *store.User) error {
	const q = `
		INSERT INTO users (user_id, login, avatar_url, html_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			login = EXCLUDED.login,
			avatar_url = EXCLUDED.avatar_url,
			html_url = EXCLUDED.html_url`
	if _, err := d.q.Exec(ctx, q, u.UserID, u.Login, u.AvatarURL, u.HTMLURL); err != nil {
		return fmt.Errorf("UpsertUser: %w", err)
	}
	return nil
}

func (d *DB) UpsertUsers(ctx context.Context, users []*store.User) error {
	for _, u := range users {
		if err := d.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	const q = `SELECT user_id, login, avatar_url, html_url FROM users WHERE user_id = $1`
	var u store.User
	err := d.q.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.Login, &u.AvatarURL, &u.HTMLURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	return &u, nil
}

func (d *DB) UpsertBranch(ctx context.Context, b *store.Branch) error {
	const q = `
		INSERT INTO branches (repository_id, name, head_sha, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, name) DO UPDATE SET
			head_sha = EXCLUDED.head_sha,
			updated_at = EXCLUDED.updated_at`
	if _, err := d.q.Exec(ctx, q, b.RepositoryID, b.Name, b.HeadSHA, b.UpdatedAt); err != nil {
		return fmt.Errorf("UpsertBranch: %w", err)
	}
	return nil
}

func (d *DB) GetBranch(ctx context.Context, repositoryID int64, name string) (*store.Branch, error) {
	const q = `SELECT repository_id, name, head_sha, updated_at FROM branches WHERE repository_id = $1 AND name = $2`
	var b store.Branch
	err := d.q.QueryRow(ctx, q, repositoryID, name).Scan(&b.RepositoryID, &b.Name, &b.HeadSHA, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetBranch: %w", err)
	}
	return &b, nil
}

func (d *DB) DeleteBranch(ctx context.Context, repositoryID int64, name string) error {
	if _, err := d.q.Exec(ctx, `DELETE FROM branches WHERE repository_id = $1 AND name = $2`, repositoryID, name); err != nil {
		return fmt.Errorf("DeleteBranch: %w", err)
	}
	return nil
}

func (d *DB) ListBranches(ctx context.Context, repositoryID int64) ([]*store.Branch, error) {
	const q = `SELECT repository_id, name, head_sha, updated_at FROM branches WHERE repository_id = $1 ORDER BY name`
	rows, err := d.q.Query(ctx, q, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("ListBranches: %w", err)
	}
	defer rows.Close()

	var out []*store.Branch
	for rows.Next() {
		var b store.Branch
		if err := rows.Scan(&b.RepositoryID, &b.Name, &b.HeadSHA, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListBranches scan: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) InsertCommitIfAbsent(ctx context.Context, c *store.Commit) error {
	const q = `
		INSERT INTO commits (repository_id, sha, message_headline, author_user_id, committer_user_id, authored_at, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository_id, sha) DO NOTHING`
	if _, err := d.q.Exec(ctx, q, c.RepositoryID, c.SHA, c.MessageHeadline,
		c.AuthorUserID, c.CommitterUserID, c.AuthoredAt, c.CommittedAt); err != nil {
		return fmt.Errorf("InsertCommitIfAbsent: %w", err)
	}
	return nil
}

func (d *DB) ListRecentCommits(ctx context.Context, repositoryID int64, limit int) ([]*store.Commit, error) {
	const q = `
		SELECT repository_id, sha, message_headline, author_user_id, committer_user_id, authored_at, committed_at
		FROM commits
		WHERE repository_id = $1
		ORDER BY committed_at DESC NULLS LAST
		LIMIT $2`
	rows, err := d.q.Query(ctx, q, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRecentCommits: %w", err)
	}
	defer rows.Close()

	var out []*store.Commit
	for rows.Next() {
		var c store.Commit
		if err := rows.Scan(&c.RepositoryID, &c.SHA, &c.MessageHeadline,
			&c.AuthorUserID, &c.CommitterUserID, &c.AuthoredAt, &c.CommittedAt); err != nil {
			return nil, fmt.Errorf("ListRecentCommits scan: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err() //nolint:wrapcheck
}

const prColumns = `repository_id, number, github_pr_id, state, draft, title, body, author_user_id,
	head_ref, head_sha, base_ref, assignee_user_ids, requested_reviewer_ids, mergeable_state,
	comment_count, review_count, merged_at, closed_at, github_updated_at`

func scanPullRequest(row pgx.Row) (*store.PullRequest, error) {
	var pr store.PullRequest
	if err := row.Scan(&pr.RepositoryID, &pr.Number, &pr.GitHubPRID, &pr.State, &pr.Draft, &pr.Title,
		&pr.Body, &pr.AuthorUserID, &pr.HeadRef, &pr.HeadSHA, &pr.BaseRef, &pr.AssigneeUserIDs,
		&pr.RequestedReviewerIDs, &pr.MergeableState, &pr.CommentCount, &pr.ReviewCount,
		&pr.MergedAt, &pr.ClosedAt, &pr.GitHubUpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &pr, nil
}

// UpsertPullRequest replaces the stored row unless the incoming update is
// older; the WHERE clause on the conflict arm is the out-of-order guard.
func (d *DB) UpsertPullRequest(ctx context.Context, pr *store.PullRequest) error {
	const q = `
		INSERT INTO pull_requests (` + prColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			github_pr_id = EXCLUDED.github_pr_id,
			state = EXCLUDED.state,
			draft = EXCLUDED.draft,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			author_user_id = EXCLUDED.author_user_id,
			head_ref = EXCLUDED.head_ref,
			head_sha = EXCLUDED.head_sha,
			base_ref = EXCLUDED.base_ref,
			assignee_user_ids = EXCLUDED.assignee_user_ids,
			requested_reviewer_ids = EXCLUDED.requested_reviewer_ids,
			mergeable_state = EXCLUDED.mergeable_state,
			comment_count = EXCLUDED.comment_count,
			review_count = EXCLUDED.review_count,
			merged_at = EXCLUDED.merged_at,
			closed_at = EXCLUDED.closed_at,
			github_updated_at = EXCLUDED.github_updated_at
		WHERE EXCLUDED.github_updated_at >= pull_requests.github_updated_at`
	if _, err := d.q.Exec(ctx, q, pr.RepositoryID, pr.Number, pr.GitHubPRID, pr.State, pr.Draft,
		pr.Title, pr.Body, pr.AuthorUserID, pr.HeadRef, pr.HeadSHA, pr.BaseRef, pr.AssigneeUserIDs,
		pr.RequestedReviewerIDs, pr.MergeableState, pr.CommentCount, pr.ReviewCount,
		pr.MergedAt, pr.ClosedAt, pr.GitHubUpdatedAt); err != nil {
		return fmt.Errorf("UpsertPullRequest: %w", err)
	}
	return nil
}

func (d *DB) GetPullRequest(ctx context.Context, repositoryID int64, number int) (*store.PullRequest, error) {
	q := `SELECT ` + prColumns + ` FROM pull_requests WHERE repository_id = $1 AND number = $2`
	pr, err := scanPullRequest(d.q.QueryRow(ctx, q, repositoryID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetPullRequest: %w", err)
	}
	return pr, nil
}

func (d *DB) listPullRequests(ctx context.Context, q string, args ...any) ([]*store.PullRequest, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rows.Close()

	var out []*store.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, pr)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListPullRequests(ctx context.Context, repositoryID int64, limit int) ([]*store.PullRequest, error) {
	q := `SELECT ` + prColumns + ` FROM pull_requests WHERE repository_id = $1 ORDER BY github_updated_at DESC`
	args := []any{repositoryID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	out, err := d.listPullRequests(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListPullRequests: %w", err)
	}
	return out, nil
}

func (d *DB) ListOpenPullRequests(ctx context.Context, repositoryID int64) ([]*store.PullRequest, error) {
	q := `SELECT ` + prColumns + ` FROM pull_requests WHERE repository_id = $1 AND state = 'open' ORDER BY number`
	out, err := d.listPullRequests(ctx, q, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("ListOpenPullRequests: %w", err)
	}
	return out, nil
}

func (d *DB) UpsertReview(ctx context.Context, r *store.PullRequestReview) error {
	const q = `
		INSERT INTO pull_request_reviews
			(repository_id, github_review_id, pull_request_number, reviewer_user_id, state, commit_sha, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository_id, github_review_id) DO UPDATE SET
			pull_request_number = EXCLUDED.pull_request_number,
			reviewer_user_id = EXCLUDED.reviewer_user_id,
			state = EXCLUDED.state,
			commit_sha = EXCLUDED.commit_sha,
			submitted_at = EXCLUDED.submitted_at`
	if _, err := d.q.Exec(ctx, q, r.RepositoryID, r.GitHubReviewID, r.PullRequestNumber,
		r.ReviewerUserID, r.State, r.CommitSHA, r.SubmittedAt); err != nil {
		return fmt.Errorf("UpsertReview: %w", err)
	}
	return nil
}

func (d *DB) ListReviews(ctx context.Context, repositoryID int64, pullRequestNumber, limit int) ([]*store.PullRequestReview, error) {
	q := `
		SELECT repository_id, github_review_id, pull_request_number, reviewer_user_id, state, commit_sha, submitted_at
		FROM pull_request_reviews
		WHERE repository_id = $1 AND pull_request_number = $2
		ORDER BY github_review_id`
	args := []any{repositoryID, pullRequestNumber}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListReviews: %w", err)
	}
	defer rows.Close()

	var out []*store.PullRequestReview
	for rows.Next() {
		var r store.PullRequestReview
		if err := rows.Scan(&r.RepositoryID, &r.GitHubReviewID, &r.PullRequestNumber,
			&r.ReviewerUserID, &r.State, &r.CommitSHA, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("ListReviews scan: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err() //nolint:wrapcheck
}

const issueColumns = `repository_id, number, github_issue_id, state, title, body, label_names,
	assignee_user_ids, author_user_id, comment_count, is_pull_request, closed_at, github_updated_at`

func scanIssue(row pgx.Row) (*store.Issue, error) {
	var i store.Issue
	if err := row.Scan(&i.RepositoryID, &i.Number, &i.GitHubIssueID, &i.State, &i.Title, &i.Body,
		&i.LabelNames, &i.AssigneeUserIDs, &i.AuthorUserID, &i.CommentCount, &i.IsPullRequest,
		&i.ClosedAt, &i.GitHubUpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &i, nil
}

// UpsertIssue carries the same out-of-order guard as UpsertPullRequest.
func (d *DB) UpsertIssue(ctx context.Context, i *store.Issue) error {
	const q = `
		INSERT INTO issues (` + issueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (repository_id, number) DO UPDATE SET
			github_issue_id = EXCLUDED.github_issue_id,
			state = EXCLUDED.state,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			label_names = EXCLUDED.label_names,
			assignee_user_ids = EXCLUDED.assignee_user_ids,
			author_user_id = EXCLUDED.author_user_id,
			comment_count = EXCLUDED.comment_count,
			is_pull_request = EXCLUDED.is_pull_request,
			closed_at = EXCLUDED.closed_at,
			github_updated_at = EXCLUDED.github_updated_at
		WHERE EXCLUDED.github_updated_at >= issues.github_updated_at`
	if _, err := d.q.Exec(ctx, q, i.RepositoryID, i.Number, i.GitHubIssueID, i.State, i.Title, i.Body,
		i.LabelNames, i.AssigneeUserIDs, i.AuthorUserID, i.CommentCount, i.IsPullRequest,
		i.ClosedAt, i.GitHubUpdatedAt); err != nil {
		return fmt.Errorf("UpsertIssue: %w", err)
	}
	return nil
}

func (d *DB) GetIssue(ctx context.Context, repositoryID int64, number int) (*store.Issue, error) {
	q := `SELECT ` + issueColumns + ` FROM issues WHERE repository_id = $1 AND number = $2`
	i, err := scanIssue(d.q.QueryRow(ctx, q, repositoryID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetIssue: %w", err)
	}
	return i, nil
}

func (d *DB) ListIssues(ctx context.Context, repositoryID int64, limit int) ([]*store.Issue, error) {
	q := `SELECT ` + issueColumns + ` FROM issues WHERE repository_id = $1 ORDER BY github_updated_at DESC`
	args := []any{repositoryID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListIssues: %w", err)
	}
	defer rows.Close()

	var out []*store.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("ListIssues scan: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) UpsertIssueComment(ctx context.Context, c *store.IssueComment) error {
	const q = `
		INSERT INTO issue_comments
			(repository_id, github_comment_id, issue_number, author_user_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository_id, github_comment_id) DO UPDATE SET
			issue_number = EXCLUDED.issue_number,
			author_user_id = EXCLUDED.author_user_id,
			body = EXCLUDED.body,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`
	if _, err := d.q.Exec(ctx, q, c.RepositoryID, c.GitHubCommentID, c.IssueNumber,
		c.AuthorUserID, c.Body, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("UpsertIssueComment: %w", err)
	}
	return nil
}

func (d *DB) DeleteIssueComment(ctx context.Context, repositoryID, githubCommentID int64) error {
	if _, err := d.q.Exec(ctx, `DELETE FROM issue_comments WHERE repository_id = $1 AND github_comment_id = $2`,
		repositoryID, githubCommentID); err != nil {
		return fmt.Errorf("DeleteIssueComment: %w", err)
	}
	return nil
}

func (d *DB) ListIssueComments(ctx context.Context, repositoryID int64, issueNumber, limit int) ([]*store.IssueComment, error) {
	q := `
		SELECT repository_id, github_comment_id, issue_number, author_user_id, body, created_at, updated_at
		FROM issue_comments
		WHERE repository_id = $1 AND issue_number = $2
		ORDER BY created_at`
	args := []any{repositoryID, issueNumber}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListIssueComments: %w", err)
	}
	defer rows.Close()

	var out []*store.IssueComment
	for rows.Next() {
		var c store.IssueComment
		if err := rows.Scan(&c.RepositoryID, &c.GitHubCommentID, &c.IssueNumber,
			&c.AuthorUserID, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListIssueComments scan: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err() //nolint:wrapcheck
}

const checkRunColumns = `repository_id, github_check_run_id, name, head_sha, status, conclusion, started_at, completed_at`

func (d *DB) UpsertCheckRun(ctx context.Context, cr *store.CheckRun) error {
	const q = `
		INSERT INTO check_runs (` + checkRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repository_id, github_check_run_id) DO UPDATE SET
			name = EXCLUDED.name,
			head_sha = EXCLUDED.head_sha,
			status = EXCLUDED.status,
			conclusion = EXCLUDED.conclusion,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`
	if _, err := d.q.Exec(ctx, q, cr.RepositoryID, cr.GitHubCheckRunID, cr.Name, cr.HeadSHA,
		cr.Status, cr.Conclusion, cr.StartedAt, cr.CompletedAt); err != nil {
		return fmt.Errorf("UpsertCheckRun: %w", err)
	}
	return nil
}

func (d *DB) listCheckRuns(ctx context.Context, q string, args ...any) ([]*store.CheckRun, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rows.Close()

	var out []*store.CheckRun
	for rows.Next() {
		var cr store.CheckRun
		if err := rows.Scan(&cr.RepositoryID, &cr.GitHubCheckRunID, &cr.Name, &cr.HeadSHA,
			&cr.Status, &cr.Conclusion, &cr.StartedAt, &cr.CompletedAt); err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, &cr)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListCheckRuns(ctx context.Context, repositoryID int64) ([]*store.CheckRun, error) {
	q := `SELECT ` + checkRunColumns + ` FROM check_runs WHERE repository_id = $1 ORDER BY github_check_run_id`
	out, err := d.listCheckRuns(ctx, q, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("ListCheckRuns: %w", err)
	}
	return out, nil
}

func (d *DB) ListCheckRunsForSHA(ctx context.Context, repositoryID int64, headSHA string) ([]*store.CheckRun, error) {
	q := `SELECT ` + checkRunColumns + `
		FROM check_runs
		WHERE repository_id = $1 AND head_sha = $2
		ORDER BY started_at NULLS LAST`
	out, err := d.listCheckRuns(ctx, q, repositoryID, headSHA)
	if err != nil {
		return nil, fmt.Errorf("ListCheckRunsForSHA: %w", err)
	}
	return out, nil
}

func (d *DB) UpsertPullRequestFiles(ctx context.Context, files []*store.PullRequestFile) error {
	const q = `
		INSERT INTO pull_request_files
			(repository_id, pull_request_number, filename, status, additions, deletions, changes, patch, head_sha, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (repository_id, pull_request_number, filename) DO UPDATE SET
			status = EXCLUDED.status,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			changes = EXCLUDED.changes,
			patch = EXCLUDED.patch,
			head_sha = EXCLUDED.head_sha,
			cached_at = EXCLUDED.cached_at`
	for _, f := range files {
		if _, err := d.q.Exec(ctx, q, f.RepositoryID, f.PullRequestNumber, f.Filename, string(f.Status),
			f.Additions, f.Deletions, f.Changes, f.Patch, f.HeadSHA, f.CachedAt); err != nil {
			return fmt.Errorf("UpsertPullRequestFiles: %w", err)
		}
	}
	return nil
}

func (d *DB) ListPullRequestFiles(ctx context.Context, repositoryID int64, pullRequestNumber int) ([]*store.PullRequestFile, error) {
	const q = `
		SELECT repository_id, pull_request_number, filename, status, additions, deletions, changes, patch, head_sha, cached_at
		FROM pull_request_files
		WHERE repository_id = $1 AND pull_request_number = $2
		ORDER BY filename`
	rows, err := d.q.Query(ctx, q, repositoryID, pullRequestNumber)
	if err != nil {
		return nil, fmt.Errorf("ListPullRequestFiles: %w", err)
	}
	defer rows.Close()

	var out []*store.PullRequestFile
	for rows.Next() {
		var f store.PullRequestFile
		var status string
		if err := rows.Scan(&f.RepositoryID, &f.PullRequestNumber, &f.Filename, &status,
			&f.Additions, &f.Deletions, &f.Changes, &f.Patch, &f.HeadSHA, &f.CachedAt); err != nil {
			return nil, fmt.Errorf("ListPullRequestFiles scan: %w", err)
		}
		f.Status = store.FileStatus(status)
		out = append(out, &f)
	}
	return out, rows.Err() //nolint:wrapcheck
}
