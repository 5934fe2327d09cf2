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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/abcxyz/github-mirror/pkg/store"
)

func (d *DB) UpsertRepoOverview(ctx context.Context, o *store.RepoOverview) error {
	const q = `
		INSERT INTO repo_overviews (repository_id, open_pr_count, open_issue_count, failing_check_count, last_push_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (repository_id) DO UPDATE SET
			open_pr_count = EXCLUDED.open_pr_count,
			open_issue_count = EXCLUDED.open_issue_count,
			failing_check_count = EXCLUDED.failing_check_count,
			last_push_at = EXCLUDED.last_push_at,
			updated_at = EXCLUDED.updated_at`
	if _, err := d.q.Exec(ctx, q, o.RepositoryID, o.OpenPRCount, o.OpenIssueCount,
		o.FailingCheckCount, o.LastPushAt, o.UpdatedAt); err != nil {
		return fmt.Errorf("UpsertRepoOverview: %w", err)
	}
	return nil
}

const overviewColumns = `repository_id, open_pr_count, open_issue_count, failing_check_count, last_push_at, updated_at`

func scanOverview(row pgx.Row) (*store.RepoOverview, error) {
	var o store.RepoOverview
	if err := row.Scan(&o.RepositoryID, &o.OpenPRCount, &o.OpenIssueCount,
		&o.FailingCheckCount, &o.LastPushAt, &o.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &o, nil
}

func (d *DB) GetRepoOverview(ctx context.Context, repositoryID int64) (*store.RepoOverview, error) {
	q := `SELECT ` + overviewColumns + ` FROM repo_overviews WHERE repository_id = $1`
	o, err := scanOverview(d.q.QueryRow(ctx, q, repositoryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRepoOverview: %w", err)
	}
	return o, nil
}

func (d *DB) ListRepoOverviews(ctx context.Context, limit int) ([]*store.RepoOverview, error) {
	q := `SELECT ` + overviewColumns + ` FROM repo_overviews ORDER BY repository_id LIMIT $1`
	rows, err := d.q.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRepoOverviews: %w", err)
	}
	defer rows.Close()

	var out []*store.RepoOverview
	for rows.Next() {
		o, err := scanOverview(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRepoOverviews scan: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) CountRepoOverviews(ctx context.Context) (int, error) {
	var n int
	if err := d.q.QueryRow(ctx, `SELECT count(*) FROM repo_overviews`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountRepoOverviews: %w", err)
	}
	return n, nil
}

func (d *DB) ReplacePullRequestList(ctx context.Context, repositoryID int64, items []*store.RepoPullRequestItem) error {
	if _, err := d.q.Exec(ctx, `DELETE FROM repo_pull_request_items WHERE repository_id = $1`, repositoryID); err != nil {
		return fmt.Errorf("ReplacePullRequestList delete: %w", err)
	}
	const q = `
		INSERT INTO repo_pull_request_items
			(repository_id, number, title, state, draft, author_login, author_avatar_url,
			 comment_count, review_count, last_check_conclusion, sort_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, it := range items {
		if _, err := d.q.Exec(ctx, q, it.RepositoryID, it.Number, it.Title, it.State, it.Draft,
			it.AuthorLogin, it.AuthorAvatarURL, it.CommentCount, it.ReviewCount,
			it.LastCheckConclusion, it.SortUpdated); err != nil {
			return fmt.Errorf("ReplacePullRequestList insert: %w", err)
		}
	}
	return nil
}

const prItemColumns = `repository_id, number, title, state, draft, author_login, author_avatar_url,
	comment_count, review_count, last_check_conclusion, sort_updated`

func (d *DB) listPRItems(ctx context.Context, q string, args ...any) ([]*store.RepoPullRequestItem, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rows.Close()

	var out []*store.RepoPullRequestItem
	for rows.Next() {
		var it store.RepoPullRequestItem
		if err := rows.Scan(&it.RepositoryID, &it.Number, &it.Title, &it.State, &it.Draft,
			&it.AuthorLogin, &it.AuthorAvatarURL, &it.CommentCount, &it.ReviewCount,
			&it.LastCheckConclusion, &it.SortUpdated); err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, &it)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListPullRequestItems(ctx context.Context, repositoryID int64, limit int) ([]*store.RepoPullRequestItem, error) {
	q := `SELECT ` + prItemColumns + ` FROM repo_pull_request_items
		WHERE repository_id = $1 ORDER BY sort_updated DESC LIMIT $2`
	out, err := d.listPRItems(ctx, q, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListPullRequestItems: %w", err)
	}
	return out, nil
}

func (d *DB) ListPullRequestItemsBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*store.RepoPullRequestItem, error) {
	q := `SELECT ` + prItemColumns + ` FROM repo_pull_request_items
		WHERE repository_id = $1 AND sort_updated < $2 ORDER BY sort_updated DESC LIMIT $3`
	out, err := d.listPRItems(ctx, q, repositoryID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("ListPullRequestItemsBefore: %w", err)
	}
	return out, nil
}

func (d *DB) ReplaceIssueList(ctx context.Context, repositoryID int64, items []*store.RepoIssueItem) error {
	if _, err := d.q.Exec(ctx, `DELETE FROM repo_issue_items WHERE repository_id = $1`, repositoryID); err != nil {
		return fmt.Errorf("ReplaceIssueList delete: %w", err)
	}
	const q = `
		INSERT INTO repo_issue_items
			(repository_id, number, title, state, author_login, author_avatar_url, comment_count, label_names, sort_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, it := range items {
		if _, err := d.q.Exec(ctx, q, it.RepositoryID, it.Number, it.Title, it.State,
			it.AuthorLogin, it.AuthorAvatarURL, it.CommentCount, it.LabelNames, it.SortUpdated); err != nil {
			return fmt.Errorf("ReplaceIssueList insert: %w", err)
		}
	}
	return nil
}

const issueItemColumns = `repository_id, number, title, state, author_login, author_avatar_url,
	comment_count, label_names, sort_updated`

func (d *DB) listIssueItems(ctx context.Context, q string, args ...any) ([]*store.RepoIssueItem, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rows.Close()

	var out []*store.RepoIssueItem
	for rows.Next() {
		var it store.RepoIssueItem
		if err := rows.Scan(&it.RepositoryID, &it.Number, &it.Title, &it.State,
			&it.AuthorLogin, &it.AuthorAvatarURL, &it.CommentCount, &it.LabelNames, &it.SortUpdated); err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, &it)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListIssueItems(ctx context.Context, repositoryID int64, limit int) ([]*store.RepoIssueItem, error) {
	q := `SELECT ` + issueItemColumns + ` FROM repo_issue_items
		WHERE repository_id = $1 ORDER BY sort_updated DESC LIMIT $2`
	out, err := d.listIssueItems(ctx, q, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListIssueItems: %w", err)
	}
	return out, nil
}

func (d *DB) ListIssueItemsBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*store.RepoIssueItem, error) {
	q := `SELECT ` + issueItemColumns + ` FROM repo_issue_items
		WHERE repository_id = $1 AND sort_updated < $2 ORDER BY sort_updated DESC LIMIT $3`
	out, err := d.listIssueItems(ctx, q, repositoryID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("ListIssueItemsBefore: %w", err)
	}
	return out, nil
}

func (d *DB) AppendActivity(ctx context.Context, e *store.ActivityEntry) error {
	const q = `
		INSERT INTO activity_feed
			(repository_id, activity_type, title, description, actor_login, actor_avatar_url, entity_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := d.q.Exec(ctx, q, e.RepositoryID, e.ActivityType, e.Title, e.Description,
		e.ActorLogin, e.ActorAvatarURL, e.EntityNumber, e.CreatedAt); err != nil {
		return fmt.Errorf("AppendActivity: %w", err)
	}
	return nil
}

const activityColumns = `id, repository_id, activity_type, title, description, actor_login, actor_avatar_url, entity_number, created_at`

func (d *DB) listActivity(ctx context.Context, q string, args ...any) ([]*store.ActivityEntry, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rows.Close()

	var out []*store.ActivityEntry
	for rows.Next() {
		var e store.ActivityEntry
		if err := rows.Scan(&e.ID, &e.RepositoryID, &e.ActivityType, &e.Title, &e.Description,
			&e.ActorLogin, &e.ActorAvatarURL, &e.EntityNumber, &e.CreatedAt); err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, &e)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListActivity(ctx context.Context, repositoryID int64, limit int) ([]*store.ActivityEntry, error) {
	q := `SELECT ` + activityColumns + ` FROM activity_feed
		WHERE repository_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	out, err := d.listActivity(ctx, q, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListActivity: %w", err)
	}
	return out, nil
}

func (d *DB) ListActivityBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*store.ActivityEntry, error) {
	q := `SELECT ` + activityColumns + ` FROM activity_feed
		WHERE repository_id = $1 AND created_at < $2 ORDER BY created_at DESC, id DESC LIMIT $3`
	out, err := d.listActivity(ctx, q, repositoryID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("ListActivityBefore: %w", err)
	}
	return out, nil
}
