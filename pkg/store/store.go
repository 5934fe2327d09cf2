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

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point reads whose target row does not exist.
var ErrNotFound = errors.New("store: row not found")

// DeliveryStore holds the durable webhook delivery log and its dead-letter
// companion table.
type DeliveryStore interface {
	// InsertDelivery records a new delivery in state pending. It reports
	// false without writing when a row with the same DeliveryID exists;
	// concurrent ingests of one delivery observe exactly one winner.
	InsertDelivery(ctx context.Context, d *RawDelivery) (bool, error)

	// GetDelivery returns ErrNotFound when the row is absent.
	GetDelivery(ctx context.Context, deliveryID string) (*RawDelivery, error)

	// MarkDeliveryProcessed transitions the row to its processed terminal
	// state and stamps the attempt count, atomically.
	MarkDeliveryProcessed(ctx context.Context, deliveryID string, attempts int) error

	// MarkDeliveryRetry parks the row for a later attempt. nextRetryAt must
	// be strictly in the future.
	MarkDeliveryRetry(ctx context.Context, deliveryID string, attempts int, nextRetryAt time.Time, processErr string) error

	// ResetDelivery returns a row to pending, clearing the retry schedule
	// and error. Used by retry promotion and operator replay.
	ResetDelivery(ctx context.Context, deliveryID string) error

	// DeleteDelivery removes the raw row (dead-letter promotion).
	DeleteDelivery(ctx context.Context, deliveryID string) error

	// ListPendingDeliveries returns up to limit pending rows ordered by
	// ReceivedAt ascending.
	ListPendingDeliveries(ctx context.Context, limit int) ([]*RawDelivery, error)

	// ListDueRetries returns up to limit retry rows with NextRetryAt <= now,
	// ordered by NextRetryAt ascending.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*RawDelivery, error)

	// ListFailedDeliveries returns up to limit rows in state failed.
	ListFailedDeliveries(ctx context.Context, limit int) ([]*RawDelivery, error)

	InsertDeadLetter(ctx context.Context, dl *DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)

	QueueStats(ctx context.Context, now time.Time) (*QueueStats, error)
	ProcessingLag(ctx context.Context, now time.Time) (*ProcessingLag, error)

	// CountStaleRetries counts retry rows whose NextRetryAt is older than
	// the cutoff, a signal the promoter has stalled.
	CountStaleRetries(ctx context.Context, olderThan time.Time) (int, error)
}

// DomainStore holds the normalized mirror of GitHub state. Upserts keyed by
// an entity's natural key replace the stored row; for entities carrying
// GitHubUpdatedAt the upsert drops updates older than the stored row.
type DomainStore interface {
	UpsertInstallation(ctx context.Context, in *Installation) error
	GetInstallation(ctx context.Context, installationID int64) (*Installation, error)

	UpsertRepository(ctx context.Context, r *Repository) error
	GetRepository(ctx context.Context, repositoryID int64) (*Repository, error)
	GetRepositoryByFullName(ctx context.Context, ownerLogin, name string) (*Repository, error)
	ListRepositories(ctx context.Context, limit int) ([]*Repository, error)

	UpsertUser(ctx context.Context, u *User) error
	UpsertUsers(ctx context.Context, users []*User) error
	GetUser(ctx context.Context, userID int64) (*User, error)

	UpsertBranch(ctx context.Context, b *Branch) error
	GetBranch(ctx context.Context, repositoryID int64, name string) (*Branch, error)
	DeleteBranch(ctx context.Context, repositoryID int64, name string) error
	ListBranches(ctx context.Context, repositoryID int64) ([]*Branch, error)

	// InsertCommitIfAbsent is a no-op when (RepositoryID, SHA) exists.
	InsertCommitIfAbsent(ctx context.Context, c *Commit) error
	ListRecentCommits(ctx context.Context, repositoryID int64, limit int) ([]*Commit, error)

	// UpsertPullRequest applies the out-of-order guard on GitHubUpdatedAt.
	UpsertPullRequest(ctx context.Context, pr *PullRequest) error
	GetPullRequest(ctx context.Context, repositoryID int64, number int) (*PullRequest, error)
	ListPullRequests(ctx context.Context, repositoryID int64, limit int) ([]*PullRequest, error)
	ListOpenPullRequests(ctx context.Context, repositoryID int64) ([]*PullRequest, error)

	UpsertReview(ctx context.Context, r *PullRequestReview) error
	ListReviews(ctx context.Context, repositoryID int64, pullRequestNumber, limit int) ([]*PullRequestReview, error)

	// UpsertIssue applies the out-of-order guard on GitHubUpdatedAt.
	UpsertIssue(ctx context.Context, i *Issue) error
	GetIssue(ctx context.Context, repositoryID int64, number int) (*Issue, error)
	ListIssues(ctx context.Context, repositoryID int64, limit int) ([]*Issue, error)

	UpsertIssueComment(ctx context.Context, c *IssueComment) error
	DeleteIssueComment(ctx context.Context, repositoryID, githubCommentID int64) error
	ListIssueComments(ctx context.Context, repositoryID int64, issueNumber, limit int) ([]*IssueComment, error)

	UpsertCheckRun(ctx context.Context, cr *CheckRun) error
	ListCheckRuns(ctx context.Context, repositoryID int64) ([]*CheckRun, error)
	ListCheckRunsForSHA(ctx context.Context, repositoryID int64, headSHA string) ([]*CheckRun, error)

	UpsertPullRequestFiles(ctx context.Context, files []*PullRequestFile) error
	ListPullRequestFiles(ctx context.Context, repositoryID int64, pullRequestNumber int) ([]*PullRequestFile, error)
}

// ProjectionStore holds the denormalized read views. Every row is a pure
// function of the domain tables for its repository, except the append-only
// activity feed.
type ProjectionStore interface {
	UpsertRepoOverview(ctx context.Context, o *RepoOverview) error
	GetRepoOverview(ctx context.Context, repositoryID int64) (*RepoOverview, error)
	ListRepoOverviews(ctx context.Context, limit int) ([]*RepoOverview, error)
	CountRepoOverviews(ctx context.Context) (int, error)

	// ReplacePullRequestList deletes all PR list rows for the repository and
	// writes the given set.
	ReplacePullRequestList(ctx context.Context, repositoryID int64, items []*RepoPullRequestItem) error
	ListPullRequestItems(ctx context.Context, repositoryID int64, limit int) ([]*RepoPullRequestItem, error)
	ListPullRequestItemsBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*RepoPullRequestItem, error)

	ReplaceIssueList(ctx context.Context, repositoryID int64, items []*RepoIssueItem) error
	ListIssueItems(ctx context.Context, repositoryID int64, limit int) ([]*RepoIssueItem, error)
	ListIssueItemsBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*RepoIssueItem, error)

	AppendActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, repositoryID int64, limit int) ([]*ActivityEntry, error)
	ListActivityBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*ActivityEntry, error)
}

// SyncJobStore coordinates bootstrap/reconcile jobs through their unique
// lock keys.
type SyncJobStore interface {
	// ScheduleSyncJob inserts the job in state pending. It reports false
	// without writing when a pending or running job already holds the lock
	// key; a done or failed holder is replaced.
	ScheduleSyncJob(ctx context.Context, job *SyncJob) (bool, error)

	// AcquireSyncJob transitions a pending or retry job to running and bumps
	// the attempt count. It reports false when the job is not acquirable.
	AcquireSyncJob(ctx context.Context, lockKey string) (*SyncJob, bool, error)

	MarkSyncJobDone(ctx context.Context, lockKey string) error
	MarkSyncJobFailed(ctx context.Context, lockKey, errMsg string) error
	MarkSyncJobRetry(ctx context.Context, lockKey, errMsg string, nextRunAt time.Time) error

	GetSyncJob(ctx context.Context, lockKey string) (*SyncJob, error)
	ListDueSyncJobs(ctx context.Context, now time.Time, limit int) ([]*SyncJob, error)
	ListSyncJobs(ctx context.Context, limit int) ([]*SyncJob, error)
}

// WriteOpStore holds the optimistic write-operation log.
type WriteOpStore interface {
	InsertWriteOperation(ctx context.Context, op *WriteOperation) error
	GetWriteOperation(ctx context.Context, correlationID string) (*WriteOperation, error)

	// MarkWriteOperationCompleted transitions pending -> completed.
	MarkWriteOperationCompleted(ctx context.Context, correlationID string, entityNumber int, result []byte) error

	// MarkWriteOperationFailed transitions pending -> failed.
	MarkWriteOperationFailed(ctx context.Context, correlationID, errMsg string, errStatus int) error

	// MarkWriteOperationConfirmed transitions pending or completed ->
	// confirmed; any other stored state is left untouched and reported
	// false.
	MarkWriteOperationConfirmed(ctx context.Context, correlationID string) (bool, error)

	// ListRecentWriteOperations returns up to limit rows matching the
	// coordinates, newest first.
	ListRecentWriteOperations(ctx context.Context, repositoryID int64, opType WriteOpType, entityNumber, limit int) ([]*WriteOperation, error)

	CountWriteOperationsByState(ctx context.Context) (map[WriteOpState]int, error)
}

// OpsStore backs the operational surface.
type OpsStore interface {
	// TableCounts reports per-table row counts, each bounded at 10_000.
	TableCounts(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

// Store is the full transactional document store contract.
type Store interface {
	DeliveryStore
	DomainStore
	ProjectionStore
	SyncJobStore
	WriteOpStore
	OpsStore

	// WithTx runs fn against a transactional view of the store. All writes
	// made through the view commit together or not at all.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
