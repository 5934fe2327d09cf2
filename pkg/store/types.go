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

// Package store defines the row types and the transactional document store
// contract shared by the ingestion queue, the domain tables, and the
// projection tables.
package store

import "time"

// ProcessState is the processing state of a raw webhook delivery.
type ProcessState string

const (
	ProcessStatePending   ProcessState = "pending"
	ProcessStateRetry     ProcessState = "retry"
	ProcessStateProcessed ProcessState = "processed"
	ProcessStateFailed    ProcessState = "failed"
)

// SyncJobState is the lifecycle state of a bootstrap/reconcile job.
type SyncJobState string

const (
	SyncJobStatePending SyncJobState = "pending"
	SyncJobStateRunning SyncJobState = "running"
	SyncJobStateRetry   SyncJobState = "retry"
	SyncJobStateDone    SyncJobState = "done"
	SyncJobStateFailed  SyncJobState = "failed"
)

// WriteOpState is the lifecycle state of a client-initiated write operation.
// Transitions are monotone: pending -> (completed | failed), and
// {pending, completed} -> confirmed. confirmed and failed are terminal.
type WriteOpState string

const (
	WriteOpStatePending   WriteOpState = "pending"
	WriteOpStateCompleted WriteOpState = "completed"
	WriteOpStateFailed    WriteOpState = "failed"
	WriteOpStateConfirmed WriteOpState = "confirmed"
)

// WriteOpType identifies the GitHub mutation a write operation performs.
type WriteOpType string

const (
	WriteOpCreateIssue      WriteOpType = "create_issue"
	WriteOpCreateComment    WriteOpType = "create_comment"
	WriteOpUpdateIssueState WriteOpType = "update_issue_state"
	WriteOpMergePullRequest WriteOpType = "merge_pull_request"
)

// AccountKind distinguishes user accounts from organization accounts.
type AccountKind string

const (
	AccountKindUser         AccountKind = "User"
	AccountKindOrganization AccountKind = "Organization"
)

// Visibility is a repository's visibility on GitHub.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// FileStatus is the change status of a file within a pull request diff.
type FileStatus string

const (
	FileStatusAdded     FileStatus = "added"
	FileStatusRemoved   FileStatus = "removed"
	FileStatusModified  FileStatus = "modified"
	FileStatusRenamed   FileStatus = "renamed"
	FileStatusCopied    FileStatus = "copied"
	FileStatusChanged   FileStatus = "changed"
	FileStatusUnchanged FileStatus = "unchanged"
)

// RawDelivery is one webhook delivery as recorded by the ingestion boundary.
// DeliveryID is the GitHub-assigned GUID and is unique.
type RawDelivery struct {
	DeliveryID      string
	EventName       string
	Action          string
	InstallationID  *int64
	RepositoryID    *int64
	SignatureValid  bool
	Payload         []byte
	ReceivedAt      time.Time
	ProcessState    ProcessState
	ProcessAttempts int
	NextRetryAt     *time.Time
	ProcessError    string
}

// DeadLetter is a frozen copy of a delivery that exhausted its retry budget.
type DeadLetter struct {
	DeliveryID   string
	EventName    string
	Action       string
	RepositoryID *int64
	Payload      []byte
	Reason       string
	CreatedAt    time.Time
}

// Installation is one GitHub App installation.
type Installation struct {
	InstallationID int64
	AccountLogin   string
	AccountKind    AccountKind
	SuspendedAt    *time.Time
}

// Repository is a mirrored GitHub repository. RepositoryID is the GitHub
// repo ID; (OwnerLogin, Name) is also unique.
type Repository struct {
	RepositoryID    int64
	InstallationID  int64
	OwnerLogin      string
	Name            string
	FullName        string
	Visibility      Visibility
	DefaultBranch   string
	Archived        bool
	Disabled        bool
	Fork            bool
	PushedAt        *time.Time
	GitHubUpdatedAt *time.Time
}

// User is a GitHub account referenced by domain entities.
type User struct {
	UserID    int64
	Login     string
	AvatarURL string
	HTMLURL   string
}

// Branch is keyed by (RepositoryID, Name).
type Branch struct {
	RepositoryID int64
	Name         string
	HeadSHA      string
	UpdatedAt    time.Time
}

// Commit is keyed by (RepositoryID, SHA). Webhook commit authors lack
// stable IDs, so the user references are nullable.
type Commit struct {
	RepositoryID    int64
	SHA             string
	MessageHeadline string
	AuthorUserID    *int64
	CommitterUserID *int64
	AuthoredAt      *time.Time
	CommittedAt     *time.Time
}

// PullRequest is keyed by (RepositoryID, Number). GitHubUpdatedAt is the
// out-of-order guard: an upsert carrying an older timestamp is dropped.
type PullRequest struct {
	RepositoryID         int64
	Number               int
	GitHubPRID           int64
	State                string
	Draft                bool
	Title                string
	Body                 string
	AuthorUserID         *int64
	HeadRef              string
	HeadSHA              string
	BaseRef              string
	AssigneeUserIDs      []int64
	RequestedReviewerIDs []int64
	MergeableState       string
	CommentCount         int
	ReviewCount          int
	MergedAt             *time.Time
	ClosedAt             *time.Time
	GitHubUpdatedAt      time.Time
}

// PullRequestReview is keyed by (RepositoryID, GitHubReviewID).
type PullRequestReview struct {
	RepositoryID      int64
	GitHubReviewID    int64
	PullRequestNumber int
	ReviewerUserID    *int64
	State             string
	CommitSHA         string
	SubmittedAt       *time.Time
}

// Issue is keyed by (RepositoryID, Number). IsPullRequest marks entries the
// issues API returns for pull requests. GitHubUpdatedAt is the out-of-order
// guard.
type Issue struct {
	RepositoryID    int64
	Number          int
	GitHubIssueID   int64
	State           string
	Title           string
	Body            string
	LabelNames      []string
	AssigneeUserIDs []int64
	AuthorUserID    *int64
	CommentCount    int
	IsPullRequest   bool
	ClosedAt        *time.Time
	GitHubUpdatedAt time.Time
}

// IssueComment is keyed by (RepositoryID, GitHubCommentID).
type IssueComment struct {
	RepositoryID    int64
	GitHubCommentID int64
	IssueNumber     int
	AuthorUserID    *int64
	Body            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CheckRun is keyed by (RepositoryID, GitHubCheckRunID).
type CheckRun struct {
	RepositoryID     int64
	GitHubCheckRunID int64
	Name             string
	HeadSHA          string
	Status           string
	Conclusion       string
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// PullRequestFile is one file of a pull request diff, keyed by
// (RepositoryID, PullRequestNumber, Filename). Patch is nil when the patch
// exceeded the persistence bound and was truncated.
type PullRequestFile struct {
	RepositoryID      int64
	PullRequestNumber int
	Filename          string
	Status            FileStatus
	Additions         int
	Deletions         int
	Changes           int
	Patch             *string
	HeadSHA           string
	CachedAt          time.Time
}

// SyncJob is a coarse-grained control record for bootstrap/reconcile work.
// LockKey is unique and serializes jobs per scope.
type SyncJob struct {
	LockKey        string
	Kind           string
	RepositoryID   int64
	FullName       string
	InstallationID int64
	State          SyncJobState
	Attempts       int
	NextRunAt      *time.Time
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WriteOperation tracks a client-initiated mutation until the confirming
// webhook arrives. CorrelationID is client-generated and unique.
type WriteOperation struct {
	CorrelationID      string
	Type               WriteOpType
	State              WriteOpState
	RepositoryID       int64
	OwnerLogin         string
	RepoName           string
	Input              []byte
	Preview            []byte
	Result             []byte
	ErrorMessage       string
	ErrorStatus        int
	GitHubEntityNumber *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RepoOverview is the per-repository headline projection.
type RepoOverview struct {
	RepositoryID      int64
	OpenPRCount       int
	OpenIssueCount    int
	FailingCheckCount int
	LastPushAt        *time.Time
	UpdatedAt         time.Time
}

// RepoPullRequestItem is one denormalized row of the PR list projection.
type RepoPullRequestItem struct {
	RepositoryID        int64
	Number              int
	Title               string
	State               string
	Draft               bool
	AuthorLogin         string
	AuthorAvatarURL     string
	CommentCount        int
	ReviewCount         int
	LastCheckConclusion string
	SortUpdated         time.Time
}

// RepoIssueItem is one denormalized row of the issue list projection.
type RepoIssueItem struct {
	RepositoryID    int64
	Number          int
	Title           string
	State           string
	AuthorLogin     string
	AuthorAvatarURL string
	CommentCount    int
	LabelNames      []string
	SortUpdated     time.Time
}

// ActivityEntry is one append-only activity feed row.
type ActivityEntry struct {
	ID             int64
	RepositoryID   int64
	ActivityType   string
	Title          string
	Description    string
	ActorLogin     string
	ActorAvatarURL string
	EntityNumber   *int
	CreatedAt      time.Time
}

// QueueStats summarizes the delivery queue for the operational surface.
type QueueStats struct {
	Pending                 int
	Retry                   int
	Failed                  int
	DeadLetters             int
	RecentProcessedLastHour int
}

// ProcessingLag reports the age of the pending backlog.
type ProcessingLag struct {
	AvgPendingAgeMS int64
	MaxPendingAgeMS int64
}
