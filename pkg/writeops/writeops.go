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

// Package writeops tracks client-initiated GitHub mutations through their
// optimistic lifecycle until the confirming webhook arrives.
package writeops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// reconcileWindow is how many recent rows per coordinate the reconciler
// inspects for a confirmable operation.
const reconcileWindow = 5

// GitHubWriter is the outbound mutation surface the write path needs.
type GitHubWriter interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*github.Issue, error)
	CreateIssueComment(ctx context.Context, owner, repo string, issueNumber int, body string) (*github.IssueComment, error)
	UpdateIssueState(ctx context.Context, owner, repo string, issueNumber int, state string) (*github.Issue, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.PullRequestMergeResult, error)
}

// Request describes one write operation submission. CorrelationID is
// client-generated and unique; Type selects which of the remaining fields
// apply.
type Request struct {
	CorrelationID string            `json:"correlationId"`
	Type          store.WriteOpType `json:"type"`
	RepositoryID  int64             `json:"repositoryId"`
	OwnerLogin    string            `json:"ownerLogin"`
	RepoName      string            `json:"repoName"`

	Title         string `json:"title,omitempty"`
	Body          string `json:"body,omitempty"`
	IssueNumber   int    `json:"issueNumber,omitempty"`
	State         string `json:"state,omitempty"`
	CommitMessage string `json:"commitMessage,omitempty"`
}

func (r *Request) validate() error {
	if r.CorrelationID == "" {
		return fmt.Errorf("correlationId is required")
	}
	if r.OwnerLogin == "" || r.RepoName == "" {
		return fmt.Errorf("repository coordinates are required")
	}
	switch r.Type {
	case store.WriteOpCreateIssue:
		if r.Title == "" {
			return fmt.Errorf("title is required for %s", r.Type)
		}
	case store.WriteOpCreateComment:
		if r.IssueNumber == 0 || r.Body == "" {
			return fmt.Errorf("issueNumber and body are required for %s", r.Type)
		}
	case store.WriteOpUpdateIssueState:
		if r.IssueNumber == 0 || (r.State != "open" && r.State != "closed") {
			return fmt.Errorf("issueNumber and state open|closed are required for %s", r.Type)
		}
	case store.WriteOpMergePullRequest:
		if r.IssueNumber == 0 {
			return fmt.Errorf("issueNumber is required for %s", r.Type)
		}
	default:
		return fmt.Errorf("unknown write operation type %q", r.Type)
	}
	return nil
}

// preview is the optimistic entity shape the UI displays while the
// operation is in flight.
type preview struct {
	Type        store.WriteOpType `json:"type"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body,omitempty"`
	IssueNumber int               `json:"issueNumber,omitempty"`
	State       string            `json:"state,omitempty"`
}

// Manager executes write operations and records their lifecycle.
type Manager struct {
	db store.Store
	gh GitHubWriter

	// Now can be overridden in tests.
	Now func() time.Time
}

// NewManager creates a write-operation manager.
func NewManager(db store.Store, gh GitHubWriter) *Manager {
	return &Manager{db: db, gh: gh, Now: time.Now}
}

// Submit records the operation as pending, performs the GitHub mutation,
// and transitions the row to completed or failed. The returned row reflects
// the post-mutation state.
func (m *Manager) Submit(ctx context.Context, req *Request) (*store.WriteOperation, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid write operation: %w", err)
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	pv, err := json.Marshal(&preview{
		Type:        req.Type,
		Title:       req.Title,
		Body:        req.Body,
		IssueNumber: req.IssueNumber,
		State:       req.State,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preview: %w", err)
	}

	now := m.Now().UTC()
	op := &store.WriteOperation{
		CorrelationID: req.CorrelationID,
		Type:          req.Type,
		State:         store.WriteOpStatePending,
		RepositoryID:  req.RepositoryID,
		OwnerLogin:    req.OwnerLogin,
		RepoName:      req.RepoName,
		Input:         input,
		Preview:       pv,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.db.InsertWriteOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to insert write operation: %w", err)
	}

	entityNumber, result, mutErr := m.mutate(ctx, req)
	if mutErr != nil {
		status := 0
		var ghErr *github.ErrorResponse
		if errors.As(mutErr, &ghErr) && ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
		if err := m.db.MarkWriteOperationFailed(ctx, req.CorrelationID, mutErr.Error(), status); err != nil {
			return nil, fmt.Errorf("failed to record failure: %w", err)
		}
		return m.db.GetWriteOperation(ctx, req.CorrelationID) //nolint:wrapcheck // direct read-back
	}

	if err := m.db.MarkWriteOperationCompleted(ctx, req.CorrelationID, entityNumber, result); err != nil {
		return nil, fmt.Errorf("failed to record completion: %w", err)
	}
	return m.db.GetWriteOperation(ctx, req.CorrelationID) //nolint:wrapcheck // direct read-back
}

func (m *Manager) mutate(ctx context.Context, req *Request) (int, []byte, error) {
	switch req.Type {
	case store.WriteOpCreateIssue:
		issue, err := m.gh.CreateIssue(ctx, req.OwnerLogin, req.RepoName, req.Title, req.Body)
		if err != nil {
			return 0, nil, err //nolint:wrapcheck // status extraction needs the raw error
		}
		out, _ := json.Marshal(issue)
		return issue.GetNumber(), out, nil
	case store.WriteOpCreateComment:
		comment, err := m.gh.CreateIssueComment(ctx, req.OwnerLogin, req.RepoName, req.IssueNumber, req.Body)
		if err != nil {
			return 0, nil, err //nolint:wrapcheck
		}
		out, _ := json.Marshal(comment)
		return req.IssueNumber, out, nil
	case store.WriteOpUpdateIssueState:
		issue, err := m.gh.UpdateIssueState(ctx, req.OwnerLogin, req.RepoName, req.IssueNumber, req.State)
		if err != nil {
			return 0, nil, err //nolint:wrapcheck
		}
		out, _ := json.Marshal(issue)
		return req.IssueNumber, out, nil
	case store.WriteOpMergePullRequest:
		res, err := m.gh.MergePullRequest(ctx, req.OwnerLogin, req.RepoName, req.IssueNumber, req.CommitMessage)
		if err != nil {
			return 0, nil, err //nolint:wrapcheck
		}
		out, _ := json.Marshal(res)
		return req.IssueNumber, out, nil
	default:
		return 0, nil, fmt.Errorf("unknown write operation type %q", req.Type)
	}
}

// Match maps a processed webhook onto the write-operation coordinates it
// confirms. The boolean reports whether a mapping exists. When a closed
// pull_request carries merged=true the merge operation is preferred over
// the state update.
func Match(eventName, action string, evt any) (store.WriteOpType, int, bool) {
	switch eventName {
	case "issues":
		e, ok := evt.(*github.IssuesEvent)
		if !ok || e.GetIssue() == nil {
			return "", 0, false
		}
		number := e.GetIssue().GetNumber()
		switch action {
		case "opened":
			return store.WriteOpCreateIssue, number, true
		case "closed", "reopened":
			return store.WriteOpUpdateIssueState, number, true
		}
	case "issue_comment":
		e, ok := evt.(*github.IssueCommentEvent)
		if !ok || e.GetIssue() == nil {
			return "", 0, false
		}
		if action == "created" {
			return store.WriteOpCreateComment, e.GetIssue().GetNumber(), true
		}
	case "pull_request":
		e, ok := evt.(*github.PullRequestEvent)
		if !ok || e.GetPullRequest() == nil {
			return "", 0, false
		}
		pr := e.GetPullRequest()
		if action == "closed" && pr.GetMerged() {
			return store.WriteOpMergePullRequest, pr.GetNumber(), true
		}
		if action == "closed" || action == "reopened" {
			return store.WriteOpUpdateIssueState, pr.GetNumber(), true
		}
	}
	return "", 0, false
}

// Reconcile confirms the most recent confirmable operation matching the
// webhook, if any. A missing match is a no-op.
func Reconcile(ctx context.Context, db store.WriteOpStore, repositoryID int64, eventName, action string, evt any) (bool, error) {
	opType, entityNumber, ok := Match(eventName, action, evt)
	if !ok {
		return false, nil
	}

	ops, err := db.ListRecentWriteOperations(ctx, repositoryID, opType, entityNumber, reconcileWindow)
	if err != nil {
		return false, fmt.Errorf("failed to list write operations: %w", err)
	}
	for _, op := range ops {
		if op.State != store.WriteOpStatePending && op.State != store.WriteOpStateCompleted {
			continue
		}
		confirmed, err := db.MarkWriteOperationConfirmed(ctx, op.CorrelationID)
		if err != nil {
			return false, fmt.Errorf("failed to confirm write operation: %w", err)
		}
		return confirmed, nil
	}
	return false, nil
}
