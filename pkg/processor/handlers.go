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

package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// Handlers transform one parsed payload into normalized domain writes. All
// writes happen on the transactional store view the dispatcher passes in.
// A nil return with no writes is the validation no-op arm: a payload that
// is missing mandatory fields will not become valid on retry.

// ensureInstallation records the installation on its first webhook.
func ensureInstallation(ctx context.Context, tx store.Store, evt any) error {
	g, ok := evt.(interface{ GetInstallation() *github.Installation })
	if !ok {
		return nil
	}
	inst := g.GetInstallation()
	if inst.GetID() == 0 {
		return nil
	}
	if _, err := tx.GetInstallation(ctx, inst.GetID()); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	kind := store.AccountKindUser
	if inst.GetAccount().GetType() == string(store.AccountKindOrganization) {
		kind = store.AccountKindOrganization
	}
	return tx.UpsertInstallation(ctx, &store.Installation{
		InstallationID: inst.GetID(),
		AccountLogin:   inst.GetAccount().GetLogin(),
		AccountKind:    kind,
	})
}

// ensureRepository records the repository on its first webhook. Push
// events carry a different repository shape and are skipped; a repository
// seeing pushes before any other event gets created by connect/bootstrap.
func ensureRepository(ctx context.Context, tx store.Store, repositoryID int64, evt any) error {
	g, ok := evt.(interface{ GetRepo() *github.Repository })
	if !ok {
		return nil
	}
	repo := g.GetRepo()
	if repo.GetID() == 0 || repo.GetID() != repositoryID {
		return nil
	}
	if _, err := tx.GetRepository(ctx, repositoryID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	visibility := store.VisibilityPublic
	if repo.GetPrivate() {
		visibility = store.VisibilityPrivate
	}
	if v := repo.GetVisibility(); v != "" {
		visibility = store.Visibility(v)
	}
	return tx.UpsertRepository(ctx, &store.Repository{
		RepositoryID:    repositoryID,
		OwnerLogin:      repo.GetOwner().GetLogin(),
		Name:            repo.GetName(),
		FullName:        repo.GetFullName(),
		Visibility:      visibility,
		DefaultBranch:   repo.GetDefaultBranch(),
		Archived:        repo.GetArchived(),
		Disabled:        repo.GetDisabled(),
		Fork:            repo.GetFork(),
		PushedAt:        timePtr(repo.PushedAt),
		GitHubUpdatedAt: timePtr(repo.UpdatedAt),
	})
}

func (p *Processor) dispatch(ctx context.Context, tx store.Store, repositoryID int64, evt any) error {
	if err := ensureInstallation(ctx, tx, evt); err != nil {
		return err
	}
	if err := ensureRepository(ctx, tx, repositoryID, evt); err != nil {
		return err
	}
	switch e := evt.(type) {
	case *github.IssuesEvent:
		return p.handleIssues(ctx, tx, repositoryID, e)
	case *github.PullRequestEvent:
		return p.handlePullRequest(ctx, tx, repositoryID, e)
	case *github.IssueCommentEvent:
		return p.handleIssueComment(ctx, tx, repositoryID, e)
	case *github.PushEvent:
		return p.handlePush(ctx, tx, repositoryID, e)
	case *github.PullRequestReviewEvent:
		return p.handleReview(ctx, tx, repositoryID, e)
	case *github.CheckRunEvent:
		return p.handleCheckRun(ctx, tx, repositoryID, e)
	case *github.CreateEvent:
		return p.handleCreate(ctx, tx, repositoryID, e)
	case *github.DeleteEvent:
		return p.handleDelete(ctx, tx, repositoryID, e)
	default:
		// Unknown event kinds terminate as a successful no-op.
		return nil
	}
}

func upsertEventUser(ctx context.Context, tx store.Store, u *github.User) (*int64, error) {
	if u == nil || u.GetID() == 0 {
		return nil, nil
	}
	id := u.GetID()
	if err := tx.UpsertUser(ctx, &store.User{
		UserID:    id,
		Login:     u.GetLogin(),
		AvatarURL: u.GetAvatarURL(),
		HTMLURL:   u.GetHTMLURL(),
	}); err != nil {
		return nil, err
	}
	return &id, nil
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

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

func (p *Processor) handleIssues(ctx context.Context, tx store.Store, repositoryID int64, e *github.IssuesEvent) error {
	issue := e.GetIssue()
	if issue == nil || issue.GetNumber() == 0 {
		return nil
	}

	authorID, err := upsertEventUser(ctx, tx, issue.GetUser())
	if err != nil {
		return err
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	return tx.UpsertIssue(ctx, &store.Issue{
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
	})
}

func (p *Processor) handlePullRequest(ctx context.Context, tx store.Store, repositoryID int64, e *github.PullRequestEvent) error {
	pr := e.GetPullRequest()
	if pr == nil || pr.GetNumber() == 0 {
		return nil
	}

	authorID, err := upsertEventUser(ctx, tx, pr.GetUser())
	if err != nil {
		return err
	}

	return tx.UpsertPullRequest(ctx, &store.PullRequest{
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
	})
}

func (p *Processor) handleIssueComment(ctx context.Context, tx store.Store, repositoryID int64, e *github.IssueCommentEvent) error {
	comment := e.GetComment()
	if comment == nil || comment.GetID() == 0 || e.GetIssue() == nil {
		return nil
	}

	if e.GetAction() == "deleted" {
		return tx.DeleteIssueComment(ctx, repositoryID, comment.GetID())
	}

	authorID, err := upsertEventUser(ctx, tx, comment.GetUser())
	if err != nil {
		return err
	}

	return tx.UpsertIssueComment(ctx, &store.IssueComment{
		RepositoryID:    repositoryID,
		GitHubCommentID: comment.GetID(),
		IssueNumber:     e.GetIssue().GetNumber(),
		AuthorUserID:    authorID,
		Body:            comment.GetBody(),
		CreatedAt:       comment.GetCreatedAt().Time.UTC(),
		UpdatedAt:       comment.GetUpdatedAt().Time.UTC(),
	})
}

func (p *Processor) handlePush(ctx context.Context, tx store.Store, repositoryID int64, e *github.PushEvent) error {
	ref := e.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") {
		return nil
	}
	branch := strings.TrimPrefix(ref, "refs/heads/")

	if _, err := upsertEventUser(ctx, tx, e.GetSender()); err != nil {
		return err
	}

	if e.GetDeleted() {
		return tx.DeleteBranch(ctx, repositoryID, branch)
	}

	if err := tx.UpsertBranch(ctx, &store.Branch{
		RepositoryID: repositoryID,
		Name:         branch,
		HeadSHA:      e.GetAfter(),
		UpdatedAt:    p.now(),
	}); err != nil {
		return err
	}

	for _, c := range e.Commits {
		if c.GetID() == "" {
			continue
		}
		headline, _, _ := strings.Cut(c.GetMessage(), "\n")
		ts := timePtr(c.Timestamp)
		if err := tx.InsertCommitIfAbsent(ctx, &store.Commit{
			RepositoryID:    repositoryID,
			SHA:             c.GetID(),
			MessageHeadline: headline,
			AuthoredAt:      ts,
			CommittedAt:     ts,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) handleReview(ctx context.Context, tx store.Store, repositoryID int64, e *github.PullRequestReviewEvent) error {
	review := e.GetReview()
	pr := e.GetPullRequest()
	if review == nil || review.GetID() == 0 || pr == nil || pr.GetNumber() == 0 {
		return nil
	}

	reviewerID, err := upsertEventUser(ctx, tx, review.GetUser())
	if err != nil {
		return err
	}

	return tx.UpsertReview(ctx, &store.PullRequestReview{
		RepositoryID:      repositoryID,
		GitHubReviewID:    review.GetID(),
		PullRequestNumber: pr.GetNumber(),
		ReviewerUserID:    reviewerID,
		State:             review.GetState(),
		CommitSHA:         review.GetCommitID(),
		SubmittedAt:       timePtr(review.SubmittedAt),
	})
}

func (p *Processor) handleCheckRun(ctx context.Context, tx store.Store, repositoryID int64, e *github.CheckRunEvent) error {
	cr := e.GetCheckRun()
	if cr == nil || cr.GetID() == 0 || cr.GetName() == "" || cr.GetHeadSHA() == "" {
		return nil
	}

	return tx.UpsertCheckRun(ctx, &store.CheckRun{
		RepositoryID:     repositoryID,
		GitHubCheckRunID: cr.GetID(),
		Name:             cr.GetName(),
		HeadSHA:          cr.GetHeadSHA(),
		Status:           cr.GetStatus(),
		Conclusion:       cr.GetConclusion(),
		StartedAt:        timePtr(cr.StartedAt),
		CompletedAt:      timePtr(cr.CompletedAt),
	})
}

func (p *Processor) handleCreate(ctx context.Context, tx store.Store, repositoryID int64, e *github.CreateEvent) error {
	if e.GetRefType() != "branch" || e.GetRef() == "" {
		return nil
	}
	_, err := tx.GetBranch(ctx, repositoryID, e.GetRef())
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	// The next push fills in the head SHA.
	return tx.UpsertBranch(ctx, &store.Branch{
		RepositoryID: repositoryID,
		Name:         e.GetRef(),
		UpdatedAt:    p.now(),
	})
}

func (p *Processor) handleDelete(ctx context.Context, tx store.Store, repositoryID int64, e *github.DeleteEvent) error {
	if e.GetRefType() != "branch" || e.GetRef() == "" {
		return nil
	}
	return tx.DeleteBranch(ctx, repositoryID, e.GetRef())
}
