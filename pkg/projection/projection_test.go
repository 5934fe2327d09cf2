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

package projection

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/store/memory"
)

const repoID = int64(12345)

func testNow() time.Time {
	return time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)
}

func ts(hour int) time.Time {
	return time.Date(2026, 2, 18, hour, 0, 0, 0, time.UTC)
}

func seed(tb testing.TB) *memory.Store {
	tb.Helper()

	ctx := context.Background()
	db := memory.New()

	if err := db.UpsertRepository(ctx, &store.Repository{
		RepositoryID: repoID, OwnerLogin: "testowner", Name: "testrepo",
		FullName: "testowner/testrepo",
	}); err != nil {
		tb.Fatalf("UpsertRepository: %v", err)
	}
	if err := db.UpsertUser(ctx, &store.User{UserID: 1001, Login: "alice", AvatarURL: "https://example.com/alice.png"}); err != nil {
		tb.Fatalf("UpsertUser: %v", err)
	}

	author := int64(1001)
	prs := []*store.PullRequest{
		{RepositoryID: repoID, Number: 1, State: "open", Title: "Open PR", AuthorUserID: &author,
			HeadSHA: "sha-1", CommentCount: 3, GitHubUpdatedAt: ts(10)},
		{RepositoryID: repoID, Number: 2, State: "closed", Title: "Closed PR", GitHubUpdatedAt: ts(11)},
	}
	for _, pr := range prs {
		if err := db.UpsertPullRequest(ctx, pr); err != nil {
			tb.Fatalf("UpsertPullRequest: %v", err)
		}
	}

	issues := []*store.Issue{
		{RepositoryID: repoID, Number: 3, State: "open", Title: "Open issue", AuthorUserID: &author, GitHubUpdatedAt: ts(9)},
		{RepositoryID: repoID, Number: 4, State: "closed", Title: "Closed issue", GitHubUpdatedAt: ts(8)},
		// PRs surfaced through the issues endpoint never count as issues.
		{RepositoryID: repoID, Number: 1, State: "open", Title: "Open PR", IsPullRequest: true, GitHubUpdatedAt: ts(10)},
	}
	for _, i := range issues {
		if err := db.UpsertIssue(ctx, i); err != nil {
			tb.Fatalf("UpsertIssue: %v", err)
		}
	}

	started1, started2 := ts(9), ts(10)
	checks := []*store.CheckRun{
		{RepositoryID: repoID, GitHubCheckRunID: 1, Name: "build", HeadSHA: "sha-1",
			Status: "completed", Conclusion: "failure", StartedAt: &started1},
		{RepositoryID: repoID, GitHubCheckRunID: 2, Name: "lint", HeadSHA: "sha-1",
			Status: "completed", Conclusion: "success", StartedAt: &started2},
		{RepositoryID: repoID, GitHubCheckRunID: 3, Name: "old", HeadSHA: "sha-0",
			Status: "completed", Conclusion: "failure", StartedAt: &started1},
	}
	for _, c := range checks {
		if err := db.UpsertCheckRun(ctx, c); err != nil {
			tb.Fatalf("UpsertCheckRun: %v", err)
		}
	}

	if err := db.UpsertBranch(ctx, &store.Branch{RepositoryID: repoID, Name: "main", HeadSHA: "sha-1", UpdatedAt: ts(12)}); err != nil {
		tb.Fatalf("UpsertBranch: %v", err)
	}
	if err := db.UpsertReview(ctx, &store.PullRequestReview{
		RepositoryID: repoID, GitHubReviewID: 501, PullRequestNumber: 1, State: "approved",
	}); err != nil {
		tb.Fatalf("UpsertReview: %v", err)
	}
	return db
}

func TestUpdateAll_Overview(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := seed(t)

	if err := UpdateAll(ctx, db, repoID, testNow()); err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}

	got, err := db.GetRepoOverview(ctx, repoID)
	if err != nil {
		t.Fatalf("GetRepoOverview: %v", err)
	}
	lastPush := ts(12)
	want := &store.RepoOverview{
		RepositoryID:      repoID,
		OpenPRCount:       1,
		OpenIssueCount:    1,
		FailingCheckCount: 2,
		LastPushAt:        &lastPush,
		UpdatedAt:         testNow(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overview mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateAll_PullRequestList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := seed(t)

	if err := UpdateAll(ctx, db, repoID, testNow()); err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}

	items, err := db.ListPullRequestItems(ctx, repoID, 10)
	if err != nil {
		t.Fatalf("ListPullRequestItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	// Newest first by sortUpdated.
	if items[0].Number != 2 || items[1].Number != 1 {
		t.Errorf("order = [%d %d], want [2 1]", items[0].Number, items[1].Number)
	}

	open := items[1]
	if open.AuthorLogin != "alice" {
		t.Errorf("author = %q, want alice (joined through users)", open.AuthorLogin)
	}
	if open.CommentCount != 3 {
		t.Errorf("commentCount = %d, want 3", open.CommentCount)
	}
	if open.ReviewCount != 1 {
		t.Errorf("reviewCount = %d, want 1", open.ReviewCount)
	}
	// The check run with the latest start at the PR head wins.
	if open.LastCheckConclusion != "success" {
		t.Errorf("lastCheckConclusion = %q, want success", open.LastCheckConclusion)
	}
}

func TestUpdateAll_IssueListExcludesPRs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := seed(t)

	if err := UpdateAll(ctx, db, repoID, testNow()); err != nil {
		t.Fatalf("UpdateAll: %v", err)
	}

	items, err := db.ListIssueItems(ctx, repoID, 10)
	if err != nil {
		t.Fatalf("ListIssueItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (PR-backed issues excluded)", len(items))
	}
	for _, it := range items {
		if it.Number == 1 {
			t.Errorf("issue list contains the PR-backed entry")
		}
	}
}

func TestUpdateAll_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := seed(t)

	if err := UpdateAll(ctx, db, repoID, testNow()); err != nil {
		t.Fatalf("first UpdateAll: %v", err)
	}
	first, err := db.GetRepoOverview(ctx, repoID)
	if err != nil {
		t.Fatalf("GetRepoOverview: %v", err)
	}
	firstItems, err := db.ListPullRequestItems(ctx, repoID, 10)
	if err != nil {
		t.Fatalf("ListPullRequestItems: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := UpdateAll(ctx, db, repoID, testNow()); err != nil {
			t.Fatalf("UpdateAll %d: %v", i, err)
		}
	}

	second, err := db.GetRepoOverview(ctx, repoID)
	if err != nil {
		t.Fatalf("GetRepoOverview: %v", err)
	}
	secondItems, err := db.ListPullRequestItems(ctx, repoID, 10)
	if err != nil {
		t.Fatalf("ListPullRequestItems: %v", err)
	}

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(store.RepoOverview{}, "UpdatedAt")); diff != "" {
		t.Errorf("overview diverged across recomputation (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(firstItems, secondItems); diff != "" {
		t.Errorf("pr list diverged across recomputation (-first +second):\n%s", diff)
	}
}

func TestRepairAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := seed(t)

	repaired, err := RepairAll(ctx, db, testNow())
	if err != nil {
		t.Fatalf("RepairAll: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}
	if _, err := db.GetRepoOverview(ctx, repoID); err != nil {
		t.Errorf("overview missing after repair: %v", err)
	}
}
