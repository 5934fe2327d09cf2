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

package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/store/memory"
)

const repoID = int64(12345)

func testNow() time.Time {
	return time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)
}

func ts(min int) time.Time {
	return time.Date(2026, 2, 18, 10, min, 0, 0, time.UTC)
}

func newReader(db store.Store) *Reader {
	r := New(db)
	r.Now = testNow
	return r
}

func TestListPullRequests_BoundedAndPaged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memory.New()

	items := make([]*store.RepoPullRequestItem, 0, 250)
	for i := 0; i < 250; i++ {
		items = append(items, &store.RepoPullRequestItem{
			RepositoryID: repoID, Number: i + 1, Title: fmt.Sprintf("PR %d", i+1),
			State: "open", SortUpdated: ts(i % 60).Add(time.Duration(i/60) * time.Hour),
		})
	}
	if err := db.ReplacePullRequestList(ctx, repoID, items); err != nil {
		t.Fatalf("ReplacePullRequestList: %v", err)
	}

	r := newReader(db)

	// Unlimited request clamps to the 200-row bound.
	got, err := r.ListPullRequests(ctx, repoID, 0, nil)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("rows = %d, want 200 (bound)", len(got))
	}

	// Oversized limit clamps too.
	got, err = r.ListPullRequests(ctx, repoID, 10_000, nil)
	if err != nil {
		t.Fatalf("ListPullRequests: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("rows = %d, want 200 for oversized limit", len(got))
	}

	// Cursor pagination: the next page holds strictly older rows.
	first, err := r.ListPullRequests(ctx, repoID, 10, nil)
	if err != nil {
		t.Fatalf("ListPullRequests first page: %v", err)
	}
	cursor := first[len(first)-1].SortUpdated
	second, err := r.ListPullRequests(ctx, repoID, 10, &cursor)
	if err != nil {
		t.Fatalf("ListPullRequests second page: %v", err)
	}
	for _, it := range second {
		if !it.SortUpdated.Before(cursor) {
			t.Errorf("second page row %d at %v, want strictly before cursor %v", it.Number, it.SortUpdated, cursor)
		}
	}
}

func TestGetPRDetail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memory.New()

	author := int64(1001)
	if err := db.UpsertUser(ctx, &store.User{UserID: author, Login: "alice", AvatarURL: "https://example.com/a.png"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := db.UpsertPullRequest(ctx, &store.PullRequest{
		RepositoryID: repoID, Number: 1, State: "open", Title: "PR",
		AuthorUserID: &author, HeadSHA: "sha-1", GitHubUpdatedAt: ts(0),
	}); err != nil {
		t.Fatalf("UpsertPullRequest: %v", err)
	}
	if err := db.UpsertIssueComment(ctx, &store.IssueComment{
		RepositoryID: repoID, GitHubCommentID: 9001, IssueNumber: 1,
		AuthorUserID: &author, Body: "hello", CreatedAt: ts(1), UpdatedAt: ts(1),
	}); err != nil {
		t.Fatalf("UpsertIssueComment: %v", err)
	}
	if err := db.UpsertReview(ctx, &store.PullRequestReview{
		RepositoryID: repoID, GitHubReviewID: 501, PullRequestNumber: 1,
		ReviewerUserID: &author, State: "approved",
	}); err != nil {
		t.Fatalf("UpsertReview: %v", err)
	}
	if err := db.UpsertCheckRun(ctx, &store.CheckRun{
		RepositoryID: repoID, GitHubCheckRunID: 700, Name: "build", HeadSHA: "sha-1",
		Status: "completed", Conclusion: "success",
	}); err != nil {
		t.Fatalf("UpsertCheckRun: %v", err)
	}

	r := newReader(db)
	detail, err := r.GetPRDetail(ctx, repoID, 1)
	if err != nil {
		t.Fatalf("GetPRDetail: %v", err)
	}

	if detail.AuthorLogin != "alice" {
		t.Errorf("author = %q, want alice", detail.AuthorLogin)
	}
	if len(detail.Comments) != 1 || detail.Comments[0].AuthorLogin != "alice" {
		t.Errorf("comments = %+v, want one comment by alice", detail.Comments)
	}
	if len(detail.Reviews) != 1 || detail.Reviews[0].State != "approved" {
		t.Errorf("reviews = %+v, want one approved review", detail.Reviews)
	}
	if len(detail.CheckRuns) != 1 || detail.CheckRuns[0].Name != "build" {
		t.Errorf("checkRuns = %+v, want one build run", detail.CheckRuns)
	}
}

func TestGetPRDetail_NotFound(t *testing.T) {
	t.Parallel()

	r := newReader(memory.New())
	if _, err := r.GetPRDetail(context.Background(), repoID, 99); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("err = %v, want ErrEntityNotFound", err)
	}
}

func TestGetSystemStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := memory.New()
	db.Now = testNow

	if err := db.UpsertRepository(ctx, &store.Repository{
		RepositoryID: repoID, OwnerLogin: "o", Name: "n", FullName: "o/n",
	}); err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}

	// One pending delivery, one stale retry.
	if _, err := db.InsertDelivery(ctx, &store.RawDelivery{
		DeliveryID: "d-p", EventName: "issues", Payload: []byte(`{}`),
		ReceivedAt: testNow().Add(-2 * time.Minute), ProcessState: store.ProcessStatePending,
	}); err != nil {
		t.Fatalf("InsertDelivery: %v", err)
	}
	if _, err := db.InsertDelivery(ctx, &store.RawDelivery{
		DeliveryID: "d-r", EventName: "issues", Payload: []byte(`{}`),
		ReceivedAt: testNow().Add(-time.Hour), ProcessState: store.ProcessStatePending,
	}); err != nil {
		t.Fatalf("InsertDelivery: %v", err)
	}
	if err := db.MarkDeliveryRetry(ctx, "d-r", 1, testNow().Add(-10*time.Minute), "stuck"); err != nil {
		t.Fatalf("MarkDeliveryRetry: %v", err)
	}

	if err := db.InsertWriteOperation(ctx, &store.WriteOperation{
		CorrelationID: "w-1", Type: store.WriteOpCreateIssue,
		State: store.WriteOpStatePending, RepositoryID: repoID,
		CreatedAt: testNow(), UpdatedAt: testNow(),
	}); err != nil {
		t.Fatalf("InsertWriteOperation: %v", err)
	}

	r := newReader(db)
	status, err := r.GetSystemStatus(ctx)
	if err != nil {
		t.Fatalf("GetSystemStatus: %v", err)
	}

	if status.Queue.Pending != 1 {
		t.Errorf("pending = %d, want 1", status.Queue.Pending)
	}
	if status.Queue.Retry != 1 {
		t.Errorf("retry = %d, want 1", status.Queue.Retry)
	}
	if status.StaleRetries != 1 {
		t.Errorf("staleRetries = %d, want 1", status.StaleRetries)
	}
	if got := status.WriteOpsByState[store.WriteOpStatePending]; got != 1 {
		t.Errorf("pending write ops = %d, want 1", got)
	}
	if status.Lag.MaxPendingAgeMS < 2*60*1000 {
		t.Errorf("maxPendingAge = %dms, want at least 2 minutes", status.Lag.MaxPendingAgeMS)
	}
	if status.Projections.AllSynced {
		t.Errorf("allSynced = true, want false (no overview yet)")
	}

	if err := db.UpsertRepoOverview(ctx, &store.RepoOverview{RepositoryID: repoID, UpdatedAt: testNow()}); err != nil {
		t.Fatalf("UpsertRepoOverview: %v", err)
	}
	status, err = r.GetSystemStatus(ctx)
	if err != nil {
		t.Fatalf("second GetSystemStatus: %v", err)
	}
	if !status.Projections.AllSynced {
		t.Errorf("allSynced = false, want true after overview exists")
	}
}

func TestGetHealth(t *testing.T) {
	t.Parallel()

	r := newReader(memory.New())
	health, err := r.GetHealth(context.Background())
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if !health.OK {
		t.Errorf("ok = false, want true")
	}
	if health.TableCount == 0 {
		t.Errorf("tableCount = 0, want nonzero")
	}
}
