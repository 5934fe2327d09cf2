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
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/store/memory"
)

const (
	testRepoID    = int64(12345)
	testRepoOwner = "testowner"
	testRepoName  = "testrepo"
)

func testNow() time.Time {
	return time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)
}

func newTestStore(tb testing.TB) *memory.Store {
	tb.Helper()

	db := memory.New()
	db.Now = testNow
	if err := db.UpsertRepository(context.Background(), &store.Repository{
		RepositoryID: testRepoID,
		OwnerLogin:   testRepoOwner,
		Name:         testRepoName,
		FullName:     testRepoOwner + "/" + testRepoName,
		Visibility:   store.VisibilityPublic,
	}); err != nil {
		tb.Fatalf("failed to seed repository: %v", err)
	}
	return db
}

func newTestProcessor(db store.Store) *Processor {
	p := New(db, nil)
	p.Now = testNow
	p.Rand = func() float64 { return 0 }
	return p
}

func insertDelivery(tb testing.TB, db store.Store, deliveryID, eventName, action string, payload string) {
	tb.Helper()

	repoID := testRepoID
	inserted, err := db.InsertDelivery(context.Background(), &store.RawDelivery{
		DeliveryID:     deliveryID,
		EventName:      eventName,
		Action:         action,
		RepositoryID:   &repoID,
		SignatureValid: true,
		Payload:        []byte(payload),
		ReceivedAt:     testNow(),
		ProcessState:   store.ProcessStatePending,
	})
	if err != nil {
		tb.Fatalf("failed to insert delivery: %v", err)
	}
	if !inserted {
		tb.Fatalf("delivery %q was not inserted", deliveryID)
	}
}

func issuePayload(action string, number int, state, title, updatedAt string) string {
	return fmt.Sprintf(`{
		"action": %q,
		"issue": {
			"id": 5001,
			"number": %d,
			"state": %q,
			"title": %q,
			"body": "Something is broken",
			"user": {"id": 1001, "login": "testuser", "avatar_url": "https://example.com/a.png"},
			"comments": 0,
			"updated_at": %q
		},
		"sender": {"id": 1001, "login": "testuser", "avatar_url": "https://example.com/a.png"}
	}`, action, number, state, title, updatedAt)
}

func TestProcessDelivery_IssueOpened(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-1", "issues", "opened",
		issuePayload("opened", 1, "open", "Test issue", "2026-02-18T10:00:00Z"))

	res, err := p.ProcessDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeProcessed)
	}

	issue, err := db.GetIssue(ctx, testRepoID, 1)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	want := &store.Issue{
		RepositoryID:    testRepoID,
		Number:          1,
		GitHubIssueID:   5001,
		State:           "open",
		Title:           "Test issue",
		Body:            "Something is broken",
		LabelNames:      []string{},
		AssigneeUserIDs: []int64{},
		GitHubUpdatedAt: time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, issue, cmpopts.IgnoreFields(store.Issue{}, "AuthorUserID")); diff != "" {
		t.Errorf("issue mismatch (-want +got):\n%s", diff)
	}
	if issue.AuthorUserID == nil || *issue.AuthorUserID != 1001 {
		t.Errorf("issue author = %v, want 1001", issue.AuthorUserID)
	}

	user, err := db.GetUser(ctx, 1001)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Login != "testuser" {
		t.Errorf("user login = %q, want testuser", user.Login)
	}

	overview, err := db.GetRepoOverview(ctx, testRepoID)
	if err != nil {
		t.Fatalf("GetRepoOverview: %v", err)
	}
	if overview.OpenIssueCount != 1 {
		t.Errorf("openIssueCount = %d, want 1", overview.OpenIssueCount)
	}

	feed, err := db.ListActivity(ctx, testRepoID, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(feed))
	}
	if feed[0].ActivityType != "issue.opened" {
		t.Errorf("activity type = %q, want issue.opened", feed[0].ActivityType)
	}
	if feed[0].EntityNumber == nil || *feed[0].EntityNumber != 1 {
		t.Errorf("activity entity = %v, want 1", feed[0].EntityNumber)
	}

	// The delivery reached its terminal state with one attempt.
	d, err := db.GetDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if d.ProcessState != store.ProcessStateProcessed {
		t.Errorf("process state = %q, want processed", d.ProcessState)
	}
	if d.ProcessAttempts != 1 {
		t.Errorf("attempts = %d, want 1", d.ProcessAttempts)
	}
}

func TestProcessDelivery_OutOfOrderCollapse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	// The closed event carries the newer timestamp but arrives first.
	insertDelivery(t, db, "d-closed", "issues", "closed",
		issuePayload("closed", 1, "closed", "Newer title", "2026-02-18T12:00:00Z"))
	insertDelivery(t, db, "d-opened", "issues", "opened",
		issuePayload("opened", 1, "open", "Older title", "2026-02-18T10:00:00Z"))

	if _, err := p.ProcessDelivery(ctx, "d-closed"); err != nil {
		t.Fatalf("ProcessDelivery closed: %v", err)
	}
	if _, err := p.ProcessDelivery(ctx, "d-opened"); err != nil {
		t.Fatalf("ProcessDelivery opened: %v", err)
	}

	issue, err := db.GetIssue(ctx, testRepoID, 1)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.State != "closed" {
		t.Errorf("state = %q, want closed (stale opened must not regress)", issue.State)
	}
	if issue.Title != "Newer title" {
		t.Errorf("title = %q, want title from the newer event", issue.Title)
	}
}

func TestProcessDelivery_PushTwoCommits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	payload := `{
		"ref": "refs/heads/main",
		"after": "sha-new",
		"deleted": false,
		"commits": [
			{"id": "c1", "message": "feat: init\n\ndetails", "timestamp": "2026-02-18T09:00:00Z"},
			{"id": "c2", "message": "fix", "timestamp": "2026-02-18T09:05:00Z"}
		],
		"sender": {"id": 1001, "login": "testuser"}
	}`
	insertDelivery(t, db, "d-push", "push", "", payload)

	if _, err := p.ProcessDelivery(ctx, "d-push"); err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}

	branch, err := db.GetBranch(ctx, testRepoID, "main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if branch.HeadSHA != "sha-new" {
		t.Errorf("headSHA = %q, want sha-new", branch.HeadSHA)
	}

	commits, err := db.ListRecentCommits(ctx, testRepoID, 10)
	if err != nil {
		t.Fatalf("ListRecentCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(commits))
	}
	headlines := map[string]bool{}
	for _, c := range commits {
		headlines[c.MessageHeadline] = true
	}
	if !headlines["feat: init"] || !headlines["fix"] {
		t.Errorf("headlines = %v, want feat: init and fix", headlines)
	}

	feed, err := db.ListActivity(ctx, testRepoID, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(feed))
	}
	if got, want := feed[0].Title, "Pushed 2 commits to main"; got != want {
		t.Errorf("activity title = %q, want %q", got, want)
	}
	if got, want := feed[0].Description, "feat: init"; got != want {
		t.Errorf("activity description = %q, want %q", got, want)
	}
}

func TestProcessDelivery_IdempotentReprocessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-1", "issues", "opened",
		issuePayload("opened", 1, "open", "Test issue", "2026-02-18T10:00:00Z"))

	if _, err := p.ProcessDelivery(ctx, "d-1"); err != nil {
		t.Fatalf("first ProcessDelivery: %v", err)
	}
	if err := db.ResetDelivery(ctx, "d-1"); err != nil {
		t.Fatalf("ResetDelivery: %v", err)
	}
	if _, err := p.ProcessDelivery(ctx, "d-1"); err != nil {
		t.Fatalf("second ProcessDelivery: %v", err)
	}

	issues, err := db.ListIssues(ctx, testRepoID, 10)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Errorf("issues = %d, want exactly 1 after reprocessing", len(issues))
	}
}

func TestProcessDelivery_AlreadyProcessedIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-1", "issues", "opened",
		issuePayload("opened", 1, "open", "Test issue", "2026-02-18T10:00:00Z"))

	if _, err := p.ProcessDelivery(ctx, "d-1"); err != nil {
		t.Fatalf("first ProcessDelivery: %v", err)
	}
	res, err := p.ProcessDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("second ProcessDelivery: %v", err)
	}
	if !res.Processed {
		t.Errorf("res.Processed = false, want true for processed row")
	}

	d, err := db.GetDelivery(ctx, "d-1")
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if d.ProcessAttempts != 1 {
		t.Errorf("attempts = %d, want 1 (no-op must not bump)", d.ProcessAttempts)
	}
}

func TestProcessDelivery_AbsentDelivery(t *testing.T) {
	t.Parallel()

	db := newTestStore(t)
	p := newTestProcessor(db)

	res, err := p.ProcessDelivery(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}
	if res.Processed {
		t.Errorf("res.Processed = true, want false for absent row")
	}
	if res.Outcome != OutcomeAbsent {
		t.Errorf("outcome = %q, want %q", res.Outcome, OutcomeAbsent)
	}
}

func TestProcessDelivery_NoRepositoryTerminates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	inserted, err := db.InsertDelivery(ctx, &store.RawDelivery{
		DeliveryID:   "d-norepo",
		EventName:    "ping",
		Payload:      []byte(`{"zen": "Keep it logically awesome."}`),
		ReceivedAt:   testNow(),
		ProcessState: store.ProcessStatePending,
	})
	if err != nil || !inserted {
		t.Fatalf("InsertDelivery: inserted=%v err=%v", inserted, err)
	}

	res, err := p.ProcessDelivery(ctx, "d-norepo")
	if err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %q, want processed", res.Outcome)
	}
}

func TestProcessDelivery_UnknownEventTerminates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-unknown", "watch", "started", `{"action": "started"}`)

	res, err := p.ProcessDelivery(ctx, "d-unknown")
	if err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %q, want processed for unknown event", res.Outcome)
	}

	feed, err := db.ListActivity(ctx, testRepoID, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(feed) != 0 {
		t.Errorf("activity entries = %d, want 0 for unmapped event", len(feed))
	}
}

func TestProcessAllPending_Counts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	for i := 1; i <= 3; i++ {
		insertDelivery(t, db, fmt.Sprintf("d-%d", i), "issues", "opened",
			issuePayload("opened", i, "open", fmt.Sprintf("Issue %d", i), "2026-02-18T10:00:00Z"))
	}

	res, err := p.ProcessAllPending(ctx)
	if err != nil {
		t.Fatalf("ProcessAllPending: %v", err)
	}
	want := &BatchResult{Processed: 3}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("batch result mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleIssueComment_Deleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	created := `{
		"action": "created",
		"issue": {"id": 5001, "number": 1, "title": "Test issue"},
		"comment": {"id": 9001, "body": "hello", "user": {"id": 1001, "login": "testuser"},
			"created_at": "2026-02-18T10:00:00Z", "updated_at": "2026-02-18T10:00:00Z"},
		"sender": {"id": 1001, "login": "testuser"}
	}`
	insertDelivery(t, db, "d-c1", "issue_comment", "created", created)
	if _, err := p.ProcessDelivery(ctx, "d-c1"); err != nil {
		t.Fatalf("ProcessDelivery created: %v", err)
	}

	comments, err := db.ListIssueComments(ctx, testRepoID, 1, 10)
	if err != nil {
		t.Fatalf("ListIssueComments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(comments))
	}

	deleted := `{
		"action": "deleted",
		"issue": {"id": 5001, "number": 1, "title": "Test issue"},
		"comment": {"id": 9001, "body": "hello", "user": {"id": 1001, "login": "testuser"}},
		"sender": {"id": 1001, "login": "testuser"}
	}`
	insertDelivery(t, db, "d-c2", "issue_comment", "deleted", deleted)
	if _, err := p.ProcessDelivery(ctx, "d-c2"); err != nil {
		t.Fatalf("ProcessDelivery deleted: %v", err)
	}

	comments, err = db.ListIssueComments(ctx, testRepoID, 1, 10)
	if err != nil {
		t.Fatalf("ListIssueComments: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("comments = %d, want 0 after delete", len(comments))
	}
}

func TestHandleCreateDelete_Branch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-create", "create", "",
		`{"ref": "feature-x", "ref_type": "branch", "sender": {"id": 1001, "login": "testuser"}}`)
	if _, err := p.ProcessDelivery(ctx, "d-create"); err != nil {
		t.Fatalf("ProcessDelivery create: %v", err)
	}

	branch, err := db.GetBranch(ctx, testRepoID, "feature-x")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if branch.HeadSHA != "" {
		t.Errorf("headSHA = %q, want empty until the next push", branch.HeadSHA)
	}

	insertDelivery(t, db, "d-delete", "delete", "",
		`{"ref": "feature-x", "ref_type": "branch", "sender": {"id": 1001, "login": "testuser"}}`)
	if _, err := p.ProcessDelivery(ctx, "d-delete"); err != nil {
		t.Fatalf("ProcessDelivery delete: %v", err)
	}

	if _, err := db.GetBranch(ctx, testRepoID, "feature-x"); err == nil {
		t.Errorf("branch still exists after delete event")
	}

	// Tag refs are ignored.
	insertDelivery(t, db, "d-tag", "create", "",
		`{"ref": "v1.0.0", "ref_type": "tag", "sender": {"id": 1001, "login": "testuser"}}`)
	if _, err := p.ProcessDelivery(ctx, "d-tag"); err != nil {
		t.Fatalf("ProcessDelivery tag: %v", err)
	}
	if _, err := db.GetBranch(ctx, testRepoID, "v1.0.0"); err == nil {
		t.Errorf("tag create must not insert a branch row")
	}
}

func TestHandleCheckRun_DropsEmptyNameOrSHA(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-cr", "check_run", "completed", `{
		"action": "completed",
		"check_run": {"id": 7001, "name": "", "head_sha": "abc", "status": "completed", "conclusion": "failure"},
		"sender": {"id": 1001, "login": "testuser"}
	}`)
	res, err := p.ProcessDelivery(ctx, "d-cr")
	if err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Errorf("outcome = %q, want processed (validation no-op)", res.Outcome)
	}

	runs, err := db.ListCheckRuns(ctx, testRepoID)
	if err != nil {
		t.Fatalf("ListCheckRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("check runs = %d, want 0 for empty name", len(runs))
	}
}
