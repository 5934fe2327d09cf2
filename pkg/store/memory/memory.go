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

// Package memory implements the store contract with in-process maps. It is
// the datastore used by unit tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abcxyz/github-mirror/pkg/store"
)

type state struct {
	deliveries    map[string]*store.RawDelivery
	deadLetters   []*store.DeadLetter
	installations map[int64]*store.Installation
	repos         map[int64]*store.Repository
	users         map[int64]*store.User
	branches      map[int64]map[string]*store.Branch
	commits       map[int64]map[string]*store.Commit
	prs           map[int64]map[int]*store.PullRequest
	reviews       map[int64]map[int64]*store.PullRequestReview
	issues        map[int64]map[int]*store.Issue
	comments      map[int64]map[int64]*store.IssueComment
	checkRuns     map[int64]map[int64]*store.CheckRun
	prFiles       map[int64]map[string]*store.PullRequestFile
	syncJobs      map[string]*store.SyncJob
	writeOps      map[string]*store.WriteOperation
	writeOpSeq    map[string]int64
	overviews     map[int64]*store.RepoOverview
	prItems       map[int64][]*store.RepoPullRequestItem
	issueItems    map[int64][]*store.RepoIssueItem
	activity      map[int64][]*store.ActivityEntry
	seq           int64
}

func newState() *state {
	return &state{
		deliveries:    map[string]*store.RawDelivery{},
		installations: map[int64]*store.Installation{},
		repos:         map[int64]*store.Repository{},
		users:         map[int64]*store.User{},
		branches:      map[int64]map[string]*store.Branch{},
		commits:       map[int64]map[string]*store.Commit{},
		prs:           map[int64]map[int]*store.PullRequest{},
		reviews:       map[int64]map[int64]*store.PullRequestReview{},
		issues:        map[int64]map[int]*store.Issue{},
		comments:      map[int64]map[int64]*store.IssueComment{},
		checkRuns:     map[int64]map[int64]*store.CheckRun{},
		prFiles:       map[int64]map[string]*store.PullRequestFile{},
		syncJobs:      map[string]*store.SyncJob{},
		writeOps:      map[string]*store.WriteOperation{},
		writeOpSeq:    map[string]int64{},
		overviews:     map[int64]*store.RepoOverview{},
		prItems:       map[int64][]*store.RepoPullRequestItem{},
		issueItems:    map[int64][]*store.RepoIssueItem{},
		activity:      map[int64][]*store.ActivityEntry{},
	}
}

func (s *state) snapshot() *state {
	cp := newState()
	cp.seq = s.seq
	for k, v := range s.deliveries {
		cp.deliveries[k] = v
	}
	cp.deadLetters = append(cp.deadLetters, s.deadLetters...)
	for k, v := range s.installations {
		cp.installations[k] = v
	}
	for k, v := range s.repos {
		cp.repos[k] = v
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for repo, m := range s.branches {
		inner := map[string]*store.Branch{}
		for k, v := range m {
			inner[k] = v
		}
		cp.branches[repo] = inner
	}
	for repo, m := range s.commits {
		inner := map[string]*store.Commit{}
		for k, v := range m {
			inner[k] = v
		}
		cp.commits[repo] = inner
	}
	for repo, m := range s.prs {
		inner := map[int]*store.PullRequest{}
		for k, v := range m {
			inner[k] = v
		}
		cp.prs[repo] = inner
	}
	for repo, m := range s.reviews {
		inner := map[int64]*store.PullRequestReview{}
		for k, v := range m {
			inner[k] = v
		}
		cp.reviews[repo] = inner
	}
	for repo, m := range s.issues {
		inner := map[int]*store.Issue{}
		for k, v := range m {
			inner[k] = v
		}
		cp.issues[repo] = inner
	}
	for repo, m := range s.comments {
		inner := map[int64]*store.IssueComment{}
		for k, v := range m {
			inner[k] = v
		}
		cp.comments[repo] = inner
	}
	for repo, m := range s.checkRuns {
		inner := map[int64]*store.CheckRun{}
		for k, v := range m {
			inner[k] = v
		}
		cp.checkRuns[repo] = inner
	}
	for repo, m := range s.prFiles {
		inner := map[string]*store.PullRequestFile{}
		for k, v := range m {
			inner[k] = v
		}
		cp.prFiles[repo] = inner
	}
	for k, v := range s.syncJobs {
		cp.syncJobs[k] = v
	}
	for k, v := range s.writeOps {
		cp.writeOps[k] = v
	}
	for k, v := range s.writeOpSeq {
		cp.writeOpSeq[k] = v
	}
	for k, v := range s.overviews {
		cp.overviews[k] = v
	}
	for k, v := range s.prItems {
		cp.prItems[k] = append([]*store.RepoPullRequestItem{}, v...)
	}
	for k, v := range s.issueItems {
		cp.issueItems[k] = append([]*store.RepoIssueItem{}, v...)
	}
	for k, v := range s.activity {
		cp.activity[k] = append([]*store.ActivityEntry{}, v...)
	}
	return cp
}

// Store is the in-memory implementation of [store.Store].
type Store struct {
	mu   sync.Mutex
	s    *state
	inTx bool

	// Now can be overridden in tests.
	Now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{s: newState(), Now: time.Now}
}

func (m *Store) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Store) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// WithTx runs fn against a transactional view. The whole store is locked
// for the duration; a returned error rolls every write back.
func (m *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.s.snapshot()
	tx := &Store{s: m.s, inTx: true, Now: m.Now}
	if err := fn(tx); err != nil {
		m.s = saved
		return err
	}
	return nil
}

// --- deliveries ---

func (m *Store) InsertDelivery(ctx context.Context, d *store.RawDelivery) (bool, error) {
	defer m.lock()()
	if _, ok := m.s.deliveries[d.DeliveryID]; ok {
		return false, nil
	}
	cp := *d
	m.s.deliveries[d.DeliveryID] = &cp
	return true, nil
}

func (m *Store) GetDelivery(ctx context.Context, deliveryID string) (*store.RawDelivery, error) {
	defer m.lock()()
	d, ok := m.s.deliveries[deliveryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Store) MarkDeliveryProcessed(ctx context.Context, deliveryID string, attempts int) error {
	defer m.lock()()
	d, ok := m.s.deliveries[deliveryID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *d
	cp.ProcessState = store.ProcessStateProcessed
	cp.ProcessAttempts = attempts
	cp.NextRetryAt = nil
	cp.ProcessError = ""
	m.s.deliveries[deliveryID] = &cp
	return nil
}

func (m *Store) MarkDeliveryRetry(ctx context.Context, deliveryID string, attempts int, nextRetryAt time.Time, processErr string) error {
	defer m.lock()()
	d, ok := m.s.deliveries[deliveryID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *d
	cp.ProcessState = store.ProcessStateRetry
	cp.ProcessAttempts = attempts
	cp.NextRetryAt = &nextRetryAt
	cp.ProcessError = processErr
	m.s.deliveries[deliveryID] = &cp
	return nil
}

func (m *Store) ResetDelivery(ctx context.Context, deliveryID string) error {
	defer m.lock()()
	d, ok := m.s.deliveries[deliveryID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *d
	cp.ProcessState = store.ProcessStatePending
	cp.NextRetryAt = nil
	cp.ProcessError = ""
	m.s.deliveries[deliveryID] = &cp
	return nil
}

func (m *Store) DeleteDelivery(ctx context.Context, deliveryID string) error {
	defer m.lock()()
	delete(m.s.deliveries, deliveryID)
	return nil
}

func (m *Store) listDeliveries(filter func(*store.RawDelivery) bool, less func(a, b *store.RawDelivery) bool, limit int) []*store.RawDelivery {
	var out []*store.RawDelivery
	for _, d := range m.s.deliveries {
		if filter(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Store) ListPendingDeliveries(ctx context.Context, limit int) ([]*store.RawDelivery, error) {
	defer m.lock()()
	return m.listDeliveries(
		func(d *store.RawDelivery) bool { return d.ProcessState == store.ProcessStatePending },
		func(a, b *store.RawDelivery) bool { return a.ReceivedAt.Before(b.ReceivedAt) },
		limit), nil
}

func (m *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*store.RawDelivery, error) {
	defer m.lock()()
	return m.listDeliveries(
		func(d *store.RawDelivery) bool {
			return d.ProcessState == store.ProcessStateRetry && d.NextRetryAt != nil && !d.NextRetryAt.After(now)
		},
		func(a, b *store.RawDelivery) bool { return a.NextRetryAt.Before(*b.NextRetryAt) },
		limit), nil
}

func (m *Store) ListFailedDeliveries(ctx context.Context, limit int) ([]*store.RawDelivery, error) {
	defer m.lock()()
	return m.listDeliveries(
		func(d *store.RawDelivery) bool { return d.ProcessState == store.ProcessStateFailed },
		func(a, b *store.RawDelivery) bool { return a.ReceivedAt.Before(b.ReceivedAt) },
		limit), nil
}

func (m *Store) InsertDeadLetter(ctx context.Context, dl *store.DeadLetter) error {
	defer m.lock()()
	cp := *dl
	m.s.deadLetters = append(m.s.deadLetters, &cp)
	return nil
}

func (m *Store) ListDeadLetters(ctx context.Context, limit int) ([]*store.DeadLetter, error) {
	defer m.lock()()
	out := make([]*store.DeadLetter, 0, len(m.s.deadLetters))
	for _, dl := range m.s.deadLetters {
		cp := *dl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) QueueStats(ctx context.Context, now time.Time) (*store.QueueStats, error) {
	defer m.lock()()
	stats := &store.QueueStats{DeadLetters: len(m.s.deadLetters)}
	hourAgo := now.Add(-time.Hour)
	for _, d := range m.s.deliveries {
		switch d.ProcessState {
		case store.ProcessStatePending:
			stats.Pending++
		case store.ProcessStateRetry:
			stats.Retry++
		case store.ProcessStateFailed:
			stats.Failed++
		case store.ProcessStateProcessed:
			if d.ReceivedAt.After(hourAgo) {
				stats.RecentProcessedLastHour++
			}
		}
	}
	return stats, nil
}

func (m *Store) ProcessingLag(ctx context.Context, now time.Time) (*store.ProcessingLag, error) {
	defer m.lock()()
	var total, max int64
	var n int64
	for _, d := range m.s.deliveries {
		if d.ProcessState != store.ProcessStatePending {
			continue
		}
		age := now.Sub(d.ReceivedAt).Milliseconds()
		if age < 0 {
			age = 0
		}
		total += age
		if age > max {
			max = age
		}
		n++
	}
	lag := &store.ProcessingLag{MaxPendingAgeMS: max}
	if n > 0 {
		lag.AvgPendingAgeMS = total / n
	}
	return lag, nil
}

func (m *Store) CountStaleRetries(ctx context.Context, olderThan time.Time) (int, error) {
	defer m.lock()()
	var n int
	for _, d := range m.s.deliveries {
		if d.ProcessState == store.ProcessStateRetry && d.NextRetryAt != nil && d.NextRetryAt.Before(olderThan) {
			n++
		}
	}
	return n, nil
}

// --- domain ---

func (m *Store) UpsertInstallation(ctx context.Context, in *store.Installation) error {
	defer m.lock()()
	cp := *in
	m.s.installations[in.InstallationID] = &cp
	return nil
}

func (m *Store) GetInstallation(ctx context.Context, installationID int64) (*store.Installation, error) {
	defer m.lock()()
	in, ok := m.s.installations[installationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *Store) UpsertRepository(ctx context.Context, r *store.Repository) error {
	defer m.lock()()
	cp := *r
	m.s.repos[r.RepositoryID] = &cp
	return nil
}

func (m *Store) GetRepository(ctx context.Context, repositoryID int64) (*store.Repository, error) {
	defer m.lock()()
	r, ok := m.s.repos[repositoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Store) GetRepositoryByFullName(ctx context.Context, ownerLogin, name string) (*store.Repository, error) {
	defer m.lock()()
	for _, r := range m.s.repos {
		if r.OwnerLogin == ownerLogin && r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) ListRepositories(ctx context.Context, limit int) ([]*store.Repository, error) {
	defer m.lock()()
	out := make([]*store.Repository, 0, len(m.s.repos))
	for _, r := range m.s.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) UpsertUser(ctx context.Context, u *store.User) error {
	defer m.lock()()
	cp := *u
	m.s.users[u.UserID] = &cp
	return nil
}

func (m *Store) UpsertUsers(ctx context.Context, users []*store.User) error {
	defer m.lock()()
	for _, u := range users {
		cp := *u
		m.s.users[u.UserID] = &cp
	}
	return nil
}

func (m *Store) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	defer m.lock()()
	u, ok := m.s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Store) UpsertBranch(ctx context.Context, b *store.Branch) error {
	defer m.lock()()
	if m.s.branches[b.RepositoryID] == nil {
		m.s.branches[b.RepositoryID] = map[string]*store.Branch{}
	}
	cp := *b
	m.s.branches[b.RepositoryID][b.Name] = &cp
	return nil
}

func (m *Store) GetBranch(ctx context.Context, repositoryID int64, name string) (*store.Branch, error) {
	defer m.lock()()
	b, ok := m.s.branches[repositoryID][name]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Store) DeleteBranch(ctx context.Context, repositoryID int64, name string) error {
	defer m.lock()()
	delete(m.s.branches[repositoryID], name)
	return nil
}

func (m *Store) ListBranches(ctx context.Context, repositoryID int64) ([]*store.Branch, error) {
	defer m.lock()()
	out := make([]*store.Branch, 0, len(m.s.branches[repositoryID]))
	for _, b := range m.s.branches[repositoryID] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) InsertCommitIfAbsent(ctx context.Context, c *store.Commit) error {
	defer m.lock()()
	if m.s.commits[c.RepositoryID] == nil {
		m.s.commits[c.RepositoryID] = map[string]*store.Commit{}
	}
	if _, ok := m.s.commits[c.RepositoryID][c.SHA]; ok {
		return nil
	}
	cp := *c
	m.s.commits[c.RepositoryID][c.SHA] = &cp
	return nil
}

func (m *Store) ListRecentCommits(ctx context.Context, repositoryID int64, limit int) ([]*store.Commit, error) {
	defer m.lock()()
	out := make([]*store.Commit, 0, len(m.s.commits[repositoryID]))
	for _, c := range m.s.commits[repositoryID] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CommittedAt, out[j].CommittedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) UpsertPullRequest(ctx context.Context, pr *store.PullRequest) error {
	defer m.lock()()
	if m.s.prs[pr.RepositoryID] == nil {
		m.s.prs[pr.RepositoryID] = map[int]*store.PullRequest{}
	}
	if cur, ok := m.s.prs[pr.RepositoryID][pr.Number]; ok && pr.GitHubUpdatedAt.Before(cur.GitHubUpdatedAt) {
		return nil
	}
	cp := *pr
	m.s.prs[pr.RepositoryID][pr.Number] = &cp
	return nil
}

func (m *Store) GetPullRequest(ctx context.Context, repositoryID int64, number int) (*store.PullRequest, error) {
	defer m.lock()()
	pr, ok := m.s.prs[repositoryID][number]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (m *Store) ListPullRequests(ctx context.Context, repositoryID int64, limit int) ([]*store.PullRequest, error) {
	defer m.lock()()
	out := make([]*store.PullRequest, 0, len(m.s.prs[repositoryID]))
	for _, pr := range m.s.prs[repositoryID] {
		cp := *pr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GitHubUpdatedAt.After(out[j].GitHubUpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListOpenPullRequests(ctx context.Context, repositoryID int64) ([]*store.PullRequest, error) {
	defer m.lock()()
	var out []*store.PullRequest
	for _, pr := range m.s.prs[repositoryID] {
		if pr.State == "open" {
			cp := *pr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Store) UpsertReview(ctx context.Context, r *store.PullRequestReview) error {
	defer m.lock()()
	if m.s.reviews[r.RepositoryID] == nil {
		m.s.reviews[r.RepositoryID] = map[int64]*store.PullRequestReview{}
	}
	cp := *r
	m.s.reviews[r.RepositoryID][r.GitHubReviewID] = &cp
	return nil
}

func (m *Store) ListReviews(ctx context.Context, repositoryID int64, pullRequestNumber, limit int) ([]*store.PullRequestReview, error) {
	defer m.lock()()
	var out []*store.PullRequestReview
	for _, r := range m.s.reviews[repositoryID] {
		if r.PullRequestNumber == pullRequestNumber {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GitHubReviewID < out[j].GitHubReviewID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) UpsertIssue(ctx context.Context, i *store.Issue) error {
	defer m.lock()()
	if m.s.issues[i.RepositoryID] == nil {
		m.s.issues[i.RepositoryID] = map[int]*store.Issue{}
	}
	if cur, ok := m.s.issues[i.RepositoryID][i.Number]; ok && i.GitHubUpdatedAt.Before(cur.GitHubUpdatedAt) {
		return nil
	}
	cp := *i
	m.s.issues[i.RepositoryID][i.Number] = &cp
	return nil
}

func (m *Store) GetIssue(ctx context.Context, repositoryID int64, number int) (*store.Issue, error) {
	defer m.lock()()
	i, ok := m.s.issues[repositoryID][number]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *Store) ListIssues(ctx context.Context, repositoryID int64, limit int) ([]*store.Issue, error) {
	defer m.lock()()
	out := make([]*store.Issue, 0, len(m.s.issues[repositoryID]))
	for _, i := range m.s.issues[repositoryID] {
		cp := *i
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GitHubUpdatedAt.After(out[j].GitHubUpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) UpsertIssueComment(ctx context.Context, c *store.IssueComment) error {
	defer m.lock()()
	if m.s.comments[c.RepositoryID] == nil {
		m.s.comments[c.RepositoryID] = map[int64]*store.IssueComment{}
	}
	cp := *c
	m.s.comments[c.RepositoryID][c.GitHubCommentID] = &cp
	return nil
}

func (m *Store) DeleteIssueComment(ctx context.Context, repositoryID, githubCommentID int64) error {
	defer m.lock()()
	delete(m.s.comments[repositoryID], githubCommentID)
	return nil
}

func (m *Store) ListIssueComments(ctx context.Context, repositoryID int64, issueNumber, limit int) ([]*store.IssueComment, error) {
	defer m.lock()()
	var out []*store.IssueComment
	for _, c := range m.s.comments[repositoryID] {
		if c.IssueNumber == issueNumber {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) UpsertCheckRun(ctx context.Context, cr *store.CheckRun) error {
	defer m.lock()()
	if m.s.checkRuns[cr.RepositoryID] == nil {
		m.s.checkRuns[cr.RepositoryID] = map[int64]*store.CheckRun{}
	}
	cp := *cr
	m.s.checkRuns[cr.RepositoryID][cr.GitHubCheckRunID] = &cp
	return nil
}

func (m *Store) ListCheckRuns(ctx context.Context, repositoryID int64) ([]*store.CheckRun, error) {
	defer m.lock()()
	out := make([]*store.CheckRun, 0, len(m.s.checkRuns[repositoryID]))
	for _, cr := range m.s.checkRuns[repositoryID] {
		cp := *cr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GitHubCheckRunID < out[j].GitHubCheckRunID })
	return out, nil
}

func (m *Store) ListCheckRunsForSHA(ctx context.Context, repositoryID int64, headSHA string) ([]*store.CheckRun, error) {
	defer m.lock()()
	var out []*store.CheckRun
	for _, cr := range m.s.checkRuns[repositoryID] {
		if cr.HeadSHA == headSHA {
			cp := *cr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.Before(*tj)
		}
	})
	return out, nil
}

func prFileKey(number int, filename string) string {
	return fmt.Sprintf("%d/%s", number, filename)
}

func (m *Store) UpsertPullRequestFiles(ctx context.Context, files []*store.PullRequestFile) error {
	defer m.lock()()
	for _, f := range files {
		if m.s.prFiles[f.RepositoryID] == nil {
			m.s.prFiles[f.RepositoryID] = map[string]*store.PullRequestFile{}
		}
		cp := *f
		m.s.prFiles[f.RepositoryID][prFileKey(f.PullRequestNumber, f.Filename)] = &cp
	}
	return nil
}

func (m *Store) ListPullRequestFiles(ctx context.Context, repositoryID int64, pullRequestNumber int) ([]*store.PullRequestFile, error) {
	defer m.lock()()
	var out []*store.PullRequestFile
	for _, f := range m.s.prFiles[repositoryID] {
		if f.PullRequestNumber == pullRequestNumber {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// --- projections ---

func (m *Store) UpsertRepoOverview(ctx context.Context, o *store.RepoOverview) error {
	defer m.lock()()
	cp := *o
	m.s.overviews[o.RepositoryID] = &cp
	return nil
}

func (m *Store) GetRepoOverview(ctx context.Context, repositoryID int64) (*store.RepoOverview, error) {
	defer m.lock()()
	o, ok := m.s.overviews[repositoryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Store) ListRepoOverviews(ctx context.Context, limit int) ([]*store.RepoOverview, error) {
	defer m.lock()()
	out := make([]*store.RepoOverview, 0, len(m.s.overviews))
	for _, o := range m.s.overviews {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepositoryID < out[j].RepositoryID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) CountRepoOverviews(ctx context.Context) (int, error) {
	defer m.lock()()
	return len(m.s.overviews), nil
}

func (m *Store) ReplacePullRequestList(ctx context.Context, repositoryID int64, items []*store.RepoPullRequestItem) error {
	defer m.lock()()
	cp := make([]*store.RepoPullRequestItem, 0, len(items))
	for _, it := range items {
		c := *it
		cp = append(cp, &c)
	}
	m.s.prItems[repositoryID] = cp
	return nil
}

func sortedPRItems(items []*store.RepoPullRequestItem) []*store.RepoPullRequestItem {
	out := make([]*store.RepoPullRequestItem, 0, len(items))
	for _, it := range items {
		c := *it
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortUpdated.After(out[j].SortUpdated) })
	return out
}

func (m *Store) ListPullRequestItems(ctx context.Context, repositoryID int64, limit int) ([]*store.RepoPullRequestItem, error) {
	defer m.lock()()
	out := sortedPRItems(m.s.prItems[repositoryID])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListPullRequestItemsBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*store.RepoPullRequestItem, error) {
	defer m.lock()()
	var filtered []*store.RepoPullRequestItem
	for _, it := range sortedPRItems(m.s.prItems[repositoryID]) {
		if it.SortUpdated.Before(before) {
			filtered = append(filtered, it)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (m *Store) ReplaceIssueList(ctx context.Context, repositoryID int64, items []*store.RepoIssueItem) error {
	defer m.lock()()
	cp := make([]*store.RepoIssueItem, 0, len(items))
	for _, it := range items {
		c := *it
		cp = append(cp, &c)
	}
	m.s.issueItems[repositoryID] = cp
	return nil
}

func sortedIssueItems(items []*store.RepoIssueItem) []*store.RepoIssueItem {
	out := make([]*store.RepoIssueItem, 0, len(items))
	for _, it := range items {
		c := *it
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortUpdated.After(out[j].SortUpdated) })
	return out
}

func (m *Store) ListIssueItems(ctx context.Context, repositoryID int64, limit int) ([]*store.RepoIssueItem, error) {
	defer m.lock()()
	out := sortedIssueItems(m.s.issueItems[repositoryID])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListIssueItemsBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*store.RepoIssueItem, error) {
	defer m.lock()()
	var filtered []*store.RepoIssueItem
	for _, it := range sortedIssueItems(m.s.issueItems[repositoryID]) {
		if it.SortUpdated.Before(before) {
			filtered = append(filtered, it)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (m *Store) AppendActivity(ctx context.Context, e *store.ActivityEntry) error {
	defer m.lock()()
	m.s.seq++
	cp := *e
	cp.ID = m.s.seq
	m.s.activity[e.RepositoryID] = append(m.s.activity[e.RepositoryID], &cp)
	return nil
}

func sortedActivity(entries []*store.ActivityEntry) []*store.ActivityEntry {
	out := make([]*store.ActivityEntry, 0, len(entries))
	for _, e := range entries {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Store) ListActivity(ctx context.Context, repositoryID int64, limit int) ([]*store.ActivityEntry, error) {
	defer m.lock()()
	out := sortedActivity(m.s.activity[repositoryID])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListActivityBefore(ctx context.Context, repositoryID int64, before time.Time, limit int) ([]*store.ActivityEntry, error) {
	defer m.lock()()
	var filtered []*store.ActivityEntry
	for _, e := range sortedActivity(m.s.activity[repositoryID]) {
		if e.CreatedAt.Before(before) {
			filtered = append(filtered, e)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// --- sync jobs ---

func (m *Store) ScheduleSyncJob(ctx context.Context, job *store.SyncJob) (bool, error) {
	defer m.lock()()
	if cur, ok := m.s.syncJobs[job.LockKey]; ok {
		switch cur.State {
		case store.SyncJobStatePending, store.SyncJobStateRunning, store.SyncJobStateRetry:
			return false, nil
		}
	}
	cp := *job
	cp.State = store.SyncJobStatePending
	now := m.now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.s.syncJobs[job.LockKey] = &cp
	return true, nil
}

func (m *Store) AcquireSyncJob(ctx context.Context, lockKey string) (*store.SyncJob, bool, error) {
	defer m.lock()()
	cur, ok := m.s.syncJobs[lockKey]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if cur.State != store.SyncJobStatePending && cur.State != store.SyncJobStateRetry {
		return nil, false, nil
	}
	cp := *cur
	cp.State = store.SyncJobStateRunning
	cp.Attempts++
	cp.NextRunAt = nil
	cp.UpdatedAt = m.now()
	m.s.syncJobs[lockKey] = &cp
	out := cp
	return &out, true, nil
}

func (m *Store) markSyncJob(lockKey string, state store.SyncJobState, errMsg string, nextRunAt *time.Time) error {
	cur, ok := m.s.syncJobs[lockKey]
	if !ok {
		return store.ErrNotFound
	}
	cp := *cur
	cp.State = state
	cp.Error = errMsg
	cp.NextRunAt = nextRunAt
	cp.UpdatedAt = m.now()
	m.s.syncJobs[lockKey] = &cp
	return nil
}

func (m *Store) MarkSyncJobDone(ctx context.Context, lockKey string) error {
	defer m.lock()()
	return m.markSyncJob(lockKey, store.SyncJobStateDone, "", nil)
}

func (m *Store) MarkSyncJobFailed(ctx context.Context, lockKey, errMsg string) error {
	defer m.lock()()
	return m.markSyncJob(lockKey, store.SyncJobStateFailed, errMsg, nil)
}

func (m *Store) MarkSyncJobRetry(ctx context.Context, lockKey, errMsg string, nextRunAt time.Time) error {
	defer m.lock()()
	return m.markSyncJob(lockKey, store.SyncJobStateRetry, errMsg, &nextRunAt)
}

func (m *Store) GetSyncJob(ctx context.Context, lockKey string) (*store.SyncJob, error) {
	defer m.lock()()
	j, ok := m.s.syncJobs[lockKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Store) ListDueSyncJobs(ctx context.Context, now time.Time, limit int) ([]*store.SyncJob, error) {
	defer m.lock()()
	var out []*store.SyncJob
	for _, j := range m.s.syncJobs {
		due := j.State == store.SyncJobStatePending ||
			(j.State == store.SyncJobStateRetry && j.NextRunAt != nil && !j.NextRunAt.After(now))
		if due {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListSyncJobs(ctx context.Context, limit int) ([]*store.SyncJob, error) {
	defer m.lock()()
	out := make([]*store.SyncJob, 0, len(m.s.syncJobs))
	for _, j := range m.s.syncJobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- write operations ---

func (m *Store) InsertWriteOperation(ctx context.Context, op *store.WriteOperation) error {
	defer m.lock()()
	if _, ok := m.s.writeOps[op.CorrelationID]; ok {
		return fmt.Errorf("write operation %q already exists", op.CorrelationID)
	}
	m.s.seq++
	cp := *op
	m.s.writeOps[op.CorrelationID] = &cp
	m.s.writeOpSeq[op.CorrelationID] = m.s.seq
	return nil
}

func (m *Store) GetWriteOperation(ctx context.Context, correlationID string) (*store.WriteOperation, error) {
	defer m.lock()()
	op, ok := m.s.writeOps[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (m *Store) MarkWriteOperationCompleted(ctx context.Context, correlationID string, entityNumber int, result []byte) error {
	defer m.lock()()
	op, ok := m.s.writeOps[correlationID]
	if !ok {
		return store.ErrNotFound
	}
	if op.State != store.WriteOpStatePending {
		return fmt.Errorf("write operation %q is %s, not pending", correlationID, op.State)
	}
	cp := *op
	cp.State = store.WriteOpStateCompleted
	cp.GitHubEntityNumber = &entityNumber
	cp.Result = result
	cp.UpdatedAt = m.now()
	m.s.writeOps[correlationID] = &cp
	return nil
}

func (m *Store) MarkWriteOperationFailed(ctx context.Context, correlationID, errMsg string, errStatus int) error {
	defer m.lock()()
	op, ok := m.s.writeOps[correlationID]
	if !ok {
		return store.ErrNotFound
	}
	if op.State != store.WriteOpStatePending {
		return fmt.Errorf("write operation %q is %s, not pending", correlationID, op.State)
	}
	cp := *op
	cp.State = store.WriteOpStateFailed
	cp.ErrorMessage = errMsg
	cp.ErrorStatus = errStatus
	cp.UpdatedAt = m.now()
	m.s.writeOps[correlationID] = &cp
	return nil
}

func (m *Store) MarkWriteOperationConfirmed(ctx context.Context, correlationID string) (bool, error) {
	defer m.lock()()
	op, ok := m.s.writeOps[correlationID]
	if !ok {
		return false, store.ErrNotFound
	}
	if op.State != store.WriteOpStatePending && op.State != store.WriteOpStateCompleted {
		return false, nil
	}
	cp := *op
	cp.State = store.WriteOpStateConfirmed
	cp.UpdatedAt = m.now()
	m.s.writeOps[correlationID] = &cp
	return true, nil
}

func (m *Store) ListRecentWriteOperations(ctx context.Context, repositoryID int64, opType store.WriteOpType, entityNumber, limit int) ([]*store.WriteOperation, error) {
	defer m.lock()()
	var out []*store.WriteOperation
	for _, op := range m.s.writeOps {
		if op.RepositoryID != repositoryID || op.Type != opType {
			continue
		}
		if op.GitHubEntityNumber == nil || *op.GitHubEntityNumber != entityNumber {
			continue
		}
		cp := *op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.s.writeOpSeq[out[i].CorrelationID] > m.s.writeOpSeq[out[j].CorrelationID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) CountWriteOperationsByState(ctx context.Context) (map[store.WriteOpState]int, error) {
	defer m.lock()()
	out := map[store.WriteOpState]int{}
	for _, op := range m.s.writeOps {
		out[op.State]++
	}
	return out, nil
}

// --- ops ---

const tableCountBound = 10_000

func bounded(n int) int {
	if n > tableCountBound {
		return tableCountBound
	}
	return n
}

func (m *Store) TableCounts(ctx context.Context) (map[string]int, error) {
	defer m.lock()()
	counts := map[string]int{
		"raw_webhook_deliveries": bounded(len(m.s.deliveries)),
		"dead_letters":           bounded(len(m.s.deadLetters)),
		"installations":          bounded(len(m.s.installations)),
		"repositories":           bounded(len(m.s.repos)),
		"users":                  bounded(len(m.s.users)),
		"sync_jobs":              bounded(len(m.s.syncJobs)),
		"write_operations":       bounded(len(m.s.writeOps)),
		"repo_overviews":         bounded(len(m.s.overviews)),
	}
	var branches, commits, prs, reviews, issues, comments, checks, files, activity int
	for _, v := range m.s.branches {
		branches += len(v)
	}
	for _, v := range m.s.commits {
		commits += len(v)
	}
	for _, v := range m.s.prs {
		prs += len(v)
	}
	for _, v := range m.s.reviews {
		reviews += len(v)
	}
	for _, v := range m.s.issues {
		issues += len(v)
	}
	for _, v := range m.s.comments {
		comments += len(v)
	}
	for _, v := range m.s.checkRuns {
		checks += len(v)
	}
	for _, v := range m.s.prFiles {
		files += len(v)
	}
	for _, v := range m.s.activity {
		activity += len(v)
	}
	counts["branches"] = bounded(branches)
	counts["commits"] = bounded(commits)
	counts["pull_requests"] = bounded(prs)
	counts["pull_request_reviews"] = bounded(reviews)
	counts["issues"] = bounded(issues)
	counts["issue_comments"] = bounded(comments)
	counts["check_runs"] = bounded(checks)
	counts["pull_request_files"] = bounded(files)
	counts["activity_feed"] = bounded(activity)
	return counts, nil
}

func (m *Store) Ping(ctx context.Context) error {
	return nil
}
