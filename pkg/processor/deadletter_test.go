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
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/abcxyz/github-mirror/pkg/store"
)

func TestProcessDelivery_RetryThenDeadLetter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)
	p.DispatchOverride = func(ctx context.Context, tx store.Store, repositoryID int64, evt any) error {
		return errors.New("injected handler failure")
	}

	insertDelivery(t, db, "d-fail", "issues", "opened",
		issuePayload("opened", 1, "open", "Test issue", "2026-02-18T10:00:00Z"))

	var lastRetryAt time.Time
	for attempt := 1; attempt <= MaxAttempts-1; attempt++ {
		res, err := p.ProcessDelivery(ctx, "d-fail")
		if err != nil {
			t.Fatalf("ProcessDelivery attempt %d: %v", attempt, err)
		}
		if res.Outcome != OutcomeRetried {
			t.Fatalf("attempt %d outcome = %q, want retried", attempt, res.Outcome)
		}

		d, err := db.GetDelivery(ctx, "d-fail")
		if err != nil {
			t.Fatalf("GetDelivery: %v", err)
		}
		if d.ProcessState != store.ProcessStateRetry {
			t.Errorf("attempt %d state = %q, want retry", attempt, d.ProcessState)
		}
		if d.ProcessAttempts != attempt {
			t.Errorf("attempt counter = %d, want %d", d.ProcessAttempts, attempt)
		}
		if d.NextRetryAt == nil {
			t.Fatalf("attempt %d nextRetryAt is nil", attempt)
		}
		if !d.NextRetryAt.After(testNow()) {
			t.Errorf("attempt %d nextRetryAt = %v, want strictly after now", attempt, d.NextRetryAt)
		}
		if !d.NextRetryAt.After(lastRetryAt) {
			t.Errorf("attempt %d nextRetryAt = %v, want strictly increasing (prev %v)",
				attempt, d.NextRetryAt, lastRetryAt)
		}
		lastRetryAt = *d.NextRetryAt

		// Promote back to pending for the next attempt.
		if err := db.ResetDelivery(ctx, "d-fail"); err != nil {
			t.Fatalf("ResetDelivery: %v", err)
		}
	}

	// The fifth failure dead-letters the delivery.
	res, err := p.ProcessDelivery(ctx, "d-fail")
	if err != nil {
		t.Fatalf("final ProcessDelivery: %v", err)
	}
	if res.Outcome != OutcomeDeadLettered {
		t.Fatalf("final outcome = %q, want dead_lettered", res.Outcome)
	}

	if _, err := db.GetDelivery(ctx, "d-fail"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("raw row still present after dead-letter: err=%v", err)
	}

	letters, err := db.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want exactly 1", len(letters))
	}
	if want := fmt.Sprintf("Exhausted %d attempts", MaxAttempts); !strings.Contains(letters[0].Reason, want) {
		t.Errorf("reason = %q, want it to contain %q", letters[0].Reason, want)
	}
	if !strings.Contains(letters[0].Reason, "injected handler failure") {
		t.Errorf("reason = %q, want it to contain the last error", letters[0].Reason)
	}
}

func TestProcessDelivery_FailedHandlerRollsBackDomainWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)
	p.DispatchOverride = func(ctx context.Context, tx store.Store, repositoryID int64, evt any) error {
		// A partial write that must not survive the failure.
		if err := tx.UpsertUser(ctx, &store.User{UserID: 42, Login: "ghost"}); err != nil {
			return err
		}
		return errors.New("boom after partial write")
	}

	insertDelivery(t, db, "d-partial", "issues", "opened",
		issuePayload("opened", 1, "open", "Test issue", "2026-02-18T10:00:00Z"))

	if _, err := p.ProcessDelivery(ctx, "d-partial"); err != nil {
		t.Fatalf("ProcessDelivery: %v", err)
	}

	if _, err := db.GetUser(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("partial handler write survived rollback: err=%v", err)
	}
}

func TestBackoff_ExponentialWithJitterBound(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(newTestStore(t))

	cases := []struct {
		name    string
		attempt int
		rand    float64
		want    time.Duration
	}{
		{name: "first_attempt_no_jitter", attempt: 1, rand: 0, want: 1 * time.Second},
		{name: "second_attempt_no_jitter", attempt: 2, rand: 0, want: 2 * time.Second},
		{name: "fourth_attempt_no_jitter", attempt: 4, rand: 0, want: 8 * time.Second},
		{name: "jitter_quarter_of_exponential", attempt: 2, rand: 0.5, want: 2*time.Second + 250*time.Millisecond},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := *p
			p.Rand = func() float64 { return tc.rand }
			if got := p.backoff(tc.attempt); got != tc.want {
				t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
			}
		})
	}
}

func TestPromoteRetryEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-due", "issues", "opened",
		issuePayload("opened", 1, "open", "x", "2026-02-18T10:00:00Z"))
	insertDelivery(t, db, "d-later", "issues", "opened",
		issuePayload("opened", 2, "open", "y", "2026-02-18T10:00:00Z"))

	if err := db.MarkDeliveryRetry(ctx, "d-due", 1, testNow().Add(-time.Second), "err"); err != nil {
		t.Fatalf("MarkDeliveryRetry: %v", err)
	}
	if err := db.MarkDeliveryRetry(ctx, "d-later", 1, testNow().Add(time.Hour), "err"); err != nil {
		t.Fatalf("MarkDeliveryRetry: %v", err)
	}

	promoted, err := p.PromoteRetryEvents(ctx)
	if err != nil {
		t.Fatalf("PromoteRetryEvents: %v", err)
	}
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1 (only the due row)", promoted)
	}

	due, err := db.GetDelivery(ctx, "d-due")
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if due.ProcessState != store.ProcessStatePending {
		t.Errorf("due state = %q, want pending", due.ProcessState)
	}
	if due.NextRetryAt != nil {
		t.Errorf("due nextRetryAt = %v, want nil", due.NextRetryAt)
	}

	later, err := db.GetDelivery(ctx, "d-later")
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if later.ProcessState != store.ProcessStateRetry {
		t.Errorf("later state = %q, want retry (not yet due)", later.ProcessState)
	}
}

func TestMoveToDeadLetter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestStore(t)
	p := newTestProcessor(db)

	insertDelivery(t, db, "d-op", "issues", "opened",
		issuePayload("opened", 1, "open", "x", "2026-02-18T10:00:00Z"))

	if err := p.MoveToDeadLetter(ctx, "d-op", "operator quarantine"); err != nil {
		t.Fatalf("MoveToDeadLetter: %v", err)
	}

	if _, err := db.GetDelivery(ctx, "d-op"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("raw row still present: err=%v", err)
	}
	letters, err := db.ListDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("ListDeadLetters: %v", err)
	}
	if len(letters) != 1 || letters[0].Reason != "operator quarantine" {
		t.Errorf("dead letters = %+v, want one with the operator reason", letters)
	}
}
