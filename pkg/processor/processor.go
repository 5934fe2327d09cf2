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

// Package processor drives raw webhook deliveries through the retry state
// machine and into normalized domain state.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/activity"
	"github.com/abcxyz/github-mirror/pkg/events"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/writeops"
)

const (
	// MaxAttempts is the retry budget before a delivery is dead-lettered.
	MaxAttempts = 5

	// BaseBackoff seeds the exponential retry schedule.
	BaseBackoff = 1 * time.Second

	// BatchSize bounds one drain of the pending or retry queue.
	BatchSize = 50
)

// Outcome is the terminal disposition of one ProcessDelivery call.
type Outcome string

const (
	OutcomeAbsent       Outcome = "absent"
	OutcomeProcessed    Outcome = "processed"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Result reports the disposition of a single delivery.
type Result struct {
	Processed bool
	Outcome   Outcome
}

// BatchResult accumulates dispositions over one queue drain.
type BatchResult struct {
	Processed    int
	Retried      int
	DeadLettered int
}

// FileSyncRequest asks for an asynchronous PR file-diff sync.
type FileSyncRequest struct {
	OwnerLogin        string
	Name              string
	RepositoryID      int64
	PullRequestNumber int
	HeadSHA           string
}

// FileSyncScheduler schedules PR file-diff syncs fire-and-forget.
type FileSyncScheduler interface {
	ScheduleFileSync(ctx context.Context, req *FileSyncRequest)
}

// Processor owns the delivery state machine.
type Processor struct {
	db       store.Store
	fileSync FileSyncScheduler

	// Now and Rand can be overridden in tests.
	Now  func() time.Time
	Rand func() float64

	// DispatchOverride replaces handler dispatch; used to inject failures
	// in tests.
	DispatchOverride func(ctx context.Context, tx store.Store, repositoryID int64, evt any) error
}

// New creates a processor over the given store. fileSync may be nil, in
// which case PR diff syncs are not scheduled.
func New(db store.Store, fileSync FileSyncScheduler) *Processor {
	return &Processor{
		db:       db,
		fileSync: fileSync,
		Now:      time.Now,
		Rand:     rand.Float64,
	}
}

func (p *Processor) now() time.Time {
	return p.Now().UTC()
}

// backoff computes the delay before the given attempt is retried:
// BaseBackoff · 2^(attempt-1) plus jitter uniform in [0, 0.25·exponential).
func (p *Processor) backoff(attempt int) time.Duration {
	exp := BaseBackoff << (attempt - 1)
	jitter := time.Duration(p.Rand() * 0.25 * float64(exp))
	return exp + jitter
}

// ProcessDelivery runs one delivery through the state machine. The handler
// writes and the terminal state transition commit in a single transaction;
// a failed handler leaves the row unchanged except for the bumped attempt
// counter and retry schedule.
func (p *Processor) ProcessDelivery(ctx context.Context, deliveryID string) (*Result, error) {
	logger := logging.FromContext(ctx)

	d, err := p.db.GetDelivery(ctx, deliveryID)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Processed: false, Outcome: OutcomeAbsent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery: %w", err)
	}

	if d.ProcessState == store.ProcessStateProcessed {
		return &Result{Processed: true, Outcome: OutcomeProcessed}, nil
	}

	nextAttempt := d.ProcessAttempts + 1

	// Deliveries that carry no repository cannot affect domain state.
	if d.RepositoryID == nil {
		if err := p.db.MarkDeliveryProcessed(ctx, d.DeliveryID, nextAttempt); err != nil {
			return nil, fmt.Errorf("failed to mark delivery processed: %w", err)
		}
		return &Result{Processed: true, Outcome: OutcomeProcessed}, nil
	}
	repositoryID := *d.RepositoryID

	// A payload that fails to parse converts to the no-op arm; it will not
	// become parseable on retry.
	evt, parseErr := events.Parse(d.EventName, d.Payload)
	if parseErr != nil {
		logger.DebugContext(ctx, "payload does not parse, processing as no-op",
			"delivery_id", d.DeliveryID,
			"event", d.EventName,
			"error", parseErr)
		evt = nil
	}

	dispatch := p.DispatchOverride
	if dispatch == nil {
		dispatch = p.dispatch
	}

	handlerErr := p.db.WithTx(ctx, func(tx store.Store) error {
		if evt != nil {
			if err := dispatch(ctx, tx, repositoryID, evt); err != nil {
				return err
			}
		}
		return tx.MarkDeliveryProcessed(ctx, d.DeliveryID, nextAttempt)
	})
	if handlerErr == nil {
		p.postSuccess(ctx, d, repositoryID, evt)
		return &Result{Processed: true, Outcome: OutcomeProcessed}, nil
	}

	if nextAttempt >= MaxAttempts {
		reason := fmt.Sprintf("Exhausted %d attempts: %v", nextAttempt, handlerErr)
		err := p.db.WithTx(ctx, func(tx store.Store) error {
			if err := tx.InsertDeadLetter(ctx, &store.DeadLetter{
				DeliveryID:   d.DeliveryID,
				EventName:    d.EventName,
				Action:       d.Action,
				RepositoryID: d.RepositoryID,
				Payload:      d.Payload,
				Reason:       reason,
				CreatedAt:    p.now(),
			}); err != nil {
				return err
			}
			return tx.DeleteDelivery(ctx, d.DeliveryID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to dead-letter delivery: %w", err)
		}
		logger.ErrorContext(ctx, "delivery dead-lettered",
			"delivery_id", d.DeliveryID,
			"event", d.EventName,
			"attempts", nextAttempt,
			"error", handlerErr)
		return &Result{Processed: false, Outcome: OutcomeDeadLettered}, nil
	}

	retryAt := p.now().Add(p.backoff(nextAttempt))
	if err := p.db.MarkDeliveryRetry(ctx, d.DeliveryID, nextAttempt, retryAt, handlerErr.Error()); err != nil {
		return nil, fmt.Errorf("failed to mark delivery for retry: %w", err)
	}
	logger.WarnContext(ctx, "delivery failed, scheduled for retry",
		"delivery_id", d.DeliveryID,
		"event", d.EventName,
		"attempt", nextAttempt,
		"next_retry_at", retryAt,
		"error", handlerErr)
	return &Result{Processed: false, Outcome: OutcomeRetried}, nil
}

// eventAction extracts the action from a parsed event, preferring the
// stored envelope action when present.
func eventAction(stored string, evt any) string {
	if stored != "" {
		return stored
	}
	switch e := evt.(type) {
	case *github.IssuesEvent:
		return e.GetAction()
	case *github.PullRequestEvent:
		return e.GetAction()
	case *github.IssueCommentEvent:
		return e.GetAction()
	case *github.PullRequestReviewEvent:
		return e.GetAction()
	case *github.CheckRunEvent:
		return e.GetAction()
	}
	return ""
}

// postSuccess runs the best-effort follow-ups after a delivery reaches its
// processed state: activity feed, projection refresh, and downstream side
// effects. Failures are logged and never re-dirty the delivery.
func (p *Processor) postSuccess(ctx context.Context, d *store.RawDelivery, repositoryID int64, evt any) {
	logger := logging.FromContext(ctx)
	now := p.now()
	action := eventAction(d.Action, evt)

	if info := activity.MapEvent(d.EventName, action, evt); info != nil {
		if err := p.db.AppendActivity(ctx, &store.ActivityEntry{
			RepositoryID:   repositoryID,
			ActivityType:   info.ActivityType,
			Title:          info.Title,
			Description:    info.Description,
			ActorLogin:     info.ActorLogin,
			ActorAvatarURL: info.ActorAvatarURL,
			EntityNumber:   info.EntityNumber,
			CreatedAt:      now,
		}); err != nil {
			logger.ErrorContext(ctx, "failed to append activity entry",
				"delivery_id", d.DeliveryID, "error", err)
		}
	}

	if err := projection.UpdateAll(ctx, p.db, repositoryID, now); err != nil {
		logger.ErrorContext(ctx, "failed to refresh projections",
			"delivery_id", d.DeliveryID, "repository_id", repositoryID, "error", err)
	}

	if pre, ok := evt.(*github.PullRequestEvent); ok && p.fileSync != nil {
		switch action {
		case "opened", "synchronize", "reopened":
			pr := pre.GetPullRequest()
			repo := pre.GetRepo()
			if pr != nil && repo != nil {
				p.fileSync.ScheduleFileSync(ctx, &FileSyncRequest{
					OwnerLogin:        repo.GetOwner().GetLogin(),
					Name:              repo.GetName(),
					RepositoryID:      repositoryID,
					PullRequestNumber: pr.GetNumber(),
					HeadSHA:           pr.GetHead().GetSHA(),
				})
			}
		}
	}

	confirmed, err := writeops.Reconcile(ctx, p.db, repositoryID, d.EventName, action, evt)
	if err != nil {
		logger.ErrorContext(ctx, "failed to reconcile write operations",
			"delivery_id", d.DeliveryID, "error", err)
	} else if confirmed {
		logger.InfoContext(ctx, "write operation confirmed by webhook",
			"delivery_id", d.DeliveryID, "event", d.EventName, "action", action)
	}
}

// ProcessAllPending drains up to BatchSize pending deliveries in arrival
// order. The batch can be aborted between deliveries via ctx.
func (p *Processor) ProcessAllPending(ctx context.Context) (*BatchResult, error) {
	logger := logging.FromContext(ctx)

	pending, err := p.db.ListPendingDeliveries(ctx, BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deliveries: %w", err)
	}

	var res BatchResult
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return &res, err //nolint:wrapcheck // cancellation passthrough
		}
		r, err := p.ProcessDelivery(ctx, d.DeliveryID)
		if err != nil {
			return &res, err
		}
		switch r.Outcome {
		case OutcomeProcessed:
			res.Processed++
		case OutcomeRetried:
			res.Retried++
		case OutcomeDeadLettered:
			res.DeadLettered++
		}
	}

	if len(pending) > 0 {
		logger.InfoContext(ctx, "processed pending deliveries",
			"batch", len(pending),
			"processed", res.Processed,
			"retried", res.Retried,
			"dead_lettered", res.DeadLettered)
	}
	return &res, nil
}

// PromoteRetryEvents returns due retry rows to the pending queue. This is
// the only path that drains the retry queue.
func (p *Processor) PromoteRetryEvents(ctx context.Context) (int, error) {
	due, err := p.db.ListDueRetries(ctx, p.now(), BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due retries: %w", err)
	}
	var promoted int
	for _, d := range due {
		if err := p.db.ResetDelivery(ctx, d.DeliveryID); err != nil {
			return promoted, fmt.Errorf("failed to promote delivery %q: %w", d.DeliveryID, err)
		}
		promoted++
	}
	return promoted, nil
}
