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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/abcxyz/github-mirror/pkg/store"
)

const deliveryColumns = `delivery_id, event_name, action, installation_id, repository_id,
	signature_valid, payload, received_at, process_state, process_attempts, next_retry_at, process_error`

func scanDelivery(row pgx.Row) (*store.RawDelivery, error) {
	var d store.RawDelivery
	var state string
	if err := row.Scan(&d.DeliveryID, &d.EventName, &d.Action, &d.InstallationID, &d.RepositoryID,
		&d.SignatureValid, &d.Payload, &d.ReceivedAt, &state, &d.ProcessAttempts, &d.NextRetryAt, &d.ProcessError); err != nil {
		return nil, err //nolint:wrapcheck // callers classify pgx.ErrNoRows
	}
	d.ProcessState = store.ProcessState(state)
	return &d, nil
}

func (d *DB) InsertDelivery(ctx context.Context, raw *store.RawDelivery) (bool, error) {
	const q = `
		INSERT INTO raw_webhook_deliveries
			(delivery_id, event_name, action, installation_id, repository_id,
			 signature_valid, payload, received_at, process_state, process_attempts, process_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, '')
		ON CONFLICT (delivery_id) DO NOTHING`
	tag, err := d.q.Exec(ctx, q, raw.DeliveryID, raw.EventName, raw.Action, raw.InstallationID,
		raw.RepositoryID, raw.SignatureValid, raw.Payload, raw.ReceivedAt, string(store.ProcessStatePending))
	if err != nil {
		return false, fmt.Errorf("InsertDelivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (d *DB) GetDelivery(ctx context.Context, deliveryID string) (*store.RawDelivery, error) {
	q := `SELECT ` + deliveryColumns + ` FROM raw_webhook_deliveries WHERE delivery_id = $1`
	raw, err := scanDelivery(d.q.QueryRow(ctx, q, deliveryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetDelivery: %w", err)
	}
	return raw, nil
}

func (d *DB) MarkDeliveryProcessed(ctx context.Context, deliveryID string, attempts int) error {
	const q = `
		UPDATE raw_webhook_deliveries
		SET process_state = 'processed', process_attempts = $2, next_retry_at = NULL, process_error = ''
		WHERE delivery_id = $1`
	tag, err := d.q.Exec(ctx, q, deliveryID, attempts)
	if err != nil {
		return fmt.Errorf("MarkDeliveryProcessed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) MarkDeliveryRetry(ctx context.Context, deliveryID string, attempts int, nextRetryAt time.Time, processErr string) error {
	const q = `
		UPDATE raw_webhook_deliveries
		SET process_state = 'retry', process_attempts = $2, next_retry_at = $3, process_error = $4
		WHERE delivery_id = $1`
	tag, err := d.q.Exec(ctx, q, deliveryID, attempts, nextRetryAt, processErr)
	if err != nil {
		return fmt.Errorf("MarkDeliveryRetry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) ResetDelivery(ctx context.Context, deliveryID string) error {
	const q = `
		UPDATE raw_webhook_deliveries
		SET process_state = 'pending', next_retry_at = NULL, process_error = ''
		WHERE delivery_id = $1`
	tag, err := d.q.Exec(ctx, q, deliveryID)
	if err != nil {
		return fmt.Errorf("ResetDelivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) DeleteDelivery(ctx context.Context, deliveryID string) error {
	if _, err := d.q.Exec(ctx, `DELETE FROM raw_webhook_deliveries WHERE delivery_id = $1`, deliveryID); err != nil {
		return fmt.Errorf("DeleteDelivery: %w", err)
	}
	return nil
}

func (d *DB) listDeliveries(ctx context.Context, q string, args ...any) ([]*store.RawDelivery, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap
	}
	defer rows.Close()

	var out []*store.RawDelivery
	for rows.Next() {
		raw, err := scanDelivery(rows)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, raw)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListPendingDeliveries(ctx context.Context, limit int) ([]*store.RawDelivery, error) {
	q := `SELECT ` + deliveryColumns + `
		FROM raw_webhook_deliveries
		WHERE process_state = 'pending'
		ORDER BY received_at
		LIMIT $1`
	out, err := d.listDeliveries(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ListPendingDeliveries: %w", err)
	}
	return out, nil
}

func (d *DB) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*store.RawDelivery, error) {
	q := `SELECT ` + deliveryColumns + `
		FROM raw_webhook_deliveries
		WHERE process_state = 'retry' AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`
	out, err := d.listDeliveries(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDueRetries: %w", err)
	}
	return out, nil
}

func (d *DB) ListFailedDeliveries(ctx context.Context, limit int) ([]*store.RawDelivery, error) {
	q := `SELECT ` + deliveryColumns + `
		FROM raw_webhook_deliveries
		WHERE process_state = 'failed'
		ORDER BY received_at
		LIMIT $1`
	out, err := d.listDeliveries(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ListFailedDeliveries: %w", err)
	}
	return out, nil
}

func (d *DB) InsertDeadLetter(ctx context.Context, dl *store.DeadLetter) error {
	const q = `
		INSERT INTO dead_letters (delivery_id, event_name, action, repository_id, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := d.q.Exec(ctx, q, dl.DeliveryID, dl.EventName, dl.Action, dl.RepositoryID,
		dl.Payload, dl.Reason, dl.CreatedAt); err != nil {
		return fmt.Errorf("InsertDeadLetter: %w", err)
	}
	return nil
}

func (d *DB) ListDeadLetters(ctx context.Context, limit int) ([]*store.DeadLetter, error) {
	const q = `
		SELECT delivery_id, event_name, action, repository_id, payload, reason, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := d.q.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDeadLetters: %w", err)
	}
	defer rows.Close()

	var out []*store.DeadLetter
	for rows.Next() {
		var dl store.DeadLetter
		if err := rows.Scan(&dl.DeliveryID, &dl.EventName, &dl.Action, &dl.RepositoryID,
			&dl.Payload, &dl.Reason, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListDeadLetters scan: %w", err)
		}
		out = append(out, &dl)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) QueueStats(ctx context.Context, now time.Time) (*store.QueueStats, error) {
	const q = `
		SELECT
			count(*) FILTER (WHERE process_state = 'pending'),
			count(*) FILTER (WHERE process_state = 'retry'),
			count(*) FILTER (WHERE process_state = 'failed'),
			count(*) FILTER (WHERE process_state = 'processed' AND received_at > $1)
		FROM raw_webhook_deliveries`
	stats := &store.QueueStats{}
	if err := d.q.QueryRow(ctx, q, now.Add(-time.Hour)).Scan(
		&stats.Pending, &stats.Retry, &stats.Failed, &stats.RecentProcessedLastHour); err != nil {
		return nil, fmt.Errorf("QueueStats: %w", err)
	}
	if err := d.q.QueryRow(ctx, `SELECT count(*) FROM dead_letters`).Scan(&stats.DeadLetters); err != nil {
		return nil, fmt.Errorf("QueueStats dead letters: %w", err)
	}
	return stats, nil
}

func (d *DB) ProcessingLag(ctx context.Context, now time.Time) (*store.ProcessingLag, error) {
	const q = `
		SELECT
			COALESCE(avg(EXTRACT(EPOCH FROM ($1 - received_at)) * 1000), 0)::BIGINT,
			COALESCE(max(EXTRACT(EPOCH FROM ($1 - received_at)) * 1000), 0)::BIGINT
		FROM raw_webhook_deliveries
		WHERE process_state = 'pending'`
	lag := &store.ProcessingLag{}
	if err := d.q.QueryRow(ctx, q, now).Scan(&lag.AvgPendingAgeMS, &lag.MaxPendingAgeMS); err != nil {
		return nil, fmt.Errorf("ProcessingLag: %w", err)
	}
	if lag.AvgPendingAgeMS < 0 {
		lag.AvgPendingAgeMS = 0
	}
	if lag.MaxPendingAgeMS < 0 {
		lag.MaxPendingAgeMS = 0
	}
	return lag, nil
}

func (d *DB) CountStaleRetries(ctx context.Context, olderThan time.Time) (int, error) {
	const q = `
		SELECT count(*) FROM raw_webhook_deliveries
		WHERE process_state = 'retry' AND next_retry_at < $1`
	var n int
	if err := d.q.QueryRow(ctx, q, olderThan).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountStaleRetries: %w", err)
	}
	return n, nil
}
