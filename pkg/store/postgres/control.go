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

// --- sync jobs ---

const syncJobColumns = `lock_key, kind, repository_id, full_name, installation_id, state, attempts, next_run_at, error, created_at, updated_at`

func scanSyncJob(row pgx.Row) (*store.SyncJob, error) {
	var j store.SyncJob
	var state string
	if err := row.Scan(&j.LockKey, &j.Kind, &j.RepositoryID, &j.FullName, &j.InstallationID,
		&state, &j.Attempts, &j.NextRunAt, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	j.State = store.SyncJobState(state)
	return &j, nil
}

func (d *DB) ScheduleSyncJob(ctx context.Context, job *store.SyncJob) (bool, error) {
	// A pending, running, or retry holder wins; a done or failed holder is
	// replaced with a fresh pending job.
	const q = `
		INSERT INTO sync_jobs (lock_key, kind, repository_id, full_name, installation_id, state, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, now(), now())
		ON CONFLICT (lock_key) DO UPDATE SET
			kind = EXCLUDED.kind,
			repository_id = EXCLUDED.repository_id,
			full_name = EXCLUDED.full_name,
			installation_id = EXCLUDED.installation_id,
			state = 'pending',
			attempts = 0,
			next_run_at = NULL,
			error = '',
			updated_at = now()
		WHERE sync_jobs.state IN ('done', 'failed')`
	tag, err := d.q.Exec(ctx, q, job.LockKey, job.Kind, job.RepositoryID, job.FullName, job.InstallationID)
	if err != nil {
		return false, fmt.Errorf("ScheduleSyncJob: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (d *DB) AcquireSyncJob(ctx context.Context, lockKey string) (*store.SyncJob, bool, error) {
	q := `
		UPDATE sync_jobs
		SET state = 'running', attempts = attempts + 1, next_run_at = NULL, updated_at = now()
		WHERE lock_key = $1 AND state IN ('pending', 'retry')
		RETURNING ` + syncJobColumns
	j, err := scanSyncJob(d.q.QueryRow(ctx, q, lockKey))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or not acquirable; disambiguate.
		if _, getErr := d.GetSyncJob(ctx, lockKey); getErr != nil {
			return nil, false, getErr
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("AcquireSyncJob: %w", err)
	}
	return j, true, nil
}

func (d *DB) markSyncJob(ctx context.Context, lockKey, state, errMsg string, nextRunAt *time.Time) error {
	const q = `
		UPDATE sync_jobs
		SET state = $2, error = $3, next_run_at = $4, updated_at = now()
		WHERE lock_key = $1`
	tag, err := d.q.Exec(ctx, q, lockKey, state, errMsg, nextRunAt)
	if err != nil {
		return fmt.Errorf("markSyncJob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) MarkSyncJobDone(ctx context.Context, lockKey string) error {
	return d.markSyncJob(ctx, lockKey, string(store.SyncJobStateDone), "", nil)
}

func (d *DB) MarkSyncJobFailed(ctx context.Context, lockKey, errMsg string) error {
	return d.markSyncJob(ctx, lockKey, string(store.SyncJobStateFailed), errMsg, nil)
}

func (d *DB) MarkSyncJobRetry(ctx context.Context, lockKey, errMsg string, nextRunAt time.Time) error {
	return d.markSyncJob(ctx, lockKey, string(store.SyncJobStateRetry), errMsg, &nextRunAt)
}

func (d *DB) GetSyncJob(ctx context.Context, lockKey string) (*store.SyncJob, error) {
	q := `SELECT ` + syncJobColumns + ` FROM sync_jobs WHERE lock_key = $1`
	j, err := scanSyncJob(d.q.QueryRow(ctx, q, lockKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSyncJob: %w", err)
	}
	return j, nil
}

func (d *DB) listSyncJobs(ctx context.Context, q string, args ...any) ([]*store.SyncJob, error) {
	rows, err := d.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer rows.Close()

	var out []*store.SyncJob
	for rows.Next() {
		j, err := scanSyncJob(rows)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, j)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) ListDueSyncJobs(ctx context.Context, now time.Time, limit int) ([]*store.SyncJob, error) {
	q := `SELECT ` + syncJobColumns + ` FROM sync_jobs
		WHERE state = 'pending' OR (state = 'retry' AND next_run_at <= $1)
		ORDER BY created_at
		LIMIT $2`
	out, err := d.listSyncJobs(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDueSyncJobs: %w", err)
	}
	return out, nil
}

func (d *DB) ListSyncJobs(ctx context.Context, limit int) ([]*store.SyncJob, error) {
	q := `SELECT ` + syncJobColumns + ` FROM sync_jobs ORDER BY updated_at DESC LIMIT $1`
	out, err := d.listSyncJobs(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ListSyncJobs: %w", err)
	}
	return out, nil
}

// --- write operations ---

const writeOpColumns = `correlation_id, op_type, state, repository_id, owner_login, repo_name,
	input, preview, result, error_message, error_status, github_entity_number, created_at, updated_at`

func scanWriteOp(row pgx.Row) (*store.WriteOperation, error) {
	var op store.WriteOperation
	var opType, state string
	if err := row.Scan(&op.CorrelationID, &opType, &state, &op.RepositoryID, &op.OwnerLogin,
		&op.RepoName, &op.Input, &op.Preview, &op.Result, &op.ErrorMessage, &op.ErrorStatus,
		&op.GitHubEntityNumber, &op.CreatedAt, &op.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck
	}
	op.Type = store.WriteOpType(opType)
	op.State = store.WriteOpState(state)
	return &op, nil
}

func (d *DB) InsertWriteOperation(ctx context.Context, op *store.WriteOperation) error {
	const q = `
		INSERT INTO write_operations
			(correlation_id, op_type, state, repository_id, owner_login, repo_name,
			 input, preview, result, error_message, error_status, github_entity_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := d.q.Exec(ctx, q, op.CorrelationID, string(op.Type), string(op.State), op.RepositoryID,
		op.OwnerLogin, op.RepoName, op.Input, op.Preview, op.Result, op.ErrorMessage, op.ErrorStatus,
		op.GitHubEntityNumber, op.CreatedAt, op.UpdatedAt); err != nil {
		return fmt.Errorf("InsertWriteOperation: %w", err)
	}
	return nil
}

func (d *DB) GetWriteOperation(ctx context.Context, correlationID string) (*store.WriteOperation, error) {
	q := `SELECT ` + writeOpColumns + ` FROM write_operations WHERE correlation_id = $1`
	op, err := scanWriteOp(d.q.QueryRow(ctx, q, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetWriteOperation: %w", err)
	}
	return op, nil
}

func (d *DB) MarkWriteOperationCompleted(ctx context.Context, correlationID string, entityNumber int, result []byte) error {
	const q = `
		UPDATE write_operations
		SET state = 'completed', github_entity_number = $2, result = $3, updated_at = now()
		WHERE correlation_id = $1 AND state = 'pending'`
	tag, err := d.q.Exec(ctx, q, correlationID, entityNumber, result)
	if err != nil {
		return fmt.Errorf("MarkWriteOperationCompleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("write operation %q is not pending", correlationID)
	}
	return nil
}

func (d *DB) MarkWriteOperationFailed(ctx context.Context, correlationID, errMsg string, errStatus int) error {
	const q = `
		UPDATE write_operations
		SET state = 'failed', error_message = $2, error_status = $3, updated_at = now()
		WHERE correlation_id = $1 AND state = 'pending'`
	tag, err := d.q.Exec(ctx, q, correlationID, errMsg, errStatus)
	if err != nil {
		return fmt.Errorf("MarkWriteOperationFailed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("write operation %q is not pending", correlationID)
	}
	return nil
}

func (d *DB) MarkWriteOperationConfirmed(ctx context.Context, correlationID string) (bool, error) {
	const q = `
		UPDATE write_operations
		SET state = 'confirmed', updated_at = now()
		WHERE correlation_id = $1 AND state IN ('pending', 'completed')`
	tag, err := d.q.Exec(ctx, q, correlationID)
	if err != nil {
		return false, fmt.Errorf("MarkWriteOperationConfirmed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (d *DB) ListRecentWriteOperations(ctx context.Context, repositoryID int64, opType store.WriteOpType, entityNumber, limit int) ([]*store.WriteOperation, error) {
	q := `SELECT ` + writeOpColumns + ` FROM write_operations
		WHERE repository_id = $1 AND op_type = $2 AND github_entity_number = $3
		ORDER BY seq DESC
		LIMIT $4`
	rows, err := d.q.Query(ctx, q, repositoryID, string(opType), entityNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRecentWriteOperations: %w", err)
	}
	defer rows.Close()

	var out []*store.WriteOperation
	for rows.Next() {
		op, err := scanWriteOp(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRecentWriteOperations scan: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err() //nolint:wrapcheck
}

func (d *DB) CountWriteOperationsByState(ctx context.Context) (map[store.WriteOpState]int, error) {
	rows, err := d.q.Query(ctx, `SELECT state, count(*) FROM write_operations GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("CountWriteOperationsByState: %w", err)
	}
	defer rows.Close()

	out := map[store.WriteOpState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("CountWriteOperationsByState scan: %w", err)
		}
		out[store.WriteOpState(state)] = n
	}
	return out, rows.Err() //nolint:wrapcheck
}
