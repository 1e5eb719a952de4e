package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/syncqueue"
)

const operationColumns = `
	id, playlist_id, external_id, media_provider_type, operation_type,
	operation_data, status, priority, created_at, last_attempt_at,
	retry_count, max_retries, error_message`

func scanOperation(row pgx.Row, op *syncqueue.Operation) error {
	var pt, opType, status string
	err := row.Scan(
		&op.ID, &op.PlaylistID, &op.ExternalID, &pt, &opType,
		&op.OperationData, &status, &op.Priority, &op.CreatedAt, &op.LastAttemptAt,
		&op.RetryCount, &op.MaxRetries, &op.ErrorMessage,
	)
	if err != nil {
		return err
	}
	op.ProviderType = model.ProviderType(pt)
	op.OperationType = syncqueue.OpType(opType)
	op.Status = syncqueue.Status(status)
	return nil
}

func (db *DB) queryOperations(ctx context.Context, query string, args ...any) ([]syncqueue.Operation, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync operations: %w", err)
	}
	defer rows.Close()

	var ops []syncqueue.Operation
	for rows.Next() {
		var op syncqueue.Operation
		if err := scanOperation(rows, &op); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Enqueue inserts a sync operation
func (db *DB) Enqueue(ctx context.Context, op *syncqueue.Operation) error {
	if op.Status == "" {
		op.Status = syncqueue.StatusPending
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = syncqueue.DefaultMaxRetries
	}
	return db.Pool.QueryRow(ctx, `
		INSERT INTO sync_operations (
			playlist_id, external_id, media_provider_type, operation_type,
			operation_data, status, priority, max_retries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`,
		op.PlaylistID, op.ExternalID, string(op.ProviderType), string(op.OperationType),
		op.OperationData, string(op.Status), op.Priority, op.MaxRetries,
	).Scan(&op.ID, &op.CreatedAt)
}

// NextPending returns pending operations, highest priority and oldest first
func (db *DB) NextPending(ctx context.Context, limit int) ([]syncqueue.Operation, error) {
	return db.queryOperations(ctx, `
		SELECT `+operationColumns+`
		FROM sync_operations
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $1
	`, limit)
}

// PendingOperations returns the operations of a playlist that have not been
// replayed yet, oldest first
func (db *DB) PendingOperations(ctx context.Context, playlistID int64) ([]syncqueue.Operation, error) {
	return db.queryOperations(ctx, `
		SELECT `+operationColumns+`
		FROM sync_operations
		WHERE playlist_id = $1 AND status IN ('pending', 'in_flight')
		ORDER BY created_at ASC, id ASC
	`, playlistID)
}

// RequeueStale returns in-flight operations whose attempt started before
// cutoff to the queue. The interrupted attempt counts against the retry
// budget.
func (db *DB) RequeueStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sync_operations SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			error_message = $2
		WHERE status = 'in_flight' AND (last_attempt_at IS NULL OR last_attempt_at < $1)
	`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale operations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Operations lists operations, optionally filtered by status
func (db *DB) Operations(ctx context.Context, status syncqueue.Status) ([]syncqueue.Operation, error) {
	if status == "" {
		return db.queryOperations(ctx, "SELECT "+operationColumns+" FROM sync_operations ORDER BY priority, created_at, id")
	}
	return db.queryOperations(ctx,
		"SELECT "+operationColumns+" FROM sync_operations WHERE status = $1 ORDER BY priority, created_at, id",
		string(status))
}

// Operation retrieves one operation by id
func (db *DB) Operation(ctx context.Context, id int64) (*syncqueue.Operation, error) {
	var op syncqueue.Operation
	err := scanOperation(db.Pool.QueryRow(ctx, "SELECT "+operationColumns+" FROM sync_operations WHERE id = $1", id), &op)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// ClaimOperation moves a pending operation to in-flight. Only one caller can
// win the conditional update.
func (db *DB) ClaimOperation(ctx context.Context, id int64, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sync_operations SET status = 'in_flight', last_attempt_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim operation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveOperation writes back the mutable state of an operation
func (db *DB) SaveOperation(ctx context.Context, op *syncqueue.Operation) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sync_operations SET
			status = $2, retry_count = $3, max_retries = $4,
			last_attempt_at = $5, error_message = $6, priority = $7
		WHERE id = $1
	`, op.ID, string(op.Status), op.RetryCount, op.MaxRetries, op.LastAttemptAt, op.ErrorMessage, op.Priority)
	if err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation %d not found", op.ID)
	}
	return nil
}

// PruneDone deletes finished operations older than cutoff
func (db *DB) PruneDone(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		"DELETE FROM sync_operations WHERE status = 'done' AND created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SyncState returns the sync state of a playlist, or nil if it has none
func (db *DB) SyncState(ctx context.Context, playlistID int64) (*syncqueue.SyncState, error) {
	st := &syncqueue.SyncState{}
	var status string
	err := db.Pool.QueryRow(ctx, `
		SELECT playlist_id, last_synced_at, local_modified_at, remote_modified_at,
			sync_status, conflict_detected, local_content_hash, remote_content_hash
		FROM playlist_sync_state WHERE playlist_id = $1
	`, playlistID).Scan(
		&st.PlaylistID, &st.LastSyncedAt, &st.LocalModifiedAt, &st.RemoteModifiedAt,
		&status, &st.ConflictDetected, &st.LocalContentHash, &st.RemoteContentHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Status = syncqueue.SyncStatus(status)
	return st, nil
}

// SaveSyncState inserts or replaces the sync state of a playlist
func (db *DB) SaveSyncState(ctx context.Context, st *syncqueue.SyncState) error {
	status := st.Status
	if status == "" {
		status = syncqueue.SyncPending
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO playlist_sync_state (
			playlist_id, last_synced_at, local_modified_at, remote_modified_at,
			sync_status, conflict_detected, local_content_hash, remote_content_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (playlist_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			local_modified_at = EXCLUDED.local_modified_at,
			remote_modified_at = EXCLUDED.remote_modified_at,
			sync_status = EXCLUDED.sync_status,
			conflict_detected = EXCLUDED.conflict_detected,
			local_content_hash = EXCLUDED.local_content_hash,
			remote_content_hash = EXCLUDED.remote_content_hash
	`,
		st.PlaylistID, st.LastSyncedAt, st.LocalModifiedAt, st.RemoteModifiedAt,
		string(status), st.ConflictDetected, st.LocalContentHash, st.RemoteContentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
