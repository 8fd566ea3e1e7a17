package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/trestle/internal/types"
)

// ensureStatusRow guarantees the single ledger row for an entity type exists.
func (s *Store) ensureStatusRow(ctx context.Context, entity types.EntityType) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sync_status (entity_type, state) VALUES (?, ?)",
		string(entity), string(types.SyncIdle),
	)
	if err != nil {
		return fmt.Errorf("ensure sync status row: %w", err)
	}
	return nil
}

// ReadSyncStatus returns the ledger row for an entity type, creating an idle
// row on first use.
func (s *Store) ReadSyncStatus(ctx context.Context, entity types.EntityType) (*types.SyncStatus, error) {
	if !entity.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if err := s.ensureStatusRow(ctx, entity); err != nil {
		return nil, err
	}

	var (
		status   types.SyncStatus
		lastSync sql.NullString
		state    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_time, last_sync_count, cursor, state, message
		FROM sync_status
		WHERE entity_type = ?
	`, string(entity)).Scan(&lastSync, &status.LastSyncCount, &status.Cursor, &state, &status.Message)
	if err != nil {
		return nil, fmt.Errorf("read sync status: %w", err)
	}

	status.EntityType = entity
	status.State = types.SyncState(state)
	if lastSync.Valid {
		if t, err := time.Parse(time.RFC3339, lastSync.String); err == nil {
			status.LastSyncTime = &t
		}
	}
	return &status, nil
}

// UpdateSyncStatus merges only the supplied patch fields into the ledger row.
func (s *Store) UpdateSyncStatus(ctx context.Context, entity types.EntityType, patch types.SyncStatusPatch) error {
	if err := s.ensureStatusRow(ctx, entity); err != nil {
		return err
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if patch.LastSyncTime != nil {
		sets = append(sets, "last_sync_time = ?")
		args = append(args, patch.LastSyncTime.UTC().Format(time.RFC3339))
	}
	if patch.LastSyncCount != nil {
		sets = append(sets, "last_sync_count = ?")
		args = append(args, *patch.LastSyncCount)
	}
	if patch.Cursor != nil {
		sets = append(sets, "cursor = ?")
		args = append(args, *patch.Cursor)
	}
	if patch.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*patch.State))
	}
	if patch.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *patch.Message)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE sync_status SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE entity_type = ?"
	args = append(args, string(entity))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update sync status: %w", err)
	}
	return nil
}

// TryStartSync transitions the ledger to running with a checked-then-set
// update. It fails with ErrSyncRunning when a run for the entity type is
// already in flight; there is no separate lock.
func (s *Store) TryStartSync(ctx context.Context, entity types.EntityType) error {
	if !entity.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	if err := s.ensureStatusRow(ctx, entity); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_status
		SET state = ?, message = ''
		WHERE entity_type = ? AND state != ?
	`, string(types.SyncRunning), string(entity), string(types.SyncRunning))
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	if affected == 0 {
		return ErrSyncRunning
	}
	return nil
}

// FinishSync records the terminal state of a run. The cursor is deliberately
// untouched so an aborted run resumes from the last committed page.
func (s *Store) FinishSync(ctx context.Context, entity types.EntityType, state types.SyncState, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_status
		SET state = ?, message = ?
		WHERE entity_type = ?
	`, string(state), message, string(entity))
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	return nil
}

// ResetSyncStatus rewinds the cursor to zero and returns the ledger to idle.
// This is the explicit full-resync entry point; nothing else resets a cursor.
func (s *Store) ResetSyncStatus(ctx context.Context, entity types.EntityType) error {
	if err := s.ensureStatusRow(ctx, entity); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_status
		SET cursor = 0, state = ?, message = ''
		WHERE entity_type = ?
	`, string(types.SyncIdle), string(entity))
	if err != nil {
		return fmt.Errorf("reset sync status: %w", err)
	}
	return nil
}
