package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/trestle/internal/types"
)

// SaveAsset inserts a new media asset row.
func (s *Store) SaveAsset(ctx context.Context, asset *types.MediaAsset) error {
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_assets (id, entity_type, record_id, field_key, filename, ext, is_image, state, external_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, asset.ID, string(asset.EntityType), asset.RecordID, asset.FieldKey,
		asset.Filename, asset.Ext, asset.IsImage, string(asset.State),
		asset.ExternalID, asset.Error,
		asset.CreatedAt.Format(time.RFC3339), asset.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	return nil
}

// UpdateAssetState advances an asset through its lifecycle, persisting the
// external id and error message alongside the new state.
func (s *Store) UpdateAssetState(ctx context.Context, id string, state types.AssetState, externalID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_assets
		SET state = ?, external_id = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, string(state), externalID, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update asset state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update asset state: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAsset reads one media asset by local id.
func (s *Store) GetAsset(ctx context.Context, id string) (*types.MediaAsset, error) {
	var (
		asset                types.MediaAsset
		entity, state        string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_type, record_id, field_key, filename, ext, is_image, state, external_id, error, created_at, updated_at
		FROM media_assets
		WHERE id = ?
	`, id).Scan(&asset.ID, &entity, &asset.RecordID, &asset.FieldKey,
		&asset.Filename, &asset.Ext, &asset.IsImage, &state,
		&asset.ExternalID, &asset.Error, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}

	asset.EntityType = types.EntityType(entity)
	asset.State = types.AssetState(state)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		asset.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		asset.UpdatedAt = t
	}
	return &asset, nil
}
