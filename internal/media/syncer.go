package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/trestle/internal/types"
)

// ErrNoContent is returned when an asset carries no inline content to upload.
var ErrNoContent = errors.New("asset has no inline content")

// MediaError wraps a failure in the media pipeline with the asset it
// concerns. Media failures are never fatal to a sync run.
type MediaError struct {
	Op      string
	AssetID string
	Err     error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("%s asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// FileClient moves binaries to and from the external media endpoint.
// Implemented by crm.FileService.
type FileClient interface {
	Upload(ctx context.Context, filename string, data []byte) (string, error)
	Download(ctx context.Context, identifier, mediaType string) ([]byte, string, error)
	Delete(ctx context.Context, identifier string) error
}

// AssetStore persists media asset lifecycle rows.
// Implemented by store.Store.
type AssetStore interface {
	SaveAsset(ctx context.Context, asset *types.MediaAsset) error
	UpdateAssetState(ctx context.Context, id string, state types.AssetState, externalID, errMsg string) error
	GetAsset(ctx context.Context, id string) (*types.MediaAsset, error)
}

// Syncer uploads frontend-inline binaries to the external system, attaches
// the resulting identifiers to records, and serves downloads back to the
// frontend as inline base64.
type Syncer struct {
	client  FileClient
	assets  AssetStore
	archive Archiver
	logger  *slog.Logger
}

// NewSyncer creates a media syncer. A nil archiver disables archiving.
func NewSyncer(client FileClient, assets AssetStore, archive Archiver, logger *slog.Logger) *Syncer {
	if archive == nil {
		archive = &NoopArchiver{}
	}
	return &Syncer{
		client:  client,
		assets:  assets,
		archive: archive,
		logger:  logger.With("component", "media"),
	}
}

// imageExts are the extensions flagged as images on intake.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// NewAsset builds a pending asset from a frontend-inline file submission.
// Content is the inline base64 payload, with or without a data URI prefix.
func NewAsset(entity types.EntityType, recordID, fieldKey, filename, content string) *types.MediaAsset {
	ext := strings.ToLower(filepath.Ext(filename))
	return &types.MediaAsset{
		ID:         ulid.Make().String(),
		EntityType: entity,
		RecordID:   recordID,
		FieldKey:   fieldKey,
		Filename:   filename,
		Ext:        ext,
		IsImage:    imageExts[ext],
		Content:    content,
		State:      types.AssetPending,
	}
}

// Intake persists a new pending asset so its lifecycle is tracked before
// any upload is attempted.
func (s *Syncer) Intake(ctx context.Context, asset *types.MediaAsset) error {
	if err := s.assets.SaveAsset(ctx, asset); err != nil {
		return &MediaError{Op: "intake", AssetID: asset.ID, Err: err}
	}
	return nil
}

// Upload decodes the asset's inline content and submits it to the external
// media endpoint. On success the external identifier is recorded on the
// asset row; the row stays Uploading until AttachToRecord links it. On
// failure the row is marked Failed.
func (s *Syncer) Upload(ctx context.Context, asset *types.MediaAsset) (string, error) {
	data, err := decodeInline(asset.Content)
	if err != nil {
		s.fail(ctx, asset, "", err)
		return "", &MediaError{Op: "decode", AssetID: asset.ID, Err: err}
	}

	if err := s.assets.UpdateAssetState(ctx, asset.ID, types.AssetUploading, "", ""); err != nil {
		return "", &MediaError{Op: "upload", AssetID: asset.ID, Err: err}
	}
	asset.State = types.AssetUploading

	externalID, err := s.client.Upload(ctx, asset.Filename, data)
	if err != nil {
		s.fail(ctx, asset, "", err)
		return "", &MediaError{Op: "upload", AssetID: asset.ID, Err: err}
	}

	if err := s.assets.UpdateAssetState(ctx, asset.ID, types.AssetUploading, externalID, ""); err != nil {
		return "", &MediaError{Op: "upload", AssetID: asset.ID, Err: err}
	}
	asset.ExternalID = externalID

	if err := s.archive.Archive(ctx, asset, data); err != nil {
		s.logger.Warn("media archive failed",
			"action", "archive",
			"asset_id", asset.ID,
			"error", err)
	}

	return externalID, nil
}

// UploadResult is the outcome of one asset in an UploadMany batch.
type UploadResult struct {
	AssetID    string
	ExternalID string
	Err        error
}

// UploadMany uploads each asset independently. One failure never aborts
// the rest of the batch.
func (s *Syncer) UploadMany(ctx context.Context, assets []*types.MediaAsset) []UploadResult {
	results := make([]UploadResult, 0, len(assets))
	for _, asset := range assets {
		externalID, err := s.Upload(ctx, asset)
		results = append(results, UploadResult{
			AssetID:    asset.ID,
			ExternalID: externalID,
			Err:        err,
		})
	}
	return results
}

// AttachToRecord replaces the record's file-list field with descriptors
// built from the uploaded assets and marks each asset Linked. The whole
// list is replaced; partial file-list merges do not exist.
func (s *Syncer) AttachToRecord(ctx context.Context, rec map[string]any, fieldName string, assets []*types.MediaAsset) error {
	descriptors := make([]types.FileDescriptor, 0, len(assets))
	for _, asset := range assets {
		if asset.ExternalID == "" {
			return &MediaError{Op: "attach", AssetID: asset.ID, Err: errors.New("asset was never uploaded")}
		}
		descriptors = append(descriptors, types.FileDescriptor{
			Ext:      asset.Ext,
			Path:     asset.ExternalID,
			Filename: asset.Filename,
			IsImage:  asset.IsImage,
		})
	}
	rec[fieldName] = descriptors

	for _, asset := range assets {
		if err := s.assets.UpdateAssetState(ctx, asset.ID, types.AssetLinked, asset.ExternalID, ""); err != nil {
			return &MediaError{Op: "attach", AssetID: asset.ID, Err: err}
		}
		asset.State = types.AssetLinked
	}
	return nil
}

// MarkAttachFailed records that the record update carrying these assets
// failed after upload. The external identifier is kept on the row so the
// orphaned binary remains addressable; nothing reclaims it automatically.
func (s *Syncer) MarkAttachFailed(ctx context.Context, assets []*types.MediaAsset, reason string) {
	for _, asset := range assets {
		if err := s.assets.UpdateAssetState(ctx, asset.ID, types.AssetFailed, asset.ExternalID, reason); err != nil {
			s.logger.Error("mark asset failed",
				"action", "mark_failed",
				"asset_id", asset.ID,
				"error", err)
		}
		asset.State = types.AssetFailed
		asset.Error = reason
	}
}

// Download fetches a binary by its external identifier. Deleted identifiers
// surface as crm.ErrNotFound from the client.
func (s *Syncer) Download(ctx context.Context, externalID, mediaType string) ([]byte, string, error) {
	data, contentType, err := s.client.Download(ctx, externalID, mediaType)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// DownloadInline fetches a binary and re-encodes it as a data URI for the
// frontend's inline representation.
func (s *Syncer) DownloadInline(ctx context.Context, externalID, mediaType string) (string, error) {
	data, contentType, err := s.Download(ctx, externalID, mediaType)
	if err != nil {
		return "", err
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Delete removes a binary from the external media store.
func (s *Syncer) Delete(ctx context.Context, externalID string) error {
	return s.client.Delete(ctx, externalID)
}

func (s *Syncer) fail(ctx context.Context, asset *types.MediaAsset, externalID string, cause error) {
	if err := s.assets.UpdateAssetState(ctx, asset.ID, types.AssetFailed, externalID, cause.Error()); err != nil {
		s.logger.Error("mark asset failed",
			"action", "mark_failed",
			"asset_id", asset.ID,
			"error", err)
	}
	asset.State = types.AssetFailed
	asset.Error = cause.Error()
}

// decodeInline decodes frontend-inline base64 content. A data URI prefix
// ("data:image/jpeg;base64,...") is stripped first.
func decodeInline(content string) ([]byte, error) {
	if content == "" {
		return nil, ErrNoContent
	}
	if strings.HasPrefix(content, "data:") {
		idx := strings.Index(content, ",")
		if idx < 0 {
			return nil, errors.New("malformed data URI")
		}
		content = content[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("decode base64 content: %w", err)
	}
	return data, nil
}
