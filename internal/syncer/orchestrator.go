// Package syncer pulls paginated record batches from the external system
// into the local store and pushes frontend edits back out. One run handles
// one entity type; the ledger in the store serializes runs and carries the
// resume cursor across process restarts.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/trestle/internal/crm"
	"github.com/hyperengineering/trestle/internal/mapping"
	"github.com/hyperengineering/trestle/internal/media"
	"github.com/hyperengineering/trestle/internal/store"
	"github.com/hyperengineering/trestle/internal/types"
)

// ErrAlreadyRunning is returned when a run for the entity type is already in
// flight. It aliases the store's ledger sentinel.
var ErrAlreadyRunning = store.ErrSyncRunning

// Client is the external-system surface the orchestrator needs.
// Implemented by crm.Client.
type Client interface {
	Authenticate(ctx context.Context) (*crm.Session, error)
	FetchPage(ctx context.Context, sess *crm.Session, entity types.EntityType, offset, limit int) ([]map[string]any, error)
	UpdateRecord(ctx context.Context, sess *crm.Session, entity types.EntityType, dataID string, fields map[string]any) error
}

// Store is the local persistence surface the orchestrator needs.
// Implemented by store.Store.
type Store interface {
	TryStartSync(ctx context.Context, entity types.EntityType) error
	FinishSync(ctx context.Context, entity types.EntityType, state types.SyncState, message string) error
	ReadSyncStatus(ctx context.Context, entity types.EntityType) (*types.SyncStatus, error)
	UpdateSyncStatus(ctx context.Context, entity types.EntityType, patch types.SyncStatusPatch) error
	ResetSyncStatus(ctx context.Context, entity types.EntityType) error
	UpsertPage(ctx context.Context, entity types.EntityType, rows []store.Row) (int, []error, error)
}

// Options tune one sync run.
type Options struct {
	// PageSize is the fetch window; defaults to 100.
	PageSize int

	// Filter, when set, keeps only raw external records it returns true
	// for. Discarded records are not counted as skipped.
	Filter func(rec map[string]any) bool

	// RunTimeout bounds the whole run; zero means no deadline.
	RunTimeout time.Duration
}

const defaultPageSize = 100

// Orchestrator drives sync runs for all entity types.
type Orchestrator struct {
	crm      Client
	store    Store
	registry *mapping.Set
	media    *media.Syncer
	logger   *slog.Logger
}

// New creates an orchestrator. media may be nil when no push path is wired.
func New(client Client, st Store, registry *mapping.Set, mediaSync *media.Syncer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		crm:      client,
		store:    st,
		registry: registry,
		media:    mediaSync,
		logger:   logger.With("component", "syncer"),
	}
}

// Run executes one pull sync for an entity type. It resumes from the ledger
// cursor, fetches pages until a short or empty page, converts each record to
// the local representation and upserts page-by-page. Fatal failures mark the
// ledger Failed and preserve the cursor of the last committed page.
func (o *Orchestrator) Run(ctx context.Context, entity types.EntityType, opts Options) (*types.SyncResult, error) {
	reg, ok := o.registry.For(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownEntity, entity)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	if err := o.store.TryStartSync(ctx, entity); err != nil {
		return nil, err
	}

	if opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RunTimeout)
		defer cancel()
	}

	// Terminal ledger writes must land even when the run deadline expired
	// or the caller disconnected; a row stuck in running would refuse every
	// later run.
	finishCtx := context.WithoutCancel(ctx)

	start := time.Now()
	o.logger.Info("sync run started",
		"action", "run",
		"entity_type", string(entity))

	result, runErr := o.runPages(ctx, entity, reg, pageSize, opts.Filter)
	if runErr != nil {
		result.Success = false
		result.Err = runErr.Error()
		if err := o.store.FinishSync(finishCtx, entity, types.SyncFailed, runErr.Error()); err != nil {
			o.logger.Error("finish sync",
				"action", "finish",
				"entity_type", string(entity),
				"error", err)
		}
		o.logger.Error("sync run failed",
			"action", "run",
			"entity_type", string(entity),
			"error", runErr)
		return result, runErr
	}

	result.Success = true
	if err := o.store.FinishSync(finishCtx, entity, types.SyncCompleted, ""); err != nil {
		return result, fmt.Errorf("finish sync: %w", err)
	}
	o.logger.Info("sync run completed",
		"action", "run",
		"entity_type", string(entity),
		"synced", result.Synced,
		"skipped", result.Skipped,
		"pages", result.Pages,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// runPages is the fetch/convert/upsert loop. The returned result is partial
// on error; the ledger cursor always reflects the last committed page.
func (o *Orchestrator) runPages(ctx context.Context, entity types.EntityType, reg *mapping.Registry, pageSize int, filter func(map[string]any) bool) (*types.SyncResult, error) {
	result := &types.SyncResult{}

	sess, err := o.crm.Authenticate(ctx)
	if err != nil {
		return result, err
	}

	status, err := o.store.ReadSyncStatus(ctx, entity)
	if err != nil {
		return result, err
	}
	cursor := status.Cursor

	for {
		page, err := o.crm.FetchPage(ctx, sess, entity, cursor, pageSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		result.Total += len(page)
		result.Pages++

		rows := make([]store.Row, 0, len(page))
		for _, raw := range page {
			if filter != nil && !filter(raw) {
				continue
			}
			row, err := o.toRow(reg, raw)
			if err != nil {
				result.Skipped++
				o.logger.Warn("record skipped",
					"action", "convert",
					"entity_type", string(entity),
					"error", err)
				continue
			}
			rows = append(rows, row)
		}

		committed, skipped, err := o.store.UpsertPage(ctx, entity, rows)
		if err != nil {
			return result, err
		}
		result.Synced += committed
		result.Skipped += len(skipped)
		for _, skipErr := range skipped {
			o.logger.Warn("record skipped",
				"action", "upsert",
				"entity_type", string(entity),
				"error", skipErr)
		}

		cursor += len(page)
		now := time.Now().UTC()
		if err := o.store.UpdateSyncStatus(ctx, entity, types.SyncStatusPatch{
			Cursor:        &cursor,
			LastSyncCount: &result.Synced,
			LastSyncTime:  &now,
		}); err != nil {
			return result, err
		}

		if len(page) < pageSize {
			break
		}
	}

	return result, nil
}

// toRow converts one raw external record into an upsert row. The record's
// stable external id is mandatory; everything else is best-effort.
func (o *Orchestrator) toRow(reg *mapping.Registry, raw map[string]any) (store.Row, error) {
	dataID, _ := raw[crm.FieldDataID].(string)
	if dataID == "" {
		return store.Row{}, errors.New("record has no external id")
	}

	fields := reg.Convert(raw, mapping.ReprExternal, mapping.ReprLocal)

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return store.Row{}, fmt.Errorf("encode raw record: %w", err)
	}

	return store.Row{
		ExternalID: dataID,
		Fields:     fields,
		Raw:        rawJSON,
	}, nil
}

// FullResync rewinds the ledger cursor to zero and runs a sync from the
// beginning. This is the only path that ever resets a cursor.
func (o *Orchestrator) FullResync(ctx context.Context, entity types.EntityType, opts Options) (*types.SyncResult, error) {
	status, err := o.store.ReadSyncStatus(ctx, entity)
	if err != nil {
		return nil, err
	}
	if status.State == types.SyncRunning {
		return nil, ErrAlreadyRunning
	}
	if err := o.store.ResetSyncStatus(ctx, entity); err != nil {
		return nil, err
	}
	return o.Run(ctx, entity, opts)
}

// Status returns the ledger row for an entity type.
func (o *Orchestrator) Status(ctx context.Context, entity types.EntityType) (*types.SyncStatus, error) {
	return o.store.ReadSyncStatus(ctx, entity)
}

// FileUpload is one frontend-inline file accompanying a record submission.
type FileUpload struct {
	FieldKey string `json:"fieldKey"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Submit pushes a frontend record edit to the external system. Inline files
// are uploaded first and attached as whole-list replacements of their
// file-list fields; the record update then carries the converted external
// representation. The external system stays authoritative: the local mirror
// picks the change up on the next pull.
func (o *Orchestrator) Submit(ctx context.Context, entity types.EntityType, dataID string, frontendRec map[string]any, files []FileUpload) error {
	reg, ok := o.registry.For(entity)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownEntity, entity)
	}
	if dataID == "" {
		return errors.New("record submission requires an external id")
	}

	local := reg.Convert(frontendRec, mapping.ReprFrontend, mapping.ReprLocal)
	external := reg.Convert(local, mapping.ReprLocal, mapping.ReprExternal)

	byField, err := o.uploadSubmissionFiles(ctx, entity, reg, dataID, files)
	if err != nil {
		return err
	}
	for fieldKey, assets := range byField {
		def, ok := reg.Field(fieldKey)
		if !ok || def.Kind != mapping.KindFileList || def.External == "" {
			o.media.MarkAttachFailed(ctx, assets, "no file-list field for key "+fieldKey)
			return fmt.Errorf("no file-list field for key %q", fieldKey)
		}
		if err := o.media.AttachToRecord(ctx, external, def.External, assets); err != nil {
			return err
		}
	}

	sess, err := o.crm.Authenticate(ctx)
	if err != nil {
		return err
	}
	if err := o.crm.UpdateRecord(ctx, sess, entity, dataID, external); err != nil {
		for _, assets := range byField {
			o.media.MarkAttachFailed(ctx, assets, err.Error())
		}
		return err
	}
	return nil
}

// uploadSubmissionFiles uploads every inline file, grouped by field key.
// Any failed upload aborts the submission; uploads that already succeeded
// stay recorded on their asset rows.
func (o *Orchestrator) uploadSubmissionFiles(ctx context.Context, entity types.EntityType, reg *mapping.Registry, dataID string, files []FileUpload) (map[string][]*types.MediaAsset, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if o.media == nil {
		return nil, errors.New("media pipeline not configured")
	}

	byField := make(map[string][]*types.MediaAsset)
	for _, f := range files {
		asset := media.NewAsset(entity, dataID, f.FieldKey, f.Filename, f.Content)
		if err := o.media.Intake(ctx, asset); err != nil {
			return nil, err
		}
		byField[f.FieldKey] = append(byField[f.FieldKey], asset)
	}

	var uploaded []*types.MediaAsset
	for _, assets := range byField {
		var firstErr error
		for i, res := range o.media.UploadMany(ctx, assets) {
			if res.Err != nil {
				if firstErr == nil {
					firstErr = res.Err
				}
				continue
			}
			uploaded = append(uploaded, assets[i])
		}
		if firstErr != nil {
			// Siblings that did upload get the same orphan treatment as a
			// post-upload attach failure: failed, with their external ids
			// kept on the row.
			if len(uploaded) > 0 {
				o.media.MarkAttachFailed(ctx, uploaded, "submission aborted: "+firstErr.Error())
			}
			return nil, firstErr
		}
	}
	return byField, nil
}
