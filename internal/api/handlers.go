// Package api is the HTTP trigger surface: sync runs, status reads, record
// submissions and media downloads, all driven by explicit requests rather
// than schedules.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/trestle/internal/syncer"
	"github.com/hyperengineering/trestle/internal/types"
)

// SyncService is the orchestrator surface the handlers need.
// Implemented by syncer.Orchestrator.
type SyncService interface {
	Run(ctx context.Context, entity types.EntityType, opts syncer.Options) (*types.SyncResult, error)
	FullResync(ctx context.Context, entity types.EntityType, opts syncer.Options) (*types.SyncResult, error)
	Status(ctx context.Context, entity types.EntityType) (*types.SyncStatus, error)
	Submit(ctx context.Context, entity types.EntityType, dataID string, rec map[string]any, files []syncer.FileUpload) error
}

// MediaService serves media downloads and deletes.
// Implemented by media.Syncer.
type MediaService interface {
	DownloadInline(ctx context.Context, externalID, mediaType string) (string, error)
	Delete(ctx context.Context, externalID string) error
}

// Handler implements the API handlers.
type Handler struct {
	sync    SyncService
	media   MediaService
	opts    syncer.Options
	apiKey  string
	version string
}

// NewHandler creates a Handler. opts are applied to every triggered run.
func NewHandler(sync SyncService, media MediaService, opts syncer.Options, apiKey, version string) *Handler {
	return &Handler{
		sync:    sync,
		media:   media,
		opts:    opts,
		apiKey:  apiKey,
		version: version,
	}
}

// entityParam reads and validates the entityType URL parameter. A problem
// response has already been written when ok is false.
func entityParam(w http.ResponseWriter, r *http.Request) (types.EntityType, bool) {
	entity := types.EntityType(chi.URLParam(r, "entityType"))
	if !entity.Valid() {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown entity type %q", string(entity)))
		return "", false
	}
	return entity, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// TriggerSync handles POST /api/v1/sync/{entityType}.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityParam(w, r)
	if !ok {
		return
	}

	result, err := h.sync.Run(r.Context(), entity, h.opts)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// TriggerFullResync handles POST /api/v1/sync/{entityType}/full.
func (h *Handler) TriggerFullResync(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityParam(w, r)
	if !ok {
		return
	}

	result, err := h.sync.FullResync(r.Context(), entity, h.opts)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// SyncStatus handles GET /api/v1/sync/{entityType}.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityParam(w, r)
	if !ok {
		return
	}

	status, err := h.sync.Status(r.Context(), entity)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, status)
}

// AllSyncStatuses handles GET /api/v1/sync.
func (h *Handler) AllSyncStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := make([]*types.SyncStatus, 0, len(types.AllEntityTypes()))
	for _, entity := range types.AllEntityTypes() {
		status, err := h.sync.Status(r.Context(), entity)
		if err != nil {
			MapSyncError(w, r, err)
			return
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, statuses)
}

// submitRequest is a frontend record edit with optional inline files.
type submitRequest struct {
	Record map[string]any      `json:"record"`
	Files  []syncer.FileUpload `json:"files,omitempty"`
}

// SubmitRecord handles POST /api/v1/records/{entityType}/{dataID}.
func (h *Handler) SubmitRecord(w http.ResponseWriter, r *http.Request) {
	entity, ok := entityParam(w, r)
	if !ok {
		return
	}
	dataID := chi.URLParam(r, "dataID")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if len(req.Record) == 0 && len(req.Files) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "Submission carries no fields and no files")
		return
	}

	if err := h.sync.Submit(r.Context(), entity, dataID, req.Record, req.Files); err != nil {
		slog.Error("record submission failed",
			"entity_type", string(entity),
			"record_id", dataID,
			"error", err)
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// mediaRequest addresses one external media object.
type mediaRequest struct {
	Identifier string `json:"identifier"`
	MediaType  string `json:"mediaType,omitempty"`
}

// DownloadMedia handles POST /api/v1/media/download. The binary is returned
// inline as a base64 data URI, which is the form the frontend stores.
func (h *Handler) DownloadMedia(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.Identifier == "" {
		WriteProblem(w, r, http.StatusBadRequest, "identifier is required")
		return
	}

	content, err := h.media.DownloadInline(r.Context(), req.Identifier, req.MediaType)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"content": content})
}

// DeleteMedia handles POST /api/v1/media/delete.
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	var req mediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.Identifier == "" {
		WriteProblem(w, r, http.StatusBadRequest, "identifier is required")
		return
	}

	if err := h.media.Delete(r.Context(), req.Identifier); err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}
