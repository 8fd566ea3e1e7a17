package types

import "time"

// EntityType identifies a category of business record synced independently.
// Each entity type owns one local table and one sync_status row.
type EntityType string

const (
	EntityOpportunity      EntityType = "opportunity"
	EntitySite             EntityType = "site"
	EntitySalesRecord      EntityType = "sales_record"
	EntityMaintenanceOrder EntityType = "maintenance_order"
)

// AllEntityTypes returns every entity type known to the system, in the order
// the scheduler processes them.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityOpportunity,
		EntitySite,
		EntitySalesRecord,
		EntityMaintenanceOrder,
	}
}

// Valid reports whether e names a known entity type.
func (e EntityType) Valid() bool {
	switch e {
	case EntityOpportunity, EntitySite, EntitySalesRecord, EntityMaintenanceOrder:
		return true
	}
	return false
}

// SyncState is the ledger state for one entity type.
// Transitions: idle → running → {completed, failed} → idle.
type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncRunning   SyncState = "running"
	SyncCompleted SyncState = "completed"
	SyncFailed    SyncState = "failed"
)

// SyncStatus is the durable per-entity-type progress record.
// The cursor is an offset into the external system's record list; it only
// advances forward during a run and is reset to zero by an explicit full
// resync, never implicitly.
type SyncStatus struct {
	EntityType    EntityType `json:"entity_type"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
	LastSyncCount int        `json:"last_sync_count"`
	Cursor        int        `json:"cursor"`
	State         SyncState  `json:"state"`
	Message       string     `json:"message,omitempty"`
}

// SyncStatusPatch carries a partial ledger update. Nil fields are left
// untouched by the merge.
type SyncStatusPatch struct {
	LastSyncTime  *time.Time
	LastSyncCount *int
	Cursor        *int
	State         *SyncState
	Message       *string
}

// FileDescriptor describes one binary attachment inside a file-list field.
// The JSON shape is the wire format shared by the frontend, the local store
// column and the external media service.
type FileDescriptor struct {
	Ext      string `json:"ext"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
	IsImage  bool   `json:"isImage"`
}

// AssetState tracks a media asset through its upload lifecycle.
// An asset is Linked only after both the upload and the record attach
// succeeded; Linked assets are immutable.
type AssetState string

const (
	AssetPending   AssetState = "pending"
	AssetUploading AssetState = "uploading"
	AssetLinked    AssetState = "linked"
	AssetFailed    AssetState = "failed"
)

// MediaAsset is a binary attachment created by the frontend as inline
// (base64) content. ExternalID is assigned only after a confirmed upload to
// the external media service and must never be referenced by a record before
// that point.
type MediaAsset struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	RecordID   string     `json:"record_id"`
	FieldKey   string     `json:"field_key"`
	Filename   string     `json:"filename"`
	Ext        string     `json:"ext"`
	IsImage    bool       `json:"is_image"`
	Content    string     `json:"content,omitempty"`
	State      AssetState `json:"state"`
	ExternalID string     `json:"external_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SyncResult is what one orchestrator run reports back to the trigger
// surface. Synced counts only rows actually committed to the local store;
// Skipped counts records dropped by per-record failures (transform, upsert or
// media), never records discarded by a caller-supplied filter.
type SyncResult struct {
	Success bool   `json:"success"`
	Synced  int    `json:"syncedCount"`
	Skipped int    `json:"skippedCount"`
	Total   int    `json:"totalCount"`
	Pages   int    `json:"pages"`
	Err     string `json:"error,omitempty"`
}
