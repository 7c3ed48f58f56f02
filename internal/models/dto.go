package models

import "time"

// ErrorResponse is the generic error body for the API.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VerificationResult is the outcome of comparing the store listing against the
// mirror. Success means no conflicts were found; the mismatch and
// missing-in-database lists are informational.
type VerificationResult struct {
	Success             bool           `json:"success"`
	CloudinaryCount     int            `json:"cloudinaryCount"`
	DatabaseCount       int            `json:"databaseCount"`
	MissingInDatabase   []string       `json:"missingInDatabase"`
	MissingInCloudinary []string       `json:"missingInCloudinary"`
	Mismatched          []string       `json:"mismatched"`
	SyncConflicts       []SyncConflict `json:"syncConflicts"`
}

// SyncConflict is one disagreement the engine will not resolve without an
// explicit fix flag.
type SyncConflict struct {
	PublicID string `json:"publicId"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail,omitempty"`
}

// Conflict kinds
const (
	ConflictKindMissingInCloudinary = "missing_in_cloudinary"
)

// VerifyFixRequest carries the POST /sync/verify fix flags.
type VerifyFixRequest struct {
	AutoFix              bool `json:"auto_fix"`
	FixMissingInDatabase bool `json:"fix_missing_in_database"`
	FixConflicts         bool `json:"fix_conflicts"`
}

// FixResults reports what a fix pass changed.
type FixResults struct {
	InsertedInDatabase []string `json:"insertedInDatabase"`
	SoftDeleted        []string `json:"softDeleted"`
	CleanupsEnqueued   []string `json:"cleanupsEnqueued"`
	Errors             []string `json:"errors,omitempty"`
}

// VerifyResponse is the body for GET/POST /sync/verify.
type VerifyResponse struct {
	Verification *VerificationResult `json:"verification"`
	Summary      string              `json:"summary,omitempty"`
	FixResults   *FixResults         `json:"fixResults,omitempty"`
}

// SyncRequest triggers a full or single-asset sync.
type SyncRequest struct {
	Force       bool   `json:"force,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	SingleAsset string `json:"single_asset,omitempty"`
}

// SyncData is the payload of a successful sync trigger.
type SyncData struct {
	OperationID  string `json:"operationId,omitempty"`
	SyncedItems  int    `json:"syncedItems"`
	UpdatedItems int    `json:"updatedItems"`
	Conflicts    int    `json:"conflicts"`
}

// SyncResponse is the body for POST /cloudinary/sync.
type SyncResponse struct {
	Success bool      `json:"success"`
	Data    *SyncData `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// CleanupRequest drains the cleanup queue.
type CleanupRequest struct {
	Limit      int    `json:"limit,omitempty"`
	SpecificID string `json:"specific_id,omitempty"`
}

// CleanupResponse is the body for POST /cloudinary/cleanup.
type CleanupResponse struct {
	Success   bool            `json:"success"`
	Processed *CleanupSummary `json:"processed,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CleanupStatsResponse is the body for GET /cloudinary/cleanup.
type CleanupStatsResponse struct {
	Success bool          `json:"success"`
	Stats   *CleanupStats `json:"stats,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// SchedulerActionRequest controls the scheduler.
type SchedulerActionRequest struct {
	Action string `json:"action"` // status, start, stop
}

// SchedulerStats describes the scheduler state machine.
type SchedulerStats struct {
	IsRunning       bool       `json:"is_running"`
	SyncInterval    string     `json:"syncInterval"`
	CleanupInterval string     `json:"cleanupInterval"`
	LastSyncRun     *time.Time `json:"lastSyncRun,omitempty"`
	LastCleanupRun  *time.Time `json:"lastCleanupRun,omitempty"`
	NextSyncRun     *time.Time `json:"nextSyncRun,omitempty"`
	SkippedTicks    int        `json:"skippedTicks"`
}

// SchedulerResponse is the body for GET/POST /cloudinary/scheduler.
type SchedulerResponse struct {
	Success bool            `json:"success"`
	Stats   *SchedulerStats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MediaDeleteRequest names the assets to remove store-first.
type MediaDeleteRequest struct {
	PublicIDs []string `json:"public_ids"`
}

// MediaDeleteResult reports a batch store-first deletion.
type MediaDeleteResult struct {
	Deleted []string           `json:"deleted"`
	Failed  []MediaDeleteError `json:"failed"`
}

// MediaDeleteError is one per-asset deletion failure.
type MediaDeleteError struct {
	PublicID string `json:"publicId"`
	Error    string `json:"error"`
}

// UploadResponse is the body for POST /cloudinary/upload.
type UploadResponse struct {
	Success bool         `json:"success"`
	Asset   *AssetRecord `json:"asset,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// HealthResponse is the body for the health endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// OperationListResponse lists recent tracked operations.
type OperationListResponse struct {
	Operations []*SyncOperation `json:"operations"`
	TotalCount int              `json:"totalCount"`
}

// SnapshotListResponse lists recent status snapshots.
type SnapshotListResponse struct {
	Snapshots []*StatusSnapshot `json:"snapshots"`
}
