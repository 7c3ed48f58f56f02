package repository

import (
	"context"
	"time"

	"github.com/mediamirror/server/internal/models"
)

// AssetRepo defines the interface for mirror-row persistence operations
type AssetRepo interface {
	GetByPublicID(ctx context.Context, publicID string) (*models.AssetRecord, error)
	ListLive(ctx context.Context, skip, take int) ([]*models.AssetRecord, error)
	GetLiveCount(ctx context.Context) (int, error)
	CountBySyncStatus(ctx context.Context) (map[string]int, error)
	Add(ctx context.Context, rec *models.AssetRecord) error
	AddBatch(ctx context.Context, recs []*models.AssetRecord) error
	Update(ctx context.Context, rec *models.AssetRecord) error
	SetSyncStatus(ctx context.Context, publicID, status string) (bool, error)
	SoftDelete(ctx context.Context, publicID string, at time.Time) (bool, error)
	HardDelete(ctx context.Context, publicID string) (bool, error)
}

// CleanupQueueRepo defines the interface for the cleanup queue
type CleanupQueueRepo interface {
	Add(ctx context.Context, item *models.CleanupItem) error
	GetByID(ctx context.Context, id string) (*models.CleanupItem, error)
	HasPendingForPublicID(ctx context.Context, publicID string) (bool, error)
	// ClaimDue atomically transitions up to limit due pending items to
	// processing and returns them, oldest first. Two concurrent callers
	// never receive the same item.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*models.CleanupItem, error)
	ClaimByID(ctx context.Context, id string) (*models.CleanupItem, error)
	Update(ctx context.Context, item *models.CleanupItem) error
	CountByStatus(ctx context.Context) (map[string]int, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	OldestPendingAt(ctx context.Context) (*time.Time, error)
	ListFailed(ctx context.Context, limit int) ([]*models.CleanupItem, error)
}

// SyncOperationRepo defines the interface for the sync operation log
type SyncOperationRepo interface {
	Add(ctx context.Context, op *models.SyncOperation) error
	Update(ctx context.Context, op *models.SyncOperation) error
	GetByID(ctx context.Context, id string) (*models.SyncOperation, error)
	ListRecent(ctx context.Context, limit int) ([]*models.SyncOperation, error)
	CountActive(ctx context.Context) (int, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SnapshotRepo defines the interface for status snapshots
type SnapshotRepo interface {
	Add(ctx context.Context, snap *models.StatusSnapshot) error
	ListRecent(ctx context.Context, limit int) ([]*models.StatusSnapshot, error)
	PruneKeepLatest(ctx context.Context, keep int) (int, error)
}
