package models

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot trigger types
const (
	SnapshotTypeScheduled = "scheduled"
	SnapshotTypeManual    = "manual"
)

// StatusSnapshot is a point-in-time health rollup. Rows are insert-only and
// pruned oldest-first.
type StatusSnapshot struct {
	ID               string    `json:"id"`
	SnapshotType     string    `json:"snapshotType"`
	PendingAssets    int       `json:"pendingAssets"`
	SyncedAssets     int       `json:"syncedAssets"`
	ErrorAssets      int       `json:"errorAssets"`
	ConflictAssets   int       `json:"conflictAssets"`
	PendingCleanups  int       `json:"pendingCleanups"`
	ActiveOperations int       `json:"activeOperations"`
	ErrorRate        float64   `json:"errorRate"`
	CreatedAt        time.Time `json:"createdAt"`
}

// NewStatusSnapshot rolls up the given counts. An empty mirror produces an
// all-zero snapshot with a zero error rate.
func NewStatusSnapshot(snapshotType string, bySyncStatus map[string]int, pendingCleanups, activeOperations int) *StatusSnapshot {
	s := &StatusSnapshot{
		ID:               uuid.New().String(),
		SnapshotType:     snapshotType,
		PendingAssets:    bySyncStatus[SyncStatusPending],
		SyncedAssets:     bySyncStatus[SyncStatusSynced],
		ErrorAssets:      bySyncStatus[SyncStatusError],
		ConflictAssets:   bySyncStatus[SyncStatusConflict],
		PendingCleanups:  pendingCleanups,
		ActiveOperations: activeOperations,
		CreatedAt:        time.Now().UTC(),
	}

	total := s.PendingAssets + s.SyncedAssets + s.ErrorAssets + s.ConflictAssets
	if total > 0 {
		s.ErrorRate = float64(s.ErrorAssets+s.ConflictAssets) / float64(total)
	}
	return s
}
