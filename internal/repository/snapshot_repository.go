package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mediamirror/server/internal/models"
)

// SnapshotRepository handles status snapshot persistence
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Add inserts a new snapshot row. Snapshots are insert-only.
func (r *SnapshotRepository) Add(ctx context.Context, snap *models.StatusSnapshot) error {
	query := `INSERT INTO status_snapshots
		(id, snapshot_type, pending_assets, synced_assets, error_assets,
		 conflict_assets, pending_cleanups, active_operations, error_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		snap.ID, snap.SnapshotType, snap.PendingAssets, snap.SyncedAssets,
		snap.ErrorAssets, snap.ConflictAssets, snap.PendingCleanups,
		snap.ActiveOperations, snap.ErrorRate, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// ListRecent returns snapshots newest first.
func (r *SnapshotRepository) ListRecent(ctx context.Context, limit int) ([]*models.StatusSnapshot, error) {
	query := `SELECT id, snapshot_type, pending_assets, synced_assets, error_assets,
		conflict_assets, pending_cleanups, active_operations, error_rate, created_at
		FROM status_snapshots ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.StatusSnapshot
	for rows.Next() {
		var s models.StatusSnapshot
		err := rows.Scan(
			&s.ID, &s.SnapshotType, &s.PendingAssets, &s.SyncedAssets,
			&s.ErrorAssets, &s.ConflictAssets, &s.PendingCleanups,
			&s.ActiveOperations, &s.ErrorRate, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, &s)
	}
	return snaps, rows.Err()
}

// PruneKeepLatest removes all but the newest keep snapshots.
func (r *SnapshotRepository) PruneKeepLatest(ctx context.Context, keep int) (int, error) {
	var cutoff sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT created_at FROM status_snapshots
		 ORDER BY created_at DESC LIMIT 1 OFFSET $1`, keep-1).Scan(&cutoff)
	if err == sql.ErrNoRows || !cutoff.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find prune cutoff: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM status_snapshots WHERE created_at < $1`, cutoff.Time)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
