package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediamirror/server/internal/models"
)

// SyncOperationRepository handles sync operation log persistence
type SyncOperationRepository struct {
	db *sql.DB
}

// NewSyncOperationRepository creates a new sync operation repository
func NewSyncOperationRepository(db *sql.DB) *SyncOperationRepository {
	return &SyncOperationRepository{db: db}
}

const operationColumns = `id, operation_type, status, progress, total_items,
	processed_items, failed_items, start_time, end_time, estimated_completion,
	source, operation_data, error_details, cancel_requested`

// Add inserts a new operation row.
func (r *SyncOperationRepository) Add(ctx context.Context, op *models.SyncOperation) error {
	query := `INSERT INTO sync_operations (` + operationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.OperationType, op.Status, op.Progress, op.TotalItems,
		op.ProcessedItems, op.FailedItems, op.StartTime, nullTime(op.EndTime),
		nullTime(op.EstimatedCompletion), op.Source, op.OperationData,
		nullString(op.ErrorDetails), boolToInt(op.CancelRequested))
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an operation row.
func (r *SyncOperationRepository) Update(ctx context.Context, op *models.SyncOperation) error {
	query := `UPDATE sync_operations SET
		status = $1, progress = $2, total_items = $3, processed_items = $4,
		failed_items = $5, end_time = $6, estimated_completion = $7,
		operation_data = $8, error_details = $9, cancel_requested = $10
		WHERE id = $11`

	result, err := r.db.ExecContext(ctx, query,
		op.Status, op.Progress, op.TotalItems, op.ProcessedItems,
		op.FailedItems, nullTime(op.EndTime), nullTime(op.EstimatedCompletion),
		op.OperationData, nullString(op.ErrorDetails), boolToInt(op.CancelRequested),
		op.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("operation not found: %s", op.ID)
	}
	return nil
}

// GetByID retrieves one operation, or nil if it does not exist.
func (r *SyncOperationRepository) GetByID(ctx context.Context, id string) (*models.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE id = $1`

	op, err := scanOperation(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// ListRecent returns operations newest first.
func (r *SyncOperationRepository) ListRecent(ctx context.Context, limit int) ([]*models.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations
		ORDER BY start_time DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// CountActive returns the number of non-terminal operations.
func (r *SyncOperationRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_operations WHERE status IN ($1, $2)`,
		models.OperationStatusPending, models.OperationStatusInProgress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active operations: %w", err)
	}
	return count, nil
}

// RequestCancel flags a non-terminal operation for cancellation. The running
// job observes the flag at its next batch boundary. Returns false if the
// operation does not exist or already finished.
func (r *SyncOperationRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET cancel_requested = 1
		 WHERE id = $1 AND status IN ($2, $3)`,
		id, models.OperationStatusPending, models.OperationStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// PruneOlderThan removes terminal operations that started before the cutoff.
func (r *SyncOperationRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_operations
		 WHERE start_time < $1 AND status IN ($2, $3, $4)`,
		cutoff, models.OperationStatusCompleted, models.OperationStatusFailed,
		models.OperationStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanOperation(row rowScanner) (*models.SyncOperation, error) {
	var op models.SyncOperation
	var endTime, estimated sql.NullTime
	var errorDetails sql.NullString
	var cancelRequested int

	err := row.Scan(
		&op.ID, &op.OperationType, &op.Status, &op.Progress, &op.TotalItems,
		&op.ProcessedItems, &op.FailedItems, &op.StartTime, &endTime,
		&estimated, &op.Source, &op.OperationData, &errorDetails,
		&cancelRequested)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		op.EndTime = &endTime.Time
	}
	if estimated.Valid {
		op.EstimatedCompletion = &estimated.Time
	}
	if errorDetails.Valid {
		op.ErrorDetails = &errorDetails.String
	}
	op.CancelRequested = cancelRequested != 0
	return &op, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
