package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediamirror/server/internal/models"
)

// CleanupQueueRepository handles cleanup queue persistence
type CleanupQueueRepository struct {
	db *sql.DB
}

// NewCleanupQueueRepository creates a new cleanup queue repository
func NewCleanupQueueRepository(db *sql.DB) *CleanupQueueRepository {
	return &CleanupQueueRepository{db: db}
}

const cleanupColumns = `id, public_id, reason, attempts, status, last_error,
	created_at, next_attempt_at, completed_at`

// Add inserts a new cleanup item.
func (r *CleanupQueueRepository) Add(ctx context.Context, item *models.CleanupItem) error {
	query := `INSERT INTO cleanup_queue (` + cleanupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.PublicID, item.Reason, item.Attempts, item.Status,
		nullString(item.LastError), item.CreatedAt, item.NextAttemptAt,
		nullTime(item.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert cleanup item: %w", err)
	}
	return nil
}

// GetByID retrieves one cleanup item.
func (r *CleanupQueueRepository) GetByID(ctx context.Context, id string) (*models.CleanupItem, error) {
	query := `SELECT ` + cleanupColumns + ` FROM cleanup_queue WHERE id = $1`

	item, err := scanCleanupItem(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cleanup item: %w", err)
	}
	return item, nil
}

// HasPendingForPublicID reports whether an open item already exists for the
// public ID, so callers can avoid enqueueing duplicates.
func (r *CleanupQueueRepository) HasPendingForPublicID(ctx context.Context, publicID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cleanup_queue
		 WHERE public_id = $1 AND status IN ($2, $3)`,
		publicID, models.CleanupStatusPending, models.CleanupStatusProcessing).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check pending cleanup: %w", err)
	}
	return count > 0, nil
}

// ClaimDue atomically claims up to limit due pending items. Each item is
// claimed with a conditional update so two concurrent workers never receive
// the same item.
func (r *CleanupQueueRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*models.CleanupItem, error) {
	query := `SELECT ` + cleanupColumns + ` FROM cleanup_queue
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.CleanupStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due cleanup items: %w", err)
	}

	var candidates []*models.CleanupItem
	for rows.Next() {
		item, err := scanCleanupItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cleanup item: %w", err)
		}
		candidates = append(candidates, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var claimed []*models.CleanupItem
	for _, item := range candidates {
		ok, err := r.claim(ctx, item.ID)
		if err != nil {
			return claimed, err
		}
		if ok {
			item.Status = models.CleanupStatusProcessing
			claimed = append(claimed, item)
		}
	}
	return claimed, nil
}

// ClaimByID claims one specific item regardless of its due time. Returns nil
// if the item does not exist or is not pending.
func (r *CleanupQueueRepository) ClaimByID(ctx context.Context, id string) (*models.CleanupItem, error) {
	ok, err := r.claim(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *CleanupQueueRepository) claim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cleanup_queue SET status = $1 WHERE id = $2 AND status = $3`,
		models.CleanupStatusProcessing, id, models.CleanupStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim cleanup item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Update rewrites an item after a processing attempt.
func (r *CleanupQueueRepository) Update(ctx context.Context, item *models.CleanupItem) error {
	query := `UPDATE cleanup_queue SET
		attempts = $1, status = $2, last_error = $3, next_attempt_at = $4, completed_at = $5
		WHERE id = $6`

	result, err := r.db.ExecContext(ctx, query,
		item.Attempts, item.Status, nullString(item.LastError),
		item.NextAttemptAt, nullTime(item.CompletedAt), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update cleanup item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("cleanup item not found: %s", item.ID)
	}
	return nil
}

// CountByStatus returns item counts keyed by status.
func (r *CleanupQueueRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM cleanup_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cleanup items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// CountDue returns the number of pending items already due.
func (r *CleanupQueueRepository) CountDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cleanup_queue WHERE status = $1 AND next_attempt_at <= $2`,
		models.CleanupStatusPending, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cleanup items: %w", err)
	}
	return count, nil
}

// OldestPendingAt returns the creation time of the oldest pending item, or
// nil when the queue has no pending items.
func (r *CleanupQueueRepository) OldestPendingAt(ctx context.Context) (*time.Time, error) {
	var created sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM cleanup_queue WHERE status = $1`,
		models.CleanupStatusPending).Scan(&created)
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest pending: %w", err)
	}
	if !created.Valid {
		return nil, nil
	}
	return &created.Time, nil
}

// ListFailed returns dead-lettered items, most recent first.
func (r *CleanupQueueRepository) ListFailed(ctx context.Context, limit int) ([]*models.CleanupItem, error) {
	query := `SELECT ` + cleanupColumns + ` FROM cleanup_queue
		WHERE status = $1 ORDER BY completed_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, models.CleanupStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed cleanup items: %w", err)
	}
	defer rows.Close()

	var items []*models.CleanupItem
	for rows.Next() {
		item, err := scanCleanupItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanCleanupItem(row rowScanner) (*models.CleanupItem, error) {
	var item models.CleanupItem
	var lastError sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.PublicID, &item.Reason, &item.Attempts, &item.Status,
		&lastError, &item.CreatedAt, &item.NextAttemptAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		item.LastError = &lastError.String
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return &item, nil
}
