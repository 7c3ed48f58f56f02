package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mediamirror/server/internal/models"
)

// AssetRepository handles mirror-row persistence
type AssetRepository struct {
	db *sql.DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

const assetColumns = `id, public_id, version, signature, resource_type, folder, tags,
	original_filename, display_name, file_size, mime_type, format, width, height,
	secure_url, url, sync_status, deleted_at, created_at, updated_at, last_synced_at`

// GetByPublicID retrieves the live mirror row for a public ID.
// Soft-deleted rows are not returned.
func (r *AssetRepository) GetByPublicID(ctx context.Context, publicID string) (*models.AssetRecord, error) {
	query := `SELECT ` + assetColumns + ` FROM media_assets WHERE public_id = $1 AND deleted_at IS NULL`

	rec, err := scanAsset(r.db.QueryRowContext(ctx, query, publicID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return rec, nil
}

// ListLive returns a page of live mirror rows ordered by public ID, so the
// reconciliation engine can walk the whole mirror deterministically.
func (r *AssetRepository) ListLive(ctx context.Context, skip, take int) ([]*models.AssetRecord, error) {
	query := `SELECT ` + assetColumns + ` FROM media_assets
		WHERE deleted_at IS NULL ORDER BY public_id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, take, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var recs []*models.AssetRecord
	for rows.Next() {
		rec, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// GetLiveCount returns the number of live mirror rows.
func (r *AssetRepository) GetLiveCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media_assets WHERE deleted_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return count, nil
}

// CountBySyncStatus returns live-row counts keyed by sync status.
func (r *AssetRepository) CountBySyncStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM media_assets
		 WHERE deleted_at IS NULL GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Add inserts a new mirror row.
func (r *AssetRepository) Add(ctx context.Context, rec *models.AssetRecord) error {
	existing, err := r.GetByPublicID(ctx, rec.PublicID)
	if err != nil {
		return err
	}
	if existing != nil {
		return models.ErrDuplicateAsset
	}
	return r.insert(ctx, r.db, rec)
}

// AddBatch inserts a batch of mirror rows in one transaction.
func (r *AssetRepository) AddBatch(ctx context.Context, recs []*models.AssetRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := r.insert(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *AssetRepository) insert(ctx context.Context, e execer, rec *models.AssetRecord) error {
	query := `INSERT INTO media_assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := e.ExecContext(ctx, query,
		rec.ID, rec.PublicID, rec.Version, rec.Signature, rec.ResourceType,
		rec.Folder, marshalTags(rec.Tags), rec.OriginalFilename, rec.DisplayName,
		rec.FileSize, rec.MimeType, rec.Format, rec.Width, rec.Height,
		rec.SecureURL, rec.URL, rec.SyncStatus, nullTime(rec.DeletedAt),
		rec.CreatedAt, rec.UpdatedAt, nullTime(rec.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// Update rewrites the mirror row identified by the record's ID.
func (r *AssetRepository) Update(ctx context.Context, rec *models.AssetRecord) error {
	query := `UPDATE media_assets SET
		public_id = $1, version = $2, signature = $3, resource_type = $4, folder = $5,
		tags = $6, original_filename = $7, display_name = $8, file_size = $9,
		mime_type = $10, format = $11, width = $12, height = $13, secure_url = $14,
		url = $15, sync_status = $16, deleted_at = $17, updated_at = $18,
		last_synced_at = $19
		WHERE id = $20`

	result, err := r.db.ExecContext(ctx, query,
		rec.PublicID, rec.Version, rec.Signature, rec.ResourceType, rec.Folder,
		marshalTags(rec.Tags), rec.OriginalFilename, rec.DisplayName, rec.FileSize,
		rec.MimeType, rec.Format, rec.Width, rec.Height, rec.SecureURL,
		rec.URL, rec.SyncStatus, nullTime(rec.DeletedAt), rec.UpdatedAt,
		nullTime(rec.LastSyncedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return models.ErrAssetNotFound
	}
	return nil
}

// SetSyncStatus updates just the sync status of the live row for a public ID.
func (r *AssetRepository) SetSyncStatus(ctx context.Context, publicID, status string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE media_assets SET sync_status = $1, updated_at = $2
		 WHERE public_id = $3 AND deleted_at IS NULL`,
		status, time.Now().UTC(), publicID)
	if err != nil {
		return false, fmt.Errorf("failed to set sync status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SoftDelete marks the live row for a public ID as deleted. Returns false if
// no live row existed.
func (r *AssetRepository) SoftDelete(ctx context.Context, publicID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE media_assets SET deleted_at = $1, updated_at = $1
		 WHERE public_id = $2 AND deleted_at IS NULL`,
		at, publicID)
	if err != nil {
		return false, fmt.Errorf("failed to soft-delete asset: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// HardDelete removes all rows for a public ID, live or soft-deleted. The
// cleanup processor calls this once the store object is confirmed gone.
func (r *AssetRepository) HardDelete(ctx context.Context, publicID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM media_assets WHERE public_id = $1`, publicID)
	if err != nil {
		return false, fmt.Errorf("failed to delete asset: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*models.AssetRecord, error) {
	var rec models.AssetRecord
	var tagsJSON string
	var deletedAt, lastSyncedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.PublicID, &rec.Version, &rec.Signature, &rec.ResourceType,
		&rec.Folder, &tagsJSON, &rec.OriginalFilename, &rec.DisplayName,
		&rec.FileSize, &rec.MimeType, &rec.Format, &rec.Width, &rec.Height,
		&rec.SecureURL, &rec.URL, &rec.SyncStatus, &deletedAt,
		&rec.CreatedAt, &rec.UpdatedAt, &lastSyncedAt)
	if err != nil {
		return nil, err
	}

	if tagsJSON != "" && tagsJSON != "[]" {
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	if lastSyncedAt.Valid {
		rec.LastSyncedAt = &lastSyncedAt.Time
	}
	return &rec, nil
}

func marshalTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
