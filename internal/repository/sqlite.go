package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Asset mirror: one row per object-store asset as known locally
	CREATE TABLE IF NOT EXISTS media_assets (
		id TEXT PRIMARY KEY,
		public_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		signature TEXT NOT NULL DEFAULT '',
		resource_type TEXT NOT NULL DEFAULT 'image',
		folder TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		original_filename TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		secure_url TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		sync_status TEXT NOT NULL DEFAULT 'pending',
		deleted_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_synced_at DATETIME
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_media_assets_public_id_live
		ON media_assets(public_id) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_media_assets_sync_status ON media_assets(sync_status);
	CREATE INDEX IF NOT EXISTS idx_media_assets_deleted_at ON media_assets(deleted_at);

	-- Cleanup queue: pending store-side deletions
	CREATE TABLE IF NOT EXISTS cleanup_queue (
		id TEXT PRIMARY KEY,
		public_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		next_attempt_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_cleanup_queue_status ON cleanup_queue(status);
	CREATE INDEX IF NOT EXISTS idx_cleanup_queue_next_attempt ON cleanup_queue(next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_cleanup_queue_public_id ON cleanup_queue(public_id);

	-- Sync operation log: progress-tracked long-running jobs
	CREATE TABLE IF NOT EXISTS sync_operations (
		id TEXT PRIMARY KEY,
		operation_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		total_items INTEGER NOT NULL DEFAULT 0,
		processed_items INTEGER NOT NULL DEFAULT 0,
		failed_items INTEGER NOT NULL DEFAULT 0,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		estimated_completion DATETIME,
		source TEXT NOT NULL DEFAULT 'api',
		operation_data TEXT NOT NULL DEFAULT '',
		error_details TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_operations_status ON sync_operations(status);
	CREATE INDEX IF NOT EXISTS idx_sync_operations_start ON sync_operations(start_time);

	-- Status snapshots: periodic health rollups
	CREATE TABLE IF NOT EXISTS status_snapshots (
		id TEXT PRIMARY KEY,
		snapshot_type TEXT NOT NULL DEFAULT 'scheduled',
		pending_assets INTEGER NOT NULL DEFAULT 0,
		synced_assets INTEGER NOT NULL DEFAULT 0,
		error_assets INTEGER NOT NULL DEFAULT 0,
		conflict_assets INTEGER NOT NULL DEFAULT 0,
		pending_cleanups INTEGER NOT NULL DEFAULT 0,
		active_operations INTEGER NOT NULL DEFAULT 0,
		error_rate REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_status_snapshots_created ON status_snapshots(created_at);
	`

	_, err := db.Exec(schema)
	return err
}
