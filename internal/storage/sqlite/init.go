package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the episodes table if it
// doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		podcast_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		download_url TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		uploaded INTEGER NOT NULL DEFAULT 0,
		exclude_from_auto_download INTEGER NOT NULL DEFAULT 0,
		download_status TEXT NOT NULL DEFAULT 'not_queued',
		error_message TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		updated_at DATETIME
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}
