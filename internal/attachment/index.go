package attachment

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Index is a SQLite ledger mapping event ids to stored attachments.
type Index struct {
	db *sql.DB
}

// Entry is a row of the index.
type Entry struct {
	EventID     string    `json:"event_id"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// OpenIndex opens (and migrates) the index database at dbPath.
func OpenIndex(dbPath string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create index directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &Index{db: db}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("index migration failed: %w", err)
	}
	return idx, nil
}

// Record stores or replaces the entry for eventID.
func (i *Index) Record(ctx context.Context, eventID string, att Attachment) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attachments (event_id, filename, path, size, content_type, sha256, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, att.Filename, att.Path, att.Size, att.ContentType, att.SHA256, time.Now().UTC(),
	)
	return err
}

// Get returns the entry for eventID, or nil when there is none.
func (i *Index) Get(ctx context.Context, eventID string) (*Entry, error) {
	var e Entry
	err := i.db.QueryRowContext(ctx,
		`SELECT event_id, filename, path, size, content_type, sha256, created_at
		 FROM attachments WHERE event_id = ?`, eventID,
	).Scan(&e.EventID, &e.Filename, &e.Path, &e.Size, &e.ContentType, &e.SHA256, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Recent returns up to limit entries, newest first.
func (i *Index) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT event_id, filename, path, size, content_type, sha256, created_at
		 FROM attachments ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EventID, &e.Filename, &e.Path, &e.Size, &e.ContentType, &e.SHA256, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (i *Index) Close() error {
	return i.db.Close()
}
