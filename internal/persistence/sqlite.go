package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// SQLiteConfig defines standard SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS recording (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	streamer_key TEXT NOT NULL,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	start_time   INTEGER NOT NULL,
	cover_path   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS ix_recording_streamer ON recording(streamer_key, id DESC);

CREATE TABLE IF NOT EXISTS segment (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	recording_id INTEGER NOT NULL REFERENCES recording(id) ON DELETE CASCADE,
	file_name    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_segment_recording ON segment(recording_id);
CREATE INDEX IF NOT EXISTS ix_segment_file ON segment(file_name);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite initializes the connection pool with mandatory PRAGMAs (WAL,
// busy_timeout applied to every pooled connection via the DSN) and creates the
// schema.
func OpenSQLite(dbPath string, cfg SQLiteConfig) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AddRecording(ctx context.Context, name, url string, start time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recording (streamer_key, url, start_time) VALUES (?, ?, ?)`,
		name, url, start.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: add recording: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recording SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("sqlite: update title: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCoverPath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recording SET cover_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("sqlite: update cover path: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendFile(ctx context.Context, id int64, fileName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segment (recording_id, file_name) VALUES (?, ?)`, id, fileName)
	if err != nil {
		return fmt.Errorf("sqlite: append file: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFiles(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name FROM segment WHERE recording_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get files: %w", err)
	}
	defer rows.Close()
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) GetLatestByStreamer(ctx context.Context, name string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, streamer_key, url, title, start_time, cover_path
		 FROM recording WHERE streamer_key = ? ORDER BY id DESC LIMIT 1`, name)
	return scanRecording(row)
}

func (s *SQLiteStore) GetByFileName(ctx context.Context, fileName string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.streamer_key, r.url, r.title, r.start_time, r.cover_path
		 FROM recording r JOIN segment f ON f.recording_id = r.id
		 WHERE f.file_name = ? ORDER BY r.id DESC LIMIT 1`, fileName)
	return scanRecording(row)
}

func (s *SQLiteStore) PutKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: put kv: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: get kv: %w", err)
	}
	return value, nil
}

func scanRecording(row *sql.Row) (*Recording, error) {
	var r Recording
	var start int64
	err := row.Scan(&r.ID, &r.Name, &r.URL, &r.Title, &start, &r.CoverPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan recording: %w", err)
	}
	r.StartTime = time.Unix(start, 0)
	return &r, nil
}
