package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jwebster45206/consequence-engine/pkg/storage"
)

// SQLiteStorage implements SnapshotStore on a local SQLite file
type SQLiteStorage struct {
	conn   *sqlx.DB
	logger *slog.Logger
	key    string
}

// Ensure SQLiteStorage implements SnapshotStore interface
var _ storage.SnapshotStore = (*SQLiteStorage)(nil)

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string, key string, logger *slog.Logger) (*SQLiteStorage, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if key == "" {
		key = DefaultSnapshotKey
	}

	s := &SQLiteStorage{conn: conn, logger: logger, key: key}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		saved_at TEXT NOT NULL
	);`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, data []byte) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (id, data, saved_at) VALUES (?, ?, ?)",
		s.key, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("Failed to save snapshot", "key", s.key, "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.conn.GetContext(ctx, &data, "SELECT data FROM snapshots WHERE id = ?", s.key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}
