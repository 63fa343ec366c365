package archive

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteSink archives objects as BLOB rows in a single SQLite table. Suited
// to small objects such as manifests and short segments.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSink opens (or creates) the database at dbPath, applies PRAGMAs
// and creates the archived_objects table.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite archive database: %w", err)
	}

	s := &SQLiteSink{db: db, now: time.Now}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite archive database: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS archived_objects (
			name        TEXT    NOT NULL PRIMARY KEY,
			data        BLOB    NOT NULL,
			size        INTEGER NOT NULL,
			archived_at TEXT    NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating archive schema: %w", err)
	}
	return nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Put stores the body as one row, replacing any existing row for key.
func (s *SQLiteSink) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading object data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO archived_objects (name, data, size, archived_at) VALUES (?, ?, ?, ?)`,
		key, data, len(data), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting archived object %q: %w", key, err)
	}
	return nil
}

// Delete removes the row for key.
func (s *SQLiteSink) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM archived_objects WHERE name = ?`, key); err != nil {
		return fmt.Errorf("deleting archived object %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *SQLiteSink) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Sink = (*SQLiteSink)(nil)
