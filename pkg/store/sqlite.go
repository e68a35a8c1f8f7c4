package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_platform_profiles_user ON ` + TableName + ` (user_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_platform_profiles_user_platform ON ` + TableName + ` (user_id, platform)`,
}

// SQLite is a Gateway backed by a SQLite database.
type SQLite struct {
	db    *sql.DB
	opts  options
	mu    sync.Mutex
	ready bool
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("configuring database: %w", err)
	}
	return NewSQLite(db, opts...), nil
}

// NewSQLite wraps an open database. The schema is created lazily.
func NewSQLite(db *sql.DB, opts ...Option) *SQLite {
	return &SQLite{db: db, opts: buildOptions(opts)}
}

// EnsureSchema creates the table and indexes if absent.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	s.ready = true
	s.opts.logger.DebugContext(ctx, "profile store schema ready", "backend", "sqlite")
	return nil
}

// withSchema runs fn after ensuring the schema, and once more after
// recreating it if the table vanished underneath us.
func (s *SQLite) withSchema(ctx context.Context, fn func() error) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	err := fn()
	if err == nil || !isMissingSQLiteTable(err) {
		return err
	}
	s.opts.logger.WarnContext(ctx, "profile table missing, recreating", "backend", "sqlite")
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn()
}

func isMissingSQLiteTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

// Upsert inserts or overwrites the record for (userID, platform).
func (s *SQLite) Upsert(ctx context.Context, userID, platform string, p *profile.PlatformProfile) (*Record, error) {
	name, data, err := prepare(userID, platform, p)
	if err != nil {
		return nil, err
	}

	now := s.opts.now().UTC().Format(time.RFC3339Nano)
	const query = `
		INSERT INTO ` + TableName + ` (id, user_id, platform, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, platform) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`

	rec := &Record{UserID: userID, Platform: name}
	var created, updated string
	err = s.withSchema(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, uuid.NewString(), userID, string(name), string(data), now, now).
			Scan(&rec.ID, &created, &updated)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", userID, name, err)
	}
	if err := parseTimes(rec, created, updated); err != nil {
		return nil, err
	}
	if err := decode(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the user's records, optionally restricted to platforms.
func (s *SQLite) Get(ctx context.Context, userID string, platforms ...string) ([]Record, error) {
	names, err := canonicalList(platforms)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, platform, data, created_at, updated_at FROM ` + TableName + ` WHERE user_id = ?`
	args := []any{userID}
	if len(names) > 0 {
		query += ` AND platform IN (?` + strings.Repeat(", ?", len(names)-1) + `)`
		for _, n := range names {
			args = append(args, n)
		}
	}
	query += ` ORDER BY platform`

	var records []Record
	err = s.withSchema(ctx, func() error {
		records = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint:errcheck // read-only

		for rows.Next() {
			var rec Record
			var platform, data, created, updated string
			if err := rows.Scan(&rec.ID, &rec.UserID, &platform, &data, &created, &updated); err != nil {
				return err
			}
			rec.Platform = profile.Platform(platform)
			if err := parseTimes(&rec, created, updated); err != nil {
				return err
			}
			if err := decode([]byte(data), &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", userID, err)
	}
	return records, nil
}

// Delete removes the record for (userID, platform).
func (s *SQLite) Delete(ctx context.Context, userID, platform string) error {
	name, err := profile.Canonical(platform)
	if err != nil {
		return err
	}
	err = s.withSchema(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM `+TableName+` WHERE user_id = ? AND platform = ?`, userID, string(name))
		return err
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", userID, name, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func parseTimes(rec *Record, created, updated string) error {
	var err1, err2 error
	rec.CreatedAt, err1 = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, err2 = time.Parse(time.RFC3339Nano, updated)
	if err := errors.Join(err1, err2); err != nil {
		return fmt.Errorf("parse timestamps of %s: %w", rec.ID, err)
	}
	return nil
}
