// Package store persists one profile document per (user, platform) pair.
// Backends create their own table and indexes on first use and recreate
// them if they disappear.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// TableName is the relation every backend stores records in.
const TableName = "platform_profiles"

var (
	// ErrNotPersistable is returned for nil or failed profiles.
	ErrNotPersistable = errors.New("profile not persistable")

	// ErrInvalidUser is returned for an empty user id.
	ErrInvalidUser = errors.New("invalid user id")
)

// Record is one stored profile.
type Record struct {
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	ID        string                  `json:"id"`
	UserID    string                  `json:"user_id"`
	Platform  profile.Platform        `json:"platform"`
	Data      profile.PlatformProfile `json:"data"`
}

// Gateway stores profiles. Platform arguments accept aliases; they are
// canonicalized before use as keys.
type Gateway interface {
	// EnsureSchema creates the table and indexes if absent.
	EnsureSchema(ctx context.Context) error
	// Upsert inserts or overwrites the record for (userID, platform).
	Upsert(ctx context.Context, userID, platform string, p *profile.PlatformProfile) (*Record, error)
	// Get returns the user's records, restricted to platforms when given,
	// ordered by platform.
	Get(ctx context.Context, userID string, platforms ...string) ([]Record, error)
	// Delete removes the record for (userID, platform). Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, userID, platform string) error
	// Close releases the underlying connection.
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open connects to the named backend: "sqlite" (dsn is a file path) or
// "postgres" (dsn is a connection string).
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Gateway, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return OpenSQLite(ctx, dsn, opts...)
	case "postgres", "postgresql", "pg":
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// prepare validates a write and returns the canonical platform and the
// encoded document.
func prepare(userID, platform string, p *profile.PlatformProfile) (profile.Platform, []byte, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, ErrInvalidUser
	}
	if p == nil {
		return "", nil, fmt.Errorf("%w: nil profile", ErrNotPersistable)
	}
	if p.Error != "" {
		return "", nil, fmt.Errorf("%w: fetch failed: %s", ErrNotPersistable, p.Error)
	}
	name, err := profile.Canonical(platform)
	if err != nil {
		return "", nil, err
	}

	doc := *p
	doc.Platform = name
	data, err := json.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("encode profile: %w", err)
	}
	return name, data, nil
}

// canonicalList canonicalizes and deduplicates platform filters.
func canonicalList(platforms []string) ([]string, error) {
	seen := make(map[profile.Platform]bool, len(platforms))
	out := make([]string, 0, len(platforms))
	for _, raw := range platforms {
		name, err := profile.Canonical(raw)
		if err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, string(name))
		}
	}
	return out, nil
}

func decode(data []byte, rec *Record) error {
	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	return nil
}
