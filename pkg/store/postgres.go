package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// recordRow is the gorm model for the profile table. Data is JSONB.
type recordRow struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        string `gorm:"primaryKey;type:uuid"`
	UserID    string `gorm:"not null;index:idx_platform_profiles_user;uniqueIndex:idx_platform_profiles_user_platform,priority:1"`
	Platform  string `gorm:"not null;uniqueIndex:idx_platform_profiles_user_platform,priority:2"`
	Data      []byte `gorm:"type:jsonb;not null"`
}

func (recordRow) TableName() string { return TableName }

// Postgres is a Gateway backed by PostgreSQL through gorm.
type Postgres struct {
	db    *gorm.DB
	opts  options
	mu    sync.Mutex
	ready bool
}

// OpenPostgres connects to dsn. The schema is created lazily.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewPostgres(db, opts...), nil
}

// NewPostgres wraps an open gorm handle.
func NewPostgres(db *gorm.DB, opts ...Option) *Postgres {
	return &Postgres{db: db, opts: buildOptions(opts)}
}

// EnsureSchema creates the table and its indexes if absent.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	m := s.db.WithContext(ctx).Migrator()
	if !m.HasTable(&recordRow{}) {
		s.opts.logger.InfoContext(ctx, "creating profile table", "backend", "postgres", "table", TableName)
		if err := m.CreateTable(&recordRow{}); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for _, idx := range []string{"idx_platform_profiles_user", "idx_platform_profiles_user_platform"} {
		if !m.HasIndex(&recordRow{}, idx) {
			if err := m.CreateIndex(&recordRow{}, idx); err != nil {
				return fmt.Errorf("creating index %s: %w", idx, err)
			}
		}
	}
	s.ready = true
	return nil
}

func (s *Postgres) withSchema(ctx context.Context, fn func(*gorm.DB) error) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	err := fn(s.db.WithContext(ctx))
	if !isUndefinedTable(err) {
		return err
	}
	s.opts.logger.WarnContext(ctx, "profile table missing, recreating", "backend", "postgres")
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn(s.db.WithContext(ctx))
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return err != nil && errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// Upsert looks up (userID, platform) and updates it in place, or inserts a
// new record with a fresh id.
func (s *Postgres) Upsert(ctx context.Context, userID, platform string, p *profile.PlatformProfile) (*Record, error) {
	name, data, err := prepare(userID, platform, p)
	if err != nil {
		return nil, err
	}

	var row recordRow
	err = s.withSchema(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			now := s.opts.now().UTC()
			err := tx.Where("user_id = ? AND platform = ?", userID, string(name)).First(&row).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row = recordRow{
					ID:        uuid.NewString(),
					UserID:    userID,
					Platform:  string(name),
					Data:      data,
					CreatedAt: now,
					UpdatedAt: now,
				}
				return tx.Create(&row).Error
			case err != nil:
				return err
			default:
				row.Data = data
				row.UpdatedAt = now
				return tx.Model(&row).Updates(map[string]any{"data": data, "updated_at": now}).Error
			}
		})
	})
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", userID, name, err)
	}
	return toRecord(&row)
}

// Get returns the user's records, optionally restricted to platforms.
func (s *Postgres) Get(ctx context.Context, userID string, platforms ...string) ([]Record, error) {
	names, err := canonicalList(platforms)
	if err != nil {
		return nil, err
	}

	var rows []recordRow
	err = s.withSchema(ctx, func(db *gorm.DB) error {
		q := db.Where("user_id = ?", userID)
		if len(names) > 0 {
			q = q.Where("platform IN ?", names)
		}
		return q.Order("platform").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", userID, err)
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := toRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Delete removes the record for (userID, platform).
func (s *Postgres) Delete(ctx context.Context, userID, platform string) error {
	name, err := profile.Canonical(platform)
	if err != nil {
		return err
	}
	err = s.withSchema(ctx, func(db *gorm.DB) error {
		return db.Where("user_id = ? AND platform = ?", userID, string(name)).Delete(&recordRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", userID, name, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(row *recordRow) (*Record, error) {
	rec := &Record{
		ID:        row.ID,
		UserID:    row.UserID,
		Platform:  profile.Platform(row.Platform),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := decode(row.Data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
