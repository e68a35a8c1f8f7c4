package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

func newTestSQLite(t *testing.T, opts ...Option) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", opts...)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck // test cleanup
	return s
}

func sample(platform profile.Platform, solved int) *profile.PlatformProfile {
	p := profile.New(platform, "alice")
	p.TotalSolved = solved
	p.ProblemsByDifficulty["easy"] = solved
	p.ActivitySeries = []profile.ActivityDay{{Date: "2024-01-01", Count: 2}}
	return p
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func TestUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newTestSQLite(t, WithClock(clk.now))

	first, err := s.Upsert(ctx, "u1", "leetcode", sample(profile.LeetCode, 10))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := s.Upsert(ctx, "u1", "leetcode", sample(profile.LeetCode, 12))
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("upsert changed id: %s -> %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("timestamps: first %v/%v second %v/%v", first.CreatedAt, first.UpdatedAt, second.CreatedAt, second.UpdatedAt)
	}

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Get returned %d records, want 1", len(got))
	}
	if got[0].Data.TotalSolved != 12 {
		t.Errorf("stored TotalSolved = %d, want the latest write", got[0].Data.TotalSolved)
	}

	// Writing the same profile twice leaves the same state.
	again, err := s.Upsert(ctx, "u1", "leetcode", sample(profile.LeetCode, 12))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(second.Data, again.Data); diff != "" || again.ID != second.ID {
		t.Errorf("repeat upsert differs (-second +again):\n%s", diff)
	}
}

func TestAliasKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if _, err := s.Upsert(ctx, "u1", "codestudio", sample(profile.Code360, 7)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, "u1", "Code360", sample(profile.Code360, 9)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	for _, name := range []string{"codestudio", "code360", " CodingNinjas "} {
		got, err := s.Get(ctx, "u1", name)
		if err != nil {
			t.Fatalf("Get(%q): %v", name, err)
		}
		if len(got) != 1 || got[0].Platform != profile.Code360 || got[0].Data.TotalSolved != 9 {
			t.Errorf("Get(%q) = %+v", name, got)
		}
		if got[0].Data.Platform != profile.Code360 {
			t.Errorf("stored document platform = %q", got[0].Data.Platform)
		}
	}
}

func TestGetFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	for _, p := range []profile.Platform{profile.LeetCode, profile.Codeforces, profile.CodeChef} {
		if _, err := s.Upsert(ctx, "u1", string(p), sample(p, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Upsert(ctx, "u2", "leetcode", sample(profile.LeetCode, 1)); err != nil {
		t.Fatal(err)
	}

	all, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	var names []profile.Platform
	for _, r := range all {
		names = append(names, r.Platform)
	}
	want := []profile.Platform{profile.CodeChef, profile.Codeforces, profile.LeetCode}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("platforms mismatch (-want +got):\n%s", diff)
	}

	some, err := s.Get(ctx, "u1", "lc", "cf", "leetcode")
	if err != nil {
		t.Fatal(err)
	}
	if len(some) != 2 {
		t.Errorf("filtered Get returned %d records, want 2", len(some))
	}

	if _, err := s.Get(ctx, "u1", "myspace"); !errors.Is(err, profile.ErrUnsupportedPlatform) {
		t.Errorf("unknown filter err = %v", err)
	}

	none, err := s.Get(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Errorf("Get(nobody) = %v, %v", none, err)
	}
}

func TestRejectsFailedProfiles(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if _, err := s.Upsert(ctx, "u1", "leetcode", sample(profile.LeetCode, 3)); err != nil {
		t.Fatal(err)
	}
	failed := profile.New(profile.LeetCode, "alice")
	failed.Error = "timeout"
	if _, err := s.Upsert(ctx, "u1", "leetcode", failed); !errors.Is(err, ErrNotPersistable) {
		t.Errorf("err = %v, want ErrNotPersistable", err)
	}
	if _, err := s.Upsert(ctx, "u1", "leetcode", nil); !errors.Is(err, ErrNotPersistable) {
		t.Errorf("nil profile err = %v", err)
	}
	if _, err := s.Upsert(ctx, "", "leetcode", sample(profile.LeetCode, 1)); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("empty user err = %v", err)
	}

	got, err := s.Get(ctx, "u1", "leetcode")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Data.TotalSolved != 3 {
		t.Errorf("prior record changed: %+v", got)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if _, err := s.Upsert(ctx, "u1", "codeforces", sample(profile.Codeforces, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "u1", "cf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "u1", "codeforces"); err != nil {
		t.Errorf("deleting a missing record: %v", err)
	}
	if got, _ := s.Get(ctx, "u1"); len(got) != 0 { //nolint:errcheck // checked via len
		t.Errorf("record survived delete: %+v", got)
	}
}

func TestSelfHealing(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE "+TableName); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, "u1", "leetcode", sample(profile.LeetCode, 4)); err != nil {
		t.Fatalf("Upsert after drop: %v", err)
	}
	got, err := s.Get(ctx, "u1")
	if err != nil || len(got) != 1 {
		t.Fatalf("Get after heal = %v, %v", got, err)
	}

	var indexes int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_platform_profiles_%'`).Scan(&indexes); err != nil {
		t.Fatal(err)
	}
	if indexes != 2 {
		t.Errorf("indexes = %d, want 2", indexes)
	}
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "profiles.db")

	gw, err := Open(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := gw.Upsert(ctx, "u1", "hackerrank", sample(profile.HackerRank, 2)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}

	reopened, err := Open(ctx, "sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck // test
	got, err := reopened.Get(ctx, "u1")
	if err != nil || len(got) != 1 {
		t.Fatalf("Get after reopen = %v, %v", got, err)
	}
	want := sample(profile.HackerRank, 2)
	if diff := cmp.Diff(*want, got[0].Data, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestNewSQLiteWrapsDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	s := NewSQLite(db)
	defer s.Close() //nolint:errcheck // test
	if _, err := s.Upsert(context.Background(), "u1", "gfg", sample(profile.GeeksforGeeks, 1)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}
