package aggregate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	_ "github.com/codeGROOVE-dev/codeprofile/pkg/code360" // registers a slow platform
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
	"github.com/codeGROOVE-dev/codeprofile/pkg/store"
)

func returns(p *profile.PlatformProfile, err error) profile.Fetcher {
	return profile.FetcherFunc(func(context.Context, string) (*profile.PlatformProfile, error) {
		return p, err
	})
}

// hang blocks until its context is done and then reports the context error.
func hang() profile.Fetcher {
	return profile.FetcherFunc(func(ctx context.Context, _ string) (*profile.PlatformProfile, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func leetcodeAlice() *profile.PlatformProfile {
	p := profile.New(profile.LeetCode, "alice")
	p.TotalSolved = 120
	p.ProblemsByDifficulty = map[string]int{"easy": 60, "medium": 50, "hard": 10}
	p.ActivitySeries = []profile.ActivityDay{{Date: "2024-01-01", Count: 2}, {Date: "2024-01-02", Count: 1}}
	return p
}

func memStore(t *testing.T) store.Gateway {
	t.Helper()
	gw, err := store.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { gw.Close() }) //nolint:errcheck // test cleanup
	return gw
}

func TestAggregateScenario(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(
		WithFetcher(profile.LeetCode, returns(leetcodeAlice(), nil)),
		WithFetcher(profile.Codeforces, hang()),
		WithPlatformTimeout(profile.Codeforces, 50*time.Millisecond),
	)
	gw := memStore(t)
	svc, err := NewService(orch, gw)
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.Aggregate(ctx, "user-1", map[string]string{"leetcode": "alice", "codeforces": "alice_cf"})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.SavedCount != 1 || res.FailedCount != 1 {
		t.Errorf("saved/failed = %d/%d, want 1/1", res.SavedCount, res.FailedCount)
	}
	if len(res.Profiles) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(res.Profiles))
	}
	if res.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}

	lc := findOutcome(t, res.Profiles, profile.LeetCode)
	if !lc.OK() || lc.Profile.TotalSolved != 120 {
		t.Errorf("leetcode outcome = %+v", lc)
	}
	want := map[string]int{"easy": 60, "medium": 50, "hard": 10}
	if diff := cmp.Diff(want, lc.Profile.ProblemsByDifficulty); diff != "" {
		t.Errorf("difficulty mismatch (-want +got):\n%s", diff)
	}

	cf := findOutcome(t, res.Profiles, profile.Codeforces)
	if cf.OK() {
		t.Fatal("codeforces succeeded, want timeout")
	}
	if cf.Err.Cause != "timeout" || !errors.Is(cf.Err, profile.ErrTimeout) {
		t.Errorf("codeforces error = %q (%v), want timeout", cf.Err.Cause, cf.Err.Err)
	}
	if cf.Err.Platform != profile.Codeforces || cf.Err.Username != "alice_cf" {
		t.Errorf("codeforces error labels = %s/%s", cf.Err.Platform, cf.Err.Username)
	}

	stored, err := svc.Stored(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Platform != profile.LeetCode {
		t.Errorf("stored = %+v, want only leetcode", stored)
	}
}

func findOutcome(t *testing.T, outcomes []Outcome, p profile.Platform) Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.Platform == p {
			return o
		}
	}
	t.Fatalf("no outcome for %s", p)
	return Outcome{}
}

func TestSlowPlatformDoesNotBlockFast(t *testing.T) {
	orch := NewOrchestrator(
		WithFetcher(profile.HackerEarth, hang()),
		WithFetcher(profile.LeetCode, returns(leetcodeAlice(), nil)),
		WithPlatformTimeout(profile.HackerEarth, 300*time.Millisecond),
	)

	start := time.Now()
	batch, err := orch.FetchAll(context.Background(), map[string]string{"hackerearth": "bob", "leetcode": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("FetchAll returned after %v, before the slow platform settled", elapsed)
	}

	fast, _ := batch.Get(profile.LeetCode)
	if !fast.OK() {
		t.Fatalf("fast platform failed: %v", fast.Err)
	}
	if fast.Elapsed >= 300*time.Millisecond {
		t.Errorf("fast platform took %v, want it independent of the slow one", fast.Elapsed)
	}
	slow, _ := batch.Get(profile.HackerEarth)
	if slow.OK() || !errors.Is(slow.Err, profile.ErrTimeout) {
		t.Errorf("slow outcome = %+v, want timeout", slow)
	}
}

func TestFetchAllEveryPair(t *testing.T) {
	var calls atomic.Int32
	counting := func(f profile.Fetcher) profile.Fetcher {
		return profile.FetcherFunc(func(ctx context.Context, u string) (*profile.PlatformProfile, error) {
			calls.Add(1)
			return f.Fetch(ctx, u)
		})
	}

	orch := NewOrchestrator(
		WithFetcher(profile.LeetCode, counting(returns(leetcodeAlice(), nil))),
		WithFetcher(profile.Codeforces, counting(returns(nil, profile.ErrProfileNotFound))),
		WithFetcher(profile.CodeChef, counting(returns(nil, nil))),
		WithFetcher(profile.HackerRank, counting(returns(nil, errors.New("connection reset")))),
		WithFetcher(profile.HackerEarth, counting(returns(profile.New("", ""), nil))),
		WithFetcher(profile.Code360, counting(returns(nil, profile.ErrExtractionExhausted))),
		WithFetcher(profile.GeeksforGeeks, counting(returns(profile.New(profile.GeeksforGeeks, "g"), nil))),
	)

	handles := map[string]string{
		"leetcode":    "a",
		"cf":          "b",
		"codechef":    "c",
		"HackerRank":  "d",
		"hackerearth": "e",
		"codestudio":  "f",
		"gfg":         "g",
		"myspace":     "h",
		"atcoder":     "   ",
	}
	batch, err := orch.FetchAll(context.Background(), handles)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(batch.Outcomes) != 8 {
		t.Fatalf("got %d outcomes, want 8 (blank handle skipped)", len(batch.Outcomes))
	}
	if calls.Load() != 7 {
		t.Errorf("fetchers called %d times, want 7", calls.Load())
	}
	if batch.Succeeded != 3 || batch.Failed != 5 {
		t.Errorf("succeeded/failed = %d/%d, want 3/5", batch.Succeeded, batch.Failed)
	}
	if len(batch.Successes())+len(batch.Failures()) != len(batch.Outcomes) {
		t.Error("partition does not cover every outcome")
	}

	tests := []struct {
		platform profile.Platform
		wantErr  error
	}{
		{profile.LeetCode, nil},
		{profile.Codeforces, profile.ErrProfileNotFound},
		{profile.CodeChef, profile.ErrParse},
		{profile.HackerRank, profile.ErrNetwork},
		{profile.HackerEarth, nil},
		{profile.Code360, profile.ErrExtractionExhausted},
		{profile.GeeksforGeeks, nil},
		{"myspace", profile.ErrUnsupportedPlatform},
	}
	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			o, ok := batch.Get(tt.platform)
			if !ok {
				t.Fatal("missing outcome")
			}
			if tt.wantErr == nil {
				if !o.OK() {
					t.Fatalf("unexpected failure: %v", o.Err)
				}
				if o.Profile.Platform != tt.platform {
					t.Errorf("profile platform = %q", o.Profile.Platform)
				}
				if o.Profile.FetchedAt.IsZero() {
					t.Error("profile not finalized")
				}
				return
			}
			if o.OK() || !errors.Is(o.Err, tt.wantErr) {
				t.Errorf("outcome err = %v, want %v", o.Err, tt.wantErr)
			}
			if o.Err.Cause == "" {
				t.Error("empty failure cause")
			}
		})
	}

	he, _ := batch.Get(profile.HackerEarth)
	if he.Profile.Username != "e" {
		t.Errorf("untagged profile username = %q, want stamped handle", he.Profile.Username)
	}
}

func TestFetchAllUnregisteredPlatform(t *testing.T) {
	batch, err := NewOrchestrator().FetchAll(context.Background(), map[string]string{"codechef": "c"})
	if err != nil {
		t.Fatal(err)
	}
	o, _ := batch.Get(profile.CodeChef)
	if !errors.Is(o.Err, profile.ErrUnsupportedPlatform) {
		t.Errorf("err = %v, want ErrUnsupportedPlatform", o.Err)
	}
}

func TestFetchAllAdapterPanic(t *testing.T) {
	crash := profile.FetcherFunc(func(context.Context, string) (*profile.PlatformProfile, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})
	batch, err := NewOrchestrator(
		WithFetcher(profile.Codeforces, crash),
		WithFetcher(profile.LeetCode, returns(leetcodeAlice(), nil)),
	).FetchAll(context.Background(), map[string]string{"codeforces": "b", "leetcode": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if batch.Succeeded != 1 || batch.Failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 1/1", batch.Succeeded, batch.Failed)
	}
	cf, _ := batch.Get(profile.Codeforces)
	if cf.OK() || !errors.Is(cf.Err, profile.ErrParse) {
		t.Errorf("codeforces outcome = %+v, want ErrParse", cf)
	}
	if lc, _ := batch.Get(profile.LeetCode); !lc.OK() || lc.Profile.TotalSolved != 120 {
		t.Errorf("leetcode outcome = %+v", lc)
	}
}

func TestFetchAllInvalidHandles(t *testing.T) {
	orch := NewOrchestrator()
	if _, err := orch.FetchAll(context.Background(), nil); !errors.Is(err, ErrInvalidHandles) {
		t.Errorf("nil map err = %v", err)
	}
	_, err := orch.FetchAll(context.Background(), map[string]string{"leetcode": "a", "lc": "b"})
	if !errors.Is(err, ErrInvalidHandles) {
		t.Errorf("duplicate alias err = %v", err)
	}
	batch, err := orch.FetchAll(context.Background(), map[string]string{})
	if err != nil || len(batch.Outcomes) != 0 {
		t.Errorf("empty map = %+v, %v", batch, err)
	}
}

func TestFetchAllCallerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch, err := NewOrchestrator(WithFetcher(profile.LeetCode, hang())).
		FetchAll(ctx, map[string]string{"leetcode": "a"})
	if err != nil {
		t.Fatal(err)
	}
	o, _ := batch.Get(profile.LeetCode)
	if o.OK() || errors.Is(o.Err, profile.ErrTimeout) {
		t.Errorf("outcome = %+v, want a non-timeout failure", o)
	}
}

func TestTimeoutFor(t *testing.T) {
	orch := NewOrchestrator(
		WithTimeout(5*time.Second),
		WithPlatformTimeout(profile.Codeforces, time.Second),
	)
	tests := []struct {
		platform profile.Platform
		want     time.Duration
	}{
		{profile.LeetCode, 5 * time.Second},
		{profile.Codeforces, time.Second},
		{profile.Code360, DefaultSlowTimeout},
	}
	for _, tt := range tests {
		if got := orch.TimeoutFor(tt.platform); got != tt.want {
			t.Errorf("TimeoutFor(%s) = %v, want %v", tt.platform, got, tt.want)
		}
	}
}

type failingStore struct {
	store.Gateway
}

func (failingStore) Upsert(context.Context, string, string, *profile.PlatformProfile) (*store.Record, error) {
	return nil, errors.New("database is locked")
}

func TestAggregatePersistFailure(t *testing.T) {
	orch := NewOrchestrator(WithFetcher(profile.LeetCode, returns(leetcodeAlice(), nil)))
	svc, err := NewService(orch, failingStore{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := svc.Aggregate(context.Background(), "u", map[string]string{"leetcode": "alice"})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.SavedCount != 0 || res.FailedCount != 0 || len(res.PersistErrors) != 1 {
		t.Errorf("result = %+v", res)
	}
	if !res.Profiles[0].OK() || res.Profiles[0].Profile.TotalSolved != 120 {
		t.Errorf("persist failure altered the fetched profile: %+v", res.Profiles[0])
	}
}

func TestAggregateKeepsStaleRecordOnFailure(t *testing.T) {
	ctx := context.Background()
	gw := memStore(t)

	good, err := NewService(NewOrchestrator(WithFetcher(profile.LeetCode, returns(leetcodeAlice(), nil))), gw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := good.Aggregate(ctx, "u", map[string]string{"leetcode": "alice"}); err != nil {
		t.Fatal(err)
	}

	bad, err := NewService(NewOrchestrator(WithFetcher(profile.LeetCode, returns(nil, profile.ErrBlocked))), gw)
	if err != nil {
		t.Fatal(err)
	}
	res, err := bad.Aggregate(ctx, "u", map[string]string{"leetcode": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if res.FailedCount != 1 || res.SavedCount != 0 {
		t.Errorf("second run = %+v", res)
	}

	stored, err := bad.Stored(ctx, "u", "lc")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Data.TotalSolved != 120 {
		t.Errorf("stored = %+v, want the earlier profile", stored)
	}
}

func TestAggregatePartialKeepsStoredTotals(t *testing.T) {
	ctx := context.Background()
	gw := memStore(t)

	full := profile.New(profile.Codeforces, "alice_cf")
	full.TotalSolved = 300
	full.ProblemsByDifficulty = map[string]int{"800": 120, "1200": 180}
	full.Rating = profile.Int(1500)
	full.ActivitySeries = []profile.ActivityDay{{Date: "2024-01-02", Count: 3}}

	partial := profile.New(profile.Codeforces, "alice_cf")
	partial.Partial = true
	partial.Rating = profile.Int(1550)

	other := profile.New(profile.Codeforces, "bob_cf")
	other.Partial = true

	for _, p := range []*profile.PlatformProfile{full, partial} {
		svc, err := NewService(NewOrchestrator(WithFetcher(profile.Codeforces, returns(p, nil))), gw)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Aggregate(ctx, "u", map[string]string{"cf": "alice_cf"}); err != nil {
			t.Fatal(err)
		}
	}
	if partial.TotalSolved != 0 {
		t.Errorf("fetched profile modified: TotalSolved = %d", partial.TotalSolved)
	}

	svc, err := NewService(NewOrchestrator(), gw)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := svc.Stored(ctx, "u", "codeforces")
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	got := stored[0].Data
	if got.TotalSolved != 300 || *got.Rating != 1550 || len(got.ActivitySeries) != 1 || !got.Partial {
		t.Errorf("stored after partial fetch = %+v", got)
	}

	// A different handle replaces the record outright.
	svc, err = NewService(NewOrchestrator(WithFetcher(profile.Codeforces, returns(other, nil))), gw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Aggregate(ctx, "u", map[string]string{"cf": "bob_cf"}); err != nil {
		t.Fatal(err)
	}
	stored, err = svc.Stored(ctx, "u", "codeforces")
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
	if stored[0].Data.Username != "bob_cf" || stored[0].Data.TotalSolved != 0 {
		t.Errorf("stored after handle change = %+v", stored[0].Data)
	}
}

func TestActivityAndDisconnect(t *testing.T) {
	ctx := context.Background()
	gw := memStore(t)

	b := profile.New(profile.Codeforces, "alice_cf")
	b.ActivitySeries = []profile.ActivityDay{{Date: "2024-01-02", Count: 3}}
	orch := NewOrchestrator(
		WithFetcher(profile.LeetCode, returns(leetcodeAlice(), nil)),
		WithFetcher(profile.Codeforces, returns(b, nil)),
	)
	svc, err := NewService(orch, gw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Aggregate(ctx, "u", map[string]string{"leetcode": "alice", "codeforces": "alice_cf"}); err != nil {
		t.Fatal(err)
	}

	agg, err := svc.Activity(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{"2024-01-01": 2, "2024-01-02": 4}, agg.Counts()); diff != "" {
		t.Errorf("merged counts (-want +got):\n%s", diff)
	}
	if agg.TotalActiveDays != 2 || agg.CurrentStreak != 2 {
		t.Errorf("active days/streak = %d/%d", agg.TotalActiveDays, agg.CurrentStreak)
	}

	if err := svc.Disconnect(ctx, "u", "cf"); err != nil {
		t.Fatal(err)
	}
	agg, err = svc.Activity(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if agg.TotalSubmissions != 3 {
		t.Errorf("TotalSubmissions after disconnect = %d, want 3", agg.TotalSubmissions)
	}

	if _, err := svc.Aggregate(ctx, "", map[string]string{"leetcode": "alice"}); !errors.Is(err, store.ErrInvalidUser) {
		t.Errorf("empty user err = %v", err)
	}
}
