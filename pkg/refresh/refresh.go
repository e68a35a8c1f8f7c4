// Package refresh periodically re-aggregates the profiles of a roster of users.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/codeGROOVE-dev/codeprofile/pkg/aggregate"
)

// Entry is one roster line: a user and their platform handles.
type Entry struct {
	Handles map[string]string `json:"handles"`
	UserID  string            `json:"user_id"`
}

// RosterFunc returns the current roster. It is called on every run so edits
// take effect without a restart.
type RosterFunc func() ([]Entry, error)

// ParseRoster decodes a JSON roster: [{"user_id": "...", "handles": {...}}].
func ParseRoster(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.UserID) == "" {
			return nil, fmt.Errorf("roster entry %d: missing user_id", i)
		}
	}
	return entries, nil
}

// FileRoster reads the roster from path on every call.
func FileRoster(path string) RosterFunc {
	return func() ([]Entry, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		return ParseRoster(data)
	}
}

// Aggregator is the part of aggregate.Service a refresher drives.
type Aggregator interface {
	Aggregate(ctx context.Context, userID string, handles map[string]string) (*aggregate.Result, error)
}

// Summary totals one pass over the roster.
type Summary struct {
	Users  int `json:"users"`
	Saved  int `json:"saved"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// Refresher runs the roster through an Aggregator on a fixed interval.
type Refresher struct {
	agg    Aggregator
	roster RosterFunc
	logger *slog.Logger
	sched  gocron.Scheduler
	onRun  func(Summary)
	every  time.Duration
	mu     sync.Mutex
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) { r.logger = logger }
}

// OnRun registers a callback invoked after every completed pass.
func OnRun(fn func(Summary)) Option {
	return func(r *Refresher) { r.onRun = fn }
}

// New creates a Refresher that runs every interval.
func New(agg Aggregator, roster RosterFunc, every time.Duration, opts ...Option) (*Refresher, error) {
	if agg == nil || roster == nil {
		return nil, errors.New("refresh: aggregator and roster are required")
	}
	if every <= 0 {
		return nil, fmt.Errorf("refresh: interval must be positive, got %v", every)
	}
	r := &Refresher{agg: agg, roster: roster, every: every, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce aggregates every roster entry in turn. A failing user does not
// stop the pass; only a roster that cannot be read is an error.
func (r *Refresher) RunOnce(ctx context.Context) (Summary, error) {
	entries, err := r.roster()
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, e := range entries {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Users++
		res, err := r.agg.Aggregate(ctx, e.UserID, e.Handles)
		if err != nil {
			sum.Errors++
			r.logger.WarnContext(ctx, "refresh failed", "user_id", e.UserID, "error", err)
			continue
		}
		sum.Saved += res.SavedCount
		sum.Failed += res.FailedCount
		sum.Errors += len(res.PersistErrors)
	}

	r.logger.InfoContext(ctx, "refresh pass complete",
		"users", sum.Users, "saved", sum.Saved, "failed", sum.Failed, "errors", sum.Errors)
	if r.onRun != nil {
		r.onRun(sum)
	}
	return sum, nil
}

// Start schedules RunOnce immediately and then every interval. Runs never
// overlap; a pass still in progress delays the next one. ctx bounds every run.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched != nil {
		return errors.New("refresh: already started")
	}

	sched, err := gocron.NewScheduler(gocron.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(r.every),
		gocron.NewTask(func() {
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "refresh pass aborted", "error", err)
			}
		}),
		gocron.WithName("refresh-roster"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		sched.Shutdown() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("schedule refresh: %w", err)
	}

	sched.Start()
	r.sched = sched
	r.logger.InfoContext(ctx, "refresh scheduled", "every", r.every.String())
	return nil
}

// Stop shuts the scheduler down, waiting for a running pass to finish.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched == nil {
		return nil
	}
	err := r.sched.Shutdown()
	r.sched = nil
	return err
}
