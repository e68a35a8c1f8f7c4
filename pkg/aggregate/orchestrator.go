// Package aggregate fans out profile fetches across platforms, bounds each
// one with its own timeout, and persists the successful results.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// Default per-platform timeouts.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultSlowTimeout = 60 * time.Second
)

// ErrInvalidHandles is returned for a nil handle map or one naming the same
// platform twice.
var ErrInvalidHandles = errors.New("invalid handle map")

// Outcome is the settled result of one (platform, username) fetch. Exactly
// one of Profile and Err is set.
type Outcome struct {
	Profile  *profile.PlatformProfile `json:"profile,omitempty"`
	Err      *profile.FetchError      `json:"error,omitempty"`
	Platform profile.Platform         `json:"platform"`
	Username string                   `json:"username"`
	Elapsed  time.Duration            `json:"elapsed_ns"`
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool { return o.Err == nil && o.Profile != nil }

// Batch is the joined result of FetchAll.
type Batch struct {
	Outcomes  []Outcome `json:"outcomes"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// Successes returns the fetched profiles in outcome order.
func (b *Batch) Successes() []*profile.PlatformProfile {
	var out []*profile.PlatformProfile
	for _, o := range b.Outcomes {
		if o.OK() {
			out = append(out, o.Profile)
		}
	}
	return out
}

// Failures returns the fetch errors in outcome order.
func (b *Batch) Failures() []*profile.FetchError {
	var out []*profile.FetchError
	for _, o := range b.Outcomes {
		if !o.OK() {
			out = append(out, o.Err)
		}
	}
	return out
}

// Get returns the outcome for platform.
func (b *Batch) Get(platform profile.Platform) (Outcome, bool) {
	for _, o := range b.Outcomes {
		if o.Platform == platform {
			return o, true
		}
	}
	return Outcome{}, false
}

// ConfigFunc returns the fetcher configuration for one platform.
type ConfigFunc func(profile.Platform) *profile.FetcherConfig

// Orchestrator runs one fetch per platform handle concurrently.
type Orchestrator struct {
	fetchers    map[profile.Platform]profile.Fetcher
	timeouts    map[profile.Platform]time.Duration
	configFor   ConfigFunc
	logger      *slog.Logger
	now         func() time.Time
	timeout     time.Duration
	slowTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTimeout sets the timeout for platforms not registered as slow.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithSlowTimeout sets the timeout for platforms registered as slow.
func WithSlowTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.slowTimeout = d }
}

// WithPlatformTimeout overrides the timeout of one platform.
func WithPlatformTimeout(platform profile.Platform, d time.Duration) Option {
	return func(o *Orchestrator) { o.timeouts[platform] = d }
}

// WithFetcher replaces the registered fetcher of one platform.
func WithFetcher(platform profile.Platform, f profile.Fetcher) Option {
	return func(o *Orchestrator) { o.fetchers[platform] = f }
}

// WithConfig sets the per-platform configuration passed to registered fetchers.
func WithConfig(fn ConfigFunc) Option {
	return func(o *Orchestrator) { o.configFor = fn }
}

// WithClock overrides the time source used to stamp profiles.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator over the platform registry.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetchers:    make(map[profile.Platform]profile.Fetcher),
		timeouts:    make(map[profile.Platform]time.Duration),
		configFor:   func(profile.Platform) *profile.FetcherConfig { return &profile.FetcherConfig{} },
		logger:      slog.Default(),
		now:         time.Now,
		timeout:     DefaultTimeout,
		slowTimeout: DefaultSlowTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TimeoutFor returns the timeout applied to platform.
func (o *Orchestrator) TimeoutFor(platform profile.Platform) time.Duration {
	if d, ok := o.timeouts[platform]; ok && d > 0 {
		return d
	}
	if profile.IsSlow(platform) {
		return o.slowTimeout
	}
	return o.timeout
}

func (o *Orchestrator) fetcher(platform profile.Platform) profile.Fetcher {
	if f, ok := o.fetchers[platform]; ok {
		return f
	}
	fetch := profile.LookupFetcher(platform)
	if fetch == nil {
		return nil
	}
	cfg := o.configFor(platform)
	if cfg != nil && cfg.Logger == nil {
		cfg.Logger = o.logger
	}
	return profile.FetcherFunc(func(ctx context.Context, username string) (*profile.PlatformProfile, error) {
		return fetch(ctx, username, cfg)
	})
}

type job struct {
	platform profile.Platform
	username string
	err      error
}

// plan canonicalizes the handle map into jobs ordered by platform.
func plan(handles map[string]string) ([]job, error) {
	if handles == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidHandles)
	}
	seen := make(map[profile.Platform]string, len(handles))
	jobs := make([]job, 0, len(handles))
	for key, username := range handles {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}
		name, err := profile.Canonical(key)
		if err != nil {
			name = profile.Platform(strings.ToLower(strings.TrimSpace(key)))
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q and %q both name %s", ErrInvalidHandles, prev, key, name)
		}
		seen[name] = key
		jobs = append(jobs, job{platform: name, username: username, err: err})
	}
	slices.SortFunc(jobs, func(a, b job) int { return strings.Compare(string(a.platform), string(b.platform)) })
	return jobs, nil
}

// FetchAll fetches every (platform, username) pair in handles concurrently
// and returns one outcome per pair with a non-empty username. It fails only
// for a malformed handle map; individual platform failures are outcomes.
func (o *Orchestrator) FetchAll(ctx context.Context, handles map[string]string) (*Batch, error) {
	jobs, err := plan(handles)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			outcomes[i] = o.run(ctx, j)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // failures are carried in outcomes

	batch := &Batch{Outcomes: outcomes}
	for _, out := range outcomes {
		if out.OK() {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	o.logger.InfoContext(ctx, "fetched profiles", "requested", len(jobs), "succeeded", batch.Succeeded, "failed", batch.Failed)
	return batch, nil
}

type fetchResult struct {
	p   *profile.PlatformProfile
	err error
}

// run races one fetch against its platform timeout.
func (o *Orchestrator) run(ctx context.Context, j job) (out Outcome) {
	out = Outcome{Platform: j.platform, Username: j.username}
	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	fail := func(err error) Outcome {
		out.Err = profile.NewFetchError(j.platform, j.username, err)
		o.logger.WarnContext(ctx, "platform fetch failed",
			"platform", j.platform, "username", j.username, "error", out.Err.Cause)
		return out
	}

	if j.err != nil {
		return fail(j.err)
	}
	f := o.fetcher(j.platform)
	if f == nil {
		return fail(fmt.Errorf("%w: %s has no adapter", profile.ErrUnsupportedPlatform, j.platform))
	}

	timeout := o.TimeoutFor(j.platform)
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("%w: %s adapter panic: %v", profile.ErrParse, j.platform, r)}
			}
		}()
		p, err := f.Fetch(fetchCtx, j.username)
		done <- fetchResult{p: p, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(fmt.Errorf("%w: %s exceeded %s", profile.ErrTimeout, j.platform, timeout))
	}

	if res.err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(fmt.Errorf("%w: %s exceeded %s: %w", profile.ErrTimeout, j.platform, timeout, res.err))
		}
		return fail(res.err)
	}
	if res.p == nil {
		return fail(fmt.Errorf("%w: %s adapter returned no profile", profile.ErrParse, j.platform))
	}

	if res.p.Platform == "" {
		res.p.Platform = j.platform
	}
	if res.p.Username == "" {
		res.p.Username = j.username
	}
	out.Profile = normalize.Finalize(res.p, o.now())
	o.logger.DebugContext(ctx, "platform fetch succeeded",
		"platform", j.platform, "username", j.username, "strategy", res.p.Strategy, "partial", res.p.Partial)
	return out
}
