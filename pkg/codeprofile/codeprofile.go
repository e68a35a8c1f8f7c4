// Package codeprofile aggregates competitive-programming profiles from
// LeetCode, Codeforces, CodeChef, HackerRank, HackerEarth, Code360 and
// GeeksforGeeks, stores them per user, and derives activity statistics.
//
// Basic usage:
//
//	client, err := codeprofile.New(ctx, codeprofile.WithConfig(config.Load()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//	res, err := client.Aggregate(ctx, "user-42", map[string]string{
//	    "leetcode":   "alice",
//	    "codeforces": "alice_cf",
//	})
//
// Or use platform packages directly:
//
//	import "github.com/codeGROOVE-dev/codeprofile/pkg/codeforces"
//	client, _ := codeforces.New(ctx)
//	p, _ := client.Fetch(ctx, "tourist")
package codeprofile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/codeGROOVE-dev/codeprofile/pkg/activity"
	"github.com/codeGROOVE-dev/codeprofile/pkg/aggregate"
	"github.com/codeGROOVE-dev/codeprofile/pkg/auth"
	"github.com/codeGROOVE-dev/codeprofile/pkg/browser"
	"github.com/codeGROOVE-dev/codeprofile/pkg/config"
	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
	"github.com/codeGROOVE-dev/codeprofile/pkg/store"

	// Platform adapters register themselves.
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/code360"
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/codechef"
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/codeforces"
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/geeksforgeeks"
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/hackerearth"
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/hackerrank"
	_ "github.com/codeGROOVE-dev/codeprofile/pkg/leetcode"
)

type (
	// Profile re-exports profile.PlatformProfile for convenience.
	Profile = profile.PlatformProfile
	// Result re-exports aggregate.Result for convenience.
	Result = aggregate.Result
)

// Re-export common errors.
var (
	ErrProfileNotFound     = profile.ErrProfileNotFound
	ErrUnsupportedPlatform = profile.ErrUnsupportedPlatform
	ErrTimeout             = profile.ErrTimeout
	ErrNotPersistable      = store.ErrNotPersistable
)

// Option configures a Client.
type Option func(*options)

//nolint:govet // fieldalignment: intentional layout for readability
type options struct {
	cfg            config.Config
	cfgSet         bool
	logger         *slog.Logger
	cache          httpcache.Cacher
	renderer       browser.Renderer
	noBrowser      bool
	gateway        store.Gateway
	cookies        map[profile.Platform]map[string]string
	browserCookies bool
	fetchers       map[profile.Platform]profile.Fetcher
}

// WithConfig sets the runtime configuration. Without it the environment is read.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg, o.cfgSet = cfg, true }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPCache sets the HTTP cache shared by every adapter.
func WithHTTPCache(c httpcache.Cacher) Option {
	return func(o *options) { o.cache = c }
}

// WithRenderer sets the headless browser used by slow platforms.
func WithRenderer(r browser.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithoutBrowser disables the headless browser strategy.
func WithoutBrowser() Option {
	return func(o *options) { o.noBrowser = true }
}

// WithStore sets the persistence gateway. The Client closes it on Close.
func WithStore(gw store.Gateway) Option {
	return func(o *options) { o.gateway = gw }
}

// WithCookies sets explicit cookies for one platform.
func WithCookies(platform profile.Platform, cookies map[string]string) Option {
	return func(o *options) { o.cookies[platform] = cookies }
}

// WithBrowserCookies enables reading cookies from local browser stores.
func WithBrowserCookies() Option {
	return func(o *options) { o.browserCookies = true }
}

// WithFetcher replaces the adapter of one platform.
func WithFetcher(platform profile.Platform, f profile.Fetcher) Option {
	return func(o *options) { o.fetchers[platform] = f }
}

// Client is the aggregation entry point.
type Client struct {
	service *aggregate.Service
	gateway store.Gateway
	logger  *slog.Logger
	closers []func() error
}

// New wires the cache, browser, cookie sources, store and orchestrator.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := &options{
		logger:   slog.Default(),
		cookies:  make(map[profile.Platform]map[string]string),
		fetchers: make(map[profile.Platform]profile.Fetcher),
	}
	for _, opt := range opts {
		opt(o)
	}
	if !o.cfgSet {
		o.cfg = config.FromEnv()
	}

	c := &Client{logger: o.logger}

	if o.cache == nil {
		cache, err := newCache(o.cfg)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to initialize cache, continuing without cache", "error", err)
			cache = httpcache.NewNull()
		}
		c.closers = append(c.closers, cache.Close)
		o.cache = cache
	}

	if o.renderer == nil && !o.noBrowser {
		r, err := newRenderer(ctx, o.cfg, o.logger)
		if err != nil {
			return nil, err
		}
		o.renderer = r
	}

	if o.gateway == nil {
		gw, err := store.Open(ctx, o.cfg.DBDriver, o.cfg.DBDSN, store.WithLogger(o.logger))
		if err != nil {
			c.Close() //nolint:errcheck,gosec // already failing
			return nil, fmt.Errorf("open store: %w", err)
		}
		o.gateway = gw
	}
	c.gateway = o.gateway

	cookies, err := resolveCookies(ctx, o)
	if err != nil {
		c.Close() //nolint:errcheck,gosec // already failing
		return nil, err
	}

	orchOpts := []aggregate.Option{
		aggregate.WithLogger(o.logger),
		aggregate.WithTimeout(o.cfg.Timeout),
		aggregate.WithSlowTimeout(o.cfg.SlowTimeout),
		aggregate.WithConfig(func(p profile.Platform) *profile.FetcherConfig {
			fc := o.cfg.FetcherConfig(p)
			fc.Cache = o.cache
			fc.Logger = o.logger
			fc.Cookies = cookies[p]
			if o.renderer != nil {
				fc.Renderer = o.renderer
			}
			return fc
		}),
	}
	for p, f := range o.fetchers {
		orchOpts = append(orchOpts, aggregate.WithFetcher(p, f))
	}

	svc, err := aggregate.NewService(aggregate.NewOrchestrator(orchOpts...), o.gateway, aggregate.WithServiceLogger(o.logger))
	if err != nil {
		c.Close() //nolint:errcheck,gosec // already failing
		return nil, err
	}
	c.service = svc
	return c, nil
}

func newCache(cfg config.Config) (*httpcache.Cache, error) {
	if cfg.CacheTTL <= 0 {
		return httpcache.NewNull(), nil
	}
	if cfg.CacheDir != "" {
		return httpcache.NewWithPath(cfg.CacheTTL, cfg.CacheDir)
	}
	return httpcache.New(cfg.CacheTTL)
}

func newRenderer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*browser.Session, error) {
	opts := []browser.Option{
		browser.WithLogger(logger),
		browser.WithBin(cfg.BrowserBin),
		browser.WithHeadless(cfg.Headless),
	}
	if cfg.Debug {
		sink, err := snapshotSink(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, browser.WithSnapshots(sink))
	}
	return browser.New(opts...), nil
}

func snapshotSink(ctx context.Context, cfg config.Config) (browser.SnapshotSink, error) {
	if cfg.SnapshotBucket == "" {
		return browser.NewDirSink(cfg.SnapshotDir), nil
	}
	sink, err := browser.NewS3Sink(ctx, browser.S3Config{
		Bucket:   cfg.SnapshotBucket,
		Prefix:   "snapshots/",
		Endpoint: cfg.SnapshotEndpoint,
		Region:   cfg.SnapshotRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot sink: %w", err)
	}
	return sink, nil
}

// resolveCookies picks each platform's cookies from explicit options, the
// environment, then browser stores when enabled.
func resolveCookies(ctx context.Context, o *options) (map[profile.Platform]map[string]string, error) {
	out := make(map[profile.Platform]map[string]string)
	for _, p := range profile.All() {
		if auth.Domain(p) == "" {
			continue
		}
		sources := []auth.Source{auth.NewStaticSource(o.cookies[p]), auth.EnvSource{}}
		if o.browserCookies {
			sources = append(sources, auth.NewBrowserSource(o.logger))
		}
		cookies, err := auth.ChainSources(ctx, p, sources...)
		if err != nil {
			return nil, fmt.Errorf("cookies for %s: %w", p, err)
		}
		if len(cookies) > 0 {
			out[p] = maps.Clone(cookies)
			o.logger.DebugContext(ctx, "using cookies", "platform", p, "count", len(cookies))
		}
	}
	return out, nil
}

// Aggregate fetches every handle and stores the successful profiles for userID.
func (c *Client) Aggregate(ctx context.Context, userID string, handles map[string]string) (*Result, error) {
	return c.service.Aggregate(ctx, userID, handles)
}

// Disconnect removes the stored profile of one platform.
func (c *Client) Disconnect(ctx context.Context, userID, platform string) error {
	return c.service.Disconnect(ctx, userID, platform)
}

// Stored returns the user's persisted records.
func (c *Client) Stored(ctx context.Context, userID string, platforms ...string) ([]store.Record, error) {
	return c.service.Stored(ctx, userID, platforms...)
}

// Activity merges the activity of the user's stored profiles.
func (c *Client) Activity(ctx context.Context, userID string) (activity.Aggregated, error) {
	return c.service.Activity(ctx, userID)
}

// Heatmap returns the user's daily activity with display levels.
func (c *Client) Heatmap(ctx context.Context, userID string) ([]activity.Cell, error) {
	agg, err := c.Activity(ctx, userID)
	if err != nil {
		return nil, err
	}
	return activity.Heatmap(agg), nil
}

// Service exposes the underlying aggregation service, e.g. for refresh.New.
func (c *Client) Service() *aggregate.Service { return c.service }

// Close releases the store and the cache.
func (c *Client) Close() error {
	var errs []error
	if c.gateway != nil {
		errs = append(errs, c.gateway.Close())
	}
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
