// Package hackerearth fetches HackerEarth ratings, solve counts and activity.
// The profile page is mostly client-rendered, so a headless browser backs up
// the plain HTTP scrape.
package hackerearth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/browser"
	"github.com/codeGROOVE-dev/codeprofile/pkg/extract"
	"github.com/codeGROOVE-dev/codeprofile/pkg/fallback"
	"github.com/codeGROOVE-dev/codeprofile/pkg/htmlutil"
	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const defaultBaseURL = "https://www.hackerearth.com"

type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.HackerEarth }
func (platformInfo) Slow() bool             { return true }

func (platformInfo) ProfileURL(username string) string {
	return defaultBaseURL + "/@" + url.PathEscape(username)
}

func init() { profile.RegisterWithFetcher(platformInfo{}, fetchProfile) }

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{WithBaseURL(cfg.Endpoint("hackerearth", defaultBaseURL))}
	if cfg != nil {
		if cfg.Logger != nil {
			opts = append(opts, WithLogger(cfg.Logger))
		}
		if c, ok := cfg.Cache.(httpcache.Cacher); ok {
			opts = append(opts, WithHTTPCache(c))
		}
		if len(cfg.Fallbacks) > 0 {
			opts = append(opts, WithFallbacks(cfg.Fallbacks))
		}
		if r, ok := cfg.Renderer.(browser.Renderer); ok {
			opts = append(opts, WithRenderer(r))
		}
		if len(cfg.Cookies) > 0 {
			opts = append(opts, WithCookies(cfg.Cookies))
		}
	}
	client, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client.Fetch(ctx, username)
}

// Client handles HackerEarth requests.
type Client struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	renderer   browser.Renderer
	logger     *slog.Logger
	cookies    map[string]string
	rules      extract.Rules
	baseURL    string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	cache     httpcache.Cacher
	renderer  browser.Renderer
	logger    *slog.Logger
	cookies   map[string]string
	fallbacks map[string]int
	baseURL   string
}

// WithHTTPCache sets the HTTP cache.
func WithHTTPCache(httpCache httpcache.Cacher) Option {
	return func(c *config) { c.cache = httpCache }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithBaseURL overrides the site root.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithRenderer enables the headless browser strategy.
func WithRenderer(r browser.Renderer) Option {
	return func(c *config) { c.renderer = r }
}

// WithCookies sets session cookies passed to the browser.
func WithCookies(cookies map[string]string) Option {
	return func(c *config) { c.cookies = cookies }
}

// WithFallbacks sets per-field values used when no selector matches or a
// match exceeds the field's limit. A "<field>.max" key replaces the limit.
func WithFallbacks(fallbacks map[string]int) Option {
	return func(c *config) { c.fallbacks = fallbacks }
}

// New creates a HackerEarth client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cfg.cache,
		renderer:   cfg.renderer,
		logger:     cfg.logger,
		cookies:    cfg.cookies,
		rules:      Rules.WithFallbacks(cfg.fallbacks),
		baseURL:    cfg.baseURL,
	}, nil
}

// Rules locates the numeric profile fields. total_solved is required so an
// unrendered shell page fails over to the browser.
var Rules = extract.Rules{
	{
		Name: "total_solved",
		Candidates: []extract.Candidate{
			{Selector: ".problems-solved .value"},
			{Selector: "[data-metric=problems-solved]"},
			{Pattern: regexp.MustCompile(`(?i)(\d[\d,]*)\s*problems?\s*solved`)},
			{Pattern: regexp.MustCompile(`(?i)problems?\s*solved\s*:?\s*(\d[\d,]*)`)},
		},
		Max:      20000,
		Required: true,
	},
	{
		Name: "rating",
		Candidates: []extract.Candidate{
			{Selector: ".rating-value"},
			{Selector: ".track-rating .rating"},
			{Pattern: regexp.MustCompile(`(?i)\brating\s*:?\s*(\d{3,4})\b`)},
		},
		Max: 5000,
	},
	{
		Name: "max_rating",
		Candidates: []extract.Candidate{
			{Pattern: regexp.MustCompile(`(?i)(?:highest|max(?:imum)?)\s*rating\s*:?\s*(\d{3,4})`)},
		},
		Max: 5000,
	},
	{
		Name: "global_rank",
		Candidates: []extract.Candidate{
			{Selector: ".global-rank .value"},
			{Pattern: regexp.MustCompile(`(?i)global\s*rank\s*:?\s*#?(\d[\d,]*)`)},
		},
	},
	{
		Name: "contests",
		Candidates: []extract.Candidate{
			{Selector: ".contests-participated .value"},
			{Pattern: regexp.MustCompile(`(?i)(\d+)\s*contests?\s*participated`)},
		},
		Max: 100,
	},
}

// waitSelectors signal the client-rendered stats have loaded.
var waitSelectors = []string{".problems-solved", ".rating-value", "[data-date]"}

// Fetch retrieves a HackerEarth profile: the server-rendered HTML first,
// then the headless browser when one is configured.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching hackerearth profile", "username", username)

	strategies := []fallback.Strategy{{Name: profile.StrategyHTML, Run: c.fetchHTML}}
	if c.renderer != nil {
		strategies = append(strategies, fallback.Strategy{Name: profile.StrategyBrowser, Run: c.fetchBrowser})
	}
	return fallback.New(profile.HackerEarth, c.logger, strategies...).Fetch(ctx, username)
}

func (c *Client) profileURL(username string) string {
	return c.baseURL + "/@" + url.PathEscape(username)
}

func (c *Client) fetchHTML(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL(username), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
	if err != nil {
		return nil, err
	}
	return c.parse(ctx, string(body), username)
}

func (c *Client) fetchBrowser(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	var cookies []browser.Cookie
	for name, value := range c.cookies {
		cookies = append(cookies, browser.Cookie{Name: name, Value: value, Domain: ".hackerearth.com"})
	}
	html, err := c.renderer.Render(ctx, browser.Request{
		URL:          c.profileURL(username),
		WaitFor:      waitSelectors,
		Cookies:      cookies,
		WaitTimeout:  20 * time.Second,
		ScrollSteps:  3,
		Settle:       time.Second,
		SnapshotName: "hackerearth-" + username,
	})
	if err != nil {
		return nil, err
	}
	return c.parse(ctx, html, username)
}

func (c *Client) parse(ctx context.Context, content, username string) (*profile.PlatformProfile, error) {
	doc, err := htmlutil.Parse([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", profile.ErrParse, err)
	}
	if htmlutil.IsNotFound(htmlutil.Title(doc)) || htmlutil.IsNotFound(doc.Find("h1").First().Text()) {
		return nil, fmt.Errorf("%w: hackerearth user %q", profile.ErrProfileNotFound, username)
	}

	res, err := extract.Run(doc, c.rules)
	if err != nil {
		return nil, err
	}
	if d := res.Defaulted(); len(d) > 0 {
		c.logger.DebugContext(ctx, "hackerearth fields defaulted", "username", username, "fields", d)
	}

	p := profile.New(profile.HackerEarth, username)
	p.TotalSolved, _ = res.Int("total_solved")
	p.Rating = res.Ptr("rating")
	p.MaxRating = res.Ptr("max_rating")
	p.GlobalRank = res.Ptr("global_rank")
	p.ContestsAttended = res.Ptr("contests")

	counts := make(map[string]int)
	for date, n := range extract.Calendar(doc, "[data-date][data-count]", "data-date", "data-count") {
		if d := normalize.ParseDate(date); d != "" {
			counts[d] += n
		}
	}
	p.ActivitySeries = normalize.SeriesFromDates(counts)
	return p, nil
}
