// Package code360 fetches Code360 (formerly CodeStudio) solve counts,
// contest rating and activity. Profiles are addressed by their public uuid.
package code360

import (
	"context"
	"encoding/json"
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

const (
	defaultSiteURL = "https://www.naukri.com/code360"
	defaultAPIURL  = "https://www.naukri.com/code360/api/v3/public_section/profile"
	cookieDomain   = ".naukri.com"
)

// Difficulty labels as the platform names them.
var difficulties = []string{"easy", "moderate", "hard", "ninja"}

type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.Code360 }
func (platformInfo) Slow() bool             { return true }

func (platformInfo) ProfileURL(username string) string {
	return defaultSiteURL + "/profile/" + url.PathEscape(username)
}

func init() { profile.RegisterWithFetcher(platformInfo{}, fetchProfile) }

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{
		WithBaseURL(cfg.Endpoint("code360", defaultSiteURL)),
		WithAPIURL(cfg.Endpoint("code360_api", defaultAPIURL)),
	}
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

// Client handles Code360 requests.
type Client struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	renderer   browser.Renderer
	logger     *slog.Logger
	cookies    map[string]string
	rules      extract.Rules
	baseURL    string
	apiURL     string
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
	apiURL    string
}

// WithHTTPCache sets the HTTP cache.
func WithHTTPCache(httpCache httpcache.Cacher) Option {
	return func(c *config) { c.cache = httpCache }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithBaseURL overrides the site root used for rendered profile pages.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithAPIURL overrides the public profile API root.
func WithAPIURL(u string) Option {
	return func(c *config) { c.apiURL = strings.TrimSuffix(u, "/") }
}

// WithRenderer enables the headless browser strategy.
func WithRenderer(r browser.Renderer) Option {
	return func(c *config) { c.renderer = r }
}

// WithCookies sets session cookies (nauk_at, nauk_sstd) for both strategies.
func WithCookies(cookies map[string]string) Option {
	return func(c *config) { c.cookies = cookies }
}

// WithFallbacks sets per-field values used when no selector matches or a
// match exceeds the field's limit. A "<field>.max" key replaces the limit.
func WithFallbacks(fallbacks map[string]int) Option {
	return func(c *config) { c.fallbacks = fallbacks }
}

// New creates a Code360 client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), baseURL: defaultSiteURL, apiURL: defaultAPIURL}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cache:      cfg.cache,
		renderer:   cfg.renderer,
		logger:     cfg.logger,
		cookies:    cfg.cookies,
		rules:      Rules.WithFallbacks(cfg.fallbacks),
		baseURL:    cfg.baseURL,
		apiURL:     cfg.apiURL,
	}, nil
}

// Rules locates the rendered profile's numeric fields.
var Rules = extract.Rules{
	{
		Name: "total_solved",
		Candidates: []extract.Candidate{
			{Selector: ".problems-solved .total-count"},
			{Selector: "[data-testid=total-problems]"},
			{Pattern: regexp.MustCompile(`(?i)total\s*problems?\s*(?:solved)?\s*:?\s*(\d[\d,]*)`)},
			{Pattern: regexp.MustCompile(`(?i)(\d[\d,]*)\s*problems?\s*solved`)},
		},
		Max:      20000,
		Required: true,
	},
	difficultyField("easy"),
	difficultyField("moderate"),
	difficultyField("hard"),
	difficultyField("ninja"),
	{
		Name: "rating",
		Candidates: []extract.Candidate{
			{Selector: ".contest-rating .value"},
			{Pattern: regexp.MustCompile(`(?i)contest\s*rating\s*:?\s*(\d{3,4})`)},
		},
		Max: 5000,
	},
	{
		Name: "contests",
		Candidates: []extract.Candidate{
			{Selector: ".contests-attended .value"},
			{Pattern: regexp.MustCompile(`(?i)(\d+)\s*contests?\s*attended`)},
		},
		Max: 100,
	},
}

func difficultyField(level string) extract.Field {
	return extract.Field{
		Name: level,
		Candidates: []extract.Candidate{
			{Selector: ".difficulty-" + level + " .count"},
			{Selector: ".difficulty-wise ." + level},
			{Pattern: regexp.MustCompile(`(?i)\b` + level + `\b\s*:?\s*(\d[\d,]*)`)},
		},
		Max: 20000,
	}
}

var waitSelectors = []string{".problems-solved", ".difficulty-wise", "[data-date]"}

// Fetch retrieves a Code360 profile: the rendered page when a browser is
// configured, then the public profile API.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching code360 profile", "username", username)

	var strategies []fallback.Strategy
	if c.renderer != nil {
		strategies = append(strategies, fallback.Strategy{Name: profile.StrategyBrowser, Run: c.fetchBrowser})
	}
	strategies = append(strategies, fallback.Strategy{Name: profile.StrategyAPI, Run: c.fetchAPI})
	return fallback.New(profile.Code360, c.logger, strategies...).Fetch(ctx, username)
}

func (c *Client) fetchBrowser(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	var cookies []browser.Cookie
	for name, value := range c.cookies {
		cookies = append(cookies, browser.Cookie{Name: name, Value: value, Domain: cookieDomain})
	}
	html, err := c.renderer.Render(ctx, browser.Request{
		URL:          c.baseURL + "/profile/" + url.PathEscape(username),
		WaitFor:      waitSelectors,
		Cookies:      cookies,
		WaitTimeout:  25 * time.Second,
		ScrollSteps:  4,
		Settle:       1500 * time.Millisecond,
		SnapshotName: "code360-" + username,
	})
	if err != nil {
		return nil, err
	}

	doc, err := htmlutil.Parse([]byte(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", profile.ErrParse, err)
	}
	if htmlutil.IsNotFound(htmlutil.Title(doc)) || htmlutil.IsNotFound(doc.Find("h1, h2").First().Text()) {
		return nil, fmt.Errorf("%w: code360 user %q", profile.ErrProfileNotFound, username)
	}

	res, err := extract.Run(doc, c.rules)
	if err != nil {
		return nil, err
	}
	if d := res.Defaulted(); len(d) > 0 {
		c.logger.DebugContext(ctx, "code360 fields defaulted", "username", username, "fields", d)
	}

	p := profile.New(profile.Code360, username)
	p.TotalSolved, _ = res.Int("total_solved")
	for _, level := range difficulties {
		if n, ok := res.Int(level); ok && n > 0 {
			p.ProblemsByDifficulty[level] = n
		}
	}
	p.Rating = res.Ptr("rating")
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

type apiEnvelope[T any] struct {
	Data  *T `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type userDetails struct {
	DSADomainData struct {
		ProblemCountData struct {
			DifficultyData []struct {
				Level string           `json:"level"`
				Count normalize.Number `json:"count"`
			} `json:"difficulty_data"`
			TotalCount normalize.Number `json:"total_count"`
		} `json:"problem_count_data"`
		ContestData *struct {
			Rating        normalize.Number `json:"rating"`
			MaxRating     normalize.Number `json:"max_rating"`
			Rank          normalize.Number `json:"rank"`
			AttendedCount normalize.Number `json:"attended_count"`
		} `json:"contest_data"`
	} `json:"dsa_domain_data"`
	Name string `json:"name"`
}

type contributions struct {
	Contributions []struct {
		Date  string           `json:"date"`
		Count normalize.Number `json:"count"`
	} `json:"contributions"`
}

func (c *Client) getAPI(ctx context.Context, path, username string, out any) error {
	q := url.Values{"uuid": {username}, "request_differentiator": {"codeprofile"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+path+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Accept", "application/json")
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %w", profile.ErrParse, path, err)
	}
	return nil
}

func (c *Client) fetchAPI(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	var details apiEnvelope[userDetails]
	if err := c.getAPI(ctx, "user_details", username, &details); err != nil {
		return nil, err
	}
	if details.Data == nil {
		if details.Error != nil && (details.Error.Code == http.StatusNotFound || htmlutil.IsNotFound(details.Error.Message)) {
			return nil, fmt.Errorf("%w: code360 user %q", profile.ErrProfileNotFound, username)
		}
		return nil, fmt.Errorf("%w: user_details: empty data", profile.ErrParse)
	}

	p := profile.New(profile.Code360, username)
	counts := details.Data.DSADomainData.ProblemCountData
	p.TotalSolved = counts.TotalCount.Int()
	for _, d := range counts.DifficultyData {
		if level := strings.ToLower(strings.TrimSpace(d.Level)); level != "" && d.Count > 0 {
			p.ProblemsByDifficulty[level] += d.Count.Int()
		}
	}
	if cd := details.Data.DSADomainData.ContestData; cd != nil {
		if cd.Rating > 0 {
			p.Rating = profile.Int(cd.Rating.Int())
		}
		if cd.MaxRating > 0 {
			p.MaxRating = profile.Int(cd.MaxRating.Int())
		}
		if cd.Rank > 0 {
			p.GlobalRank = profile.Int(cd.Rank.Int())
		}
		p.ContestsAttended = profile.Int(cd.AttendedCount.Int())
	}

	var contrib apiEnvelope[contributions]
	if err := c.getAPI(ctx, "contributions", username, &contrib); err != nil || contrib.Data == nil {
		c.logger.WarnContext(ctx, "code360 contributions failed", "username", username, "error", err)
		p.Partial = true
		return p, nil
	}
	days := make(map[string]int, len(contrib.Data.Contributions))
	for _, d := range contrib.Data.Contributions {
		if date := normalize.ParseDate(d.Date); date != "" {
			days[date] += d.Count.Int()
		}
	}
	p.ActivitySeries = normalize.SeriesFromDates(days)
	return p, nil
}
