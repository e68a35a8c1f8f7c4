// Package codechef fetches CodeChef ratings, ranks, contest history and
// daily activity from the public profile page.
package codechef

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeGROOVE-dev/codeprofile/pkg/extract"
	"github.com/codeGROOVE-dev/codeprofile/pkg/htmlutil"
	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const defaultBaseURL = "https://www.codechef.com"

type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.CodeChef }
func (platformInfo) Slow() bool             { return false }

func (platformInfo) ProfileURL(username string) string {
	return defaultBaseURL + "/users/" + url.PathEscape(username)
}

func init() { profile.RegisterWithFetcher(platformInfo{}, fetchProfile) }

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{WithBaseURL(cfg.Endpoint("codechef", defaultBaseURL))}
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
	}
	client, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client.Fetch(ctx, username)
}

// Client handles CodeChef requests.
type Client struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	logger     *slog.Logger
	rules      extract.Rules
	baseURL    string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	cache     httpcache.Cacher
	logger    *slog.Logger
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

// WithFallbacks sets per-field values used when no selector matches or a
// match exceeds the field's limit. A "<field>.max" key replaces the limit.
func WithFallbacks(fallbacks map[string]int) Option {
	return func(c *config) { c.fallbacks = fallbacks }
}

// New creates a CodeChef client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cfg.cache,
		logger:     cfg.logger,
		rules:      Rules.WithFallbacks(cfg.fallbacks),
		baseURL:    cfg.baseURL,
	}, nil
}

// Rules locates the numeric profile fields. Candidates are ordered from the
// current markup to older layouts and whole-page text patterns.
var Rules = extract.Rules{
	{
		Name: "rating",
		Candidates: []extract.Candidate{
			{Selector: ".rating-number"},
			{Pattern: regexp.MustCompile(`Rating:?\s*(\d{3,4})`)},
		},
		Max: 5000,
	},
	{
		Name: "max_rating",
		Candidates: []extract.Candidate{
			{Selector: ".rating-header small", Pattern: regexp.MustCompile(`Highest Rating\s*(\d+)`)},
			{Pattern: regexp.MustCompile(`Highest Rating\s*(\d+)`)},
		},
		Max: 5000,
	},
	{
		Name: "global_rank",
		Candidates: []extract.Candidate{
			{Selector: ".rating-ranks ul li:nth-child(1) strong"},
			{Pattern: regexp.MustCompile(`(?s)Global Rank.{0,80}?(\d[\d,]*)`)},
		},
	},
	{
		Name: "country_rank",
		Candidates: []extract.Candidate{
			{Selector: ".rating-ranks ul li:nth-child(2) strong"},
			{Pattern: regexp.MustCompile(`(?s)Country Rank.{0,80}?(\d[\d,]*)`)},
		},
	},
	{
		Name: "total_solved",
		Candidates: []extract.Candidate{
			{Selector: ".problems-solved h3", Pattern: regexp.MustCompile(`Total Problems Solved:\s*(\d+)`)},
			{Pattern: regexp.MustCompile(`Total Problems Solved:\s*(\d+)`)},
			{Pattern: regexp.MustCompile(`Fully Solved\s*\((\d+)\)`)},
		},
		Max: 10000,
	},
	{
		Name: "contests",
		Candidates: []extract.Candidate{
			{Selector: ".contest-participated-count b"},
			{Pattern: regexp.MustCompile(`Contests Participated:\s*(\d+)`)},
		},
		Max: 1000,
	},
}

var starsPattern = regexp.MustCompile(`(\d)\s*★`)

// ratingEntry is one element of the embedded all_rating array.
type ratingEntry struct {
	Name    string           `json:"name"`
	Code    string           `json:"code"`
	EndDate string           `json:"end_date"`
	Rating  normalize.Number `json:"rating"`
	Rank    normalize.Number `json:"rank"`
}

// dailyStat is one element of the embedded userDailySubmissionsStats array.
type dailyStat struct {
	Date  string           `json:"date"`
	Value normalize.Number `json:"value"`
}

// Fetch retrieves a CodeChef profile.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching codechef profile", "username", username)

	profileURL := c.baseURL + "/users/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", c.baseURL+"/")

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
	if err != nil {
		return nil, err
	}

	p, err := c.parseProfile(ctx, string(body), username)
	if err != nil {
		return nil, err
	}
	p.ProfileURL = profileURL
	return p, nil
}

func (c *Client) parseProfile(ctx context.Context, content, username string) (*profile.PlatformProfile, error) {
	doc, err := htmlutil.Parse([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", profile.ErrParse, err)
	}
	// Unknown users are redirected to a generic page without a rating block.
	if htmlutil.IsNotFound(htmlutil.Title(doc)) || doc.Find(".user-details-container, .rating-header").Length() == 0 {
		return nil, fmt.Errorf("%w: codechef user %q", profile.ErrProfileNotFound, username)
	}

	res, err := extract.Run(doc, c.rules)
	if err != nil {
		return nil, err
	}
	if d := res.Defaulted(); len(d) > 0 {
		c.logger.DebugContext(ctx, "codechef fields defaulted", "username", username, "fields", d)
	}

	p := profile.New(profile.CodeChef, username)
	p.Strategy = profile.StrategyHTML
	p.Rating = res.Ptr("rating")
	p.MaxRating = res.Ptr("max_rating")
	p.GlobalRank = res.Ptr("global_rank")
	p.ContestsAttended = res.Ptr("contests")
	if n, ok := res.Int("total_solved"); ok {
		p.TotalSolved = n
	}
	p.Rank = stars(doc)

	var ratings []ratingEntry
	if err := htmlutil.EmbeddedJSON(content, "all_rating", &ratings); err != nil {
		c.logger.DebugContext(ctx, "codechef rating history absent", "username", username, "error", err)
	}
	for _, r := range ratings {
		name := r.Name
		if name == "" {
			name = r.Code
		}
		p.ContestHistory = append(p.ContestHistory, profile.ContestResult{
			Name:        name,
			Date:        normalize.ParseDate(r.EndDate),
			Rank:        r.Rank.Int(),
			RatingAfter: r.Rating.Int(),
		})
	}
	if p.ContestsAttended == nil && ratings != nil {
		p.ContestsAttended = profile.Int(len(ratings))
	}

	var daily []dailyStat
	if err := htmlutil.EmbeddedJSON(content, "userDailySubmissionsStats", &daily); err != nil {
		c.logger.DebugContext(ctx, "codechef activity absent", "username", username, "error", err)
	}
	counts := make(map[string]int, len(daily))
	for _, d := range daily {
		if date := normalize.ParseDate(d.Date); date != "" {
			counts[date] += d.Value.Int()
		}
	}
	p.ActivitySeries = normalize.SeriesFromDates(counts)

	return p, nil
}

// stars reads the star band ("3★") from the rating widget.
func stars(doc *goquery.Document) string {
	if n := doc.Find(".rating-star span").Length(); n > 0 {
		return strconv.Itoa(n) + "★"
	}
	if m := starsPattern.FindStringSubmatch(extract.Text(doc, extract.Candidate{Selector: ".rating"})); m != nil {
		return m[1] + "★"
	}
	return ""
}
