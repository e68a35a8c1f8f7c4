// Package hackerrank fetches HackerRank badges and submission history.
package hackerrank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/codeGROOVE-dev/codeprofile/pkg/auth"
	"github.com/codeGROOVE-dev/codeprofile/pkg/extract"
	"github.com/codeGROOVE-dev/codeprofile/pkg/fallback"
	"github.com/codeGROOVE-dev/codeprofile/pkg/htmlutil"
	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const defaultBaseURL = "https://www.hackerrank.com"

type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.HackerRank }
func (platformInfo) Slow() bool             { return false }

func (platformInfo) ProfileURL(username string) string {
	return defaultBaseURL + "/profile/" + url.PathEscape(username)
}

func init() { profile.RegisterWithFetcher(platformInfo{}, fetchProfile) }

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{WithBaseURL(cfg.Endpoint("hackerrank", defaultBaseURL))}
	if cfg != nil {
		if cfg.Logger != nil {
			opts = append(opts, WithLogger(cfg.Logger))
		}
		if c, ok := cfg.Cache.(httpcache.Cacher); ok {
			opts = append(opts, WithHTTPCache(c))
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

// Client handles HackerRank requests.
type Client struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	logger     *slog.Logger
	baseURL    string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	cache   httpcache.Cacher
	logger  *slog.Logger
	cookies map[string]string
	baseURL string
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

// WithCookies sets a signed-in session, which the REST endpoints block less often.
func WithCookies(cookies map[string]string) Option {
	return func(c *config) { c.cookies = cookies }
}

// New creates a HackerRank client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	if len(cfg.cookies) > 0 {
		u, err := url.Parse(cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		jar, err := auth.NewCookieJar(u.Hostname(), cfg.cookies)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		httpClient: httpClient,
		cache:      cfg.cache,
		logger:     cfg.logger,
		baseURL:    cfg.baseURL,
	}, nil
}

type badgesResponse struct {
	Models []badge `json:"models"`
}

type badge struct {
	BadgeName       string           `json:"badge_name"`
	BadgeType       string           `json:"badge_type"`
	Stars           normalize.Number `json:"stars"`
	Solved          normalize.Number `json:"solved"`
	TotalChallenges normalize.Number `json:"total_challenges"`
}

// Fetch retrieves a HackerRank profile: the REST API first, then the
// public profile page.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching hackerrank profile", "username", username)

	chain := fallback.New(profile.HackerRank, c.logger,
		fallback.Strategy{Name: profile.StrategyAPI, Run: c.fetchAPI},
		fallback.Strategy{Name: profile.StrategyHTML, Run: c.fetchHTML},
	)
	return chain.Fetch(ctx, username)
}

func (c *Client) get(ctx context.Context, path, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Accept", accept)
	return httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
}

func (c *Client) fetchAPI(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	base := "/rest/hackers/" + url.PathEscape(username)

	body, err := c.get(ctx, base+"/badges", "application/json")
	if err != nil {
		return nil, fmt.Errorf("badges: %w", err)
	}
	var badges badgesResponse
	if err := json.Unmarshal(body, &badges); err != nil {
		return nil, fmt.Errorf("%w: badges: %w", profile.ErrParse, err)
	}

	p := profile.New(profile.HackerRank, username)
	applyBadges(p, badges.Models)

	// The history is keyed by date with string counts.
	var history map[string]normalize.Number
	body, err = c.get(ctx, base+"/submission_histories", "application/json")
	if err == nil {
		err = json.Unmarshal(body, &history)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "hackerrank submission history failed", "username", username, "error", err)
		p.Partial = true
	}
	counts := make(map[string]int, len(history))
	for date, n := range history {
		if d := normalize.ParseDate(date); d != "" {
			counts[d] += n.Int()
		}
	}
	p.ActivitySeries = normalize.SeriesFromDates(counts)

	return p, nil
}

// applyBadges buckets solved counts by badge track. The problem-solving
// badge's star level becomes the rank.
func applyBadges(p *profile.PlatformProfile, badges []badge) {
	for _, b := range badges {
		name := strings.ToLower(strings.TrimSpace(b.BadgeName))
		if name == "" || b.Solved <= 0 {
			continue
		}
		p.ProblemsByDifficulty[name] += b.Solved.Int()
		p.TotalSolved += b.Solved.Int()
		if b.BadgeType == "problem-solving" || name == "problem solving" {
			p.Rank = strconv.Itoa(b.Stars.Int()) + "★"
		}
	}
}

var badgeSolvedPattern = regexp.MustCompile(`(\d+)\s+(?:challenges?|problems?)\s+solved`)

var htmlRules = extract.Rules{
	{
		Name: "total_solved",
		Candidates: []extract.Candidate{
			{Selector: ".profile-stats .solved-count"},
			{Pattern: badgeSolvedPattern},
		},
		Max: 20000,
	},
}

func (c *Client) fetchHTML(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	body, err := c.get(ctx, "/profile/"+url.PathEscape(username), "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	doc, err := htmlutil.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", profile.ErrParse, err)
	}

	// Profile pages carry "Name - handle | HackerRank" in og:title; missing
	// users get the generic site title.
	title := htmlutil.OGTag(doc, "og:title")
	if htmlutil.IsNotFound(htmlutil.Title(doc)) || !strings.Contains(strings.ToLower(title), strings.ToLower(username)) {
		return nil, fmt.Errorf("%w: hackerrank user %q", profile.ErrProfileNotFound, username)
	}

	p := profile.New(profile.HackerRank, username)
	p.Partial = true // the page carries no submission history

	var badges []badge
	doc.Find(".hacker-badge").Each(func(_ int, s *goquery.Selection) {
		b := badge{
			BadgeName: strings.TrimSpace(s.Find(".badge-title").Text()),
			Stars:     normalize.Number(s.Find(".badge-star").Length()),
		}
		if n, ok := extract.FirstInt(s.AttrOr("data-solved", "")); ok {
			b.Solved = normalize.Number(n)
		}
		badges = append(badges, b)
	})
	applyBadges(p, badges)
	if p.Rank == "" {
		for _, b := range badges {
			if strings.EqualFold(b.BadgeName, "problem solving") {
				p.Rank = strconv.Itoa(b.Stars.Int()) + "★"
			}
		}
	}

	res, err := extract.Run(doc, htmlRules)
	if err != nil {
		return nil, err
	}
	if n, ok := res.Int("total_solved"); ok && n > p.TotalSolved {
		p.TotalSolved = n
	}
	return p, nil
}
