// Package geeksforgeeks fetches GeeksforGeeks solve counts by difficulty.
package geeksforgeeks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const (
	defaultAPIURL      = "https://authapi.geeksforgeeks.org/api-get/user-profile-info/"
	defaultPracticeURL = "https://practiceapi.geeksforgeeks.org/api/v1/user/problems/submissions/"
)

type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.GeeksforGeeks }
func (platformInfo) Slow() bool             { return false }

func (platformInfo) ProfileURL(username string) string {
	return "https://www.geeksforgeeks.org/user/" + url.PathEscape(username) + "/"
}

func init() { profile.RegisterWithFetcher(platformInfo{}, fetchProfile) }

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{
		WithBaseURL(cfg.Endpoint("gfg_api", defaultAPIURL)),
		WithPracticeURL(cfg.Endpoint("gfg_practice", defaultPracticeURL)),
	}
	if cfg != nil {
		if cfg.Logger != nil {
			opts = append(opts, WithLogger(cfg.Logger))
		}
		if c, ok := cfg.Cache.(httpcache.Cacher); ok {
			opts = append(opts, WithHTTPCache(c))
		}
	}
	client, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client.Fetch(ctx, username)
}

// Client handles GeeksforGeeks requests.
type Client struct {
	httpClient  *http.Client
	cache       httpcache.Cacher
	logger      *slog.Logger
	apiURL      string
	practiceURL string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	cache       httpcache.Cacher
	logger      *slog.Logger
	apiURL      string
	practiceURL string
}

// WithHTTPCache sets the HTTP cache.
func WithHTTPCache(httpCache httpcache.Cacher) Option {
	return func(c *config) { c.cache = httpCache }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithBaseURL overrides the profile info endpoint.
func WithBaseURL(u string) Option {
	return func(c *config) { c.apiURL = u }
}

// WithPracticeURL overrides the practice submissions endpoint.
func WithPracticeURL(u string) Option {
	return func(c *config) { c.practiceURL = u }
}

// New creates a GeeksforGeeks client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), apiURL: defaultAPIURL, practiceURL: defaultPracticeURL}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		cache:       cfg.cache,
		logger:      cfg.logger,
		apiURL:      cfg.apiURL,
		practiceURL: cfg.practiceURL,
	}, nil
}

//nolint:govet // fieldalignment: struct ordering for JSON readability
type infoResponse struct {
	Message string `json:"message"`
	Data    *struct {
		UserName            string           `json:"userName"`
		InstituteRank       normalize.Number `json:"instituteRank"`
		CodingScore         normalize.Number `json:"score"`
		TotalProblemsSolved normalize.Number `json:"total_problems_solved"`
	} `json:"data"`
}

// submissionsRequest is the practice API's query body. Empty year and month
// return all-time submissions.
//
//nolint:govet // fieldalignment: struct ordering for JSON readability
type submissionsRequest struct {
	Handle      string `json:"handle"`
	RequestType string `json:"requestType"`
	Year        string `json:"year"`
	Month       string `json:"month"`
}

// submissionsResponse groups solved problems by difficulty label, each a map
// keyed by problem id.
type submissionsResponse struct {
	Result map[string]map[string]json.RawMessage `json:"result"`
	Status string                                `json:"status"`
	Count  normalize.Number                      `json:"count"`
}

// Fetch retrieves a GeeksforGeeks profile. The profile info call is
// required; the per-difficulty breakdown degrades to a partial profile.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching geeksforgeeks profile", "username", username)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?handle="+url.QueryEscape(username), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpcache.UserAgent)

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
	if err != nil {
		return nil, fmt.Errorf("profile info: %w", err)
	}

	var info infoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: profile info: %w", profile.ErrParse, err)
	}
	if info.Data == nil || info.Data.UserName == "" {
		return nil, fmt.Errorf("%w: geeksforgeeks user %q", profile.ErrProfileNotFound, username)
	}

	p := profile.New(profile.GeeksforGeeks, username)
	p.Strategy = profile.StrategyAPI
	p.TotalSolved = info.Data.TotalProblemsSolved.Int()
	if info.Data.InstituteRank > 0 {
		p.Rank = fmt.Sprintf("institute #%d", info.Data.InstituteRank.Int())
	}

	counts, err := c.fetchSubmissions(ctx, username)
	if err != nil {
		c.logger.WarnContext(ctx, "geeksforgeeks submissions failed", "username", username, "error", err)
		p.Partial = true
		return p, nil
	}
	for level, n := range counts {
		p.ProblemsByDifficulty[level] = n
	}
	return p, nil
}

func (c *Client) fetchSubmissions(ctx context.Context, username string) (map[string]int, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	body, err := httpcache.PostJSON(ctx, c.cache, c.httpClient, c.practiceURL,
		submissionsRequest{Handle: username}, header, c.logger)
	if err != nil {
		return nil, err
	}

	var resp submissionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: submissions: %w", profile.ErrParse, err)
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("%w: submissions status %q", profile.ErrParse, resp.Status)
	}

	counts := make(map[string]int, len(resp.Result))
	for level, problems := range resp.Result {
		if len(problems) > 0 {
			counts[strings.ToLower(level)] += len(problems)
		}
	}
	return counts, nil
}
