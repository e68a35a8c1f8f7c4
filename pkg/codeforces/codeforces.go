// Package codeforces fetches Codeforces ratings, contest history and solved
// problems from the public API.
package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const defaultAPIURL = "https://codeforces.com/api"

// UnratedBucket holds solved problems without a difficulty rating.
const UnratedBucket = "unrated"

type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.Codeforces }
func (platformInfo) Slow() bool             { return false }

func (platformInfo) ProfileURL(username string) string {
	return "https://codeforces.com/profile/" + url.PathEscape(username)
}

func init() { profile.RegisterWithFetcher(platformInfo{}, fetchProfile) }

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{WithBaseURL(cfg.Endpoint("codeforces_api", defaultAPIURL))}
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

// Client handles Codeforces requests.
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

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// New creates a Codeforces client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), baseURL: defaultAPIURL}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cfg.cache,
		logger:     cfg.logger,
		baseURL:    cfg.baseURL,
	}, nil
}

// apiResponse is the envelope every method returns.
type apiResponse[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  T      `json:"result"`
}

type apiUser struct {
	Handle    string `json:"handle"`
	Rank      string `json:"rank"`
	MaxRank   string `json:"maxRank"`
	Rating    int    `json:"rating"`
	MaxRating int    `json:"maxRating"`
}

type apiRatingChange struct {
	ContestName             string `json:"contestName"`
	ContestID               int    `json:"contestId"`
	Rank                    int    `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	NewRating               int    `json:"newRating"`
}

type apiSubmission struct {
	Problem struct {
		Index     string `json:"index"`
		ContestID int    `json:"contestId"`
		Rating    int    `json:"rating"`
	} `json:"problem"`
	Verdict             string `json:"verdict"`
	CreationTimeSeconds int64  `json:"creationTimeSeconds"`
}

// Fetch retrieves a Codeforces profile. user.info is required; the rating
// history and submission list degrade to a partial profile on failure.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching codeforces profile", "username", username)

	var users []apiUser
	if err := c.call(ctx, "user.info", url.Values{"handles": {username}}, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: codeforces user %q", profile.ErrProfileNotFound, username)
	}

	var ratings []apiRatingChange
	ratingErr := c.call(ctx, "user.rating", url.Values{"handle": {username}}, &ratings)
	if ratingErr != nil {
		c.logger.WarnContext(ctx, "codeforces rating history failed", "username", username, "error", ratingErr)
	}

	var subs []apiSubmission
	statusErr := c.call(ctx, "user.status", url.Values{"handle": {username}}, &subs)
	if statusErr != nil {
		c.logger.WarnContext(ctx, "codeforces submissions failed", "username", username, "error", statusErr)
	}

	p := parseProfile(&users[0], ratings, subs)
	p.Partial = ratingErr != nil || statusErr != nil
	return p, nil
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+method+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpcache.UserAgent)

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
	if err != nil {
		// The API answers 400 with status FAILED for unknown handles.
		var httpErr *httpcache.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusBadRequest {
			return fmt.Errorf("%w: %s: %w", profile.ErrProfileNotFound, method, err)
		}
		return fmt.Errorf("%s: %w", method, err)
	}

	var resp apiResponse[json.RawMessage]
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: %s: %w", profile.ErrParse, method, err)
	}
	if resp.Status != "OK" {
		if strings.Contains(resp.Comment, "not found") {
			return fmt.Errorf("%w: %s", profile.ErrProfileNotFound, resp.Comment)
		}
		return fmt.Errorf("%w: %s: %s", profile.ErrParse, method, resp.Comment)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: %s result: %w", profile.ErrParse, method, err)
	}
	return nil
}

// parseProfile maps the three API shapes onto a PlatformProfile. Solved
// problems are deduplicated by contest and index and bucketed by problem
// rating, so the buckets always sum to the total.
func parseProfile(u *apiUser, ratings []apiRatingChange, subs []apiSubmission) *profile.PlatformProfile {
	p := profile.New(profile.Codeforces, u.Handle)
	p.Strategy = profile.StrategyAPI

	if u.Rating > 0 {
		p.Rating = profile.Int(u.Rating)
	}
	if u.MaxRating > 0 {
		p.MaxRating = profile.Int(u.MaxRating)
	}
	p.Rank = u.Rank

	if ratings != nil {
		p.ContestsAttended = profile.Int(len(ratings))
	}
	for _, r := range ratings {
		p.ContestHistory = append(p.ContestHistory, profile.ContestResult{
			Name:        r.ContestName,
			Date:        normalize.Date(time.Unix(r.RatingUpdateTimeSeconds, 0)),
			Rank:        r.Rank,
			RatingAfter: r.NewRating,
		})
	}

	solved := make(map[string]bool)
	var times []time.Time
	for _, s := range subs {
		times = append(times, time.Unix(s.CreationTimeSeconds, 0))
		if s.Verdict != "OK" {
			continue
		}
		key := strconv.Itoa(s.Problem.ContestID) + s.Problem.Index
		if solved[key] {
			continue
		}
		solved[key] = true

		bucket := UnratedBucket
		if s.Problem.Rating > 0 {
			bucket = strconv.Itoa(s.Problem.Rating)
		}
		p.ProblemsByDifficulty[bucket]++
	}
	p.TotalSolved = len(solved)
	p.ActivitySeries = normalize.SeriesFromTimes(times)

	return p
}
