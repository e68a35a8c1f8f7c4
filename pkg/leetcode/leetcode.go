// Package leetcode fetches LeetCode solve counts, contest ranking and
// submission calendar.
package leetcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/auth"
	"github.com/codeGROOVE-dev/codeprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/codeprofile/pkg/normalize"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const (
	defaultStatsURL   = "https://leetcode-stats-api.herokuapp.com"
	defaultGraphQLURL = "https://leetcode.com/graphql"
)

// platformInfo implements profile.Source for LeetCode.
type platformInfo struct{}

func (platformInfo) Name() profile.Platform { return profile.LeetCode }
func (platformInfo) Slow() bool             { return false }

func (platformInfo) ProfileURL(username string) string {
	return "https://leetcode.com/u/" + url.PathEscape(username) + "/"
}

func init() {
	profile.RegisterWithFetcher(platformInfo{}, fetchProfile)
}

func fetchProfile(ctx context.Context, username string, cfg *profile.FetcherConfig) (*profile.PlatformProfile, error) {
	opts := []Option{
		WithStatsURL(cfg.Endpoint("leetcode_stats", defaultStatsURL)),
		WithGraphQLURL(cfg.Endpoint("leetcode_graphql", defaultGraphQLURL)),
	}
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

// Client handles LeetCode requests.
type Client struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	logger     *slog.Logger
	statsURL   string
	graphQLURL string
	csrfToken  string
}

// Option configures a Client.
type Option func(*config)

type config struct {
	cache      httpcache.Cacher
	logger     *slog.Logger
	cookies    map[string]string
	statsURL   string
	graphQLURL string
}

// WithHTTPCache sets the HTTP cache.
func WithHTTPCache(httpCache httpcache.Cacher) Option {
	return func(c *config) { c.cache = httpCache }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithCookies sets session cookies (LEETCODE_SESSION, csrftoken) for GraphQL.
func WithCookies(cookies map[string]string) Option {
	return func(c *config) { c.cookies = cookies }
}

// WithStatsURL overrides the REST stats endpoint.
func WithStatsURL(u string) Option {
	return func(c *config) { c.statsURL = strings.TrimSuffix(u, "/") }
}

// WithGraphQLURL overrides the GraphQL endpoint.
func WithGraphQLURL(u string) Option {
	return func(c *config) { c.graphQLURL = u }
}

// New creates a LeetCode client.
func New(_ context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), statsURL: defaultStatsURL, graphQLURL: defaultGraphQLURL}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	if len(cfg.cookies) > 0 {
		u, err := url.Parse(cfg.graphQLURL)
		if err != nil {
			return nil, fmt.Errorf("parse graphql url: %w", err)
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
		statsURL:   cfg.statsURL,
		graphQLURL: cfg.graphQLURL,
		csrfToken:  cfg.cookies["csrftoken"],
	}, nil
}

// statsResponse is the REST stats endpoint's shape.
type statsResponse struct {
	SubmissionCalendar map[string]int `json:"submissionCalendar"`
	Status             string         `json:"status"`
	Message            string         `json:"message"`
	TotalSolved        int            `json:"totalSolved"`
	EasySolved         int            `json:"easySolved"`
	MediumSolved       int            `json:"mediumSolved"`
	HardSolved         int            `json:"hardSolved"`
	Ranking            int            `json:"ranking"`
}

const graphQLQuery = `query userProfile($username: String!) {
  matchedUser(username: $username) {
    username
    profile { ranking }
    submitStatsGlobal { acSubmissionNum { difficulty count } }
    userCalendar { submissionCalendar }
  }
  userContestRanking(username: $username) {
    attendedContestsCount
    rating
    globalRanking
  }
  userContestRankingHistory(username: $username) {
    attended
    rating
    ranking
    contest { title startTime }
  }
}`

//nolint:govet // fieldalignment: struct ordering for JSON readability
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		MatchedUser               *gqlUser          `json:"matchedUser"`
		UserContestRanking        *gqlContestRank   `json:"userContestRanking"`
		UserContestRankingHistory []gqlContestEntry `json:"userContestRankingHistory"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type gqlUser struct {
	Profile *struct {
		Ranking int `json:"ranking"`
	} `json:"profile"`
	SubmitStatsGlobal *struct {
		AcSubmissionNum []struct {
			Difficulty string `json:"difficulty"`
			Count      int    `json:"count"`
		} `json:"acSubmissionNum"`
	} `json:"submitStatsGlobal"`
	UserCalendar *struct {
		SubmissionCalendar string `json:"submissionCalendar"` // JSON-encoded object
	} `json:"userCalendar"`
	Username string `json:"username"`
}

type gqlContestRank struct {
	AttendedContestsCount int     `json:"attendedContestsCount"`
	Rating                float64 `json:"rating"`
	GlobalRanking         int     `json:"globalRanking"`
}

type gqlContestEntry struct {
	Contest struct {
		Title     string `json:"title"`
		StartTime int64  `json:"startTime"`
	} `json:"contest"`
	Rating   float64 `json:"rating"`
	Ranking  int     `json:"ranking"`
	Attended bool    `json:"attended"`
}

// Fetch retrieves a LeetCode profile. The REST stats call runs first; the
// GraphQL call adds contest and calendar data. A GraphQL failure keeps the
// REST data and marks the profile partial. A REST failure falls back to
// GraphQL alone.
func (c *Client) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	c.logger.InfoContext(ctx, "fetching leetcode profile", "username", username)

	stats, statsErr := c.fetchStats(ctx, username)
	gql, gqlErr := c.fetchGraphQL(ctx, username)

	switch {
	case statsErr == nil:
		if gqlErr != nil {
			c.logger.WarnContext(ctx, "leetcode graphql enrichment failed", "username", username, "error", gqlErr)
		}
		return parseProfile(username, stats, gql), nil
	case gqlErr == nil && gql.Data.MatchedUser != nil:
		c.logger.WarnContext(ctx, "leetcode stats endpoint failed, using graphql", "username", username, "error", statsErr)
		return parseProfile(username, nil, gql), nil
	case errors.Is(statsErr, profile.ErrProfileNotFound) || errors.Is(gqlErr, profile.ErrProfileNotFound):
		return nil, fmt.Errorf("%w: leetcode user %q", profile.ErrProfileNotFound, username)
	default:
		return nil, errors.Join(statsErr, gqlErr)
	}
}

func (c *Client) fetchStats(ctx context.Context, username string) (*statsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statsURL+"/"+url.PathEscape(username), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", httpcache.UserAgent)

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: stats: %w", profile.ErrParse, err)
	}
	if resp.Status != "" && resp.Status != "success" {
		if strings.Contains(strings.ToLower(resp.Message), "not exist") {
			return nil, profile.ErrProfileNotFound
		}
		return nil, fmt.Errorf("%w: stats: %s", profile.ErrParse, resp.Message)
	}
	return &resp, nil
}

func (c *Client) fetchGraphQL(ctx context.Context, username string) (*graphQLResponse, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Referer", "https://leetcode.com/u/"+url.PathEscape(username)+"/")
	if c.csrfToken != "" {
		header.Set("X-Csrftoken", c.csrfToken)
	}

	body, err := httpcache.PostJSON(ctx, c.cache, c.httpClient, c.graphQLURL, graphQLRequest{
		Query:     graphQLQuery,
		Variables: map[string]any{"username": username},
	}, header, c.logger)
	if err != nil {
		return nil, fmt.Errorf("graphql: %w", err)
	}

	var resp graphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: graphql: %w", profile.ErrParse, err)
	}
	if resp.Data.MatchedUser == nil {
		if len(resp.Errors) > 0 && strings.Contains(strings.ToLower(resp.Errors[0].Message), "does not exist") {
			return nil, profile.ErrProfileNotFound
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("%w: graphql: %s", profile.ErrParse, resp.Errors[0].Message)
		}
	}
	return &resp, nil
}

// parseProfile maps the REST and GraphQL shapes onto a PlatformProfile.
// Either input may be nil; a nil gql marks the result partial.
func parseProfile(username string, stats *statsResponse, gql *graphQLResponse) *profile.PlatformProfile {
	p := profile.New(profile.LeetCode, username)
	p.Strategy = profile.StrategyAPI

	if stats != nil {
		p.TotalSolved = stats.TotalSolved
		p.ProblemsByDifficulty["easy"] = stats.EasySolved
		p.ProblemsByDifficulty["medium"] = stats.MediumSolved
		p.ProblemsByDifficulty["hard"] = stats.HardSolved
		if stats.Ranking > 0 {
			p.GlobalRank = profile.Int(stats.Ranking)
		}
		p.ActivitySeries = normalize.SeriesFromUnixCalendar(stats.SubmissionCalendar)
	}

	if gql == nil {
		p.Partial = true
		return p
	}

	if u := gql.Data.MatchedUser; u != nil {
		if stats == nil {
			p.Strategy = profile.StrategyGraphQL
			if u.SubmitStatsGlobal != nil {
				for _, n := range u.SubmitStatsGlobal.AcSubmissionNum {
					switch d := strings.ToLower(n.Difficulty); d {
					case "all":
						p.TotalSolved = n.Count
					default:
						p.ProblemsByDifficulty[d] = n.Count
					}
				}
			}
			if u.Profile != nil && u.Profile.Ranking > 0 {
				p.GlobalRank = profile.Int(u.Profile.Ranking)
			}
		}
		if u.UserCalendar != nil && u.UserCalendar.SubmissionCalendar != "" {
			var cal map[string]int
			if err := json.Unmarshal([]byte(u.UserCalendar.SubmissionCalendar), &cal); err == nil {
				// The GraphQL calendar covers the same window; prefer it when non-empty.
				if series := normalize.SeriesFromUnixCalendar(cal); len(series) > 0 {
					p.ActivitySeries = series
				}
			}
		}
	}

	if r := gql.Data.UserContestRanking; r != nil {
		p.Rating = profile.Int(int(math.Round(r.Rating)))
		p.ContestsAttended = profile.Int(r.AttendedContestsCount)
		if r.GlobalRanking > 0 {
			p.Rank = fmt.Sprintf("#%d", r.GlobalRanking)
		}
	}

	maxRating := 0
	for _, e := range gql.Data.UserContestRankingHistory {
		if !e.Attended {
			continue
		}
		rating := int(math.Round(e.Rating))
		maxRating = max(maxRating, rating)
		p.ContestHistory = append(p.ContestHistory, profile.ContestResult{
			Name:        e.Contest.Title,
			Date:        normalize.Date(time.Unix(e.Contest.StartTime, 0)),
			Rank:        e.Ranking,
			RatingAfter: rating,
		})
	}
	if maxRating > 0 {
		p.MaxRating = profile.Int(maxRating)
	}

	return p
}
