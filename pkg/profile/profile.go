// Package profile defines the common types for competitive-programming profile aggregation.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Platform is the canonical name of a supported source platform.
type Platform string

// Canonical platform names.
const (
	LeetCode      Platform = "leetcode"
	Codeforces    Platform = "codeforces"
	CodeChef      Platform = "codechef"
	HackerRank    Platform = "hackerrank"
	HackerEarth   Platform = "hackerearth"
	Code360       Platform = "code360"
	GeeksforGeeks Platform = "geeksforgeeks"
)

// Strategy names recorded on profiles so callers can tell which path produced the data.
const (
	StrategyAPI     = "api"
	StrategyGraphQL = "graphql"
	StrategyHTML    = "html"
	StrategyBrowser = "browser"
)

// ContestHistoryLimit bounds the number of contests kept on a profile.
const ContestHistoryLimit = 10

// DateLayout is the calendar-day format used for activity series.
const DateLayout = "2006-01-02"

// aliases maps legacy and shorthand names to canonical platforms.
var aliases = map[string]Platform{
	"codestudio":   Code360,
	"codingninjas": Code360,
	"naukri":       Code360,
	"gfg":          GeeksforGeeks,
	"lc":           LeetCode,
	"cf":           Codeforces,
}

// Canonical resolves a platform name or alias to its canonical Platform.
func Canonical(name string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := aliases[key]; ok {
		return p, nil
	}
	if LookupPlatform(Platform(key)) != nil || isKnown(Platform(key)) {
		return Platform(key), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, name)
}

// All returns the canonical platforms in a stable order.
func All() []Platform {
	return []Platform{LeetCode, Codeforces, CodeChef, HackerRank, HackerEarth, Code360, GeeksforGeeks}
}

func isKnown(p Platform) bool {
	for _, k := range All() {
		if k == p {
			return true
		}
	}
	return false
}

// ContestResult is one rated contest participation.
type ContestResult struct {
	Name        string `json:"name"`
	Date        string `json:"date,omitempty"` // YYYY-MM-DD
	Rank        int    `json:"rank,omitempty"`
	RatingAfter int    `json:"rating_after,omitempty"`
}

// ActivityDay is the number of tracked events on one calendar day.
type ActivityDay struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// PlatformProfile is the canonical output of one adapter and normalizer pass.
//
//nolint:govet // fieldalignment: intentional layout for readability
type PlatformProfile struct {
	// Metadata
	Platform   Platform  `json:"platform"`
	Username   string    `json:"username"`
	ProfileURL string    `json:"profile_url,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitzero"`
	Strategy   string    `json:"strategy,omitempty"` // api, graphql, html, browser
	Partial    bool      `json:"partial,omitempty"`  // a secondary step failed and was skipped

	// Solved problems
	TotalSolved          int            `json:"total_solved"`
	ProblemsByDifficulty map[string]int `json:"problems_by_difficulty"`

	// Ratings and contests
	Rating           *int            `json:"rating,omitempty"`
	MaxRating        *int            `json:"max_rating,omitempty"`
	Rank             string          `json:"rank,omitempty"`
	GlobalRank       *int            `json:"global_rank,omitempty"`
	ContestsAttended *int            `json:"contests_attended,omitempty"`
	ContestHistory   []ContestResult `json:"contest_history,omitempty"`

	// Daily activity, ascending by date, zero days omitted
	ActivitySeries []ActivityDay `json:"activity_series,omitempty"`

	// Error is set only on failed fetches; such profiles are never persisted.
	Error string `json:"error,omitempty"`
}

// New returns an empty profile for the given platform and handle.
func New(platform Platform, username string) *PlatformProfile {
	return &PlatformProfile{
		Platform:             platform,
		Username:             username,
		ProblemsByDifficulty: make(map[string]int),
	}
}

// CategorizedSolved returns the sum of ProblemsByDifficulty.
func (p *PlatformProfile) CategorizedSolved() int {
	n := 0
	for _, v := range p.ProblemsByDifficulty {
		n += v
	}
	return n
}

// Int returns a pointer to v, for the optional numeric fields.
func Int(v int) *int { return &v }
