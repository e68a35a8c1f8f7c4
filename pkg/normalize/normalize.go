// Package normalize holds the mapping helpers shared by every platform's
// normalizer, and the final pass that enforces PlatformProfile invariants.
package normalize

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// Finalize enforces the canonical invariants on p in place and returns it:
// non-negative totals, a non-nil difficulty map whose sum never exceeds the
// total, an ascending zero-free activity series, and a bounded contest
// history ordered oldest first.
func Finalize(p *profile.PlatformProfile, now time.Time) *profile.PlatformProfile {
	if p.ProblemsByDifficulty == nil {
		p.ProblemsByDifficulty = make(map[string]int)
	}
	for k, v := range p.ProblemsByDifficulty {
		if v < 0 {
			p.ProblemsByDifficulty[k] = 0
		}
	}
	if p.TotalSolved < 0 {
		p.TotalSolved = 0
	}
	if sum := p.CategorizedSolved(); sum > p.TotalSolved {
		p.TotalSolved = sum
	}

	p.ActivitySeries = Series(p.ActivitySeries)
	p.ContestHistory = RecentContests(p.ContestHistory, profile.ContestHistoryLimit)

	if p.FetchedAt.IsZero() {
		p.FetchedAt = now.UTC()
	}
	if p.ProfileURL == "" {
		if s := profile.LookupPlatform(p.Platform); s != nil {
			p.ProfileURL = s.ProfileURL(p.Username)
		}
	}
	return p
}

// Series merges duplicate dates, drops non-positive counts and sorts ascending.
func Series(days []profile.ActivityDay) []profile.ActivityDay {
	if len(days) == 0 {
		return nil
	}
	counts := make(map[string]int, len(days))
	for _, d := range days {
		if d.Count > 0 && d.Date != "" {
			counts[d.Date] += d.Count
		}
	}
	return SeriesFromDates(counts)
}

// SeriesFromDates converts a YYYY-MM-DD keyed map to a sorted series.
// Keys that are not valid dates are dropped.
func SeriesFromDates(counts map[string]int) []profile.ActivityDay {
	out := make([]profile.ActivityDay, 0, len(counts))
	for date, n := range counts {
		if n <= 0 {
			continue
		}
		if _, err := time.Parse(profile.DateLayout, date); err != nil {
			continue
		}
		out = append(out, profile.ActivityDay{Date: date, Count: n})
	}
	if len(out) == 0 {
		return nil
	}
	slices.SortFunc(out, func(a, b profile.ActivityDay) int { return cmp.Compare(a.Date, b.Date) })
	return out
}

// SeriesFromUnixCalendar converts a calendar keyed by unix-seconds strings
// (as LeetCode returns it) to a sorted UTC day series.
func SeriesFromUnixCalendar(calendar map[string]int) []profile.ActivityDay {
	counts := make(map[string]int, len(calendar))
	for ts, n := range calendar {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			continue
		}
		counts[time.Unix(sec, 0).UTC().Format(profile.DateLayout)] += n
	}
	return SeriesFromDates(counts)
}

// SeriesFromTimes buckets event times into UTC days.
func SeriesFromTimes(times []time.Time) []profile.ActivityDay {
	counts := make(map[string]int)
	for _, t := range times {
		counts[t.UTC().Format(profile.DateLayout)]++
	}
	return SeriesFromDates(counts)
}

// RecentContests orders contests oldest first by date (stable for equal
// or missing dates) and keeps the last limit entries.
func RecentContests(contests []profile.ContestResult, limit int) []profile.ContestResult {
	if len(contests) == 0 {
		return nil
	}
	out := slices.Clone(contests)
	for i := range out {
		out[i].Name = CleanText(out[i].Name)
	}
	slices.SortStableFunc(out, func(a, b profile.ContestResult) int {
		if a.Date == "" || b.Date == "" {
			return 0
		}
		return cmp.Compare(a.Date, b.Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// CleanText NFC-normalizes scraped text and collapses whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Date formats t as a calendar day in UTC.
func Date(t time.Time) string {
	return t.UTC().Format(profile.DateLayout)
}

// ParseDate accepts the date and datetime shapes platforms return and
// reduces them to a calendar day. Unparseable input yields "".
func ParseDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		profile.DateLayout,
		"2006-1-2",
		"2 Jan 2006",
		"Jan 2, 2006",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(profile.DateLayout)
		}
	}
	return ""
}
