// Package activity merges per-platform daily activity into one series and
// derives streak and heatmap statistics from it.
package activity

import (
	"cmp"
	"slices"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// MaxLevel is the top heatmap intensity bucket.
const MaxLevel = 4

// Aggregated is the merged activity of one user across platforms.
type Aggregated struct {
	// Days is the merged series, ascending, zero days absent.
	Days             []profile.ActivityDay `json:"days"`
	FirstActive      string                `json:"first_active,omitempty"`
	LastActive       string                `json:"last_active,omitempty"`
	CurrentStreak    int                   `json:"current_streak"`
	LongestStreak    int                   `json:"longest_streak"`
	TotalActiveDays  int                   `json:"total_active_days"`
	TotalSubmissions int                   `json:"total_submissions"`
}

// Counts returns the merged series as a date to count map.
func (a Aggregated) Counts() map[string]int {
	out := make(map[string]int, len(a.Days))
	for _, d := range a.Days {
		out[d.Date] = d.Count
	}
	return out
}

// Merge unions the activity series of profiles, summing counts that fall on
// the same date. Nil profiles are skipped. Merge is commutative and
// associative over its inputs' series.
func Merge(profiles ...*profile.PlatformProfile) Aggregated {
	series := make([][]profile.ActivityDay, 0, len(profiles))
	for _, p := range profiles {
		if p != nil {
			series = append(series, p.ActivitySeries)
		}
	}
	return MergeSeries(series...)
}

// MergeSeries is Merge over raw series.
func MergeSeries(series ...[]profile.ActivityDay) Aggregated {
	counts := make(map[string]int)
	for _, s := range series {
		for _, d := range s {
			if d.Count > 0 && d.Date != "" {
				counts[d.Date] += d.Count
			}
		}
	}

	days := make([]profile.ActivityDay, 0, len(counts))
	for date, n := range counts {
		days = append(days, profile.ActivityDay{Date: date, Count: n})
	}
	slices.SortFunc(days, func(a, b profile.ActivityDay) int { return cmp.Compare(a.Date, b.Date) })
	return Stats(days)
}

// Stats computes streaks and totals over a series sorted ascending by date.
// The current streak is the run ending at the most recent active day.
// Dates that do not parse break any running streak.
func Stats(days []profile.ActivityDay) Aggregated {
	agg := Aggregated{Days: days}
	if len(days) == 0 {
		agg.Days = nil
		return agg
	}

	var run int
	var prev time.Time
	for _, d := range days {
		if d.Count <= 0 {
			continue
		}
		agg.TotalActiveDays++
		agg.TotalSubmissions += d.Count
		if agg.FirstActive == "" {
			agg.FirstActive = d.Date
		}
		agg.LastActive = d.Date

		t, err := time.Parse(profile.DateLayout, d.Date)
		switch {
		case err != nil:
			run = 0
		case !prev.IsZero() && t.Sub(prev) == 24*time.Hour:
			run++
		default:
			run = 1
		}
		prev = t
		agg.LongestStreak = max(agg.LongestStreak, run)
	}
	agg.CurrentStreak = run
	return agg
}

// Level maps count to a heatmap bucket between 0 and MaxLevel relative to
// the observed maximum: at most 25% is 1, 50% is 2, 75% is 3, above is 4.
// Zero always maps to 0.
func Level(count, maxCount int) int {
	if count <= 0 || maxCount <= 0 {
		return 0
	}
	pct := float64(count) / float64(maxCount)
	switch {
	case pct <= 0.25:
		return 1
	case pct <= 0.5:
		return 2
	case pct <= 0.75:
		return 3
	default:
		return MaxLevel
	}
}

// Cell is one heatmap day.
type Cell struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Level int    `json:"level"`
}

// Heatmap returns one cell per active day with its display level.
func Heatmap(agg Aggregated) []Cell {
	peak := 0
	for _, d := range agg.Days {
		peak = max(peak, d.Count)
	}
	cells := make([]Cell, 0, len(agg.Days))
	for _, d := range agg.Days {
		cells = append(cells, Cell{Date: d.Date, Count: d.Count, Level: Level(d.Count, peak)})
	}
	return cells
}
