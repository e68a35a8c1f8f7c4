package extract

import (
	"errors"
	"regexp"
	"slices"
	"testing"

	"github.com/codeGROOVE-dev/codeprofile/pkg/htmlutil"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const page = `<html><body>
<section class="rating-header"><div class="rating-number">1,834?</div></section>
<div class="widget"><span>Contests</span><strong>N/A</strong></div>
<div class="footer">Contests participated: 2024</div>
<div class="summary">Total Problems Solved: 312</div>
<a class="profile" data-rank="42">rank</a>
</body></html>`

func TestFirstInt(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"1,834", 1834, true},
		{"Rank: #42 (top 5%)", 42, true},
		{"  7 ", 7, true},
		{"N/A", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := FirstInt(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("FirstInt(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRun(t *testing.T) {
	doc, err := htmlutil.Parse([]byte(page))
	if err != nil {
		t.Fatal(err)
	}

	contestsFallback := 3
	rules := Rules{
		{
			Name: "rating",
			Candidates: []Candidate{
				{Selector: ".does-not-exist"},
				{Selector: ".rating-number"},
			},
			Required: true,
		},
		{
			Name: "contests",
			Candidates: []Candidate{
				{Selector: ".widget strong"},                                    // non-numeric, skipped
				{Pattern: regexp.MustCompile(`Contests participated:\s*(\d+)`)}, // implausible, rejected
			},
			Max:      100,
			Fallback: &contestsFallback,
		},
		{
			Name:       "solved",
			Candidates: []Candidate{{Selector: ".summary", Pattern: regexp.MustCompile(`Solved:\s*([\d,]+)`)}},
		},
		{
			Name:       "rank",
			Candidates: []Candidate{{Selector: "a.profile", Attr: "data-rank"}},
		},
		{
			Name:       "stars",
			Candidates: []Candidate{{Selector: ".stars"}},
		},
	}

	res, err := Run(doc, rules)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if v := res["rating"]; v.N != 1834 || v.Source != Matched || v.Candidate != 1 {
		t.Errorf("rating = %+v", v)
	}
	if v := res["contests"]; v.N != 3 || v.Source != Fallback || v.Rejected != 1 {
		t.Errorf("contests = %+v, want fallback 3 with one rejection", v)
	}
	if n, ok := res.Int("solved"); !ok || n != 312 {
		t.Errorf("solved = %d, %v", n, ok)
	}
	if p := res.Ptr("rank"); p == nil || *p != 42 {
		t.Errorf("rank = %v", p)
	}
	if p := res.Ptr("stars"); p != nil {
		t.Errorf("stars = %d, want nil", *p)
	}
	if got := res.Defaulted(); !slices.Equal(got, []string{"contests"}) {
		t.Errorf("Defaulted() = %v", got)
	}
}

func TestRunRequiredExhausted(t *testing.T) {
	doc, err := htmlutil.Parse([]byte(page))
	if err != nil {
		t.Fatal(err)
	}
	rules := Rules{{Name: "global_rank", Candidates: []Candidate{{Selector: ".nope"}}, Required: true}}
	if _, err := Run(doc, rules); !errors.Is(err, profile.ErrExtractionExhausted) {
		t.Errorf("Run() error = %v, want ErrExtractionExhausted", err)
	}

	// A configured fallback satisfies a required field.
	rules = rules.WithFallbacks(map[string]int{"global_rank": 0})
	res, err := Run(doc, rules)
	if err != nil {
		t.Fatalf("Run with fallback: %v", err)
	}
	if v := res["global_rank"]; v.Source != Fallback || v.N != 0 {
		t.Errorf("global_rank = %+v", v)
	}
}

func TestWithFallbacksCopies(t *testing.T) {
	orig := Rules{{Name: "a"}}
	_ = orig.WithFallbacks(map[string]int{"a": 5})
	if orig[0].Fallback != nil {
		t.Error("WithFallbacks mutated the receiver")
	}
}

func TestMaxOverrides(t *testing.T) {
	doc, err := htmlutil.Parse([]byte(`<div class="contests">1450</div>`))
	if err != nil {
		t.Fatal(err)
	}
	base := Rules{{Name: "contests", Candidates: []Candidate{{Selector: ".contests"}}, Max: 100}}

	tests := []struct {
		name      string
		overrides map[string]int
		want      Value
	}{
		{name: "collision dropped", want: Value{Candidate: -1, Rejected: 1}},
		{
			name:      "collision uses last known good",
			overrides: map[string]int{"contests": 37},
			want:      Value{N: 37, Source: Fallback, Candidate: -1, Rejected: 1},
		},
		{
			name:      "raised limit trusts value",
			overrides: map[string]int{"contests.max": 2000},
			want:      Value{N: 1450, Source: Matched, Candidate: 0},
		},
		{
			name:      "negative limit ignored",
			overrides: map[string]int{"contests.max": -1, "contests": 3},
			want:      Value{N: 3, Source: Fallback, Candidate: -1, Rejected: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(doc, base.WithFallbacks(tt.overrides))
			if err != nil {
				t.Fatal(err)
			}
			if got := res["contests"]; got != tt.want {
				t.Errorf("contests = %+v, want %+v", got, tt.want)
			}
		})
	}
	if base[0].Max != 100 {
		t.Error("WithFallbacks mutated the receiver's Max")
	}
}

func TestText(t *testing.T) {
	doc, err := htmlutil.Parse([]byte(page))
	if err != nil {
		t.Fatal(err)
	}
	got := Text(doc,
		Candidate{Selector: ".missing"},
		Candidate{Selector: ".summary", Pattern: regexp.MustCompile(`Total (\w+)`)},
	)
	if got != "Problems" {
		t.Errorf("Text() = %q", got)
	}
}

func TestCalendar(t *testing.T) {
	doc, err := htmlutil.Parse([]byte(`<svg>
<rect class="day" data-date="2024-01-01" data-count="3"></rect>
<rect class="day" data-date="2024-01-02" data-count="0"></rect>
<rect class="day" data-date="2024-01-03" data-count="n/a"></rect>
<rect class="day" data-date="2024-01-01" data-count="1"></rect>
<rect class="legend" data-date="2024-01-04" data-count="9"></rect>
</svg>`))
	if err != nil {
		t.Fatal(err)
	}
	got := Calendar(doc, "rect.day", "data-date", "data-count")
	if len(got) != 1 || got["2024-01-01"] != 4 {
		t.Errorf("Calendar() = %v", got)
	}
}
