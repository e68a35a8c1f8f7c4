package leetcode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

const statsJSON = `{
  "status": "success",
  "message": "retrieved",
  "totalSolved": 120,
  "easySolved": 60,
  "mediumSolved": 50,
  "hardSolved": 10,
  "ranking": 98765,
  "submissionCalendar": {"1704067200": 2, "1704153600": 1}
}`

const graphQLJSON = `{
  "data": {
    "matchedUser": {
      "username": "alice",
      "profile": {"ranking": 98765},
      "submitStatsGlobal": {"acSubmissionNum": [
        {"difficulty": "All", "count": 121},
        {"difficulty": "Easy", "count": 61},
        {"difficulty": "Medium", "count": 50},
        {"difficulty": "Hard", "count": 10}
      ]},
      "userCalendar": {"submissionCalendar": "{\"1704067200\": 2, \"1704153600\": 1, \"1704240000\": 5}"}
    },
    "userContestRanking": {"attendedContestsCount": 2, "rating": 1650.4, "globalRanking": 40000},
    "userContestRankingHistory": [
      {"attended": true, "rating": 1550.2, "ranking": 3000, "contest": {"title": "Weekly Contest 380", "startTime": 1704067200}},
      {"attended": false, "rating": 1550.2, "ranking": 0, "contest": {"title": "Weekly Contest 381", "startTime": 1704672000}},
      {"attended": true, "rating": 1650.4, "ranking": 1200, "contest": {"title": "Weekly Contest 382", "startTime": 1705276800}}
    ]
  }
}`

type server struct {
	stats   func(w http.ResponseWriter)
	graphQL func(w http.ResponseWriter)
}

func (s server) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/graphql" {
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test
			var req graphQLRequest
			if err := json.Unmarshal(body, &req); err != nil || req.Variables["username"] == nil {
				t.Errorf("bad graphql request: %s", body)
			}
			s.graphQL(w)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/stats/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		s.stats(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(context.Background(), WithStatsURL(srv.URL+"/stats"), WithGraphQLURL(srv.URL+"/graphql"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func write(body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.Write([]byte(body)) } //nolint:errcheck // test
}

func status(code int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

func TestFetchHybrid(t *testing.T) {
	srv := server{stats: write(statsJSON), graphQL: write(graphQLJSON)}.start(t)

	p, err := newClient(t, srv).Fetch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if p.TotalSolved != 120 || p.Strategy != profile.StrategyAPI || p.Partial {
		t.Errorf("TotalSolved=%d Strategy=%q Partial=%v", p.TotalSolved, p.Strategy, p.Partial)
	}
	wantDiff := map[string]int{"easy": 60, "medium": 50, "hard": 10}
	if diff := cmp.Diff(wantDiff, p.ProblemsByDifficulty); diff != "" {
		t.Errorf("ProblemsByDifficulty mismatch (-want +got):\n%s", diff)
	}
	if p.Rating == nil || *p.Rating != 1650 || p.MaxRating == nil || *p.MaxRating != 1650 {
		t.Errorf("Rating=%v MaxRating=%v", p.Rating, p.MaxRating)
	}
	if p.ContestsAttended == nil || *p.ContestsAttended != 2 || p.Rank != "#40000" {
		t.Errorf("ContestsAttended=%v Rank=%q", p.ContestsAttended, p.Rank)
	}
	wantContests := []profile.ContestResult{
		{Name: "Weekly Contest 380", Date: "2024-01-01", Rank: 3000, RatingAfter: 1550},
		{Name: "Weekly Contest 382", Date: "2024-01-15", Rank: 1200, RatingAfter: 1650},
	}
	if diff := cmp.Diff(wantContests, p.ContestHistory); diff != "" {
		t.Errorf("ContestHistory mismatch (-want +got):\n%s", diff)
	}
	if len(p.ActivitySeries) != 3 || p.ActivitySeries[2] != (profile.ActivityDay{Date: "2024-01-03", Count: 5}) {
		t.Errorf("ActivitySeries = %+v", p.ActivitySeries)
	}
}

func TestFetchGraphQLFailureKeepsREST(t *testing.T) {
	srv := server{stats: write(statsJSON), graphQL: status(http.StatusBadRequest)}.start(t)

	p, err := newClient(t, srv).Fetch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !p.Partial {
		t.Error("profile should be marked partial")
	}
	if p.TotalSolved != 120 || p.ProblemsByDifficulty["easy"] != 60 {
		t.Errorf("REST data lost: %+v", p)
	}
	if p.Rating != nil || len(p.ContestHistory) != 0 {
		t.Error("contest data should be absent")
	}
	if len(p.ActivitySeries) != 2 {
		t.Errorf("ActivitySeries = %+v, want REST calendar", p.ActivitySeries)
	}
}

func TestFetchRESTFailureUsesGraphQL(t *testing.T) {
	srv := server{stats: status(http.StatusBadRequest), graphQL: write(graphQLJSON)}.start(t)

	p, err := newClient(t, srv).Fetch(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Strategy != profile.StrategyGraphQL {
		t.Errorf("Strategy = %q", p.Strategy)
	}
	if p.TotalSolved != 121 || p.ProblemsByDifficulty["easy"] != 61 {
		t.Errorf("TotalSolved=%d easy=%d", p.TotalSolved, p.ProblemsByDifficulty["easy"])
	}
	if p.GlobalRank == nil || *p.GlobalRank != 98765 {
		t.Errorf("GlobalRank = %v", p.GlobalRank)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := server{
		stats:   write(`{"status":"error","message":"user does not exist"}`),
		graphQL: write(`{"data":{"matchedUser":null},"errors":[{"message":"That user does not exist."}]}`),
	}.start(t)

	_, err := newClient(t, srv).Fetch(context.Background(), "ghost")
	if !errors.Is(err, profile.ErrProfileNotFound) {
		t.Errorf("err = %v, want ErrProfileNotFound", err)
	}
}

func TestFetchBothFail(t *testing.T) {
	srv := server{stats: status(http.StatusForbidden), graphQL: status(http.StatusForbidden)}.start(t)

	_, err := newClient(t, srv).Fetch(context.Background(), "alice")
	if !errors.Is(err, profile.ErrBlocked) {
		t.Errorf("err = %v, want ErrBlocked", err)
	}
}

func TestCookiesSendCSRFHeader(t *testing.T) {
	var gotCSRF, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/graphql" {
			gotCSRF = r.Header.Get("X-Csrftoken")
			if c, err := r.Cookie("LEETCODE_SESSION"); err == nil {
				gotCookie = c.Value
			}
			w.Write([]byte(graphQLJSON)) //nolint:errcheck // test
			return
		}
		w.Write([]byte(statsJSON)) //nolint:errcheck // test
	}))
	defer srv.Close()

	c, err := New(context.Background(),
		WithStatsURL(srv.URL+"/stats"),
		WithGraphQLURL(srv.URL+"/graphql"),
		WithCookies(map[string]string{"LEETCODE_SESSION": "sess", "csrftoken": "tok"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if gotCSRF != "tok" || gotCookie != "sess" {
		t.Errorf("csrf=%q cookie=%q", gotCSRF, gotCookie)
	}
}

func TestRegistered(t *testing.T) {
	src := profile.LookupPlatform(profile.LeetCode)
	if src == nil {
		t.Fatal("leetcode not registered")
	}
	if src.Slow() {
		t.Error("leetcode should use the default timeout")
	}
	if got := src.ProfileURL("alice"); got != "https://leetcode.com/u/alice/" {
		t.Errorf("ProfileURL = %q", got)
	}
}
