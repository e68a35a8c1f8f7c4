package httpcache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// memCache is a minimal Cacher for tests.
type memCache struct {
	data map[string][]byte
}

func (m *memCache) GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), _ ...time.Duration) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	m.data[key] = v
	return v, nil
}

func (*memCache) TTL() time.Duration { return time.Hour }

func TestHTTPErrorUnwrap(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, profile.ErrProfileNotFound},
		{http.StatusForbidden, profile.ErrBlocked},
		{http.StatusTooManyRequests, profile.ErrBlocked},
		{http.StatusInternalServerError, profile.ErrNetwork},
	}
	for _, tt := range tests {
		err := &HTTPError{StatusCode: tt.code, URL: "https://example.com"}
		if !errors.Is(err, tt.want) {
			t.Errorf("HTTPError{%d} should wrap %v", tt.code, tt.want)
		}
	}
}

func TestFetchURLCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"ok":true}`)) //nolint:errcheck // test
	}))
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	ctx := context.Background()
	for range 2 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/a", http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		body, err := FetchURL(ctx, cache, srv.Client(), req, nil)
		if err != nil {
			t.Fatalf("FetchURL: %v", err)
		}
		if string(body) != `{"ok":true}` {
			t.Errorf("body = %q", body)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestFetchURLNotFoundCached(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	ctx := context.Background()
	for range 2 {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/missing", http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		_, err = FetchURL(ctx, cache, srv.Client(), req, nil)
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
			t.Fatalf("err = %v, want HTTP 404", err)
		}
	}
	if len(cache.data) != 1 {
		t.Errorf("cache entries = %d, want 1", len(cache.data))
	}
}

func TestFetchURLRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck // test
	}))
	defer srv.Close()

	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	body, err := FetchURL(ctx, nil, srv.Client(), req, nil)
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}
	if string(body) != "ok" || hits.Load() != 2 {
		t.Errorf("body = %q, hits = %d", body, hits.Load())
	}
}

func TestPostJSON(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`"` + in["query"] + `"`)) //nolint:errcheck // test
	}))
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	ctx := context.Background()
	for _, q := range []string{"a", "b", "a"} {
		body, err := PostJSON(ctx, cache, srv.Client(), srv.URL, map[string]string{"query": q}, nil, nil)
		if err != nil {
			t.Fatalf("PostJSON(%q): %v", q, err)
		}
		if string(body) != `"`+q+`"` {
			t.Errorf("PostJSON(%q) = %s", q, body)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2 (distinct bodies cache apart)", hits.Load())
	}
}

func TestURLToKey(t *testing.T) {
	if URLToKey("a") == URLToKey("b") {
		t.Error("distinct URLs must map to distinct keys")
	}
	if len(URLToKey("a")) != 64 {
		t.Errorf("key length = %d, want 64", len(URLToKey("a")))
	}
}
