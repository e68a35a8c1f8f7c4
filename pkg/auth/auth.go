// Package auth provides cookie sources for platforms that serve richer or
// unblocked data to signed-in sessions.
package auth

import (
	"context"
	"maps"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// NewCookieJar creates an http.CookieJar populated with the given cookies for a domain.
func NewCookieJar(domain string, cookies map[string]string) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse("https://" + domain)
	if err != nil {
		return nil, err
	}

	// IP hosts only accept host-only cookies.
	cookieDomain := "." + domain
	if net.ParseIP(domain) != nil {
		cookieDomain = ""
	}

	var httpCookies []*http.Cookie
	for name, value := range cookies {
		if value != "" {
			httpCookies = append(httpCookies, &http.Cookie{
				Name:   name,
				Value:  value,
				Domain: cookieDomain,
				Path:   "/",
			})
		}
	}

	jar.SetCookies(u, httpCookies)
	return jar, nil
}

// Source represents a source of authentication cookies.
type Source interface {
	// Cookies returns cookies for the given platform, or nil if unavailable.
	Cookies(ctx context.Context, platform profile.Platform) (map[string]string, error)
}

// ChainSources returns cookies from the first source that provides them.
func ChainSources(ctx context.Context, platform profile.Platform, sources ...Source) (map[string]string, error) {
	for _, src := range sources {
		cookies, err := src.Cookies(ctx, platform)
		if err != nil {
			return nil, err
		}
		if len(cookies) > 0 {
			return cookies, nil
		}
	}
	return nil, nil //nolint:nilnil // no source had cookies, but this is not an error
}

// Domain returns the cookie domain for a platform, or "" if it takes none.
func Domain(platform profile.Platform) string {
	return platformDomains[platform]
}

// platformDomains maps platforms to their cookie domains.
var platformDomains = map[profile.Platform]string{
	profile.LeetCode:    "leetcode.com",
	profile.HackerRank:  "hackerrank.com",
	profile.HackerEarth: "hackerearth.com",
	profile.Code360:     "naukri.com",
}

// platformEssentialCookies maps platforms to the cookies worth forwarding.
var platformEssentialCookies = map[profile.Platform][]string{
	profile.LeetCode:    {"LEETCODE_SESSION", "csrftoken"},
	profile.HackerRank:  {"_hrank_session"},
	profile.HackerEarth: {"lordoftherings", "csrftoken"},
	profile.Code360:     {"nauk_at", "nauk_sstd"},
}

// StaticSource provides cookies from a static map.
type StaticSource struct {
	cookies map[string]string
}

// NewStaticSource creates a cookie source from a static map.
func NewStaticSource(cookies map[string]string) *StaticSource {
	return &StaticSource{cookies: cookies}
}

// Cookies returns a copy of the static cookies regardless of platform.
func (s *StaticSource) Cookies(context.Context, profile.Platform) (map[string]string, error) {
	if len(s.cookies) == 0 {
		return nil, nil //nolint:nilnil // empty static source is not an error
	}
	return maps.Clone(s.cookies), nil
}
