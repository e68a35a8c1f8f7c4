package auth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // Import all browser cookie stores
	"github.com/browserutils/kooky/browser/chrome"
	"github.com/browserutils/kooky/browser/firefox"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// BrowserSource reads cookies from local browser cookie stores.
type BrowserSource struct {
	logger *slog.Logger
	home   string
}

// NewBrowserSource creates a new browser cookie source.
func NewBrowserSource(logger *slog.Logger) *BrowserSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserSource{logger: logger, home: os.Getenv("HOME")}
}

// Cookies returns cookies for the given platform from browser stores.
func (s *BrowserSource) Cookies(ctx context.Context, platform profile.Platform) (map[string]string, error) {
	domain, ok := platformDomains[platform]
	if !ok {
		return nil, nil //nolint:nilnil // no cookies for unknown platform is not an error
	}

	s.logger.DebugContext(ctx, "reading browser cookies", "platform", platform, "domain", domain)

	// Firefox-family profiles first; kooky's auto-detection misses forks and Linux paths.
	if cookies := s.tryFirefoxProfiles(ctx, domain, platform); len(cookies) > 0 {
		return cookies, nil
	}
	if cookies := s.tryChromeProfiles(ctx, domain, platform); len(cookies) > 0 {
		return cookies, nil
	}

	kookies, err := kooky.ReadCookies(ctx, kooky.Valid, kooky.DomainHasSuffix(domain))
	if err != nil {
		s.logger.DebugContext(ctx, "failed to read browser cookies", "platform", platform, "error", err)
		return nil, nil //nolint:nilnil // failed browser read is not a fatal error
	}
	if len(kookies) == 0 {
		return nil, nil //nolint:nilnil // no browser cookies is not an error
	}
	return s.filterEssentialCookies(ctx, kookies, platform), nil
}

func (s *BrowserSource) firefoxDirs() []string {
	if s.home == "" {
		return nil
	}
	return []string{
		filepath.Join(s.home, "Library", "Application Support", "Firefox", "Profiles"),
		filepath.Join(s.home, "Library", "Application Support", "zen", "Profiles"),
		filepath.Join(s.home, ".mozilla", "firefox"),
	}
}

// tryFirefoxProfiles reads cookies.sqlite from every Firefox-family profile.
func (s *BrowserSource) tryFirefoxProfiles(ctx context.Context, domain string, platform profile.Platform) map[string]string {
	for _, dir := range s.firefoxDirs() {
		matches, err := filepath.Glob(filepath.Join(dir, "*", "cookies.sqlite"))
		if err != nil {
			continue
		}
		for _, f := range matches {
			kookies, err := firefox.ReadCookies(ctx, f, kooky.Valid, kooky.DomainHasSuffix(domain))
			if err != nil {
				s.logger.DebugContext(ctx, "failed to read Firefox cookies",
					"profile", filepath.Base(filepath.Dir(f)), "platform", platform, "error", err)
				continue
			}
			if len(kookies) > 0 {
				s.logger.DebugContext(ctx, "found Firefox cookies",
					"profile", filepath.Base(filepath.Dir(f)), "platform", platform, "count", len(kookies))
				return s.filterEssentialCookies(ctx, kookies, platform)
			}
		}
	}
	return nil
}

// tryChromeProfiles reads Chrome and Chrome Canary profile cookie stores.
func (s *BrowserSource) tryChromeProfiles(ctx context.Context, domain string, platform profile.Platform) map[string]string {
	if s.home == "" {
		return nil
	}
	roots := []string{
		filepath.Join(s.home, "Library", "Application Support", "Google", "Chrome Canary"),
		filepath.Join(s.home, ".config", "google-chrome"),
	}
	names := []string{"Default", "Profile 1", "Profile 2", "Profile 3"}

	for _, root := range roots {
		for _, name := range names {
			cookiesFile := filepath.Join(root, name, "Cookies")
			if _, err := os.Stat(cookiesFile); err != nil {
				continue
			}
			kookies, err := chrome.ReadCookies(ctx, cookiesFile, kooky.Valid, kooky.DomainHasSuffix(domain))
			if err != nil {
				if strings.Contains(err.Error(), "decrypt") || strings.Contains(err.Error(), "encryption") {
					s.logger.WarnContext(ctx, "Chrome cookies exist but cannot be decrypted",
						"profile", name, "platform", platform,
						"hint", "use Firefox or set cookies via environment variables")
				}
				continue
			}
			if len(kookies) > 0 {
				return s.filterEssentialCookies(ctx, kookies, platform)
			}
		}
	}
	return nil
}

// filterEssentialCookies keeps only the cookies a platform session needs.
func (s *BrowserSource) filterEssentialCookies(ctx context.Context, kookies []*kooky.Cookie, platform profile.Platform) map[string]string {
	all := make(map[string]string, len(kookies))
	for _, c := range kookies {
		all[c.Name] = c.Value
	}
	return s.essential(ctx, all, platform)
}

func (s *BrowserSource) essential(ctx context.Context, all map[string]string, platform profile.Platform) map[string]string {
	names := platformEssentialCookies[platform]
	cookies := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		if v, ok := all[name]; ok {
			cookies[name] = v
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		s.logger.InfoContext(ctx, "browser cookies missing", "platform", platform, "keys", missing)
	}
	return cookies
}
