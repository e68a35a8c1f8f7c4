// Platform registration and fetcher interfaces.

package profile

import (
	"context"
	"log/slog"
	"sync"
)

// Fetcher retrieves one platform profile for a handle.
type Fetcher interface {
	Fetch(ctx context.Context, username string) (*PlatformProfile, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, username string) (*PlatformProfile, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, username string) (*PlatformProfile, error) {
	return f(ctx, username)
}

// Source describes a platform implementation. Each platform package
// registers itself via RegisterWithFetcher() in an init() function.
type Source interface {
	// Name returns the canonical platform identifier.
	Name() Platform

	// ProfileURL returns the public profile page for a handle.
	ProfileURL(username string) string

	// Slow reports whether the platform may need a headless browser and
	// therefore gets the longer timeout.
	Slow() bool
}

// FetcherConfig holds configuration for creating platform fetchers.
type FetcherConfig struct {
	Cache     any               // httpcache.Cacher - use any to avoid import cycles
	Renderer  any               // browser.Renderer
	Endpoints map[string]string // endpoint overrides, keyed like "leetcode_graphql"
	Cookies   map[string]string // cookies for the platform being fetched
	Fallbacks map[string]int    // per-field values used when extraction finds nothing
	Logger    *slog.Logger
}

// FetchFunc fetches a profile for a handle using the given configuration.
type FetchFunc func(ctx context.Context, username string, cfg *FetcherConfig) (*PlatformProfile, error)

type platformEntry struct {
	source Source
	fetch  FetchFunc
}

var (
	registryMu sync.RWMutex
	registry   []platformEntry
	byName     = make(map[Platform]*platformEntry)
)

// RegisterWithFetcher adds a platform with its fetch function to the global registry.
func RegisterWithFetcher(s Source, fetch FetchFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := s.Name()
	if _, exists := byName[name]; exists {
		panic("platform already registered: " + string(name))
	}

	entry := &platformEntry{source: s, fetch: fetch}
	registry = append(registry, *entry)
	byName[name] = entry
}

// Sources returns all registered platforms in registration order.
func Sources() []Source {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Source, len(registry))
	for i, e := range registry {
		result[i] = e.source
	}
	return result
}

// LookupPlatform returns the registered source for a canonical name, or nil.
func LookupPlatform(name Platform) Source {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if e := byName[name]; e != nil {
		return e.source
	}
	return nil
}

// LookupFetcher returns the fetch function for a canonical name, or nil.
func LookupFetcher(name Platform) FetchFunc {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if e := byName[name]; e != nil {
		return e.fetch
	}
	return nil
}

// IsSlow reports whether the named platform is registered as slow.
func IsSlow(name Platform) bool {
	if s := LookupPlatform(name); s != nil {
		return s.Slow()
	}
	return false
}

// Endpoint returns the configured override for key, or def.
func (c *FetcherConfig) Endpoint(key, def string) string {
	if c != nil {
		if u, ok := c.Endpoints[key]; ok && u != "" {
			return u
		}
	}
	return def
}
