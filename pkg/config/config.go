// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// endpointVars maps environment variables to fetcher endpoint keys.
var endpointVars = map[string]string{
	"LEETCODE_STATS_URL":   "leetcode_stats",
	"LEETCODE_GRAPHQL_URL": "leetcode_graphql",
	"CODEFORCES_API_URL":   "codeforces_api",
	"CODECHEF_URL":         "codechef",
	"HACKERRANK_URL":       "hackerrank",
	"HACKEREARTH_URL":      "hackerearth",
	"CODE360_URL":          "code360",
	"CODE360_API_URL":      "code360_api",
	"GFG_API_URL":          "gfg_api",
	"GFG_PRACTICE_URL":     "gfg_practice",
}

// Config is the full runtime configuration.
//
//nolint:govet // fieldalignment: grouped by concern
type Config struct {
	// Storage
	DBDriver string
	DBDSN    string

	// Fetching
	Timeout     time.Duration
	SlowTimeout time.Duration
	CacheTTL    time.Duration
	CacheDir    string
	Endpoints   map[string]string
	Fallbacks   map[profile.Platform]map[string]int

	// Browser
	BrowserBin string
	Headless   bool

	// Diagnostics
	Debug            bool
	SnapshotDir      string
	SnapshotBucket   string
	SnapshotEndpoint string
	SnapshotRegion   string

	// Refresh
	RefreshEvery time.Duration
	RosterPath   string
}

// Load reads files (".env" when none are given) into the environment
// without overriding variables already set, then builds a Config.
// Missing files are not an error; malformed values fall back to defaults.
func Load(files ...string) Config {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no .env file found, using environment")
		} else {
			slog.Warn("failed to read .env file", "error", err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() Config {
	cfg := Config{
		DBDriver:         strings.ToLower(getenv("CODEPROFILE_DB_DRIVER", "sqlite")),
		DBDSN:            getenv("CODEPROFILE_DB_DSN", ""),
		Timeout:          getenvDuration("CODEPROFILE_TIMEOUT", 15*time.Second),
		SlowTimeout:      getenvDuration("CODEPROFILE_SLOW_TIMEOUT", 60*time.Second),
		CacheTTL:         getenvDuration("CODEPROFILE_CACHE_TTL", 6*time.Hour),
		CacheDir:         getenv("CODEPROFILE_CACHE_DIR", ""),
		Endpoints:        make(map[string]string),
		Fallbacks:        parseFallbacks(os.Getenv("CODEPROFILE_FALLBACKS")),
		BrowserBin:       getenv("CODEPROFILE_BROWSER_BIN", ""),
		Headless:         getenvBool("CODEPROFILE_HEADLESS", true),
		Debug:            getenvBool("CODEPROFILE_DEBUG", false),
		SnapshotDir:      getenv("CODEPROFILE_SNAPSHOT_DIR", "./snapshots"),
		SnapshotBucket:   getenv("CODEPROFILE_SNAPSHOT_BUCKET", ""),
		SnapshotEndpoint: getenv("CODEPROFILE_SNAPSHOT_ENDPOINT", ""),
		SnapshotRegion:   getenv("CODEPROFILE_SNAPSHOT_REGION", ""),
		RefreshEvery:     getenvDuration("CODEPROFILE_REFRESH_EVERY", 6*time.Hour),
		RosterPath:       getenv("CODEPROFILE_ROSTER", "roster.json"),
	}

	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultDSN(cfg.DBDriver)
	}
	for env, key := range endpointVars {
		if v := os.Getenv(env); v != "" {
			cfg.Endpoints[key] = strings.TrimRight(v, "/")
		}
	}
	return cfg
}

// DefaultDSN is the DSN used for driver when none is configured.
func DefaultDSN(driver string) string {
	switch driver {
	case "postgres", "postgresql", "pg":
		return os.Getenv("DATABASE_URL")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "profiles.db"
		}
		return filepath.Join(home, ".codeprofile", "profiles.db")
	}
}

// FetcherConfig returns the adapter configuration for one platform.
// Callers add the cache, renderer, cookies and logger.
func (c Config) FetcherConfig(platform profile.Platform) *profile.FetcherConfig {
	return &profile.FetcherConfig{
		Endpoints: c.Endpoints,
		Fallbacks: c.Fallbacks[platform],
	}
}

// parseFallbacks reads "platform.field=value" pairs separated by commas,
// e.g. "codechef.rating=1500,hackerearth.contests.max=150". A ".max" field
// suffix sets the field's plausibility limit instead of its fallback.
func parseFallbacks(s string) map[profile.Platform]map[string]int {
	out := make(map[profile.Platform]map[string]int)
	for pair := range strings.SplitSeq(s, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		platform, field, ok := strings.Cut(key, ".")
		if !ok || field == "" {
			continue
		}
		name, err := profile.Canonical(platform)
		if err != nil {
			slog.Warn("ignoring fallback for unknown platform", "platform", platform)
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			slog.Warn("ignoring non-numeric fallback", "key", key, "value", val)
			continue
		}
		if out[name] == nil {
			out[name] = make(map[string]int)
		}
		out[name][strings.TrimSpace(field)] = n
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getenvDuration accepts Go durations ("90s") or plain seconds ("90").
// "0" is a valid value.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs := getenvInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("ignoring malformed duration", "key", key, "value", v)
	return fallback
}
