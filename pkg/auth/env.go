package auth

import (
	"context"
	"os"
	"slices"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// platformEnvVars maps each platform's env var names to cookie names.
var platformEnvVars = map[profile.Platform]map[string]string{
	profile.LeetCode: {
		"LEETCODE_SESSION":   "LEETCODE_SESSION",
		"LEETCODE_CSRFTOKEN": "csrftoken",
	},
	profile.HackerRank: {
		"HACKERRANK_SESSION": "_hrank_session",
	},
	profile.HackerEarth: {
		"HACKEREARTH_SESSION": "lordoftherings",
	},
	profile.Code360: {
		"CODE360_NAUK_AT": "nauk_at",
	},
}

// EnvSource reads cookies from environment variables.
type EnvSource struct{}

// Cookies returns cookies for the given platform from environment variables.
func (EnvSource) Cookies(_ context.Context, platform profile.Platform) (map[string]string, error) {
	envMap, ok := platformEnvVars[platform]
	if !ok {
		return nil, nil //nolint:nilnil // no cookies for unknown platform is not an error
	}

	cookies := make(map[string]string)
	for envVar, cookieName := range envMap {
		if value := os.Getenv(envVar); value != "" {
			cookies[cookieName] = value
		}
	}

	if len(cookies) == 0 {
		return nil, nil //nolint:nilnil // no env vars set is not an error
	}
	return cookies, nil
}

// EnvVarsForPlatform returns the sorted environment variable names for a platform.
func EnvVarsForPlatform(platform profile.Platform) []string {
	envMap, ok := platformEnvVars[platform]
	if !ok {
		return nil
	}

	vars := make([]string, 0, len(envMap))
	for envVar := range envMap {
		vars = append(vars, envVar)
	}
	slices.Sort(vars)
	return vars
}
