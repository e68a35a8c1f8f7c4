// Package fallback runs an ordered list of fetch strategies, returning the
// first success.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
)

// Strategy is one way of producing a profile.
type Strategy struct {
	Run  func(ctx context.Context, username string) (*profile.PlatformProfile, error)
	Name string
}

// Chain tries strategies in order. A strategy failing with
// ErrProfileNotFound stops the chain: other strategies cannot find a user
// the platform says does not exist.
type Chain struct {
	logger     *slog.Logger
	platform   profile.Platform
	strategies []Strategy
}

// New builds a chain for a platform.
func New(platform profile.Platform, logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{platform: platform, logger: logger, strategies: strategies}
}

// Fetch runs the chain. On success the profile's Strategy is set to the
// strategy name unless the strategy already set it.
func (c *Chain) Fetch(ctx context.Context, username string) (*profile.PlatformProfile, error) {
	if len(c.strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies for %s", profile.ErrUnsupportedPlatform, c.platform)
	}

	var errs []error
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		p, err := s.Run(ctx, username)
		if err == nil && p != nil {
			if p.Strategy == "" {
				p.Strategy = s.Name
			}
			return p, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty result", profile.ErrParse)
		}

		c.logger.InfoContext(ctx, "strategy failed",
			"platform", c.platform, "username", username, "strategy", s.Name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		if errors.Is(err, profile.ErrProfileNotFound) {
			break
		}
	}
	return nil, errors.Join(errs...)
}
