package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/codeprofile/pkg/activity"
	"github.com/codeGROOVE-dev/codeprofile/pkg/profile"
	"github.com/codeGROOVE-dev/codeprofile/pkg/store"
)

// PersistError is a storage failure for one successfully fetched profile.
type PersistError struct {
	Err      error            `json:"-"`
	Platform profile.Platform `json:"platform"`
	Cause    string           `json:"cause"`
}

func (e *PersistError) Error() string { return "persist " + string(e.Platform) + ": " + e.Cause }

func (e *PersistError) Unwrap() error { return e.Err }

// Result is the outcome of one Aggregate call.
type Result struct {
	Timestamp     time.Time       `json:"timestamp"`
	Profiles      []Outcome       `json:"profiles"`
	PersistErrors []*PersistError `json:"persist_errors,omitempty"`
	SavedCount    int             `json:"saved_count"`
	FailedCount   int             `json:"failed_count"`
}

// Service fetches a user's profiles and keeps the store current.
type Service struct {
	orch   *Orchestrator
	store  store.Gateway
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets a custom logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithServiceClock overrides the result timestamp source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. gw must not be nil.
func NewService(orch *Orchestrator, gw store.Gateway, opts ...ServiceOption) (*Service, error) {
	if orch == nil || gw == nil {
		return nil, errors.New("aggregate: orchestrator and store are required")
	}
	s := &Service{orch: orch, store: gw, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Aggregate fetches every handle concurrently, then persists each successful
// profile for userID. Failed fetches leave stored records untouched. Storage
// failures are reported in PersistErrors and never alter the returned profiles.
func (s *Service) Aggregate(ctx context.Context, userID string, handles map[string]string) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, store.ErrInvalidUser
	}
	batch, err := s.orch.FetchAll(ctx, handles)
	if err != nil {
		return nil, err
	}

	res := &Result{Profiles: batch.Outcomes, FailedCount: batch.Failed}
	for _, o := range batch.Outcomes {
		if !o.OK() {
			continue
		}
		data := o.Profile
		if data.Partial {
			data = s.keepStored(ctx, userID, data)
		}
		if _, err := s.store.Upsert(ctx, userID, string(o.Platform), data); err != nil {
			s.logger.WarnContext(ctx, "failed to persist profile", "user_id", userID, "platform", o.Platform, "error", err)
			res.PersistErrors = append(res.PersistErrors, &PersistError{Platform: o.Platform, Cause: err.Error(), Err: err})
			continue
		}
		res.SavedCount++
	}
	res.Timestamp = s.now().UTC()

	s.logger.InfoContext(ctx, "aggregated profiles",
		"user_id", userID, "saved", res.SavedCount, "failed", res.FailedCount, "persist_errors", len(res.PersistErrors))
	return res, nil
}

// keepStored fills the fields a partial profile lacks from the record already
// stored for the same handle, so a degraded fetch does not zero them. The
// fetched profile is not modified.
func (s *Service) keepStored(ctx context.Context, userID string, p *profile.PlatformProfile) *profile.PlatformProfile {
	records, err := s.store.Get(ctx, userID, string(p.Platform))
	if err != nil || len(records) == 0 {
		if err != nil {
			s.logger.DebugContext(ctx, "no stored record to merge", "user_id", userID, "platform", p.Platform, "error", err)
		}
		return p
	}
	old := records[0].Data
	if !strings.EqualFold(old.Username, p.Username) {
		return p
	}

	merged := *p
	if merged.TotalSolved == 0 && old.TotalSolved > 0 {
		merged.TotalSolved = old.TotalSolved
		if len(merged.ProblemsByDifficulty) == 0 {
			merged.ProblemsByDifficulty = old.ProblemsByDifficulty
		}
	}
	if merged.Rating == nil {
		merged.Rating = old.Rating
	}
	if merged.MaxRating == nil {
		merged.MaxRating = old.MaxRating
	}
	if merged.GlobalRank == nil {
		merged.GlobalRank = old.GlobalRank
	}
	if merged.ContestsAttended == nil {
		merged.ContestsAttended = old.ContestsAttended
	}
	if merged.Rank == "" {
		merged.Rank = old.Rank
	}
	if merged.ContestHistory == nil {
		merged.ContestHistory = old.ContestHistory
	}
	if merged.ActivitySeries == nil {
		merged.ActivitySeries = old.ActivitySeries
	}
	if n := merged.CategorizedSolved(); merged.TotalSolved < n {
		merged.TotalSolved = n
	}
	s.logger.DebugContext(ctx, "merged partial profile with stored record", "user_id", userID, "platform", p.Platform)
	return &merged
}

// Disconnect removes the stored record of one platform for userID.
func (s *Service) Disconnect(ctx context.Context, userID, platform string) error {
	if strings.TrimSpace(userID) == "" {
		return store.ErrInvalidUser
	}
	if err := s.store.Delete(ctx, userID, platform); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.logger.InfoContext(ctx, "disconnected platform", "user_id", userID, "platform", platform)
	return nil
}

// Stored returns the user's persisted profiles, optionally restricted to platforms.
func (s *Service) Stored(ctx context.Context, userID string, platforms ...string) ([]store.Record, error) {
	return s.store.Get(ctx, userID, platforms...)
}

// Activity merges the activity of the user's persisted profiles.
func (s *Service) Activity(ctx context.Context, userID string) (activity.Aggregated, error) {
	records, err := s.store.Get(ctx, userID)
	if err != nil {
		return activity.Aggregated{}, err
	}
	profiles := make([]*profile.PlatformProfile, len(records))
	for i := range records {
		profiles[i] = &records[i].Data
	}
	return activity.Merge(profiles...), nil
}
