// Package store provides database access to routing decisions, user
// profiles, and suggestions behind a driver-agnostic facade.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/cache"
	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/internal/profile"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const (
	profileCacheSize = 512
	profileCacheTTL  = 5 * time.Minute
)

// Store provides access to all persistent objects. It satisfies the
// consumer interfaces of the routing and drift packages.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Profiles are read on every routed request; cache them.
	profileCache *cache.LRUCache[string, *routing.UserProfile]
}

var (
	_ routing.DecisionLogger      = (*Store)(nil)
	_ routing.PerformanceProvider = (*Store)(nil)
	_ drift.ProfileStore          = (*Store)(nil)
	_ drift.SuggestionStore       = (*Store)(nil)
	_ drift.DecisionSource        = (*Store)(nil)
)

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:       driver,
		profile:      profile,
		profileCache: cache.NewLRUCache[string, *routing.UserProfile](profileCacheSize, profileCacheTTL),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.profileCache.Clear()
	return s.driver.Close()
}

// Routing decisions.

func (s *Store) CreateRoutingDecision(ctx context.Context, decision *routing.RoutingDecision) (string, error) {
	return s.driver.CreateRoutingDecision(ctx, decision)
}

func (s *Store) GetRoutingDecision(ctx context.Context, id string) (*routing.RoutingDecision, error) {
	return s.driver.GetRoutingDecision(ctx, id)
}

func (s *Store) ListRoutingDecisions(ctx context.Context, userID string, since time.Time) ([]*routing.RoutingDecision, error) {
	sinceTs := since.Unix()
	return s.driver.ListRoutingDecisions(ctx, &FindRoutingDecision{
		UserID:  &userID,
		SinceTs: &sinceTs,
	})
}

func (s *Store) FindRoutingDecisions(ctx context.Context, find *FindRoutingDecision) ([]*routing.RoutingDecision, error) {
	return s.driver.ListRoutingDecisions(ctx, find)
}

func (s *Store) UpdateRoutingDecisionOutcome(ctx context.Context, id string, outcome *routing.Outcome) error {
	if outcome != nil && outcome.CompletedTs == 0 {
		outcome.CompletedTs = time.Now().Unix()
	}
	return s.driver.UpdateRoutingDecisionOutcome(ctx, id, outcome)
}

func (s *Store) ListActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	return s.driver.ListActiveUserIDs(ctx, since.Unix())
}

// GetSummary implements routing.PerformanceProvider.
func (s *Store) GetSummary(ctx context.Context, category routing.Category, window time.Duration) (routing.PerformanceSummary, error) {
	sinceTs := time.Now().Add(-window).Unix()
	return s.driver.GetPerformanceSummary(ctx, category, sinceTs)
}

// User profiles.

func (s *Store) GetUserProfile(ctx context.Context, userID string) (*routing.UserProfile, error) {
	if p, ok := s.profileCache.Get(userID); ok {
		return p, nil
	}
	p, err := s.driver.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.profileCache.Set(userID, p, profileCacheTTL)
	return p, nil
}

func (s *Store) UpsertUserProfile(ctx context.Context, p *routing.UserProfile) (*routing.UserProfile, error) {
	updated, err := s.driver.UpsertUserProfile(ctx, p)
	if err != nil {
		return nil, err
	}
	s.profileCache.Remove(p.UserID)
	return updated, nil
}

func (s *Store) UpdateProfilePreference(ctx context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error) {
	updated, err := s.driver.UpdateProfilePreference(ctx, userID, category, workerID, expectedVersion)
	// Drop the cached copy even on failure: a version conflict means the
	// cached profile is stale and the caller will re-read it.
	s.profileCache.Remove(userID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Suggestions.

func (s *Store) CreateSuggestion(ctx context.Context, sg *drift.Suggestion) (string, error) {
	return s.driver.CreateSuggestion(ctx, sg)
}

func (s *Store) GetSuggestion(ctx context.Context, id string) (*drift.Suggestion, error) {
	return s.driver.GetSuggestion(ctx, id)
}

// ListSuggestions implements drift.SuggestionStore; empty status means all.
func (s *Store) ListSuggestions(ctx context.Context, userID string, status drift.Status) ([]*drift.Suggestion, error) {
	find := &FindSuggestion{UserID: &userID}
	if status != "" {
		find.Status = &status
	}
	return s.driver.ListSuggestions(ctx, find)
}

func (s *Store) UpdateSuggestion(ctx context.Context, sg *drift.Suggestion) error {
	return s.driver.UpdateSuggestion(ctx, sg)
}
