package store

import (
	"context"
	"database/sql"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/routing"
)

// FindRoutingDecision specifies conditions for listing routing decisions.
type FindRoutingDecision struct {
	UserID   *string
	Category *routing.Category
	// SinceTs filters on created_ts (inclusive).
	SinceTs *int64
	Limit   int
}

// FindSuggestion specifies conditions for listing suggestions.
type FindSuggestion struct {
	UserID *string
	Status *drift.Status
	Limit  int
}

// Driver is the storage backend contract. Implemented by postgres, sqlite,
// and the in-memory driver.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Routing decision log (append-only; outcome is the only mutable field).
	CreateRoutingDecision(ctx context.Context, decision *routing.RoutingDecision) (string, error)
	GetRoutingDecision(ctx context.Context, id string) (*routing.RoutingDecision, error)
	ListRoutingDecisions(ctx context.Context, find *FindRoutingDecision) ([]*routing.RoutingDecision, error)
	UpdateRoutingDecisionOutcome(ctx context.Context, id string, outcome *routing.Outcome) error
	ListActiveUserIDs(ctx context.Context, sinceTs int64) ([]string, error)

	// Aggregated per-worker outcome history for one category.
	GetPerformanceSummary(ctx context.Context, category routing.Category, sinceTs int64) (routing.PerformanceSummary, error)

	// User profiles with optimistic versioning.
	GetUserProfile(ctx context.Context, userID string) (*routing.UserProfile, error)
	UpsertUserProfile(ctx context.Context, profile *routing.UserProfile) (*routing.UserProfile, error)
	UpdateProfilePreference(ctx context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error)

	// Suggestion lifecycle.
	CreateSuggestion(ctx context.Context, s *drift.Suggestion) (string, error)
	GetSuggestion(ctx context.Context, id string) (*drift.Suggestion, error)
	ListSuggestions(ctx context.Context, find *FindSuggestion) ([]*drift.Suggestion, error)
	UpdateSuggestion(ctx context.Context, s *drift.Suggestion) error
}
