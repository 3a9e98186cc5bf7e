package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/routing"
)

// Status is the lifecycle state of a suggestion.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	// StatusStale marks suggestions whose target preference changed before
	// the user responded.
	StatusStale Status = "stale"
)

// Suggestion proposes one preference update derived from detected drift.
type Suggestion struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Category        routing.Category `json:"category"`
	CurrentWorker   string           `json:"current_worker"`
	SuggestedWorker string           `json:"suggested_worker"`
	Reasoning       string           `json:"reasoning"`
	Priority        float64          `json:"priority"`
	Confidence      float64          `json:"confidence"`
	Status          Status           `json:"status"`
	// ProfileVersion is the profile version the suggestion was generated
	// against, used for optimistic concurrency on accept.
	ProfileVersion int    `json:"profile_version"`
	CreatedTs      int64  `json:"created_ts"`
	ResolvedTs     int64  `json:"resolved_ts,omitempty"`
	ResolutionNote string `json:"resolution_note,omitempty"`
}

// ErrVersionConflict is returned by profile stores when a versioned update
// loses the race against a concurrent writer.
var ErrVersionConflict = errors.New("profile version conflict")

// ErrSuggestionNotFound is returned when a suggestion id is unknown.
var ErrSuggestionNotFound = errors.New("suggestion not found")

// ProfileStore is the profile access the engine needs.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID string) (*routing.UserProfile, error)
	// UpdateProfilePreference applies one preference change if the profile
	// still has the expected version, returning the updated profile.
	UpdateProfilePreference(ctx context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error)
}

// SuggestionStore persists suggestion lifecycle state.
type SuggestionStore interface {
	CreateSuggestion(ctx context.Context, s *Suggestion) (string, error)
	GetSuggestion(ctx context.Context, id string) (*Suggestion, error)
	ListSuggestions(ctx context.Context, userID string, status Status) ([]*Suggestion, error)
	UpdateSuggestion(ctx context.Context, s *Suggestion) error
}

// EngineConfig tunes suggestion generation.
type EngineConfig struct {
	// ConfidenceFloor is the minimum drift confidence that may become a
	// suggestion. Stricter than the detector floor: surfacing a suggestion
	// interrupts the user.
	ConfidenceFloor float64
	// VolumeSaturation is the sample size at which the volume factor of the
	// priority reaches 1.
	VolumeSaturation int
}

// DefaultEngineConfig returns built-in engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ConfidenceFloor:  0.65,
		VolumeSaturation: 50,
	}
}

// SuggestionMetrics receives suggestion lifecycle events.
type SuggestionMetrics interface {
	ObserveSuggestion(status string)
}

// Engine generates and resolves preference-update suggestions.
type Engine struct {
	profiles    ProfileStore
	suggestions SuggestionStore
	metrics     SuggestionMetrics
	cfg         EngineConfig
}

// NewEngine creates a suggestion engine.
func NewEngine(profiles ProfileStore, suggestions SuggestionStore, metrics SuggestionMetrics, cfg EngineConfig) (*Engine, error) {
	if profiles == nil || suggestions == nil {
		return nil, errors.New("drift: profile and suggestion stores required")
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultEngineConfig().ConfidenceFloor
	}
	if cfg.VolumeSaturation <= 0 {
		cfg.VolumeSaturation = DefaultEngineConfig().VolumeSaturation
	}
	return &Engine{profiles: profiles, suggestions: suggestions, metrics: metrics, cfg: cfg}, nil
}

// Generate turns detected drifts into pending suggestions. Drifts below the
// confidence floor, drifts already matching the declared preference, and
// drifts with an identical pending suggestion are skipped.
func (e *Engine) Generate(ctx context.Context, profile *routing.UserProfile, drifts []Drift) ([]*Suggestion, error) {
	if profile == nil {
		return nil, routing.ErrMissingProfile
	}

	pending, err := e.suggestions.ListSuggestions(ctx, profile.UserID, StatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending suggestions")
	}
	pending, err = e.sweepStale(ctx, profile, pending)
	if err != nil {
		return nil, err
	}

	var created []*Suggestion
	for _, d := range drifts {
		if d.Confidence < e.cfg.ConfidenceFloor {
			continue
		}
		// Re-check at generation time: the profile may already have been
		// updated since the window was collected.
		if current, ok := profile.PreferredWorker(d.Category); ok && current == d.DominantWorker {
			continue
		}
		if hasPendingFor(pending, d.Category, d.DominantWorker) {
			continue
		}

		s := &Suggestion{
			ID:              uuid.NewString(),
			UserID:          profile.UserID,
			Category:        d.Category,
			CurrentWorker:   d.PreferredWorker,
			SuggestedWorker: d.DominantWorker,
			Reasoning:       reasoningFor(d),
			Priority:        e.priorityFor(d),
			Confidence:      d.Confidence,
			Status:          StatusPending,
			ProfileVersion:  profile.Version,
			CreatedTs:       time.Now().Unix(),
		}
		id, err := e.suggestions.CreateSuggestion(ctx, s)
		if err != nil {
			return created, errors.Wrapf(err, "failed to create suggestion for %s", d.Category)
		}
		s.ID = id
		created = append(created, s)
		e.observe(string(StatusPending))
		slog.Info("suggestion created",
			"user", s.UserID, "category", s.Category,
			"from", s.CurrentWorker, "to", s.SuggestedWorker,
			"confidence", s.Confidence, "priority", s.Priority)
	}
	return created, nil
}

// sweepStale marks pending suggestions whose declared preference changed
// after generation and returns the suggestions still pending.
func (e *Engine) sweepStale(ctx context.Context, profile *routing.UserProfile, pending []*Suggestion) ([]*Suggestion, error) {
	live := pending[:0]
	for _, s := range pending {
		current, _ := profile.PreferredWorker(s.Category)
		if current == s.CurrentWorker {
			live = append(live, s)
			continue
		}
		s.Status = StatusStale
		s.ResolvedTs = time.Now().Unix()
		s.ResolutionNote = "declared preference changed after generation"
		if err := e.suggestions.UpdateSuggestion(ctx, s); err != nil {
			return nil, errors.Wrapf(err, "failed to mark suggestion %s stale", s.ID)
		}
		e.observe(string(StatusStale))
		slog.Info("suggestion went stale",
			"user", s.UserID, "category", s.Category, "suggestion", s.ID)
	}
	return live, nil
}

// AcceptResult reports what accepting a suggestion actually did.
type AcceptResult struct {
	Suggestion *Suggestion `json:"suggestion"`
	// Applied is false when accept was an idempotent no-op.
	Applied     bool   `json:"applied"`
	Explanation string `json:"explanation,omitempty"`
	// NewVersion is the profile version after a successful apply.
	NewVersion int `json:"new_version,omitempty"`
}

// Accept applies the suggested preference to the profile with optimistic
// concurrency. Accepting an already-resolved suggestion is an idempotent
// no-op. A version conflict is retried once against the fresh profile; if
// the fresh profile already carries the suggested preference the accept
// degrades to a no-op instead of failing.
func (e *Engine) Accept(ctx context.Context, suggestionID string) (*AcceptResult, error) {
	s, err := e.suggestions.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case StatusAccepted:
		return &AcceptResult{Suggestion: s, Applied: false, Explanation: "suggestion already accepted"}, nil
	case StatusRejected:
		return &AcceptResult{Suggestion: s, Applied: false, Explanation: "suggestion was rejected and cannot be accepted"}, nil
	case StatusStale:
		return &AcceptResult{Suggestion: s, Applied: false, Explanation: "suggestion is stale: the preference changed since it was generated"}, nil
	}

	profile, err := e.profiles.GetUserProfile(ctx, s.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load profile for accept")
	}
	if current, ok := profile.PreferredWorker(s.Category); ok && current == s.SuggestedWorker {
		// Someone else already made this change; resolve without writing.
		if err := e.resolve(ctx, s, StatusAccepted, "preference already matched at accept time"); err != nil {
			return nil, err
		}
		return &AcceptResult{Suggestion: s, Applied: false,
			Explanation: "preference already set to the suggested worker", NewVersion: profile.Version}, nil
	}

	updated, err := e.profiles.UpdateProfilePreference(ctx, s.UserID, s.Category, s.SuggestedWorker, profile.Version)
	if errors.Is(err, ErrVersionConflict) {
		fresh, ferr := e.profiles.GetUserProfile(ctx, s.UserID)
		if ferr != nil {
			return nil, errors.Wrap(ferr, "failed to reload profile after version conflict")
		}
		if current, ok := fresh.PreferredWorker(s.Category); ok && current == s.SuggestedWorker {
			if rerr := e.resolve(ctx, s, StatusAccepted, "concurrent update applied the same preference"); rerr != nil {
				return nil, rerr
			}
			return &AcceptResult{Suggestion: s, Applied: false,
				Explanation: "a concurrent update already applied this preference", NewVersion: fresh.Version}, nil
		}
		updated, err = e.profiles.UpdateProfilePreference(ctx, s.UserID, s.Category, s.SuggestedWorker, fresh.Version)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply suggested preference")
	}

	if err := e.resolve(ctx, s, StatusAccepted, ""); err != nil {
		return nil, err
	}
	return &AcceptResult{Suggestion: s, Applied: true, NewVersion: updated.Version}, nil
}

// RejectResult reports what rejecting a suggestion actually did.
type RejectResult struct {
	Suggestion *Suggestion `json:"suggestion"`
	// Applied is false when reject was an idempotent no-op.
	Applied     bool   `json:"applied"`
	Explanation string `json:"explanation,omitempty"`
}

// Reject marks a pending suggestion rejected. Rejecting an already-resolved
// suggestion is an idempotent no-op with an explanation, never an error.
func (e *Engine) Reject(ctx context.Context, suggestionID, note string) (*RejectResult, error) {
	s, err := e.suggestions.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case StatusRejected:
		return &RejectResult{Suggestion: s, Applied: false, Explanation: "suggestion already rejected"}, nil
	case StatusAccepted:
		return &RejectResult{Suggestion: s, Applied: false,
			Explanation: "suggestion was accepted and the preference change stands"}, nil
	case StatusStale:
		return &RejectResult{Suggestion: s, Applied: false,
			Explanation: "suggestion is stale: the preference changed since it was generated"}, nil
	}

	if err := e.resolve(ctx, s, StatusRejected, note); err != nil {
		return nil, err
	}
	return &RejectResult{Suggestion: s, Applied: true}, nil
}

// List returns a user's suggestions filtered by status; empty status means all.
func (e *Engine) List(ctx context.Context, userID string, status Status) ([]*Suggestion, error) {
	return e.suggestions.ListSuggestions(ctx, userID, status)
}

func (e *Engine) resolve(ctx context.Context, s *Suggestion, status Status, note string) error {
	s.Status = status
	s.ResolvedTs = time.Now().Unix()
	s.ResolutionNote = note
	if err := e.suggestions.UpdateSuggestion(ctx, s); err != nil {
		return errors.Wrapf(err, "failed to mark suggestion %s %s", s.ID, status)
	}
	e.observe(string(status))
	return nil
}

func (e *Engine) observe(status string) {
	if e.metrics != nil {
		e.metrics.ObserveSuggestion(status)
	}
}

// priorityFor blends request volume, drift magnitude, and drift confidence.
func (e *Engine) priorityFor(d Drift) float64 {
	volume := float64(d.SampleSize) / float64(e.cfg.VolumeSaturation)
	if volume > 1 {
		volume = 1
	}
	return 0.4*volume + 0.3*d.Magnitude + 0.3*d.Confidence
}

// reasoningFor renders the evidence in user-facing terms.
func reasoningFor(d Drift) string {
	return fmt.Sprintf(
		"over the last %d %s tasks, %s handled %.0f%% while your preferred %s handled %.0f%%",
		d.SampleSize, d.Category, d.DominantWorker, d.DominantRate*100,
		d.PreferredWorker, d.PreferredRate*100)
}

func hasPendingFor(pending []*Suggestion, category routing.Category, worker string) bool {
	for _, s := range pending {
		if s.Category == category && s.SuggestedWorker == worker {
			return true
		}
	}
	return false
}
