package drift

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelpilot/ai/routing"
)

type fakeProfileStore struct {
	profiles map[string]*routing.UserProfile
	// conflictOnce forces one ErrVersionConflict before succeeding.
	conflictOnce bool
	updates      int
}

func (f *fakeProfileStore) GetUserProfile(_ context.Context, userID string) (*routing.UserProfile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, routing.ErrMissingProfile
	}
	clone := *p
	prefs := make(map[routing.Category]string, len(p.Preferences))
	for k, v := range p.Preferences {
		prefs[k] = v
	}
	clone.Preferences = prefs
	return &clone, nil
}

func (f *fakeProfileStore) UpdateProfilePreference(_ context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error) {
	p := f.profiles[userID]
	if f.conflictOnce {
		f.conflictOnce = false
		// Simulate a concurrent writer bumping the version.
		p.Version++
		return nil, ErrVersionConflict
	}
	if p.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	p.Preferences[category] = workerID
	p.Version++
	f.updates++
	return p, nil
}

type fakeSuggestionStore struct {
	byID map[string]*Suggestion
}

func newFakeSuggestionStore() *fakeSuggestionStore {
	return &fakeSuggestionStore{byID: make(map[string]*Suggestion)}
}

func (f *fakeSuggestionStore) CreateSuggestion(_ context.Context, s *Suggestion) (string, error) {
	clone := *s
	f.byID[s.ID] = &clone
	return s.ID, nil
}

func (f *fakeSuggestionStore) GetSuggestion(_ context.Context, id string) (*Suggestion, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, ErrSuggestionNotFound
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSuggestionStore) ListSuggestions(_ context.Context, userID string, status Status) ([]*Suggestion, error) {
	var out []*Suggestion
	for _, s := range f.byID {
		if s.UserID != userID {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeSuggestionStore) UpdateSuggestion(_ context.Context, s *Suggestion) error {
	if _, ok := f.byID[s.ID]; !ok {
		return ErrSuggestionNotFound
	}
	clone := *s
	f.byID[s.ID] = &clone
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeProfileStore, *fakeSuggestionStore) {
	t.Helper()
	profiles := &fakeProfileStore{profiles: map[string]*routing.UserProfile{
		"u-1": driftProfile(),
	}}
	suggestions := newFakeSuggestionStore()
	engine, err := NewEngine(profiles, suggestions, nil, DefaultEngineConfig())
	require.NoError(t, err)
	return engine, profiles, suggestions
}

func sampleDrift() Drift {
	return Drift{
		UserID:          "u-1",
		Category:        routing.CategoryCode,
		PreferredWorker: "worker_A",
		DominantWorker:  "worker_B",
		PreferredRate:   0.25,
		DominantRate:    0.75,
		Magnitude:       0.5,
		Confidence:      0.73,
		SampleSize:      20,
	}
}

func TestGenerateCreatesPendingSuggestion(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")

	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)
	require.Len(t, created, 1)

	s := created[0]
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, "worker_A", s.CurrentWorker)
	assert.Equal(t, "worker_B", s.SuggestedWorker)
	assert.Equal(t, profile.Version, s.ProfileVersion)
	assert.Contains(t, s.Reasoning, "75%")
	assert.Contains(t, s.Reasoning, "25%")
	// 0.4*(20/50) + 0.3*0.5 + 0.3*0.73
	assert.InDelta(t, 0.529, s.Priority, 1e-3)
}

func TestGenerateSkipsLowConfidenceDrift(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")

	d := sampleDrift()
	d.Confidence = 0.6 // below the 0.65 floor

	created, err := engine.Generate(context.Background(), profile, []Drift{d})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestGenerateSkipsAlreadyMatchingPreference(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profiles.profiles["u-1"].Preferences[routing.CategoryCode] = "worker_B"
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")

	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestGenerateDeduplicatesPending(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")

	first, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestGenerateSweepsStaleSuggestions(t *testing.T) {
	engine, profiles, suggestions := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")

	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)
	require.Len(t, created, 1)

	// The declared preference changes while the suggestion is pending.
	profiles.profiles["u-1"].Preferences[routing.CategoryCode] = "worker_C"
	profiles.profiles["u-1"].Version++
	fresh, _ := profiles.GetUserProfile(context.Background(), "u-1")

	_, err = engine.Generate(context.Background(), fresh, nil)
	require.NoError(t, err)

	stale, err := suggestions.GetSuggestion(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStale, stale.Status)
	assert.NotZero(t, stale.ResolvedTs)

	// A stale suggestion cannot be accepted anymore.
	result, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Contains(t, result.Explanation, "stale")
}

func TestAcceptAppliesPreference(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	result, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Equal(t, 4, result.NewVersion)
	assert.Equal(t, "worker_B", profiles.profiles["u-1"].Preferences[routing.CategoryCode])
	assert.Equal(t, StatusAccepted, result.Suggestion.Status)
}

func TestAcceptIsIdempotent(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	first, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, "suggestion already accepted", second.Explanation)
	assert.Equal(t, 1, profiles.updates, "profile must be written exactly once")
}

func TestAcceptAfterRejectIsNoOp(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	rejected, err := engine.Reject(context.Background(), created[0].ID, "not interested")
	require.NoError(t, err)
	require.True(t, rejected.Applied)

	result, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Contains(t, result.Explanation, "rejected")
	assert.Zero(t, profiles.updates)
}

func TestAcceptRetriesVersionConflict(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	profiles.conflictOnce = true
	result, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Equal(t, "worker_B", profiles.profiles["u-1"].Preferences[routing.CategoryCode])
}

func TestAcceptNoOpWhenConcurrentUpdateMatches(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	// Another writer set the same preference before accept ran.
	profiles.profiles["u-1"].Preferences[routing.CategoryCode] = "worker_B"
	profiles.profiles["u-1"].Version++

	result, err := engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Zero(t, profiles.updates)
	assert.Equal(t, StatusAccepted, result.Suggestion.Status)
}

func TestRejectIsIdempotentNoOp(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	first, err := engine.Reject(context.Background(), created[0].ID, "no")
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := engine.Reject(context.Background(), created[0].ID, "no again")
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, "suggestion already rejected", second.Explanation)
	// The original resolution note is preserved.
	assert.Equal(t, "no", second.Suggestion.ResolutionNote)
}

func TestRejectAfterAcceptIsNoOp(t *testing.T) {
	engine, profiles, _ := newTestEngine(t)
	profile, _ := profiles.GetUserProfile(context.Background(), "u-1")
	created, err := engine.Generate(context.Background(), profile, []Drift{sampleDrift()})
	require.NoError(t, err)

	_, err = engine.Accept(context.Background(), created[0].ID)
	require.NoError(t, err)

	result, err := engine.Reject(context.Background(), created[0].ID, "too late")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Contains(t, result.Explanation, "accepted")
	assert.Equal(t, StatusAccepted, result.Suggestion.Status)
	// The applied preference stands.
	assert.Equal(t, "worker_B", profiles.profiles["u-1"].Preferences[routing.CategoryCode])
}

func TestAcceptUnknownSuggestion(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.Accept(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSuggestionNotFound)
}
