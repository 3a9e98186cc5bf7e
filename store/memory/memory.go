// Package memory provides an in-memory store driver for tests and the demo
// mode. Data does not survive a restart.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/store"
)

// DB is the in-memory driver. All methods copy records on the way in and
// out so callers cannot mutate stored state.
type DB struct {
	mu        sync.RWMutex
	decisions map[string]*routing.RoutingDecision
	// decisionOrder preserves insertion order for deterministic listings.
	decisionOrder []string
	profiles      map[string]*routing.UserProfile
	suggestions   map[string]*drift.Suggestion
	suggestOrder  []string
}

// NewDB creates an empty in-memory driver.
func NewDB() store.Driver {
	return &DB{
		decisions:   make(map[string]*routing.RoutingDecision),
		profiles:    make(map[string]*routing.UserProfile),
		suggestions: make(map[string]*drift.Suggestion),
	}
}

func (d *DB) GetDB() *sql.DB { return nil }

func (d *DB) Close() error { return nil }

func (d *DB) Migrate(context.Context) error { return nil }

func (d *DB) CreateRoutingDecision(_ context.Context, decision *routing.RoutingDecision) (string, error) {
	if decision.ID == "" {
		return "", errors.New("routing decision requires an id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.decisions[decision.ID]; ok {
		return "", errors.Errorf("routing decision %s already exists", decision.ID)
	}
	d.decisions[decision.ID] = clone(decision)
	d.decisionOrder = append(d.decisionOrder, decision.ID)
	return decision.ID, nil
}

func (d *DB) GetRoutingDecision(_ context.Context, id string) (*routing.RoutingDecision, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dec, ok := d.decisions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(dec), nil
}

func (d *DB) ListRoutingDecisions(_ context.Context, find *store.FindRoutingDecision) ([]*routing.RoutingDecision, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*routing.RoutingDecision
	for _, id := range d.decisionOrder {
		dec := d.decisions[id]
		if find.UserID != nil && dec.UserID != *find.UserID {
			continue
		}
		if find.Category != nil && dec.Classification.Primary != *find.Category {
			continue
		}
		if find.SinceTs != nil && dec.CreatedTs < *find.SinceTs {
			continue
		}
		out = append(out, clone(dec))
		if find.Limit > 0 && len(out) >= find.Limit {
			break
		}
	}
	return out, nil
}

func (d *DB) UpdateRoutingDecisionOutcome(_ context.Context, id string, outcome *routing.Outcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dec, ok := d.decisions[id]
	if !ok {
		return store.ErrNotFound
	}
	dec.Outcome = clone(outcome)
	return nil
}

func (d *DB) ListActiveUserIDs(_ context.Context, sinceTs int64) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	for _, dec := range d.decisions {
		if dec.CreatedTs >= sinceTs {
			seen[dec.UserID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *DB) GetPerformanceSummary(_ context.Context, category routing.Category, sinceTs int64) (routing.PerformanceSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	type agg struct {
		n, ok, rated int
		latency      float64
		rating       float64
	}
	byWorker := make(map[string]*agg)
	for _, dec := range d.decisions {
		if dec.Classification.Primary != category || dec.CreatedTs < sinceTs || dec.Outcome == nil {
			continue
		}
		a, ok := byWorker[dec.Worker]
		if !ok {
			a = &agg{}
			byWorker[dec.Worker] = a
		}
		a.n++
		if dec.Outcome.Success {
			a.ok++
		}
		a.latency += float64(dec.Outcome.LatencyMs)
		if dec.Outcome.Rating != nil {
			a.rated++
			a.rating += float64(*dec.Outcome.Rating)
		}
	}

	summary := make(routing.PerformanceSummary, len(byWorker))
	for worker, a := range byWorker {
		perf := routing.WorkerPerformance{
			SampleSize:  a.n,
			SuccessRate: float64(a.ok) / float64(a.n),
			AvgLatency:  a.latency / float64(a.n),
		}
		if a.rated > 0 {
			perf.AvgRating = a.rating / float64(a.rated)
		}
		summary[worker] = perf
	}
	return summary, nil
}

func (d *DB) GetUserProfile(_ context.Context, userID string) (*routing.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(p), nil
}

func (d *DB) UpsertUserProfile(_ context.Context, p *routing.UserProfile) (*routing.UserProfile, error) {
	if p.UserID == "" {
		return nil, errors.New("profile requires a user id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().Unix()
	stored := clone(p)
	if existing, ok := d.profiles[p.UserID]; ok {
		stored.Version = existing.Version + 1
		stored.CreatedTs = existing.CreatedTs
	} else {
		if stored.Version == 0 {
			stored.Version = 1
		}
		stored.CreatedTs = now
	}
	stored.UpdatedTs = now
	d.profiles[p.UserID] = stored
	return clone(stored), nil
}

func (d *DB) UpdateProfilePreference(_ context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Version != expectedVersion {
		return nil, drift.ErrVersionConflict
	}
	if p.Preferences == nil {
		p.Preferences = make(map[routing.Category]string)
	}
	p.Preferences[category] = workerID
	p.Version++
	p.UpdatedTs = time.Now().Unix()
	return clone(p), nil
}

func (d *DB) CreateSuggestion(_ context.Context, s *drift.Suggestion) (string, error) {
	if s.ID == "" {
		return "", errors.New("suggestion requires an id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.suggestions[s.ID]; ok {
		return "", errors.Errorf("suggestion %s already exists", s.ID)
	}
	d.suggestions[s.ID] = clone(s)
	d.suggestOrder = append(d.suggestOrder, s.ID)
	return s.ID, nil
}

func (d *DB) GetSuggestion(_ context.Context, id string) (*drift.Suggestion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.suggestions[id]
	if !ok {
		return nil, drift.ErrSuggestionNotFound
	}
	return clone(s), nil
}

func (d *DB) ListSuggestions(_ context.Context, find *store.FindSuggestion) ([]*drift.Suggestion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*drift.Suggestion
	for _, id := range d.suggestOrder {
		s := d.suggestions[id]
		if find.UserID != nil && s.UserID != *find.UserID {
			continue
		}
		if find.Status != nil && s.Status != *find.Status {
			continue
		}
		out = append(out, clone(s))
		if find.Limit > 0 && len(out) >= find.Limit {
			break
		}
	}
	return out, nil
}

func (d *DB) UpdateSuggestion(_ context.Context, s *drift.Suggestion) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.suggestions[s.ID]; !ok {
		return drift.ErrSuggestionNotFound
	}
	d.suggestions[s.ID] = clone(s)
	return nil
}

// clone deep-copies a record through JSON. All stored types are plain data.
func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}
