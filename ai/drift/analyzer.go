package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/modelpilot/ai/routing"
)

// DecisionSource provides the decision windows the analyzer scans.
type DecisionSource interface {
	ListActiveUserIDs(ctx context.Context, since time.Time) ([]string, error)
	ListRoutingDecisions(ctx context.Context, userID string, since time.Time) ([]*routing.RoutingDecision, error)
}

// DriftMetrics receives analyzer run events.
type DriftMetrics interface {
	ObserveDriftRun(detected map[routing.Category]int)
}

// AnalyzerConfig tunes the batch analysis pass.
type AnalyzerConfig struct {
	// Window is the decision lookback per user.
	Window time.Duration
	// Concurrency bounds per-user analysis fan-out.
	Concurrency int
}

// DefaultAnalyzerConfig returns built-in analyzer tuning.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Window:      14 * 24 * time.Hour,
		Concurrency: 4,
	}
}

// Analyzer runs drift detection and suggestion generation over all active
// users. It is driven by the server's scheduler and by the on-demand API.
type Analyzer struct {
	detector *Detector
	engine   *Engine
	source   DecisionSource
	profiles ProfileStore
	metrics  DriftMetrics
	cfg      AnalyzerConfig
}

// NewAnalyzer creates a batch analyzer.
func NewAnalyzer(detector *Detector, engine *Engine, source DecisionSource, profiles ProfileStore, metrics DriftMetrics, cfg AnalyzerConfig) (*Analyzer, error) {
	if detector == nil || engine == nil || source == nil || profiles == nil {
		return nil, errors.New("drift: analyzer requires detector, engine, source, and profiles")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultAnalyzerConfig().Window
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultAnalyzerConfig().Concurrency
	}
	return &Analyzer{
		detector: detector,
		engine:   engine,
		source:   source,
		profiles: profiles,
		metrics:  metrics,
		cfg:      cfg,
	}, nil
}

// RunReport summarizes one analysis pass.
type RunReport struct {
	UsersScanned   int           `json:"users_scanned"`
	DriftsDetected int           `json:"drifts_detected"`
	Suggestions    []*Suggestion `json:"suggestions,omitempty"`
	StartedTs      int64         `json:"started_ts"`
	DurationMs     int64         `json:"duration_ms"`
}

// Run analyzes every active user. Per-user failures are logged and skipped
// so one broken profile cannot starve the rest of the pass.
func (a *Analyzer) Run(ctx context.Context) (*RunReport, error) {
	started := time.Now()
	since := started.Add(-a.cfg.Window)

	userIDs, err := a.source.ListActiveUserIDs(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active users")
	}

	type userResult struct {
		drifts      []Drift
		suggestions []*Suggestion
	}
	results := make([]userResult, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			drifts, suggestions, err := a.AnalyzeUser(gctx, userID, since)
			if err != nil {
				slog.Warn("drift analysis failed for user", "user", userID, "error", err)
				return nil
			}
			results[i] = userResult{drifts: drifts, suggestions: suggestions}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &RunReport{
		UsersScanned: len(userIDs),
		StartedTs:    started.Unix(),
	}
	detected := make(map[routing.Category]int)
	for _, r := range results {
		report.DriftsDetected += len(r.drifts)
		report.Suggestions = append(report.Suggestions, r.suggestions...)
		for _, d := range r.drifts {
			detected[d.Category]++
		}
	}
	report.DurationMs = time.Since(started).Milliseconds()

	if a.metrics != nil {
		a.metrics.ObserveDriftRun(detected)
	}
	slog.Info("drift analysis pass complete",
		"users", report.UsersScanned,
		"drifts", report.DriftsDetected,
		"suggestions", len(report.Suggestions),
		"duration_ms", report.DurationMs)
	return report, nil
}

// AnalyzeUser runs detection and suggestion generation for one user.
func (a *Analyzer) AnalyzeUser(ctx context.Context, userID string, since time.Time) ([]Drift, []*Suggestion, error) {
	profile, err := a.profiles.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load profile")
	}
	decisions, err := a.source.ListRoutingDecisions(ctx, userID, since)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load decision window")
	}

	drifts := a.detector.Detect(profile, decisions)
	if len(drifts) == 0 {
		return nil, nil, nil
	}
	suggestions, err := a.engine.Generate(ctx, profile, drifts)
	if err != nil {
		return drifts, nil, err
	}
	return drifts, suggestions, nil
}

// Detect exposes pure detection for the on-demand API.
func (a *Analyzer) Detect(profile *routing.UserProfile, decisions []*routing.RoutingDecision) []Drift {
	return a.detector.Detect(profile, decisions)
}
