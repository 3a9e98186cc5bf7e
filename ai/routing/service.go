package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/modelpilot/ai/worker"
	"github.com/hrygo/modelpilot/internal/strutil"
)

const (
	decisionExcerptLen = 120

	defaultCacheCapacity = 2048
	defaultCacheTTL      = 30 * time.Minute
)

// Metrics receives routing observability events. All methods must tolerate
// being called on a nil receiver so metrics stay optional.
type Metrics interface {
	ObserveDecision(category Category, workerID string, confidence float64)
	ObserveStage(stage string, switched bool)
	ObserveCacheHit(hit bool)
	ObservePrivacyForced()
}

// ServiceConfig wires the decision engine's collaborators.
type ServiceConfig struct {
	Registry    *worker.Registry
	Performance PerformanceProvider
	Decisions   DecisionLogger
	Metrics     Metrics
	Options     Options

	Classifier *Classifier // nil means defaults
	Estimator  *Estimator  // nil means defaults

	CacheCapacity int
	CacheTTL      time.Duration
}

// Service is the adaptive routing decision engine facade.
type Service struct {
	registry    *worker.Registry
	performance PerformanceProvider
	decisions   DecisionLogger
	metrics     Metrics
	opts        Options

	classifier *Classifier
	estimator  *Estimator
	cache      *ClassificationCache
}

// NewService creates the decision engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("routing: worker registry required")
	}
	if cfg.Decisions == nil {
		return nil, errors.New("routing: decision logger required")
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewDefaultClassifier()
	}
	estimator := cfg.Estimator
	if estimator == nil {
		estimator = NewDefaultEstimator()
	}
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Service{
		registry:    cfg.Registry,
		performance: cfg.Performance,
		decisions:   cfg.Decisions,
		metrics:     cfg.Metrics,
		opts:        cfg.Options,
		classifier:  classifier,
		estimator:   estimator,
		cache:       NewClassificationCache(capacity, ttl),
	}, nil
}

// Classify returns the task classification, served from cache when possible.
func (s *Service) Classify(text string) Classification {
	if result, ok := s.cache.Get(text); ok {
		s.observeCache(true)
		return result
	}
	s.observeCache(false)
	result := s.classifier.Classify(text)
	s.cache.Put(text, result)
	return result
}

// EstimateCognitiveState runs the estimator for a profile at a timestamp.
func (s *Service) EstimateCognitiveState(profile *UserProfile, ts time.Time, classification Classification, ectx EstimateContext) (CognitiveState, error) {
	if profile == nil {
		return CognitiveState{}, ErrMissingProfile
	}
	return s.estimator.Estimate(profile, ts, classification, ectx), nil
}

// Route produces a full routing decision for one task text and persists it.
// The performance snapshot is best-effort: a provider error degrades the
// pipeline instead of failing the request. A fallback chain violating the
// privacy invariant is fatal.
func (s *Service) Route(ctx context.Context, text string, profile *UserProfile, ts time.Time, ectx EstimateContext) (*RoutingDecision, error) {
	if profile == nil {
		return nil, ErrMissingProfile
	}

	classification := s.Classify(text)
	cognitive := s.estimator.Estimate(profile, ts, classification, ectx)

	var summary PerformanceSummary
	var perfErr error
	if s.performance != nil {
		summary, perfErr = s.performance.GetSummary(ctx, classification.Primary, s.opts.PerformanceWindow)
		if perfErr != nil {
			slog.Warn("performance snapshot unavailable",
				"category", classification.Primary, "error", perfErr)
		}
	}

	state := RunPipeline(DecisionState{
		Classification: classification,
		Cognitive:      cognitive,
		Profile:        profile,
		Performance:    summary,
		PerformanceErr: perfErr,
		Now:            ts,
		Opts:           s.opts,
		Registry:       s.registry,
	})

	chain := GenerateFallbackChain(state)
	if err := ValidateFallbackChain(chain, state.PrivacyForced, s.registry); err != nil {
		return nil, err
	}

	decision := &RoutingDecision{
		ID:             shortuuid.New(),
		UserID:         profile.UserID,
		TaskExcerpt:    strutil.Truncate(text, decisionExcerptLen),
		Classification: classification,
		Cognitive:      cognitive,
		Worker:         state.Worker,
		Confidence:     state.Confidence,
		Reasons:        state.Reasons,
		FallbackChain:  chain,
		PrivacyForced:  state.PrivacyForced,
		CreatedTs:      ts.Unix(),
	}

	id, err := s.decisions.CreateRoutingDecision(ctx, decision)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist routing decision")
	}
	decision.ID = id

	s.observeDecision(state)
	slog.Debug("routing decision",
		"id", decision.ID,
		"user", decision.UserID,
		"category", classification.Primary,
		"uncertainty", classification.Uncertainty,
		"worker", decision.Worker,
		"confidence", decision.Confidence,
		"privacy_forced", decision.PrivacyForced,
		"fallbacks", len(chain))
	return decision, nil
}

// Options exposes the effective pipeline tuning.
func (s *Service) Options() Options {
	return s.opts
}

// CacheStats returns classification cache hit and miss counters.
func (s *Service) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}

func (s *Service) observeCache(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveCacheHit(hit)
	}
}

func (s *Service) observeDecision(state DecisionState) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDecision(state.Classification.Primary, state.Worker, state.Confidence)
	for _, r := range state.Reasons {
		s.metrics.ObserveStage(r.Stage, r.FromWorker != r.ToWorker)
	}
	if state.PrivacyForced {
		s.metrics.ObservePrivacyForced()
	}
}
