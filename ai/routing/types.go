// Package routing implements the adaptive model routing decision engine:
// task classification, cognitive state estimation, layered decision fusion,
// and fallback chain generation. The online path is pure and side-effect-free
// except for appending one decision record per routed request.
package routing

import (
	"context"
	"time"
)

// Category is a task-type label used to key preferences and performance summaries.
type Category string

const (
	CategoryDebug     Category = "debug"
	CategoryCode      Category = "code"
	CategoryWrite     Category = "write"
	CategoryResearch  Category = "research"
	CategoryPlan      Category = "plan"
	CategorySummarize Category = "summarize"
	CategorySensitive Category = "sensitive"
	CategoryUnknown   Category = "unknown"
)

// Uncertainty quantifies how unsure the classifier is about its primary pick.
type Uncertainty string

const (
	UncertaintyLow      Uncertainty = "low"
	UncertaintyMedium   Uncertainty = "medium"
	UncertaintyHigh     Uncertainty = "high"
	UncertaintyVeryHigh Uncertainty = "very_high"
)

// Level buckets a [0,1] score into three bands.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFromScore buckets a clamped [0,1] score.
func LevelFromScore(score float64) Level {
	switch {
	case score < 0.4:
		return LevelLow
	case score < 0.7:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Period is a coarse time-of-day bucket used by the preference table.
type Period string

const (
	PeriodMorning   Period = "morning"   // 05:00-11:59
	PeriodAfternoon Period = "afternoon" // 12:00-16:59
	PeriodEvening   Period = "evening"   // 17:00-21:59
	PeriodNight     Period = "night"     // 22:00-04:59
)

// PeriodOf maps an hour of day to its period.
func PeriodOf(hour int) Period {
	switch {
	case hour >= 5 && hour < 12:
		return PeriodMorning
	case hour >= 12 && hour < 17:
		return PeriodAfternoon
	case hour >= 17 && hour < 22:
		return PeriodEvening
	default:
		return PeriodNight
	}
}

// CognitiveRequirements describes what a task category demands from the user.
type CognitiveRequirements struct {
	Load       Level `json:"load"`
	NeedsFocus bool  `json:"needs_focus"`
	Creative   bool  `json:"creative"`
	Patience   bool  `json:"patience"`
	Urgent     bool  `json:"urgent"`
}

// ScoredCategory is a secondary classification candidate.
type ScoredCategory struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// FallbackStrategyClarify marks a classification that should be clarified
// with the user instead of routed on.
const FallbackStrategyClarify = "clarification_requested"

// Classification is the immutable result of classifying one task text.
type Classification struct {
	Primary          Category              `json:"primary"`
	Confidence       float64               `json:"confidence"`
	MatchedSignals   []string              `json:"matched_signals,omitempty"`
	Secondary        []ScoredCategory      `json:"secondary,omitempty"`
	Uncertainty      Uncertainty           `json:"uncertainty"`
	Requirements     CognitiveRequirements `json:"requirements"`
	FallbackStrategy string                `json:"fallback_strategy,omitempty"`
}

// CapacityAssessment scores the user's likely cognitive capacity right now.
type CapacityAssessment struct {
	Level   Level    `json:"level"`
	Score   float64  `json:"score"`
	Factors []string `json:"factors,omitempty"`
}

// AlignmentAssessment scores how well the task fits the current capacity.
type AlignmentAssessment struct {
	Score      float64  `json:"score"`
	Level      Level    `json:"level"`
	Mismatches []string `json:"mismatches,omitempty"`
}

// DecisionPreferences carries thresholds adjusted for the current state.
type DecisionPreferences struct {
	PreferFastIteration  bool    `json:"prefer_fast_iteration"`
	AllowDeepWorker      bool    `json:"allow_deep_worker"`
	UncertaintyTolerance float64 `json:"uncertainty_tolerance"`
}

// CognitiveState is the immutable estimator output for one request.
type CognitiveState struct {
	Capacity        CapacityAssessment  `json:"capacity"`
	Alignment       AlignmentAssessment `json:"alignment"`
	Preferences     DecisionPreferences `json:"preferences"`
	Recommendations []string            `json:"recommendations,omitempty"`
}

// SwitchingCost is the configured penalty level for task-category switching.
type SwitchingCost string

const (
	SwitchingCostLow    SwitchingCost = "low"
	SwitchingCostMedium SwitchingCost = "medium"
	SwitchingCostHigh   SwitchingCost = "high"
)

// CognitiveStyle holds the free-form cognitive-style tags of a profile.
type CognitiveStyle struct {
	AttentionVariability bool          `json:"attention_variability"`
	ClarityFirst         bool          `json:"clarity_first"`
	SwitchingCost        SwitchingCost `json:"switching_cost"`
	// FocusCategories are categories historically associated with sustained focus.
	FocusCategories []Category `json:"focus_categories,omitempty"`
}

// PrivacyPosture holds the profile's privacy stance.
type PrivacyPosture struct {
	LocalFirst          bool       `json:"local_first"`
	SensitiveCategories []Category `json:"sensitive_categories,omitempty"`
}

// TimeOfDayPreferences is the versioned period preference table of a profile.
type TimeOfDayPreferences struct {
	Version int                            `json:"version"`
	Periods map[Period]map[Category]string `json:"periods,omitempty"`
	// EnergyByHour optionally personalizes the circadian base, 0..23 -> [0,1].
	EnergyByHour map[int]float64 `json:"energy_by_hour,omitempty"`
}

// UserProfile is the per-user routing profile.
// Created at onboarding, mutated only through versioned preference updates.
type UserProfile struct {
	UserID      string               `json:"user_id"`
	Version     int                  `json:"version"`
	Preferences map[Category]string  `json:"preferences"` // category -> preferred worker id
	Fallbacks   map[Category]string  `json:"fallbacks,omitempty"`
	Style       CognitiveStyle       `json:"style"`
	Privacy     PrivacyPosture       `json:"privacy"`
	TimePrefs   TimeOfDayPreferences `json:"time_prefs"`
	CreatedTs   int64                `json:"created_ts"`
	UpdatedTs   int64                `json:"updated_ts"`
}

// PreferredWorker returns the declared preference for a category.
func (p *UserProfile) PreferredWorker(category Category) (string, bool) {
	w, ok := p.Preferences[category]
	return w, ok && w != ""
}

// PeriodWorker returns the time-of-day preference for a period and category.
func (p *UserProfile) PeriodWorker(period Period, category Category) (string, bool) {
	table, ok := p.TimePrefs.Periods[period]
	if !ok {
		return "", false
	}
	w, ok := table[category]
	return w, ok && w != ""
}

// Reason records one override stage decision for the reason trail.
type Reason struct {
	Stage           string  `json:"stage"`
	FromWorker      string  `json:"from_worker,omitempty"`
	ToWorker        string  `json:"to_worker,omitempty"`
	Note            string  `json:"note"`
	ConfidenceDelta float64 `json:"confidence_delta"`
}

// Outcome is filled in asynchronously after the chosen worker ran the task.
type Outcome struct {
	Success     bool  `json:"success"`
	LatencyMs   int64 `json:"latency_ms"`
	Rating      *int  `json:"rating,omitempty"` // optional 1-5 user rating
	CompletedTs int64 `json:"completed_ts"`
}

// RoutingDecision is the append-only record of one routed request.
type RoutingDecision struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	TaskExcerpt    string         `json:"task_excerpt"`
	Classification Classification `json:"classification"`
	Cognitive      CognitiveState `json:"cognitive"`
	Worker         string         `json:"worker"`
	Confidence     float64        `json:"confidence"`
	Reasons        []Reason       `json:"reasons"`
	FallbackChain  []string       `json:"fallback_chain"`
	PrivacyForced  bool           `json:"privacy_forced"`
	CreatedTs      int64          `json:"created_ts"`
	Outcome        *Outcome       `json:"outcome,omitempty"`
}

// WorkerPerformance aggregates historical outcomes of one worker in one category.
type WorkerPerformance struct {
	SampleSize  int     `json:"sample_size"`
	SuccessRate float64 `json:"success_rate"`
	AvgLatency  float64 `json:"avg_latency_ms"`
	AvgRating   float64 `json:"avg_rating"` // 0 when unrated
}

// Score blends outcome signals into a single comparable value.
func (p WorkerPerformance) Score() float64 {
	rating := p.AvgRating / 5.0
	if p.AvgRating == 0 {
		rating = p.SuccessRate // unrated workers fall back to success rate
	}
	// Latency factor: 1.0 at 0ms decaying toward 0 around 30s.
	latency := 1.0 - p.AvgLatency/30000.0
	if latency < 0 {
		latency = 0
	}
	return 0.6*p.SuccessRate + 0.3*rating + 0.1*latency
}

// PerformanceSummary maps worker id to aggregated performance for one category.
type PerformanceSummary map[string]WorkerPerformance

// PerformanceProvider serves point-in-time performance snapshots.
type PerformanceProvider interface {
	GetSummary(ctx context.Context, category Category, window time.Duration) (PerformanceSummary, error)
}

// DecisionLogger appends routing decisions to the durable decision log.
type DecisionLogger interface {
	CreateRoutingDecision(ctx context.Context, decision *RoutingDecision) (string, error)
}

// Options tunes the decision fusion pipeline. All values are injected at
// construction so multiple tenants can run different tuning.
type Options struct {
	TimeAwareRouting  bool
	LocalFirstRouting bool
	// Local-only window [start, end) in hours; disabled when equal.
	LocalOnlyStartHour int
	LocalOnlyEndHour   int

	// Performance override gates.
	MinPerfSampleSize int     // minimum samples before the stage may fire
	PerfSwitchMargin  float64 // required score margin over the current choice

	// Cognitive override gates.
	LowAlignmentThreshold float64

	// Performance lookback window.
	PerformanceWindow time.Duration
}

// DefaultOptions returns pipeline tuning defaults.
func DefaultOptions() Options {
	return Options{
		TimeAwareRouting:      true,
		LocalFirstRouting:     false,
		MinPerfSampleSize:     5,
		PerfSwitchMargin:      0.1,
		LowAlignmentThreshold: 0.4,
		PerformanceWindow:     30 * 24 * time.Hour,
	}
}

// InLocalOnlyWindow reports whether the given hour falls inside the
// configured local-only window. Handles windows crossing midnight.
func (o Options) InLocalOnlyWindow(hour int) bool {
	if o.LocalOnlyStartHour == o.LocalOnlyEndHour {
		return false
	}
	if o.LocalOnlyStartHour < o.LocalOnlyEndHour {
		return hour >= o.LocalOnlyStartHour && hour < o.LocalOnlyEndHour
	}
	return hour >= o.LocalOnlyStartHour || hour < o.LocalOnlyEndHour
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
