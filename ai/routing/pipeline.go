package routing

import (
	"fmt"
	"time"

	"github.com/hrygo/modelpilot/ai/worker"
)

// Stage names, recorded verbatim in the reason trail.
const (
	StageBaseline    = "baseline"
	StageTimeAware   = "time_aware"
	StageCognitive   = "cognitive"
	StagePerformance = "performance"
	StagePreference  = "preference"
	StagePrivacy     = "privacy"
)

// DecisionState is the immutable-by-convention state threaded through the
// override stages. Stages receive it by value and return a new value.
type DecisionState struct {
	Worker        string
	Confidence    float64
	Reasons       []Reason
	PrivacyForced bool

	// Inputs, never mutated by stages.
	Classification Classification
	Cognitive      CognitiveState
	Profile        *UserProfile
	Performance    PerformanceSummary
	PerformanceErr error
	Now            time.Time
	Opts           Options
	Registry       *worker.Registry
}

// Stage is one pure override step of the fusion pipeline.
type Stage struct {
	Name  string
	Apply func(DecisionState) DecisionState
}

// withReason returns a copy of the state with the worker replaced and the
// reason trail extended. A zero toWorker keeps the current choice.
func (s DecisionState) withReason(stage, toWorker, note string, delta float64) DecisionState {
	from := s.Worker
	if toWorker != "" {
		s.Worker = toWorker
	}
	s.Confidence = clamp01(s.Confidence + delta)
	reasons := make([]Reason, len(s.Reasons), len(s.Reasons)+1)
	copy(reasons, s.Reasons)
	s.Reasons = append(reasons, Reason{
		Stage:           stage,
		FromWorker:      from,
		ToWorker:        s.Worker,
		Note:            note,
		ConfidenceDelta: delta,
	})
	return s
}

// Pipeline is the ordered list of override stages.
// The order is part of the contract: privacy is terminal and wins over all
// earlier stages.
func Pipeline() []Stage {
	return []Stage{
		{Name: StageBaseline, Apply: baselineStage},
		{Name: StageTimeAware, Apply: timeAwareStage},
		{Name: StageCognitive, Apply: cognitiveStage},
		{Name: StagePerformance, Apply: performanceStage},
		{Name: StagePreference, Apply: preferenceStage},
		{Name: StagePrivacy, Apply: privacyStage},
	}
}

// RunPipeline folds the state through all stages.
func RunPipeline(initial DecisionState) DecisionState {
	state := initial
	for _, stage := range Pipeline() {
		state = stage.Apply(state)
	}
	state.Confidence = clamp01(state.Confidence)
	return state
}

// defaultTierFor maps a category to the worker tier used as routing baseline.
func defaultTierFor(category Category) worker.Tier {
	switch category {
	case CategoryDebug, CategoryCode, CategoryResearch:
		return worker.TierBalanced
	case CategorySummarize, CategoryUnknown:
		return worker.TierFast
	default:
		return worker.TierBalanced
	}
}

// baselineStage fills the initial choice from the category default and seeds
// the confidence from the classification confidence.
func baselineStage(s DecisionState) DecisionState {
	tier := defaultTierFor(s.Classification.Primary)
	w, ok := s.Registry.FirstByTier(tier)
	if !ok {
		// Degenerate registry: take whatever exists.
		all := s.Registry.List()
		if len(all) == 0 {
			return s.withReason(StageBaseline, "", "no workers registered", 0)
		}
		w = all[0]
	}
	s.Confidence = 0.3 + 0.5*s.Classification.Confidence
	return s.withReason(StageBaseline, w.ID,
		fmt.Sprintf("category %s defaults to tier %s", s.Classification.Primary, tier), 0)
}

// timeAwareStage applies the profile's period preference table.
func timeAwareStage(s DecisionState) DecisionState {
	if !s.Opts.TimeAwareRouting {
		return s
	}
	period := PeriodOf(s.Now.Hour())
	w, ok := s.Profile.PeriodWorker(period, s.Classification.Primary)
	if !ok || w == s.Worker {
		return s
	}
	return s.withReason(StageTimeAware, w,
		fmt.Sprintf("period %s prefers %s for %s", period, w, s.Classification.Primary), 0.1)
}

// cognitiveStage accommodates the estimated cognitive state: low alignment
// prefers a fast/local worker; a focus-friendly high-capacity window permits
// a deep worker for focus-heavy categories.
func cognitiveStage(s DecisionState) DecisionState {
	if s.Cognitive.Alignment.Score < s.Opts.LowAlignmentThreshold {
		w, ok := s.Registry.FirstLocal()
		if !ok {
			w, ok = s.Registry.FirstByTier(worker.TierFast)
		}
		if ok && w.ID != s.Worker {
			return s.withReason(StageCognitive, w.ID,
				fmt.Sprintf("low task alignment (%.2f), preferring fast iteration", s.Cognitive.Alignment.Score), 0.05)
		}
		return s
	}

	if s.Cognitive.Preferences.AllowDeepWorker && s.Classification.Requirements.NeedsFocus {
		w, ok := s.Registry.FirstByTier(worker.TierDeep)
		if ok && w.ID != s.Worker {
			return s.withReason(StageCognitive, w.ID,
				"high-capacity focus window permits high-capability worker", 0.05)
		}
	}
	return s
}

// performanceStage switches to a clearly better-performing worker when the
// historical sample is large enough. An unavailable snapshot is recorded in
// the trail and reduces confidence instead of aborting the pipeline.
func performanceStage(s DecisionState) DecisionState {
	if s.PerformanceErr != nil {
		return s.withReason(StagePerformance, "",
			"performance data unavailable, stage skipped", -0.05)
	}
	if len(s.Performance) == 0 {
		return s
	}

	bestID := ""
	bestScore := 0.0
	for id, perf := range s.Performance {
		if perf.SampleSize < s.Opts.MinPerfSampleSize {
			continue
		}
		score := perf.Score()
		if score > bestScore || (score == bestScore && id < bestID) {
			bestID = id
			bestScore = score
		}
	}
	if bestID == "" || bestID == s.Worker {
		return s
	}

	currentScore := 0.0
	if perf, ok := s.Performance[s.Worker]; ok {
		currentScore = perf.Score()
	}
	if bestScore-currentScore <= s.Opts.PerfSwitchMargin {
		return s
	}
	return s.withReason(StagePerformance, bestID,
		fmt.Sprintf("historical score %.2f beats current %.2f over %d+ samples",
			bestScore, currentScore, s.Opts.MinPerfSampleSize), 0.1)
}

// preferenceStage applies the declared per-category preference, suppressed
// when classification uncertainty is high and the preferred worker is not on
// the uncertainty-safe allow-list.
func preferenceStage(s DecisionState) DecisionState {
	pref, ok := s.Profile.PreferredWorker(s.Classification.Primary)
	if !ok || pref == s.Worker {
		return s
	}

	uncertain := s.Classification.Uncertainty == UncertaintyHigh ||
		s.Classification.Uncertainty == UncertaintyVeryHigh
	if uncertain && !s.Registry.IsUncertaintySafe(pref) {
		return s.withReason(StagePreference, "",
			fmt.Sprintf("declared preference %s suppressed: classification uncertainty %s",
				pref, s.Classification.Uncertainty), -0.02)
	}
	return s.withReason(StagePreference, pref,
		fmt.Sprintf("declared preference for %s", s.Classification.Primary), 0.15)
}

// privacyStage is terminal: privacy-sensitive tasks and local-only windows
// force a local-capable worker regardless of all prior stages.
func privacyStage(s DecisionState) DecisionState {
	sensitive := s.Classification.Primary == CategorySensitive ||
		containsCategory(s.Profile.Privacy.SensitiveCategories, s.Classification.Primary)
	inWindow := s.Opts.InLocalOnlyWindow(s.Now.Hour())
	forced := sensitive || inWindow || (s.Opts.LocalFirstRouting && s.Profile.Privacy.LocalFirst)
	if !forced {
		return s
	}

	s.PrivacyForced = true
	if s.Registry.IsLocalCapable(s.Worker) {
		return s.withReason(StagePrivacy, "",
			privacyNote(sensitive, inWindow)+", current worker is local-capable", 0.05)
	}

	w, ok := s.Registry.FirstLocal()
	if !ok {
		// Invariant escape hatch: no local-capable worker registered.
		return s.withReason(StagePrivacy, "",
			"privacy override requested but no local-capable worker registered", -0.1)
	}
	return s.withReason(StagePrivacy, w.ID, privacyNote(sensitive, inWindow), 0.05)
}

func privacyNote(sensitive, inWindow bool) string {
	switch {
	case sensitive && inWindow:
		return "privacy-sensitive task inside local-only window"
	case sensitive:
		return "privacy-sensitive task forces local execution"
	case inWindow:
		return "local-only window forces local execution"
	default:
		return "local-first routing forces local execution"
	}
}

func containsCategory(list []Category, c Category) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}
