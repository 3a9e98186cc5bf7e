package routing

import (
	"time"
)

// CircadianTable maps hour-of-day to a base capacity score.
// A profile's EnergyByHour entries override individual hours.
type CircadianTable [24]float64

// DefaultCircadianTable returns the built-in capacity curve: morning peak,
// post-lunch trough, mild evening recovery.
func DefaultCircadianTable() CircadianTable {
	var t CircadianTable
	for h := 0; h < 24; h++ {
		switch {
		case h >= 9 && h < 12: // morning peak
			t[h] = 0.85
		case h >= 13 && h < 16: // post-midday trough
			t[h] = 0.45
		case h >= 16 && h < 20: // recovery
			t[h] = 0.65
		case h >= 20 && h < 23: // evening taper
			t[h] = 0.55
		case h >= 6 && h < 9: // ramp-up
			t[h] = 0.6
		default: // night hours
			t[h] = 0.35
		}
	}
	return t
}

// EstimatorConfig tunes the cognitive state estimator.
type EstimatorConfig struct {
	Circadian CircadianTable

	FocusBoost            float64 // boost for sustained-focus categories in good hours
	TroughPenalty         float64 // penalty inside the post-midday trough
	VariabilityAmplifier  float64 // multiplier on trough penalty when variability flag set
	InterruptionPenalty   float64 // per recent interruption
	SwitchPenaltyLow      float64
	SwitchPenaltyMedium   float64
	SwitchPenaltyHigh     float64
	AlignmentMatchBonus   float64
	AlignmentMismatchCost float64
	LowDistractionBonus   float64

	TroughStartHour int
	TroughEndHour   int
}

// DefaultEstimatorConfig returns built-in estimator tuning.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Circadian:             DefaultCircadianTable(),
		FocusBoost:            0.1,
		TroughPenalty:         0.1,
		VariabilityAmplifier:  1.5,
		InterruptionPenalty:   0.05,
		SwitchPenaltyLow:      0.02,
		SwitchPenaltyMedium:   0.05,
		SwitchPenaltyHigh:     0.1,
		AlignmentMatchBonus:   0.2,
		AlignmentMismatchCost: 0.25,
		LowDistractionBonus:   0.1,
		TroughStartHour:       13,
		TroughEndHour:         16,
	}
}

// EstimateContext carries transient request context the estimator may use.
// Zero value means "no recent activity known".
type EstimateContext struct {
	// RecentInterruptions counts interruptions within the current work block.
	RecentInterruptions int
	// RecentCategories lists the task categories handled immediately before
	// this request, most recent first.
	RecentCategories []Category
}

// Estimator produces a CognitiveState from a profile, a timestamp, and a
// classification. Estimate is a pure function of its inputs.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator creates an estimator with explicit tuning.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// NewDefaultEstimator creates an estimator with built-in tuning.
func NewDefaultEstimator() *Estimator {
	return NewEstimator(DefaultEstimatorConfig())
}

// Estimate scores the user's likely capacity and the task/capacity alignment.
func (e *Estimator) Estimate(profile *UserProfile, ts time.Time, classification Classification, ectx EstimateContext) CognitiveState {
	hour := ts.Hour()
	capacity, factors := e.capacityScore(profile, hour, classification, ectx)
	alignment, mismatches := e.alignmentScore(profile, capacity, classification)

	capLevel := LevelFromScore(capacity)
	alignLevel := LevelFromScore(alignment)

	state := CognitiveState{
		Capacity: CapacityAssessment{
			Level:   capLevel,
			Score:   capacity,
			Factors: factors,
		},
		Alignment: AlignmentAssessment{
			Score:      alignment,
			Level:      alignLevel,
			Mismatches: mismatches,
		},
		Preferences: DecisionPreferences{
			PreferFastIteration:  profile.Style.AttentionVariability || capLevel == LevelLow,
			AllowDeepWorker:      capLevel == LevelHigh && classification.Requirements.NeedsFocus,
			UncertaintyTolerance: uncertaintyTolerance(capLevel),
		},
	}
	state.Recommendations = e.recommendations(state, classification)
	return state
}

// capacityScore starts from the circadian base and applies accommodations
// and contextual penalties.
func (e *Estimator) capacityScore(profile *UserProfile, hour int, classification Classification, ectx EstimateContext) (float64, []string) {
	var factors []string

	base := e.cfg.Circadian[hour]
	if energy, ok := profile.TimePrefs.EnergyByHour[hour]; ok {
		base = energy
		factors = append(factors, "personal_energy_table")
	} else {
		factors = append(factors, "circadian_default")
	}
	score := base

	// Attention-variability accommodation.
	inTrough := hour >= e.cfg.TroughStartHour && hour < e.cfg.TroughEndHour
	if isFocusCategory(profile, classification.Primary) && !inTrough {
		score += e.cfg.FocusBoost
		factors = append(factors, "sustained_focus_category")
	}
	if inTrough {
		penalty := e.cfg.TroughPenalty
		if profile.Style.AttentionVariability {
			penalty *= e.cfg.VariabilityAmplifier
			factors = append(factors, "attention_variability_trough")
		} else {
			factors = append(factors, "post_midday_trough")
		}
		score -= penalty
	}

	// Contextual penalties.
	if ectx.RecentInterruptions > 0 {
		score -= float64(ectx.RecentInterruptions) * e.cfg.InterruptionPenalty
		factors = append(factors, "recent_interruptions")
	}
	if switched(ectx.RecentCategories, classification.Primary) {
		score -= e.switchPenalty(profile.Style.SwitchingCost)
		factors = append(factors, "category_switch")
	}

	return clamp01(score), factors
}

// alignmentScore starts at a neutral midpoint and adjusts by matching task
// complexity against capacity.
func (e *Estimator) alignmentScore(profile *UserProfile, capacity float64, classification Classification) (float64, []string) {
	var mismatches []string
	score := 0.5

	capLevel := LevelFromScore(capacity)
	load := classification.Requirements.Load

	switch {
	case load == capLevel:
		score += e.cfg.AlignmentMatchBonus
	case load == LevelHigh && capLevel == LevelLow:
		score -= e.cfg.AlignmentMismatchCost
		mismatches = append(mismatches, "high_complexity_low_capacity")
	case load == LevelLow && capLevel == LevelHigh:
		// Underload is a mild mismatch; capacity is wasted but the task is safe.
		mismatches = append(mismatches, "low_complexity_high_capacity")
	}

	// Low-distraction tasks align well under attention-variability-friendly
	// conditions.
	if profile.Style.AttentionVariability && load == LevelLow && capLevel != LevelLow {
		score += e.cfg.LowDistractionBonus
	}

	if classification.Requirements.NeedsFocus && capLevel == LevelLow {
		score -= e.cfg.AlignmentMismatchCost / 2
		mismatches = append(mismatches, "focus_task_low_capacity")
	}

	return clamp01(score), mismatches
}

// recommendations applies simple threshold rules over the two scores.
func (e *Estimator) recommendations(state CognitiveState, classification Classification) []string {
	var recs []string
	if state.Alignment.Score < 0.4 {
		recs = append(recs, "break task into smaller units")
	}
	if state.Capacity.Level == LevelLow && classification.Requirements.Load == LevelHigh {
		recs = append(recs, "defer deep work to a peak-capacity window")
	}
	if state.Preferences.PreferFastIteration {
		recs = append(recs, "prefer a fast-iteration worker")
	}
	for _, m := range state.Alignment.Mismatches {
		if m == "high_complexity_low_capacity" {
			recs = append(recs, "consider postponing or simplifying the task")
			break
		}
	}
	return recs
}

func (e *Estimator) switchPenalty(cost SwitchingCost) float64 {
	switch cost {
	case SwitchingCostHigh:
		return e.cfg.SwitchPenaltyHigh
	case SwitchingCostMedium:
		return e.cfg.SwitchPenaltyMedium
	default:
		return e.cfg.SwitchPenaltyLow
	}
}

func isFocusCategory(profile *UserProfile, category Category) bool {
	for _, c := range profile.Style.FocusCategories {
		if c == category {
			return true
		}
	}
	return false
}

// switched reports whether the most recent category differs from the current one.
func switched(recent []Category, current Category) bool {
	return len(recent) > 0 && recent[0] != current
}

func uncertaintyTolerance(capacity Level) float64 {
	switch capacity {
	case LevelHigh:
		return 0.7
	case LevelMedium:
		return 0.5
	default:
		return 0.3
	}
}
