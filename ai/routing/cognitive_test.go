package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *UserProfile {
	now := time.Now().Unix()
	return &UserProfile{
		UserID:      "u-test",
		Version:     1,
		Preferences: map[Category]string{},
		Style:       CognitiveStyle{SwitchingCost: SwitchingCostMedium},
		CreatedTs:   now,
		UpdatedTs:   now,
	}
}

func at(hour int) time.Time {
	return time.Date(2026, 8, 20, hour, 30, 0, 0, time.UTC)
}

func TestEstimateIsPure(t *testing.T) {
	e := NewDefaultEstimator()
	profile := testProfile()
	classification := NewDefaultClassifier().Classify("fix the crash in production")

	first := e.Estimate(profile, at(10), classification, EstimateContext{RecentInterruptions: 2})
	second := e.Estimate(profile, at(10), classification, EstimateContext{RecentInterruptions: 2})
	assert.Equal(t, first, second)
}

func TestEstimateMorningPeak(t *testing.T) {
	e := NewDefaultEstimator()
	profile := testProfile()
	profile.Style.FocusCategories = []Category{CategoryCode}
	classification := Classification{
		Primary:      CategoryCode,
		Requirements: CognitiveRequirements{Load: LevelHigh, NeedsFocus: true},
	}

	state := e.Estimate(profile, at(10), classification, EstimateContext{})

	assert.Equal(t, LevelHigh, state.Capacity.Level)
	assert.Contains(t, state.Capacity.Factors, "sustained_focus_category")
	assert.True(t, state.Preferences.AllowDeepWorker)
	assert.InDelta(t, 0.7, state.Preferences.UncertaintyTolerance, 1e-9)
}

func TestEstimateTroughWithAttentionVariability(t *testing.T) {
	e := NewDefaultEstimator()

	steady := testProfile()
	variable := testProfile()
	variable.Style.AttentionVariability = true
	classification := Classification{Primary: CategoryWrite, Requirements: CognitiveRequirements{Load: LevelMedium}}

	steadyState := e.Estimate(steady, at(14), classification, EstimateContext{})
	variableState := e.Estimate(variable, at(14), classification, EstimateContext{})

	assert.Less(t, variableState.Capacity.Score, steadyState.Capacity.Score)
	assert.Contains(t, variableState.Capacity.Factors, "attention_variability_trough")
	assert.True(t, variableState.Preferences.PreferFastIteration)
}

func TestEstimatePersonalEnergyOverride(t *testing.T) {
	e := NewDefaultEstimator()
	profile := testProfile()
	profile.TimePrefs.EnergyByHour = map[int]float64{3: 0.9} // night owl

	classification := Classification{Primary: CategoryWrite, Requirements: CognitiveRequirements{Load: LevelMedium}}
	state := e.Estimate(profile, at(3), classification, EstimateContext{})

	assert.Equal(t, LevelHigh, state.Capacity.Level)
	assert.Contains(t, state.Capacity.Factors, "personal_energy_table")
}

func TestEstimateContextPenalties(t *testing.T) {
	e := NewDefaultEstimator()
	profile := testProfile()
	profile.Style.SwitchingCost = SwitchingCostHigh
	classification := Classification{Primary: CategoryCode, Requirements: CognitiveRequirements{Load: LevelHigh}}

	calm := e.Estimate(profile, at(10), classification, EstimateContext{})
	interrupted := e.Estimate(profile, at(10), classification, EstimateContext{RecentInterruptions: 3})
	switched := e.Estimate(profile, at(10), classification, EstimateContext{RecentCategories: []Category{CategoryWrite}})

	assert.InDelta(t, calm.Capacity.Score-0.15, interrupted.Capacity.Score, 1e-9)
	assert.Contains(t, interrupted.Capacity.Factors, "recent_interruptions")
	assert.InDelta(t, calm.Capacity.Score-0.1, switched.Capacity.Score, 1e-9)
	assert.Contains(t, switched.Capacity.Factors, "category_switch")
}

func TestEstimateHighLoadLowCapacityMismatch(t *testing.T) {
	e := NewDefaultEstimator()
	profile := testProfile()
	classification := Classification{
		Primary:      CategoryDebug,
		Requirements: CognitiveRequirements{Load: LevelHigh, NeedsFocus: true, Urgent: true},
	}

	state := e.Estimate(profile, at(3), classification, EstimateContext{})

	require.Equal(t, LevelLow, state.Capacity.Level)
	assert.Contains(t, state.Alignment.Mismatches, "high_complexity_low_capacity")
	assert.Contains(t, state.Alignment.Mismatches, "focus_task_low_capacity")
	assert.Less(t, state.Alignment.Score, 0.4)
	assert.Contains(t, state.Recommendations, "break task into smaller units")
	assert.Contains(t, state.Recommendations, "defer deep work to a peak-capacity window")
	assert.Contains(t, state.Recommendations, "consider postponing or simplifying the task")
	assert.False(t, state.Preferences.AllowDeepWorker)
}

func TestEstimateScoresStayInRange(t *testing.T) {
	e := NewDefaultEstimator()
	profile := testProfile()
	profile.Style.AttentionVariability = true
	profile.Style.SwitchingCost = SwitchingCostHigh
	classification := Classification{Primary: CategoryDebug, Requirements: CognitiveRequirements{Load: LevelHigh, NeedsFocus: true}}

	for hour := 0; hour < 24; hour++ {
		state := e.Estimate(profile, at(hour), classification, EstimateContext{
			RecentInterruptions: 10,
			RecentCategories:    []Category{CategoryWrite},
		})
		assert.GreaterOrEqual(t, state.Capacity.Score, 0.0)
		assert.LessOrEqual(t, state.Capacity.Score, 1.0)
		assert.GreaterOrEqual(t, state.Alignment.Score, 0.0)
		assert.LessOrEqual(t, state.Alignment.Score, 1.0)
	}
}
