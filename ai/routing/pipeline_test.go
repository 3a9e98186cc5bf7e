package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelpilot/ai/worker"
)

func baseState(classification Classification, profile *UserProfile, ts time.Time) DecisionState {
	return DecisionState{
		Classification: classification,
		Cognitive: CognitiveState{
			Capacity:  CapacityAssessment{Level: LevelMedium, Score: 0.6},
			Alignment: AlignmentAssessment{Level: LevelMedium, Score: 0.6},
		},
		Profile:  profile,
		Now:      ts,
		Opts:     DefaultOptions(),
		Registry: worker.NewDefaultRegistry(),
	}
}

func stageReason(t *testing.T, reasons []Reason, stage string) Reason {
	t.Helper()
	for _, r := range reasons {
		if r.Stage == stage {
			return r
		}
	}
	t.Fatalf("no reason recorded for stage %s: %+v", stage, reasons)
	return Reason{}
}

func TestBaselineStage(t *testing.T) {
	tests := []struct {
		category Category
		wantTier worker.Tier
		wantID   string
	}{
		{CategoryDebug, worker.TierBalanced, "local-balanced"},
		{CategoryCode, worker.TierBalanced, "local-balanced"},
		{CategorySummarize, worker.TierFast, "local-fast"},
		{CategoryUnknown, worker.TierFast, "local-fast"},
		{CategoryWrite, worker.TierBalanced, "local-balanced"},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			s := baseState(Classification{Primary: tt.category, Confidence: 0.8}, testProfile(), at(10))
			out := baselineStage(s)
			assert.Equal(t, tt.wantID, out.Worker)
			assert.InDelta(t, 0.3+0.5*0.8, out.Confidence, 1e-9)
		})
	}
}

func TestTimeAwareStage(t *testing.T) {
	profile := testProfile()
	profile.TimePrefs.Periods = map[Period]map[Category]string{
		PeriodMorning: {CategoryCode: "cloud-deep"},
	}
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, profile, at(9))
	s = baselineStage(s)

	out := timeAwareStage(s)
	assert.Equal(t, "cloud-deep", out.Worker)
	r := stageReason(t, out.Reasons, StageTimeAware)
	assert.Equal(t, "local-balanced", r.FromWorker)
	assert.InDelta(t, 0.1, r.ConfidenceDelta, 1e-9)

	// Disabled option leaves the choice alone.
	s.Opts.TimeAwareRouting = false
	assert.Equal(t, s.Worker, timeAwareStage(s).Worker)

	// Afternoon has no table entry.
	s.Opts.TimeAwareRouting = true
	s.Now = at(14)
	assert.Equal(t, s.Worker, timeAwareStage(s).Worker)
}

func TestCognitiveStageLowAlignment(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(10))
	s = baselineStage(s)
	s.Cognitive.Alignment.Score = 0.2

	out := cognitiveStage(s)
	assert.Equal(t, "local-fast", out.Worker)
	r := stageReason(t, out.Reasons, StageCognitive)
	assert.Contains(t, r.Note, "low task alignment")
}

func TestCognitiveStageDeepWindow(t *testing.T) {
	classification := Classification{
		Primary:      CategoryResearch,
		Confidence:   0.9,
		Requirements: CognitiveRequirements{Load: LevelHigh, NeedsFocus: true},
	}
	s := baseState(classification, testProfile(), at(10))
	s = baselineStage(s)
	s.Cognitive.Preferences.AllowDeepWorker = true

	out := cognitiveStage(s)
	assert.Equal(t, "cloud-deep", out.Worker)
}

func TestPerformanceStage(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(10))
	s = baselineStage(s)
	require.Equal(t, "local-balanced", s.Worker)

	s.Performance = PerformanceSummary{
		"local-fast":     {SampleSize: 12, SuccessRate: 0.95, AvgLatency: 500},
		"local-balanced": {SampleSize: 12, SuccessRate: 0.5, AvgLatency: 3000},
	}
	out := performanceStage(s)
	assert.Equal(t, "local-fast", out.Worker)
	r := stageReason(t, out.Reasons, StagePerformance)
	assert.InDelta(t, 0.1, r.ConfidenceDelta, 1e-9)
}

func TestPerformanceStageSampleGate(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(10))
	s = baselineStage(s)
	s.Performance = PerformanceSummary{
		"local-fast": {SampleSize: 2, SuccessRate: 1.0, AvgLatency: 100},
	}

	out := performanceStage(s)
	assert.Equal(t, "local-balanced", out.Worker, "small samples must not trigger a switch")
}

func TestPerformanceStageMargin(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(10))
	s = baselineStage(s)
	s.Performance = PerformanceSummary{
		"local-fast":     {SampleSize: 20, SuccessRate: 0.82, AvgLatency: 1000},
		"local-balanced": {SampleSize: 20, SuccessRate: 0.80, AvgLatency: 1000},
	}

	out := performanceStage(s)
	assert.Equal(t, "local-balanced", out.Worker, "marginal wins must not flap the choice")
}

func TestPerformanceStageDegradesOnError(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(10))
	s = baselineStage(s)
	before := s.Confidence
	s.PerformanceErr = assert.AnError

	out := performanceStage(s)
	assert.Equal(t, s.Worker, out.Worker)
	assert.InDelta(t, before-0.05, out.Confidence, 1e-9)
	r := stageReason(t, out.Reasons, StagePerformance)
	assert.Contains(t, r.Note, "performance data unavailable")
}

func TestPreferenceStage(t *testing.T) {
	profile := testProfile()
	profile.Preferences[CategoryCode] = "cloud-balanced"
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9, Uncertainty: UncertaintyLow}, profile, at(10))
	s = baselineStage(s)

	out := preferenceStage(s)
	assert.Equal(t, "cloud-balanced", out.Worker)
	r := stageReason(t, out.Reasons, StagePreference)
	assert.InDelta(t, 0.15, r.ConfidenceDelta, 1e-9)
}

func TestPreferenceStageSuppressedUnderUncertainty(t *testing.T) {
	profile := testProfile()
	profile.Preferences[CategoryCode] = "cloud-deep" // not uncertainty-safe
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.3, Uncertainty: UncertaintyHigh}, profile, at(10))
	s = baselineStage(s)

	out := preferenceStage(s)
	assert.Equal(t, "local-balanced", out.Worker)
	r := stageReason(t, out.Reasons, StagePreference)
	assert.Contains(t, r.Note, "suppressed")
	assert.Negative(t, r.ConfidenceDelta)
}

func TestPreferenceStageUncertaintySafeWorkerAllowed(t *testing.T) {
	profile := testProfile()
	profile.Preferences[CategoryCode] = "cloud-balanced" // uncertainty-safe
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.3, Uncertainty: UncertaintyVeryHigh}, profile, at(10))
	s = baselineStage(s)

	out := preferenceStage(s)
	assert.Equal(t, "cloud-balanced", out.Worker)
}

func TestPrivacyStageForcesLocal(t *testing.T) {
	s := baseState(Classification{Primary: CategorySensitive, Confidence: 0.9}, testProfile(), at(10))
	s = baselineStage(s)
	s.Worker = "cloud-deep"

	out := privacyStage(s)
	assert.True(t, out.PrivacyForced)
	assert.Equal(t, "local-fast", out.Worker)
}

func TestPrivacyStageLocalOnlyWindow(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(23))
	s.Opts.LocalOnlyStartHour = 22
	s.Opts.LocalOnlyEndHour = 6
	s = baselineStage(s)
	s.Worker = "cloud-balanced"

	out := privacyStage(s)
	assert.True(t, out.PrivacyForced)
	assert.True(t, out.Registry.IsLocalCapable(out.Worker))
	r := stageReason(t, out.Reasons, StagePrivacy)
	assert.Contains(t, r.Note, "local-only window")
}

func TestPrivacyStageNoLocalWorkers(t *testing.T) {
	s := baseState(Classification{Primary: CategorySensitive, Confidence: 0.9}, testProfile(), at(10))
	s.Registry = worker.NewRegistry([]worker.Worker{
		{ID: "cloud-only", Tier: worker.TierBalanced},
	})
	s = baselineStage(s)
	before := s.Confidence

	out := privacyStage(s)
	assert.True(t, out.PrivacyForced)
	assert.Equal(t, "cloud-only", out.Worker)
	assert.Less(t, out.Confidence, before)
}

func TestRunPipelinePrivacyIsTerminal(t *testing.T) {
	// A sensitive task inside a local-only window with a cloud preference
	// still ends on a local-capable worker.
	profile := testProfile()
	profile.Preferences[CategorySensitive] = "cloud-deep"
	classification := Classification{
		Primary:      CategorySensitive,
		Confidence:   0.9,
		Uncertainty:  UncertaintyLow,
		Requirements: CognitiveRequirements{Load: LevelMedium, NeedsFocus: true},
	}
	s := baseState(classification, profile, at(23))
	s.Opts.LocalOnlyStartHour = 22
	s.Opts.LocalOnlyEndHour = 6

	out := RunPipeline(s)

	assert.True(t, out.PrivacyForced)
	assert.True(t, out.Registry.IsLocalCapable(out.Worker))
	assert.GreaterOrEqual(t, out.Confidence, 0.0)
	assert.LessOrEqual(t, out.Confidence, 1.0)
	assert.Equal(t, StagePrivacy, out.Reasons[len(out.Reasons)-1].Stage)
}

func TestRunPipelineReasonTrailOrdered(t *testing.T) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.8, Uncertainty: UncertaintyLow}, testProfile(), at(10))
	out := RunPipeline(s)

	require.NotEmpty(t, out.Reasons)
	assert.Equal(t, StageBaseline, out.Reasons[0].Stage)
	// Each recorded transition starts where the previous one ended.
	for i := 1; i < len(out.Reasons); i++ {
		assert.Equal(t, out.Reasons[i-1].ToWorker, out.Reasons[i].FromWorker)
	}
}

func BenchmarkRunPipeline(b *testing.B) {
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, testProfile(), at(10))
	s.Performance = PerformanceSummary{
		"local-fast":     {SampleSize: 20, SuccessRate: 0.8, AvgLatency: 900},
		"cloud-balanced": {SampleSize: 20, SuccessRate: 0.9, AvgLatency: 2500},
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		RunPipeline(s)
	}
}
