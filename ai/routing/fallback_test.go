package routing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelpilot/ai/worker"
)

func TestGenerateFallbackChainExcludesPrimaryAndDedups(t *testing.T) {
	profile := testProfile()
	profile.TimePrefs.Periods = map[Period]map[Category]string{
		PeriodMorning: {
			CategoryCode:  "cloud-balanced",
			CategoryDebug: "cloud-balanced", // duplicate entry
			CategoryWrite: "local-balanced",
		},
	}
	profile.Fallbacks = map[Category]string{CategoryCode: "cloud-deep"}

	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, profile, at(9))
	s.Worker = "local-balanced"
	s.Performance = PerformanceSummary{
		"cloud-balanced": {SampleSize: 10, SuccessRate: 0.9},
		"local-fast":     {SampleSize: 10, SuccessRate: 0.8},
	}

	chain := GenerateFallbackChain(s)

	assert.NotContains(t, chain, "local-balanced", "primary must not be in its own chain")
	seen := map[string]int{}
	for _, id := range chain {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "worker %s duplicated", id)
	}
	assert.Contains(t, chain, "cloud-balanced")
	assert.Contains(t, chain, "cloud-deep")
}

func TestGenerateFallbackChainAlwaysHasLocal(t *testing.T) {
	profile := testProfile()
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, profile, at(9))
	s.Worker = "cloud-balanced"
	s.Performance = PerformanceSummary{
		"cloud-deep": {SampleSize: 10, SuccessRate: 0.9},
	}

	chain := GenerateFallbackChain(s)

	require.NotEmpty(t, chain)
	assert.True(t, hasLocal(chain, s.Registry), "chain must contain a local-capable worker: %v", chain)
}

func TestGenerateFallbackChainPrivacyForcedFiltersCloud(t *testing.T) {
	profile := testProfile()
	profile.Fallbacks = map[Category]string{CategorySensitive: "cloud-deep"}
	s := baseState(Classification{Primary: CategorySensitive, Confidence: 0.9}, profile, at(9))
	s.Worker = "local-fast"
	s.PrivacyForced = true
	s.Performance = PerformanceSummary{
		"cloud-balanced": {SampleSize: 20, SuccessRate: 0.99},
		"local-balanced": {SampleSize: 20, SuccessRate: 0.7},
	}

	chain := GenerateFallbackChain(s)

	require.NotEmpty(t, chain)
	for _, id := range chain {
		assert.True(t, s.Registry.IsLocalCapable(id), "non-local %s in privacy-forced chain", id)
	}
	assert.NoError(t, ValidateFallbackChain(chain, true, s.Registry))
}

func TestGenerateFallbackChainAttentionVariabilityAddsLocal(t *testing.T) {
	profile := testProfile()
	profile.Style.AttentionVariability = true
	s := baseState(Classification{Primary: CategoryResearch, Confidence: 0.9}, profile, at(9))
	s.Worker = "cloud-deep"

	chain := GenerateFallbackChain(s)
	assert.Contains(t, chain, "local-fast")
}

func TestGenerateFallbackChainSkipsUnknownWorkers(t *testing.T) {
	profile := testProfile()
	profile.Fallbacks = map[Category]string{CategoryCode: "retired-worker"}
	s := baseState(Classification{Primary: CategoryCode, Confidence: 0.9}, profile, at(9))
	s.Worker = "local-balanced"

	chain := GenerateFallbackChain(s)
	assert.NotContains(t, chain, "retired-worker")
}

func TestValidateFallbackChain(t *testing.T) {
	registry := worker.NewDefaultRegistry()

	assert.NoError(t, ValidateFallbackChain([]string{"cloud-deep"}, false, registry))
	assert.NoError(t, ValidateFallbackChain([]string{"local-fast", "local-balanced"}, true, registry))

	err := ValidateFallbackChain([]string{"local-fast", "cloud-deep"}, true, registry)
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 1)

	err = ValidateFallbackChain(nil, true, registry)
	require.Error(t, err)
}

func TestValidateFallbackChainWaivedWithoutLocalWorkers(t *testing.T) {
	registry := worker.NewRegistry([]worker.Worker{
		{ID: "cloud-a", Tier: worker.TierBalanced},
		{ID: "cloud-b", Tier: worker.TierDeep},
	})
	assert.NoError(t, ValidateFallbackChain([]string{"cloud-a"}, true, registry))
}

func TestRankedPerformanceDeterministic(t *testing.T) {
	summary := PerformanceSummary{
		"b": {SampleSize: 10, SuccessRate: 0.8},
		"a": {SampleSize: 10, SuccessRate: 0.8},
		"c": {SampleSize: 10, SuccessRate: 0.9},
	}
	assert.Equal(t, []string{"c", "a", "b"}, rankedPerformance(summary))
}
