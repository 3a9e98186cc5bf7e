package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileValidate_Defaults(t *testing.T) {
	p := &Profile{Mode: "unexpected", Driver: "memory"}
	require.NoError(t, p.Validate())

	assert.Equal(t, "demo", p.Mode)
	assert.Equal(t, 10, p.MinDriftSampleSize)
	assert.InDelta(t, 0.2, p.DriftSignificanceThreshold, 1e-9)
	assert.InDelta(t, 0.65, p.SuggestionConfidenceFloor, 1e-9)
}

func TestProfileValidate_Driver(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "oracle"}
	assert.Error(t, p.Validate())

	p = &Profile{Mode: "dev", Driver: "postgres"}
	assert.Error(t, p.Validate(), "postgres without dsn should fail")

	p = &Profile{Mode: "dev", Driver: "postgres", DSN: "postgres://localhost/modelpilot"}
	assert.NoError(t, p.Validate())
}

func TestProfileValidate_LocalOnlyWindow(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "memory", LocalOnlyStartHour: 25}
	assert.Error(t, p.Validate())

	p = &Profile{Mode: "dev", Driver: "memory", LocalOnlyStartHour: 22, LocalOnlyEndHour: 6}
	assert.NoError(t, p.Validate())
}

func TestProfileFromEnv(t *testing.T) {
	t.Setenv("MODELPILOT_TIME_AWARE_ROUTING", "true")
	t.Setenv("MODELPILOT_MIN_DRIFT_SAMPLE_SIZE", "25")
	t.Setenv("MODELPILOT_DRIFT_SIGNIFICANCE_THRESHOLD", "0.3")

	p := &Profile{}
	p.FromEnv()

	assert.True(t, p.TimeAwareRouting)
	assert.Equal(t, 25, p.MinDriftSampleSize)
	assert.InDelta(t, 0.3, p.DriftSignificanceThreshold, 1e-9)
}
