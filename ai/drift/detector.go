// Package drift detects preference drift between a user's declared routing
// preferences and the workers their requests actually end up on, and turns
// significant drift into explicit profile-update suggestions. Suggestions are
// never auto-applied.
package drift

import (
	"sort"

	"github.com/hrygo/modelpilot/ai/routing"
)

// Drift describes one detected divergence between the declared preference and
// observed usage for a category.
type Drift struct {
	UserID          string           `json:"user_id"`
	Category        routing.Category `json:"category"`
	PreferredWorker string           `json:"preferred_worker"`
	DominantWorker  string           `json:"dominant_worker"`
	PreferredRate   float64          `json:"preferred_rate"`
	DominantRate    float64          `json:"dominant_rate"`
	Magnitude       float64          `json:"magnitude"`
	Confidence      float64          `json:"confidence"`
	SampleSize      int              `json:"sample_size"`
}

// DetectorConfig tunes drift detection.
type DetectorConfig struct {
	// MinSampleSize is the minimum decision count per category before drift
	// is considered.
	MinSampleSize int
	// SignificanceThreshold is the minimum usage-rate gap between the
	// dominant worker and the declared preference.
	SignificanceThreshold float64
	// ConfidenceFloor discards drifts whose blended confidence is too weak.
	ConfidenceFloor float64
}

// DefaultDetectorConfig returns built-in detection tuning.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinSampleSize:         10,
		SignificanceThreshold: 0.2,
		ConfidenceFloor:       0.5,
	}
}

// Detector finds preference drift in a window of routing decisions.
// Detect is a pure function of its inputs.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector with explicit tuning.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = DefaultDetectorConfig().MinSampleSize
	}
	if cfg.SignificanceThreshold <= 0 {
		cfg.SignificanceThreshold = DefaultDetectorConfig().SignificanceThreshold
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultDetectorConfig().ConfidenceFloor
	}
	return &Detector{cfg: cfg}
}

// Detect groups the decision window by category and reports every category
// where a non-preferred worker dominates by the significance threshold.
// Privacy-forced decisions are excluded: they reflect policy, not preference.
func (d *Detector) Detect(profile *routing.UserProfile, decisions []*routing.RoutingDecision) []Drift {
	if profile == nil || len(decisions) == 0 {
		return nil
	}

	type bucket struct {
		total      int
		byWorker   map[string]int
		confidence float64
	}
	buckets := make(map[routing.Category]*bucket)
	for _, dec := range decisions {
		if dec.PrivacyForced {
			continue
		}
		b, ok := buckets[dec.Classification.Primary]
		if !ok {
			b = &bucket{byWorker: make(map[string]int)}
			buckets[dec.Classification.Primary] = b
		}
		b.total++
		b.byWorker[dec.Worker]++
		b.confidence += dec.Confidence
	}

	var drifts []Drift
	for category, b := range buckets {
		if b.total < d.cfg.MinSampleSize {
			continue
		}
		preferred, ok := profile.PreferredWorker(category)
		if !ok {
			// Nothing declared, nothing to drift from.
			continue
		}

		dominant, dominantCount := dominantWorker(b.byWorker)
		if dominant == preferred {
			continue
		}

		dominantRate := float64(dominantCount) / float64(b.total)
		preferredRate := float64(b.byWorker[preferred]) / float64(b.total)
		magnitude := dominantRate - preferredRate
		// The gap must strictly exceed the threshold; an exact match is
		// not significant.
		if magnitude <= d.cfg.SignificanceThreshold {
			continue
		}

		confidence := d.driftConfidence(b.total, dominantRate, b.confidence/float64(b.total))
		if confidence < d.cfg.ConfidenceFloor {
			continue
		}

		drifts = append(drifts, Drift{
			UserID:          profile.UserID,
			Category:        category,
			PreferredWorker: preferred,
			DominantWorker:  dominant,
			PreferredRate:   preferredRate,
			DominantRate:    dominantRate,
			Magnitude:       magnitude,
			Confidence:      confidence,
			SampleSize:      b.total,
		})
	}

	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Magnitude != drifts[j].Magnitude {
			return drifts[i].Magnitude > drifts[j].Magnitude
		}
		return drifts[i].Category < drifts[j].Category
	})
	return drifts
}

// driftConfidence blends sample volume, dominance consistency, and the mean
// decision confidence of the window.
func (d *Detector) driftConfidence(sample int, dominantRate, meanDecisionConfidence float64) float64 {
	sampleFactor := float64(sample) / float64(d.cfg.MinSampleSize*3)
	if sampleFactor > 1 {
		sampleFactor = 1
	}
	return 0.4*sampleFactor + 0.4*dominantRate + 0.2*meanDecisionConfidence
}

// dominantWorker returns the most-used worker, breaking count ties by id so
// repeated runs over the same window agree.
func dominantWorker(byWorker map[string]int) (string, int) {
	best := ""
	bestCount := 0
	for id, n := range byWorker {
		if n > bestCount || (n == bestCount && id < best) {
			best = id
			bestCount = n
		}
	}
	return best, bestCount
}
