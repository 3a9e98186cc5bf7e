package routing

import (
	"fmt"
	"sort"

	"github.com/hrygo/modelpilot/ai/worker"
)

// GenerateFallbackChain derives the ordered list of alternative workers for
// a fused decision. The primary chosen worker is never part of its own chain.
func GenerateFallbackChain(state DecisionState) []string {
	var chain []string
	seen := map[string]bool{state.Worker: true}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		if _, ok := state.Registry.Get(id); !ok {
			return
		}
		if state.PrivacyForced && !state.Registry.IsLocalCapable(id) {
			return
		}
		seen[id] = true
		chain = append(chain, id)
	}

	// (a) Other workers named in the current period's preference table.
	period := PeriodOf(state.Now.Hour())
	if table, ok := state.Profile.TimePrefs.Periods[period]; ok {
		ids := make([]string, 0, len(table))
		for _, id := range table {
			ids = append(ids, id)
		}
		sort.Strings(ids) // map order is random; keep chains deterministic
		for _, id := range ids {
			add(id)
		}
	}

	// (b) Next-best performance-summary entries.
	for _, id := range rankedPerformance(state.Performance) {
		add(id)
	}

	// (c) Forced local-capable worker for fast-iteration accommodation or
	// after a privacy override.
	if state.Profile.Style.AttentionVariability || state.PrivacyForced {
		if w, ok := state.Registry.FirstLocal(); ok {
			add(w.ID)
		}
	}

	// (d) Declared category fallback.
	if fb, ok := state.Profile.Fallbacks[state.Classification.Primary]; ok {
		add(fb)
	}

	// Invariant: the chain ends in at least one local-capable worker unless
	// none exists in the registry.
	if !hasLocal(chain, state.Registry) {
		if w, ok := state.Registry.FirstLocal(); ok && !seen[w.ID] {
			chain = append(chain, w.ID)
		}
	}

	return chain
}

// ValidateFallbackChain enforces the local-capable invariant after a privacy
// override. A violation is fatal to the decision, not a warning.
func ValidateFallbackChain(chain []string, privacyForced bool, registry *worker.Registry) error {
	if !privacyForced {
		return nil
	}
	_, hasAnyLocal := registry.FirstLocal()
	if !hasAnyLocal {
		// No local-capable worker exists; the invariant is vacuously waived.
		return nil
	}

	var violations []string
	for _, id := range chain {
		if !registry.IsLocalCapable(id) {
			violations = append(violations, fmt.Sprintf("worker %s is not local-capable", id))
		}
	}
	if len(chain) == 0 {
		violations = append(violations, "privacy-forced decision has empty fallback chain")
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// rankedPerformance returns worker ids ordered by descending blended score.
func rankedPerformance(summary PerformanceSummary) []string {
	ids := make([]string, 0, len(summary))
	for id := range summary {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := summary[ids[i]].Score(), summary[ids[j]].Score()
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func hasLocal(chain []string, registry *worker.Registry) bool {
	for _, id := range chain {
		if registry.IsLocalCapable(id) {
			return true
		}
	}
	return false
}
