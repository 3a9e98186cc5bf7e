package routing

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMissingProfile is returned when routing is attempted without a profile.
// Substituting a default profile is the caller's policy, not this engine's.
var ErrMissingProfile = errors.New("user profile required for routing")

// ValidationError reports a fallback chain that violates the local-capable
// invariant after a privacy override. It is fatal to the decision.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fallback chain validation failed: %v", e.Violations)
}
