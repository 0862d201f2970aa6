package dispatch

import (
	"fmt"
	"strings"
)

// ProviderFailure is one exhausted provider's name and last observed reason.
type ProviderFailure struct {
	Provider string
	Reason   string
}

// AllFailedError aggregates every provider's failure in attempt order. No
// entry is ever dropped: three providers behind the same outage yield three
// identical reasons.
type AllFailedError struct {
	Failures []ProviderFailure
}

func (e *AllFailedError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "all providers failed"
	}

	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Provider, f.Reason))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}
