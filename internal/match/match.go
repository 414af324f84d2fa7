// Package match decides which rule lines apply to a set of deal facts.
// It is a pure function with no side effects.
package match

import (
	"github.com/dealstack/tally/internal/domain"
)

// Applicable reports whether a rule line's conditions are satisfied by
// the supplied facts.
//
// A line with no conditions always applies. Otherwise every condition
// key must be present in the facts with a type-preserving equal value;
// a missing key fails closed rather than erroring, so an under-specified
// fact set can never silently enable a charge.
func Applicable(conditions domain.ConditionSet, facts domain.Facts) bool {
	if len(conditions) == 0 {
		return true
	}
	for key, required := range conditions {
		got, ok := facts[key]
		if !ok {
			return false
		}
		if !got.Equal(required) {
			return false
		}
	}
	return true
}

// Filter returns the lines whose conditions are satisfied by the facts,
// preserving input order.
func Filter(lines []*domain.RuleLine, facts domain.Facts) []*domain.RuleLine {
	var applicable []*domain.RuleLine
	for _, line := range lines {
		if Applicable(line.Conditions, facts) {
			applicable = append(applicable, line)
		}
	}
	return applicable
}
