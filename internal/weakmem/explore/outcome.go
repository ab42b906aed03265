package explore

import (
	"maps"
	"slices"
	"strings"
)

// OutcomeSet is the set of distinct outcomes observed over a run, with the
// number of paths that produced each.
//
// The zero value is an empty set ready to use.
type OutcomeSet struct {
	counts map[string]int
}

// Add records one path ending in outcome.
func (s *OutcomeSet) Add(outcome string) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[outcome]++
}

// Merge adds every path recorded in o.
func (s *OutcomeSet) Merge(o *OutcomeSet) {
	for k, n := range o.counts {
		if s.counts == nil {
			s.counts = make(map[string]int)
		}
		s.counts[k] += n
	}
}

// Has reports whether outcome was observed.
func (s *OutcomeSet) Has(outcome string) bool {
	return s.counts[outcome] > 0
}

// Count returns the number of paths that ended in outcome.
func (s *OutcomeSet) Count(outcome string) int {
	return s.counts[outcome]
}

// Len returns the number of distinct outcomes.
func (s *OutcomeSet) Len() int {
	return len(s.counts)
}

// Keys returns the distinct outcomes in sorted order.
func (s *OutcomeSet) Keys() []string {
	return slices.Sorted(maps.Keys(s.counts))
}

// String formats the set as "{a; b}".
func (s *OutcomeSet) String() string {
	return "{" + strings.Join(s.Keys(), "; ") + "}"
}
