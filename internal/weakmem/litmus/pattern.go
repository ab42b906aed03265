package litmus

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ErrBadPattern is returned for a malformed outcome pattern.
var ErrBadPattern = errors.New("malformed outcome pattern")

// Outcome is the final state of one path: register and probe values by name.
type Outcome map[string]uint64

// String formats the outcome as space-separated name=value pairs in name
// order, values in decimal:
//
//	r0=0 r1=1 x=1
func (o Outcome) String() string {
	var b strings.Builder
	for i, k := range slices.Sorted(maps.Keys(o)) {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", k, o[k])
	}
	return b.String()
}

// Pattern is a partial outcome. It matches every outcome that agrees on all
// of its names.
type Pattern Outcome

// ParsePattern parses "name=value ..." where values may use any Go integer
// literal prefix (0x, 0o, 0b).
func ParsePattern(s string) (Pattern, error) {
	p := Pattern{}
	for _, f := range strings.Fields(s) {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, s)
		}
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, s, err)
		}
		p[k] = n
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadPattern)
	}
	return p, nil
}

// Matches reports whether o agrees with every name of p.
func (p Pattern) Matches(o Outcome) bool {
	for k, v := range p {
		if got, ok := o[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// parseOutcome is the inverse of Outcome.String.
func parseOutcome(s string) Outcome {
	o := Outcome{}
	for _, f := range strings.Fields(s) {
		k, v, _ := strings.Cut(f, "=")
		n, _ := strconv.ParseUint(v, 10, 64)
		o[k] = n
	}
	return o
}
