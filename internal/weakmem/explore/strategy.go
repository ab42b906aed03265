// Package explore drives a nondeterministic computation through its choice
// points.
//
// The weak memory engine never decides anything on its own: every place
// where TSO permits more than one behavior is a call to Chooser.Choose(n).
// Run executes a root function once per path of the resulting choice tree,
// as selected by a Strategy. DFS enumerates the whole tree by replaying path
// prefixes; Random samples it.
package explore

import (
	"fmt"
	"math/rand/v2"
)

// DefaultMaxDepth is the maximum number of choices on one path when a
// strategy does not set MaxDepth.
const DefaultMaxDepth = 100

// A Strategy decides the answer of every choice point. The space it explores
// is a tree where a call to Amb introduces a node with fan-out n and a call
// to Next terminates a path.
type Strategy interface {
	// Amb returns a value in [0, n). If the current path cannot be
	// continued (for example, it reached the maximum depth), it returns
	// 0, false.
	//
	// Amb may panic with *ErrNondeterminism if it detects that the root
	// function behaves differently when a path prefix is replayed.
	Amb(n int) (int, bool)

	// Next terminates the current path and reports whether another path
	// remains to be explored.
	Next() bool

	// Reset forgets every explored path.
	Reset()
}

// ErrNondeterminism reports that replaying a path prefix produced a
// different choice point than the first execution did.
type ErrNondeterminism struct {
	Detail string
}

func (e *ErrNondeterminism) Error() string {
	return "non-determinism detected: " + e.Detail
}

// DFS explores the choice tree in depth-first order up to MaxDepth. It is
// deterministic and eventually visits every path.
type DFS struct {
	// MaxDepth bounds the number of choices per path. Zero selects
	// DefaultMaxDepth.
	MaxDepth int

	widths []int
	path   []int
	step   int
}

// Reset forgets every explored path.
func (s *DFS) Reset() {
	s.widths = nil
	s.path = nil
	s.step = 0
}

func (s *DFS) maxDepth() int {
	if s.MaxDepth == 0 {
		return DefaultMaxDepth
	}
	return s.MaxDepth
}

// Amb replays the current path prefix, then always picks 0.
func (s *DFS) Amb(n int) (int, bool) {
	if s.step < len(s.path) {
		if n != s.widths[s.step] {
			panic(&ErrNondeterminism{fmt.Sprintf("choice among %d during replay at step %d, previously among %d", n, s.step, s.widths[s.step])})
		}
		res := s.path[s.step]
		s.step++
		return res, true
	}

	if len(s.path) == s.maxDepth() {
		return 0, false
	}

	s.widths = append(s.widths, n)
	s.path = append(s.path, 0)
	s.step++
	return 0, true
}

// Next advances to the next path prefix in depth-first order.
func (s *DFS) Next() bool {
	s.step = 0

	for i := len(s.path) - 1; i >= 0; i-- {
		s.path[i]++
		if s.path[i] < s.widths[i] {
			break
		}
		s.path = s.path[:i]
	}
	s.widths = s.widths[:len(s.path)]
	return len(s.path) > 0
}

// Random samples paths with a seeded generator. It does not avoid visiting
// the same path twice and does not know when the tree is exhausted.
type Random struct {
	// MaxDepth bounds the number of choices per path. Zero selects
	// DefaultMaxDepth.
	MaxDepth int

	// Paths is the number of paths to run. Zero means unbounded.
	Paths int

	// Seed seeds the generator on Reset.
	Seed uint64

	rng         *rand.Rand
	step, paths int
}

// Reset reseeds the generator and restarts the path count.
func (s *Random) Reset() {
	s.rng = rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	s.step = 0
	s.paths = 0
}

func (s *Random) maxDepth() int {
	if s.MaxDepth == 0 {
		return DefaultMaxDepth
	}
	return s.MaxDepth
}

// Amb returns a uniformly random value in [0, n).
func (s *Random) Amb(n int) (int, bool) {
	if s.rng == nil {
		s.Reset()
	}
	if s.step == s.maxDepth() {
		return 0, false
	}
	s.step++
	return s.rng.IntN(n), true
}

// Next counts the finished path.
func (s *Random) Next() bool {
	s.step = 0
	s.paths++
	return s.Paths == 0 || s.paths < s.Paths
}
