package litmus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/weakmem/internal/weakmem/buffers"
	"github.com/kolkov/weakmem/internal/weakmem/explore"
)

func TestBuiltinSuitePasses(t *testing.T) {
	s, err := Builtin()
	require.NoError(t, err)

	var r Runner
	reports, err := r.RunSuite(context.Background(), s, 4)
	require.NoError(t, err)
	require.Len(t, reports, len(s.Tests))

	for _, rep := range reports {
		t.Run(rep.Test, func(t *testing.T) {
			assert.Empty(t, rep.Missing, "outcomes: %s", rep.Outcomes)
			assert.Empty(t, rep.Unexpected)
			assert.Empty(t, rep.Result.Failures)
			assert.True(t, rep.Passed())
			assert.Positive(t, rep.Result.Paths)
		})
	}
}

func TestStoreBufferingOutcomes(t *testing.T) {
	s, err := Builtin()
	require.NoError(t, err)
	sb, _ := s.Find("SB")

	var r Runner
	rep, err := r.Run(context.Background(), s, sb)
	require.NoError(t, err)

	assert.Equal(t, []string{"r0=0 r1=0", "r0=0 r1=1", "r0=1 r1=0", "r0=1 r1=1"}, rep.Outcomes.Keys())
	assert.Equal(t, 2, rep.BufferSize)
	assert.Positive(t, rep.Stats.ChoicePoints)
}

func TestReportListsViolations(t *testing.T) {
	s, err := Parse([]byte(`format: v1.0.0
tests:
  - name: SB-strong
    locations: {x: {}, y: {}}
    threads:
      - [{op: store, loc: x, value: 1}, {op: load, loc: y, reg: r0}]
      - [{op: store, loc: y, value: 1}, {op: load, loc: x, reg: r1}]
    required: ["r0=2"]
    forbidden: ["r0=0 r1=0"]
`))
	require.NoError(t, err)

	var r Runner
	rep, err := r.Run(context.Background(), s, &s.Tests[0])
	require.NoError(t, err)

	assert.False(t, rep.Passed())
	assert.Equal(t, []string{"r0=2"}, rep.Missing)
	assert.Equal(t, []string{"r0=0 r1=0 (r0=0 r1=0)"}, rep.Unexpected)
}

func TestFaultingPathIsRecorded(t *testing.T) {
	s, err := Parse([]byte(`format: v1.0.0
tests:
  - name: odd-size
    locations: {x: {}}
    threads:
      - [{op: load, loc: x, size: 3, reg: r0}]
`))
	require.NoError(t, err)

	var r Runner
	rep, err := r.Run(context.Background(), s, &s.Tests[0])
	require.NoError(t, err)

	assert.True(t, rep.Result.Failed())
	assert.False(t, rep.Passed())
	assert.Zero(t, rep.Outcomes.Len())
}

func TestBufferSizePrecedence(t *testing.T) {
	s, err := Builtin()
	require.NoError(t, err)
	sb, _ := s.Find("SB")
	evict, _ := s.Find("SB+evict")

	tests := []struct {
		name     string
		override int
		test     *Test
		want     int
	}{
		{"suite", 0, sb, 2},
		{"runner", 5, sb, 5},
		{"unbounded", -1, sb, 0},
		{"test", 5, evict, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Runner{BufferSize: tt.override}
			rep, err := r.Run(context.Background(), s, tt.test)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rep.BufferSize)
			assert.True(t, rep.Passed())
		})
	}
}

type recorder struct {
	mu      sync.Mutex
	paths   map[string]int
	choices int
	evicted uint64
}

func (r *recorder) ObservePath(test string, stats buffers.Stats, choices int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paths == nil {
		r.paths = make(map[string]int)
	}
	r.paths[test]++
	r.choices += choices
	r.evicted += stats.Evictions
}

func TestObserver(t *testing.T) {
	s, err := Builtin()
	require.NoError(t, err)
	evict, _ := s.Find("SB+evict")

	rec := &recorder{}
	r := Runner{Observer: rec}
	rep, err := r.Run(context.Background(), s, evict)
	require.NoError(t, err)

	assert.Equal(t, rep.Result.Paths, rec.paths["SB+evict"])
	assert.Positive(t, rec.choices)
	assert.Positive(t, rec.evicted)
	assert.Equal(t, rep.Stats.Evictions, rec.evicted)
}

func TestRandomStrategy(t *testing.T) {
	s, err := Builtin()
	require.NoError(t, err)
	mp, _ := s.Find("MP")

	r := Runner{NewStrategy: func() explore.Strategy {
		return &explore.Random{Paths: 200, Seed: 1}
	}}
	rep, err := r.Run(context.Background(), s, mp)
	require.NoError(t, err)

	assert.Equal(t, 200, rep.Result.Paths)
	assert.Empty(t, rep.Unexpected)
	assert.False(t, rep.Result.Failed())
}

func TestRunSuiteCancelled(t *testing.T) {
	s, err := Builtin()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var r Runner
	_, err = r.RunSuite(ctx, s, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
