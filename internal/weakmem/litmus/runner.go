package litmus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kolkov/weakmem/internal/weakmem/api"
	"github.com/kolkov/weakmem/internal/weakmem/buffers"
	"github.com/kolkov/weakmem/internal/weakmem/explore"
	"github.com/kolkov/weakmem/internal/weakmem/vm"
)

// EnvBufferSize names the environment variable that overrides the suite
// buffer bound.
const EnvBufferSize = "WEAKMEM_BUFFER_SIZE"

// PathObserver is notified after every explored path.
type PathObserver interface {
	ObservePath(test string, stats buffers.Stats, choices int, err error)
}

// Runner executes litmus tests.
//
// A Runner is safe for concurrent use as long as NewStrategy returns a
// fresh strategy on every call.
type Runner struct {
	// NewStrategy returns the exploration strategy for one test. Nil
	// selects exhaustive depth-first search.
	NewStrategy func() explore.Strategy

	// BufferSize, if non-zero, overrides the suite bound. A test that sets
	// its own bound depends on it and keeps it.
	BufferSize int

	// Logger receives per-test records. Nil discards them.
	Logger *slog.Logger

	// Observer, if set, is notified after every path.
	Observer PathObserver
}

// Report is the result of running one test.
type Report struct {
	Test       string
	BufferSize int // effective bound, 0 when unbounded
	Outcomes   explore.OutcomeSet
	Result     explore.Result
	Stats      buffers.Stats // summed over all paths
	Duration   time.Duration

	// Missing lists required patterns no outcome matched.
	Missing []string

	// Unexpected lists forbidden patterns together with the outcome that
	// matched them.
	Unexpected []string
}

// Passed reports whether every check held and no path failed.
func (r *Report) Passed() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0 && !r.Result.Failed()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (r *Runner) strategy() explore.Strategy {
	if r.NewStrategy == nil {
		return &explore.DFS{}
	}
	return r.NewStrategy()
}

func (r *Runner) bufferSize(s *Suite, t *Test) int {
	switch {
	case t.BufferSize != 0:
		return t.BufferSize
	case r.BufferSize != 0:
		return r.BufferSize
	}
	return s.BufferSize
}

// Run explores every path of test t of suite s and checks its patterns.
// The returned error reports a problem with the run itself (cancellation,
// nondeterminism); failed checks and faulting paths are recorded in the
// report.
func (r *Runner) Run(ctx context.Context, s *Suite, t *Test) (*Report, error) {
	logger := r.logger().With(slog.String("test", t.Name))
	size := r.bufferSize(s, t)

	prog, err := newProgram(t, api.Config{BufferSize: size, Logger: logger})
	if err != nil {
		return nil, err
	}
	rep := &Report{Test: t.Name, BufferSize: prog.engine.MaxBufferSize()}

	start := time.Now()
	res, err := explore.Run(ctx, r.strategy(), func(ch api.Chooser) error {
		out, err := prog.run(ch)
		if err != nil {
			return err
		}
		rep.Outcomes.Add(out.String())
		return nil
	}, explore.Options{
		Logger: logger,
		AfterPath: func(path []int, err error) {
			st := prog.engine.Stats()
			rep.Stats.Add(st)
			if r.Observer != nil {
				r.Observer.ObservePath(t.Name, st, len(path), err)
			}
		},
	})
	rep.Result = res
	rep.Duration = time.Since(start)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", t.Name, err)
	}

	rep.check(t)
	logger.Info("litmus: test done",
		slog.Bool("passed", rep.Passed()),
		slog.Int("paths", res.Paths),
		slog.Int("outcomes", rep.Outcomes.Len()),
		slog.Duration("duration", rep.Duration))
	return rep, nil
}

func (rep *Report) check(t *Test) {
	outcomes := rep.Outcomes.Keys()
	parsed := make([]Outcome, len(outcomes))
	for i, o := range outcomes {
		parsed[i] = parseOutcome(o)
	}

	for _, s := range t.Required {
		p, _ := ParsePattern(s)
		found := false
		for _, o := range parsed {
			if p.Matches(o) {
				found = true
				break
			}
		}
		if !found {
			rep.Missing = append(rep.Missing, s)
		}
	}
	for _, s := range t.Forbidden {
		p, _ := ParsePattern(s)
		for i, o := range parsed {
			if p.Matches(o) {
				rep.Unexpected = append(rep.Unexpected, fmt.Sprintf("%s (%s)", s, outcomes[i]))
			}
		}
	}
}

// RunSuite runs every test of s, at most parallel at a time (unbounded if
// parallel <= 0). Reports are returned in suite order; a report is nil if
// its test could not be run.
func (r *Runner) RunSuite(ctx context.Context, s *Suite, parallel int) ([]*Report, error) {
	reports := make([]*Report, len(s.Tests))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i := range s.Tests {
		g.Go(func() error {
			rep, err := r.Run(gctx, s, &s.Tests[i])
			reports[i] = rep
			return err
		})
	}
	return reports, g.Wait()
}

// program is a test loaded into a machine, ready to be replayed per path.
type program struct {
	test   *Test
	code   [][]instr
	addrs  map[string]uintptr
	m      *vm.Machine
	engine *api.Engine

	mstate *vm.State
	estate *api.Snapshot
}

func newProgram(t *Test, cfg api.Config) (*program, error) {
	p := &program{
		test:  t,
		addrs: make(map[string]uintptr, len(t.Locations)),
		m:     vm.New(),
	}
	p.engine = api.New(p.m, cfg)

	for _, name := range t.LocationNames() {
		loc := t.Locations[name]
		a := p.m.Alloc(loc.size())
		for i := 0; i < min(loc.size(), 8); i++ {
			p.m.RawStore(a+uintptr(i), 1, loc.Init>>(8*i))
		}
		p.addrs[name] = a
	}
	for i, ops := range t.Threads {
		code := make([]instr, len(ops))
		for j, op := range ops {
			in, err := t.compile(op)
			if err != nil {
				return nil, fmt.Errorf("%s: thread %d op %d: %w", t.Name, i, j, err)
			}
			code[j] = in
		}
		p.code = append(p.code, code)
	}

	p.mstate = p.m.Snapshot()
	p.estate = p.engine.Snapshot()
	return p, nil
}

// run executes one path: an interleaving of all threads chosen by ch, then a
// drain of every store buffer in an order chosen by ch, then the observer.
func (p *program) run(ch api.Chooser) (Outcome, error) {
	p.m.Restore(p.mstate)
	p.engine.Restore(p.estate)

	regs := Outcome{}
	pcs := make([]int, len(p.code))
	runnable := make([]int, 0, len(p.code))
	for {
		runnable = runnable[:0]
		for i, code := range p.code {
			if pcs[i] < len(code) {
				runnable = append(runnable, i)
			}
		}
		if len(runnable) == 0 {
			break
		}
		i := runnable[0]
		if len(runnable) > 1 {
			i = runnable[ch.Choose(len(runnable))]
		}
		p.m.Switch(api.TaskID(i + 1))
		if err := p.exec(ch, p.code[i][pcs[i]], regs); err != nil {
			return nil, fmt.Errorf("thread %d op %d: %w", i, pcs[i], err)
		}
		pcs[i]++
	}

	for {
		pending := p.engine.Buffers().PendingTasks()
		if len(pending) == 0 {
			break
		}
		task := pending[0]
		if len(pending) > 1 {
			task = pending[ch.Choose(len(pending))]
		}
		p.m.Switch(task)
		p.engine.Drain(ch, task)
	}

	p.m.Switch(api.TaskID(len(p.code) + 1))
	for _, probe := range p.test.Observe {
		size := probe.Size
		if size == 0 {
			size = min(p.m.ObjectSize(p.addrs[probe.Loc]), 8)
		}
		mk := p.engine.MaskEnter()
		v, err := p.engine.Load(ch, p.addrs[probe.Loc]+uintptr(probe.Offset), size, 0, mk)
		p.engine.MaskLeave(mk)
		if err != nil {
			return nil, fmt.Errorf("observe %s: %w", probe.Name(), err)
		}
		regs[probe.Name()] = v
	}
	return regs, nil
}

func (p *program) exec(ch api.Chooser, in instr, regs Outcome) error {
	op := in.op
	base := p.addrs[op.Loc]

	switch in.kind {
	case opFree:
		p.engine.Cleanup([]uintptr{base})
		p.m.Free(base)
		return nil
	case opShrink:
		p.engine.Resize(base, op.Size)
		p.m.Realloc(base, op.Size)
		return nil
	}

	mk := p.engine.MaskEnter()
	defer p.engine.MaskLeave(mk)
	addr := base + uintptr(op.Offset)

	switch in.kind {
	case opStore:
		return p.engine.Store(ch, addr, op.Value, in.size, in.order, mk)
	case opLoad:
		v, err := p.engine.Load(ch, addr, in.size, in.order, mk)
		regs[op.Reg] = v
		return err
	case opFence:
		p.engine.Fence(ch, in.order, mk)
	case opCAS:
		r, err := p.engine.CAS(ch, addr, op.Expect, op.Value, in.size, in.order, in.fail, mk)
		regs[op.Reg] = r.Value
		regs[op.Reg+".ok"] = 0
		if r.Success {
			regs[op.Reg+".ok"] = 1
		}
		return err
	}
	return nil
}
