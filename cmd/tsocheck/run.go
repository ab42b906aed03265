package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/kolkov/weakmem/internal/weakmem/explore"
	"github.com/kolkov/weakmem/internal/weakmem/litmus"
	"github.com/kolkov/weakmem/internal/weakmem/telemetry"
)

type runOptions struct {
	*globalOptions

	bufferSize  int
	strategy    string
	iterations  int
	seed        uint64
	maxDepth    int
	parallel    int
	metricsAddr string
	tests       []string
	verbose     bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := runOptions{globalOptions: g}
	cmd := &cobra.Command{
		Use:   "run [suite.yaml...]",
		Short: "Run litmus suites, or the built-in suite when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("buffer-size") {
				n, err := envBufferSize()
				if err != nil {
					return err
				}
				o.bufferSize = n
			}
			if !cmd.Flags().Changed("seed") {
				o.seed = uint64(time.Now().UnixNano())
			}
			return o.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.bufferSize, "buffer-size", "b", 0, "store buffer bound; 0 keeps the suite's, negative is unbounded")
	f.StringVarP(&o.strategy, "strategy", "s", "dfs", "exploration strategy: dfs or random")
	f.IntVarP(&o.iterations, "iterations", "n", 1000, "paths per test for the random strategy")
	f.Uint64Var(&o.seed, "seed", 0, "random strategy seed (default: time based)")
	f.IntVar(&o.maxDepth, "max-depth", explore.DefaultMaxDepth, "maximum number of choices per path")
	f.IntVarP(&o.parallel, "parallel", "p", 0, "tests run concurrently (0: unlimited)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.StringSliceVarP(&o.tests, "test", "t", nil, "run only the named tests")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "print the reachable outcomes of every test")
	return cmd
}

func (o *runOptions) newStrategy() (func() explore.Strategy, error) {
	switch o.strategy {
	case "dfs":
		return func() explore.Strategy {
			return &explore.DFS{MaxDepth: o.maxDepth}
		}, nil
	case "random":
		if o.iterations <= 0 {
			return nil, fmt.Errorf("--iterations must be positive, got %d", o.iterations)
		}
		return func() explore.Strategy {
			return &explore.Random{MaxDepth: o.maxDepth, Paths: o.iterations, Seed: o.seed}
		}, nil
	}
	return nil, fmt.Errorf("--strategy: unknown strategy %q", o.strategy)
}

func (o *runOptions) run(ctx context.Context, stdout, stderr io.Writer, paths []string) error {
	logger, err := o.newLogger(stderr)
	if err != nil {
		return err
	}
	newStrategy, err := o.newStrategy()
	if err != nil {
		return err
	}
	suites, err := loadSuites(paths)
	if err != nil {
		return err
	}
	if suites, err = o.filter(suites); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	metrics := telemetry.New()
	if o.metricsAddr != "" {
		shutdown, err := serveMetrics(o.metricsAddr, metrics, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	runner := &litmus.Runner{
		NewStrategy: newStrategy,
		BufferSize:  o.bufferSize,
		Logger:      logger,
		Observer:    metrics,
	}
	logger.Info("tsocheck: starting",
		slog.String("strategy", o.strategy),
		slog.Int("buffer_size", o.bufferSize),
		slog.Uint64("seed", o.seed))

	failed := 0
	for _, s := range suites {
		reports, err := runner.RunSuite(ctx, s.suite, o.parallel)
		for _, rep := range reports {
			if rep == nil {
				continue
			}
			o.print(stdout, rep)
			if !rep.Passed() {
				failed++
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	if failed > 0 {
		fmt.Fprintf(stdout, "FAIL: %d test(s) failed\n", failed)
		return errChecksFailed
	}
	fmt.Fprintln(stdout, "ok")
	return nil
}

// filter keeps the tests named by --test. Every name must exist somewhere.
func (o *runOptions) filter(suites []namedSuite) ([]namedSuite, error) {
	if len(o.tests) == 0 {
		return suites, nil
	}
	found := make(map[string]bool, len(o.tests))
	var out []namedSuite
	for _, s := range suites {
		kept := *s.suite
		kept.Tests = nil
		for _, t := range s.suite.Tests {
			if slices.Contains(o.tests, t.Name) {
				kept.Tests = append(kept.Tests, t)
				found[t.Name] = true
			}
		}
		if len(kept.Tests) > 0 {
			out = append(out, namedSuite{name: s.name, suite: &kept})
		}
	}
	for _, name := range o.tests {
		if !found[name] {
			return nil, fmt.Errorf("no test named %q", name)
		}
	}
	return out, nil
}

func (o *runOptions) print(w io.Writer, rep *litmus.Report) {
	status := "PASS"
	if !rep.Passed() {
		status = "FAIL"
	}
	bound := fmt.Sprint(rep.BufferSize)
	if rep.BufferSize == 0 {
		bound = "inf"
	}
	fmt.Fprintf(w, "%s  %-12s paths=%d pruned=%d outcomes=%d buffer=%s (%v)\n",
		status, rep.Test, rep.Result.Paths, rep.Result.Pruned, rep.Outcomes.Len(), bound,
		rep.Duration.Round(time.Microsecond))

	for _, m := range rep.Missing {
		fmt.Fprintf(w, "      missing:   %s\n", m)
	}
	for _, u := range rep.Unexpected {
		fmt.Fprintf(w, "      forbidden: %s\n", u)
	}
	for _, f := range rep.Result.Failures {
		fmt.Fprintf(w, "      fault:     %v on path %v\n", f.Err, f.Path)
	}
	if o.verbose || !rep.Passed() {
		for _, out := range rep.Outcomes.Keys() {
			fmt.Fprintf(w, "      %6d× %s\n", rep.Outcomes.Count(out), out)
		}
	}
}

func serveMetrics(addr string, m *telemetry.Metrics, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("tsocheck: metrics server", slog.Any("error", err))
		}
	}()
	logger.Info("tsocheck: serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
