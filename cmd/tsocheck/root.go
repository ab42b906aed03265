package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kolkov/weakmem/internal/weakmem/litmus"
)

// errChecksFailed is returned when a test misses a required outcome, reaches
// a forbidden one, or faults. The report has already been printed.
var errChecksFailed = errors.New("litmus checks failed")

type globalOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var g globalOptions
	root := &cobra.Command{
		Use:           "tsocheck",
		Short:         "Explore litmus tests under a TSO store buffer model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newRunCmd(&g), newListCmd(), newVersionCmd())
	return root
}

// newLogger builds the process logger. Every record carries the run id.
func (g *globalOptions) newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(g.logFormat) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", g.logFormat)
	}
	return slog.New(h).With(slog.String("run_id", uuid.NewString())), nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBufferSize returns the buffer bound from the environment, 0 if unset.
func envBufferSize() (int, error) {
	v := getEnvOr(litmus.EnvBufferSize, "0")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", litmus.EnvBufferSize, err)
	}
	return n, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [suite.yaml...]",
		Short: "List the tests of the given suites, or of the built-in suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			suites, err := loadSuites(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range suites {
				for _, t := range s.suite.Tests {
					fmt.Fprintf(out, "%-12s %d threads  %s\n", t.Name, len(t.Threads), t.Description)
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tsocheck version %s\n", version)
		},
	}
}

type namedSuite struct {
	name  string
	suite *litmus.Suite
}

func loadSuites(paths []string) ([]namedSuite, error) {
	if len(paths) == 0 {
		s, err := litmus.Builtin()
		if err != nil {
			return nil, err
		}
		return []namedSuite{{name: "builtin", suite: s}}, nil
	}
	suites := make([]namedSuite, 0, len(paths))
	for _, p := range paths {
		s, err := litmus.Load(p)
		if err != nil {
			return nil, err
		}
		suites = append(suites, namedSuite{name: p, suite: s})
	}
	return suites, nil
}
