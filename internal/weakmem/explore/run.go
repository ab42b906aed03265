package explore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kolkov/weakmem/internal/weakmem/api"
)

// ErrPathTerminated is panicked by the Chooser handed to the root function
// when the strategy refuses to continue the current path. Run recovers it
// and counts the path as pruned.
var ErrPathTerminated = errors.New("path terminated")

// Failure is a path that ended in a fault.
type Failure struct {
	// Path is the sequence of choices leading to the fault.
	Path []int

	// Err is the fault, either returned by root or recovered from a panic.
	Err error
}

func (f Failure) String() string {
	return fmt.Sprintf("path %v: %v", f.Path, f.Err)
}

// Result summarizes a Run.
type Result struct {
	Paths    int       // Paths executed, including pruned and failed ones.
	Pruned   int       // Paths cut off at the maximum depth.
	Choices  int       // Choice points over all paths.
	MaxDepth int       // Choice points on the longest path.
	Failures []Failure // Paths that ended in a fault.
}

// Failed reports whether any path ended in a fault.
func (r Result) Failed() bool {
	return len(r.Failures) > 0
}

// chooser adapts a Strategy to the engine's Chooser and records the path.
type chooser struct {
	s    Strategy
	path []int
}

func (c *chooser) Choose(n int) int {
	x, ok := c.s.Amb(n)
	if !ok {
		panic(ErrPathTerminated)
	}
	c.path = append(c.path, x)
	return x
}

// Options tune Run.
type Options struct {
	// Logger receives a Debug record per path and a Warn record per
	// failure. Nil discards them.
	Logger *slog.Logger

	// AfterPath, if set, is called after every path with the choices made
	// on it and the error the path ended with, if any.
	AfterPath func(path []int, err error)
}

// Run calls root once per path selected by s, passing a Chooser whose
// answers come from s.
//
// A path ends when root returns. Paths cut off by the strategy are counted
// as pruned. A path that returns or panics with an *api.Fault is recorded as
// a failure and exploration continues. Any other error returned by root, a
// detected nondeterminism, or cancellation of ctx between paths stops the
// run; the partial result is returned along with the error. Other panics are
// not recovered.
func Run(ctx context.Context, s Strategy, root func(ch api.Chooser) error, opts ...Options) (Result, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var res Result
	s.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ch := &chooser{s: s}
		pruned, err := run1(root, ch)
		res.Paths++
		res.Choices += len(ch.path)
		res.MaxDepth = max(res.MaxDepth, len(ch.path))
		if o.AfterPath != nil {
			o.AfterPath(ch.path, err)
		}

		var flt *api.Fault
		var nd *ErrNondeterminism
		switch {
		case pruned:
			res.Pruned++
			logger.Debug("explore: path pruned", slog.Any("path", ch.path))
		case errors.As(err, &nd):
			return res, err
		case errors.As(err, &flt):
			f := Failure{Path: slices.Clone(ch.path), Err: err}
			res.Failures = append(res.Failures, f)
			logger.Warn("explore: path failed", slog.Any("path", f.Path), slog.Any("error", err))
		case err != nil:
			return res, fmt.Errorf("path %v: %w", ch.path, err)
		default:
			logger.Debug("explore: path done", slog.Any("path", ch.path))
		}

		if !s.Next() {
			return res, nil
		}
	}
}

// run1 runs one path, converting recoverable panics to results.
func run1(root func(ch api.Chooser) error, ch *chooser) (pruned bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if rerr, ok := r.(error); ok {
			var flt *api.Fault
			var nd *ErrNondeterminism
			switch {
			case errors.Is(rerr, ErrPathTerminated):
				pruned, err = true, nil
				return
			case errors.As(rerr, &flt), errors.As(rerr, &nd):
				err = rerr
				return
			}
		}
		panic(r)
	}()
	return false, root(ch)
}
