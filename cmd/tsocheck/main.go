// Package main implements tsocheck, a litmus test runner for the weak
// memory engine.
//
// tsocheck loads litmus suites (or the built-in one), explores every
// interleaving and store buffer behavior of each test, and checks the
// reachable outcomes against the test's required and forbidden patterns.
//
// Usage:
//
//	tsocheck run                      # run the built-in suite
//	tsocheck run -s random -n 1000    # sample 1000 random paths per test
//	tsocheck run --test SB my.yaml    # run one test of a suite file
//	tsocheck list                     # list the built-in tests
//	tsocheck version
//
// The store buffer bound defaults to the suite's and can be overridden with
// --buffer-size or the WEAKMEM_BUFFER_SIZE environment variable; a negative
// bound makes the buffers unbounded.
package main

import (
	"errors"
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintln(os.Stderr, "tsocheck:", err)
		}
		os.Exit(1)
	}
}
