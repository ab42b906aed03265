package litmus

import (
	_ "embed"
	"fmt"
)

//go:embed builtin.yaml
var builtinYAML []byte

// Builtin returns the built-in suite: the classic TSO litmus tests plus
// tests for compare-and-swap, mixed-size accesses and deallocation.
func Builtin() (*Suite, error) {
	s, err := Parse(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("builtin suite: %w", err)
	}
	return s, nil
}
