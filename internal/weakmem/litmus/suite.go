// Package litmus runs litmus tests against the weak memory engine.
//
// A litmus test is a handful of tasks each executing a short straight-line
// sequence of memory operations, followed by a check of which final
// outcomes (register values and memory contents) are reachable. Suites are
// YAML documents:
//
//	format: v1.0.0
//	buffer_size: 2
//	tests:
//	  - name: SB
//	    locations: {x: {size: 4}, y: {size: 4}}
//	    threads:
//	      - [{op: store, loc: x, value: 1}, {op: load, loc: y, reg: r0}]
//	      - [{op: store, loc: y, value: 1}, {op: load, loc: x, reg: r1}]
//	    required: ["r0=0 r1=0"]
//
// The runner enumerates every interleaving of the tasks together with every
// store buffer behavior the engine offers, using the explore package.
package litmus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/weakmem/internal/weakmem/order"
)

// FormatMajor is the suite format major version this package reads.
const FormatMajor = "v1"

// Errors returned while loading a suite.
var (
	ErrUnsupportedFormat = errors.New("unsupported suite format")
	ErrUnknownOp         = errors.New("unknown operation")
	ErrUnknownLocation   = errors.New("unknown location")
	ErrInvalidTest       = errors.New("invalid test")
)

// Suite is a collection of litmus tests.
type Suite struct {
	// Format is the semantic version of the suite format, e.g. "v1.0.0".
	Format string `yaml:"format"`

	// BufferSize is the store buffer bound for tests that do not set
	// their own. Zero selects the engine default.
	BufferSize int `yaml:"buffer_size,omitempty"`

	Tests []Test `yaml:"tests"`
}

// Location is a named memory object.
type Location struct {
	// Size in bytes, 4 if omitted.
	Size int `yaml:"size,omitempty"`

	// Init is the initial little-endian content of the first 8 bytes.
	Init uint64 `yaml:"init,omitempty"`
}

func (l Location) size() int {
	if l.Size == 0 {
		return 4
	}
	return l.Size
}

// Op is one operation of a thread.
//
//	store  loc[+offset] = value            (size, order)
//	load   reg = loc[+offset]              (size, order)
//	fence                                  (order)
//	cas    reg = cas(loc, expect, value)   (size, order, fail); reg.ok is 0 or 1
//	free   loc
//	shrink loc to size bytes
type Op struct {
	Op     string `yaml:"op"`
	Loc    string `yaml:"loc,omitempty"`
	Offset int    `yaml:"offset,omitempty"`
	Size   int    `yaml:"size,omitempty"`
	Value  uint64 `yaml:"value,omitempty"`
	Expect uint64 `yaml:"expect,omitempty"`
	Reg    string `yaml:"reg,omitempty"`
	Order  string `yaml:"order,omitempty"`
	Fail   string `yaml:"fail,omitempty"`
}

// Probe is a location read by the observer task once all threads are done.
// In YAML it is either a bare location name or a mapping.
type Probe struct {
	Loc    string `yaml:"loc"`
	Offset int    `yaml:"offset,omitempty"`
	Size   int    `yaml:"size,omitempty"`
}

// UnmarshalYAML accepts "x" as shorthand for {loc: x}.
func (p *Probe) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		p.Loc = n.Value
		return nil
	}
	type plain Probe
	return n.Decode((*plain)(p))
}

// Name is the key of the probe in an outcome.
func (p Probe) Name() string {
	if p.Offset == 0 {
		return p.Loc
	}
	return fmt.Sprintf("%s+%d", p.Loc, p.Offset)
}

// Test is a single litmus test.
type Test struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	BufferSize  int                 `yaml:"buffer_size,omitempty"`
	Locations   map[string]Location `yaml:"locations"`
	Threads     [][]Op              `yaml:"threads"`
	Observe     []Probe             `yaml:"observe,omitempty"`

	// Required patterns must each match at least one reachable outcome.
	Required []string `yaml:"required,omitempty"`

	// Forbidden patterns must match no reachable outcome.
	Forbidden []string `yaml:"forbidden,omitempty"`
}

// LocationNames returns the location names in sorted order; locations are
// allocated in this order.
func (t *Test) LocationNames() []string {
	names := make([]string, 0, len(t.Locations))
	for n := range t.Locations {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Parse decodes and validates a suite.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Suite
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode suite: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and validates the suite file at path.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks the format version and every test.
func (s *Suite) Validate() error {
	if !semver.IsValid(s.Format) || semver.Major(s.Format) != FormatMajor {
		return fmt.Errorf("%w: %q (want %s.x.y)", ErrUnsupportedFormat, s.Format, FormatMajor)
	}
	seen := make(map[string]bool, len(s.Tests))
	for i := range s.Tests {
		t := &s.Tests[i]
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate test name %q", ErrInvalidTest, t.Name)
		}
		seen[t.Name] = true
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the test called name.
func (s *Suite) Find(name string) (*Test, bool) {
	for i := range s.Tests {
		if s.Tests[i].Name == name {
			return &s.Tests[i], true
		}
	}
	return nil, false
}

// Validate checks that every operation is well formed.
func (t *Test) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTest)
	}
	if len(t.Threads) == 0 {
		return fmt.Errorf("%s: %w: no threads", t.Name, ErrInvalidTest)
	}
	for name, l := range t.Locations {
		if l.size() <= 0 {
			return fmt.Errorf("%s: %w: location %s has size %d", t.Name, ErrInvalidTest, name, l.Size)
		}
	}
	for i, ops := range t.Threads {
		for j, op := range ops {
			if _, err := t.compile(op); err != nil {
				return fmt.Errorf("%s: thread %d op %d: %w", t.Name, i, j, err)
			}
		}
	}
	for _, p := range t.Observe {
		if _, ok := t.Locations[p.Loc]; !ok {
			return fmt.Errorf("%s: observe: %w %q", t.Name, ErrUnknownLocation, p.Loc)
		}
	}
	for _, pat := range slices.Concat(t.Required, t.Forbidden) {
		if _, err := ParsePattern(pat); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
	}
	return nil
}

type opKind uint8

const (
	opStore opKind = iota
	opLoad
	opFence
	opCAS
	opFree
	opShrink
)

// instr is a validated Op with its orders resolved.
type instr struct {
	kind   opKind
	op     Op
	size   int
	order  order.MemoryOrder
	fail   order.MemoryOrder
	access bool // kind touches memory at loc+offset
}

func (t *Test) compile(op Op) (instr, error) {
	in := instr{op: op}
	switch op.Op {
	case "store":
		in.kind, in.access = opStore, true
	case "load":
		in.kind, in.access = opLoad, true
	case "fence":
		in.kind = opFence
	case "cas":
		in.kind, in.access = opCAS, true
	case "free":
		in.kind = opFree
	case "shrink":
		in.kind = opShrink
	default:
		return in, fmt.Errorf("%w %q", ErrUnknownOp, op.Op)
	}

	var err error
	if in.order, err = order.Parse(op.Order); err != nil {
		return in, err
	}
	switch in.kind {
	case opFence:
		if op.Order == "" {
			in.order = order.SeqCst
		}
		return in, nil
	case opCAS:
		if op.Order == "" {
			in.order = order.SeqCst | order.AtomicOp
		}
		in.fail = order.SeqCst
		if op.Fail != "" {
			if in.fail, err = order.Parse(op.Fail); err != nil {
				return in, err
			}
		}
	}

	loc, ok := t.Locations[op.Loc]
	if !ok {
		return in, fmt.Errorf("%w %q", ErrUnknownLocation, op.Loc)
	}
	if in.kind == opShrink {
		if op.Size <= 0 || op.Size >= loc.size() {
			return in, fmt.Errorf("%w: shrink of %s to %d bytes", ErrInvalidTest, op.Loc, op.Size)
		}
		return in, nil
	}
	if !in.access {
		return in, nil
	}

	in.size = op.Size
	if in.size == 0 {
		in.size = min(loc.size(), 8)
	}
	if op.Offset < 0 || op.Offset+in.size > loc.size() {
		return in, fmt.Errorf("%w: %d-byte access at %s+%d", ErrInvalidTest, in.size, op.Loc, op.Offset)
	}
	if (in.kind == opLoad || in.kind == opCAS) && op.Reg == "" {
		return in, fmt.Errorf("%w: %s without register", ErrInvalidTest, op.Op)
	}
	return in, nil
}
