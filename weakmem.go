package weakmem

import (
	"context"

	"github.com/kolkov/weakmem/internal/weakmem/api"
	"github.com/kolkov/weakmem/internal/weakmem/buffers"
	"github.com/kolkov/weakmem/internal/weakmem/explore"
	"github.com/kolkov/weakmem/internal/weakmem/mask"
	"github.com/kolkov/weakmem/internal/weakmem/order"
)

// Engine types.
type (
	Engine    = api.Engine
	Config    = api.Config
	CASResult = api.CASResult
	Snapshot  = api.Snapshot
	Stats     = buffers.Stats

	// Runtime is the simulated machine the engine runs on.
	Runtime    = api.Runtime
	AccessKind = api.AccessKind
	TaskID     = api.TaskID

	// Chooser answers the engine's choice points.
	Chooser     = api.Chooser
	ChooserFunc = buffers.ChooserFunc

	Mask  = mask.Mask
	Flags = mask.Flags

	Fault     = api.Fault
	FaultKind = api.FaultKind
)

// DefaultBufferSize is the store buffer bound used when Config.BufferSize
// is zero.
const DefaultBufferSize = api.DefaultBufferSize

// ErrInvalidSize is wrapped by faults for accesses that are not 1, 2, 4 or
// 8 bytes wide.
var ErrInvalidSize = api.ErrInvalidSize

// New returns an engine with empty store buffers running on rt.
func New(rt Runtime, cfg Config) *Engine {
	return api.New(rt, cfg)
}

// MemoryOrder classifies the atomicity and ordering of an access.
type MemoryOrder = order.MemoryOrder

// Memory orders.
const (
	NotAtomic = order.NotAtomic
	Unordered = order.Unordered
	Monotonic = order.Monotonic
	Acquire   = order.Acquire
	Release   = order.Release
	AcqRel    = order.AcqRel
	SeqCst    = order.SeqCst
	AtomicOp  = order.AtomicOp
	WeakCAS   = order.WeakCAS
)

// ParseOrder parses an order name such as "seq_cst" or "acquire+weak".
func ParseOrder(s string) (MemoryOrder, error) {
	return order.Parse(s)
}

// Exploration types.
type (
	Strategy       = explore.Strategy
	DFS            = explore.DFS
	Random         = explore.Random
	ExploreResult  = explore.Result
	ExploreOptions = explore.Options
)

// Explore calls root once per path selected by s. See explore.Run.
func Explore(ctx context.Context, s Strategy, root func(Chooser) error, opts ...ExploreOptions) (ExploreResult, error) {
	return explore.Run(ctx, s, root, opts...)
}
