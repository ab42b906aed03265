// Package weakmem simulates a TSO-like relaxed memory model for a model
// checker.
//
// Every store of a simulated task is appended to that task's FIFO store
// buffer instead of being written to memory. Loads see the task's own
// buffered stores merged byte by byte over memory, and may or may not see
// the buffered stores of other tasks: that decision is a choice point
// answered by a [Chooser], so a checker that explores every answer
// enumerates every execution the model allows. Fences, compare-and-swap and
// other barrier accesses flush the caller's buffer.
//
// # Quick Start
//
// The engine runs on top of a [Runtime] that owns the simulated memory and
// the task scheduler:
//
//	e := weakmem.New(rt, weakmem.Config{BufferSize: 2})
//
//	m := e.MaskEnter()
//	err := e.Store(ch, addr, 1, 4, weakmem.Monotonic, m)
//	e.MaskLeave(m)
//
// Store buffering, the classic relaxed behavior, in a few lines with an
// exhaustive depth-first search:
//
//	res, err := weakmem.Explore(ctx, &weakmem.DFS{}, func(ch weakmem.Chooser) error {
//		// run both tasks, record the outcome
//		return nil
//	})
//
// # API Overview
//
//   - Engine construction: [New], [Config], [DefaultBufferSize]
//   - Memory orders: [MemoryOrder], [ParseOrder] and the order constants
//   - Exploration: [Explore], [DFS], [Random]
//   - Errors: [Fault], [ErrInvalidSize]
//   - Version information: [GetInfo], [Version]
//
// The tsocheck command runs litmus tests against the engine.
package weakmem
