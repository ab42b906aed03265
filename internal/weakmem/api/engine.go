// Package api provides the entry points of the weak memory engine.
//
// These functions are invoked by instrumented code on every load, store,
// fence and compare-and-swap, and by the runtime when memory is freed or
// resized. The Engine routes each access through the per-task store buffers
// so that the model checker driving the simulated program explores every
// outcome permitted by Total Store Order.
//
// Calling convention:
//
//	m := e.MaskEnter()
//	v, err := e.Load(ch, addr, 4, order.Acquire, m)
//	e.MaskLeave(m)
//
// The Mask returned by MaskEnter tells the engine whether the access must
// bypass the buffers (debug mode, nested entry) or belongs to privileged
// runtime code. Every choice the engine needs is asked of the Chooser passed
// to the operation.
package api

import (
	"io"
	"log/slog"

	"github.com/kolkov/weakmem/internal/weakmem/buffers"
	"github.com/kolkov/weakmem/internal/weakmem/mask"
	"github.com/kolkov/weakmem/internal/weakmem/order"
	"github.com/kolkov/weakmem/internal/weakmem/storebuf"
)

// DefaultBufferSize is the store buffer bound used when Config.BufferSize
// is zero.
const DefaultBufferSize = 2

// Config configures an Engine.
type Config struct {
	// BufferSize bounds every task's store buffer. Zero selects
	// DefaultBufferSize; a negative value makes buffers unbounded.
	BufferSize int

	// Logger receives Debug records for evictions, flushes and choices.
	// Nil discards them.
	Logger *slog.Logger
}

func (c Config) maxSize() int {
	switch {
	case c.BufferSize == 0:
		return DefaultBufferSize
	case c.BufferSize < 0:
		return 0
	}
	return c.BufferSize
}

// CASResult is the outcome of a compare-and-swap.
type CASResult struct {
	// Value is the value written on success, or the value read on failure.
	Value uint64

	// Success reports whether the store was performed.
	Success bool
}

// Engine is the weak memory state of one simulated program.
//
// Thread Safety: NOT safe for concurrent use. The simulated program runs one
// task at a time; independent engines may run on separate goroutines.
type Engine struct {
	rt     Runtime
	bufs   *buffers.Buffers
	logger *slog.Logger
}

// New creates an engine on top of rt.
func New(rt Runtime, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		rt:     rt,
		bufs:   buffers.New(cfg.maxSize(), logger),
		logger: logger,
	}
}

// Buffers exposes the store buffer table for inspection.
func (e *Engine) Buffers() *buffers.Buffers {
	return e.bufs
}

// MaxBufferSize returns the effective buffer bound; zero means unbounded.
func (e *Engine) MaxBufferSize() int {
	return e.bufs.MaxSize()
}

// MaskEnter marks the current task as executing inside the engine and
// returns the prior state.
func (e *Engine) MaskEnter() mask.Mask {
	return mask.Enter(e.rt)
}

// MaskLeave restores the state saved by MaskEnter, rescheduling if a race
// was observed meanwhile.
func (e *Engine) MaskLeave(m mask.Mask) {
	mask.Leave(e.rt, m)
}

// interrupt is the race callback handed to Runtime.MarkAccess.
func (e *Engine) interrupt() {
	e.rt.SetFlags(mask.Interrupted, mask.Interrupted)
}

// Store performs a store of the low size bytes of value at addr.
//
// Flow:
//  1. Under bypass or in kernel mode, write memory directly.
//  2. Mark the range as stored for race bookkeeping.
//  3. A SeqCst or atomic store is a full barrier: the task's whole buffer is
//     flushed and the value is written through to memory. Writing through
//     makes no choice of its own.
//  4. Any other store is appended to the task's buffer, evicting its oldest
//     line if the buffer is full.
func (e *Engine) Store(ch buffers.Chooser, addr uintptr, value uint64, size int, ord order.MemoryOrder, m mask.Mask) error {
	if err := checkSize("store", addr, size); err != nil {
		return err
	}
	if m.Direct() {
		e.rt.RawStore(addr, size, value)
		return nil
	}

	e.bufs.CountStore()
	e.rt.MarkAccess(addr, size, AccessStore, e.interrupt)
	task := e.rt.CurrentTask()
	line := storebuf.NewLine(addr, value, size, ord)

	if ord.Barrier() {
		e.bufs.Flush(e.rt, ch, task)
		e.bufs.WriteThrough(e.rt, task, line)
		return nil
	}
	e.bufs.Push(e.rt, ch, task, line)
	return nil
}

// Load returns the value of size bytes at addr as seen by the current task.
//
// Unless no other task has ever buffered a store, the load first lets the
// Chooser decide how much of the other tasks' buffered stores to the range
// has become visible. The result merges the task's own buffered stores over
// memory.
func (e *Engine) Load(ch buffers.Chooser, addr uintptr, size int, ord order.MemoryOrder, m mask.Mask) (uint64, error) {
	if err := checkSize("load", addr, size); err != nil {
		return 0, err
	}
	if m.Direct() {
		return e.rt.RawLoad(addr, size), nil
	}

	e.bufs.CountLoad()
	e.rt.MarkAccess(addr, size, AccessLoad, e.interrupt)
	task := e.rt.CurrentTask()

	if !e.bufs.OnlyOwner(task) {
		e.bufs.Observe(e.rt, ch, addr, size, task)
	}
	return e.bufs.Read(e.rt, task, addr, size), nil
}

// CAS compares size bytes at addr with expected and, if equal, stores
// newValue.
//
// The comparison uses a Load with the failure ordering. A weak CAS (failure
// ordering including order.WeakCAS) may fail spuriously even if the values
// match; both outcomes are offered to the Chooser. The store uses the success
// ordering, so an atomic CAS flushes the task's buffer.
func (e *Engine) CAS(ch buffers.Chooser, addr uintptr, expected, newValue uint64, size int, succ, fail order.MemoryOrder, m mask.Mask) (CASResult, error) {
	v, err := e.Load(ch, addr, size, fail, m)
	if err != nil {
		return CASResult{}, err
	}
	if v != storebuf.MaskValue(expected, size) {
		return CASResult{Value: v}, nil
	}
	if !m.Bypass() && fail.Includes(order.WeakCAS) && e.bufs.Choose(ch, 2) == 1 {
		e.logger.Debug("weakmem: spurious CAS failure", slog.Uint64("addr", uint64(addr)))
		return CASResult{Value: v}, nil
	}
	if err := e.Store(ch, addr, newValue, size, succ, m); err != nil {
		return CASResult{}, err
	}
	return CASResult{Value: storebuf.MaskValue(newValue, size), Success: true}, nil
}

// Fence flushes the current task's buffer if ord includes SeqCst. Weaker
// fences are no-ops under TSO.
func (e *Engine) Fence(ch buffers.Chooser, ord order.MemoryOrder, m mask.Mask) {
	if m.Direct() || !ord.Includes(order.SeqCst) {
		return
	}
	e.bufs.Flush(e.rt, ch, e.rt.CurrentTask())
}

// Drain commits the oldest buffered store of task, as if its store buffer
// had drained one entry, and reports whether there was one. It is used by
// drivers that enumerate final states after every task has finished.
func (e *Engine) Drain(ch buffers.Chooser, task buffers.TaskID) bool {
	m := e.MaskEnter()
	defer e.MaskLeave(m)
	if m.Direct() {
		return false
	}
	return e.bufs.Drain(e.rt, ch, task)
}

// Cleanup discards, from every task's buffer, the stores to the objects
// containing ptrs. It is called before those objects are freed. Zero
// pointers are skipped.
func (e *Engine) Cleanup(ptrs []uintptr) {
	m := e.MaskEnter()
	defer e.MaskLeave(m)
	if m.Direct() {
		return
	}

	for _, p := range ptrs {
		if p == 0 {
			continue
		}
		lo := e.rt.ObjectBase(p)
		hi := lo + uintptr(e.rt.ObjectSize(p))
		n := e.bufs.EvictAll(func(l storebuf.Line) bool {
			return l.Addr >= lo && l.Addr < hi
		})
		e.logger.Debug("weakmem: cleanup", slog.Uint64("base", uint64(lo)), slog.Int("dropped", n))
	}
}

// Resize discards, from every task's buffer, the stores at or beyond
// base+newSize within the object containing ptr, where base is the object's
// start. ptr may point into the object. It is called before the object
// shrinks; growing is a no-op.
func (e *Engine) Resize(ptr uintptr, newSize int) {
	m := e.MaskEnter()
	defer e.MaskLeave(m)
	if m.Direct() || ptr == 0 {
		return
	}

	base := e.rt.ObjectBase(ptr)
	end := base + uintptr(e.rt.ObjectSize(ptr))
	lo := base + uintptr(newSize)
	if lo >= end {
		return
	}
	n := e.bufs.EvictAll(func(l storebuf.Line) bool {
		return l.Addr >= lo && l.Addr < end
	})
	e.logger.Debug("weakmem: resize", slog.Uint64("ptr", uint64(ptr)), slog.Int("size", newSize), slog.Int("dropped", n))
}

// Stats returns the engine's event counters.
func (e *Engine) Stats() buffers.Stats {
	return e.bufs.Stats()
}

// Dump writes the store buffers, marking the current task.
func (e *Engine) Dump(w io.Writer) error {
	return e.bufs.Dump(w, e.rt.CurrentTask())
}

// Snapshot is a saved copy of the engine state.
type Snapshot struct {
	bufs *buffers.Buffers
}

// Snapshot returns a deep copy of the store buffers.
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{bufs: e.bufs.Clone()}
}

// Restore replaces the store buffers with a copy of s. The snapshot stays
// valid and may be restored again.
func (e *Engine) Restore(s *Snapshot) {
	e.bufs = s.bufs.Clone()
}
