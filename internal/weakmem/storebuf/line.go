// Package storebuf implements the per-task store buffer of the TSO simulation.
//
// A Line is one speculative store that has been executed by a task but is not
// yet visible to other tasks. A Buffer is the FIFO of such lines in program
// order. Lines of one buffer are never reordered relative to each other; that
// property is what makes the simulated memory model TSO.
package storebuf

import (
	"fmt"

	"github.com/kolkov/weakmem/internal/weakmem/order"
)

// Status records how far a buffered store has progressed towards memory.
type Status uint8

const (
	// Normal lines are pending: other tasks do not see them yet.
	Normal Status = iota

	// Committed lines are logically visible to every task but are kept in
	// the buffer until an overlapping access forces them to memory.
	Committed

	// DependentCommitLater marks a line that does not overlap the range
	// being flushed but whose bytes are overwritten by a younger line that
	// is committed in the same flush. It is committed together with (and
	// before) that line.
	DependentCommitLater
)

// String returns a short name for the status.
func (s Status) String() string {
	switch s {
	case Normal:
		return "normal"
	case Committed:
		return "committed"
	case DependentCommitLater:
		return "dependent"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Memory is the unintercepted memory of the simulated program.
type Memory interface {
	// RawLoad reads size bytes at addr as a little-endian integer.
	RawLoad(addr uintptr, size int) uint64

	// RawStore writes the low size bytes of value at addr.
	RawStore(addr uintptr, size int, value uint64)
}

// ValidSize reports whether size is an access width the engine handles.
func ValidSize(size int) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// MaskValue truncates v to its low size bytes.
func MaskValue(v uint64, size int) uint64 {
	if size >= 8 {
		return v
	}
	return v & (uint64(1)<<(8*uint(size)) - 1)
}

// Line is a single buffered store.
type Line struct {
	Addr   uintptr
	Value  uint64
	Size   int
	Order  order.MemoryOrder
	Status Status

	// Seq stamps a Committed line with the flush that made it visible.
	// Committed lines reach memory in ascending Seq order.
	Seq uint64
}

// NewLine creates a Normal line storing value (truncated to size bytes).
func NewLine(addr uintptr, value uint64, size int, ord order.MemoryOrder) Line {
	return Line{
		Addr:  addr,
		Value: MaskValue(value, size),
		Size:  size,
		Order: ord,
	}
}

// End returns the first address past the stored bytes.
func (l Line) End() uintptr {
	return l.Addr + uintptr(l.Size)
}

// Matches reports whether the line overlaps [addr, addr+size).
//
//go:nosplit
func (l Line) Matches(addr uintptr, size int) bool {
	end := addr + uintptr(size)
	return (addr <= l.Addr && l.Addr < end) || (l.Addr <= addr && addr < l.End())
}

// Overlaps reports whether two lines touch a common byte.
func (l Line) Overlaps(o Line) bool {
	return l.Matches(o.Addr, o.Size)
}

// Commit writes the line to memory.
func (l Line) Commit(mem Memory) {
	mem.RawStore(l.Addr, l.Size, l.Value)
}

// Equal compares the memory-relevant part of two lines; Status and Seq are
// ignored.
func (l Line) Equal(o Line) bool {
	return l.Addr == o.Addr && l.Value == o.Value && l.Size == o.Size && l.Order == o.Order
}

// String formats the line as a buffer dump entry:
//
//	[0x1000 ← 0x2a; 32 bit; WA SC]
func (l Line) String() string {
	w, a := byte(' '), byte(' ')
	if l.Order.Includes(order.WeakCAS) {
		w = 'W'
	}
	if l.Order.Includes(order.AtomicOp) {
		a = 'A'
	}
	s := fmt.Sprintf("[0x%x ← 0x%x; %d bit; %c%c%s]", l.Addr, l.Value, l.Size*8, w, a, l.Order.Short())
	if l.Status != Normal {
		s += " " + l.Status.String()
	}
	return s
}
