// Package order implements memory-order classification for weak memory accesses.
//
// MemoryOrder is a bit set rather than an enumeration: every stronger ordering
// contains the bits of every weaker one, so "is at least acquire" becomes a
// containment test. AtomicOp and WeakCAS are orthogonal modifier bits.
//
// Layout:
//
//	bit 0: Unordered
//	bit 1: Monotonic  (Unordered|0x02)
//	bit 2: Acquire    (Monotonic|0x04)
//	bit 3: Release    (Monotonic|0x08)
//	bit 4: SeqCst     (AcqRel|0x10)
//	bit 5: AtomicOp   (read-modify-write)
//	bit 6: WeakCAS    (compare-exchange allowed to fail spuriously)
package order

import (
	"errors"
	"fmt"
	"strings"
)

// MemoryOrder classifies the atomicity and ordering of a memory access.
type MemoryOrder uint8

const (
	// NotAtomic is a plain, non-atomic access.
	NotAtomic MemoryOrder = 0

	// Unordered is LLVM's "unordered" atomic.
	Unordered MemoryOrder = 0x01

	// Monotonic is a relaxed atomic (C11 memory_order_relaxed).
	Monotonic MemoryOrder = 0x02 | Unordered

	// Acquire ordering.
	Acquire MemoryOrder = 0x04 | Monotonic

	// Release ordering.
	Release MemoryOrder = 0x08 | Monotonic

	// AcqRel is both Acquire and Release.
	AcqRel MemoryOrder = Acquire | Release

	// SeqCst is sequentially consistent ordering.
	SeqCst MemoryOrder = 0x10 | AcqRel

	// AtomicOp marks an atomic read-modify-write instruction.
	AtomicOp MemoryOrder = 0x20

	// WeakCAS marks a compare-exchange permitted to fail spuriously.
	WeakCAS MemoryOrder = 0x40
)

// ErrUnknownOrder is returned by Parse for an unrecognized ordering name.
var ErrUnknownOrder = errors.New("unknown memory order")

// Includes reports whether o contains every bit of other.
//
// Includes is the containment relation: SeqCst.Includes(Acquire) is true,
// Acquire.Includes(SeqCst) is false, and every order includes NotAtomic.
//
// Example:
//
//	ord := order.SeqCst | order.AtomicOp
//	ord.Includes(order.SeqCst)   // true
//	ord.Includes(order.WeakCAS)  // false
//
//go:nosplit
func (o MemoryOrder) Includes(other MemoryOrder) bool {
	return o&other == other
}

// Subseteq reports whether a is contained in b.
//
// This is the argument order used by the instrumentation layer:
// Subseteq(SeqCst, ord) asks "is ord at least SeqCst".
func Subseteq(a, b MemoryOrder) bool {
	return b.Includes(a)
}

// IsAtomic reports whether o describes any kind of atomic access.
func (o MemoryOrder) IsAtomic() bool {
	return o != NotAtomic
}

// Barrier reports whether an access with this ordering acts as a full
// barrier for the issuing task's store buffer.
func (o MemoryOrder) Barrier() bool {
	return o.Includes(SeqCst) || o.Includes(AtomicOp)
}

// Short returns the compact ordering mnemonic used in buffer dumps.
func (o MemoryOrder) Short() string {
	switch {
	case o.Includes(SeqCst):
		return "SC"
	case o.Includes(AcqRel):
		return "AR"
	case o.Includes(Acquire):
		return "Acq"
	case o.Includes(Release):
		return "Rel"
	case o.Includes(Monotonic):
		return "Mon"
	case o.Includes(Unordered):
		return "U"
	default:
		return "N"
	}
}

// String returns the ordering in the form accepted by Parse.
func (o MemoryOrder) String() string {
	var base string
	switch {
	case o.Includes(SeqCst):
		base = "seq_cst"
	case o.Includes(AcqRel):
		base = "acq_rel"
	case o.Includes(Acquire):
		base = "acquire"
	case o.Includes(Release):
		base = "release"
	case o.Includes(Monotonic):
		base = "relaxed"
	case o.Includes(Unordered):
		base = "unordered"
	default:
		base = "not_atomic"
	}
	if o.Includes(AtomicOp) {
		base += "+atomic"
	}
	if o.Includes(WeakCAS) {
		base += "+weak"
	}
	return base
}

var baseNames = map[string]MemoryOrder{
	"":           NotAtomic,
	"not_atomic": NotAtomic,
	"plain":      NotAtomic,
	"unordered":  Unordered,
	"relaxed":    Monotonic,
	"monotonic":  Monotonic,
	"acquire":    Acquire,
	"release":    Release,
	"acq_rel":    AcqRel,
	"seq_cst":    SeqCst,
}

// Parse converts a textual ordering into a MemoryOrder.
//
// The accepted form is a base ordering optionally followed by "+atomic"
// and/or "+weak" modifiers, case-insensitive:
//
//	relaxed
//	seq_cst+atomic
//	acquire+weak
func Parse(s string) (MemoryOrder, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	o, ok := baseNames[parts[0]]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOrder, s)
	}
	for _, mod := range parts[1:] {
		switch mod {
		case "atomic":
			o |= AtomicOp
		case "weak":
			o |= WeakCAS
		default:
			return 0, fmt.Errorf("%w: modifier %q in %q", ErrUnknownOrder, mod, s)
		}
	}
	return o, nil
}
