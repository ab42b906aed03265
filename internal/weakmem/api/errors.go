package api

import (
	"errors"
	"fmt"
)

// ErrInvalidSize is wrapped by the fault raised for an access whose width is
// not 1, 2, 4 or 8 bytes.
var ErrInvalidSize = errors.New("invalid access size")

// FaultKind classifies a Fault.
type FaultKind uint8

const (
	// FaultControl is a contract violation by the instrumented code or the
	// runtime. It halts exploration of the current path.
	FaultControl FaultKind = iota + 1

	// FaultMemory is an access outside any live object.
	FaultMemory
)

// String returns the lower-case fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultControl:
		return "control"
	case FaultMemory:
		return "memory"
	default:
		return fmt.Sprintf("FaultKind(%d)", uint8(k))
	}
}

// Fault is a fatal error of the simulated program.
//
// Faults are returned by engine operations and raised as panics by the
// reference machine; the exploration driver treats both as a failed path.
//
// Example:
//
//	err := &Fault{Kind: FaultControl, Msg: "store of 3 bytes", Err: ErrInvalidSize}
//	fmt.Println(err) // Output: control fault: store of 3 bytes: invalid access size
type Fault struct {
	Kind FaultKind // Fault classification
	Addr uintptr   // Faulting address, zero if not applicable
	Msg  string    // Human-readable description
	Err  error     // Optional underlying sentinel
}

// Error implements the error interface.
//
// Format: kind fault: msg[: err]
func (f *Fault) Error() string {
	s := fmt.Sprintf("%s fault: %s", f.Kind, f.Msg)
	if f.Err != nil {
		s += ": " + f.Err.Error()
	}
	return s
}

// Unwrap returns the underlying sentinel, if any.
func (f *Fault) Unwrap() error {
	return f.Err
}

// MemoryFault creates a Memory-kind fault at addr.
func MemoryFault(addr uintptr, format string, args ...any) *Fault {
	return &Fault{Kind: FaultMemory, Addr: addr, Msg: fmt.Sprintf(format, args...)}
}

func checkSize(op string, addr uintptr, size int) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	}
	return &Fault{
		Kind: FaultControl,
		Addr: addr,
		Msg:  fmt.Sprintf("%s of %d bytes at %#x", op, size, addr),
		Err:  ErrInvalidSize,
	}
}
