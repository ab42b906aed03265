package api

import (
	"github.com/kolkov/weakmem/internal/weakmem/buffers"
	"github.com/kolkov/weakmem/internal/weakmem/mask"
	"github.com/kolkov/weakmem/internal/weakmem/storebuf"
)

// Chooser is the nondeterministic choice primitive of the model checker.
type Chooser = buffers.Chooser

// TaskID identifies a task of the simulated program.
type TaskID = buffers.TaskID

// AccessKind distinguishes loads from stores in race bookkeeping.
type AccessKind uint8

const (
	AccessLoad AccessKind = iota
	AccessStore
)

// String returns "load" or "store".
func (k AccessKind) String() string {
	if k == AccessStore {
		return "store"
	}
	return "load"
}

// Runtime is the interpreter collaborator the engine runs on.
//
// The engine never allocates, schedules or reports on its own; every effect
// outside the store buffers goes through this interface.
type Runtime interface {
	// RawLoad and RawStore access memory without interception.
	storebuf.Memory

	// mask.Control exposes the flags register of the current task.
	mask.Control

	// ObjectBase returns the base address of the object containing addr.
	ObjectBase(addr uintptr) uintptr

	// ObjectSize returns the size in bytes of the object containing addr.
	ObjectSize(addr uintptr) int

	// CurrentTask returns the task executing the intercepted access.
	CurrentTask() buffers.TaskID

	// MarkAccess records an access of size bytes at addr for race
	// bookkeeping. If the access conflicts with another task's, the runtime
	// calls onRace before returning.
	MarkAccess(addr uintptr, size int, kind AccessKind, onRace func())
}
