// Package vm implements a minimal reference machine for the weak memory
// engine.
//
// Machine provides everything api.Runtime asks of an interpreter: a flat
// little-endian heap of objects, a current-task register, the per-task
// flags register and an access shadow for race bookkeeping. It is used by
// the litmus runner, the CLI and the engine tests; a production interpreter
// supplies its own implementation.
//
// Heap layout: object i occupies the address slot
// [HeapBase + i*SlotSize, HeapBase + (i+1)*SlotSize). Objects never move,
// so Realloc keeps the base address and freed slots are not reused. Address
// zero is never valid.
package vm

import (
	"encoding/binary"
	"slices"

	"github.com/kolkov/weakmem/internal/weakmem/api"
	"github.com/kolkov/weakmem/internal/weakmem/buffers"
	"github.com/kolkov/weakmem/internal/weakmem/mask"
)

const (
	// HeapBase is the address of the first object.
	HeapBase uintptr = 0x10000

	// SlotSize is the address space reserved per object; it bounds the
	// object size.
	SlotSize uintptr = 0x1000
)

type object struct {
	data []byte
	live bool
}

// Machine is the reference implementation of api.Runtime.
//
// Thread Safety: NOT safe for concurrent use.
type Machine struct {
	objects     []object
	task        buffers.TaskID
	flags       map[buffers.TaskID]mask.Flags
	reschedules int
	shadow      *Shadow
}

var _ api.Runtime = (*Machine)(nil)

// New creates a machine with an empty heap, running task 0.
func New() *Machine {
	return &Machine{
		flags:  make(map[buffers.TaskID]mask.Flags),
		shadow: NewShadow(),
	}
}

// Alloc creates a zeroed object of size bytes and returns its base address.
// It panics with a Control fault if size does not fit a slot.
func (m *Machine) Alloc(size int) uintptr {
	if size <= 0 || uintptr(size) > SlotSize {
		panic(&api.Fault{Kind: api.FaultControl, Msg: "alloc of invalid size"})
	}
	m.objects = append(m.objects, object{data: make([]byte, size), live: true})
	return HeapBase + uintptr(len(m.objects)-1)*SlotSize
}

// Free releases the object based at addr. Freeing an address that is not
// the base of a live object is a Memory fault.
func (m *Machine) Free(addr uintptr) {
	i := m.slotOf(addr)
	if m.base(i) != addr {
		panic(api.MemoryFault(addr, "free of interior pointer %#x", addr))
	}
	m.objects[i] = object{}
	m.shadow.Forget(addr, addr+SlotSize)
}

// Realloc resizes the object based at addr in place, preserving its prefix
// and zeroing new bytes.
func (m *Machine) Realloc(addr uintptr, size int) {
	i := m.slotOf(addr)
	if m.base(i) != addr {
		panic(api.MemoryFault(addr, "realloc of interior pointer %#x", addr))
	}
	if size <= 0 || uintptr(size) > SlotSize {
		panic(&api.Fault{Kind: api.FaultControl, Addr: addr, Msg: "realloc to invalid size"})
	}
	old := m.objects[i].data
	data := make([]byte, size)
	copy(data, old)
	m.objects[i].data = data
	if size < len(old) {
		m.shadow.Forget(addr+uintptr(size), addr+uintptr(len(old)))
	}
}

func (m *Machine) base(slot int) uintptr {
	return HeapBase + uintptr(slot)*SlotSize
}

// slotOf returns the index of the live object whose slot contains addr.
func (m *Machine) slotOf(addr uintptr) int {
	if addr < HeapBase {
		panic(api.MemoryFault(addr, "access to unmapped address %#x", addr))
	}
	i := int((addr - HeapBase) / SlotSize)
	if i >= len(m.objects) || !m.objects[i].live {
		panic(api.MemoryFault(addr, "access to unmapped address %#x", addr))
	}
	return i
}

// bytes returns the size bytes at addr, panicking on out-of-bounds access.
func (m *Machine) bytes(addr uintptr, size int) []byte {
	i := m.slotOf(addr)
	off := int(addr - m.base(i))
	data := m.objects[i].data
	if off+size > len(data) {
		panic(api.MemoryFault(addr, "access of %d bytes at %#x past object end", size, addr))
	}
	return data[off : off+size]
}

// ObjectBase returns the base address of the object containing addr.
func (m *Machine) ObjectBase(addr uintptr) uintptr {
	return m.base(m.slotOf(addr))
}

// ObjectSize returns the current size of the object containing addr.
func (m *Machine) ObjectSize(addr uintptr) int {
	return len(m.objects[m.slotOf(addr)].data)
}

// RawLoad reads size bytes at addr as a little-endian integer.
func (m *Machine) RawLoad(addr uintptr, size int) uint64 {
	b := m.bytes(addr, size)
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	panic(&api.Fault{Kind: api.FaultControl, Addr: addr, Msg: "raw load of invalid size", Err: api.ErrInvalidSize})
}

// RawStore writes the low size bytes of value at addr.
func (m *Machine) RawStore(addr uintptr, size int, value uint64) {
	b := m.bytes(addr, size)
	switch size {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(b, value)
	default:
		panic(&api.Fault{Kind: api.FaultControl, Addr: addr, Msg: "raw store of invalid size", Err: api.ErrInvalidSize})
	}
}

// CurrentTask returns the running task.
func (m *Machine) CurrentTask() buffers.TaskID {
	return m.task
}

// Switch makes task the running task.
func (m *Machine) Switch(task buffers.TaskID) {
	m.task = task
}

// Flags returns the flags of the running task.
func (m *Machine) Flags() mask.Flags {
	return m.flags[m.task]
}

// SetFlags updates the flags of the running task selected by which and
// returns the previous flags.
func (m *Machine) SetFlags(which, value mask.Flags) mask.Flags {
	prev := m.flags[m.task]
	m.flags[m.task] = prev&^which | value&which
	return prev
}

// Reschedule records a reschedule request.
func (m *Machine) Reschedule() {
	m.reschedules++
}

// Reschedules returns the number of reschedule requests so far.
func (m *Machine) Reschedules() int {
	return m.reschedules
}

// MarkAccess records the access in the shadow and calls onRace if it
// conflicts with another task's earlier access to one of the bytes.
func (m *Machine) MarkAccess(addr uintptr, size int, kind api.AccessKind, onRace func()) {
	if m.shadow.Access(m.task, addr, size, kind == api.AccessStore) && onRace != nil {
		onRace()
	}
}

// Shadow returns the access shadow.
func (m *Machine) Shadow() *Shadow {
	return m.shadow
}

// State is a saved copy of a machine.
type State struct {
	objects     []object
	task        buffers.TaskID
	flags       map[buffers.TaskID]mask.Flags
	reschedules int
	shadow      *Shadow
}

// Snapshot returns a deep copy of the machine state.
func (m *Machine) Snapshot() *State {
	s := &State{
		objects:     make([]object, len(m.objects)),
		task:        m.task,
		flags:       make(map[buffers.TaskID]mask.Flags, len(m.flags)),
		reschedules: m.reschedules,
		shadow:      m.shadow.Clone(),
	}
	for i, o := range m.objects {
		s.objects[i] = object{data: slices.Clone(o.data), live: o.live}
	}
	for t, f := range m.flags {
		s.flags[t] = f
	}
	return s
}

// Restore replaces the machine state with a copy of s.
func (m *Machine) Restore(s *State) {
	c := (&Machine{objects: s.objects, task: s.task, flags: s.flags, reschedules: s.reschedules, shadow: s.shadow}).Snapshot()
	m.objects = c.objects
	m.task = c.task
	m.flags = c.flags
	m.reschedules = c.reschedules
	m.shadow = c.shadow
}
