// Package mask implements the interception guard for the weak memory engine.
//
// Every entry point of the engine runs between Enter and Leave. Enter sets the
// RelaxedMemRuntime flag so that memory accesses performed by the engine's own
// bookkeeping are not intercepted again, and masks interrupts so that no other
// task is scheduled while a store buffer is half-updated. The returned Mask
// remembers the flags that were in effect before entry; Bypass and Kernel are
// answered from those prior flags.
package mask

// Flags is the execution-mode register of the current task.
type Flags uint64

const (
	// InterruptMask disables preemption of the current task.
	InterruptMask Flags = 1 << 0

	// Interrupted is raised by the runtime when an interrupt (for example an
	// observed race) arrives while InterruptMask is set.
	Interrupted Flags = 1 << 1

	// KernelMode marks privileged runtime code; it is never intercepted.
	KernelMode Flags = 1 << 5

	// Deferred marks a deferred-interrupt section of the runtime.
	Deferred Flags = 1 << 6

	// DebugMode marks debugger/inspection code; it is never intercepted.
	DebugMode Flags = 1 << 7

	// RelaxedMemRuntime is set while executing inside the engine.
	RelaxedMemRuntime Flags = 1 << 8
)

// enterFlags are set atomically on entry.
const enterFlags = InterruptMask | RelaxedMemRuntime

// restoreFlags are restored from the saved value on exit.
const restoreFlags = InterruptMask | Deferred | KernelMode | RelaxedMemRuntime

// Control is the flags register provided by the runtime collaborator.
type Control interface {
	// Flags returns the current flags.
	Flags() Flags

	// SetFlags sets the bits selected by which to the corresponding bits of
	// value and returns the flags in effect before the change.
	SetFlags(which, value Flags) Flags

	// Reschedule asks the scheduler to consider switching tasks at the next
	// opportunity.
	Reschedule()
}

// Mask is the saved state of an Enter call.
type Mask struct {
	restore Flags
}

// Enter marks the current task as executing inside the engine and returns
// the prior flags.
func Enter(ctl Control) Mask {
	return Mask{restore: ctl.SetFlags(enterFlags, enterFlags)}
}

// Leave restores the flags saved by Enter.
//
// If an interrupt was raised while the mask was held and leaving re-enables
// interrupts, the Interrupted flag is consumed and a reschedule is requested
// so that other tasks get a chance to react.
func Leave(ctl Control, m Mask) {
	cur := ctl.SetFlags(restoreFlags, m.restore)
	if cur&Interrupted != 0 && m.restore&InterruptMask == 0 {
		ctl.SetFlags(Interrupted, 0)
		ctl.Reschedule()
	}
}

// Of returns a Mask for the given prior flags without touching any register.
// It is used by callers that already hold the mask and by tests.
func Of(prior Flags) Mask {
	return Mask{restore: prior}
}

// Prior returns the flags in effect before Enter.
func (m Mask) Prior() Flags {
	return m.restore
}

// Bypass reports whether accesses must go straight to memory because the
// task is in debug mode or already inside the engine.
func (m Mask) Bypass() bool {
	return m.restore&(DebugMode|RelaxedMemRuntime) != 0
}

// Kernel reports whether the task is executing privileged runtime code.
func (m Mask) Kernel() bool {
	return m.restore&KernelMode != 0
}

// Direct reports whether the access is not intercepted at all.
func (m Mask) Direct() bool {
	return m.Bypass() || m.Kernel()
}
