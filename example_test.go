package weakmem_test

import (
	"context"
	"fmt"
	"slices"

	"github.com/kolkov/weakmem"
	"github.com/kolkov/weakmem/internal/weakmem/vm"
)

// Example shows a store that stays in its task's buffer: another task that
// declines to observe it still reads the old value.
func Example() {
	m := vm.New()
	x := m.Alloc(4)
	e := weakmem.New(m, weakmem.Config{})
	lazy := weakmem.ChooserFunc(func(int) int { return 0 })

	m.Switch(1)
	mk := e.MaskEnter()
	_ = e.Store(lazy, x, 1, 4, weakmem.Monotonic, mk)
	e.MaskLeave(mk)

	m.Switch(2)
	mk = e.MaskEnter()
	v, _ := e.Load(lazy, x, 4, weakmem.Monotonic, mk)
	e.MaskLeave(mk)

	fmt.Println(v)
	// Output: 0
}

// Example_storeBuffering explores every buffer behavior of the store
// buffering litmus test under a fixed schedule. Both loads may miss the
// other task's store.
func Example_storeBuffering() {
	var outcomes []string
	_, err := weakmem.Explore(context.Background(), &weakmem.DFS{}, func(ch weakmem.Chooser) error {
		m := vm.New()
		x, y := m.Alloc(4), m.Alloc(4)
		e := weakmem.New(m, weakmem.Config{})

		step := func(task weakmem.TaskID, f func(weakmem.Mask) error) error {
			m.Switch(task)
			mk := e.MaskEnter()
			defer e.MaskLeave(mk)
			return f(mk)
		}
		var r0, r1 uint64
		for _, err := range []error{
			step(1, func(mk weakmem.Mask) error { return e.Store(ch, x, 1, 4, weakmem.NotAtomic, mk) }),
			step(2, func(mk weakmem.Mask) error { return e.Store(ch, y, 1, 4, weakmem.NotAtomic, mk) }),
			step(1, func(mk weakmem.Mask) (err error) { r0, err = e.Load(ch, y, 4, weakmem.NotAtomic, mk); return }),
			step(2, func(mk weakmem.Mask) (err error) { r1, err = e.Load(ch, x, 4, weakmem.NotAtomic, mk); return }),
		} {
			if err != nil {
				return err
			}
		}
		outcomes = append(outcomes, fmt.Sprintf("r0=%d r1=%d", r0, r1))
		return nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	slices.Sort(outcomes)
	for _, o := range slices.Compact(outcomes) {
		fmt.Println(o)
	}
	// Output:
	// r0=0 r1=0
	// r0=0 r1=1
	// r0=1 r1=0
	// r0=1 r1=1
}

// ExampleGetInfo prints the engine version.
func ExampleGetInfo() {
	info := weakmem.GetInfo()
	fmt.Printf("weakmem %s, %s, default buffer %d\n", info.Version, info.Model, info.DefaultBufferSize)
	// Output:
	// weakmem 0.1.0, TSO (per-task FIFO store buffers), default buffer 2
}

func ExampleParseOrder() {
	o, err := weakmem.ParseOrder("acquire+weak")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(o.Includes(weakmem.Acquire), o.Includes(weakmem.WeakCAS), o.Includes(weakmem.Release))
	// Output: true true false
}
