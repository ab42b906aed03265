package vm

import (
	"fmt"
	"maps"
	"slices"

	"github.com/kolkov/weakmem/internal/weakmem/buffers"
)

// Cell is the shadow state of one byte: the last task that wrote it and the
// tasks that read it since.
type Cell struct {
	Writer    buffers.TaskID
	HasWriter bool
	Readers   []buffers.TaskID // sorted, no duplicates
}

// conflicts reports whether an access by task conflicts with the cell.
//
// Two accesses conflict when they come from different tasks and at least one
// of them is a store.
func (c *Cell) conflicts(task buffers.TaskID, write bool) bool {
	if c.HasWriter && c.Writer != task {
		return true
	}
	if write {
		for _, r := range c.Readers {
			if r != task {
				return true
			}
		}
	}
	return false
}

func (c *Cell) record(task buffers.TaskID, write bool) {
	if write {
		c.Writer, c.HasWriter = task, true
		c.Readers = c.Readers[:0]
		return
	}
	if i, ok := slices.BinarySearch(c.Readers, task); !ok {
		c.Readers = slices.Insert(c.Readers, i, task)
	}
}

// String formats the cell as "w=T r=[T...]".
func (c *Cell) String() string {
	w := "-"
	if c.HasWriter {
		w = fmt.Sprint(c.Writer)
	}
	return fmt.Sprintf("w=%s r=%v", w, c.Readers)
}

// Shadow maps every accessed byte address to its Cell.
//
// Memory Granularity: bytes. Mixed-size accesses are common in the programs
// the engine checks, so cells are not merged by word.
//
// Thread Safety: NOT safe for concurrent use.
type Shadow struct {
	cells map[uintptr]*Cell
}

// NewShadow creates an empty shadow.
func NewShadow() *Shadow {
	return &Shadow{cells: make(map[uintptr]*Cell)}
}

// GetOrCreate returns the cell of addr, allocating it on first use.
func (s *Shadow) GetOrCreate(addr uintptr) *Cell {
	c, ok := s.cells[addr]
	if !ok {
		c = &Cell{}
		s.cells[addr] = c
	}
	return c
}

// Get returns the cell of addr, or nil if the byte was never accessed.
func (s *Shadow) Get(addr uintptr) *Cell {
	return s.cells[addr]
}

// Access records an access of size bytes at addr by task and reports
// whether it conflicts with an earlier access of another task.
func (s *Shadow) Access(task buffers.TaskID, addr uintptr, size int, write bool) bool {
	race := false
	for a := addr; a < addr+uintptr(size); a++ {
		c := s.GetOrCreate(a)
		if c.conflicts(task, write) {
			race = true
		}
		c.record(task, write)
	}
	return race
}

// Forget drops the cells of [lo, hi).
func (s *Shadow) Forget(lo, hi uintptr) {
	maps.DeleteFunc(s.cells, func(a uintptr, _ *Cell) bool {
		return a >= lo && a < hi
	})
}

// Len returns the number of tracked bytes.
func (s *Shadow) Len() int {
	return len(s.cells)
}

// Reset forgets every cell.
func (s *Shadow) Reset() {
	clear(s.cells)
}

// Clone returns a deep copy of the shadow.
func (s *Shadow) Clone() *Shadow {
	c := &Shadow{cells: make(map[uintptr]*Cell, len(s.cells))}
	for a, cell := range s.cells {
		c.cells[a] = &Cell{
			Writer:    cell.Writer,
			HasWriter: cell.HasWriter,
			Readers:   slices.Clone(cell.Readers),
		}
	}
	return c
}
