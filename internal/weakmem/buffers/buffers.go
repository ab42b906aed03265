// Package buffers implements the process-wide table of TSO store buffers.
//
// Buffers maps every task that has ever buffered a store to its
// storebuf.Buffer. Besides bookkeeping, the table hosts the three algorithms
// that give the simulation its semantics:
//
//   - Observe: the nondeterministic exploration run before every load. It
//     asks the Chooser how much of every other task's buffer has become
//     visible and flushes accordingly.
//   - Flush: full and partial commits of buffered lines to memory.
//   - Read: the byte-granular merge of a task's own buffered stores with the
//     memory word.
//
// The table is iterated in ascending task order so that the same Chooser
// answers always decode to the same flush decisions; replay-based explorers
// depend on this.
package buffers

import (
	"log/slog"
	"slices"

	"github.com/kolkov/weakmem/internal/weakmem/storebuf"
)

// TaskID identifies a task of the simulated program.
type TaskID uint32

// Chooser is the nondeterministic choice primitive of the model checker.
//
// Choose returns one index in [0, n). The checker, not the engine, is
// responsible for eventually exploring every index.
type Chooser interface {
	Choose(n int) int
}

// ChooserFunc adapts an ordinary function to the Chooser interface.
type ChooserFunc func(n int) int

// Choose calls f(n).
func (f ChooserFunc) Choose(n int) int {
	return f(n)
}

// Stats counts engine events. All counters only grow.
type Stats struct {
	Stores         uint64 // Intercepted stores.
	BufferedStores uint64 // Stores appended to a buffer.
	Loads          uint64 // Intercepted loads.
	Explorations   uint64 // Observe calls that reached a choice point.
	ChoicePoints   uint64 // Calls to Chooser.Choose made by the engine.
	Evictions      uint64 // Lines forced out by buffer overflow.
	FullFlushes    uint64 // Whole-buffer flushes (fences, barriers).
	SimpleFlushes  uint64 // Prefix flushes chosen by exploration.
	PartialFlushes uint64 // Overlap-aware flushes chosen by exploration.
	CommittedLines uint64 // Lines written to memory from a buffer.
	DroppedLines   uint64 // Lines discarded by cleanup or resize.
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Stores += o.Stores
	s.BufferedStores += o.BufferedStores
	s.Loads += o.Loads
	s.Explorations += o.Explorations
	s.ChoicePoints += o.ChoicePoints
	s.Evictions += o.Evictions
	s.FullFlushes += o.FullFlushes
	s.SimpleFlushes += o.SimpleFlushes
	s.PartialFlushes += o.PartialFlushes
	s.CommittedLines += o.CommittedLines
	s.DroppedLines += o.DroppedLines
}

type entry struct {
	task TaskID
	buf  *storebuf.Buffer
}

// Buffers is the task → store buffer table.
//
// Thread Safety: NOT safe for concurrent use. The simulation guarantees that
// exactly one task executes inside the engine per explored step.
type Buffers struct {
	// entries is sorted by task.
	entries []entry

	// maxSize bounds every buffer; zero means unbounded.
	maxSize int

	// seq is the last visibility stamp handed out by a partial flush.
	seq uint64

	logger *slog.Logger
	stats  Stats
}

// New creates an empty table whose buffers hold at most maxSize lines.
// A nil logger discards all records.
func New(maxSize int, logger *slog.Logger) *Buffers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Buffers{maxSize: maxSize, logger: logger}
}

// MaxSize returns the configured buffer bound.
func (b *Buffers) MaxSize() int {
	return b.maxSize
}

// Stats returns a copy of the event counters.
func (b *Buffers) Stats() Stats {
	return b.stats
}

func (b *Buffers) find(task TaskID) (int, bool) {
	return slices.BinarySearchFunc(b.entries, task, func(e entry, t TaskID) int {
		switch {
		case e.task < t:
			return -1
		case e.task > t:
			return 1
		}
		return 0
	})
}

// GetIfExists returns the buffer of task, or nil if it never buffered a store.
func (b *Buffers) GetIfExists(task TaskID) *storebuf.Buffer {
	if i, ok := b.find(task); ok {
		return b.entries[i].buf
	}
	return nil
}

// Get returns the buffer of task, creating an empty one on first use.
func (b *Buffers) Get(task TaskID) *storebuf.Buffer {
	i, ok := b.find(task)
	if !ok {
		b.entries = slices.Insert(b.entries, i, entry{task: task, buf: storebuf.NewBuffer()})
	}
	return b.entries[i].buf
}

// Len returns the number of tasks that own a buffer.
func (b *Buffers) Len() int {
	return len(b.entries)
}

// Tasks returns the tasks owning a buffer in ascending order.
func (b *Buffers) Tasks() []TaskID {
	out := make([]TaskID, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.task
	}
	return out
}

// OnlyOwner reports whether no task other than task owns a buffer, in which
// case no store of another task can be pending and exploration is pointless.
func (b *Buffers) OnlyOwner(task TaskID) bool {
	switch len(b.entries) {
	case 0:
		return true
	case 1:
		return b.entries[0].task == task
	}
	return false
}

// Pending returns the total number of buffered lines over all tasks.
func (b *Buffers) Pending() int {
	n := 0
	for _, e := range b.entries {
		n += e.buf.Len()
	}
	return n
}

// CountStore records an intercepted store.
func (b *Buffers) CountStore() {
	b.stats.Stores++
}

// CountLoad records an intercepted load.
func (b *Buffers) CountLoad() {
	b.stats.Loads++
}

// Push appends line to the buffer of task.
//
// While the buffer then exceeds the configured bound, its oldest line is
// evicted: task first observes the line's range as if loading it (so other
// tasks' pending stores to those bytes may become visible before this write
// does), then the line is committed to memory and removed. An oldest line
// that is already Committed is settled without observing.
//
// Exploration during eviction never branches on task's own buffer. Whether a
// second task must also be considered at this point is an open question;
// see TestEvictionExcludesOwnBuffer.
func (b *Buffers) Push(mem storebuf.Memory, ch Chooser, task TaskID, line storebuf.Line) {
	b.stats.BufferedStores++
	buf := b.Get(task)
	buf.Append(line)
	for buf.Overflows(b.maxSize) {
		b.logger.Debug("weakmem: evict", slog.Uint64("task", uint64(task)), slog.Any("line", buf.Oldest()))
		b.stats.Evictions++
		b.commitHead(mem, ch, task, buf)
	}
}

// Drain commits the oldest line of task's buffer the way an eviction does
// and reports whether there was one. Draining every buffer line by line, in
// an order picked by the caller, yields every final memory state the
// buffers can still reach.
func (b *Buffers) Drain(mem storebuf.Memory, ch Chooser, task TaskID) bool {
	buf := b.GetIfExists(task)
	if buf == nil || buf.Empty() {
		return false
	}
	b.logger.Debug("weakmem: drain", slog.Uint64("task", uint64(task)), slog.Any("line", buf.Oldest()))
	b.commitHead(mem, ch, task, buf)
	return true
}

// commitHead writes the oldest line of task's buffer to memory and removes
// it. A Committed head is already visible; it lands together with every
// line that became visible before it. A pending head is first observed by
// task.
func (b *Buffers) commitHead(mem storebuf.Memory, ch Chooser, task TaskID, buf *storebuf.Buffer) {
	head := buf.Oldest()
	if head.Status == storebuf.Committed {
		b.settle(mem, head.Seq)
		return
	}
	// Committed lines form a prefix, so task has none and Observe leaves
	// its buffer untouched.
	b.Observe(mem, ch, head.Addr, head.Size, task)
	b.writeLine(mem, head)
	buf.Erase(0)
	b.stats.CommittedLines++
}

// PendingTasks returns, in ascending order, the tasks whose buffers hold at
// least one line.
func (b *Buffers) PendingTasks() []TaskID {
	var out []TaskID
	for _, e := range b.entries {
		if !e.buf.Empty() {
			out = append(out, e.task)
		}
	}
	return out
}

// EvictAll removes from every buffer the lines for which match returns true,
// without writing them to memory. It returns the number of removed lines.
func (b *Buffers) EvictAll(match func(storebuf.Line) bool) int {
	n := 0
	for _, e := range b.entries {
		n += e.buf.Evict(match, false)
	}
	b.stats.DroppedLines += uint64(n)
	return n
}

// Clone returns a deep copy of the table, suitable as a state snapshot.
// The copy shares the logger.
func (b *Buffers) Clone() *Buffers {
	c := &Buffers{
		entries: make([]entry, len(b.entries)),
		maxSize: b.maxSize,
		seq:     b.seq,
		logger:  b.logger,
		stats:   b.stats,
	}
	for i, e := range b.entries {
		c.entries[i] = entry{task: e.task, buf: e.buf.Clone()}
	}
	return c
}

// Equal reports whether two tables hold equal buffers for the same tasks.
// Statistics and line status are ignored.
func (b *Buffers) Equal(o *Buffers) bool {
	return slices.EqualFunc(b.entries, o.entries, func(x, y entry) bool {
		return x.task == y.task && x.buf.Equal(y.buf)
	})
}
