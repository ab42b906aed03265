package buffers

import (
	"log/slog"

	"github.com/kolkov/weakmem/internal/weakmem/storebuf"
)

// plan is the per-task outcome of scanning the buffers for one load.
type plan struct {
	// candidates are indices of pending lines overlapping the load.
	candidates []int

	// upTo is the decoded flush point, or -1 if nothing is flushed.
	upTo int
}

func (p *plan) radix() int {
	return 1 + len(p.candidates)
}

// Observe decides, for a load of [addr, addr+size) by requester, how much of
// every other task's buffer has become visible, and flushes that much.
//
// Algorithm:
//
//  1. Scan all buffers for lines overlapping the range. Lines of requester
//     are never branched on. Pending overlapping lines of other tasks are
//     candidate flush points; Committed overlapping lines are already
//     visible and only need to reach memory.
//  2. If no other task has an overlapping line, return.
//  3. Unless there are no candidates, choose one index among
//     Π(1 + candidates(task)) combinations and decode it as a mixed-radix
//     number into a flush point per task.
//  4. Settle every Committed line that overlaps the range or precedes a
//     flush point, in the order the lines became visible.
//  5. Choose which of the tasks to flush is observed last. It is flushed with
//     the overlap-aware partial flush; every other task is flushed up to its
//     flush point first.
//
// Only the task whose line supplies the observed value needs fine-grained
// retention of its non-overlapping lines; the others only need their
// overlapping lines pushed to memory in order.
func (b *Buffers) Observe(mem storebuf.Memory, ch Chooser, addr uintptr, size int, requester TaskID) {
	plans := make([]plan, len(b.entries))
	dirty := false
	combinations := 1
	var visible uint64

	for i, e := range b.entries {
		p := &plans[i]
		p.upTo = -1
		if e.task == requester {
			continue
		}
		for j, l := range e.buf.Lines() {
			if !l.Matches(addr, size) {
				continue
			}
			dirty = true
			if l.Status == storebuf.Committed {
				visible = max(visible, l.Seq)
			} else {
				p.candidates = append(p.candidates, j)
			}
		}
		combinations *= p.radix()
	}
	if !dirty {
		return
	}

	if combinations > 1 {
		b.stats.Explorations++
		c := b.Choose(ch, combinations)
		for i := range plans {
			p := &plans[i]
			if k := c % p.radix(); k > 0 {
				p.upTo = p.candidates[k-1]
			}
			c /= p.radix()
		}
	}

	// Committed lines ahead of a flush point must land before it.
	for i, e := range b.entries {
		for j := 0; j <= plans[i].upTo; j++ {
			if l := e.buf.At(j); l.Status == storebuf.Committed {
				visible = max(visible, l.Seq)
			}
		}
	}
	if visible > 0 {
		before := make([]int, len(b.entries))
		for i, e := range b.entries {
			before[i] = e.buf.Len()
		}
		b.settle(mem, visible)
		for i, e := range b.entries {
			plans[i].upTo -= before[i] - e.buf.Len()
		}
	}

	var flush []int
	for i := range plans {
		if plans[i].upTo >= 0 {
			flush = append(flush, i)
		}
	}
	if len(flush) == 0 {
		return
	}

	last := 0
	if len(flush) > 1 {
		last = b.Choose(ch, len(flush))
	}
	for n, i := range flush {
		if n != last {
			b.flushPrefix(mem, b.entries[i], plans[i].upTo)
		}
	}
	i := flush[last]
	b.flushPartial(mem, b.entries[i], plans[i].upTo, addr, size)
}

// settle writes every Committed line stamped at most limit to memory and
// removes it, oldest stamp first. Committed lines always form a prefix of
// their buffer and carry non-decreasing stamps, so each one written is the
// head of its buffer.
func (b *Buffers) settle(mem storebuf.Memory, limit uint64) {
	for {
		var next *storebuf.Buffer
		for _, e := range b.entries {
			if e.buf.Empty() {
				continue
			}
			h := e.buf.Oldest()
			if h.Status != storebuf.Committed || h.Seq > limit {
				continue
			}
			if next == nil || h.Seq < next.Oldest().Seq {
				next = e.buf
			}
		}
		if next == nil {
			return
		}
		next.Oldest().Commit(mem)
		next.Erase(0)
		b.stats.CommittedLines++
	}
}

// visibleSeq returns the newest stamp among Committed lines of any task that
// overlap [addr, addr+size), or zero if there is none.
func (b *Buffers) visibleSeq(addr uintptr, size int) uint64 {
	var seq uint64
	for _, e := range b.entries {
		for _, l := range e.buf.Lines() {
			if l.Status != storebuf.Committed {
				break
			}
			if l.Matches(addr, size) {
				seq = max(seq, l.Seq)
			}
		}
	}
	return seq
}

// writeLine stores l to memory after every Committed line it overwrites has
// landed.
func (b *Buffers) writeLine(mem storebuf.Memory, l storebuf.Line) {
	if seq := b.visibleSeq(l.Addr, l.Size); seq > 0 {
		b.settle(mem, seq)
	}
	l.Commit(mem)
}

// Choose asks ch for one index in [0, n), counting the choice point.
func (b *Buffers) Choose(ch Chooser, n int) int {
	b.stats.ChoicePoints++
	c := ch.Choose(n)
	b.logger.Debug("weakmem: choice", slog.Int("n", n), slog.Int("chosen", c))
	return c
}

// flushPrefix commits lines [0, upTo] of e's buffer in order and removes them.
func (b *Buffers) flushPrefix(mem storebuf.Memory, e entry, upTo int) {
	b.logger.Debug("weakmem: flush prefix", slog.Uint64("task", uint64(e.task)), slog.Int("upto", upTo))
	b.stats.SimpleFlushes++
	for j := 0; j <= upTo; j++ {
		b.writeLine(mem, e.buf.At(j))
		b.stats.CommittedLines++
	}
	e.buf.EraseRange(0, upTo+1)
}

type span struct {
	addr uintptr
	size int
}

// flushPartial commits the part of e's buffer up to and including line
// upTo that is relevant to a load of [addr, addr+size).
//
// Lines after upTo are kept unchanged. At and before upTo, lines overlapping
// the range are committed and removed; the others are marked Committed with
// a fresh stamp and kept, so that a later overlapping access by another task
// treats them as already visible instead of branching on them.
//
// An older line whose bytes are overwritten by a younger line committed here
// cannot stay behind: flushing it later would clobber the younger value. It
// is marked DependentCommitLater and committed together with the younger
// line, in program order.
//
// e's buffer holds no Committed line on entry; Observe settles them first.
func (b *Buffers) flushPartial(mem storebuf.Memory, e entry, upTo int, addr uintptr, size int) {
	b.logger.Debug("weakmem: flush partial", slog.Uint64("task", uint64(e.task)),
		slog.Int("upto", upTo), slog.Uint64("addr", uint64(addr)), slog.Int("size", size))
	b.stats.PartialFlushes++

	buf := e.buf
	commit := make([]bool, upTo+1)
	var written []span

	// Walk from the youngest affected line towards the oldest so that every
	// line sees the ranges written by younger lines.
	for i := upTo; i >= 0; i-- {
		l := buf.At(i)
		switch {
		case l.Matches(addr, size):
			commit[i] = true
		case overlapsAny(l, written):
			commit[i] = true
			buf.SetStatus(i, storebuf.DependentCommitLater)
		default:
			continue
		}
		written = append(written, span{l.Addr, l.Size})
	}

	// A retained line never overlaps a younger written one, so marking in
	// program order keeps the fresh stamp out of writeLine's settling.
	b.seq++
	for i := 0; i <= upTo; i++ {
		if commit[i] {
			b.writeLine(mem, buf.At(i))
			b.stats.CommittedLines++
		} else {
			buf.MarkCommitted(i, b.seq)
		}
	}
	buf.Retain(func(i int, _ storebuf.Line) bool {
		return i > upTo || !commit[i]
	})
}

func overlapsAny(l storebuf.Line, spans []span) bool {
	for _, s := range spans {
		if l.Matches(s.addr, s.size) {
			return true
		}
	}
	return false
}

// Flush commits the whole buffer of task to memory in program order and
// empties it. Before each pending line is written, task observes the line's
// range so that pending stores of other tasks to the same bytes may land
// first.
func (b *Buffers) Flush(mem storebuf.Memory, ch Chooser, task TaskID) {
	buf := b.GetIfExists(task)
	if buf == nil || buf.Empty() {
		return
	}
	b.logger.Debug("weakmem: flush", slog.Uint64("task", uint64(task)), slog.Int("lines", buf.Len()))
	b.stats.FullFlushes++
	for !buf.Empty() {
		b.commitHead(mem, ch, task, buf)
	}
}

// WriteThrough writes a store directly to memory on behalf of task. It is
// used for barrier stores, which are never buffered and are preceded by a
// Flush of task's buffer. The store makes no choice: pending stores of other
// tasks stay pending and land after it, while Committed lines it overwrites
// land before it.
func (b *Buffers) WriteThrough(mem storebuf.Memory, task TaskID, l storebuf.Line) {
	b.logger.Debug("weakmem: write through", slog.Uint64("task", uint64(task)), slog.Any("line", l))
	b.writeLine(mem, l)
}
