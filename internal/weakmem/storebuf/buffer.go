package storebuf

import "slices"

// Buffer is the store buffer of a single task.
//
// Lines are kept in program order: index 0 is the oldest store, Len()-1 the
// newest. All removal operations are stable.
//
// Thread Safety: NOT safe for concurrent use. The engine guarantees that
// exactly one task is inside it at a time.
type Buffer struct {
	lines []Line
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	return len(b.lines)
}

// Empty reports whether the buffer holds no lines.
func (b *Buffer) Empty() bool {
	return len(b.lines) == 0
}

// At returns the line at index i.
func (b *Buffer) At(i int) Line {
	return b.lines[i]
}

// Lines returns the buffered lines, oldest first.
// The returned slice aliases the buffer and must not be modified.
func (b *Buffer) Lines() []Line {
	return b.lines
}

// Oldest returns the first line. The buffer must not be empty.
func (b *Buffer) Oldest() Line {
	return b.lines[0]
}

// Newest returns the last line. The buffer must not be empty.
func (b *Buffer) Newest() Line {
	return b.lines[len(b.lines)-1]
}

// SetStatus updates the status of line i.
func (b *Buffer) SetStatus(i int, s Status) {
	b.lines[i].Status = s
}

// Append adds l at the tail without any size check.
func (b *Buffer) Append(l Line) {
	b.lines = append(b.lines, l)
}

// MarkCommitted sets line i to Committed with visibility stamp seq.
func (b *Buffer) MarkCommitted(i int, seq uint64) {
	b.lines[i].Status = Committed
	b.lines[i].Seq = seq
}

// Overflows reports whether the buffer holds more than max lines. A max of
// zero or less means the buffer is unbounded.
//
// Overflow is not an error: it models a finite hardware store buffer that
// must drain its oldest entry before accepting more.
func (b *Buffer) Overflows(max int) bool {
	return max > 0 && len(b.lines) > max
}

// Erase removes line i, preserving the order of the rest.
func (b *Buffer) Erase(i int) {
	b.lines = slices.Delete(b.lines, i, i+1)
}

// EraseRange removes lines [i, j), preserving the order of the rest.
func (b *Buffer) EraseRange(i, j int) {
	b.lines = slices.Delete(b.lines, i, j)
}

// Evict removes every line for which match returns true and returns the
// number of removed lines. With flushedOnly set, only Committed lines are
// candidates for removal.
func (b *Buffer) Evict(match func(Line) bool, flushedOnly bool) int {
	before := len(b.lines)
	b.lines = slices.DeleteFunc(b.lines, func(l Line) bool {
		if flushedOnly && l.Status != Committed {
			return false
		}
		return match(l)
	})
	return before - len(b.lines)
}

// Retain keeps only the lines for which keep returns true. keep receives the
// index each line had before the call.
func (b *Buffer) Retain(keep func(i int, l Line) bool) {
	n := 0
	for i, l := range b.lines {
		if keep(i, l) {
			b.lines[n] = l
			n++
		}
	}
	b.Shrink(n)
}

// Shrink truncates the buffer to its first n lines.
func (b *Buffer) Shrink(n int) {
	if n < len(b.lines) {
		clear(b.lines[n:])
		b.lines = b.lines[:n]
	}
}

// Clear removes every line.
func (b *Buffer) Clear() {
	b.Shrink(0)
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{lines: slices.Clone(b.lines)}
}

// Equal reports whether both buffers hold equal lines in the same order.
// Line status is ignored.
func (b *Buffer) Equal(o *Buffer) bool {
	return slices.EqualFunc(b.lines, o.lines, Line.Equal)
}
