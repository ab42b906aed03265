package buffers

import (
	"encoding/binary"

	"github.com/kolkov/weakmem/internal/weakmem/storebuf"
)

// Read returns the value task sees for a load of size bytes at addr: its own
// buffered stores merged over the memory word.
//
// The buffer is scanned from the newest line to the oldest. A line storing
// exactly addr with at least size bytes supplies the whole value, unless a
// newer line has already contributed bytes. Otherwise every overlapping line
// contributes the bytes no newer line has written, and the remaining bytes
// come from memory.
//
// Lines of other tasks are never consulted here; Observe has already flushed
// whatever of them is visible.
func (b *Buffers) Read(mem storebuf.Memory, task TaskID, addr uintptr, size int) uint64 {
	var out, word [8]byte
	binary.LittleEndian.PutUint64(word[:], mem.RawLoad(addr, size))

	var defined uint8 // bit i set: byte i taken from the buffer
	full := uint8(1)<<uint(size) - 1
	if size >= 8 {
		full = 0xff
	}

	if buf := b.GetIfExists(task); buf != nil {
		lines := buf.Lines()
		for i := len(lines) - 1; i >= 0 && defined != full; i-- {
			l := lines[i]
			if !l.Matches(addr, size) {
				continue
			}
			if l.Addr == addr && l.Size >= size && defined == 0 {
				return storebuf.MaskValue(l.Value, size)
			}

			var val [8]byte
			binary.LittleEndian.PutUint64(val[:], l.Value)
			lo, hi := max(l.Addr, addr), min(l.End(), addr+uintptr(size))
			for a := lo; a < hi; a++ {
				dst := a - addr
				if defined&(1<<dst) != 0 {
					continue
				}
				out[dst] = val[a-l.Addr]
				defined |= 1 << dst
			}
		}
	}

	for i := 0; i < size; i++ {
		if defined&(1<<uint(i)) == 0 {
			out[i] = word[i]
		}
	}
	return binary.LittleEndian.Uint64(out[:])
}
