package buffers

import (
	"fmt"
	"io"
)

// Dump writes one line per non-empty buffer, marking the current task with
// an asterisk:
//
//	thread 1*: [0x1000 ← 0x1; 32 bit;  Mon] [0x1008 ← 0x2; 32 bit;  Mon]
//	thread 2: [0x1000 ← 0x7; 64 bit;  Rel] committed
func (b *Buffers) Dump(w io.Writer, current TaskID) error {
	for _, e := range b.entries {
		if e.buf.Empty() {
			continue
		}
		star := ""
		if e.task == current {
			star = "*"
		}
		if _, err := fmt.Fprintf(w, "thread %d%s:", e.task, star); err != nil {
			return err
		}
		for _, l := range e.buf.Lines() {
			if _, err := fmt.Fprintf(w, " %s", l); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
