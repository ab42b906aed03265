package storebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/weakmem/internal/weakmem/order"
)

func line(addr uintptr, value uint64) Line {
	return NewLine(addr, value, 8, order.Monotonic)
}

func addrs(b *Buffer) []uintptr {
	var out []uintptr
	for _, l := range b.Lines() {
		out = append(out, l.Addr)
	}
	return out
}

// TestMatches verifies byte-range overlap detection.
func TestMatches(t *testing.T) {
	l := NewLine(0x100, 0, 4, order.NotAtomic) // [0x100, 0x104)

	tests := []struct {
		addr uintptr
		size int
		want bool
	}{
		{0x100, 4, true},
		{0x0fc, 4, false},
		{0x0fd, 4, true},
		{0x103, 1, true},
		{0x104, 8, false},
		{0x0f8, 8, false},
		{0x0f9, 8, true},
		{0x101, 2, true},
	}
	for _, tt := range tests {
		if got := l.Matches(tt.addr, tt.size); got != tt.want {
			t.Errorf("Matches(%#x, %d) = %v, want %v", tt.addr, tt.size, got, tt.want)
		}
	}
}

func TestNewLineMasksValue(t *testing.T) {
	assert.Equal(t, uint64(0xdd), NewLine(0, 0xaabbccdd, 1, 0).Value)
	assert.Equal(t, uint64(0xccdd), NewLine(0, 0xaabbccdd, 2, 0).Value)
	assert.Equal(t, uint64(0xaabbccdd), NewLine(0, 0x11aabbccdd, 4, 0).Value)
	assert.Equal(t, ^uint64(0), NewLine(0, ^uint64(0), 8, 0).Value)
}

func TestValidSize(t *testing.T) {
	for _, s := range []int{1, 2, 4, 8} {
		assert.True(t, ValidSize(s), "size %d", s)
	}
	for _, s := range []int{0, 3, 5, 16, -1} {
		assert.False(t, ValidSize(s), "size %d", s)
	}
}

func TestEqualIgnoresStatus(t *testing.T) {
	a := line(0x10, 1)
	b := a
	b.Status = Committed
	assert.True(t, a.Equal(b))
	b.Value = 2
	assert.False(t, a.Equal(b))
}

// TestOverflows verifies the bound check used before evicting.
func TestOverflows(t *testing.T) {
	b := NewBuffer()
	for i := uintptr(1); i <= 2; i++ {
		b.Append(line(i*8, uint64(i)))
		assert.False(t, b.Overflows(2))
	}
	b.Append(line(24, 3))
	assert.True(t, b.Overflows(2))
	assert.False(t, b.Overflows(3))
}

func TestOverflowsUnbounded(t *testing.T) {
	b := NewBuffer()
	for i := uintptr(0); i < 10; i++ {
		b.Append(line(i*8, 0))
	}
	assert.False(t, b.Overflows(0))
	assert.False(t, b.Overflows(-1))
}

func TestMarkCommitted(t *testing.T) {
	b := NewBuffer()
	b.Append(line(0x10, 1))
	b.Append(line(0x18, 2))

	b.MarkCommitted(0, 7)
	assert.Equal(t, Committed, b.At(0).Status)
	assert.Equal(t, uint64(7), b.At(0).Seq)
	assert.Equal(t, Normal, b.At(1).Status)

	c := NewBuffer()
	c.Append(line(0x10, 1))
	c.Append(line(0x18, 2))
	assert.True(t, b.Equal(c), "stamps do not affect equality")
}

func TestEraseKeepsOrder(t *testing.T) {
	b := NewBuffer()
	for i := uintptr(0); i < 5; i++ {
		b.Append(line(i, 0))
	}

	b.Erase(1)
	assert.Equal(t, []uintptr{0, 2, 3, 4}, addrs(b))

	b.EraseRange(1, 3)
	assert.Equal(t, []uintptr{0, 4}, addrs(b))
}

func TestEvict(t *testing.T) {
	b := NewBuffer()
	for i := uintptr(0); i < 6; i++ {
		b.Append(line(i, 0))
	}
	b.SetStatus(0, Committed)
	b.SetStatus(2, Committed)

	odd := func(l Line) bool { return l.Addr%2 == 1 }
	even := func(l Line) bool { return l.Addr%2 == 0 }

	assert.Equal(t, 3, b.Evict(odd, false))
	assert.Equal(t, []uintptr{0, 2, 4}, addrs(b))

	assert.Equal(t, 2, b.Evict(even, true), "only committed lines are removed")
	assert.Equal(t, []uintptr{4}, addrs(b))

	assert.Equal(t, 1, b.Evict(even, false))
	assert.True(t, b.Empty())
}

func TestShrinkAndClone(t *testing.T) {
	b := NewBuffer()
	for i := uintptr(0); i < 4; i++ {
		b.Append(line(i, uint64(i)))
	}

	c := b.Clone()
	b.Shrink(2)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, 4, c.Len(), "clone is independent")
	assert.Equal(t, uintptr(1), b.Newest().Addr)

	b.Shrink(10)
	assert.Equal(t, 2, b.Len())

	c.Clear()
	assert.True(t, c.Empty())
}

func TestLineString(t *testing.T) {
	l := NewLine(0x1000, 42, 4, order.SeqCst|order.AtomicOp)
	assert.Equal(t, "[0x1000 ← 0x2a; 32 bit;  ASC]", l.String())

	l.Status = Committed
	assert.Contains(t, l.String(), "committed")
}
