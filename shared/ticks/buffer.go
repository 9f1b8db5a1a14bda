package ticks

import "github.com/automoto/cubes-mp/shared/netconfig"

type slot[T any] struct {
	tick  netconfig.Tick
	valid bool
	value T
}

// Buffer is a ring buffer of values keyed by tick. A slot holds the value of
// exactly one tick; writing a newer tick that maps to the same slot evicts
// the older one, so Get reports false for ticks that have been overwritten.
type Buffer[T any] struct {
	slots  []slot[T]
	newest netconfig.Tick
	any    bool
}

// NewBuffer returns a Buffer retaining up to size ticks.
func NewBuffer[T any](size int) *Buffer[T] {
	if size < 1 {
		size = 1
	}
	return &Buffer[T]{slots: make([]slot[T], size)}
}

// Len returns the capacity of the buffer in ticks.
func (b *Buffer[T]) Len() int {
	return len(b.slots)
}

// Put stores v for tick.
func (b *Buffer[T]) Put(tick netconfig.Tick, v T) {
	idx := int(tick) % len(b.slots)
	b.slots[idx] = slot[T]{tick: tick, valid: true, value: v}
	if !b.any || tick > b.newest {
		b.newest = tick
		b.any = true
	}
}

// Get retrieves the value stored for tick. Returns false if it was never
// stored or if the slot has been overwritten by a different tick.
func (b *Buffer[T]) Get(tick netconfig.Tick) (T, bool) {
	s := b.slots[int(tick)%len(b.slots)]
	if !s.valid || s.tick != tick {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Newest returns the highest tick ever stored.
func (b *Buffer[T]) Newest() (netconfig.Tick, bool) {
	return b.newest, b.any
}

// Oldest returns the lowest tick that can still be retained given the
// newest stored tick. Slots inside the window may still be empty.
func (b *Buffer[T]) Oldest() (netconfig.Tick, bool) {
	if !b.any {
		return 0, false
	}
	span := netconfig.Tick(len(b.slots) - 1)
	if b.newest < span {
		return 0, true
	}
	return b.newest - span, true
}

// Clear forgets all stored ticks.
func (b *Buffer[T]) Clear() {
	clear(b.slots)
	b.newest = 0
	b.any = false
}
