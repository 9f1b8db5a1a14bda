// Package interpolation renders remote entities between the two newest
// snapshots received for them.
package interpolation

import "github.com/automoto/cubes-mp/shared/netconfig"

// BlendFunc returns the value a fraction t of the way from one sample to
// the next.
type BlendFunc[T any] func(from, to T, t float64) T

type sample[T any] struct {
	tick  netconfig.Tick
	value T
}

// Buffer keeps the two newest samples of one component, ordered by tick
// regardless of arrival order.
type Buffer[T any] struct {
	blend   BlendFunc[T]
	samples [2]sample[T]
	n       int
}

func NewBuffer[T any](blend BlendFunc[T]) *Buffer[T] {
	return &Buffer[T]{blend: blend}
}

// Push adds the value of tick. A sample for a tick already held replaces
// it; one older than both held samples is dropped.
func (b *Buffer[T]) Push(tick netconfig.Tick, v T) {
	s := sample[T]{tick: tick, value: v}
	for i := 0; i < b.n; i++ {
		if b.samples[i].tick == tick {
			b.samples[i] = s
			return
		}
	}
	switch b.n {
	case 0:
		b.samples[0] = s
		b.n = 1
	case 1:
		if tick > b.samples[0].tick {
			b.samples[1] = s
		} else {
			b.samples[1], b.samples[0] = b.samples[0], s
		}
		b.n = 2
	default:
		switch {
		case tick > b.samples[1].tick:
			b.samples[0], b.samples[1] = b.samples[1], s
		case tick > b.samples[0].tick:
			b.samples[0] = s
		}
	}
}

// Len returns the number of held samples.
func (b *Buffer[T]) Len() int {
	return b.n
}

// Latest returns the newest held sample.
func (b *Buffer[T]) Latest() (netconfig.Tick, T, bool) {
	if b.n == 0 {
		var zero T
		return 0, zero, false
	}
	s := b.samples[b.n-1]
	return s.tick, s.value, true
}

// Sample returns the value at render time at, measured in fractional ticks.
// With one sample it is returned as is. Before the older sample the older
// value is returned, and at or past the newer sample the newer value is held.
func (b *Buffer[T]) Sample(at float64) (T, bool) {
	switch b.n {
	case 0:
		var zero T
		return zero, false
	case 1:
		return b.samples[0].value, true
	}
	from, to := b.samples[0], b.samples[1]
	t1, t2 := float64(from.tick), float64(to.tick)
	switch {
	case at <= t1:
		return from.value, true
	case at >= t2:
		return to.value, true
	}
	return b.blend(from.value, to.value, (at-t1)/(t2-t1)), true
}

// Reset drops all samples.
func (b *Buffer[T]) Reset() {
	b.n = 0
	b.samples = [2]sample[T]{}
}
