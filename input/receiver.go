package input

import (
	"fmt"

	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/ticks"
)

// Receiver rebuilds one client's per-tick action states on the server.
// A tick with no received input holds the state last used.
type Receiver struct {
	states    *ticks.Buffer[netconfig.ActionState]
	maxWindow int

	current  netconfig.ActionState
	consumed netconfig.Tick
	started  bool
}

// NewReceiver keeps up to size future ticks and accepts messages covering
// at most maxWindow ticks.
func NewReceiver(size, maxWindow int) *Receiver {
	return &Receiver{
		states:    ticks.NewBuffer[netconfig.ActionState](size),
		maxWindow: maxWindow,
	}
}

// Apply stores the states carried by m. Ticks the server has already
// simulated are ignored. It returns the number of ticks stored.
func (r *Receiver) Apply(m messages.Input) (int, error) {
	if len(m.Diffs) == 0 {
		return 0, fmt.Errorf("input at tick %d carries no diffs", m.Start)
	}
	if len(m.Diffs) > r.maxWindow {
		return 0, fmt.Errorf("input at tick %d covers %d ticks, limit %d", m.Start, len(m.Diffs), r.maxWindow)
	}
	if r.started {
		if limit := r.consumed + netconfig.Tick(r.states.Len()); m.End() > limit {
			return 0, fmt.Errorf("input ends at tick %d, beyond buffered horizon %d", m.End(), limit)
		}
	}

	stored := 0
	state := m.Base
	for i, d := range m.Diffs {
		state = d.Apply(state)
		tick := m.Start + netconfig.Tick(i)
		if r.started && tick <= r.consumed {
			continue
		}
		r.states.Put(tick, state)
		stored++
	}
	return stored, nil
}

// ActionsFor returns the state to simulate tick with and marks it consumed.
func (r *Receiver) ActionsFor(tick netconfig.Tick) netconfig.ActionState {
	if s, ok := r.states.Get(tick); ok {
		r.current = s
	}
	r.consumed, r.started = tick, true
	return r.current
}

// Has reports whether input for tick has arrived.
func (r *Receiver) Has(tick netconfig.Tick) bool {
	_, ok := r.states.Get(tick)
	return ok
}
