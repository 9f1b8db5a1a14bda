// Package input samples the local player's actions every tick, ships them to
// the server as diffs, and rebuilds per-tick action states on the server.
package input

import (
	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/ticks"
)

// ActionSource reads the abstract action state of the local device.
type ActionSource interface {
	Sample(tick netconfig.Tick) netconfig.ActionState
}

// ActionSourceFunc adapts a function to ActionSource.
type ActionSourceFunc func(tick netconfig.Tick) netconfig.ActionState

func (f ActionSourceFunc) Sample(tick netconfig.Tick) netconfig.ActionState {
	return f(tick)
}

// Capture records every sampled tick in a bounded history and builds the
// input messages sent to the server.
type Capture struct {
	source    ActionSource
	history   *ticks.Buffer[netconfig.ActionState]
	window    int
	keepalive netconfig.Tick

	first    netconfig.Tick
	last     netconfig.Tick
	recorded bool
	lastSent netconfig.Tick
	sent     bool
}

// NewCapture creates a Capture. historySize bounds the retained records,
// window is how many ticks each message repeats, and an unchanged state is
// still sent every keepaliveTicks.
func NewCapture(source ActionSource, historySize, window, keepaliveTicks int) *Capture {
	if window < 1 {
		window = 1
	}
	if historySize < window {
		historySize = window
	}
	if keepaliveTicks < 1 {
		keepaliveTicks = 1
	}
	return &Capture{
		source:    source,
		history:   ticks.NewBuffer[netconfig.ActionState](historySize),
		window:    window,
		keepalive: netconfig.Tick(keepaliveTicks),
	}
}

// Sample reads the source for tick and records it. It returns the message
// covering the recent window and whether it should be sent.
func (c *Capture) Sample(tick netconfig.Tick) (netconfig.ActionState, messages.Input, bool) {
	state := c.source.Sample(tick)
	c.record(tick, state)

	msg := c.message(tick)
	changed := false
	for _, d := range msg.Diffs {
		if !d.Empty() {
			changed = true
			break
		}
	}
	if changed || !c.sent || tick-c.lastSent >= c.keepalive {
		c.lastSent, c.sent = tick, true
		return state, msg, true
	}
	return state, msg, false
}

// record stores state for tick. Skipped ticks since the previous record hold
// the previous state, matching what the server assumes for missing input.
func (c *Capture) record(tick netconfig.Tick, state netconfig.ActionState) {
	if !c.recorded {
		c.first, c.last, c.recorded = tick, tick, true
		c.history.Put(tick, state)
		return
	}
	if tick > c.last+1 {
		prev, _ := c.history.Get(c.last)
		from := c.last + 1
		if span := netconfig.Tick(c.history.Len()); tick-from > span {
			from = tick - span
		}
		for t := from; t < tick; t++ {
			c.history.Put(t, prev)
		}
	}
	c.history.Put(tick, state)
	if tick > c.last {
		c.last = tick
	}
}

func (c *Capture) message(tick netconfig.Tick) messages.Input {
	start := c.first
	if span := netconfig.Tick(c.window - 1); tick >= span && tick-span > start {
		start = tick - span
	}
	msg := messages.Input{Start: start}
	var prev netconfig.ActionState
	if start > 0 {
		prev, _ = c.Actions(start - 1)
	}
	msg.Base = prev
	for t := start; t <= tick; t++ {
		cur, _ := c.Actions(t)
		msg.Diffs = append(msg.Diffs, messages.DiffActions(prev, cur))
		prev = cur
	}
	return msg
}

// Actions returns the recorded action state of tick. Ticks before the first
// record are the zero state.
func (c *Capture) Actions(tick netconfig.Tick) (netconfig.ActionState, bool) {
	if !c.recorded || tick < c.first {
		return 0, c.recorded
	}
	return c.history.Get(tick)
}

// Oldest returns the oldest tick whose record is still retained.
func (c *Capture) Oldest() (netconfig.Tick, bool) {
	oldest, ok := c.history.Oldest()
	if !ok {
		return 0, false
	}
	if oldest < c.first {
		oldest = c.first
	}
	return oldest, true
}

// Newest returns the last recorded tick.
func (c *Capture) Newest() (netconfig.Tick, bool) {
	return c.last, c.recorded
}
