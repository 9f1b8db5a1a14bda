// Package ticks provides the fixed-step tick clock and tick-indexed history
// buffers used by both peers.
package ticks

import (
	"time"

	"github.com/automoto/cubes-mp/shared/netconfig"
)

// Clock turns elapsed wall time into whole fixed simulation steps. The tick
// it reports never decreases. On a client, Sync nudges the local tick toward
// a target derived from the server's tick by running extra steps or holding
// steps, and only snaps when the drift is too large to absorb.
type Clock struct {
	step       time.Duration
	acc        time.Duration
	tick       netconfig.Tick
	maxCatchUp int
	maxDrift   netconfig.Tick

	synced bool
	extra  int
	hold   int
}

// NewClock creates a clock stepping tickRate times per second. maxCatchUp caps
// the steps a single Advance may report; maxDrift is the largest forward
// drift Sync absorbs gradually before snapping.
func NewClock(tickRate, maxCatchUp int, maxDrift netconfig.Tick) *Clock {
	if maxCatchUp < 1 {
		maxCatchUp = 1
	}
	return &Clock{
		step:       time.Second / time.Duration(tickRate),
		maxCatchUp: maxCatchUp,
		maxDrift:   maxDrift,
	}
}

// StepDuration returns the wall time of one tick.
func (c *Clock) StepDuration() time.Duration {
	return c.step
}

// Tick returns the last tick handed out by Next.
func (c *Clock) Tick() netconfig.Tick {
	return c.tick
}

// Synced reports whether Sync has been called at least once.
func (c *Clock) Synced() bool {
	return c.synced
}

// Advance accumulates elapsed time and returns how many steps the caller
// should run now. Each step is started with Next.
func (c *Clock) Advance(elapsed time.Duration) int {
	c.acc += elapsed
	n := int(c.acc / c.step)
	c.acc -= time.Duration(n) * c.step
	if n > c.maxCatchUp {
		n = c.maxCatchUp
	}

	if c.extra > 0 && n > 0 {
		n++
		c.extra--
	}
	if c.hold > 0 && n > 0 {
		n--
		c.hold--
	}
	return n
}

// Next advances to and returns the next tick.
func (c *Clock) Next() netconfig.Tick {
	c.tick++
	return c.tick
}

// Overstep returns the fraction of the next step already elapsed, in [0, 1).
func (c *Clock) Overstep() float64 {
	return float64(c.acc) / float64(c.step)
}

// Sync corrects the local tick toward serverTick+lead. The first call adopts
// the target directly.
func (c *Clock) Sync(serverTick, lead netconfig.Tick) {
	target := serverTick + lead
	if !c.synced {
		c.tick = target
		c.synced = true
		return
	}

	c.extra, c.hold = 0, 0
	switch {
	case target > c.tick:
		drift := target - c.tick
		if drift <= 1 {
			return
		}
		if drift > c.maxDrift {
			c.tick = target
			return
		}
		c.extra = int(drift - 1)
	case target < c.tick:
		drift := c.tick - target
		if drift <= 1 {
			return
		}
		c.hold = int(drift - 1)
	}
}

// LeadFor returns how many ticks a client must run ahead of the server so its
// inputs arrive before the server simulates them, given a round trip time.
func (c *Clock) LeadFor(rtt time.Duration, margin netconfig.Tick) netconfig.Tick {
	lead := (rtt + c.step - 1) / c.step
	return netconfig.Tick(lead) + margin
}
