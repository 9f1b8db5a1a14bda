package interpolation

import "github.com/automoto/cubes-mp/shared/netconfig"

// Timeline is the render clock for remote entities: the newest server tick
// seen, advanced by local steps, minus a fixed delay so there is usually a
// newer sample to blend toward.
type Timeline struct {
	delay   float64
	base    netconfig.Tick
	elapsed int
	started bool
}

// NewTimeline renders delayTicks behind the newest server tick.
func NewTimeline(delayTicks float64) *Timeline {
	return &Timeline{delay: delayTicks}
}

// Observe records a server tick. Older ticks are ignored.
func (tl *Timeline) Observe(tick netconfig.Tick) {
	if !tl.started || tick > tl.base {
		tl.base, tl.elapsed, tl.started = tick, 0, true
	}
}

// Step advances the timeline by one local tick.
func (tl *Timeline) Step() {
	if tl.started {
		tl.elapsed++
	}
}

// At returns the render time in fractional server ticks. overstep is the
// fraction of the current local step already elapsed.
func (tl *Timeline) At(overstep float64) float64 {
	return float64(tl.base) + float64(tl.elapsed) + overstep - tl.delay
}

func (tl *Timeline) Started() bool {
	return tl.started
}
