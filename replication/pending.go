package replication

import (
	"sort"

	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/leap-fish/necs/esync"
)

type pendingEntry struct {
	tick   netconfig.Tick
	update messages.EntityUpdate
}

// pendingBuffer holds updates for entities that have not been spawned yet.
// It is bounded both in size and in age.
type pendingBuffer struct {
	entries  []pendingEntry
	capacity int
	horizon  netconfig.Tick
}

// add queues upd and returns how many of the oldest entries were evicted.
func (p *pendingBuffer) add(tick netconfig.Tick, upd messages.EntityUpdate) int {
	p.entries = append(p.entries, pendingEntry{tick: tick, update: upd})
	if over := len(p.entries) - p.capacity; over > 0 {
		sort.SliceStable(p.entries, func(i, j int) bool { return p.entries[i].tick < p.entries[j].tick })
		p.entries = append(p.entries[:0], p.entries[over:]...)
		return over
	}
	return 0
}

// take removes and returns the entries for id in tick order.
func (p *pendingBuffer) take(id esync.NetworkId) []pendingEntry {
	var out []pendingEntry
	keep := p.entries[:0]
	for _, e := range p.entries {
		if e.update.Entity == id {
			out = append(out, e)
		} else {
			keep = append(keep, e)
		}
	}
	p.entries = keep
	sort.SliceStable(out, func(i, j int) bool { return out[i].tick < out[j].tick })
	return out
}

func (p *pendingBuffer) purge(id esync.NetworkId) {
	p.take(id)
}

// expire drops entries older than the horizon relative to newest.
func (p *pendingBuffer) expire(newest netconfig.Tick) int {
	keep := p.entries[:0]
	dropped := 0
	for _, e := range p.entries {
		if e.tick+p.horizon < newest {
			dropped++
			continue
		}
		keep = append(keep, e)
	}
	p.entries = keep
	return dropped
}

func (p *pendingBuffer) len() int {
	return len(p.entries)
}
