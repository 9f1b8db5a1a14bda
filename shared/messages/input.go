package messages

import "github.com/automoto/cubes-mp/shared/netconfig"

// ActionDiff is the change of the action state from one tick to the next.
type ActionDiff struct {
	Pressed  netconfig.ActionState
	Released netconfig.ActionState
}

// Apply returns the state that results from applying d to prev.
func (d ActionDiff) Apply(prev netconfig.ActionState) netconfig.ActionState {
	return prev&^d.Released | d.Pressed
}

// Empty reports whether d changes nothing.
func (d ActionDiff) Empty() bool {
	return d.Pressed == 0 && d.Released == 0
}

// DiffActions computes the diff that turns prev into next.
func DiffActions(prev, next netconfig.ActionState) ActionDiff {
	return ActionDiff{
		Pressed:  next &^ prev,
		Released: prev &^ next,
	}
}

// Input carries the client's action diffs for ticks Start..Start+len(Diffs)-1.
// Base is the action state of tick Start-1, so a receiver that missed earlier
// messages can rebuild the window on its own.
type Input struct {
	Start netconfig.Tick
	Base  netconfig.ActionState
	Diffs []ActionDiff
}

func (Input) MessageType() Type { return TypeInput }

// End returns the last tick covered by the message.
func (m Input) End() netconfig.Tick {
	if len(m.Diffs) == 0 {
		return m.Start
	}
	return m.Start + netconfig.Tick(len(m.Diffs)-1)
}
