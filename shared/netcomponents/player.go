package netcomponents

import (
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/yohamta/donburi"
)

// PlayerIDData names the client that owns a player entity. It is sent once
// when the entity first becomes visible and never changes.
type PlayerIDData struct {
	Owner netconfig.ClientID
}

var PlayerID = donburi.NewComponentType[PlayerIDData]()

// ActionStateData is the owner's pressed action set for the replicated tick.
// Other clients use it for cosmetic effects only.
type ActionStateData struct {
	Actions netconfig.ActionState
}

var ActionState = donburi.NewComponentType[ActionStateData]()
