// Package replication turns the server world into per-connection
// replication messages and rebuilds a client world from them.
package replication

import (
	"errors"

	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/yohamta/donburi"
)

// ErrEntityNotYetKnown reports an update for an entity whose spawn has not
// arrived yet. The update is held in the pending buffer.
var ErrEntityNotYetKnown = errors.New("entity not yet known")

// ReplicateData is the server side routing table of one entity: a target per
// component kind, plus the audiences that treat it as predicted or
// interpolated.
type ReplicateData struct {
	Targets       map[netconfig.ComponentKind]network.Target
	Prediction    network.Target
	Interpolation network.Target
}

var Replicate = donburi.NewComponentType[ReplicateData]()

// PlayerTargets is the table of a player entity owned by owner. The owner
// predicts it, everybody else interpolates it, and only others see its
// action state.
func PlayerTargets(owner netconfig.ClientID) ReplicateData {
	return ReplicateData{
		Targets: map[netconfig.ComponentKind]network.Target{
			netconfig.KindPlayerID:       network.All(),
			netconfig.KindTransform:      network.All(),
			netconfig.KindLinearVelocity: network.All(),
			netconfig.KindActionState:    network.AllExcept(owner),
		},
		Prediction:    network.Single(owner),
		Interpolation: network.AllExcept(owner),
	}
}

// TargetFor returns the target of kind, None if the kind is not replicated.
func (r ReplicateData) TargetFor(kind netconfig.ComponentKind) network.Target {
	if t, ok := r.Targets[kind]; ok {
		return t
	}
	return network.None()
}

// RoleFor returns how connection id should treat the entity.
func (r ReplicateData) RoleFor(id netconfig.ClientID) netconfig.Role {
	switch {
	case r.Prediction.Includes(id):
		return netconfig.RolePredicted
	case r.Interpolation.Includes(id):
		return netconfig.RoleInterpolated
	}
	return netconfig.RoleConfirmed
}
