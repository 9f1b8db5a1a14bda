package netcomponents

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"
)

// LinearVelocityData is replicated verbatim and never blended; a sudden
// change (landing, jump take-off) must stay visible.
type LinearVelocityData struct {
	V mgl64.Vec3
}

var LinearVelocity = donburi.NewComponentType[LinearVelocityData]()
