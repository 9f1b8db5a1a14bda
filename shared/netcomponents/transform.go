package netcomponents

import (
	"github.com/automoto/cubes-mp/shared/gamemath"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"
)

type TransformData struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
}

var Transform = donburi.NewComponentType[TransformData]()

// LerpTransform blends translation linearly and rotation along the shortest arc.
func LerpTransform(from, to TransformData, t float64) TransformData {
	return TransformData{
		Translation: gamemath.LerpVec3(from.Translation, to.Translation, t),
		Rotation:    gamemath.SlerpQuat(from.Rotation, to.Rotation, t),
	}
}

// NewTransform places an unrotated body at pos.
func NewTransform(pos mgl64.Vec3) TransformData {
	return TransformData{Translation: pos, Rotation: mgl64.QuatIdent()}
}
