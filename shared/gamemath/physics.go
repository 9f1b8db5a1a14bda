// Package gamemath holds small numeric helpers shared by the movement
// function, prediction and interpolation.
package gamemath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Up is the world up axis.
var Up = mgl64.Vec3{0, 1, 0}

// Approach moves current toward target by at most maxDelta.
func Approach(current, target, maxDelta float64) float64 {
	if current < target {
		return math.Min(current+maxDelta, target)
	}
	if current > target {
		return math.Max(current-maxDelta, target)
	}
	return current
}

// ClampSpeed clamps a value to [-max, max].
func ClampSpeed(speed, max float64) float64 {
	if speed > max {
		return max
	}
	if speed < -max {
		return -max
	}
	return speed
}

// LerpVec3 blends linearly between a and b.
func LerpVec3(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

// SlerpQuat blends orientations along the shortest arc.
func SlerpQuat(a, b mgl64.Quat, t float64) mgl64.Quat {
	return mgl64.QuatSlerp(a, b, t)
}

// YawToward returns the rotation about Up that turns the -Z forward axis to
// face dir. dir must have a non-zero horizontal component.
func YawToward(dir mgl64.Vec3) mgl64.Quat {
	return mgl64.QuatRotate(math.Atan2(-dir.X(), -dir.Z()), Up)
}

// Vec3Within reports whether every component of a and b differs by at most eps.
func Vec3Within(a, b mgl64.Vec3, eps float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// QuatWithin reports whether a and b describe the same orientation within eps.
// q and -q are the same orientation.
func QuatWithin(a, b mgl64.Quat, eps float64) bool {
	return 1-math.Abs(a.Dot(b)) <= eps
}
