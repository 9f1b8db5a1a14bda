// Package movement is the deterministic character controller shared by the
// server authority loop and client prediction. Given the same level, tuning,
// state and actions, Step returns bit-identical results on every peer.
package movement

import (
	"math"

	"github.com/automoto/cubes-mp/shared/gamemath"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/go-gl/mathgl/mgl64"
)

// Tuning holds the controller constants. Both peers must use identical values.
type Tuning struct {
	WalkSpeed    float64 `yaml:"walk_speed" env:"WALK_SPEED"`
	Acceleration float64 `yaml:"acceleration" env:"ACCELERATION"`
	Gravity      float64 `yaml:"gravity" env:"GRAVITY"`
	JumpHeight   float64 `yaml:"jump_height" env:"JUMP_HEIGHT"`
	MaxFallSpeed float64 `yaml:"max_fall_speed" env:"MAX_FALL_SPEED"`
	// FloatHeight is the distance from the body centre down to its feet.
	FloatHeight float64 `yaml:"float_height" env:"FLOAT_HEIGHT"`
	// HalfSize is the half width of the body and the distance up to its head.
	HalfSize float64 `yaml:"half_size" env:"HALF_SIZE"`
}

func DefaultTuning() Tuning {
	return Tuning{
		WalkSpeed:    6,
		Acceleration: 60,
		Gravity:      20,
		JumpHeight:   4,
		MaxFallSpeed: 40,
		FloatHeight:  2,
		HalfSize:     0.5,
	}
}

// JumpSpeed is the take-off speed that peaks at JumpHeight.
func (t Tuning) JumpSpeed() float64 {
	return math.Sqrt(2 * t.Gravity * t.JumpHeight)
}

// State is the controller state of one character.
type State struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	Rotation mgl64.Quat
}

// Spawn returns a resting, unrotated state at pos.
func Spawn(pos mgl64.Vec3) State {
	return State{Position: pos, Rotation: mgl64.QuatIdent()}
}

// Within reports whether s and o agree within eps on every field.
func (s State) Within(o State, eps float64) bool {
	return gamemath.Vec3Within(s.Position, o.Position, eps) &&
		gamemath.Vec3Within(s.Velocity, o.Velocity, eps) &&
		gamemath.QuatWithin(s.Rotation, o.Rotation, eps)
}

func (t Tuning) box(pos mgl64.Vec3) aabb {
	return aabb{
		minX: pos.X() - t.HalfSize,
		minY: pos.Y() - t.FloatHeight,
		maxX: pos.X() + t.HalfSize,
		maxY: pos.Y() + t.HalfSize,
	}
}

// Direction maps the walk actions to an unnormalised world direction:
// up is -Z, down is +Z, left is -X and right is +X.
func Direction(actions netconfig.ActionState) mgl64.Vec3 {
	var dir mgl64.Vec3
	if actions.Pressed(netconfig.ActionUp) {
		dir[2]--
	}
	if actions.Pressed(netconfig.ActionDown) {
		dir[2]++
	}
	if actions.Pressed(netconfig.ActionLeft) {
		dir[0]--
	}
	if actions.Pressed(netconfig.ActionRight) {
		dir[0]++
	}
	return dir
}

// Grounded reports whether s stands on the ground or a solid and is not rising.
func Grounded(level *Level, t Tuning, s State) bool {
	return s.Velocity.Y() <= 0 && level.supported(t.box(s.Position))
}

// Step advances s by one fixed tick of dt seconds under actions.
func Step(level *Level, t Tuning, s State, actions netconfig.ActionState, dt float64) State {
	dir := Direction(actions)
	walking := dir.X() != 0 || dir.Z() != 0

	// --- Horizontal input ---
	var desired mgl64.Vec3
	if walking {
		desired = dir.Normalize().Mul(t.WalkSpeed)
	}
	maxDelta := t.Acceleration * dt
	vx := gamemath.Approach(s.Velocity.X(), desired.X(), maxDelta)
	vz := gamemath.Approach(s.Velocity.Z(), desired.Z(), maxDelta)

	// --- Jump (held, only from the ground) and gravity ---
	vy := s.Velocity.Y()
	if Grounded(level, t, s) {
		vy = 0
		if actions.Pressed(netconfig.ActionJump) {
			vy = t.JumpSpeed()
		}
	} else {
		vy = math.Max(vy-t.Gravity*dt, -t.MaxFallSpeed)
	}

	// --- Resolve collisions, x then y ---
	pos := s.Position
	if face, hit := level.moveX(t.box(pos), vx*dt); hit {
		if vx > 0 {
			pos[0] = face - t.HalfSize
		} else {
			pos[0] = face + t.HalfSize
		}
		vx = 0
	} else {
		pos[0] += vx * dt
	}

	if surface, hit := level.moveY(t.box(pos), vy*dt); hit {
		if vy < 0 {
			pos[1] = surface + t.FloatHeight
		} else {
			pos[1] = surface - t.HalfSize
		}
		vy = 0
	} else {
		pos[1] += vy * dt
	}

	pos[2] += vz * dt

	rot := s.Rotation
	if walking {
		rot = gamemath.YawToward(dir)
	}

	return State{
		Position: pos,
		Velocity: mgl64.Vec3{vx, vy, vz},
		Rotation: rot,
	}
}
