package movement

import (
	"testing"

	"github.com/automoto/cubes-mp/shared/gamemath"
	"github.com/automoto/cubes-mp/shared/leveldata"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/go-gl/mathgl/mgl64"
)

const dt = 1.0 / 64

func settle(t *testing.T, level *Level, tuning Tuning, s State) State {
	t.Helper()
	for i := 0; i < 512; i++ {
		s = Step(level, tuning, s, 0, dt)
		if Grounded(level, tuning, s) {
			return s
		}
	}
	t.Fatalf("expected body to land, still at %v", s.Position)
	return s
}

func TestFallsOntoGroundPlane(t *testing.T) {
	level := NewLevel(nil)
	tuning := DefaultTuning()

	s := settle(t, level, tuning, Spawn(mgl64.Vec3{0, 10, 0}))
	if s.Position.Y() != tuning.FloatHeight {
		t.Fatalf("expected to rest at y=%v, got %v", tuning.FloatHeight, s.Position.Y())
	}
	if s.Velocity.Y() != 0 {
		t.Fatalf("expected vertical velocity 0 after landing, got %v", s.Velocity.Y())
	}
}

func TestJumpFromGround(t *testing.T) {
	level := NewLevel(nil)
	tuning := DefaultTuning()
	s := settle(t, level, tuning, Spawn(mgl64.Vec3{0, 10, 0}))

	jumped := Step(level, tuning, s, netconfig.ActionsFrom(netconfig.ActionJump), dt)
	if jumped.Velocity.Y() <= 0 {
		t.Fatalf("expected upward velocity after jump, got %v", jumped.Velocity.Y())
	}
	if jumped.Velocity.Y() != tuning.JumpSpeed() {
		t.Fatalf("expected take-off speed %v, got %v", tuning.JumpSpeed(), jumped.Velocity.Y())
	}
	if jumped.Position.Y() <= s.Position.Y() {
		t.Fatalf("expected to rise, got %v -> %v", s.Position.Y(), jumped.Position.Y())
	}

	// No second jump while airborne.
	air := Step(level, tuning, jumped, netconfig.ActionsFrom(netconfig.ActionJump), dt)
	if air.Velocity.Y() >= jumped.Velocity.Y() {
		t.Fatalf("expected gravity to slow the ascent, got %v -> %v", jumped.Velocity.Y(), air.Velocity.Y())
	}
}

func TestStepIsDeterministic(t *testing.T) {
	tuning := DefaultTuning()
	data := &leveldata.CollisionData{
		Width: 8, Height: 4,
		Solids: []leveldata.SolidRect{{MinX: 2, MinY: 0, MaxX: 3, MaxY: 1}},
	}
	script := []netconfig.ActionState{
		0, netconfig.ActionsFrom(netconfig.ActionRight),
		netconfig.ActionsFrom(netconfig.ActionRight, netconfig.ActionUp),
		netconfig.ActionsFrom(netconfig.ActionJump, netconfig.ActionLeft),
		netconfig.ActionsFrom(netconfig.ActionDown),
	}

	run := func() State {
		level := NewLevel(data)
		s := Spawn(mgl64.Vec3{0, 6, 0})
		for i := 0; i < 400; i++ {
			s = Step(level, tuning, s, script[(i/37)%len(script)], dt)
		}
		return s
	}

	a, b := run(), run()
	if a != b {
		t.Fatalf("expected identical results, got %+v and %+v", a, b)
	}
}

func TestWallStopsHorizontalMotion(t *testing.T) {
	tuning := DefaultTuning()
	level := NewLevel(&leveldata.CollisionData{
		Width: 8, Height: 4,
		Solids: []leveldata.SolidRect{{MinX: 2, MinY: 0, MaxX: 3, MaxY: 1}},
	})
	s := settle(t, level, tuning, Spawn(mgl64.Vec3{0, 2, 0}))

	right := netconfig.ActionsFrom(netconfig.ActionRight)
	for i := 0; i < 128; i++ {
		s = Step(level, tuning, s, right, dt)
	}
	if s.Position.X() != 2-tuning.HalfSize {
		t.Fatalf("expected to stop at x=%v, got %v", 2-tuning.HalfSize, s.Position.X())
	}
	if s.Velocity.X() != 0 {
		t.Fatalf("expected horizontal velocity 0 against the wall, got %v", s.Velocity.X())
	}
	want := gamemath.YawToward(mgl64.Vec3{1, 0, 0})
	if !gamemath.QuatWithin(s.Rotation, want, 1e-12) {
		t.Fatalf("expected to face +X, got %v", s.Rotation)
	}
}

func TestLandsOnPlatform(t *testing.T) {
	tuning := DefaultTuning()
	level := NewLevel(&leveldata.CollisionData{
		Width: 8, Height: 6,
		Solids: []leveldata.SolidRect{
			{MinX: -1, MinY: 3, MaxX: 0, MaxY: 4},
			{MinX: 0, MinY: 3, MaxX: 1, MaxY: 4},
		},
	})
	s := settle(t, level, tuning, Spawn(mgl64.Vec3{0, 10, 0}))
	if s.Position.Y() != 4+tuning.FloatHeight {
		t.Fatalf("expected to rest on the platform at y=%v, got %v", 4+tuning.FloatHeight, s.Position.Y())
	}
}
