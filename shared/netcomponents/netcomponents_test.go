package netcomponents

import (
	"math"
	"testing"

	"github.com/automoto/cubes-mp/shared/gamemath"
	"github.com/go-gl/mathgl/mgl64"
)

func TestLerpTransformMidpoint(t *testing.T) {
	from := TransformData{Translation: mgl64.Vec3{0, 2, 0}, Rotation: mgl64.QuatIdent()}
	to := TransformData{Translation: mgl64.Vec3{4, 6, -2}, Rotation: mgl64.QuatRotate(math.Pi/2, gamemath.Up)}

	mid := LerpTransform(from, to, 0.5)
	if !gamemath.Vec3Within(mid.Translation, mgl64.Vec3{2, 4, -1}, 1e-12) {
		t.Fatalf("expected arithmetic mean translation, got %v", mid.Translation)
	}
	if !gamemath.QuatWithin(mid.Rotation, mgl64.QuatRotate(math.Pi/4, gamemath.Up), 1e-9) {
		t.Fatalf("expected half rotation, got %v", mid.Rotation)
	}

	start := LerpTransform(from, to, 0)
	if start.Translation != from.Translation {
		t.Fatalf("expected start translation %v, got %v", from.Translation, start.Translation)
	}
}
