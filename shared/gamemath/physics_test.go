package gamemath

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestApproach(t *testing.T) {
	if got := Approach(0, 1, 0.25); got != 0.25 {
		t.Fatalf("expected 0.25, got %f", got)
	}
	if got := Approach(0.9, 1, 0.25); got != 1 {
		t.Fatalf("expected approach to stop at target, got %f", got)
	}
	if got := Approach(0, -1, 0.5); got != -0.5 {
		t.Fatalf("expected -0.5, got %f", got)
	}
}

func TestSlerpTakesShortestArc(t *testing.T) {
	a := mgl64.QuatRotate(0, Up)
	b := mgl64.QuatRotate(math.Pi/2, Up)
	mid := SlerpQuat(a, b.Scale(-1), 0.5)
	want := mgl64.QuatRotate(math.Pi/4, Up)
	if !QuatWithin(mid, want, 1e-9) {
		t.Fatalf("expected 45 degree yaw, got %v", mid)
	}
}

func TestYawTowardFacesDirection(t *testing.T) {
	for _, dir := range []mgl64.Vec3{{1, 0, 0}, {-1, 0, 0}, {0, 0, 1}, {0, 0, -1}} {
		forward := YawToward(dir).Rotate(mgl64.Vec3{0, 0, -1})
		if !Vec3Within(forward, dir, 1e-9) {
			t.Fatalf("expected forward %v, got %v", dir, forward)
		}
	}
}
