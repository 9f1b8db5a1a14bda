package prediction

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Smoother hides rollback corrections by decaying the visual offset between
// the old and the corrected predicted position to zero.
type Smoother struct {
	duration float32
	base     mgl64.Vec3
	offset   mgl64.Vec3
	tween    *gween.Tween
}

func NewSmoother(d time.Duration) *Smoother {
	return &Smoother{duration: float32(d.Seconds())}
}

// Add stacks delta onto the remaining offset and restarts the decay.
func (s *Smoother) Add(delta mgl64.Vec3) {
	if s.duration <= 0 {
		return
	}
	s.base = s.offset.Add(delta)
	s.offset = s.base
	s.tween = gween.New(1, 0, s.duration, ease.OutQuad)
}

// Update advances the decay by dt seconds.
func (s *Smoother) Update(dt float64) {
	if s.tween == nil {
		return
	}
	factor, done := s.tween.Update(float32(dt))
	if done {
		s.Reset()
		return
	}
	s.offset = s.base.Mul(float64(factor))
}

// Offset is added to the predicted position when rendering.
func (s *Smoother) Offset() mgl64.Vec3 {
	return s.offset
}

func (s *Smoother) Active() bool {
	return s.tween != nil
}

// Reset drops any remaining offset.
func (s *Smoother) Reset() {
	s.tween = nil
	s.base = mgl64.Vec3{}
	s.offset = mgl64.Vec3{}
}
