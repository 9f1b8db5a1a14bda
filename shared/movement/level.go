package movement

import (
	"math"

	"github.com/automoto/cubes-mp/shared/leveldata"
	"github.com/solarlune/resolv"
)

const (
	// resolv works in whole pixels; one world unit is one 16px tile.
	pxPerUnit = 16
	// Broadphase queries are padded so cell rounding never hides a solid.
	probeMarginPx = 2

	tagSolid = "solid"
	tagProbe = "probe"

	// contactEps is the distance at which two faces count as touching.
	contactEps = 1e-6
)

type aabb struct {
	minX, minY, maxX, maxY float64
}

func (a aabb) union(b aabb) aabb {
	return aabb{
		minX: math.Min(a.minX, b.minX),
		minY: math.Min(a.minY, b.minY),
		maxX: math.Max(a.maxX, b.maxX),
		maxY: math.Max(a.maxY, b.maxY),
	}
}

func (a aabb) offset(dx, dy float64) aabb {
	return aabb{a.minX + dx, a.minY + dy, a.maxX + dx, a.maxY + dy}
}

func (a aabb) overlapsX(s leveldata.SolidRect) bool {
	return s.MinX < a.maxX-contactEps && s.MaxX > a.minX+contactEps
}

func (a aabb) overlapsY(s leveldata.SolidRect) bool {
	return s.MinY < a.maxY-contactEps && s.MaxY > a.minY+contactEps
}

// Level is the collision world the movement function reads: an infinite
// ground plane at y = 0 plus the level's solid tiles, indexed in a resolv
// space. The space is only ever queried, but queries move a probe object, so
// a Level must not be shared between concurrently running simulations; each
// peer builds its own from the same CollisionData.
type Level struct {
	data    *leveldata.CollisionData
	space   *resolv.Space
	probe   *resolv.Object
	solids  map[*resolv.Object]leveldata.SolidRect
	originX float64
	height  float64
}

// NewLevel builds the collision space for data.
func NewLevel(data *leveldata.CollisionData) *Level {
	if data == nil {
		data = leveldata.Empty()
	}
	l := &Level{
		data:    data,
		solids:  make(map[*resolv.Object]leveldata.SolidRect, len(data.Solids)),
		originX: -data.Width / 2,
		height:  data.Height,
	}
	if len(data.Solids) == 0 {
		return l
	}

	l.space = resolv.NewSpace(
		int(math.Ceil(data.Width))*pxPerUnit, int(math.Ceil(data.Height))*pxPerUnit,
		pxPerUnit, pxPerUnit,
	)
	for _, r := range data.Solids {
		x, y, w, h := l.toSpace(aabb{r.MinX, r.MinY, r.MaxX, r.MaxY})
		obj := resolv.NewObject(x, y, w, h, tagSolid)
		obj.SetShape(resolv.NewRectangle(0, 0, w, h))
		l.space.Add(obj)
		l.solids[obj] = r
	}

	l.probe = resolv.NewObject(0, 0, pxPerUnit, pxPerUnit, tagProbe)
	l.space.Add(l.probe)
	return l
}

// Data returns the collision data the level was built from.
func (l *Level) Data() *leveldata.CollisionData {
	return l.data
}

// toSpace converts a world box into resolv's y-down pixel space.
func (l *Level) toSpace(b aabb) (x, y, w, h float64) {
	x = (b.minX - l.originX) * pxPerUnit
	y = (l.height - b.maxY) * pxPerUnit
	w = (b.maxX - b.minX) * pxPerUnit
	h = (b.maxY - b.minY) * pxPerUnit
	return x, y, w, h
}

// candidates returns the solids whose cells intersect area.
func (l *Level) candidates(area aabb) []leveldata.SolidRect {
	if l.space == nil {
		return nil
	}
	x, y, w, h := l.toSpace(area)
	l.probe.X = x - probeMarginPx
	l.probe.Y = y - probeMarginPx
	l.probe.W = w + 2*probeMarginPx
	l.probe.H = h + 2*probeMarginPx
	l.probe.Update()

	check := l.probe.Check(0, 0, tagSolid)
	if check == nil {
		return nil
	}
	objs := check.ObjectsByTags(tagSolid)
	out := make([]leveldata.SolidRect, 0, len(objs))
	for _, o := range objs {
		if r, ok := l.solids[o]; ok {
			out = append(out, r)
		}
	}
	return out
}

// moveX slides box horizontally by dx. When a wall stops it, the returned
// face is the x of that wall.
func (l *Level) moveX(box aabb, dx float64) (face float64, hit bool) {
	if dx == 0 {
		return 0, false
	}
	for _, s := range l.candidates(box.union(box.offset(dx, 0))) {
		if !box.overlapsY(s) {
			continue
		}
		if dx > 0 && s.MinX >= box.maxX-contactEps && s.MinX-box.maxX < dx {
			dx, face, hit = s.MinX-box.maxX, s.MinX, true
		}
		if dx < 0 && s.MaxX <= box.minX+contactEps && s.MaxX-box.minX > dx {
			dx, face, hit = s.MaxX-box.minX, s.MaxX, true
		}
	}
	return face, hit
}

// moveY moves box vertically by dy. When a floor or ceiling stops it, the
// returned surface is the y of that face.
func (l *Level) moveY(box aabb, dy float64) (surface float64, hit bool) {
	switch {
	case dy < 0:
		limit := box.minY + dy
		floor := math.Inf(-1)
		if limit <= 0 {
			floor = 0
		}
		for _, s := range l.candidates(box.union(box.offset(0, dy))) {
			if box.overlapsX(s) && s.MaxY <= box.minY+contactEps && s.MaxY >= limit {
				floor = math.Max(floor, s.MaxY)
			}
		}
		if !math.IsInf(floor, -1) {
			return floor, true
		}
	case dy > 0:
		limit := box.maxY + dy
		ceiling := math.Inf(1)
		for _, s := range l.candidates(box.union(box.offset(0, dy))) {
			if box.overlapsX(s) && s.MinY >= box.maxY-contactEps && s.MinY <= limit {
				ceiling = math.Min(ceiling, s.MinY)
			}
		}
		if !math.IsInf(ceiling, 1) {
			return ceiling, true
		}
	}
	return 0, false
}

// supported reports whether the bottom of box rests on the ground or on a solid.
func (l *Level) supported(box aabb) bool {
	if math.Abs(box.minY) <= contactEps {
		return true
	}
	for _, s := range l.candidates(box.offset(0, -0.5)) {
		if box.overlapsX(s) && math.Abs(s.MaxY-box.minY) <= contactEps {
			return true
		}
	}
	return false
}
