// Package leveldata provides TMX level parsing shared between client and server.
// It has no dependencies on donburi or resolv, pure data only.
//
// One tile is one world unit. A map is centred on x = 0 and its bottom row
// rests on the ground plane y = 0; TMX rows grow downward, world y grows up.
// Solids extend infinitely along z.
package leveldata

// CollisionData holds all collision-relevant data parsed from a TMX level file.
type CollisionData struct {
	Solids      []SolidRect
	SpawnPoints []SpawnPoint
	Width       float64 // world units
	Height      float64 // world units
}

// SolidRect is a solid tile in world units.
type SolidRect struct {
	MinX, MinY, MaxX, MaxY float64
}

// SpawnPoint represents a player spawn location in world units.
type SpawnPoint struct {
	X, Y  float64
	Index int
}

// Empty returns a level with no solids and no spawn points: only the ground plane.
func Empty() *CollisionData {
	return &CollisionData{}
}
