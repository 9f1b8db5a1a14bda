package core

import (
	"fmt"
	"io/fs"

	"github.com/automoto/cubes-mp/shared/leveldata"
	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/go-gl/mathgl/mgl64"
)

// ServerLevel is the server's own collision level and its spawn points.
type ServerLevel struct {
	Collision   *movement.Level
	SpawnPoints []leveldata.SpawnPoint
	next        int
}

// NewServerLevel builds the server's collision level from parsed data. A nil
// data is the bare ground plane.
func NewServerLevel(data *leveldata.CollisionData) *ServerLevel {
	if data == nil {
		data = leveldata.Empty()
	}
	return &ServerLevel{
		Collision:   movement.NewLevel(data),
		SpawnPoints: data.SpawnPoints,
	}
}

// NextSpawn returns the next spawn point in rotation with the body standing
// on it, or fallback when the level defines none.
func (l *ServerLevel) NextSpawn(fallback mgl64.Vec3, tuning movement.Tuning) mgl64.Vec3 {
	if len(l.SpawnPoints) == 0 {
		return fallback
	}
	sp := l.SpawnPoints[l.next%len(l.SpawnPoints)]
	l.next++
	return mgl64.Vec3{sp.X, sp.Y + tuning.FloatHeight, 0}
}

// LoadLevel loads the named .tmx level from levelsDir within fsys. An empty
// name selects the first level in name order.
func LoadLevel(fsys fs.FS, levelsDir, name string) (*leveldata.CollisionData, error) {
	levels, names, err := leveldata.LoadAllLevels(fsys, levelsDir)
	if err != nil {
		return nil, fmt.Errorf("load all levels: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no levels in %s", levelsDir)
	}
	if name == "" {
		name = names[0]
	}
	data, ok := levels[name]
	if !ok {
		return nil, fmt.Errorf("level %q not found, have %v", name, names)
	}
	return data, nil
}
