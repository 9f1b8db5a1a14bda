package leveldata

import (
	"testing"
	"testing/fstest"
)

const testMap = `<?xml version="1.0" encoding="UTF-8"?>
<map version="1.10" tiledversion="1.10.2" orientation="orthogonal" renderorder="right-down" width="8" height="4" tilewidth="16" tileheight="16" infinite="0" nextlayerid="3" nextobjectid="3">
 <tileset firstgid="1" name="blocks" tilewidth="16" tileheight="16" tilecount="1" columns="1">
  <image source="blocks.png" width="16" height="16"/>
 </tileset>
 <layer id="1" name="wg-tiles" width="8" height="4">
  <data encoding="csv">
0,0,0,0,0,0,0,0,
0,0,0,0,0,0,0,0,
0,0,0,0,0,1,1,0,
1,0,0,0,0,1,1,0
</data>
 </layer>
 <objectgroup id="2" name="PlayerSpawn">
  <object id="1" x="48" y="16">
   <properties>
    <property name="spawnIndex" type="int" value="1"/>
   </properties>
  </object>
  <object id="2" x="16" y="16">
   <properties>
    <property name="spawnIndex" type="int" value="0"/>
   </properties>
  </object>
 </objectgroup>
</map>
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"levels/small.tmx": {Data: []byte(testMap)},
		"levels/other.tmx": {Data: []byte(testMap)},
	}
}

func TestLoadCollisionDataWorldUnits(t *testing.T) {
	data, err := LoadCollisionData(testFS(), "levels/small.tmx")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if data.Width != 8 || data.Height != 4 {
		t.Fatalf("expected 8x4 map, got %vx%v", data.Width, data.Height)
	}
	if len(data.Solids) != 5 {
		t.Fatalf("expected 5 solids, got %d", len(data.Solids))
	}

	// Bottom-left tile sits on the ground plane at the left edge.
	want := SolidRect{MinX: -4, MinY: 0, MaxX: -3, MaxY: 1}
	found := false
	for _, s := range data.Solids {
		if s == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected solid %+v in %+v", want, data.Solids)
	}

	if len(data.SpawnPoints) != 2 {
		t.Fatalf("expected 2 spawn points, got %d", len(data.SpawnPoints))
	}
	first := data.SpawnPoints[0]
	if first.X != -3 || first.Y != 3 || first.Index != 0 {
		t.Fatalf("expected first spawn (-3, 3) index 0, got %+v", first)
	}
}

func TestLoadAllLevelsSortsNames(t *testing.T) {
	levels, names, err := LoadAllLevels(testFS(), "levels")
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(names) != 2 || names[0] != "other" || names[1] != "small" {
		t.Fatalf("expected [other small], got %v", names)
	}
	if levels["small"] == nil {
		t.Fatalf("expected level small to be loaded")
	}
}

func TestLoadAllLevelsEmptyDir(t *testing.T) {
	if _, _, err := LoadAllLevels(fstest.MapFS{}, "levels"); err == nil {
		t.Fatalf("expected error for a directory without maps")
	}
}
