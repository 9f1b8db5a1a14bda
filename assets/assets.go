// Package assets embeds the level maps shipped with the binaries.
package assets

import (
	"embed"
	"io/fs"
)

var (
	//go:embed all:levels
	assetFS embed.FS
)

// LevelsDir is the directory inside LevelFS that holds the .tmx maps.
const LevelsDir = "levels"

// LevelFS returns the embedded level file system.
func LevelFS() fs.FS {
	return assetFS
}
