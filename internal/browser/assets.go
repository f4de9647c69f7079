package browser

import (
	"embed"
	"io/fs"
)

// bridgeJS is installed in every watched page before its own scripts run.
//
//go:embed assets/bridge.js
var bridgeJS string

//go:embed assets/audience.html assets/variables.html
var windowFiles embed.FS

// windowAssets returns the confirmation window pages rooted at "/".
func windowAssets() fs.FS {
	sub, err := fs.Sub(windowFiles, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}
