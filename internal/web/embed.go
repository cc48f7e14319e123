// Package web embeds the live session board served at the root path.
package web

import (
	"embed"
	"io/fs"
)

const indexFile = "index.html"

//go:embed static
var assets embed.FS

// FS returns the embedded assets rooted at the static directory.
func FS() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		// fs.Sub only fails for an invalid path, and "static" is fixed.
		panic(err)
	}
	return sub
}

// IndexHTML returns the board page.
func IndexHTML() ([]byte, error) {
	return fs.ReadFile(FS(), indexFile)
}

// Files lists every embedded file, for debug logging.
func Files() []string {
	var files []string
	_ = fs.WalkDir(FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files
}
