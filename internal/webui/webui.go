// Package webui embeds the static files for the runelm playground page.
package webui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFS embed.FS

// StaticFS returns the embedded static files rooted at static/.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// The embed path is fixed at compile time.
		panic(err)
	}
	return http.FS(sub)
}
