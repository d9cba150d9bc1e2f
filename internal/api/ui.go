// SPDX-License-Identifier: MIT

package api

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
)

//go:embed ui
var uiFS embed.FS

// uiHandler serves the embedded control page. Fingerprinted assets cache
// forever; documents revalidate so a daemon upgrade is picked up on the
// next load.
func uiHandler() http.Handler {
	sub, err := fs.Sub(uiFS, "ui")
	if err != nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "UI not available", http.StatusInternalServerError)
		})
	}
	files := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cacheForever(r.URL.Path) {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}
		files.ServeHTTP(w, r)
	})
}

// cacheForever reports whether the path names a fingerprinted asset rather
// than a document that must stay fresh.
func cacheForever(p string) bool {
	ext := path.Ext(p)
	return ext != "" && ext != ".html"
}
