package webui

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler for the web pages in dir. When dir is
// empty or missing the embedded fallback pages are served.
func Handler(dir string) http.Handler {
	var fsys fs.FS
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fsys = os.DirFS(dir)
		}
	}
	if fsys == nil {
		sub, err := fs.Sub(content, "web")
		if err != nil {
			panic(fmt.Sprintf("webui: failed to load embedded pages: %v", err))
		}
		fsys = sub
	}

	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pages change with every UI update and carry no content hash.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			fileServer.ServeHTTP(w, r)
			return
		}
		if exists(fsys, name) {
			fileServer.ServeHTTP(w, r)
			return
		}
		if path.Ext(name) == "" && exists(fsys, name+".html") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/" + name + ".html"
			fileServer.ServeHTTP(w, r2)
			return
		}
		http.NotFound(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
