package panel

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

//go:embed web/*
var embedded embed.FS

// Handler serves the status page from dir, or from the embedded copy when
// dir is empty or not a directory. Paths that name no asset get
// index.html.
func Handler(dir string) http.Handler {
	assets := source(dir)
	files := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(r.URL.Path, "/")
		if name != "" {
			if _, err := fs.Stat(assets, name); errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
				r = r.Clone(r.Context())
				r.URL.Path = "/"
			}
		}
		files.ServeHTTP(w, r)
	})
}

func source(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(embedded, "web")
	if err != nil {
		panic("panel: embedded assets missing: " + err.Error())
	}
	return web
}
