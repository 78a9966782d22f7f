package server

import (
	"net/http"
	"strings"

	"github.com/spf13/afero"
)

const indexFile = "/index.html"

// staticHandler serves the public directory, with index.html at "/".
// Directory listings are never exposed: a directory path answers 404
// unless it is "/" and index.html exists.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(afero.NewHttpFs(s.public).Dir("/"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeJSON(w, http.StatusMethodNotAllowed, jMap{"message": "Method not allowed."})
			return
		}
		if strings.HasSuffix(r.URL.Path, "/") && (r.URL.Path != "/" || !s.hasIndex()) {
			writeJSON(w, http.StatusNotFound, jMap{"message": "Not found."})
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) hasIndex() bool {
	fi, err := s.public.Stat(indexFile)
	return err == nil && !fi.IsDir()
}
