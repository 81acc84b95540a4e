package api

import (
	"net/http"
	"os"
	"strings"
)

// spaFileSystem serves the built front-end and falls back to index.html for
// client-side routes. Unknown /api paths stay 404.
type spaFileSystem struct {
	root http.FileSystem
}

// Open opens the named file, or index.html when it does not exist.
func (s *spaFileSystem) Open(name string) (http.File, error) {
	f, err := s.root.Open(name)
	if os.IsNotExist(err) && !strings.HasPrefix(name, "/api/") {
		return s.root.Open("/index.html")
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
