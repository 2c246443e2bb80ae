package server

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hapticdef/hapticdef/internal/httputil"
	"github.com/hapticdef/hapticdef/internal/playback"
)

const tickIntervalMs = 250

type pageData struct {
	Nonce           string
	SeekJumpSeconds float64
	TickIntervalMs  int
}

// pageServer serves the embedded player. index.html is a template so the
// inline bootstrap script carries the request's CSP nonce; every other file
// is served as is and unknown paths fall back to the player.
type pageServer struct {
	fileServer http.Handler
	fileSystem fs.FS
	index      *template.Template
	clock      playback.Clock
}

func newPageServer(fsys fs.FS, clock playback.Clock) *pageServer {
	index, err := template.ParseFS(fsys, "index.html")
	if err != nil {
		slog.Error("page: failed to parse index.html", "error", err)
	}
	return &pageServer{
		fileServer: http.FileServer(http.FS(fsys)),
		fileSystem: fsys,
		index:      index,
		clock:      clock,
	}
}

func (s *pageServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path != "" && path != "index.html" {
		if info, err := fs.Stat(s.fileSystem, path); err == nil && !info.IsDir() {
			s.fileServer.ServeHTTP(w, r)
			return
		}
	}
	s.serveIndex(w, r)
}

func (s *pageServer) serveIndex(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	err := s.index.Execute(w, pageData{
		Nonce:           string(httputil.NonceFrom(r.Context())),
		SeekJumpSeconds: s.clock.JumpThreshold,
		TickIntervalMs:  tickIntervalMs,
	})
	if err != nil {
		slog.Error("page: failed to render index", "error", err)
	}
}
