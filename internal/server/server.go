package server

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hapticdef/hapticdef/internal/analysis"
	"github.com/hapticdef/hapticdef/internal/database"
	"github.com/hapticdef/hapticdef/internal/docs"
	"github.com/hapticdef/hapticdef/internal/gateway"
	"github.com/hapticdef/hapticdef/internal/playback"
	"github.com/hapticdef/hapticdef/internal/player"
	"github.com/hapticdef/hapticdef/internal/ratelimit"
	"github.com/hapticdef/hapticdef/internal/sink"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB               database.DBTX
	Pinger           Pinger
	Storage          analysis.ObjectStorage
	Detector         analysis.CueDetector
	Hub              *sink.Hub
	WebFS            fs.FS
	BaseURL          string
	MaxUploadBytes   int64
	MaxFrames        int
	AllowedOrigins   []string
	SeekJumpSeconds  float64
	S3PublicEndpoint string
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	hub             *sink.Hub
	analysisHandler *analysis.Handler
	playerHandler   *player.Handler
	page            *pageServer
	clock           playback.Clock
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.S3PublicEndpoint,
	}))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{gateway.AnalysisIDHeader},
		}).Handler)
	}

	hub := cfg.Hub
	if hub == nil {
		hub = sink.NewHub()
	}

	s := &Server{
		router: r,
		pinger: cfg.Pinger,
		hub:    hub,
		clock:  playback.NewClock(cfg.SeekJumpSeconds),
	}

	var source player.AnalysisSource
	if cfg.DB != nil {
		s.analysisHandler = analysis.NewHandler(cfg.DB, cfg.Storage, cfg.Detector, cfg.MaxUploadBytes, cfg.MaxFrames)
		source = s.analysisHandler.Repository()
	}
	s.playerHandler = player.NewHandler(hub, source, s.clock)

	if cfg.WebFS != nil {
		s.page = newPageServer(cfg.WebFS, s.clock)
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Route("/api/docs", docs.Routes)
	s.router.Get("/ws", s.hub.ServeHTTP)
	s.router.Get("/ws/player", s.playerHandler.ServeHTTP)

	if s.analysisHandler != nil {
		uploadLimiter := ratelimit.NewLimiter(0.2, 5)
		s.router.With(uploadLimiter.Middleware).Post("/upload", s.analysisHandler.Upload)
		s.router.Route("/api/analyses/{id}", func(r chi.Router) {
			r.Get("/", s.analysisHandler.Get)
			r.With(uploadLimiter.Middleware).Post("/reanalyze", s.analysisHandler.Reanalyze)
		})
	}

	if s.page != nil {
		s.router.NotFound(s.page.ServeHTTP)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = fmt.Fprintf(w, `{"status":"ok","devices":%d}`, s.hub.Clients())
}
