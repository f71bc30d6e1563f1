package api

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/tamil-captioner/internal/config"
	"github.com/snarg/tamil-captioner/internal/metrics"
	"github.com/snarg/tamil-captioner/internal/storage"
)

// ServerOptions wires the HTTP surface. History, Store and the health
// collaborators are optional.
type ServerOptions struct {
	Config  *config.Config
	Runner  Runner
	History JobHistory
	Store   storage.CaptionStore
	WebFS   fs.FS
	Health  HealthOptions
	Log     zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	cfg := opts.Config
	log := opts.Log

	pages, err := NewPagesHandler(opts.WebFS, opts.Runner, cfg.MaxUploadBytes(), log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(globalMiddleware(log)...)

	// HTML form stays open; the credential travels only in the form body.
	r.Get("/", pages.Index)
	r.Post("/caption", pages.Submit)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint — no auth
		r.Method(http.MethodGet, "/health", NewHealthHandler(opts.Health))

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			NewCaptionHandler(opts.Runner, cfg.MaxUploadBytes(), log).Routes(r)
			NewJobsHandler(opts.History, opts.Store, log).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log: log,
	}, nil
}

// globalMiddleware runs outermost first. Recoverer sits inside Logger so a
// panic is logged with the request's logger and id.
func globalMiddleware(log zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID,
		Logger(log),
		Recoverer,
		metrics.InstrumentHandler,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
