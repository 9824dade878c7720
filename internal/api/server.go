package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/juicer/internal/config"
	"github.com/snarg/juicer/internal/metrics"
)

type Server struct {
	http   *http.Server
	cancel context.CancelFunc
	log    zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	// Background work started by handlers (model downloads) outlives the
	// request but not the server.
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(ctx, cfg, deps, version, startTime, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		cancel: cancel,
		log:    log,
	}
}

// NewRouter builds the full route tree.
func NewRouter(ctx context.Context, cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Logger(log))
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Health and metrics, no auth
	health := NewHealthHandler(deps, version, startTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		NewTranscriptionsHandler(deps.Queue, deps.Progress, cfg.MaxUploadMB<<20, cfg.RateLimitRPS, cfg.RateLimitBurst, log).Routes(r)
		NewQueueHandler(deps.Queue).Routes(r)
		NewProvidersHandler(deps.Providers, deps.Credentials, deps.Health).Routes(r)
		NewCacheHandler(deps.Cache).Routes(r)
		NewHistoryHandler(deps.History).Routes(r)
		NewSettingsHandler(deps.Offline, deps.Model).Routes(r)
		if deps.Model != nil {
			NewModelHandler(ctx, deps.Model, log).Routes(r)
		}
		if deps.Events != nil {
			NewEventsHandler(deps.Events).Routes(r)
		}
	})
	return r
}

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
	s.cancel()
	return s.http.Shutdown(ctx)
}
