// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qrr/internal/api/handlers"
	"github.com/autobrr/qrr/internal/api/middleware"
	"github.com/autobrr/qrr/internal/cache"
	"github.com/autobrr/qrr/internal/config"
	"github.com/autobrr/qrr/internal/metrics"
	"github.com/autobrr/qrr/internal/session"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	session    *session.Session
	cache      *cache.Store
	remote     handlers.RemoteRules
	history    handlers.HistoryStore
	schedule   handlers.Schedule
	previewer  handlers.FeedPreviewer
	metrics    *metrics.Metrics
	listenAddr string
}

type Dependencies struct {
	Config     *config.AppConfig
	Version    string
	Session    *session.Session
	Cache      *cache.Store
	Remote     handlers.RemoteRules
	History    handlers.HistoryStore
	SubsPlease handlers.Schedule
	Previewer  handlers.FeedPreviewer
	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Metrics
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:    log.Logger.With().Str("module", "api").Logger(),
		config:    deps.Config,
		version:   deps.Version,
		session:   deps.Session,
		cache:     deps.Cache,
		remote:    deps.Remote,
		history:   deps.History,
		schedule:  deps.SubsPlease,
		previewer: deps.Previewer,
		metrics:   deps.Metrics,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	s.listenAddr = listener.Addr().String()

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%sapi/titles", host, s.baseURL())

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) baseURL() string {
	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler()
	titlesHandler := handlers.NewTitlesHandler(s.session, s.cache, s.remote, s.metrics)
	rulesHandler := handlers.NewRulesHandler(s.session, s.cache, s.remote, s.history, s.metrics)
	lookupHandler := handlers.NewLookupHandler(s.session, s.schedule, s.previewer, s.metrics)

	apiRouter := chi.NewRouter()
	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Route("/titles", func(r chi.Router) {
			r.Get("/", titlesHandler.List)
			r.Post("/import", titlesHandler.Import)
			r.Post("/fetch", titlesHandler.Fetch)
			r.Post("/prefix", titlesHandler.ApplyPrefix)
			r.Post("/sanitize", titlesHandler.SanitizeRules)
			r.Get("/{category}/{index}", titlesHandler.Get)
			r.Patch("/{category}/{index}", titlesHandler.Update)
			r.Delete("/{category}/{index}", titlesHandler.Delete)
		})

		r.Route("/trash", func(r chi.Router) {
			r.Get("/", titlesHandler.Trash)
			r.Delete("/", titlesHandler.Purge)
			r.Post("/{id}/restore", titlesHandler.Restore)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/export", rulesHandler.Export)
			r.Get("/check", rulesHandler.Check)
			r.Post("/push", rulesHandler.Push)
		})

		r.Get("/history", rulesHandler.History)
		r.Get("/history/{id}", rulesHandler.HistoryRun)
		r.Post("/sanitize", rulesHandler.Sanitize)

		r.Get("/subsplease", lookupHandler.SubsPleaseTitles)
		r.Get("/subsplease/match", lookupHandler.SubsPleaseMatch)
		r.Post("/preview", lookupHandler.Preview)
	})

	r.Get("/health", healthHandler.HandleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Mount(s.baseURL()+"api", apiRouter)

	return r, nil
}
