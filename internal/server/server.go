// Package server exposes the file registry over HTTP for browser frontends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dfs-go/internal/dfs"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 100 << 20

const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server serves the JSON API of one session's registry.
type Server struct {
	session   *dfs.Session
	registry  *dfs.Registry
	logger    dfs.Logger
	maxUpload int64
	router    chi.Router
}

// New creates a Server with its routes and middleware installed.
func New(session *dfs.Session, registry *dfs.Registry, logger dfs.Logger, opts Options) *Server {
	s := &Server{
		session:   session,
		registry:  registry,
		logger:    logger,
		maxUpload: opts.MaxUploadBytes,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.getSession)
		r.Post("/session/connect", s.connect)
		r.Post("/session/disconnect", s.disconnect)

		r.Post("/refresh", s.refresh)
		r.Get("/shared", s.listShared)

		r.Route("/files", func(r chi.Router) {
			r.Get("/", s.listOwned)
			r.Post("/", s.upload)
			r.Post("/register", s.register)
			r.Get("/{name}/history", s.history)
			r.Delete("/{name}/versions/{version}", s.deleteVersion)
		})

		r.Route("/content/{cid}", func(r chi.Router) {
			r.Get("/", s.download)
			r.Get("/preview", s.preview)
			r.Post("/share", s.share)
		})
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
